package server_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/labstack/echo/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fylle/workflow-mcp/internal/server"
	"github.com/fylle/workflow-mcp/pkg/config"
)

var _ = Describe("CORSMiddleware", func() {
	var cfg config.CORSConfig

	serve := func(method, origin string, preflight bool) *httptest.ResponseRecorder {
		e := echo.New()
		e.Use(server.CORSMiddleware(cfg))
		e.Any("/api/v1/workflows/execute", func(c echo.Context) error {
			return c.String(http.StatusOK, "ok")
		})

		req := httptest.NewRequest(method, "/api/v1/workflows/execute", nil)
		if origin != "" {
			req.Header.Set(echo.HeaderOrigin, origin)
		}
		if preflight {
			req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		cfg = config.CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"https://app.example.com", "*.tenants.example.com"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "X-Tenant-ID"},
			MaxAge:         300,
		}
	})

	It("does nothing when disabled", func() {
		cfg.Enabled = false
		rec := serve(http.MethodPost, "https://app.example.com", false)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get(echo.HeaderAccessControlAllowOrigin)).To(BeEmpty())
	})

	It("allows any origin when none are configured", func() {
		cfg.AllowedOrigins = nil
		rec := serve(http.MethodPost, "https://anywhere.test", false)
		Expect(rec.Header().Get(echo.HeaderAccessControlAllowOrigin)).To(Equal("*"))
	})

	It("echoes an allowed origin and exposes the workflow signal headers", func() {
		rec := serve(http.MethodPost, "https://app.example.com", false)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get(echo.HeaderAccessControlAllowOrigin)).To(Equal("https://app.example.com"))
		Expect(rec.Header().Get(echo.HeaderVary)).To(ContainSubstring(echo.HeaderOrigin))

		exposed := rec.Header().Get(echo.HeaderAccessControlExposeHeaders)
		Expect(exposed).To(ContainSubstring(server.HeaderDeprecationWarning))
		Expect(exposed).To(ContainSubstring(server.HeaderPartialResult))
		Expect(exposed).To(ContainSubstring(server.HeaderReplayed))
	})

	It("passes simple requests from other origins through without CORS headers", func() {
		rec := serve(http.MethodPost, "https://evil.test", false)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get(echo.HeaderAccessControlAllowOrigin)).To(BeEmpty())
		Expect(rec.Header().Get(echo.HeaderAccessControlExposeHeaders)).To(BeEmpty())
	})

	It("answers preflight requests", func() {
		rec := serve(http.MethodOptions, "https://app.example.com", true)
		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get(echo.HeaderAccessControlAllowMethods)).To(Equal("GET, POST"))
		Expect(rec.Header().Get(echo.HeaderAccessControlAllowHeaders)).To(Equal("Content-Type, X-Tenant-ID"))
		Expect(rec.Header().Get(echo.HeaderAccessControlMaxAge)).To(Equal("300"))
	})

	It("forbids preflight requests from other origins", func() {
		rec := serve(http.MethodOptions, "https://evil.test", true)
		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})

	DescribeTable("matches subdomain wildcards",
		func(origin string, allowed bool) {
			rec := serve(http.MethodOptions, origin, true)
			if allowed {
				Expect(rec.Code).To(Equal(http.StatusNoContent))
				Expect(rec.Header().Get(echo.HeaderAccessControlAllowOrigin)).To(Equal(origin))
			} else {
				Expect(rec.Code).To(Equal(http.StatusForbidden))
			}
		},
		Entry("subdomain", "https://acme.tenants.example.com", true),
		Entry("nested subdomain", "https://eu.acme.tenants.example.com", true),
		Entry("bare domain", "https://tenants.example.com", false),
		Entry("lookalike suffix", "https://eviltenants.example.com", false),
	)
})
