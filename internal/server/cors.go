package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fylle/workflow-mcp/pkg/config"
)

// exposedHeaders are the response headers browsers may read: the workflow
// signals set by the execute endpoint.
var exposedHeaders = strings.Join([]string{
	HeaderDeprecationWarning,
	HeaderMigrationGuide,
	HeaderPartialResult,
	HeaderReplayed,
}, ", ")

// CORSMiddleware applies the configured CORS policy. Preflight requests are
// answered directly; a preflight from a disallowed origin gets 403.
func CORSMiddleware(cfg config.CORSConfig) echo.MiddlewareFunc {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	allowedHeaders := strings.Join(cfg.AllowedHeaders, ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(cfg.MaxAge)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Enabled {
				return next(c)
			}

			req, h := c.Request(), c.Response().Header()
			origin := req.Header.Get(echo.HeaderOrigin)
			preflight := req.Method == http.MethodOptions && req.Header.Get(echo.HeaderAccessControlRequestMethod) != ""

			allowed := true
			switch {
			case len(cfg.AllowedOrigins) == 0:
				h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			case origin != "" && isOriginAllowed(origin, cfg.AllowedOrigins):
				h.Set(echo.HeaderAccessControlAllowOrigin, origin)
				h.Add(echo.HeaderVary, echo.HeaderOrigin)
			default:
				allowed = false
			}

			if !preflight {
				if allowed {
					h.Set(echo.HeaderAccessControlExposeHeaders, exposedHeaders)
				}
				return next(c)
			}

			if !allowed {
				return c.NoContent(http.StatusForbidden)
			}
			if methods != "" {
				h.Set(echo.HeaderAccessControlAllowMethods, methods)
			}
			if allowedHeaders != "" {
				h.Set(echo.HeaderAccessControlAllowHeaders, allowedHeaders)
			}
			if maxAge != "" {
				h.Set(echo.HeaderAccessControlMaxAge, maxAge)
			}
			return c.NoContent(http.StatusNoContent)
		}
	}
}

// isOriginAllowed accepts exact matches, "*", and subdomain wildcards such as
// "*.example.com" (which does not match example.com itself).
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	for _, allowed := range allowedOrigins {
		switch {
		case allowed == "*", allowed == origin:
			return true
		case strings.HasPrefix(allowed, "*."):
			if strings.HasSuffix(host, allowed[1:]) {
				return true
			}
		}
	}
	return false
}
