package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/fylle/workflow-mcp/internal/server/auth"
	"github.com/fylle/workflow-mcp/internal/shared"
	"github.com/fylle/workflow-mcp/internal/shared/headers"
	"github.com/fylle/workflow-mcp/internal/workflow/domain"
	"github.com/fylle/workflow-mcp/pkg/config"
)

const (
	HeaderDeprecationWarning = "X-API-Deprecation-Warning"
	HeaderMigrationGuide     = "X-API-Migration-Guide"
	HeaderPartialResult      = "X-Partial-Result"
	HeaderReplayed           = "Idempotent-Replayed"

	deprecationWarning = "context parameter is deprecated, use card_ids instead"
)

// WorkflowExecutor runs one workflow request on behalf of a tenant.
type WorkflowExecutor interface {
	Execute(ctx context.Context, req domain.Request, hdrs map[string]string) (*domain.ExecutionResult, error)
}

// CostReloader re-reads tool cost overrides.
type CostReloader interface {
	Reload(ctx context.Context) (int, error)
}

// ProblemDetails is an RFC 7807 error body.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// HTTPAPI serves the REST surface of the workflow service.
type HTTPAPI struct {
	executor      WorkflowExecutor
	reloader      CostReloader
	catalog       domain.Catalog
	authenticator auth.Authenticator
	deprecation   config.DeprecationConfig
	logger        *slog.Logger
}

func NewHTTPAPI(executor WorkflowExecutor, reloader CostReloader, catalog domain.Catalog, authenticator auth.Authenticator, deprecation config.DeprecationConfig, logger *slog.Logger) *HTTPAPI {
	return &HTTPAPI{
		executor:      executor,
		reloader:      reloader,
		catalog:       catalog,
		authenticator: authenticator,
		deprecation:   deprecation,
		logger:        logger,
	}
}

// NewEcho builds the router with tracing, CORS and problem-details errors.
func NewEcho(cfg config.HTTPConfig, api *HTTPAPI, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = problemHandler(logger)

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("workflow-mcp"))
	e.Use(CORSMiddleware(cfg.CORS))
	e.Use(requestLogger(logger))

	api.Register(e)
	return e
}

// Register mounts the API routes on e.
func (a *HTTPAPI) Register(e *echo.Echo) {
	e.GET("/healthz", a.Health)
	e.POST("/api/v1/costs/reload", a.ReloadCosts)

	v1 := e.Group("/api/v1", a.authenticate)
	v1.GET("/workflows", a.ListWorkflows)
	v1.POST("/workflow/execute", a.ExecuteWorkflow)
}

func (a *HTTPAPI) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		tenantCtx, err := a.authenticator.Authenticate(req.Context(), headers.FromHTTP(req.Header))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		c.SetRequest(req.WithContext(shared.WithTenantContext(req.Context(), tenantCtx)))
		return next(c)
	}
}

func (a *HTTPAPI) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListWorkflows returns the known workflow types
// (GET /api/v1/workflows)
func (a *HTTPAPI) ListWorkflows(c echo.Context) error {
	return c.JSON(http.StatusOK, a.catalog.List())
}

// ExecuteWorkflow runs a workflow
// (POST /api/v1/workflow/execute)
func (a *HTTPAPI) ExecuteWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	tenantCtx := shared.MustGetTenantContext(ctx)
	result, err := a.executor.Execute(ctx, req, tenantCtx.Headers())
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			a.logger.Error("Workflow execution failed",
				"workflow_type", req.WorkflowType,
				tenantCtx.LogAttr(),
				"status", status,
				"error", err)
		}
		return echo.NewHTTPError(status, err.Error()).SetInternal(err)
	}

	a.signal(c.Response().Header(), result.Signals)
	return c.JSON(http.StatusOK, result)
}

// ReloadCosts re-reads tool cost overrides
// (POST /api/v1/costs/reload)
func (a *HTTPAPI) ReloadCosts(c echo.Context) error {
	n, err := a.reloader.Reload(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"overrides": n})
}

func (a *HTTPAPI) signal(h http.Header, s domain.Signals) {
	if s.LegacyContextUsed {
		h.Set(HeaderDeprecationWarning, deprecationWarning)
		if a.deprecation.MigrationGuideURL != "" {
			h.Set(HeaderMigrationGuide, a.deprecation.MigrationGuideURL)
		}
	}
	if s.PartialResult {
		h.Set(HeaderPartialResult, fmt.Sprintf("Retrieved %d/%d cards", s.RequestedCount-s.MissingCount, s.RequestedCount))
	}
	if s.Replayed {
		h.Set(HeaderReplayed, "true")
	}
}

func statusFor(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, auth.ErrMissingTenant):
		return http.StatusUnauthorized
	case errors.As(err, &ve) && ve.Field == headers.TenantID:
		return http.StatusUnauthorized
	case ve != nil:
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrReplayPending):
		return http.StatusConflict
	case domain.IsContextUnavailable(err):
		return http.StatusBadGateway
	case domain.IsDeadlineExceeded(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func problemHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		detail := "internal error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			detail = fmt.Sprint(he.Message)
		} else {
			logger.Error("Unhandled HTTP error", "path", c.Path(), "error", err)
		}

		problem := ProblemDetails{
			Type:     "about:blank",
			Title:    http.StatusText(status),
			Status:   status,
			Detail:   detail,
			Instance: c.Request().URL.Path,
			TraceID:  c.Request().Header.Get(headers.TraceID),
		}
		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		if err := c.JSON(status, problem); err != nil {
			logger.Error("Failed to write problem details", "error", err)
		}
	}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			req := c.Request()
			logger.Debug("HTTP request",
				"method", req.Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"tenant_id", req.Header.Get(headers.TenantID),
				"trace_id", req.Header.Get(headers.TraceID))
			return nil
		}
	}
}
