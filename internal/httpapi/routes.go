package httpapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// RegisterRoutes registers every route on e.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/api/health", h.HandleHealth)

	cells := e.Group("/api/cells")
	cells.POST("/:x/:y/toggle", h.HandleToggle)
	cells.PUT("/:x/:y", h.HandlePlace)
	cells.POST("/:x/:y/items", h.HandleSpawn)

	grid := e.Group("/api/grid")
	grid.GET("", h.HandleGrid)
	grid.GET("/ws", h.HandleGridStream)

	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}
}

// NewServer returns an echo instance with recovery, request-scoped logging
// and every route registered.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(h.log)
	e.Use(middleware.Recover())
	e.Use(requestLogger(h.log))
	RegisterRoutes(e, h)
	return e
}

// requestLogger attaches a request ID, taken from X-Request-ID when present,
// and a request logger to every request context.
func requestLogger(base logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()
			if id := req.Header.Get(requestIDHeader); id != "" {
				ctx = logging.ContextWithRequestID(ctx, id)
			}
			ctx, reqLog := logging.WithRequestLogger(ctx, base.With(
				logging.String("method", req.Method),
				logging.String("path", c.Path()),
			))
			ctx = logging.ContextWithLogger(ctx, reqLog)
			c.SetRequest(req.WithContext(ctx))
			c.Response().Header().Set(requestIDHeader, logging.RequestIDFromContext(ctx))

			err := next(c)
			reqLog.Debug(ctx, "request handled", logging.Int("status", c.Response().Status))
			return err
		}
	}
}
