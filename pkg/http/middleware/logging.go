package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "TransitWatch/pkg/logger"
)

// RequestLogging logs HTTP requests at debug level; server errors at error level.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			err := next(c)

			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", res.Status),
				applogger.Duration("latency", time.Since(start)),
			}
			if res.Status >= 500 {
				l.Error("HTTP request", fields...)
			} else {
				l.Debug("HTTP request", fields...)
			}

			return err
		}
	}
}
