// Package httputil holds small fiber middleware shared by the admin HTTP
// surface (C19). Ported from fiber/v2 to fiber/v3, since every other HTTP
// surface in this repository is v3.
package httputil

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// RequestLogger returns Fiber middleware that logs every request through
// the provided zerolog logger. Register it after the requestid middleware
// so the request ID is available in Locals.
func RequestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		err := c.Next()

		status := c.Response().StatusCode()
		event := levelForStatus(logger, status)

		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			event.Str("request_id", rid)
		}

		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Str("latency", strings.ReplaceAll(time.Since(c.Context().Time()).String(), "µ", "u")).
			Str("ip", c.IP()).
			Msg("request")

		return err
	}
}

// levelForStatus selects the log level by HTTP status: Error for 5xx,
// Warn for 4xx, Info otherwise.
func levelForStatus(logger zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return logger.Error()
	case status >= 400:
		return logger.Warn()
	default:
		return logger.Info()
	}
}
