package services

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	reqIDKey    = "reqId"
	maxReqIDLen = 64
	maxUALen    = 200
)

// quietPaths are polled by the UI and probes; they only log at debug.
var quietPaths = map[string]bool{
	"/health":     true,
	"/api/status": true,
}

// RequestLogger tags every request with an id (reusing a sane inbound
// X-Request-Id) and logs one line per request at a level that follows the status.
func RequestLogger() fiber.Handler {
	base := log.With("component", "http")

	return func(c *fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if reqID == "" || len(reqID) > maxReqIDLen {
			reqID = uuid.NewString()
		}
		c.Locals(reqIDKey, reqID)
		c.Set(fiber.HeaderXRequestID, reqID)

		start := time.Now()
		path := strings.Clone(c.Path())
		method := c.Method()

		err := c.Next()

		status := c.Response().StatusCode()
		kv := []any{"reqId", reqID, "method", method, "path", path, "status", status, "dur", time.Since(start).String()}

		switch {
		case err != nil:
			base.Error("request failed", append(kv, "err", err)...)
		case status >= fiber.StatusInternalServerError:
			base.Error("request completed", kv...)
		case status >= fiber.StatusBadRequest:
			base.Warn("request completed", append(kv, "ip", c.IP(), "ua", userAgent(c))...)
		case quietPaths[path]:
			base.Debug("request completed", kv...)
		default:
			base.Info("request completed", kv...)
		}
		return err
	}
}

func userAgent(c *fiber.Ctx) string {
	ua := strings.TrimSpace(string(c.Context().UserAgent()))
	if len(ua) > maxUALen {
		ua = ua[:maxUALen]
	}
	return ua
}

func ReqID(c *fiber.Ctx) string {
	if v, ok := c.Locals(reqIDKey).(string); ok {
		return v
	}
	return ""
}

func HttpLogger(action string, c *fiber.Ctx) *log.Logger {
	return log.With(
		"component", "api",
		"action", action,
		"reqId", ReqID(c),
	)
}
