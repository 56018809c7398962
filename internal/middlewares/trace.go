package middlewares

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/spf13/cast"
)

const (
	// HeaderTraceID carries the trace ID between client and server.
	HeaderTraceID = "X-Trace-Id"

	traceIDKey = "traceId"
)

// WithTraceID adopts the caller's trace ID or mints one, stores it in request
// locals and echoes it on the response.
func WithTraceID() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		traceID := ctx.Get(HeaderTraceID)
		if traceID == "" || len(traceID) > 64 {
			traceID = uuid.NewString()
		}
		ctx.Locals(traceIDKey, traceID)
		ctx.Set(HeaderTraceID, traceID)
		return ctx.Next()
	}
}

// TraceID returns the request's trace ID, empty if the middleware did not run.
func TraceID(ctx *fiber.Ctx) string {
	return cast.ToString(ctx.Locals(traceIDKey))
}
