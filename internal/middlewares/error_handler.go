package middlewares

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sikulab/secauth/internal/errcode"
)

type errorEnvelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	TraceID   string `json:"traceId,omitempty"`
}

// ErrorHandler renders every error escaping a handler as the uniform response
// envelope. Errors outside the code table are logged and collapsed to a
// generic system error so internals never leak to clients.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	var coded *errcode.Error
	if !errors.As(err, &coded) {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			switch fiberErr.Code {
			case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
				coded = errcode.ErrResourceNotFound
			case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest:
				coded = errcode.ErrInvalidParameter
			default:
				slog.Error("unhandled transport error", "path", ctx.Path(), "status", fiberErr.Code, "error", err)
				coded = errcode.ErrSystem
			}
		} else {
			slog.Error("unhandled error", "path", ctx.Path(), "error", err)
			coded = errcode.ErrSystem
		}
	}
	return ctx.Status(errcode.HTTPStatus(coded.Code)).JSON(errorEnvelope{
		Code:      coded.Code,
		Message:   coded.Message,
		Timestamp: time.Now().UnixMilli(),
		TraceID:   TraceID(ctx),
	})
}
