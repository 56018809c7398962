package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sikulab/secauth/internal/errcode"
	"github.com/sikulab/secauth/internal/middlewares"
)

// APIResponse is the uniform response envelope. Code 200 means success;
// anything else is a taxonomy code and Data is absent.
type APIResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
	TraceID   string `json:"traceId,omitempty"`
}

func renderData(ctx *fiber.Ctx, data any) error {
	return ctx.Status(fiber.StatusOK).JSON(APIResponse{
		Code:      errcode.CodeSuccess,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		TraceID:   middlewares.TraceID(ctx),
	})
}
