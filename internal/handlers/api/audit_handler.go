package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sikulab/secauth/internal/audit"
	"github.com/sikulab/secauth/internal/errcode"
	"github.com/sikulab/secauth/model"
	"github.com/sikulab/secauth/params"
	"github.com/spf13/cast"
)

// AuditHandler exposes the audit trail to operators. All routes are behind
// the ADMIN role guard.
type AuditHandler struct {
	repo audit.EventRepository
}

func NewAuditHandler(repo audit.EventRepository) *AuditHandler {
	return &AuditHandler{repo: repo}
}

type auditEventsResponse struct {
	Events   []*model.AuditEvent `json:"events"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
}

func parseQueryTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	if millis := cast.ToInt64(value); millis > 0 {
		return time.UnixMilli(millis)
	}
	return time.Time{}
}

func (h *AuditHandler) GetEvents(ctx *fiber.Ctx) error {
	filter := audit.QueryFilter{
		EventType: ctx.Query("eventType"),
		Level:     ctx.Query("level"),
		Username:  ctx.Query("username"),
		StartTime: parseQueryTime(ctx.Query("startTime")),
		EndTime:   parseQueryTime(ctx.Query("endTime")),
		Page:      ctx.QueryInt("page", 1),
		PageSize:  ctx.QueryInt("pageSize", 20),
	}
	if filter.Page < 1 || filter.PageSize < 1 || filter.PageSize > params.AuditMaxPageSize {
		return errcode.ErrInvalidParameter
	}
	events, total, err := h.repo.QueryEvents(ctx.Context(), filter)
	if err != nil {
		return errcode.ErrDatabase
	}
	return renderData(ctx, auditEventsResponse{
		Events:   events,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

func (h *AuditHandler) GetStatistics(ctx *fiber.Ctx) error {
	days := ctx.QueryInt("days", 7)
	if days < 1 || days > 365 {
		return errcode.ErrInvalidParameter
	}
	since := time.Now().AddDate(0, 0, -days)
	stats, err := h.repo.GetStatistics(ctx.Context(), since)
	if err != nil {
		return errcode.ErrDatabase
	}
	return renderData(ctx, stats)
}
