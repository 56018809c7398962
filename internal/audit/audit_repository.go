package audit

import (
	"context"
	"time"

	"github.com/sikulab/secauth/model"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

// QueryFilter narrows an audit trail query. Zero fields are ignored.
type QueryFilter struct {
	EventType string
	Level     string
	Username  string
	StartTime time.Time
	EndTime   time.Time
	Page      int
	PageSize  int
}

// Statistics summarizes the trail over a period.
type Statistics struct {
	TotalEvents    int64 `json:"totalEvents"`
	LoginEvents    int64 `json:"loginEvents"`
	FailedLogins   int64 `json:"failedLogins"`
	Violations     int64 `json:"violations"`
	HighRiskEvents int64 `json:"highRiskEvents"`
}

type EventRepository interface {
	RecordEvent(ctx context.Context, event *model.AuditEvent) error
	QueryEvents(ctx context.Context, filter QueryFilter) ([]*model.AuditEvent, int64, error)
	GetStatistics(ctx context.Context, since time.Time) (*Statistics, error)
}

type eventRepository struct {
	db *gorm.DB
}

func (r *eventRepository) RecordEvent(ctx context.Context, event *model.AuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepository) QueryEvents(ctx context.Context, filter QueryFilter) ([]*model.AuditEvent, int64, error) {
	query := r.db.WithContext(ctx).Clauses(dbresolver.Read).Model(&model.AuditEvent{})
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.Level != "" {
		query = query.Where("level = ?", filter.Level)
	}
	if filter.Username != "" {
		query = query.Where("username = ?", filter.Username)
	}
	if !filter.StartTime.IsZero() {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	var events []*model.AuditEvent
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&events).Error
	return events, total, err
}

func (r *eventRepository) GetStatistics(ctx context.Context, since time.Time) (*Statistics, error) {
	db := r.db.WithContext(ctx).Clauses(dbresolver.Read)
	stats := new(Statistics)

	counts := []struct {
		dest  *int64
		conds func(*gorm.DB) *gorm.DB
	}{
		{&stats.TotalEvents, func(q *gorm.DB) *gorm.DB { return q }},
		{&stats.LoginEvents, func(q *gorm.DB) *gorm.DB {
			return q.Where("event_type = ?", EventTypeLogin)
		}},
		{&stats.FailedLogins, func(q *gorm.DB) *gorm.DB {
			return q.Where("event_type = ? AND outcome = ?", EventTypeLogin, OutcomeFailure)
		}},
		{&stats.Violations, func(q *gorm.DB) *gorm.DB {
			return q.Where("event_type = ?", EventTypeSecurityViolation)
		}},
		{&stats.HighRiskEvents, func(q *gorm.DB) *gorm.DB {
			return q.Where("risk_level IN ?", []string{RiskHigh, RiskCritical})
		}},
	}
	for _, c := range counts {
		query := db.Model(&model.AuditEvent{}).Where("created_at >= ?", since)
		if err := c.conds(query).Count(c.dest).Error; err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}
