// Package audit records security-relevant events to an append-only trail.
// Recording is fire-and-forget: it never blocks nor fails the security
// operation that produced the event.
package audit

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sikulab/secauth/model"
	"github.com/spf13/cast"
	"github.com/valyala/bytebufferpool"
)

const (
	EventTypeLogin             = "LOGIN"
	EventTypeLogout            = "LOGOUT"
	EventTypeRegister          = "REGISTER"
	EventTypePasswordChange    = "PASSWORD_CHANGE"
	EventTypeTokenRefresh      = "TOKEN_REFRESH"
	EventTypeAccountLockout    = "ACCOUNT_LOCKOUT"
	EventTypeSecurityViolation = "SECURITY_VIOLATION"
)

const (
	LevelInfo     = "INFO"
	LevelWarn     = "WARN"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
	OutcomeBlocked = "BLOCKED"
	OutcomeTimeout = "TIMEOUT"
)

const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Actor identifies who the event is about. Zero values are valid for pre-auth
// failures where no account was resolved.
type Actor struct {
	UserID   uint64
	Username string
}

// Client carries request metadata snapshotted into the event.
type Client struct {
	IP        string
	UserAgent string
	Device    string
	TraceID   string
}

// LoginRecord describes a terminal login outcome. Locked reports an attempt
// against a locked account, LockoutTripped that this failure reached the
// threshold and locked the account; both are HIGH risk per the fixed policy.
type LoginRecord struct {
	Actor          Actor
	Client         Client
	Success        bool
	Locked         bool
	LockoutTripped bool
	Reason         string
}

type LogoutRecord struct {
	Actor     Actor
	Client    Client
	SessionID string
}

type RegisterRecord struct {
	Actor   Actor
	Client  Client
	Success bool
	Reason  string
}

type PasswordChangeRecord struct {
	Actor   Actor
	Client  Client
	Success bool
	Reason  string
}

// TokenRefreshRecord describes a refresh-rotation outcome. Reused means a
// consumed refresh token was presented again; that is a CRITICAL
// SECURITY_VIOLATION regardless of what the refresh call returned.
type TokenRefreshRecord struct {
	Actor     Actor
	Client    Client
	SessionID string
	Success   bool
	Reused    bool
	Reason    string
}

func (r *Recorder) RecordLogin(record LoginRecord) {
	event := newEvent(EventTypeLogin, record.Actor, record.Client)
	switch {
	case record.Success:
		event.Level = LevelInfo
		event.Outcome = OutcomeSuccess
		event.RiskLevel = RiskLow
		event.Description = "user logged in"
	case record.Locked:
		event.Level = LevelWarn
		event.Outcome = OutcomeBlocked
		event.RiskLevel = RiskHigh
		event.Description = "login attempt against locked account"
	case record.LockoutTripped:
		event.EventType = EventTypeAccountLockout
		event.Level = LevelError
		event.Outcome = OutcomeBlocked
		event.RiskLevel = RiskHigh
		event.Description = "account locked after repeated failures"
	default:
		event.Level = LevelWarn
		event.Outcome = OutcomeFailure
		event.RiskLevel = RiskMedium
		event.Description = "login failed"
	}
	event.Detail = encodeDetail(map[string]any{"reason": record.Reason})
	r.Record(event)
}

func (r *Recorder) RecordLogout(record LogoutRecord) {
	event := newEvent(EventTypeLogout, record.Actor, record.Client)
	event.Level = LevelInfo
	event.Outcome = OutcomeSuccess
	event.RiskLevel = RiskLow
	event.SessionID = record.SessionID
	event.Description = "user logged out"
	r.Record(event)
}

func (r *Recorder) RecordRegister(record RegisterRecord) {
	event := newEvent(EventTypeRegister, record.Actor, record.Client)
	if record.Success {
		event.Level = LevelInfo
		event.Outcome = OutcomeSuccess
		event.RiskLevel = RiskLow
		event.Description = "user registered"
	} else {
		event.Level = LevelWarn
		event.Outcome = OutcomeFailure
		event.RiskLevel = RiskMedium
		event.Description = "registration failed"
	}
	event.Detail = encodeDetail(map[string]any{"reason": record.Reason})
	r.Record(event)
}

func (r *Recorder) RecordPasswordChange(record PasswordChangeRecord) {
	event := newEvent(EventTypePasswordChange, record.Actor, record.Client)
	if record.Success {
		event.Level = LevelInfo
		event.Outcome = OutcomeSuccess
	} else {
		event.Level = LevelWarn
		event.Outcome = OutcomeFailure
	}
	event.RiskLevel = RiskMedium
	event.Description = "password change"
	event.Detail = encodeDetail(map[string]any{"reason": record.Reason})
	r.Record(event)
}

func (r *Recorder) RecordTokenRefresh(record TokenRefreshRecord) {
	event := newEvent(EventTypeTokenRefresh, record.Actor, record.Client)
	event.SessionID = record.SessionID
	switch {
	case record.Reused:
		event.EventType = EventTypeSecurityViolation
		event.Level = LevelCritical
		event.Outcome = OutcomeBlocked
		event.RiskLevel = RiskCritical
		event.Description = "refresh token replayed after consumption"
	case record.Success:
		event.Level = LevelInfo
		event.Outcome = OutcomeSuccess
		event.RiskLevel = RiskLow
		event.Description = "token pair rotated"
	default:
		event.Level = LevelWarn
		event.Outcome = OutcomeFailure
		event.RiskLevel = RiskMedium
		event.Description = "token refresh failed"
	}
	event.Detail = encodeDetail(map[string]any{"reason": record.Reason})
	r.Record(event)
}

func newEvent(eventType string, actor Actor, client Client) *model.AuditEvent {
	traceID := client.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return &model.AuditEvent{
		EventType: eventType,
		UserID:    actor.UserID,
		Username:  actor.Username,
		ClientIP:  client.IP,
		UserAgent: client.UserAgent,
		Device:    client.Device,
		TraceID:   traceID,
		CreatedAt: time.Now(),
	}
}

// encodeDetail serializes the structured payload, skipping empty values so the
// trail does not fill with blanks.
func encodeDetail(detail map[string]any) string {
	filtered := make(map[string]any, len(detail))
	for key, val := range detail {
		if cast.ToString(val) == "" {
			continue
		}
		filtered[key] = val
	}
	if len(filtered) == 0 {
		return ""
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(filtered); err != nil {
		slog.Error("Failed to encode audit detail", "error", err)
		return ""
	}
	// Encode terminates the stream with a newline; Detail stores the bare
	// object.
	data := buf.Bytes()
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
	}
	return string(data)
}
