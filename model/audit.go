package model

import "time"

// AuditEvent is an append-only security audit record. Rows are only ever
// inserted; there is no update path.
type AuditEvent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	EventType   string    `gorm:"size:64;not null;index"`  // LOGIN, LOGOUT, REGISTER...
	Level       string    `gorm:"size:16;not null"`        // INFO, WARN, ERROR, CRITICAL
	Outcome     string    `gorm:"size:16;not null;index"`  // SUCCESS, FAILURE, BLOCKED, TIMEOUT
	RiskLevel   string    `gorm:"size:16;not null;index"`  // LOW, MEDIUM, HIGH, CRITICAL
	UserID      uint64    `gorm:"index"`                   // zero for pre-auth failures
	Username    string    `gorm:"size:64;index"`           // snapshot of username at event time
	ClientIP    string    `gorm:"size:45"`                 // IPv4/IPv6
	UserAgent   string    `gorm:"size:512"`
	Device      string    `gorm:"size:128"`
	SessionID   string    `gorm:"size:64"`
	TraceID     string    `gorm:"size:64"`
	Description string    `gorm:"size:512"`
	Detail      string    `gorm:"type:text"` // structured payload, JSON encoded
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
}

func (AuditEvent) TableName() string {
	return "audit_event"
}
