package params

import "time"

const (
	ServerBodyLimit    = 1048576 // 1 MiB
	ServerIdleTimeout  = 30 * time.Second
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second

	SessionKeyPrefix   = "s:"
	RefreshKeyPrefix   = "r:"
	CaptchaKeyPrefix   = "c:"
	EmailCodeKeyPrefix = "e:"

	MaxLoginFailCount   = 5                // failed attempts before the account is locked
	AccountLockDuration = 15 * time.Minute // lock duration once the fail threshold is reached
	VersionedRetryMax   = 1                // re-read and retry a versioned update this many times before giving up

	AccessTokenExpiration  = 15 * time.Minute
	RefreshTokenExpiration = 7 * 24 * time.Hour
	RememberMeRefreshMax   = 30 * 24 * time.Hour

	CaptchaCodeLength   = 4
	CaptchaExpiration   = 5 * time.Minute
	EmailCodeLength     = 6
	EmailCodeExpiration = 10 * time.Minute

	AuditQueueSize   = 1024 // per-shard pending audit event queue
	AuditShardCount  = 8
	AuditMaxPageSize = 200

	HealthCheckServerAddr = ":3001"
)
