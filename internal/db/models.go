package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UidRecord is one outreach target: a single (profile, normalized UID) pair.
// The normalized UID never changes after import; everything else is driven
// by the lease/commit lifecycle.
type UidRecord struct {
	ID               uuid.UUID  `json:"id"`
	ProfileID        uuid.UUID  `json:"profile_id"`
	RawInput         string     `json:"raw_input"`
	UID              string     `json:"uid"`
	Status           string     `json:"status"`
	Attempts         int        `json:"attempts"`
	LastErrorCode    *string    `json:"last_error_code,omitempty"`
	LastErrorMessage *string    `json:"last_error_message,omitempty"`
	EvidenceRef      *string    `json:"evidence_ref,omitempty"`
	HeartbeatAt      *time.Time `json:"heartbeat_at,omitempty"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	DurationMs       *int64     `json:"duration_ms,omitempty"`
	FirstSeenAt      time.Time  `json:"first_seen_at"`
	LastUpdatedAt    time.Time  `json:"last_updated_at"`
}

// Record status constants
const (
	StatusFresh         = "FRESH"
	StatusInProgress    = "IN_PROGRESS"
	StatusSuccess       = "SUCCESS"
	StatusFailRetryable = "FAIL_RETRYABLE"
	StatusFailPerm      = "FAIL_PERM"
)

// Terminal reports whether no further processing will happen for a record
// in this status (short of an explicit manual retry).
func Terminal(status string) bool {
	return status == StatusSuccess || status == StatusFailPerm
}

// Worker error codes (closed enumeration returned by the send worker).
const (
	ErrCodeUINotFound   = "UI_NOT_FOUND"
	ErrCodeNavTimeout   = "NAV_TIMEOUT"
	ErrCodeChatBlocked  = "CHAT_BLOCKED"
	ErrCodeAuthRequired = "AUTH_REQUIRED"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnknown      = "UNKNOWN"
)

// Engine-originated error codes (never produced by the worker itself).
const (
	ErrCodeWorkerException = "WORKER_EXCEPTION"
	ErrCodeEngineCrash     = "ENGINE_CRASH"
	ErrCodeEngineAborted   = "ENGINE_ABORTED"
	ErrCodeMaxAttempts     = "MAX_ATTEMPTS"
	ErrCodeManual          = "MANUAL"
)

// Event types for the append-only per-UID audit log.
const (
	EventQueued         = "QUEUED"
	EventStarted        = "STARTED"
	EventStage          = "STAGE"
	EventSuccess        = "SUCCESS"
	EventFail           = "FAIL"
	EventRetryScheduled = "RETRY_SCHEDULED"
	EventCrashRecovered = "CRASH_RECOVERED"
	EventEngineAborted  = "ENGINE_ABORTED"
)

// EventLogEntry is one row of the append-only audit trail. Entries are
// never mutated or deleted.
type EventLogEntry struct {
	ID        uuid.UUID       `json:"id"`
	RecordID  uuid.UUID       `json:"record_id"`
	UID       string          `json:"uid"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DailyCounter tracks terminal outcomes for one (profile, local calendar
// day). Rows are created lazily and never deleted.
type DailyCounter struct {
	ProfileID         uuid.UUID `json:"profile_id"`
	Day               string    `json:"day"` // YYYY-MM-DD in the profile's timezone
	Success           int       `json:"success"`
	FailPerm          int       `json:"fail_perm"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
}

// Profile holds the per-operator settings the engine runs under. The
// engine only ever reads it; settings updates come through the dashboard.
type Profile struct {
	ID               uuid.UUID     `json:"id"`
	Nickname         string        `json:"nickname"`
	Timezone         string        `json:"timezone"`
	DailyLimit       int           `json:"daily_limit"`
	MaxAttempts      int           `json:"max_attempts"`
	RetryBackoffBase time.Duration `json:"retry_backoff_base"`
	RetryBackoffCap  time.Duration `json:"retry_backoff_cap"`
	InterUIDDelay    time.Duration `json:"inter_uid_delay"`
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// RetryBackoff returns the delay scheduled after the n-th resolved attempt
// failed retryably: min(cap, base * 2^(n-1)).
func (p Profile) RetryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.RetryBackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.RetryBackoffCap {
			return p.RetryBackoffCap
		}
	}
	if d > p.RetryBackoffCap {
		return p.RetryBackoffCap
	}
	return d
}

// SendOutcome is the normalized result of one worker dispatch, as persisted
// by CommitResult. Status must be SUCCESS, FAIL_RETRYABLE or FAIL_PERM.
type SendOutcome struct {
	Status       string
	ErrorCode    *string
	ErrorMessage *string
	EvidenceRef  *string
	Duration     time.Duration
}

// ImportSummary reports the outcome of one ImportUIDs call.
type ImportSummary struct {
	Added      int      `json:"added"`
	Duplicates int      `json:"duplicates"`
	Invalid    []string `json:"invalid,omitempty"`
}

// ExportScope selects which records an export or listing covers.
type ExportScope string

const (
	ScopeAll      ExportScope = "all"
	ScopeToday    ExportScope = "today"
	ScopeSelected ExportScope = "selected"
)

// ExportFilter narrows ExportRecords / ListRecords. UIDs is only consulted
// for ScopeSelected.
type ExportFilter struct {
	Scope ExportScope
	UIDs  []string
}
