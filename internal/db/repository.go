package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Sentinel errors returned by Repository operations.
var (
	// ErrRecordNotFound indicates the UID has no record for this profile.
	ErrRecordNotFound = errors.New("uid record not found")
	// ErrInvalidState indicates an operation was applied to a record whose
	// status does not permit it (e.g. committing a result for a record that
	// is not IN_PROGRESS). The transaction is rolled back; prior state is
	// left intact.
	ErrInvalidState = errors.New("record is not in a valid state for this operation")
	// ErrNotRetryable indicates a manual retry on a record that is neither
	// FAIL_RETRYABLE nor FAIL_PERM.
	ErrNotRetryable = errors.New("record is not in a retryable state")
	// ErrProfileNotFound indicates an unknown profile ID.
	ErrProfileNotFound = errors.New("profile not found")
)

const recordColumns = `
	id, profile_id, raw_input, uid, status, attempts,
	last_error_code, last_error_message, evidence_ref,
	heartbeat_at, next_retry_at, duration_ms,
	first_seen_at, last_updated_at
`

// Repository is the Record Store: the single owner of persistence and
// transaction boundaries for UID records, the event log and daily counters.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new Record Store over the given pool.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// LocalDay returns the YYYY-MM-DD key for now in the given IANA timezone.
func LocalDay(tz string, now time.Time) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return now.In(loc).Format("2006-01-02"), nil
}

// ImportUIDs normalizes rawLines, rejects duplicates against existing
// records for the profile, and inserts the remainder as FRESH. The whole
// call is one transaction: a failure leaves no rows inserted.
func (r *Repository) ImportUIDs(ctx context.Context, profile Profile, rawLines []string, now time.Time) (ImportSummary, error) {
	candidates, duplicates, invalid := classifyImport(rawLines)
	summary := ImportSummary{Duplicates: duplicates, Invalid: invalid}

	if len(candidates) == 0 && summary.Duplicates == 0 {
		return summary, nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range candidates {
		var recordID uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO uid_records (
				id, profile_id, raw_input, uid, status, attempts,
				first_seen_at, last_updated_at
			) VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
			ON CONFLICT (profile_id, uid) DO NOTHING
			RETURNING id
		`, uuid.New(), profile.ID, c.raw, c.norm, StatusFresh, now).Scan(&recordID)

		if errors.Is(err, pgx.ErrNoRows) {
			summary.Duplicates++
			continue
		}
		if err != nil {
			return ImportSummary{}, fmt.Errorf("insert uid %q: %w", c.norm, err)
		}

		if err := r.appendEvent(ctx, tx, recordID, c.norm, EventQueued, map[string]any{"raw": c.raw}, now); err != nil {
			return ImportSummary{}, err
		}
		summary.Added++
	}

	if summary.Duplicates > 0 {
		day, err := LocalDay(profile.Timezone, now)
		if err != nil {
			return ImportSummary{}, err
		}
		if err := r.bumpDailyCounter(ctx, tx, profile.ID, day, 0, 0, summary.Duplicates); err != nil {
			return ImportSummary{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ImportSummary{}, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("uids imported",
		zap.String("profile_id", profile.ID.String()),
		zap.Int("added", summary.Added),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("invalid", len(summary.Invalid)),
	)

	return summary, nil
}

// LeaseNext selects the highest-priority eligible record and transitions it
// to IN_PROGRESS with a fresh heartbeat, all in one transaction. Due
// retryable records win over fresh ones; within each class insertion order
// applies. Returns (nil, nil) when nothing is eligible.
func (r *Repository) LeaseNext(ctx context.Context, profile Profile, now time.Time) (*UidRecord, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// No attempts ceiling here: the automatic path never leaves a record
	// FAIL_RETRYABLE at the cap (CommitResult promotes it to FAIL_PERM),
	// so a due retryable record past the cap can only be a manual retry,
	// which gets one more pass and re-promotes on a retryable failure.
	row := tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM uid_records
		WHERE profile_id = $1
		  AND (
			status = 'FRESH'
			OR (status = 'FAIL_RETRYABLE' AND next_retry_at <= $2)
		  )
		ORDER BY CASE status WHEN 'FAIL_RETRYABLE' THEN 0 ELSE 1 END,
		         first_seen_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, profile.ID, now)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select eligible record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE uid_records
		SET status = $1, heartbeat_at = $2, last_updated_at = $2
		WHERE id = $3
	`, StatusInProgress, now, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("mark record in progress: %w", err)
	}

	if err := r.appendEvent(ctx, tx, rec.ID, rec.UID, EventStarted, map[string]any{"attempt": rec.Attempts + 1}, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	rec.Status = StatusInProgress
	hb := now
	rec.HeartbeatAt = &hb
	rec.LastUpdatedAt = now

	r.logger.Debug("record leased",
		zap.String("uid", rec.UID),
		zap.Int("attempts", rec.Attempts),
	)

	return rec, nil
}

// CommitResult resolves one dispatched send: it increments attempts,
// applies the outcome transition, appends the audit events and, for
// terminal outcomes, bumps the day's counter, all in one transaction.
// Committing against a record that is not IN_PROGRESS is a programming
// error and fails with ErrInvalidState, leaving prior state intact.
func (r *Repository) CommitResult(ctx context.Context, profile Profile, uid string, outcome SendOutcome, now time.Time) (*UidRecord, error) {
	switch outcome.Status {
	case StatusSuccess, StatusFailRetryable, StatusFailPerm:
	default:
		return nil, fmt.Errorf("invalid outcome status %q", outcome.Status)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := r.lockRecord(ctx, tx, profile.ID, uid)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusInProgress {
		return nil, fmt.Errorf("commit result for %s in status %s: %w", uid, rec.Status, ErrInvalidState)
	}

	attempts := rec.Attempts + 1
	final := outcome.Status
	errCode := outcome.ErrorCode
	var nextRetryAt *time.Time

	if final == StatusFailRetryable && attempts >= profile.MaxAttempts {
		// Budget exhausted: the retryable failure resolves as permanent.
		final = StatusFailPerm
		if errCode == nil {
			code := ErrCodeMaxAttempts
			errCode = &code
		}
	}
	if final == StatusFailRetryable {
		at := now.Add(profile.RetryBackoff(attempts))
		nextRetryAt = &at
	}

	errMsg := outcome.ErrorMessage
	if final == StatusSuccess {
		errCode = nil
		errMsg = nil
	}

	durationMs := outcome.Duration.Milliseconds()

	_, err = tx.Exec(ctx, `
		UPDATE uid_records
		SET status = $1, attempts = $2,
		    last_error_code = $3, last_error_message = $4, evidence_ref = $5,
		    heartbeat_at = NULL, next_retry_at = $6, duration_ms = $7,
		    last_updated_at = $8
		WHERE id = $9
	`, final, attempts, errCode, errMsg, outcome.EvidenceRef, nextRetryAt, durationMs, now, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("update record %s: %w", uid, err)
	}

	switch final {
	case StatusSuccess:
		err = r.appendEvent(ctx, tx, rec.ID, uid, EventSuccess, map[string]any{
			"attempt":     attempts,
			"duration_ms": durationMs,
		}, now)
	case StatusFailPerm:
		err = r.appendEvent(ctx, tx, rec.ID, uid, EventFail, map[string]any{
			"attempt": attempts,
			"code":    strPtrValue(errCode),
			"message": strPtrValue(errMsg),
			"final":   true,
		}, now)
	case StatusFailRetryable:
		err = r.appendEvent(ctx, tx, rec.ID, uid, EventFail, map[string]any{
			"attempt": attempts,
			"code":    strPtrValue(errCode),
			"message": strPtrValue(errMsg),
			"final":   false,
		}, now)
		if err == nil {
			err = r.appendEvent(ctx, tx, rec.ID, uid, EventRetryScheduled, map[string]any{
				"attempt":       attempts,
				"next_retry_at": nextRetryAt.Format(time.RFC3339),
			}, now)
		}
	}
	if err != nil {
		return nil, err
	}

	if Terminal(final) {
		day, err := LocalDay(profile.Timezone, now)
		if err != nil {
			return nil, err
		}
		successDelta, failDelta := 0, 0
		if final == StatusSuccess {
			successDelta = 1
		} else {
			failDelta = 1
		}
		if err := r.bumpDailyCounter(ctx, tx, profile.ID, day, successDelta, failDelta, 0); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	rec.Status = final
	rec.Attempts = attempts
	rec.LastErrorCode = errCode
	rec.LastErrorMessage = errMsg
	rec.EvidenceRef = outcome.EvidenceRef
	rec.HeartbeatAt = nil
	rec.NextRetryAt = nextRetryAt
	rec.DurationMs = &durationMs
	rec.LastUpdatedAt = now

	r.logger.Info("result committed",
		zap.String("uid", uid),
		zap.String("status", final),
		zap.Int("attempts", attempts),
	)

	return rec, nil
}

// ReleaseLease gracefully returns an IN_PROGRESS record to the retryable
// pool when the engine stops with a lease still held. This is a deliberate
// release, distinct from crash recovery: attempts are untouched and the
// record becomes immediately eligible again.
func (r *Repository) ReleaseLease(ctx context.Context, profile Profile, uid string, now time.Time) (*UidRecord, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := r.lockRecord(ctx, tx, profile.ID, uid)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusInProgress {
		return nil, fmt.Errorf("release lease for %s in status %s: %w", uid, rec.Status, ErrInvalidState)
	}

	code := ErrCodeEngineAborted
	_, err = tx.Exec(ctx, `
		UPDATE uid_records
		SET status = $1, last_error_code = $2, heartbeat_at = NULL,
		    next_retry_at = $3, last_updated_at = $3
		WHERE id = $4
	`, StatusFailRetryable, code, now, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("release record %s: %w", uid, err)
	}

	if err := r.appendEvent(ctx, tx, rec.ID, uid, EventEngineAborted, map[string]any{"attempt": rec.Attempts}, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	rec.Status = StatusFailRetryable
	rec.LastErrorCode = &code
	rec.HeartbeatAt = nil
	rec.NextRetryAt = &now
	rec.LastUpdatedAt = now

	r.logger.Info("lease released", zap.String("uid", uid))
	return rec, nil
}

// RecoverStale finds IN_PROGRESS records whose heartbeat is older than the
// profile's heartbeat timeout and returns them to FAIL_RETRYABLE with error
// code ENGINE_CRASH. Must run before the engine starts leasing. Running it
// twice in a row is a no-op the second time.
func (r *Repository) RecoverStale(ctx context.Context, profile Profile, now time.Time) ([]*UidRecord, error) {
	cutoff := now.Add(-profile.HeartbeatTimeout)

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE uid_records
		SET status = $1, last_error_code = $2,
		    last_error_message = 'lease abandoned by crashed engine',
		    heartbeat_at = NULL, next_retry_at = $3, last_updated_at = $3
		WHERE profile_id = $4 AND status = $5 AND heartbeat_at < $6
		RETURNING `+recordColumns+`
	`, StatusFailRetryable, ErrCodeEngineCrash, now, profile.ID, StatusInProgress, cutoff)
	if err != nil {
		return nil, fmt.Errorf("recover stale leases: %w", err)
	}

	recovered, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	for _, rec := range recovered {
		if err := r.appendEvent(ctx, tx, rec.ID, rec.UID, EventCrashRecovered, map[string]any{"attempt": rec.Attempts}, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	if len(recovered) > 0 {
		r.logger.Warn("stale leases recovered",
			zap.String("profile_id", profile.ID.String()),
			zap.Int("count", len(recovered)),
		)
	}

	return recovered, nil
}

// RetryNow is the manual retry: it makes a failed record immediately
// eligible again without resetting attempts. The record gets one more
// pass even at the attempt cap; if that pass fails retryably it resolves
// straight back to FAIL_PERM. Valid only on FAIL_RETRYABLE or FAIL_PERM.
func (r *Repository) RetryNow(ctx context.Context, profile Profile, uid string, now time.Time) (*UidRecord, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := r.lockRecord(ctx, tx, profile.ID, uid)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusFailRetryable && rec.Status != StatusFailPerm {
		return nil, fmt.Errorf("manual retry for %s in status %s: %w", uid, rec.Status, ErrNotRetryable)
	}

	_, err = tx.Exec(ctx, `
		UPDATE uid_records
		SET status = $1, next_retry_at = $2, last_updated_at = $2
		WHERE id = $3
	`, StatusFailRetryable, now, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("retry record %s: %w", uid, err)
	}

	if err := r.appendEvent(ctx, tx, rec.ID, uid, EventRetryScheduled, map[string]any{
		"attempt": rec.Attempts,
		"manual":  true,
	}, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	rec.Status = StatusFailRetryable
	rec.NextRetryAt = &now
	rec.LastUpdatedAt = now

	r.logger.Info("manual retry scheduled", zap.String("uid", uid), zap.Int("attempts", rec.Attempts))
	return rec, nil
}

// MarkPermanentFail forces a non-terminal record straight to FAIL_PERM.
// The day's counter is not touched: nothing was sent.
func (r *Repository) MarkPermanentFail(ctx context.Context, profile Profile, uid string, now time.Time) (*UidRecord, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := r.lockRecord(ctx, tx, profile.ID, uid)
	if err != nil {
		return nil, err
	}
	if Terminal(rec.Status) {
		return nil, fmt.Errorf("mark permanent fail for %s in status %s: %w", uid, rec.Status, ErrInvalidState)
	}

	code := ErrCodeManual
	_, err = tx.Exec(ctx, `
		UPDATE uid_records
		SET status = $1, last_error_code = $2, heartbeat_at = NULL,
		    next_retry_at = NULL, last_updated_at = $3
		WHERE id = $4
	`, StatusFailPerm, code, now, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("mark record %s: %w", uid, err)
	}

	if err := r.appendEvent(ctx, tx, rec.ID, uid, EventFail, map[string]any{
		"code":   code,
		"manual": true,
		"final":  true,
	}, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	rec.Status = StatusFailPerm
	rec.LastErrorCode = &code
	rec.HeartbeatAt = nil
	rec.NextRetryAt = nil
	rec.LastUpdatedAt = now

	r.logger.Info("record marked permanently failed", zap.String("uid", uid))
	return rec, nil
}

// AppendStage records a worker stage notification on the UID's timeline.
// Stages are free-form and carry no scheduling meaning.
func (r *Repository) AppendStage(ctx context.Context, profileID uuid.UUID, uid, stage string, info map[string]any, now time.Time) error {
	var recordID uuid.UUID
	err := r.db.Pool().QueryRow(ctx,
		`SELECT id FROM uid_records WHERE profile_id = $1 AND uid = $2`,
		profileID, uid,
	).Scan(&recordID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("find record %s: %w", uid, err)
	}

	payload := map[string]any{"stage": stage}
	for k, v := range info {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stage payload: %w", err)
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO uid_events (id, record_id, uid, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), recordID, uid, EventStage, data, now)
	if err != nil {
		return fmt.Errorf("append stage event: %w", err)
	}
	return nil
}

// GetRecord fetches one record by normalized UID.
func (r *Repository) GetRecord(ctx context.Context, profileID uuid.UUID, uid string) (*UidRecord, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM uid_records
		WHERE profile_id = $1 AND uid = $2
	`, profileID, uid)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record %s: %w", uid, err)
	}
	return rec, nil
}

// ListRecords returns records for the dashboard, newest activity last.
func (r *Repository) ListRecords(ctx context.Context, profile Profile, filter ExportFilter, now time.Time) ([]*UidRecord, error) {
	var records []*UidRecord
	err := r.ExportRecords(ctx, profile, filter, now, func(rec *UidRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ExportRecords streams records matching the filter to fn in insertion
// order. It never mutates; calling it again restarts the sequence.
func (r *Repository) ExportRecords(ctx context.Context, profile Profile, filter ExportFilter, now time.Time, fn func(*UidRecord) error) error {
	query := `
		SELECT ` + recordColumns + `
		FROM uid_records
		WHERE profile_id = $1
	`
	args := []any{profile.ID}

	switch filter.Scope {
	case ScopeToday:
		loc, err := time.LoadLocation(profile.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", profile.Timezone, err)
		}
		local := now.In(loc)
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		query += ` AND last_updated_at >= $2`
		args = append(args, midnight)
	case ScopeSelected:
		query += ` AND uid = ANY($2)`
		args = append(args, filter.UIDs)
	case ScopeAll, "":
	default:
		return fmt.Errorf("unknown export scope %q", filter.Scope)
	}

	query += ` ORDER BY first_seen_at ASC, id ASC`

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	return nil
}

// ListEvents returns the audit timeline for one UID in commit order.
func (r *Repository) ListEvents(ctx context.Context, profileID uuid.UUID, uid string, limit int) ([]*EventLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Pool().Query(ctx, `
		SELECT e.id, e.record_id, e.uid, e.event_type, e.payload, e.created_at
		FROM uid_events e
		JOIN uid_records rec ON rec.id = e.record_id
		WHERE rec.profile_id = $1 AND e.uid = $2
		ORDER BY e.created_at ASC, e.id ASC
		LIMIT $3
	`, profileID, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*EventLogEntry
	for rows.Next() {
		var e EventLogEntry
		if err := rows.Scan(&e.ID, &e.RecordID, &e.UID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// DailySnapshot returns the counter row for the given day, zero-valued if
// no terminal outcome has been recorded yet.
func (r *Repository) DailySnapshot(ctx context.Context, profileID uuid.UUID, day string) (DailyCounter, error) {
	counter := DailyCounter{ProfileID: profileID, Day: day}
	err := r.db.Pool().QueryRow(ctx, `
		SELECT success, fail_perm, duplicates_skipped
		FROM daily_counters
		WHERE profile_id = $1 AND day = $2
	`, profileID, day).Scan(&counter.Success, &counter.FailPerm, &counter.DuplicatesSkipped)
	if errors.Is(err, pgx.ErrNoRows) {
		return counter, nil
	}
	if err != nil {
		return DailyCounter{}, fmt.Errorf("query daily counter: %w", err)
	}
	return counter, nil
}

// StatusCounts returns record counts per status for the dashboard header.
func (r *Repository) StatusCounts(ctx context.Context, profileID uuid.UUID) (map[string]int, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT status, COUNT(*)
		FROM uid_records
		WHERE profile_id = $1
		GROUP BY status
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// --- internals -------------------------------------------------------------

func (r *Repository) lockRecord(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, uid string) (*UidRecord, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM uid_records
		WHERE profile_id = $1 AND uid = $2
		FOR UPDATE
	`, profileID, uid)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock record %s: %w", uid, err)
	}
	return rec, nil
}

func (r *Repository) appendEvent(ctx context.Context, tx pgx.Tx, recordID uuid.UUID, uid, eventType string, payload map[string]any, now time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO uid_events (id, record_id, uid, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), recordID, uid, eventType, data, now)
	if err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}

func (r *Repository) bumpDailyCounter(ctx context.Context, tx pgx.Tx, profileID uuid.UUID, day string, success, failPerm, duplicates int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_counters (profile_id, day, success, fail_perm, duplicates_skipped)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (profile_id, day) DO UPDATE
		SET success = daily_counters.success + EXCLUDED.success,
		    fail_perm = daily_counters.fail_perm + EXCLUDED.fail_perm,
		    duplicates_skipped = daily_counters.duplicates_skipped + EXCLUDED.duplicates_skipped
	`, profileID, day, success, failPerm, duplicates)
	if err != nil {
		return fmt.Errorf("bump daily counter: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*UidRecord, error) {
	var rec UidRecord
	err := row.Scan(
		&rec.ID,
		&rec.ProfileID,
		&rec.RawInput,
		&rec.UID,
		&rec.Status,
		&rec.Attempts,
		&rec.LastErrorCode,
		&rec.LastErrorMessage,
		&rec.EvidenceRef,
		&rec.HeartbeatAt,
		&rec.NextRetryAt,
		&rec.DurationMs,
		&rec.FirstSeenAt,
		&rec.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*UidRecord, error) {
	defer rows.Close()
	var records []*UidRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func strPtrValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
