package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const profileColumns = `
	id, nickname, timezone, daily_limit, max_attempts,
	retry_backoff_base_sec, retry_backoff_cap_sec,
	inter_uid_delay_sec, heartbeat_timeout_sec,
	created_at, updated_at
`

// EnsureDefaultProfile returns the first profile, creating one from the
// given defaults when the table is empty. Runs once at startup.
func (r *Repository) EnsureDefaultProfile(ctx context.Context, defaults Profile, now time.Time) (Profile, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`)

	p, err := scanProfile(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, fmt.Errorf("query default profile: %w", err)
	}

	defaults.ID = uuid.New()
	defaults.CreatedAt = now
	defaults.UpdatedAt = now
	if defaults.Nickname == "" {
		defaults.Nickname = "Profile 1"
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO profiles (
			id, nickname, timezone, daily_limit, max_attempts,
			retry_backoff_base_sec, retry_backoff_cap_sec,
			inter_uid_delay_sec, heartbeat_timeout_sec,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`,
		defaults.ID, defaults.Nickname, defaults.Timezone,
		defaults.DailyLimit, defaults.MaxAttempts,
		int64(defaults.RetryBackoffBase/time.Second),
		int64(defaults.RetryBackoffCap/time.Second),
		int64(defaults.InterUIDDelay/time.Second),
		int64(defaults.HeartbeatTimeout/time.Second),
		now,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("create default profile: %w", err)
	}

	r.logger.Info("default profile created",
		zap.String("profile_id", defaults.ID.String()),
		zap.String("nickname", defaults.Nickname),
		zap.Int("daily_limit", defaults.DailyLimit),
	)

	return defaults, nil
}

// GetProfile fetches one profile by ID.
func (r *Repository) GetProfile(ctx context.Context, id uuid.UUID) (Profile, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE id = $1
	`, id)

	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

// UpdateProfile persists a settings change made through the dashboard.
// The engine never calls this.
func (r *Repository) UpdateProfile(ctx context.Context, p Profile, now time.Time) (Profile, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE profiles
		SET nickname = $1, timezone = $2, daily_limit = $3, max_attempts = $4,
		    retry_backoff_base_sec = $5, retry_backoff_cap_sec = $6,
		    inter_uid_delay_sec = $7, heartbeat_timeout_sec = $8,
		    updated_at = $9
		WHERE id = $10
	`,
		p.Nickname, p.Timezone, p.DailyLimit, p.MaxAttempts,
		int64(p.RetryBackoffBase/time.Second),
		int64(p.RetryBackoffCap/time.Second),
		int64(p.InterUIDDelay/time.Second),
		int64(p.HeartbeatTimeout/time.Second),
		now, p.ID,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Profile{}, ErrProfileNotFound
	}

	p.UpdatedAt = now
	r.logger.Info("profile settings updated",
		zap.String("profile_id", p.ID.String()),
		zap.Int("daily_limit", p.DailyLimit),
		zap.String("timezone", p.Timezone),
	)
	return p, nil
}

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var backoffBase, backoffCap, interDelay, hbTimeout int64
	err := row.Scan(
		&p.ID,
		&p.Nickname,
		&p.Timezone,
		&p.DailyLimit,
		&p.MaxAttempts,
		&backoffBase,
		&backoffCap,
		&interDelay,
		&hbTimeout,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	p.RetryBackoffBase = time.Duration(backoffBase) * time.Second
	p.RetryBackoffCap = time.Duration(backoffCap) * time.Second
	p.InterUIDDelay = time.Duration(interDelay) * time.Second
	p.HeartbeatTimeout = time.Duration(hbTimeout) * time.Second
	return p, nil
}
