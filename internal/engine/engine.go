// Package engine implements the lease scheduler: the single loop that
// drains a profile's UID queue through the send worker while enforcing the
// daily quota, retry backoff and crash-recovery rules. All persistent state
// lives in the Record Store; the engine re-reads and re-writes through it
// so that a crash leaves the store as the only truth.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BetaZoneOnline/fb-sender/internal/db"
	"github.com/BetaZoneOnline/fb-sender/internal/metrics"
	"github.com/BetaZoneOnline/fb-sender/internal/quota"
	"github.com/BetaZoneOnline/fb-sender/internal/worker"
)

// State is the engine-level run state.
type State string

const (
	StateIdle      State = "IDLE"
	StateRunning   State = "RUNNING"
	StatePaused    State = "PAUSED"
	StateStopped   State = "STOPPED"
	StateLoginOnly State = "LOGIN_ONLY"
)

// Pause reasons surfaced to the dashboard.
const (
	ReasonUser         = "user"
	ReasonDailyLimit   = "daily limit reached"
	ReasonStorageError = "storage error"
	ReasonQueueEmpty   = "queue empty"
)

var (
	// ErrEngineStopped is returned for commands sent after the engine loop
	// has exited.
	ErrEngineStopped = errors.New("engine is stopped")
	// ErrCommandBacklog is returned when the command buffer is full.
	ErrCommandBacklog = errors.New("engine command backlog is full")
)

// Store is the slice of the Record Store the engine drives. The engine
// holds no duplicate record state of its own.
type Store interface {
	LeaseNext(ctx context.Context, profile db.Profile, now time.Time) (*db.UidRecord, error)
	CommitResult(ctx context.Context, profile db.Profile, uid string, outcome db.SendOutcome, now time.Time) (*db.UidRecord, error)
	ReleaseLease(ctx context.Context, profile db.Profile, uid string, now time.Time) (*db.UidRecord, error)
	RecoverStale(ctx context.Context, profile db.Profile, now time.Time) ([]*db.UidRecord, error)
	AppendStage(ctx context.Context, profileID uuid.UUID, uid, stage string, info map[string]any, now time.Time) error
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdPause
	cmdResume
	cmdStop
	cmdLogin
)

type command struct {
	kind cmdKind
}

// Engine is one scheduler instance bound to one profile. Exactly one loop
// goroutine mutates its state; public methods only enqueue commands and
// read snapshots.
type Engine struct {
	store    Store
	quota    *quota.Tracker
	worker   worker.Worker
	messages *worker.MessageProvider
	notifier *Notifier
	logger   *zap.Logger
	profile  db.Profile

	now func() time.Time

	cmds  chan command
	delay *delayTimer
	done  chan struct{}

	mu          sync.RWMutex
	state       State
	stateReason string
	inflightUID string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. Call Run to start the loop.
func New(store Store, tracker *quota.Tracker, w worker.Worker, messages *worker.MessageProvider, notifier *Notifier, profile db.Profile, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		quota:    tracker,
		worker:   worker.Recovered(w, logger),
		messages: messages,
		notifier: notifier,
		logger:   logger,
		profile:  profile,
		now:      time.Now,
		cmds:     make(chan command, 16),
		delay:    newDelayTimer(),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run recovers stale leases and then drives the scheduler loop until the
// context is cancelled or Stop is processed. It must be the only Run call
// for this engine.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.delay.Stop()

	recovered, err := e.store.RecoverStale(ctx, e.profile, e.now())
	if err != nil {
		return fmt.Errorf("recover stale leases: %w", err)
	}
	for _, rec := range recovered {
		e.logger.Warn("recovered stale lease",
			zap.String("uid", rec.UID),
			zap.Int("attempts", rec.Attempts),
		)
	}

	e.setState(StateIdle, "")

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil

		case cmd := <-e.cmds:
			if stop := e.handle(ctx, cmd); stop {
				return nil
			}

		case <-e.delay.C():
			e.delay.Fired()
			if e.currentState() == StateRunning {
				e.step(ctx)
			}
		}
	}
}

// Start requests IDLE/PAUSED -> RUNNING. If the daily quota is exhausted
// the engine lands in PAUSED with a "daily limit reached" notice instead.
func (e *Engine) Start() error { return e.enqueue(cmdStart) }

// Pause requests RUNNING -> PAUSED. An in-flight send finishes first; the
// pending cooldown freezes with its remaining time intact.
func (e *Engine) Pause() error { return e.enqueue(cmdPause) }

// Resume requests PAUSED -> RUNNING, subject to the same quota gate as
// Start. A frozen cooldown resumes where it left off.
func (e *Engine) Resume() error { return e.enqueue(cmdResume) }

// Stop ends the loop. An in-flight send finishes and commits; a lease left
// behind by a failed commit is released back to the retryable pool.
func (e *Engine) Stop() error { return e.enqueue(cmdStop) }

// LoginOnly drives the worker's authentication flow without leasing.
// Rejected while RUNNING.
func (e *Engine) LoginOnly() error { return e.enqueue(cmdLogin) }

// State returns the current engine state and the reason for it.
func (e *Engine) State() (State, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state, e.stateReason
}

// InflightUID returns the UID currently dispatched, if any.
func (e *Engine) InflightUID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inflightUID
}

// CooldownRemaining reports the time left before the next lease attempt.
// Safe to call from any goroutine.
func (e *Engine) CooldownRemaining() time.Duration {
	return e.delay.Remaining(e.now())
}

// Profile returns the profile this engine runs under.
func (e *Engine) Profile() db.Profile {
	return e.profile
}

func (e *Engine) enqueue(kind cmdKind) error {
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.cmds <- command{kind: kind}:
		return nil
	default:
		return ErrCommandBacklog
	}
}

func (e *Engine) currentState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(state State, reason string) {
	e.mu.Lock()
	changed := e.state != state || e.stateReason != reason
	e.state = state
	e.stateReason = reason
	e.mu.Unlock()

	if !changed {
		return
	}

	metrics.SetEngineState(string(state))
	e.logger.Info("engine state changed",
		zap.String("state", string(state)),
		zap.String("reason", reason),
	)
	e.notifier.Publish(Notification{
		Kind:    NotifyEngineState,
		Payload: map[string]any{"state": string(state), "reason": reason},
		At:      e.now(),
	})
}

func (e *Engine) setInflight(uid string) {
	e.mu.Lock()
	e.inflightUID = uid
	e.mu.Unlock()
}

// handle applies one command. Returns true when the loop should exit.
func (e *Engine) handle(ctx context.Context, cmd command) bool {
	state := e.currentState()

	switch cmd.kind {
	case cmdStart:
		if state == StateIdle || state == StatePaused {
			e.tryRun(ctx)
		}

	case cmdPause:
		if state == StateRunning {
			e.delay.Freeze(e.now())
			e.setState(StatePaused, ReasonUser)
		}

	case cmdResume:
		if state == StatePaused {
			e.tryRun(ctx)
		}

	case cmdStop:
		e.releaseInflight()
		e.delay.Stop()
		e.setState(StateStopped, "")
		return true

	case cmdLogin:
		if state == StateRunning {
			e.logger.Warn("login-only rejected while running")
			return false
		}
		e.setState(StateLoginOnly, "")
		if err := e.worker.Login(ctx); err != nil {
			e.logger.Error("worker login failed", zap.Error(err))
		}
		e.setState(StateIdle, "")
	}
	return false
}

// tryRun transitions to RUNNING when quota allows, PAUSED otherwise.
func (e *Engine) tryRun(ctx context.Context) {
	now := e.now()
	status, err := e.quota.Status(ctx, e.profile, now)
	if err != nil {
		e.logger.Error("quota check failed", zap.Error(err))
		e.setState(StatePaused, ReasonStorageError)
		return
	}
	e.publishQuota(status)

	if status.Remaining <= 0 {
		e.setState(StatePaused, ReasonDailyLimit)
		return
	}

	e.setState(StateRunning, "")
	if !e.delay.Thaw(now) {
		e.delay.Start(0, now)
	}
}

// step is one scheduler iteration: quota check, lease, dispatch, commit,
// next-wake scheduling. The loop never runs two steps concurrently.
func (e *Engine) step(ctx context.Context) {
	now := e.now()

	status, err := e.quota.Status(ctx, e.profile, now)
	if err != nil {
		e.logger.Error("quota check failed", zap.Error(err))
		e.setState(StatePaused, ReasonStorageError)
		return
	}
	e.publishQuota(status)

	if status.Remaining <= 0 {
		e.setState(StatePaused, ReasonDailyLimit)
		return
	}

	rec, err := e.store.LeaseNext(ctx, e.profile, now)
	if err != nil {
		e.logger.Error("lease failed", zap.Error(err))
		e.setState(StatePaused, ReasonStorageError)
		return
	}
	if rec == nil {
		e.setState(StateIdle, ReasonQueueEmpty)
		return
	}

	e.setInflight(rec.UID)
	e.notifier.Publish(Notification{
		Kind:    NotifyUIDStarted,
		UID:     rec.UID,
		Payload: map[string]any{"attempt": rec.Attempts + 1},
		At:      now,
	})

	result := e.worker.Send(ctx, worker.SendRequest{
		UID:     rec.UID,
		Message: e.messages.Pick(),
		OnStage: e.stageRelay(rec),
	})

	commitAt := e.now()
	updated, err := e.store.CommitResult(ctx, e.profile, rec.UID, result.Outcome(), commitAt)
	if err != nil {
		e.logger.Error("commit failed, releasing lease",
			zap.String("uid", rec.UID),
			zap.Error(err),
		)
		e.releaseInflight()
		e.setState(StatePaused, ReasonStorageError)
		return
	}
	e.setInflight("")

	metrics.RecordSend(updated.Status, result.ErrorCode)
	metrics.ObserveSendDuration(result.Duration)

	resultPayload := map[string]any{
		"status":   updated.Status,
		"attempts": updated.Attempts,
	}
	if updated.LastErrorCode != nil {
		resultPayload["error_code"] = *updated.LastErrorCode
	}
	if updated.LastErrorMessage != nil {
		resultPayload["error_message"] = *updated.LastErrorMessage
	}
	if updated.EvidenceRef != nil {
		resultPayload["evidence_ref"] = *updated.EvidenceRef
	}
	if updated.NextRetryAt != nil {
		resultPayload["next_retry_at"] = updated.NextRetryAt.Format(time.RFC3339)
	}
	e.notifier.Publish(Notification{
		Kind:    NotifyUIDResult,
		UID:     rec.UID,
		Payload: resultPayload,
		At:      commitAt,
	})

	if db.Terminal(updated.Status) {
		if refreshed, qerr := e.quota.Status(ctx, e.profile, commitAt); qerr == nil {
			e.publishQuota(refreshed)
		}
	}

	delay := e.profile.InterUIDDelay
	if updated.Status == db.StatusFailRetryable && updated.NextRetryAt != nil {
		delay = updated.NextRetryAt.Sub(commitAt)
	}
	e.delay.Start(delay, commitAt)
}

// stageRelay forwards worker stage notifications to the notifier and the
// audit log. Stages carry no scheduling meaning.
func (e *Engine) stageRelay(rec *db.UidRecord) worker.StageFunc {
	return func(stage string, info map[string]any) {
		at := e.now()
		e.notifier.Publish(Notification{
			Kind:    NotifyUIDStage,
			UID:     rec.UID,
			Payload: map[string]any{"stage": stage, "info": info},
			At:      at,
		})
		if err := e.store.AppendStage(context.Background(), e.profile.ID, rec.UID, stage, info, at); err != nil {
			e.logger.Debug("append stage event failed",
				zap.String("uid", rec.UID),
				zap.Error(err),
			)
		}
	}
}

// releaseInflight returns a lease stuck IN_PROGRESS (after a failed commit
// or at shutdown) to the retryable pool with an ENGINE_ABORTED event.
func (e *Engine) releaseInflight() {
	uid := e.InflightUID()
	if uid == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := e.store.ReleaseLease(ctx, e.profile, uid, e.now()); err != nil {
		// Crash recovery picks it up on the next start.
		e.logger.Error("release lease failed", zap.String("uid", uid), zap.Error(err))
	}
	e.setInflight("")
}

func (e *Engine) shutdown() {
	e.releaseInflight()
	e.delay.Stop()
	e.setState(StateStopped, "")
}

func (e *Engine) publishQuota(status quota.Status) {
	metrics.SetQuotaRemaining(status.Remaining)
	e.notifier.Publish(Notification{
		Kind: NotifyQuotaUpdated,
		Payload: map[string]any{
			"day":              status.Day,
			"limit":            status.Limit,
			"remaining":        status.Remaining,
			"success":          status.Success,
			"fail_perm":        status.FailPerm,
			"seconds_to_reset": status.SecondsToReset,
		},
		At: e.now(),
	})
}
