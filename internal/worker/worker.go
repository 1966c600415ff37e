// Package worker defines the send-capable worker boundary. The engine
// dispatches exactly one UID at a time to a Worker and consumes a closed
// result type; no error and no panic ever crosses back into the engine.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BetaZoneOnline/fb-sender/internal/db"
)

// StageFunc receives free-form intermediate stage notifications from a
// worker. They feed the rendering layer and the audit timeline only; the
// engine's scheduling logic never looks at them.
type StageFunc func(stage string, info map[string]any)

// SendRequest carries one dispatch to the worker.
type SendRequest struct {
	UID     string
	Message string
	Timeout time.Duration
	OnStage StageFunc
}

// SendResult is the normalized outcome of one send. Status is one of
// db.StatusSuccess, db.StatusFailRetryable, db.StatusFailPerm; ErrorCode
// is drawn from the closed enumeration in the db package.
type SendResult struct {
	Status       string
	ErrorCode    string
	ErrorMessage string
	EvidenceRef  string
	Duration     time.Duration
}

// Outcome converts the result to the Record Store's persisted form.
func (r SendResult) Outcome() db.SendOutcome {
	out := db.SendOutcome{
		Status:   r.Status,
		Duration: r.Duration,
	}
	if r.ErrorCode != "" {
		code := r.ErrorCode
		out.ErrorCode = &code
	}
	if r.ErrorMessage != "" {
		msg := r.ErrorMessage
		out.ErrorMessage = &msg
	}
	if r.EvidenceRef != "" {
		ref := r.EvidenceRef
		out.EvidenceRef = &ref
	}
	return out
}

// Worker is the external send capability. Send never returns an error:
// every failure path is expressed through the SendResult. Login drives only
// the authentication flow and is used by the engine's login-only mode.
type Worker interface {
	Send(ctx context.Context, req SendRequest) SendResult
	Login(ctx context.Context) error
}

// Recovered wraps a Worker so that a panic in Send surfaces as a
// FAIL_RETRYABLE result with code WORKER_EXCEPTION instead of unwinding
// into the engine loop.
func Recovered(next Worker, logger *zap.Logger) Worker {
	return &recoveredWorker{next: next, logger: logger}
}

type recoveredWorker struct {
	next   Worker
	logger *zap.Logger
}

func (w *recoveredWorker) Send(ctx context.Context, req SendRequest) (result SendResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("worker panicked",
				zap.String("uid", req.UID),
				zap.Any("panic", rec),
			)
			result = SendResult{
				Status:       db.StatusFailRetryable,
				ErrorCode:    db.ErrCodeWorkerException,
				ErrorMessage: fmt.Sprintf("worker panic: %v", rec),
				Duration:     time.Since(start),
			}
		}
	}()
	return w.next.Send(ctx, req)
}

func (w *recoveredWorker) Login(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("worker panicked during login", zap.Any("panic", rec))
			err = fmt.Errorf("worker panic: %v", rec)
		}
	}()
	return w.next.Login(ctx)
}

// validStatus reports whether a worker-reported status is part of the
// closed contract.
func validStatus(status string) bool {
	switch status {
	case db.StatusSuccess, db.StatusFailRetryable, db.StatusFailPerm:
		return true
	}
	return false
}

// validErrorCode reports whether a worker-reported error code is part of
// the closed enumeration.
func validErrorCode(code string) bool {
	switch code {
	case "", db.ErrCodeUINotFound, db.ErrCodeNavTimeout, db.ErrCodeChatBlocked,
		db.ErrCodeAuthRequired, db.ErrCodeRateLimited, db.ErrCodeUnknown:
		return true
	}
	return false
}
