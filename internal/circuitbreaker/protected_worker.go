package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/BetaZoneOnline/fb-sender/internal/db"
	"github.com/BetaZoneOnline/fb-sender/internal/worker"
)

// ProtectedWorker wraps a worker.Worker with a CircuitBreaker. When the
// automation agent stops answering, the circuit opens and dispatches fail
// fast as retryable outcomes instead of waiting out the transport timeout
// on every lease.
//
// Only transport-level failures count against the breaker: NAV_TIMEOUT and
// UNKNOWN mean the agent never gave a usable answer. CHAT_BLOCKED,
// AUTH_REQUIRED and friends are contract-valid replies from a live agent
// and count as breaker successes.
type ProtectedWorker struct {
	next    worker.Worker
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedWorker wraps a worker with circuit breaker protection.
func NewProtectedWorker(next worker.Worker, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedWorker {
	return &ProtectedWorker{
		next:    next,
		breaker: breaker,
		logger:  logger,
	}
}

// Send dispatches through the breaker. An open circuit produces an
// immediate FAIL_RETRYABLE result; the record's backoff then naturally
// spaces out the probes.
func (p *ProtectedWorker) Send(ctx context.Context, req worker.SendRequest) worker.SendResult {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected dispatch",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("uid", req.UID),
			zap.String("state", p.breaker.GetState().String()),
		)
		return worker.SendResult{
			Status:       db.StatusFailRetryable,
			ErrorCode:    db.ErrCodeUnknown,
			ErrorMessage: "automation agent unavailable (circuit open)",
		}
	}

	result := p.next.Send(ctx, req)

	if transportFailure(result) {
		p.breaker.RecordFailure()
	} else {
		p.breaker.RecordSuccess()
	}
	return result
}

// Login passes through; a successful login also closes a half-open circuit.
func (p *ProtectedWorker) Login(ctx context.Context) error {
	err := p.next.Login(ctx)
	if err == nil {
		p.breaker.RecordSuccess()
	}
	return err
}

// Breaker returns the underlying circuit breaker for the status endpoint.
func (p *ProtectedWorker) Breaker() *CircuitBreaker {
	return p.breaker
}

func transportFailure(result worker.SendResult) bool {
	if result.Status == db.StatusSuccess {
		return false
	}
	switch result.ErrorCode {
	case db.ErrCodeNavTimeout, db.ErrCodeUnknown, db.ErrCodeWorkerException:
		return true
	}
	return false
}
