package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BetaZoneOnline/fb-sender/internal/db"
)

// LogWorker is a stub worker that reports success for every UID without
// talking to any agent (development and testing only).
type LogWorker struct {
	logger *zap.Logger
}

// NewLogWorker creates a stub worker.
func NewLogWorker(logger *zap.Logger) *LogWorker {
	return &LogWorker{logger: logger}
}

func (w *LogWorker) Send(ctx context.Context, req SendRequest) SendResult {
	start := time.Now()
	if req.OnStage != nil {
		req.OnStage("simulated", map[string]any{"uid": req.UID})
	}
	w.logger.Info("simulated send (development mode)",
		zap.String("uid", req.UID),
		zap.Int("message_len", len(req.Message)),
	)
	return SendResult{
		Status:   db.StatusSuccess,
		Duration: time.Since(start),
	}
}

func (w *LogWorker) Login(ctx context.Context) error {
	w.logger.Info("simulated login (development mode)")
	return nil
}
