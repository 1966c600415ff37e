package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BetaZoneOnline/fb-sender/internal/db"
)

// AgentConfig configures the connection to the local automation agent.
type AgentConfig struct {
	BaseURL        string        // e.g. http://127.0.0.1:9223
	DefaultTimeout time.Duration // per-send budget when the request carries none
}

// AgentWorker talks to the browser-automation agent over HTTP. The agent
// owns the single browser session; this adapter only translates between
// the engine's dispatch and the agent's wire format, mapping every
// transport failure onto the closed error enumeration.
type AgentWorker struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewAgentWorker creates a worker bound to the agent at cfg.BaseURL.
func NewAgentWorker(cfg AgentConfig, logger *zap.Logger) *AgentWorker {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	return &AgentWorker{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type agentSendRequest struct {
	UID        string `json:"uid"`
	Message    string `json:"message"`
	TimeoutSec int    `json:"timeout_sec"`
}

type agentSendResponse struct {
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	EvidenceRef  string `json:"evidence_ref,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// Send posts one send command to the agent and normalizes the reply.
func (w *AgentWorker) Send(ctx context.Context, req SendRequest) SendResult {
	start := time.Now()

	if req.OnStage != nil {
		req.OnStage("dispatch", map[string]any{"uid": req.UID})
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = w.client.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(agentSendRequest{
		UID:        req.UID,
		Message:    req.Message,
		TimeoutSec: int(timeout / time.Second),
	})
	if err != nil {
		return failure(db.ErrCodeUnknown, fmt.Sprintf("encode request: %v", err), start)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return failure(db.ErrCodeUnknown, fmt.Sprintf("build request: %v", err), start)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure(db.ErrCodeNavTimeout, "agent did not answer within the send timeout", start)
		}
		return failure(db.ErrCodeUnknown, fmt.Sprintf("agent unreachable: %v", err), start)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return failure(db.ErrCodeAuthRequired, "agent session requires login", start)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return failure(db.ErrCodeUnknown,
			fmt.Sprintf("agent returned status %d: %s", resp.StatusCode, string(preview)), start)
	}

	var reply agentSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return failure(db.ErrCodeUnknown, fmt.Sprintf("decode agent reply: %v", err), start)
	}

	if !validStatus(reply.Status) || !validErrorCode(reply.ErrorCode) {
		w.logger.Warn("agent reply outside contract",
			zap.String("uid", req.UID),
			zap.String("status", reply.Status),
			zap.String("error_code", reply.ErrorCode),
		)
		return failure(db.ErrCodeUnknown, fmt.Sprintf("agent reply outside contract: status=%q", reply.Status), start)
	}

	duration := time.Since(start)
	if reply.DurationMs > 0 {
		duration = time.Duration(reply.DurationMs) * time.Millisecond
	}

	if req.OnStage != nil {
		req.OnStage("resolved", map[string]any{"uid": req.UID, "status": reply.Status})
	}

	w.logger.Debug("agent send resolved",
		zap.String("uid", req.UID),
		zap.String("status", reply.Status),
		zap.Duration("duration", duration),
	)

	return SendResult{
		Status:       reply.Status,
		ErrorCode:    reply.ErrorCode,
		ErrorMessage: reply.ErrorMessage,
		EvidenceRef:  reply.EvidenceRef,
		Duration:     duration,
	}
}

// Login asks the agent to open its authentication flow.
func (w *AgentWorker) Login(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/login", nil)
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("agent login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent login returned status %d", resp.StatusCode)
	}
	return nil
}

func failure(code, message string, start time.Time) SendResult {
	return SendResult{
		Status:       db.StatusFailRetryable,
		ErrorCode:    code,
		ErrorMessage: message,
		Duration:     time.Since(start),
	}
}
