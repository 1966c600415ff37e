package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BetaZoneOnline/fb-sender/internal/db"
)

func agentServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestAgentWorker_SuccessReply(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["uid"] != "100001234567890" {
			t.Errorf("uid = %v", req["uid"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "SUCCESS",
			"duration_ms": 1500,
		})
	})

	w := NewAgentWorker(AgentConfig{BaseURL: srv.URL}, zap.NewNop())
	result := w.Send(context.Background(), SendRequest{UID: "100001234567890", Message: "hi"})

	if result.Status != db.StatusSuccess {
		t.Fatalf("status = %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.Duration != 1500*time.Millisecond {
		t.Fatalf("duration = %v", result.Duration)
	}
}

func TestAgentWorker_DomainFailureReply(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":        "FAIL_PERM",
			"error_code":    "CHAT_BLOCKED",
			"error_message": "recipient does not accept messages",
			"evidence_ref":  "shots/blocked.png",
		})
	})

	w := NewAgentWorker(AgentConfig{BaseURL: srv.URL}, zap.NewNop())
	result := w.Send(context.Background(), SendRequest{UID: "42", Message: "hi"})

	if result.Status != db.StatusFailPerm {
		t.Fatalf("status = %s", result.Status)
	}
	if result.ErrorCode != db.ErrCodeChatBlocked {
		t.Fatalf("error_code = %s", result.ErrorCode)
	}
	if result.EvidenceRef != "shots/blocked.png" {
		t.Fatalf("evidence_ref = %s", result.EvidenceRef)
	}
}

func TestAgentWorker_UnauthorizedMapsToAuthRequired(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	w := NewAgentWorker(AgentConfig{BaseURL: srv.URL}, zap.NewNop())
	result := w.Send(context.Background(), SendRequest{UID: "42"})

	if result.Status != db.StatusFailRetryable {
		t.Fatalf("status = %s", result.Status)
	}
	if result.ErrorCode != db.ErrCodeAuthRequired {
		t.Fatalf("error_code = %s", result.ErrorCode)
	}
}

func TestAgentWorker_ServerErrorMapsToUnknown(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	w := NewAgentWorker(AgentConfig{BaseURL: srv.URL}, zap.NewNop())
	result := w.Send(context.Background(), SendRequest{UID: "42"})

	if result.ErrorCode != db.ErrCodeUnknown {
		t.Fatalf("error_code = %s", result.ErrorCode)
	}
	if result.Status != db.StatusFailRetryable {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestAgentWorker_TimeoutMapsToNavTimeout(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	w := NewAgentWorker(AgentConfig{BaseURL: srv.URL, DefaultTimeout: 50 * time.Millisecond}, zap.NewNop())
	result := w.Send(context.Background(), SendRequest{UID: "42"})

	if result.ErrorCode != db.ErrCodeNavTimeout {
		t.Fatalf("error_code = %s (%s)", result.ErrorCode, result.ErrorMessage)
	}
	if result.Status != db.StatusFailRetryable {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestAgentWorker_UnreachableMapsToUnknown(t *testing.T) {
	w := NewAgentWorker(AgentConfig{BaseURL: "http://127.0.0.1:1", DefaultTimeout: time.Second}, zap.NewNop())
	result := w.Send(context.Background(), SendRequest{UID: "42"})

	if result.ErrorCode != db.ErrCodeUnknown {
		t.Fatalf("error_code = %s", result.ErrorCode)
	}
}

func TestAgentWorker_ContractViolationMapsToUnknown(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "KINDA_WORKED",
			"error_code": "WAT",
		})
	})

	w := NewAgentWorker(AgentConfig{BaseURL: srv.URL}, zap.NewNop())
	result := w.Send(context.Background(), SendRequest{UID: "42"})

	if result.ErrorCode != db.ErrCodeUnknown {
		t.Fatalf("error_code = %s", result.ErrorCode)
	}
	if result.Status != db.StatusFailRetryable {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestAgentWorker_StagesEmitted(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "SUCCESS"})
	})

	var stages []string
	w := NewAgentWorker(AgentConfig{BaseURL: srv.URL}, zap.NewNop())
	w.Send(context.Background(), SendRequest{
		UID:     "42",
		OnStage: func(stage string, info map[string]any) { stages = append(stages, stage) },
	})

	if len(stages) != 2 || stages[0] != "dispatch" || stages[1] != "resolved" {
		t.Fatalf("stages = %v", stages)
	}
}

func TestAgentWorker_Login(t *testing.T) {
	var called bool
	srv := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" && r.Method == http.MethodPost {
			called = true
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	w := NewAgentWorker(AgentConfig{BaseURL: srv.URL}, zap.NewNop())
	if err := w.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !called {
		t.Fatal("agent login endpoint was not called")
	}
}

func TestAgentWorker_LoginFailure(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	w := NewAgentWorker(AgentConfig{BaseURL: srv.URL}, zap.NewNop())
	if err := w.Login(context.Background()); err == nil {
		t.Fatal("expected login error")
	}
}
