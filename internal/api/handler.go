package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BetaZoneOnline/fb-sender/internal/circuitbreaker"
	"github.com/BetaZoneOnline/fb-sender/internal/db"
	"github.com/BetaZoneOnline/fb-sender/internal/engine"
	"github.com/BetaZoneOnline/fb-sender/internal/export"
	"github.com/BetaZoneOnline/fb-sender/internal/metrics"
	"github.com/BetaZoneOnline/fb-sender/internal/quota"
	"github.com/BetaZoneOnline/fb-sender/internal/redis"
)

// RecordStore defines the Record Store operations the dashboard API uses
type RecordStore interface {
	ImportUIDs(ctx context.Context, profile db.Profile, rawLines []string, now time.Time) (db.ImportSummary, error)
	GetRecord(ctx context.Context, profileID uuid.UUID, uid string) (*db.UidRecord, error)
	ListRecords(ctx context.Context, profile db.Profile, filter db.ExportFilter, now time.Time) ([]*db.UidRecord, error)
	ExportRecords(ctx context.Context, profile db.Profile, filter db.ExportFilter, now time.Time, fn func(*db.UidRecord) error) error
	ListEvents(ctx context.Context, profileID uuid.UUID, uid string, limit int) ([]*db.EventLogEntry, error)
	RetryNow(ctx context.Context, profile db.Profile, uid string, now time.Time) (*db.UidRecord, error)
	MarkPermanentFail(ctx context.Context, profile db.Profile, uid string, now time.Time) (*db.UidRecord, error)
	StatusCounts(ctx context.Context, profileID uuid.UUID) (map[string]int, error)
	GetProfile(ctx context.Context, id uuid.UUID) (db.Profile, error)
	UpdateProfile(ctx context.Context, p db.Profile, now time.Time) (db.Profile, error)
}

// EngineControl is the command surface of the running engine
type EngineControl interface {
	Start() error
	Pause() error
	Resume() error
	Stop() error
	LoginOnly() error
	State() (engine.State, string)
	InflightUID() string
	CooldownRemaining() time.Duration
}

// ImportRequest represents the incoming import body
type ImportRequest struct {
	Lines []string `json:"lines"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	store       RecordStore
	engine      EngineControl
	quota       *quota.Tracker
	notifier    *engine.Notifier
	idempotency *redis.IdempotencyService // nil if Redis not configured
	breaker     *circuitbreaker.CircuitBreaker
	profileID   uuid.UUID
	now         func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, store RecordStore, eng EngineControl, tracker *quota.Tracker, notifier *engine.Notifier, profileID uuid.UUID) *Handler {
	return &Handler{
		logger:    logger,
		store:     store,
		engine:    eng,
		quota:     tracker,
		notifier:  notifier,
		profileID: profileID,
		now:       time.Now,
	}
}

// NewHandlerWithIdempotency creates a handler with import idempotency support
func NewHandlerWithIdempotency(logger *zap.Logger, store RecordStore, eng EngineControl, tracker *quota.Tracker, notifier *engine.Notifier, profileID uuid.UUID, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, store, eng, tracker, notifier, profileID)
	h.idempotency = idempotency
	return h
}

// AttachBreaker exposes agent circuit breaker stats on the status endpoint.
func (h *Handler) AttachBreaker(b *circuitbreaker.CircuitBreaker) {
	h.breaker = b
}

func (h *Handler) profile(ctx context.Context) (db.Profile, error) {
	return h.store.GetProfile(ctx, h.profileID)
}

// ImportUIDs handles POST /v1/uids/import
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) ImportUIDs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if len(req.Lines) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Empty import", "lines must contain at least one entry")
		return
	}

	profile, err := h.profile(ctx)
	if err != nil {
		h.logger.Error("failed to load profile", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load profile", "")
		return
	}

	// Check idempotency if key provided
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, h.profileID.String(), idempotencyKey)

		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another import with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}
	}

	summary, err := h.store.ImportUIDs(ctx, profile, req.Lines, h.now())
	if err != nil {
		h.logger.Error("import failed",
			zap.Error(err),
			zap.Int("lines", len(req.Lines)),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to import UIDs", "")
		return
	}

	metrics.RecordImport("added", summary.Added)
	metrics.RecordImport("duplicate", summary.Duplicates)
	metrics.RecordImport("invalid", len(summary.Invalid))

	h.logger.Info("uids imported",
		zap.Int("added", summary.Added),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("invalid", len(summary.Invalid)),
	)

	body, _ := json.Marshal(summary)

	// Store idempotency result
	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			StatusCode: http.StatusOK,
			Body:       body,
		}
		if err := h.idempotency.Store(ctx, h.profileID.String(), idempotencyKey, result, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ListUIDs handles GET /v1/uids?scope=all|today|selected&uids=a,b,c
func (h *Handler) ListUIDs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid filter", err.Error())
		return
	}

	profile, err := h.profile(ctx)
	if err != nil {
		h.logger.Error("failed to load profile", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load profile", "")
		return
	}

	records, err := h.store.ListRecords(ctx, profile, filter, h.now())
	if err != nil {
		h.logger.Error("failed to list records", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list UIDs", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  records,
		"count": len(records),
	})
}

// GetUID handles GET /v1/uids/{uid}
func (h *Handler) GetUID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := chi.URLParam(r, "uid")

	rec, err := h.store.GetRecord(ctx, h.profileID, uid)
	if err != nil {
		h.writeStoreError(w, err, uid)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rec)
}

// ListUIDEvents handles GET /v1/uids/{uid}/events?limit=100
func (h *Handler) ListUIDEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := chi.URLParam(r, "uid")

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	events, err := h.store.ListEvents(ctx, h.profileID, uid, limit)
	if err != nil {
		h.writeStoreError(w, err, uid)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  events,
		"count": len(events),
	})
}

// ExportUIDs handles GET /v1/uids/export?format=csv|xlsx&scope=all|today|selected&uids=a,b
func (h *Handler) ExportUIDs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid format", err.Error())
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid filter", err.Error())
		return
	}

	profile, err := h.profile(ctx)
	if err != nil {
		h.logger.Error("failed to load profile", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load profile", "")
		return
	}

	now := h.now()
	day, err := db.LocalDay(profile.Timezone, now)
	if err != nil {
		h.logger.Error("failed to resolve local day", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "config_error", "Invalid profile timezone", "")
		return
	}

	disposition := fmt.Sprintf("attachment; filename=%q", format.Filename(day))

	switch format {
	case export.FormatCSV:
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", disposition)

		cw, err := export.NewCSV(w)
		if err != nil {
			h.logger.Error("csv export failed", zap.Error(err))
			return
		}
		if err := h.store.ExportRecords(ctx, profile, filter, now, cw.Write); err != nil {
			// Headers are already out; all we can do is log.
			h.logger.Error("csv export failed", zap.Error(err))
			return
		}
		if err := cw.Flush(); err != nil {
			h.logger.Error("csv export failed", zap.Error(err))
		}

	case export.FormatXLSX:
		xw, err := export.NewXLSX()
		if err != nil {
			h.logger.Error("xlsx export failed", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "export_error", "Failed to build workbook", "")
			return
		}
		if err := h.store.ExportRecords(ctx, profile, filter, now, xw.Write); err != nil {
			h.logger.Error("xlsx export failed", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to export UIDs", "")
			return
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", disposition)
		if err := xw.WriteTo(w); err != nil {
			h.logger.Error("xlsx export failed", zap.Error(err))
		}
	}
}

// RetryUID handles POST /v1/uids/{uid}/retry
func (h *Handler) RetryUID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := chi.URLParam(r, "uid")

	profile, err := h.profile(ctx)
	if err != nil {
		h.logger.Error("failed to load profile", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load profile", "")
		return
	}

	rec, err := h.store.RetryNow(ctx, profile, uid, h.now())
	if err != nil {
		h.writeStoreError(w, err, uid)
		return
	}

	h.logger.Info("manual retry requested",
		zap.String("uid", uid),
		zap.Int("attempts", rec.Attempts),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rec)
}

// FailUID handles POST /v1/uids/{uid}/fail
func (h *Handler) FailUID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := chi.URLParam(r, "uid")

	profile, err := h.profile(ctx)
	if err != nil {
		h.logger.Error("failed to load profile", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load profile", "")
		return
	}

	rec, err := h.store.MarkPermanentFail(ctx, profile, uid, h.now())
	if err != nil {
		h.writeStoreError(w, err, uid)
		return
	}

	h.logger.Info("uid marked permanently failed", zap.String("uid", uid))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rec)
}

// StartEngine handles POST /v1/engine/start
func (h *Handler) StartEngine(w http.ResponseWriter, r *http.Request) {
	h.engineCommand(w, h.engine.Start, "start")
}

// PauseEngine handles POST /v1/engine/pause
func (h *Handler) PauseEngine(w http.ResponseWriter, r *http.Request) {
	h.engineCommand(w, h.engine.Pause, "pause")
}

// ResumeEngine handles POST /v1/engine/resume
func (h *Handler) ResumeEngine(w http.ResponseWriter, r *http.Request) {
	h.engineCommand(w, h.engine.Resume, "resume")
}

// StopEngine handles POST /v1/engine/stop
func (h *Handler) StopEngine(w http.ResponseWriter, r *http.Request) {
	h.engineCommand(w, h.engine.Stop, "stop")
}

// LoginOnly handles POST /v1/engine/login
func (h *Handler) LoginOnly(w http.ResponseWriter, r *http.Request) {
	h.engineCommand(w, h.engine.LoginOnly, "login")
}

func (h *Handler) engineCommand(w http.ResponseWriter, cmd func() error, name string) {
	if err := cmd(); err != nil {
		if errors.Is(err, engine.ErrEngineStopped) {
			h.writeError(w, http.StatusConflict, "engine_stopped", "Engine is stopped", "Restart the process to run again")
			return
		}
		h.logger.Error("engine command failed",
			zap.String("command", name),
			zap.Error(err),
		)
		h.writeError(w, http.StatusServiceUnavailable, "engine_busy", "Engine did not accept the command", err.Error())
		return
	}

	h.logger.Info("engine command accepted", zap.String("command", name))

	state, reason := h.engine.State()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"command": name,
		"state":   string(state),
		"reason":  reason,
	})
}

// EngineStatus handles GET /v1/engine/status
func (h *Handler) EngineStatus(w http.ResponseWriter, r *http.Request) {
	state, reason := h.engine.State()

	resp := map[string]interface{}{
		"state":        string(state),
		"reason":       reason,
		"cooldown_sec": int(h.engine.CooldownRemaining() / time.Second),
	}
	if uid := h.engine.InflightUID(); uid != "" {
		resp["in_flight_uid"] = uid
	}
	if h.breaker != nil {
		resp["agent_breaker"] = h.breaker.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// StreamEvents handles GET /v1/engine/stream as server-sent events.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported", "")
		return
	}

	ch, cancel := h.notifier.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case note, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(note)
			if err != nil {
				h.logger.Warn("failed to marshal notification", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", note.Kind, data)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// QuotaStatus handles GET /v1/quota
func (h *Handler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	profile, err := h.profile(ctx)
	if err != nil {
		h.logger.Error("failed to load profile", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load profile", "")
		return
	}

	status, err := h.quota.Status(ctx, profile, h.now())
	if err != nil {
		h.logger.Error("quota status failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to compute quota", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}

// Stats handles GET /v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.StatusCounts(r.Context(), h.profileID)
	if err != nil {
		h.logger.Error("status counts failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to compute stats", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"statuses": counts})
}

// GetProfile handles GET /v1/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profile(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(profileResponse(profile))
}

// ProfileUpdateRequest is the PUT /v1/profile body. Durations are whole
// seconds to keep the payload editable by hand.
type ProfileUpdateRequest struct {
	Nickname            string `json:"nickname"`
	Timezone            string `json:"timezone"`
	DailyLimit          int    `json:"daily_limit"`
	MaxAttempts         int    `json:"max_attempts"`
	RetryBackoffSec     int    `json:"retry_backoff_sec"`
	RetryBackoffCapSec  int    `json:"retry_backoff_cap_sec"`
	InterUIDDelaySec    int    `json:"inter_uid_delay_sec"`
	HeartbeatTimeoutSec int    `json:"heartbeat_timeout_sec"`
}

// UpdateProfile handles PUT /v1/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.DailyLimit < 1 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid daily_limit", "daily_limit must be >= 1")
		return
	}
	if req.MaxAttempts < 1 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid max_attempts", "max_attempts must be >= 1")
		return
	}
	if req.RetryBackoffSec < 1 || req.RetryBackoffCapSec < req.RetryBackoffSec {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid backoff",
			"retry_backoff_sec must be >= 1 and retry_backoff_cap_sec >= retry_backoff_sec")
		return
	}
	if req.InterUIDDelaySec < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid inter_uid_delay_sec", "inter_uid_delay_sec must be >= 0")
		return
	}
	if req.HeartbeatTimeoutSec < 1 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid heartbeat_timeout_sec", "heartbeat_timeout_sec must be >= 1")
		return
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid timezone", "timezone must be a valid IANA zone name")
		return
	}

	profile, err := h.profile(ctx)
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}

	if req.Nickname != "" {
		profile.Nickname = req.Nickname
	}
	profile.Timezone = req.Timezone
	profile.DailyLimit = req.DailyLimit
	profile.MaxAttempts = req.MaxAttempts
	profile.RetryBackoffBase = time.Duration(req.RetryBackoffSec) * time.Second
	profile.RetryBackoffCap = time.Duration(req.RetryBackoffCapSec) * time.Second
	profile.InterUIDDelay = time.Duration(req.InterUIDDelaySec) * time.Second
	profile.HeartbeatTimeout = time.Duration(req.HeartbeatTimeoutSec) * time.Second

	updated, err := h.store.UpdateProfile(ctx, profile, h.now())
	if err != nil {
		h.logger.Error("profile update failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update profile", "")
		return
	}

	h.logger.Info("profile updated",
		zap.String("timezone", updated.Timezone),
		zap.Int("daily_limit", updated.DailyLimit),
		zap.Int("max_attempts", updated.MaxAttempts),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(profileResponse(updated))
}

func profileResponse(p db.Profile) map[string]interface{} {
	return map[string]interface{}{
		"id":                    p.ID.String(),
		"nickname":              p.Nickname,
		"timezone":              p.Timezone,
		"daily_limit":           p.DailyLimit,
		"max_attempts":          p.MaxAttempts,
		"retry_backoff_sec":     int(p.RetryBackoffBase / time.Second),
		"retry_backoff_cap_sec": int(p.RetryBackoffCap / time.Second),
		"inter_uid_delay_sec":   int(p.InterUIDDelay / time.Second),
		"heartbeat_timeout_sec": int(p.HeartbeatTimeout / time.Second),
		"created_at":            p.CreatedAt,
		"updated_at":            p.UpdatedAt,
	}
}

func parseFilter(r *http.Request) (db.ExportFilter, error) {
	scope := r.URL.Query().Get("scope")
	switch scope {
	case "", "all":
		return db.ExportFilter{Scope: db.ScopeAll}, nil
	case "today":
		return db.ExportFilter{Scope: db.ScopeToday}, nil
	case "selected":
		raw := strings.TrimSpace(r.URL.Query().Get("uids"))
		if raw == "" {
			return db.ExportFilter{}, errors.New("scope=selected requires a uids parameter")
		}
		var uids []string
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				uids = append(uids, u)
			}
		}
		if len(uids) == 0 {
			return db.ExportFilter{}, errors.New("scope=selected requires at least one uid")
		}
		return db.ExportFilter{Scope: db.ScopeSelected, UIDs: uids}, nil
	default:
		return db.ExportFilter{}, fmt.Errorf("unknown scope %q", scope)
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, uid string) {
	switch {
	case errors.Is(err, db.ErrRecordNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "UID not found", uid)
	case errors.Is(err, db.ErrProfileNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Profile not found", "")
	case errors.Is(err, db.ErrNotRetryable):
		h.writeError(w, http.StatusConflict, "not_retryable", "UID is not in a retryable state", uid)
	case errors.Is(err, db.ErrInvalidState):
		h.writeError(w, http.StatusConflict, "invalid_state", "UID is not in a state that allows this operation", uid)
	default:
		h.logger.Error("store operation failed",
			zap.Error(err),
			zap.String("uid", uid),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Storage operation failed", "")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
