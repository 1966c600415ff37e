package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/BetaZoneOnline/fb-sender/internal/db"
	"github.com/BetaZoneOnline/fb-sender/internal/engine"
	"github.com/BetaZoneOnline/fb-sender/internal/quota"
	"github.com/BetaZoneOnline/fb-sender/internal/redis"
)

// mockStore is an in-memory RecordStore plus quota counter source.
type mockStore struct {
	profile db.Profile
	records map[string]*db.UidRecord
	events  []*db.EventLogEntry
	counts  map[string]int
	counter db.DailyCounter

	importSummary db.ImportSummary
	importErr     error
	retryErr      error
	failErr       error

	importedLines []string
	eventsLimit   int
}

func newMockStore() *mockStore {
	return &mockStore{
		profile: db.Profile{
			ID:               uuid.New(),
			Nickname:         "default",
			Timezone:         "UTC",
			DailyLimit:       50,
			MaxAttempts:      3,
			RetryBackoffBase: time.Minute,
			RetryBackoffCap:  15 * time.Minute,
			InterUIDDelay:    20 * time.Second,
			HeartbeatTimeout: 5 * time.Minute,
		},
		records: make(map[string]*db.UidRecord),
		counts:  make(map[string]int),
	}
}

func (m *mockStore) addRecord(uid, status string) *db.UidRecord {
	rec := &db.UidRecord{
		ID:            uuid.New(),
		ProfileID:     m.profile.ID,
		RawInput:      uid,
		UID:           uid,
		Status:        status,
		FirstSeenAt:   time.Now(),
		LastUpdatedAt: time.Now(),
	}
	m.records[uid] = rec
	return rec
}

func (m *mockStore) ImportUIDs(ctx context.Context, profile db.Profile, rawLines []string, now time.Time) (db.ImportSummary, error) {
	m.importedLines = rawLines
	if m.importErr != nil {
		return db.ImportSummary{}, m.importErr
	}
	return m.importSummary, nil
}

func (m *mockStore) GetRecord(ctx context.Context, profileID uuid.UUID, uid string) (*db.UidRecord, error) {
	rec, ok := m.records[uid]
	if !ok {
		return nil, db.ErrRecordNotFound
	}
	return rec, nil
}

func (m *mockStore) ListRecords(ctx context.Context, profile db.Profile, filter db.ExportFilter, now time.Time) ([]*db.UidRecord, error) {
	var out []*db.UidRecord
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockStore) ExportRecords(ctx context.Context, profile db.Profile, filter db.ExportFilter, now time.Time, fn func(*db.UidRecord) error) error {
	for _, rec := range m.records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockStore) ListEvents(ctx context.Context, profileID uuid.UUID, uid string, limit int) ([]*db.EventLogEntry, error) {
	m.eventsLimit = limit
	if _, ok := m.records[uid]; !ok {
		return nil, db.ErrRecordNotFound
	}
	return m.events, nil
}

func (m *mockStore) RetryNow(ctx context.Context, profile db.Profile, uid string, now time.Time) (*db.UidRecord, error) {
	if m.retryErr != nil {
		return nil, m.retryErr
	}
	rec, ok := m.records[uid]
	if !ok {
		return nil, db.ErrRecordNotFound
	}
	rec.Status = db.StatusFailRetryable
	rec.NextRetryAt = &now
	return rec, nil
}

func (m *mockStore) MarkPermanentFail(ctx context.Context, profile db.Profile, uid string, now time.Time) (*db.UidRecord, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	rec, ok := m.records[uid]
	if !ok {
		return nil, db.ErrRecordNotFound
	}
	rec.Status = db.StatusFailPerm
	return rec, nil
}

func (m *mockStore) StatusCounts(ctx context.Context, profileID uuid.UUID) (map[string]int, error) {
	return m.counts, nil
}

func (m *mockStore) GetProfile(ctx context.Context, id uuid.UUID) (db.Profile, error) {
	return m.profile, nil
}

func (m *mockStore) UpdateProfile(ctx context.Context, p db.Profile, now time.Time) (db.Profile, error) {
	p.UpdatedAt = now
	m.profile = p
	return p, nil
}

func (m *mockStore) DailySnapshot(ctx context.Context, profileID uuid.UUID, day string) (db.DailyCounter, error) {
	return m.counter, nil
}

// mockEngine records commands and serves canned state.
type mockEngine struct {
	state    engine.State
	reason   string
	inflight string
	cooldown time.Duration
	err      error
	commands []string
}

func (m *mockEngine) command(name string) error {
	m.commands = append(m.commands, name)
	return m.err
}

func (m *mockEngine) Start() error     { return m.command("start") }
func (m *mockEngine) Pause() error     { return m.command("pause") }
func (m *mockEngine) Resume() error    { return m.command("resume") }
func (m *mockEngine) Stop() error      { return m.command("stop") }
func (m *mockEngine) LoginOnly() error { return m.command("login") }

func (m *mockEngine) State() (engine.State, string)    { return m.state, m.reason }
func (m *mockEngine) InflightUID() string              { return m.inflight }
func (m *mockEngine) CooldownRemaining() time.Duration { return m.cooldown }

func newTestHandler(store *mockStore, eng *mockEngine) *Handler {
	notifier := engine.NewNotifier()
	return NewHandler(zap.NewNop(), store, eng, quota.NewTracker(store), notifier, store.profile.ID)
}

func testRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/uids/import", h.ImportUIDs)
		r.Get("/uids", h.ListUIDs)
		r.Get("/uids/export", h.ExportUIDs)
		r.Get("/uids/{uid}", h.GetUID)
		r.Get("/uids/{uid}/events", h.ListUIDEvents)
		r.Post("/uids/{uid}/retry", h.RetryUID)
		r.Post("/uids/{uid}/fail", h.FailUID)
		r.Post("/engine/start", h.StartEngine)
		r.Post("/engine/pause", h.PauseEngine)
		r.Post("/engine/resume", h.ResumeEngine)
		r.Post("/engine/stop", h.StopEngine)
		r.Post("/engine/login", h.LoginOnly)
		r.Get("/engine/status", h.EngineStatus)
		r.Get("/quota", h.QuotaStatus)
		r.Get("/stats", h.Stats)
		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.UpdateProfile)
	})
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestImportUIDs(t *testing.T) {
	store := newMockStore()
	store.importSummary = db.ImportSummary{Added: 3, Duplicates: 1, Invalid: []string{"not a uid"}}
	router := testRouter(newTestHandler(store, &mockEngine{state: engine.StateIdle}))

	rec := doRequest(t, router, "POST", "/v1/uids/import",
		ImportRequest{Lines: []string{"100001", "100002", "100003", "100001", "not a uid"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var summary db.ImportSummary
	decodeJSON(t, rec, &summary)
	if summary.Added != 3 || summary.Duplicates != 1 || len(summary.Invalid) != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(store.importedLines) != 5 {
		t.Fatalf("lines passed to store = %d", len(store.importedLines))
	}
}

func TestImportUIDs_EmptyBody(t *testing.T) {
	router := testRouter(newTestHandler(newMockStore(), &mockEngine{}))

	rec := doRequest(t, router, "POST", "/v1/uids/import", ImportRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestImportUIDs_MalformedJSON(t *testing.T) {
	router := testRouter(newTestHandler(newMockStore(), &mockEngine{}))

	req := httptest.NewRequest("POST", "/v1/uids/import", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content-type = %s", ct)
	}
}

func setupIdempotency(t *testing.T) *redis.IdempotencyService {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}
	client, err := redis.New(context.Background(), redis.Config{Host: mr.Host(), Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return redis.NewIdempotencyService(client, zap.NewNop())
}

func TestImportUIDs_IdempotencyReplay(t *testing.T) {
	store := newMockStore()
	store.importSummary = db.ImportSummary{Added: 2}

	notifier := engine.NewNotifier()
	h := NewHandlerWithIdempotency(zap.NewNop(), store, &mockEngine{}, quota.NewTracker(store),
		notifier, store.profile.ID, setupIdempotency(t))
	router := testRouter(h)

	body, _ := json.Marshal(ImportRequest{Lines: []string{"100001", "100002"}})

	first := httptest.NewRequest("POST", "/v1/uids/import", bytes.NewReader(body))
	first.Header.Set("Idempotency-Key", "import-batch-7")
	firstRec := httptest.NewRecorder()
	router.ServeHTTP(firstRec, first)
	if firstRec.Code != http.StatusOK {
		t.Fatalf("first import status = %d", firstRec.Code)
	}
	if firstRec.Header().Get("X-Idempotency-Replayed") != "" {
		t.Fatal("first request must not be a replay")
	}

	// Same key again: replayed from cache without touching the store.
	store.importedLines = nil
	second := httptest.NewRequest("POST", "/v1/uids/import", bytes.NewReader(body))
	second.Header.Set("Idempotency-Key", "import-batch-7")
	secondRec := httptest.NewRecorder()
	router.ServeHTTP(secondRec, second)

	if secondRec.Code != http.StatusOK {
		t.Fatalf("replay status = %d", secondRec.Code)
	}
	if secondRec.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Fatal("expected replay header")
	}
	if store.importedLines != nil {
		t.Fatal("replayed request must not re-import")
	}
	if firstRec.Body.String() != secondRec.Body.String() {
		t.Fatalf("replay body %q != original %q", secondRec.Body.String(), firstRec.Body.String())
	}
}

func TestImportUIDs_IdempotencyInProgress(t *testing.T) {
	store := newMockStore()
	svc := setupIdempotency(t)

	// Simulate a concurrent import holding the key.
	if _, err := svc.Reserve(context.Background(), store.profile.ID.String(), "busy-key"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	notifier := engine.NewNotifier()
	h := NewHandlerWithIdempotency(zap.NewNop(), store, &mockEngine{}, quota.NewTracker(store),
		notifier, store.profile.ID, svc)
	router := testRouter(h)

	body, _ := json.Marshal(ImportRequest{Lines: []string{"100001"}})
	req := httptest.NewRequest("POST", "/v1/uids/import", bytes.NewReader(body))
	req.Header.Set("Idempotency-Key", "busy-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestGetUID(t *testing.T) {
	store := newMockStore()
	store.addRecord("100001", db.StatusSuccess)
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/uids/100001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got db.UidRecord
	decodeJSON(t, rec, &got)
	if got.UID != "100001" || got.Status != db.StatusSuccess {
		t.Fatalf("record = %+v", got)
	}
}

func TestGetUID_NotFound(t *testing.T) {
	router := testRouter(newTestHandler(newMockStore(), &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/uids/999999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListUIDs(t *testing.T) {
	store := newMockStore()
	store.addRecord("100001", db.StatusFresh)
	store.addRecord("100002", db.StatusSuccess)
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/uids?scope=all", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
}

func TestListUIDs_BadScope(t *testing.T) {
	router := testRouter(newTestHandler(newMockStore(), &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/uids?scope=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListUIDs_SelectedRequiresUIDs(t *testing.T) {
	router := testRouter(newTestHandler(newMockStore(), &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/uids?scope=selected", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = doRequest(t, router, "GET", "/v1/uids?scope=selected&uids=100001,100002", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with uids = %d", rec.Code)
	}
}

func TestListUIDEvents_LimitClamp(t *testing.T) {
	store := newMockStore()
	store.addRecord("100001", db.StatusSuccess)
	router := testRouter(newTestHandler(store, &mockEngine{}))

	doRequest(t, router, "GET", "/v1/uids/100001/events?limit=25", nil)
	if store.eventsLimit != 25 {
		t.Fatalf("limit = %d, want 25", store.eventsLimit)
	}

	// Out-of-range limits fall back to the default.
	doRequest(t, router, "GET", "/v1/uids/100001/events?limit=5000", nil)
	if store.eventsLimit != 100 {
		t.Fatalf("limit = %d, want default 100", store.eventsLimit)
	}
}

func TestRetryUID(t *testing.T) {
	store := newMockStore()
	store.addRecord("100001", db.StatusFailPerm)
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "POST", "/v1/uids/100001/retry", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got db.UidRecord
	decodeJSON(t, rec, &got)
	if got.Status != db.StatusFailRetryable {
		t.Fatalf("status = %s, want FAIL_RETRYABLE", got.Status)
	}
}

func TestRetryUID_NotRetryable(t *testing.T) {
	store := newMockStore()
	store.addRecord("100001", db.StatusInProgress)
	store.retryErr = db.ErrNotRetryable
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "POST", "/v1/uids/100001/retry", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestFailUID(t *testing.T) {
	store := newMockStore()
	store.addRecord("100001", db.StatusFailRetryable)
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "POST", "/v1/uids/100001/fail", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got db.UidRecord
	decodeJSON(t, rec, &got)
	if got.Status != db.StatusFailPerm {
		t.Fatalf("status = %s, want FAIL_PERM", got.Status)
	}
}

func TestEngineCommands(t *testing.T) {
	eng := &mockEngine{state: engine.StateRunning}
	router := testRouter(newTestHandler(newMockStore(), eng))

	for _, cmd := range []string{"start", "pause", "resume", "stop", "login"} {
		rec := doRequest(t, router, "POST", "/v1/engine/"+cmd, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("%s status = %d, want 202", cmd, rec.Code)
		}

		var resp map[string]string
		decodeJSON(t, rec, &resp)
		if resp["command"] != cmd {
			t.Fatalf("command echo = %q, want %q", resp["command"], cmd)
		}
		if resp["state"] != string(engine.StateRunning) {
			t.Fatalf("state = %q", resp["state"])
		}
	}

	want := []string{"start", "pause", "resume", "stop", "login"}
	if len(eng.commands) != len(want) {
		t.Fatalf("commands = %v", eng.commands)
	}
	for i, cmd := range want {
		if eng.commands[i] != cmd {
			t.Fatalf("commands = %v, want %v", eng.commands, want)
		}
	}
}

func TestEngineCommand_Stopped(t *testing.T) {
	eng := &mockEngine{state: engine.StateStopped, err: engine.ErrEngineStopped}
	router := testRouter(newTestHandler(newMockStore(), eng))

	rec := doRequest(t, router, "POST", "/v1/engine/start", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestEngineStatus(t *testing.T) {
	eng := &mockEngine{
		state:    engine.StateRunning,
		inflight: "100001",
		cooldown: 42 * time.Second,
	}
	router := testRouter(newTestHandler(newMockStore(), eng))

	rec := doRequest(t, router, "GET", "/v1/engine/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	if resp["state"] != "RUNNING" {
		t.Errorf("state = %v", resp["state"])
	}
	if resp["in_flight_uid"] != "100001" {
		t.Errorf("in_flight_uid = %v", resp["in_flight_uid"])
	}
	if resp["cooldown_sec"] != float64(42) {
		t.Errorf("cooldown_sec = %v", resp["cooldown_sec"])
	}
}

func TestQuotaStatus(t *testing.T) {
	store := newMockStore()
	store.counter = db.DailyCounter{Success: 12, FailPerm: 3}
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/quota", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var status quota.Status
	decodeJSON(t, rec, &status)
	if status.Limit != 50 || status.Success != 12 || status.FailPerm != 3 {
		t.Fatalf("status = %+v", status)
	}
	if status.Remaining != 35 {
		t.Fatalf("remaining = %d, want 35", status.Remaining)
	}
}

func TestStats(t *testing.T) {
	store := newMockStore()
	store.counts = map[string]int{
		db.StatusFresh:   10,
		db.StatusSuccess: 5,
	}
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Statuses map[string]int `json:"statuses"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Statuses[db.StatusFresh] != 10 || resp.Statuses[db.StatusSuccess] != 5 {
		t.Fatalf("statuses = %v", resp.Statuses)
	}
}

func TestExportUIDs_CSV(t *testing.T) {
	store := newMockStore()
	store.addRecord("100001", db.StatusSuccess)
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/uids/export?format=csv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content-type = %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "uids-") || !strings.Contains(cd, ".csv") {
		t.Errorf("content-disposition = %s", cd)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	if rows[0][0] != "uid" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "100001" || rows[1][2] != db.StatusSuccess {
		t.Errorf("row = %v", rows[1])
	}
}

func TestExportUIDs_XLSX(t *testing.T) {
	store := newMockStore()
	store.addRecord("100001", db.StatusFresh)
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/uids/export?format=xlsx", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer book.Close()

	rows, err := book.GetRows("UIDs")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	if rows[1][0] != "100001" {
		t.Errorf("row = %v", rows[1])
	}
}

func TestExportUIDs_BadFormat(t *testing.T) {
	router := testRouter(newTestHandler(newMockStore(), &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/uids/export?format=pdf", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetProfile(t *testing.T) {
	store := newMockStore()
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "GET", "/v1/profile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	if resp["timezone"] != "UTC" || resp["daily_limit"] != float64(50) {
		t.Fatalf("profile = %v", resp)
	}
	if resp["retry_backoff_sec"] != float64(60) {
		t.Fatalf("retry_backoff_sec = %v", resp["retry_backoff_sec"])
	}
}

func TestUpdateProfile(t *testing.T) {
	store := newMockStore()
	router := testRouter(newTestHandler(store, &mockEngine{}))

	rec := doRequest(t, router, "PUT", "/v1/profile", ProfileUpdateRequest{
		Timezone:            "America/New_York",
		DailyLimit:          80,
		MaxAttempts:         5,
		RetryBackoffSec:     30,
		RetryBackoffCapSec:  600,
		InterUIDDelaySec:    10,
		HeartbeatTimeoutSec: 120,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if store.profile.Timezone != "America/New_York" {
		t.Errorf("timezone = %s", store.profile.Timezone)
	}
	if store.profile.DailyLimit != 80 || store.profile.MaxAttempts != 5 {
		t.Errorf("profile = %+v", store.profile)
	}
	if store.profile.RetryBackoffBase != 30*time.Second || store.profile.RetryBackoffCap != 600*time.Second {
		t.Errorf("backoff = %v / %v", store.profile.RetryBackoffBase, store.profile.RetryBackoffCap)
	}
}

func TestUpdateProfile_Validation(t *testing.T) {
	valid := ProfileUpdateRequest{
		Timezone:            "UTC",
		DailyLimit:          50,
		MaxAttempts:         3,
		RetryBackoffSec:     60,
		RetryBackoffCapSec:  900,
		InterUIDDelaySec:    20,
		HeartbeatTimeoutSec: 300,
	}

	tests := []struct {
		name   string
		mutate func(*ProfileUpdateRequest)
	}{
		{"zero daily limit", func(r *ProfileUpdateRequest) { r.DailyLimit = 0 }},
		{"zero max attempts", func(r *ProfileUpdateRequest) { r.MaxAttempts = 0 }},
		{"cap below base", func(r *ProfileUpdateRequest) { r.RetryBackoffCapSec = 10 }},
		{"negative inter uid delay", func(r *ProfileUpdateRequest) { r.InterUIDDelaySec = -1 }},
		{"zero heartbeat timeout", func(r *ProfileUpdateRequest) { r.HeartbeatTimeoutSec = 0 }},
		{"bogus timezone", func(r *ProfileUpdateRequest) { r.Timezone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			router := testRouter(newTestHandler(store, &mockEngine{}))

			req := valid
			tt.mutate(&req)

			rec := doRequest(t, router, "PUT", "/v1/profile", req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}
