package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return client, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestIdempotencyService_NewRequest(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	result, err := svc.CheckOrReserve(ctx, "profile-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyService_DuplicateRequest(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	// First request
	if _, err := svc.CheckOrReserve(ctx, "profile-1", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	// Duplicate request while still processing
	if _, err := svc.CheckOrReserve(ctx, "profile-1", "key-1"); err != ErrDuplicateRequest {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestIdempotencyService_CachedResult(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	stored := &IdempotencyResult{
		StatusCode: 200,
		Body:       json.RawMessage(`{"added":5,"duplicates":2}`),
		CreatedAt:  time.Now().Unix(),
	}

	if err := svc.Store(ctx, "profile-1", "key-1", stored, IdempotencyTTL); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	result, err := svc.Check(ctx, "profile-1", "key-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected cached result")
	}
	if result.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", result.StatusCode)
	}
	if string(result.Body) != `{"added":5,"duplicates":2}` {
		t.Errorf("unexpected cached body: %s", result.Body)
	}
}

func TestIdempotencyService_ProfileIsolation(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	// Profile A reserves a key
	if _, err := svc.CheckOrReserve(ctx, "profile-A", "same-key"); err != nil {
		t.Fatalf("profile A failed: %v", err)
	}

	// Profile B can use the same key
	result, err := svc.CheckOrReserve(ctx, "profile-B", "same-key")
	if err != nil {
		t.Fatalf("profile B should succeed: %v", err)
	}
	if result != nil {
		t.Fatal("profile B should get nil (new request)")
	}
}

func TestIdempotencyService_ReserveThenStore(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	// Reserve
	reserved, err := svc.Reserve(ctx, "profile-1", "key-1")
	if err != nil || !reserved {
		t.Fatalf("reserve failed: %v, reserved: %v", err, reserved)
	}

	// Store result
	if err := svc.Store(ctx, "profile-1", "key-1", &IdempotencyResult{
		StatusCode: 200,
		Body:       json.RawMessage(`{"added":1}`),
	}, IdempotencyTTL); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	// Check returns stored result
	cached, err := svc.Check(ctx, "profile-1", "key-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if string(cached.Body) != `{"added":1}` {
		t.Errorf("unexpected cached body: %s", cached.Body)
	}
}
