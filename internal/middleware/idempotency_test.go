package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/MailGuard/internal/middleware"
)

// memCache is an in-memory cache.Cache for testing.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func countingHandler(status int) (http.Handler, *int) {
	calls := 0
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, calls)
	}), &calls
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysSuccess(t *testing.T) {
	next, calls := countingHandler(http.StatusCreated)
	h := middleware.Idempotency(newMemCache(), time.Hour)(next)

	first := post(h, "/api/v1/analyses", "k1")
	second := post(h, "/api/v1/analyses", "k1")

	if *calls != 1 {
		t.Fatalf("handler called %d times, want 1", *calls)
	}
	if second.Code != http.StatusCreated {
		t.Errorf("replayed status = %d, want 201", second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replayed body %q, want %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Idempotent-Replay") != "true" {
		t.Error("expected Idempotent-Replay header on replay")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", second.Header().Get("Content-Type"))
	}
}

func TestIdempotencyWithoutKey(t *testing.T) {
	next, calls := countingHandler(http.StatusOK)
	h := middleware.Idempotency(newMemCache(), time.Hour)(next)

	post(h, "/api/v1/analyses", "")
	post(h, "/api/v1/analyses", "")

	if *calls != 2 {
		t.Errorf("handler called %d times, want 2", *calls)
	}
}

func TestIdempotencyKeyScopedByPath(t *testing.T) {
	next, calls := countingHandler(http.StatusOK)
	h := middleware.Idempotency(newMemCache(), time.Hour)(next)

	post(h, "/api/v1/actions/a1/approve", "k")
	post(h, "/api/v1/actions/a2/approve", "k")

	if *calls != 2 {
		t.Errorf("handler called %d times, want 2", *calls)
	}
}

func TestIdempotencyDoesNotStoreErrors(t *testing.T) {
	next, calls := countingHandler(http.StatusConflict)
	h := middleware.Idempotency(newMemCache(), time.Hour)(next)

	post(h, "/api/v1/actions/a1/approve", "k")
	post(h, "/api/v1/actions/a1/approve", "k")

	if *calls != 2 {
		t.Errorf("handler called %d times, want 2 (errors are retryable)", *calls)
	}
}

func TestIdempotencyIgnoresGET(t *testing.T) {
	next, calls := countingHandler(http.StatusOK)
	h := middleware.Idempotency(newMemCache(), time.Hour)(next)

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/approvals", http.NoBody)
		req.Header.Set("Idempotency-Key", "k")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	if *calls != 2 {
		t.Errorf("handler called %d times, want 2", *calls)
	}
}

func TestIdempotencyCorruptEntry(t *testing.T) {
	c := newMemCache()
	_ = c.Set(context.Background(), "idem:/api/v1/analyses:k", []byte("not json"), time.Hour)
	next, calls := countingHandler(http.StatusOK)
	h := middleware.Idempotency(c, time.Hour)(next)

	rec := post(h, "/api/v1/analyses", "k")
	if *calls != 1 || rec.Code != http.StatusOK {
		t.Errorf("corrupt entry should fall through to handler, calls=%d code=%d", *calls, rec.Code)
	}
}
