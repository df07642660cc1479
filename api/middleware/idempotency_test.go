package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgredis "github.com/merkadoph/merkado-backend/pkg/redis"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok {
		return "", pkgredis.Nil
	}
	return value, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value.(string)
	return nil
}

func (s *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = value.(string)
	return true, nil
}

func (s *memoryStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (s *memoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func callWithKey(t *testing.T, handler http.Handler, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/cash-in", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"p1"}}`))
	}))

	first := callWithKey(t, handler, "key-1", `{"amount_cents":10000}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := callWithKey(t, handler, "key-1", `{"amount_cents":10000}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls, "handler must run once")
}

func TestIdempotencyRejectsBodyMismatch(t *testing.T) {
	store := newMemoryStore()
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	first := callWithKey(t, handler, "key-1", `{"amount_cents":10000}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := callWithKey(t, handler, "key-1", `{"amount_cents":99999}`)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "IDEMPOTENCY_KEY_REUSED")
}

func TestIdempotencyInProgressConflicts(t *testing.T) {
	store := newMemoryStore()
	release := make(chan struct{})
	started := make(chan struct{})
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusCreated)
	}))

	go func() {
		callWithKey(t, handler, "key-1", `{}`)
	}()
	<-started

	blocked := callWithKey(t, handler, "key-1", `{}`)
	assert.Equal(t, http.StatusConflict, blocked.Code)
	assert.Contains(t, blocked.Body.String(), "in progress")
	close(release)
}

func TestIdempotencyFailureReleasesKey(t *testing.T) {
	store := newMemoryStore()
	attempt := 0
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := callWithKey(t, handler, "key-1", `{}`)
	require.Equal(t, http.StatusBadGateway, first.Code)

	// Failed attempt released the key, so the retry runs the handler again.
	second := callWithKey(t, handler, "key-1", `{}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 2, attempt)
}

func TestIdempotencyNoKeyPassesThrough(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	callWithKey(t, handler, "", `{}`)
	callWithKey(t, handler, "", `{}`)
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}
