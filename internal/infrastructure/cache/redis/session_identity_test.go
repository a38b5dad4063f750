package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/redis/go-redis/v9"
)

type mockStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	err    error
	keys   []string
	closed bool
}

func (m *mockStore) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.keys = append(m.keys, key)
	if m.err != nil {
		return redis.NewMapStringStringResult(nil, m.err)
	}
	return redis.NewMapStringStringResult(m.hashes[key], nil)
}

func (m *mockStore) Close() error {
	m.closed = true
	return nil
}

func (m *mockStore) set(key string, fields map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[key] = fields
}

func (m *mockStore) lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

func TestSessionIdentity(t *testing.T) {
	tests := []struct {
		name      string
		hash      map[string]string
		err       error
		wantID    string
		wantEmail string
	}{
		{"signed in", map[string]string{"user_id": "u-42", "email": "a@b.c"}, nil, "u-42", "a@b.c"},
		{"no email", map[string]string{"user_id": "u-42"}, nil, "u-42", port.IdentityUnauthenticated},
		{"missing session", nil, nil, port.IdentityUnauthenticated, port.IdentityUnauthenticated},
		{"redis down", nil, errors.New("connection refused"), port.IdentityUninitialized, port.IdentityUninitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{hashes: map[string]map[string]string{}, err: tt.err}
			if tt.hash != nil {
				store.set(SessionKey("s1"), tt.hash)
			}
			provider := newSessionIdentity(store, "s1", nil)

			err := provider.Refresh(context.Background())
			if (err != nil) != (tt.err != nil) {
				t.Fatalf("Refresh() error = %v", err)
			}
			if got := provider.CurrentUserID(); got != tt.wantID {
				t.Errorf("CurrentUserID() = %s, want %s", got, tt.wantID)
			}
			if got := provider.CurrentUserEmail(); got != tt.wantEmail {
				t.Errorf("CurrentUserEmail() = %s, want %s", got, tt.wantEmail)
			}
		})
	}
}

func TestSessionIdentity_KeepsLastSnapshotOnError(t *testing.T) {
	store := &mockStore{hashes: map[string]map[string]string{
		SessionKey("s1"): {"user_id": "u-1"},
	}}
	provider := newSessionIdentity(store, "s1", nil)

	if err := provider.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	store.err = errors.New("timeout")
	if err := provider.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if got := provider.CurrentUserID(); got != "u-1" {
		t.Errorf("CurrentUserID() = %s, want last known u-1", got)
	}
}

func TestSessionIdentity_StartRefreshes(t *testing.T) {
	store := &mockStore{hashes: map[string]map[string]string{}}
	provider := newSessionIdentity(store, "s1", nil)
	provider.Start(5 * time.Millisecond)

	store.set(SessionKey("s1"), map[string]string{"user_id": "late"})

	deadline := time.Now().Add(time.Second)
	for provider.CurrentUserID() != "late" {
		if time.Now().After(deadline) {
			t.Fatalf("session was not refreshed, lookups=%d", store.lookups())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := provider.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !store.closed {
		t.Error("expected client to be closed")
	}
}
