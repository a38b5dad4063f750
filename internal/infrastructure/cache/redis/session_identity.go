package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	fieldUserID = "user_id"
	fieldEmail  = "email"
)

// Options describes the Redis connection
type Options struct {
	Host         string
	Port         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type sessionStore interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Close() error
}

type identity struct {
	userID string
	email  string
}

// SessionIdentity implements IdentityProvider on top of a Redis session hash.
// Lookups hit a local snapshot; Refresh (and the background loop) reload it.
type SessionIdentity struct {
	client    sessionStore
	sessionID string
	timeout   time.Duration
	logger    *logger.Logger

	current atomic.Pointer[identity]

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionIdentity creates a Redis-backed identity provider and loads the session once
func NewSessionIdentity(opts Options, sessionID string, log *logger.Logger) (*SessionIdentity, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", opts.Host, opts.Port),
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		MaxRetries:   3,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := newSessionIdentity(client, sessionID, log)
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("Initial session load failed", "session", sessionID, "error", err.Error())
	}
	return s, nil
}

func newSessionIdentity(client sessionStore, sessionID string, log *logger.Logger) *SessionIdentity {
	if log == nil {
		log = logger.Nop()
	}
	return &SessionIdentity{
		client:    client,
		sessionID: sessionID,
		timeout:   time.Second,
		logger:    log.With("component", "redis_identity"),
		stopCh:    make(chan struct{}),
	}
}

// SessionKey returns the hash key holding a session
func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

// Refresh reloads the session hash. A missing or empty hash means nobody is signed in.
func (s *SessionIdentity) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, SessionKey(s.sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	next := &identity{
		userID: fields[fieldUserID],
		email:  fields[fieldEmail],
	}
	if next.userID == "" {
		next.userID = port.IdentityUnauthenticated
	}
	if next.email == "" {
		next.email = port.IdentityUnauthenticated
	}
	s.current.Store(next)
	return nil
}

// Start reloads the session every interval until Close
func (s *SessionIdentity) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Refresh(context.Background()); err != nil {
					s.logger.Warn("Session refresh failed", "error", err.Error())
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// CurrentUserID returns the signed-in user or a sentinel
func (s *SessionIdentity) CurrentUserID() string {
	current := s.current.Load()
	if current == nil {
		return port.IdentityUninitialized
	}
	return current.userID
}

// CurrentUserEmail returns the signed-in user's email or a sentinel
func (s *SessionIdentity) CurrentUserEmail() string {
	current := s.current.Load()
	if current == nil {
		return port.IdentityUninitialized
	}
	return current.email
}

// Close stops the refresh loop and closes the Redis connection
func (s *SessionIdentity) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return s.client.Close()
}
