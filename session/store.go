package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agilemobiledev/errai/metric"
)

// Store holds live sessions keyed by session ID and expires idle ones.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl           time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	metrics       *metric.Metrics

	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// StoreOption is a functional option for configuring the store.
type StoreOption func(*Store)

// WithTTL sets the idle timeout after which a session is expired.
// Zero disables expiry.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithSweepInterval sets how often the expiry sweep runs.
func WithSweepInterval(interval time.Duration) StoreOption {
	return func(s *Store) {
		if interval > 0 {
			s.sweepInterval = interval
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics wires the store to the core bus metrics.
func WithMetrics(metrics *metric.Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// NewStore creates a session store. Call Start to enable TTL sweeping.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions:      make(map[string]*Session),
		ttl:           30 * time.Minute,
		sweepInterval: time.Minute,
		logger:        slog.Default().With("component", "session-store"),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a new anonymous session.
func (s *Store) Create() *Session {
	sess := newSession()

	s.mu.Lock()
	s.sessions[sess.id] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordActiveSessions(count)
	}
	s.logger.Debug("session created", "session_id", sess.id)
	return sess
}

// Get returns the session with the given ID, touching it. Returns false for
// unknown or expired sessions.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		sess.Touch()
	}
	return sess, ok
}

// End removes a session and destroys its state. Returns whether a session
// was actually removed.
func (s *Store) End(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return false
	}

	sess.end()
	if s.metrics != nil {
		s.metrics.RecordActiveSessions(count)
	}
	s.logger.Debug("session ended", "session_id", id)
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Start launches the TTL sweeper. Safe to call once; a second call is a
// no-op. The sweeper stops when ctx is canceled or Stop is called.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.ttl <= 0 {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.sweeper(ctx)
}

// Stop halts the TTL sweeper and waits for it to exit.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

func (s *Store) sweeper(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep expires sessions idle for longer than the TTL.
func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			delete(s.sessions, id)
			expired = append(expired, sess)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range expired {
		sess.end()
		s.logger.Info("session expired", "session_id", sess.ID(),
			"idle", time.Since(sess.CreatedAt()).Round(time.Second))
	}
	if len(expired) > 0 && s.metrics != nil {
		s.metrics.RecordActiveSessions(count)
	}
}
