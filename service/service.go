package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilemobiledev/errai/auth"
	"github.com/agilemobiledev/errai/bus"
	"github.com/agilemobiledev/errai/errors"
	"github.com/agilemobiledev/errai/health"
	"github.com/agilemobiledev/errai/message"
	"github.com/agilemobiledev/errai/metric"
	"github.com/agilemobiledev/errai/pkg/worker"
	"github.com/agilemobiledev/errai/session"
)

// ErraiService is the façade every bus client talks to: it accepts messages
// for dispatch and exposes the shared bus for subscribers.
type ErraiService interface {
	// Store enqueues a message for authorized routing.
	Store(msg *message.CommandMessage) error
	// GetBus returns the shared message bus.
	GetBus() bus.MessageBus
}

// Status represents the current status of the service
type Status int

// Possible service statuses
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Info holds runtime information for the service
type Info struct {
	Name              string        `json:"name"`
	Status            Status        `json:"status"`
	Uptime            time.Duration `json:"uptime"`
	StartTime         time.Time     `json:"start_time"`
	MessagesProcessed int64         `json:"messages_processed"`
	MessagesRejected  int64         `json:"messages_rejected"`
	ActiveSessions    int           `json:"active_sessions"`
}

// Option is a functional option for configuring the service
type Option func(*Service)

// WithLogger sets a custom logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRegistry wires the service and its dispatch pool to the
// metrics registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Service) {
		s.metricsRegistry = registry
	}
}

// WithDispatchPool sets the shard and queue sizes of the dispatch pool
func WithDispatchPool(shards, queueSize int) Option {
	return func(s *Service) {
		s.poolShards = shards
		s.poolQueueSize = queueSize
	}
}

// Service is the standard ErraiService implementation.
type Service struct {
	name     string
	bus      bus.MessageBus
	adapter  auth.AuthorizationAdapter
	sessions *session.Store

	pool          *worker.Pool[*message.CommandMessage]
	poolShards    int
	poolQueueSize int

	logger          *slog.Logger
	metricsRegistry *metric.MetricsRegistry

	status    atomic.Value // Status
	startTime atomic.Value // time.Time
	processed atomic.Int64
	rejected  atomic.Int64

	authSub *bus.Subscription
	mu      sync.Mutex
}

// New creates the bus service. All three collaborators are required; the
// service refuses to exist without an authorization adapter rather than
// silently skipping the gate.
func New(name string, b bus.MessageBus, adapter auth.AuthorizationAdapter, sessions *session.Store, opts ...Option) (*Service, error) {
	if b == nil || adapter == nil || sessions == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Service", "New", "collaborator check")
	}

	s := &Service{
		name:          name,
		bus:           b,
		adapter:       adapter,
		sessions:      sessions,
		poolShards:    8,
		poolQueueSize: 512,
		logger:        slog.Default().With("service", name),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.status.Store(StatusStopped)
	s.startTime.Store(time.Time{})
	return s, nil
}

// Name returns the service name
func (s *Service) Name() string {
	return s.name
}

// Status returns the current service status
func (s *Service) Status() Status {
	return s.status.Load().(Status)
}

func (s *Service) setStatus(status Status) {
	s.status.Store(status)
	if s.metricsRegistry != nil {
		s.metricsRegistry.CoreMetrics().RecordServiceStatus(s.name, int(status))
	}
}

// GetBus returns the shared message bus for subscribers.
func (s *Service) GetBus() bus.MessageBus {
	return s.bus
}

// Sessions returns the session store owned by this service.
func (s *Service) Sessions() *session.Store {
	return s.sessions
}

// Start brings up the dispatch pool, the session sweeper, and the built-in
// authorization subject.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != StatusStopped {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Service", "Start", "status check")
	}
	s.setStatus(StatusStarting)

	var poolOpts []worker.Option[*message.CommandMessage]
	if s.metricsRegistry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[*message.CommandMessage](s.metricsRegistry, "errai_dispatch"))
	}
	s.pool = worker.NewPool(s.poolShards, s.poolQueueSize, s.dispatch, poolOpts...)
	if err := s.pool.Start(ctx); err != nil {
		s.setStatus(StatusStopped)
		return errors.Wrap(err, "Service", "Start", "dispatch pool startup")
	}

	authSub, err := s.bus.Subscribe(message.SubjectAuthorizationService, s.handleAuthCommand)
	if err != nil {
		_ = s.pool.Stop(time.Second)
		s.setStatus(StatusStopped)
		return errors.Wrap(err, "Service", "Start", "authorization subject subscription")
	}
	s.authSub = authSub

	s.sessions.Start(ctx)

	s.startTime.Store(time.Now())
	s.setStatus(StatusRunning)
	s.logger.Info("service started", "dispatch_shards", s.poolShards)
	return nil
}

// Stop drains the dispatch pool and shuts the service down.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.Status()
	if status == StatusStopped || status == StatusStopping {
		return nil
	}
	s.setStatus(StatusStopping)

	if timeout == 0 {
		timeout = 5 * time.Second
	}

	s.bus.Unsubscribe(s.authSub)

	err := s.pool.Stop(timeout)
	s.sessions.Stop()

	s.setStatus(StatusStopped)
	s.logger.Info("service stopped")
	return err
}

// Store accepts a message for authorized dispatch. Non-blocking: a full
// dispatch shard rejects the message with a transient error.
func (s *Service) Store(msg *message.CommandMessage) error {
	if s.Status() != StatusRunning {
		return errors.WrapTransient(errors.ErrNotStarted, "Service", "Store", "status check")
	}
	if msg == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Service", "Store", "nil message check")
	}
	if err := msg.Validate(); err != nil {
		return errors.WrapInvalid(err, "Service", "Store", "message validation")
	}

	if s.metricsRegistry != nil {
		s.metricsRegistry.CoreMetrics().RecordMessageStored(msg.Subject())
	}

	if err := s.pool.Submit(msg.Subject(), msg); err != nil {
		return errors.WrapTransient(err, "Service", "Store", "dispatch enqueue for "+msg.Subject())
	}
	return nil
}

// Health reports the service health status.
func (s *Service) Health() health.Status {
	switch s.Status() {
	case StatusRunning:
		return health.NewHealthy(s.name, "Service operating normally")
	case StatusStarting:
		return health.NewDegraded(s.name, "Service is starting")
	case StatusStopping:
		return health.NewDegraded(s.name, "Service is stopping")
	default:
		return health.NewUnhealthy(s.name, "Service is stopped")
	}
}

// GetStatus returns the current service information
func (s *Service) GetStatus() Info {
	startTime := s.startTime.Load().(time.Time)
	uptime := time.Duration(0)
	if !startTime.IsZero() && s.Status() == StatusRunning {
		uptime = time.Since(startTime)
	}

	return Info{
		Name:              s.name,
		Status:            s.Status(),
		Uptime:            uptime,
		StartTime:         startTime,
		MessagesProcessed: s.processed.Load(),
		MessagesRejected:  s.rejected.Load(),
		ActiveSessions:    s.sessions.Len(),
	}
}

// dispatch is the pool processor: it converges session state, applies the
// subject's security rule, and either delivers the message or sends the
// denial flow back to the client.
func (s *Service) dispatch(_ context.Context, msg *message.CommandMessage) error {
	s.adapter.Process(msg)

	if s.adapter.RequiresAuthorization(msg) {
		s.reject(msg)
		return errors.WrapInvalid(errors.ErrNotAuthorized, "Service", "dispatch", "subject "+msg.Subject())
	}

	if err := s.bus.SendMessage(msg); err != nil {
		s.logger.Debug("dispatch found no destination", "subject", msg.Subject(), "error", err)
		return err
	}
	s.processed.Add(1)
	return nil
}

// reject answers a rule violation with a security challenge instead of
// delivery. An unauthenticated client is being prompted to log in; an
// authenticated one lacking the role simply learns it was denied.
func (s *Service) reject(msg *message.CommandMessage) {
	s.rejected.Add(1)
	if s.metricsRegistry != nil {
		s.metricsRegistry.CoreMetrics().RecordMessageRejected(msg.Subject(), "unauthorized")
	}
	s.logger.Info("message rejected by security rule",
		"subject", msg.Subject(),
		"authenticated", s.adapter.IsAuthenticated(msg))

	challenge := message.NewReply(message.SubjectLoginClient, msg).
		Set(message.CommandType, string(message.SecurityChallenge)).
		Set(message.ToSubject, msg.Subject())
	if err := s.bus.Send(message.SubjectLoginClient, challenge); err != nil {
		s.logger.Debug("denial not delivered", "error", err)
	}
}

// handleAuthCommand serves the built-in AuthorizationService subject.
func (s *Service) handleAuthCommand(msg *message.CommandMessage) {
	switch msg.Command() {
	case message.AuthRequest:
		// A rejected credential already produced the failure reply; the
		// signaled error is only interesting for anything unexpected.
		if err := s.adapter.Challenge(context.Background(), msg); err != nil && !errors.IsInvalid(err) {
			s.logger.Error("challenge error", "error", err)
		}
	case message.EndSession:
		ended := s.adapter.EndSession(msg)
		s.logger.Debug("end session command", "ended", ended)
	default:
		s.logger.Warn("unknown authorization command",
			"command", fmt.Sprintf("%.32s", string(msg.Command())))
	}
}
