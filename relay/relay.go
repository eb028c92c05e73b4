package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agilemobiledev/errai/bus"
	"github.com/agilemobiledev/errai/errors"
	"github.com/agilemobiledev/errai/health"
	"github.com/agilemobiledev/errai/message"
	"github.com/agilemobiledev/errai/metric"
	"github.com/agilemobiledev/errai/pkg/retry"
)

// relaySource marks a message that already crossed the relay. Exported
// frames carry the origin instance name; marked messages are never exported
// a second time.
const relaySource message.Part = "RelaySource"

// BusService is the slice of the bus façade the relay needs.
type BusService interface {
	Store(msg *message.CommandMessage) error
	GetBus() bus.MessageBus
}

// Config holds federation relay configuration
type Config struct {
	// URL is the NATS server URL
	URL string `json:"url"`
	// Name identifies this instance on the federation; it is stamped onto
	// exported messages
	Name string `json:"name"`
	// SubjectPrefix namespaces bus subjects on NATS
	SubjectPrefix string `json:"subject_prefix"`
	// ExportSubjects are local bus subjects mirrored onto NATS
	ExportSubjects []string `json:"export_subjects"`
	// ImportSubjects are federation subjects injected into the local bus
	ImportSubjects []string `json:"import_subjects"`
	// MaxReconnects caps NATS reconnection attempts; -1 is unlimited
	MaxReconnects int `json:"max_reconnects"`
	// ReconnectWait is the pause between NATS reconnection attempts
	ReconnectWait time.Duration `json:"reconnect_wait"`
	// ConnectAttempts bounds the initial connection retry loop
	ConnectAttempts int `json:"connect_attempts"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "relay URL check")
	}
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "relay name check")
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "errai.bus."
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 5
	}
	return nil
}

// Option is a functional option for configuring the relay
type Option func(*Relay)

// WithLogger sets a custom logger for the relay
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics wires the relay to the core metrics
func WithMetrics(metrics *metric.Metrics) Option {
	return func(r *Relay) {
		r.metrics = metrics
	}
}

// Relay bridges the local bus and a NATS federation.
type Relay struct {
	config Config
	svc    BusService

	conn     *nats.Conn
	busSubs  []*bus.Subscription
	natsSubs []*nats.Subscription

	logger  *slog.Logger
	metrics *metric.Metrics

	started     atomic.Bool
	lifecycleMu sync.Mutex
}

// New creates a federation relay for the given bus service.
func New(config Config, svc BusService, opts ...Option) (*Relay, error) {
	if svc == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Relay", "New", "service check")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r := &Relay{
		config: config,
		svc:    svc,
		logger: slog.Default().With("component", "relay", "instance", config.Name),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start connects to NATS and installs the export and import bridges.
func (r *Relay) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.started.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Relay", "Start", "status check")
	}

	if err := r.connect(ctx); err != nil {
		return errors.WrapTransient(err, "Relay", "Start", "connect to "+r.config.URL)
	}

	if err := r.installExports(); err != nil {
		r.teardown()
		return err
	}
	if err := r.installImports(); err != nil {
		r.teardown()
		return err
	}

	r.started.Store(true)
	r.logger.Info("relay started",
		"exports", len(r.config.ExportSubjects),
		"imports", len(r.config.ImportSubjects))
	return nil
}

// Stop drains the NATS connection and removes the bridges.
func (r *Relay) Stop(timeout time.Duration) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.started.Load() {
		return nil
	}
	r.started.Store(false)

	b := r.svc.GetBus()
	for _, sub := range r.busSubs {
		b.Unsubscribe(sub)
	}
	r.busSubs = nil

	for _, sub := range r.natsSubs {
		_ = sub.Unsubscribe()
	}
	r.natsSubs = nil

	if r.conn != nil {
		drained := make(chan struct{})
		go func() {
			_ = r.conn.Drain()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(timeout):
			r.conn.Close()
		}
		r.conn = nil
	}

	if r.metrics != nil {
		r.metrics.RecordRelayStatus(false)
	}
	r.logger.Info("relay stopped")
	return nil
}

// Health reports the relay health status.
func (r *Relay) Health() health.Status {
	if !r.started.Load() {
		return health.NewUnhealthy("relay", "Relay is stopped")
	}
	if r.conn == nil || !r.conn.IsConnected() {
		return health.NewDegraded("relay", "Relay is reconnecting")
	}
	return health.NewHealthy("relay", "Relay connected to "+r.config.URL)
}

// Connected reports whether the NATS connection is live.
func (r *Relay) Connected() bool {
	return r.conn != nil && r.conn.IsConnected()
}

func (r *Relay) connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(r.config.Name),
		nats.NoEcho(),
		nats.MaxReconnects(r.config.MaxReconnects),
		nats.ReconnectWait(r.config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if r.metrics != nil {
				r.metrics.RecordRelayStatus(false)
			}
			r.logger.Warn("relay disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if r.metrics != nil {
				r.metrics.RecordRelayStatus(true)
				r.metrics.RelayReconnects.Inc()
			}
			r.logger.Info("relay reconnected", "url", nc.ConnectedUrl())
		}),
	}

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = r.config.ConnectAttempts
	cfg.InitialDelay = 250 * time.Millisecond

	err := retry.Do(ctx, cfg, func() error {
		conn, err := nats.Connect(r.config.URL, opts...)
		if err != nil {
			return err
		}
		r.conn = conn
		return nil
	})
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.RecordRelayStatus(true)
	}
	return nil
}

// installExports mirrors local bus subjects onto the federation.
func (r *Relay) installExports() error {
	b := r.svc.GetBus()
	for _, subject := range r.config.ExportSubjects {
		subject := subject
		sub, err := b.Subscribe(subject, func(msg *message.CommandMessage) {
			r.export(subject, msg)
		})
		if err != nil {
			return errors.Wrap(err, "Relay", "installExports", "subscribe "+subject)
		}
		r.busSubs = append(r.busSubs, sub)
	}
	return nil
}

func (r *Relay) export(subject string, msg *message.CommandMessage) {
	if msg.Has(relaySource) {
		return
	}
	msg.Set(relaySource, r.config.Name)
	if r.conn == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Debug("export encoding failed", "subject", subject, "error", err)
		return
	}
	if err := r.conn.Publish(r.config.SubjectPrefix+subject, data); err != nil {
		r.logger.Warn("export publish failed", "subject", subject, "error", err)
		return
	}
	if r.metrics != nil {
		r.metrics.RelayPublished.Inc()
	}
}

// installImports injects federation subjects into the local bus. Imported
// messages go through the service façade so security rules apply.
func (r *Relay) installImports() error {
	for _, subject := range r.config.ImportSubjects {
		subject := subject
		sub, err := r.conn.Subscribe(r.config.SubjectPrefix+subject, func(m *nats.Msg) {
			r.receive(subject, m.Data)
		})
		if err != nil {
			return errors.WrapTransient(
				fmt.Errorf("subscribe %s: %w", subject, err),
				"Relay", "installImports", "NATS subscription")
		}
		r.natsSubs = append(r.natsSubs, sub)
	}
	return nil
}

func (r *Relay) receive(subject string, data []byte) {
	msg, err := message.Decode(data)
	if err != nil {
		r.logger.Debug("import frame rejected", "subject", subject, "error", err)
		return
	}
	if msg.Subject() != subject {
		r.logger.Debug("import subject mismatch",
			"expected", subject, "got", msg.Subject())
		return
	}

	if r.metrics != nil {
		r.metrics.RelayReceived.Inc()
	}
	if err := r.svc.Store(msg); err != nil {
		r.logger.Debug("imported message not accepted", "subject", subject, "error", err)
	}
}

func (r *Relay) teardown() {
	b := r.svc.GetBus()
	for _, sub := range r.busSubs {
		b.Unsubscribe(sub)
	}
	r.busSubs = nil
	for _, sub := range r.natsSubs {
		_ = sub.Unsubscribe()
	}
	r.natsSubs = nil
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}
