package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/agilemobiledev/errai/bus"
	"github.com/agilemobiledev/errai/errors"
	"github.com/agilemobiledev/errai/health"
	"github.com/agilemobiledev/errai/message"
	"github.com/agilemobiledev/errai/metric"
	"github.com/agilemobiledev/errai/session"
)

// BusService is the slice of the bus façade the gateway needs.
type BusService interface {
	Store(msg *message.CommandMessage) error
	GetBus() bus.MessageBus
	Sessions() *session.Store
}

// Config holds WebSocket gateway configuration
type Config struct {
	// Addr is the listen address, e.g. ":8080"
	Addr string `json:"addr"`
	// Path is the WebSocket endpoint path
	Path string `json:"path"`
	// ReadBufferSize is the per-connection read buffer in bytes
	ReadBufferSize int `json:"read_buffer_size"`
	// WriteBufferSize is the per-connection write buffer in bytes
	WriteBufferSize int `json:"write_buffer_size"`
	// MaxFrameSize caps inbound frame size in bytes
	MaxFrameSize int64 `json:"max_frame_size"`
	// OutboundQueueSize is the per-connection outbound frame queue
	OutboundQueueSize int `json:"outbound_queue_size"`
	// ConnectionRate limits new connections per second; zero disables
	ConnectionRate float64 `json:"connection_rate"`
	// ConnectionBurst is the rate limiter burst size
	ConnectionBurst int `json:"connection_burst"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Path == "" {
		c.Path = "/bus"
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 4096
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 1 << 20
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = 64
	}
	if c.ConnectionBurst <= 0 {
		c.ConnectionBurst = 8
	}
	return nil
}

// Option is a functional option for configuring the gateway
type Option func(*Gateway)

// WithLogger sets a custom logger for the gateway
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetricsRegistry wires the gateway to the metrics registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(g *Gateway) {
		g.metrics = newMetrics(registry)
	}
}

// Gateway terminates WebSocket connections and bridges them onto the bus.
type Gateway struct {
	config   Config
	svc      BusService
	upgrader websocket.Upgrader
	limiter  *rate.Limiter

	httpServer *http.Server
	conns      map[string]*clientConn
	connsMu    sync.Mutex

	logger  *slog.Logger
	metrics *Metrics

	started     atomic.Bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
	lifecycleMu sync.Mutex
	errorCount  atomic.Int64
}

// New creates a WebSocket gateway in front of the given bus service.
func New(config Config, svc BusService, opts ...Option) (*Gateway, error) {
	if svc == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "New", "service check")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "New", "config validation")
	}

	g := &Gateway{
		config:   config,
		svc:      svc,
		conns:    make(map[string]*clientConn),
		logger:   slog.Default().With("component", "gateway"),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin: func(_ *http.Request) bool {
			// Session binding happens after the upgrade; origin policy is
			// left to the fronting proxy.
			return true
		},
	}

	if config.ConnectionRate > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(config.ConnectionRate), config.ConnectionBurst)
	}

	return g, nil
}

// Handler returns the HTTP handler terminating WebSocket upgrades. It is
// exposed so the gateway can be mounted on an existing mux.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.handleWebSocket)
}

// Start begins listening for WebSocket connections.
func (g *Gateway) Start(_ context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if g.started.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Gateway", "Start", "status check")
	}
	if g.config.Addr == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "Start", "listen address check")
	}

	mux := http.NewServeMux()
	mux.Handle(g.config.Path, g.Handler())
	g.httpServer = &http.Server{
		Addr:              g.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.errorCount.Add(1)
			g.metrics.trackError("server_error")
			g.logger.Error("gateway server failed", "error", err)
		}
	}()

	g.started.Store(true)
	g.logger.Info("gateway listening", "addr", g.config.Addr, "path", g.config.Path)
	return nil
}

// Stop closes every client connection and shuts the listener down.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	select {
	case <-g.shutdown:
	default:
		close(g.shutdown)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if g.httpServer != nil {
		_ = g.httpServer.Shutdown(ctx)
	}

	g.connsMu.Lock()
	open := make([]*clientConn, 0, len(g.conns))
	for _, c := range g.conns {
		open = append(open, c)
	}
	g.connsMu.Unlock()

	// Close connections in parallel; each close unwinds subscriptions and
	// ends a session, which is too slow to do serially under load.
	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(16)
	for _, c := range open {
		c := c
		eg.Go(func() error {
			c.close()
			return nil
		})
	}
	_ = eg.Wait()

	doneCh := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Gateway", "Stop", "wait for connections")
	}

	g.started.Store(false)
	return nil
}

// Health reports the gateway health status.
func (g *Gateway) Health() health.Status {
	if !g.started.Load() {
		return health.NewUnhealthy("gateway", "Gateway is stopped")
	}
	g.connsMu.Lock()
	n := len(g.conns)
	g.connsMu.Unlock()
	return health.NewHealthy("gateway", fmt.Sprintf("%d active connections", n))
}

// ConnectionCount returns the number of live client connections.
func (g *Gateway) ConnectionCount() int {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	return len(g.conns)
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.shutdown:
		http.Error(w, "Shutting Down", http.StatusServiceUnavailable)
		return
	default:
	}

	if g.limiter != nil && !g.limiter.Allow() {
		g.metrics.trackError("rate_limited")
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.errorCount.Add(1)
		g.metrics.trackError("upgrade_error")
		return
	}

	c, err := newClientConn(g, ws)
	if err != nil {
		g.metrics.trackError("session_bind_error")
		_ = ws.Close()
		return
	}

	g.connsMu.Lock()
	g.conns[c.sess.SessionID()] = c
	g.connsMu.Unlock()

	if g.metrics != nil {
		g.metrics.connectionsActive.Inc()
		g.metrics.connectionsTotal.Inc()
	}
	g.logger.Debug("connection accepted",
		"session", c.sess.SessionID(), "remote", r.RemoteAddr)

	g.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// dropConn removes the connection from the active set after its loops exit.
func (g *Gateway) dropConn(c *clientConn) {
	g.connsMu.Lock()
	_, present := g.conns[c.sess.SessionID()]
	delete(g.conns, c.sess.SessionID())
	g.connsMu.Unlock()

	if present && g.metrics != nil {
		g.metrics.connectionsActive.Dec()
	}
}
