package gateway

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agilemobiledev/errai/bus"
	"github.com/agilemobiledev/errai/message"
	"github.com/agilemobiledev/errai/session"
)

// clientConn binds one WebSocket connection to one server session.
type clientConn struct {
	g    *Gateway
	ws   *websocket.Conn
	sess *session.Session

	out      chan []byte
	done     chan struct{}
	closeOne sync.Once

	// loginSub is the implicit, session-filtered LoginClient subscription.
	// It is not client-managed and survives RemoteUnsubscribe.
	loginSub *bus.Subscription
	subs     map[string]*bus.Subscription
	subsMu   sync.Mutex
}

func newClientConn(g *Gateway, ws *websocket.Conn) (*clientConn, error) {
	c := &clientConn{
		g:    g,
		ws:   ws,
		sess: g.svc.Sessions().Create(),
		out:  make(chan []byte, g.config.OutboundQueueSize),
		done: make(chan struct{}),
		subs: make(map[string]*bus.Subscription),
	}

	// Authentication outcomes and security challenges are private: only
	// frames carrying this connection's session are forwarded.
	loginSub, err := g.svc.GetBus().Subscribe(message.SubjectLoginClient, func(m *message.CommandMessage) {
		ref := m.Session()
		if ref == nil || ref.SessionID() != c.sess.SessionID() {
			return
		}
		c.enqueue(m)
	})
	if err != nil {
		g.svc.Sessions().End(c.sess.SessionID())
		return nil, err
	}
	c.loginSub = loginSub

	return c, nil
}

func (c *clientConn) readLoop() {
	defer c.g.wg.Done()
	defer c.g.dropConn(c)
	defer c.close()

	c.ws.SetReadLimit(c.g.config.MaxFrameSize)
	readDeadline := 1 * time.Second

	for {
		select {
		case <-c.done:
			return
		case <-c.g.shutdown:
			return
		default:
			_ = c.ws.SetReadDeadline(time.Now().Add(readDeadline))

			_, data, err := c.ws.ReadMessage()
			if err != nil {
				// Deadline expiry is the shutdown poll, not a failure.
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				return
			}

			if c.g.metrics != nil {
				c.g.metrics.framesReceived.Inc()
			}
			c.handleFrame(data)
		}
	}
}

func (c *clientConn) handleFrame(data []byte) {
	msg, err := message.Decode(data)
	if err != nil {
		c.g.metrics.trackError("decode_error")
		c.g.logger.Debug("frame rejected", "session", c.sess.SessionID(), "error", err)
		return
	}

	// The session reference is server authority: whatever the client sent
	// was stripped during decoding, the connection's own session goes in.
	msg.Set(message.SessionData, c.sess)
	c.sess.Touch()

	if msg.Subject() == message.SubjectServerBus {
		c.handleBusCommand(msg)
		return
	}

	if err := c.g.svc.Store(msg); err != nil {
		c.g.metrics.trackError("store_error")
		c.g.logger.Debug("message not accepted",
			"session", c.sess.SessionID(), "subject", msg.Subject(), "error", err)
	}
}

// handleBusCommand serves subscription management addressed to ServerBus.
func (c *clientConn) handleBusCommand(msg *message.CommandMessage) {
	subject := msg.String(message.ToSubject)

	switch msg.Command() {
	case message.RemoteSubscribe:
		if subject == "" || subject == message.SubjectLoginClient {
			c.g.metrics.trackError("bad_subscribe")
			return
		}
		c.subscribe(subject)
	case message.RemoteUnsubscribe:
		c.unsubscribe(subject)
	default:
		c.g.metrics.trackError("unknown_bus_command")
	}
}

func (c *clientConn) subscribe(subject string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if _, exists := c.subs[subject]; exists {
		return
	}
	sub, err := c.g.svc.GetBus().Subscribe(subject, func(m *message.CommandMessage) {
		c.enqueue(m)
	})
	if err != nil {
		c.g.metrics.trackError("subscribe_error")
		return
	}
	c.subs[subject] = sub
}

func (c *clientConn) unsubscribe(subject string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	sub, exists := c.subs[subject]
	if !exists {
		return
	}
	delete(c.subs, subject)
	c.g.svc.GetBus().Unsubscribe(sub)
}

// enqueue serializes a message for the client. Session references never go
// on the wire; a slow client loses frames rather than stalling the bus.
func (c *clientConn) enqueue(m *message.CommandMessage) {
	data, err := json.Marshal(m)
	if err != nil {
		c.g.metrics.trackError("encode_error")
		return
	}

	select {
	case <-c.done:
	case c.out <- data:
	default:
		if c.g.metrics != nil {
			c.g.metrics.framesDropped.WithLabelValues("queue_full").Inc()
		}
		c.g.logger.Debug("outbound frame dropped",
			"session", c.sess.SessionID(), "subject", m.Subject())
	}
}

func (c *clientConn) writeLoop() {
	defer c.g.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.g.shutdown:
			return
		case data := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.g.metrics.trackError("write_error")
				c.close()
				return
			}
			if c.g.metrics != nil {
				c.g.metrics.framesSent.Inc()
			}
		}
	}
}

// close tears the connection down exactly once: bus subscriptions go first
// so no handler enqueues into a dead connection, then the session ends.
func (c *clientConn) close() {
	c.closeOne.Do(func() {
		close(c.done)

		b := c.g.svc.GetBus()
		b.Unsubscribe(c.loginSub)
		c.subsMu.Lock()
		for _, sub := range c.subs {
			b.Unsubscribe(sub)
		}
		c.subs = make(map[string]*bus.Subscription)
		c.subsMu.Unlock()

		c.g.svc.Sessions().End(c.sess.SessionID())
		_ = c.ws.Close()
	})
}
