package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agilemobiledev/errai/errors"
	"github.com/agilemobiledev/errai/message"
	"github.com/agilemobiledev/errai/metric"
)

// Handler processes a message delivered to a subscribed subject. Handlers
// for one subject run sequentially on that subject's dispatch goroutine;
// a slow handler delays only its own subject.
type Handler func(msg *message.CommandMessage)

// MessageBus routes messages to subject-registered subscribers.
type MessageBus interface {
	// Subscribe registers a handler for a subject.
	Subscribe(subject string, handler Handler) (*Subscription, error)
	// Unsubscribe removes a previously registered handler.
	Unsubscribe(sub *Subscription)
	// Send enqueues a message for delivery to a subject's subscribers.
	// Non-blocking: a full subject queue rejects the message instead of
	// stalling the caller.
	Send(subject string, msg *message.CommandMessage) error
	// SendMessage routes a message to its own subject.
	SendMessage(msg *message.CommandMessage) error
	// Close drains the bus and stops all dispatch goroutines.
	Close()
}

// Subscription identifies one registered handler.
type Subscription struct {
	id      string
	subject string
}

// Subject returns the subject this subscription is registered against.
func (s *Subscription) Subject() string {
	return s.subject
}

// Option is a functional option for configuring the bus.
type Option func(*Bus)

// WithQueueSize sets the per-subject queue capacity.
func WithQueueSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

// WithLogger sets a custom logger for the bus.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics wires the bus to the core metrics.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(b *Bus) {
		b.metrics = metrics
	}
}

// Bus is the standard in-process MessageBus implementation.
type Bus struct {
	mu       sync.RWMutex
	subjects map[string]*subjectQueue

	queueSize int
	logger    *slog.Logger
	metrics   *metric.Metrics

	closed atomic.Bool
	// sendMu excludes in-flight sends while Close tears the queues down,
	// so no send can hit a closed channel.
	sendMu sync.RWMutex
	wg     sync.WaitGroup
}

// New creates a message bus ready for use.
func New(opts ...Option) *Bus {
	b := &Bus{
		subjects:  make(map[string]*subjectQueue),
		queueSize: 256,
		logger:    slog.Default().With("component", "bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// subjectQueue serializes delivery for one subject.
type subjectQueue struct {
	subject  string
	ch       chan *message.CommandMessage
	mu       sync.RWMutex
	handlers []subscriber
}

type subscriber struct {
	id      string
	handler Handler
}

// Subscribe registers a handler for a subject, creating the subject's
// dispatch queue on first use.
func (b *Bus) Subscribe(subject string, handler Handler) (*Subscription, error) {
	if b.closed.Load() {
		return nil, errors.WrapTransient(errors.ErrBusClosed, "Bus", "Subscribe", "subject "+subject)
	}
	if subject == "" {
		return nil, errors.WrapInvalid(errors.ErrNoSubject, "Bus", "Subscribe", "subject check")
	}
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Bus", "Subscribe", "nil handler check")
	}

	q := b.queueFor(subject)
	sub := &Subscription{id: uuid.New().String(), subject: subject}

	q.mu.Lock()
	q.handlers = append(q.handlers, subscriber{id: sub.id, handler: handler})
	q.mu.Unlock()

	b.logger.Debug("subscribed", "subject", subject)
	return sub, nil
}

// Unsubscribe removes a handler. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.RLock()
	q, ok := b.subjects[sub.subject]
	b.mu.RUnlock()
	if !ok {
		return
	}

	q.mu.Lock()
	for i, s := range q.handlers {
		if s.id == sub.id {
			q.handlers = append(q.handlers[:i], q.handlers[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
}

// Send enqueues a message for subject. The message itself may be addressed
// elsewhere; subject controls routing, as with conversational replies.
func (b *Bus) Send(subject string, msg *message.CommandMessage) error {
	if b.closed.Load() {
		return errors.WrapTransient(errors.ErrBusClosed, "Bus", "Send", "subject "+subject)
	}
	if subject == "" {
		return errors.WrapInvalid(errors.ErrNoSubject, "Bus", "Send", "subject check")
	}
	if msg == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Bus", "Send", "nil message check")
	}

	b.mu.RLock()
	q, ok := b.subjects[subject]
	b.mu.RUnlock()
	if !ok || !q.hasHandlers() {
		if b.metrics != nil {
			b.metrics.RecordMessageRejected(subject, "no_subscribers")
		}
		return errors.WrapTransient(errors.ErrNoSubscribers, "Bus", "Send", "subject "+subject)
	}

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed.Load() {
		return errors.WrapTransient(errors.ErrBusClosed, "Bus", "Send", "subject "+subject)
	}

	select {
	case q.ch <- msg:
		return nil
	default:
		if b.metrics != nil {
			b.metrics.RecordMessageRejected(subject, "queue_full")
		}
		return errors.WrapTransient(errors.ErrQueueFull, "Bus", "Send", "subject "+subject)
	}
}

// SendMessage routes a message to its own subject.
func (b *Bus) SendMessage(msg *message.CommandMessage) error {
	if msg == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Bus", "SendMessage", "nil message check")
	}
	return b.Send(msg.Subject(), msg)
}

// Close stops all dispatch goroutines after draining queued messages.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	// Wait out in-flight sends before closing the queues.
	b.sendMu.Lock()
	b.mu.Lock()
	for _, q := range b.subjects {
		close(q.ch)
	}
	b.mu.Unlock()
	b.sendMu.Unlock()

	b.wg.Wait()
	b.logger.Debug("bus closed")
}

// queueFor returns the dispatch queue for subject, creating it on first use.
func (b *Bus) queueFor(subject string) *subjectQueue {
	b.mu.RLock()
	q, ok := b.subjects[subject]
	b.mu.RUnlock()
	if ok {
		return q
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok = b.subjects[subject]; ok {
		return q
	}

	q = &subjectQueue{
		subject: subject,
		ch:      make(chan *message.CommandMessage, b.queueSize),
	}
	b.subjects[subject] = q

	b.wg.Add(1)
	go b.dispatch(q)
	return q
}

// dispatch delivers queued messages to the subject's handlers in order.
func (b *Bus) dispatch(q *subjectQueue) {
	defer b.wg.Done()

	for msg := range q.ch {
		q.mu.RLock()
		subscribers := make([]subscriber, len(q.handlers))
		copy(subscribers, q.handlers)
		q.mu.RUnlock()

		start := time.Now()
		for _, s := range subscribers {
			b.invoke(q.subject, s, msg)
		}
		if b.metrics != nil {
			b.metrics.RecordDeliveryDuration(q.subject, time.Since(start))
			status := "ok"
			if len(subscribers) == 0 {
				status = "dropped"
			}
			b.metrics.RecordMessageDelivered(q.subject, status)
		}
	}
}

// invoke runs one handler, containing panics so a broken subscriber cannot
// take down the subject's dispatch loop.
func (b *Bus) invoke(subject string, s subscriber, msg *message.CommandMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panic", "subject", subject, "panic", r)
			if b.metrics != nil {
				b.metrics.RecordError("bus", "subscriber_panic")
			}
		}
	}()
	s.handler(msg)
}

func (q *subjectQueue) hasHandlers() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.handlers) > 0
}
