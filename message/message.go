package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/agilemobiledev/errai/errors"
)

// SessionRef is an opaque handle to session-scoped state carried in the
// SessionData part. Only the session identifier is exposed here; the actual
// session state lives in the session store and never leaves the server.
type SessionRef interface {
	// SessionID returns the stable identifier of the client session.
	SessionID() string
}

// CommandMessage is the standard bus envelope. The destination subject is
// fixed at construction; named parts may be added and read throughout
// processing. Part insertion order is preserved for wire encoding.
//
// A CommandMessage is not safe for concurrent mutation. The bus hands each
// delivered message to exactly one handler goroutine at a time, which is the
// only writer during dispatch.
type CommandMessage struct {
	id        string
	subject   string
	sender    string
	createdAt time.Time

	order []Part
	parts map[Part]any
}

// Option is a functional option for configuring message construction.
type Option func(*CommandMessage)

// WithTime sets a specific creation timestamp instead of using time.Now().
// Useful for tests and replayed traffic.
func WithTime(createdAt time.Time) Option {
	return func(m *CommandMessage) {
		m.createdAt = createdAt
	}
}

// WithID overrides the generated message ID. Used when decoding messages
// that already carry an identity from the wire.
func WithID(id string) Option {
	return func(m *CommandMessage) {
		if id != "" {
			m.id = id
		}
	}
}

// New creates a CommandMessage addressed to subject. The sender identifies
// the service or connection that originated the message and participates in
// per-sender delivery ordering.
func New(subject, sender string, opts ...Option) *CommandMessage {
	m := &CommandMessage{
		id:        uuid.New().String(),
		subject:   subject,
		sender:    sender,
		createdAt: time.Now(),
		parts:     make(map[Part]any),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewReply creates a conversational reply to orig, addressed to subject.
// The session reference, when present, is carried over so the reply stays
// bound to the same client session.
func NewReply(subject string, orig *CommandMessage) *CommandMessage {
	reply := New(subject, orig.Sender())
	if ref := orig.Session(); ref != nil {
		reply.Set(SessionData, ref)
	}
	return reply
}

// ID returns the unique message identifier.
func (m *CommandMessage) ID() string {
	return m.id
}

// Subject returns the destination subject. Immutable after construction.
func (m *CommandMessage) Subject() string {
	return m.subject
}

// Sender returns the originating service or connection identifier.
func (m *CommandMessage) Sender() string {
	return m.sender
}

// CreatedAt returns the message creation timestamp.
func (m *CommandMessage) CreatedAt() time.Time {
	return m.createdAt
}

// Set stores a named part, preserving first-insertion order for the wire.
// Returns the message for chaining.
func (m *CommandMessage) Set(part Part, value any) *CommandMessage {
	if _, exists := m.parts[part]; !exists {
		m.order = append(m.order, part)
	}
	m.parts[part] = value
	return m
}

// Get returns the raw value of a part and whether it is present.
func (m *CommandMessage) Get(part Part) (any, bool) {
	v, ok := m.parts[part]
	return v, ok
}

// Has reports whether a part is present.
func (m *CommandMessage) Has(part Part) bool {
	_, ok := m.parts[part]
	return ok
}

// Remove deletes a part. Removing an absent part is a no-op.
func (m *CommandMessage) Remove(part Part) {
	if _, ok := m.parts[part]; !ok {
		return
	}
	delete(m.parts, part)
	for i, p := range m.order {
		if p == part {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Parts returns the part keys in insertion order.
func (m *CommandMessage) Parts() []Part {
	out := make([]Part, len(m.order))
	copy(out, m.order)
	return out
}

// String returns the string value of a part, or "" when the part is absent
// or not a string.
func (m *CommandMessage) String(part Part) string {
	s, _ := m.parts[part].(string)
	return s
}

// Command returns the command verb carried in the CommandType part.
func (m *CommandMessage) Command() Command {
	return Command(m.String(CommandType))
}

// Session returns the session reference from the SessionData part, or nil
// when the message is not bound to a session.
func (m *CommandMessage) Session() SessionRef {
	ref, _ := m.parts[SessionData].(SessionRef)
	return ref
}

// Validate checks that the message is routable.
func (m *CommandMessage) Validate() error {
	if m.subject == "" {
		return errors.WrapInvalid(errors.ErrNoSubject, "CommandMessage", "Validate", "subject check")
	}
	if m.id == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "CommandMessage", "Validate", "id check")
	}
	return nil
}
