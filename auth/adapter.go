package auth

import (
	"context"
	"log/slog"

	"github.com/agilemobiledev/errai/bus"
	"github.com/agilemobiledev/errai/errors"
	"github.com/agilemobiledev/errai/message"
	"github.com/agilemobiledev/errai/metric"
	"github.com/agilemobiledev/errai/session"
)

// AuthorizationAdapter is the bus's policy engine: it authenticates
// principals, tracks per-session authorization state, and enforces
// per-subject security rules.
type AuthorizationAdapter interface {
	// Challenge validates the credential pair carried by the message.
	// Returns ErrAuthenticationFailed when the credentials are rejected;
	// any other challenge failure is logged and absorbed, leaving the
	// session anonymous. Both outcomes emit a reply to the reply subject.
	Challenge(ctx context.Context, msg *message.CommandMessage) error
	// IsAuthenticated reports whether the message's session holds the
	// authentication token. Messages without a session are never
	// authenticated.
	IsAuthenticated(msg *message.CommandMessage) bool
	// RequiresAuthorization reports whether the message's subject has a
	// rule the session's descriptor does not currently satisfy.
	RequiresAuthorization(msg *message.CommandMessage) bool
	// AddSecurityRule registers or overwrites the rule for a subject.
	AddSecurityRule(subject string, roles ...string)
	// Process converges the session descriptor toward the token state and
	// attaches the granted roles to the message's Credentials part.
	Process(msg *message.CommandMessage)
	// EndSession logs the session out. Returns whether a session was
	// actually ended; anonymous sessions report false.
	EndSession(msg *message.CommandMessage) bool
}

// Option is a functional option for configuring the adapter.
type Option func(*Adapter)

// WithReplySubject overrides the subject receiving challenge outcomes.
func WithReplySubject(subject string) Option {
	return func(a *Adapter) {
		if subject != "" {
			a.replySubject = subject
		}
	}
}

// WithMOTD sets the message-of-the-day attached to successful logins.
func WithMOTD(motd string) Option {
	return func(a *Adapter) {
		a.motd = motd
	}
}

// WithLogger sets a custom logger for the adapter.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics wires the adapter to the core metrics.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = metrics
	}
}

// Adapter is the standard AuthorizationAdapter implementation.
type Adapter struct {
	bus       bus.MessageBus
	sessions  *session.Store
	validator CredentialValidator
	rules     *RuleSet

	replySubject string
	motd         string
	logger       *slog.Logger
	metrics      *metric.Metrics
}

// NewAdapter creates an authorization adapter. The validator is the
// external authentication provider; construction fails without one rather
// than running a bus with authentication silently disabled.
func NewAdapter(b bus.MessageBus, sessions *session.Store, validator CredentialValidator, opts ...Option) (*Adapter, error) {
	if b == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Adapter", "NewAdapter", "bus check")
	}
	if sessions == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Adapter", "NewAdapter", "session store check")
	}
	if validator == nil {
		return nil, errors.WrapFatal(errors.ErrMissingLoginConfig, "Adapter", "NewAdapter", "credential validator check")
	}

	a := &Adapter{
		bus:          b,
		sessions:     sessions,
		validator:    validator,
		rules:        NewRuleSet(),
		replySubject: message.SubjectLoginClient,
		logger:       slog.Default().With("component", "auth-adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Challenge runs one atomic authentication attempt: extract the credential
// pair, call the validator, then either grant the session token or report
// the failure. The validator call happens outside any shared lock, so a
// hung provider stalls only this caller.
func (a *Adapter) Challenge(ctx context.Context, msg *message.CommandMessage) error {
	name := msg.String(message.Name)
	password := msg.String(message.Password)

	sess, ok := a.sessionFor(msg)
	if !ok {
		a.failChallenge(msg, name, errors.ErrNoSession)
		return nil
	}
	if name == "" {
		a.failChallenge(msg, name, errors.WrapInvalid(errors.ErrMissingPart, "Adapter", "Challenge", "Name part"))
		return nil
	}

	result, err := a.validator.Validate(ctx, CredentialRequest{Name: name, Password: password})
	if err != nil {
		// Provider failure, not a rejection. Logged and absorbed; the
		// session stays anonymous.
		a.failChallenge(msg, name, err)
		return nil
	}

	if !result.Accepted {
		if a.metrics != nil {
			a.metrics.RecordChallenge(false)
		}
		a.logger.Info("authentication rejected", "name", name, "session_id", sess.ID())
		a.sendReply(msg, message.FailedAuth, name, "")
		return errors.WrapInvalid(errors.ErrAuthenticationFailed, "Adapter", "Challenge", "credential exchange for "+name)
	}

	principal := result.Principal
	if principal == "" {
		principal = name
	}

	sess.GrantAuthentication(message.RoleAuthenticated)
	for _, role := range result.Roles {
		sess.Descriptor().Add(role)
	}

	if a.metrics != nil {
		a.metrics.RecordChallenge(true)
	}
	a.logger.Info("authentication succeeded", "name", principal, "session_id", sess.ID())
	a.sendReply(msg, message.SuccessfulAuth, principal, a.motd)
	return nil
}

// IsAuthenticated reports whether the message's session holds the token.
func (a *Adapter) IsAuthenticated(msg *message.CommandMessage) bool {
	sess, ok := a.sessionFor(msg)
	return ok && sess.HasToken()
}

// RequiresAuthorization reports whether the subject's rule is currently
// unsatisfied. Subjects without a rule never require authorization.
func (a *Adapter) RequiresAuthorization(msg *message.CommandMessage) bool {
	rule, ok := a.rules.Get(msg.Subject())
	if !ok {
		return false
	}

	var descriptor *session.Descriptor
	if sess, ok := a.sessionFor(msg); ok {
		descriptor = sess.Descriptor()
	}
	return !rule.SatisfiedBy(descriptor)
}

// AddSecurityRule registers or overwrites the rule for a subject.
// Idempotent; last write wins.
func (a *Adapter) AddSecurityRule(subject string, roles ...string) {
	a.rules.Add(subject, roles...)
}

// Rules exposes the rule registry, mainly for configuration loading.
func (a *Adapter) Rules() *RuleSet {
	return a.rules
}

// Process converges descriptor state to the token: an authenticated session
// always carries the Authenticated role, however the descriptor got out of
// step. Idempotent. The resulting role set is attached to the message's
// Credentials part for downstream handlers.
func (a *Adapter) Process(msg *message.CommandMessage) {
	sess, ok := a.sessionFor(msg)
	if !ok {
		return
	}
	if sess.HasToken() {
		sess.Descriptor().Add(message.RoleAuthenticated)
	}
	msg.Set(message.Credentials, sess.Descriptor().Roles())
}

// EndSession removes the Authenticated role and clears the session token
// together. Idempotent: an anonymous session reports false and is left
// untouched.
func (a *Adapter) EndSession(msg *message.CommandMessage) bool {
	sess, ok := a.sessionFor(msg)
	if !ok {
		return false
	}
	ended := sess.RevokeAuthentication(message.RoleAuthenticated)
	if ended {
		a.logger.Info("session logged out", "session_id", sess.ID())
	}
	return ended
}

// sessionFor resolves the message's session reference against the store.
func (a *Adapter) sessionFor(msg *message.CommandMessage) (*session.Session, bool) {
	ref := msg.Session()
	if ref == nil {
		return nil, false
	}
	return a.sessions.Get(ref.SessionID())
}

// failChallenge handles the unexpected-error path: log, count, and still
// tell the client something went wrong rather than leaving it waiting.
func (a *Adapter) failChallenge(msg *message.CommandMessage, name string, err error) {
	if a.metrics != nil {
		a.metrics.RecordChallenge(false)
		a.metrics.RecordError("auth", "challenge")
	}
	a.logger.Error("challenge failed unexpectedly", "name", name, "error", err)
	a.sendReply(msg, message.FailedAuth, name, "")
}

// sendReply emits a challenge outcome to the reply subject. Best-effort: a
// missing reply subscriber is not an error of the challenge itself.
func (a *Adapter) sendReply(orig *message.CommandMessage, command message.Command, name, motd string) {
	reply := message.NewReply(a.replySubject, orig).
		Set(message.CommandType, string(command)).
		Set(message.Name, name)
	if command == message.SuccessfulAuth && motd != "" {
		reply.Set(message.MessageText, motd)
	}

	if err := a.bus.Send(a.replySubject, reply); err != nil {
		a.logger.Debug("reply not delivered", "subject", a.replySubject, "error", err)
	}
}
