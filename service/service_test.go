package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilemobiledev/errai/auth"
	"github.com/agilemobiledev/errai/bus"
	"github.com/agilemobiledev/errai/errors"
	"github.com/agilemobiledev/errai/message"
	"github.com/agilemobiledev/errai/session"
)

// acceptValidator accepts exactly alice/correct.
var acceptValidator = auth.ValidatorFunc(func(_ context.Context, req auth.CredentialRequest) (auth.CredentialResult, error) {
	if req.Name == "alice" && req.Password == "correct" {
		return auth.CredentialResult{Accepted: true, Principal: "alice"}, nil
	}
	return auth.CredentialResult{}, nil
})

type serviceFixture struct {
	svc      *Service
	bus      *bus.Bus
	sessions *session.Store
	adapter  *auth.Adapter
	replies  chan *message.CommandMessage
}

func newFixture(t *testing.T, opts ...Option) *serviceFixture {
	t.Helper()

	b := bus.New()
	sessions := session.NewStore()
	adapter, err := auth.NewAdapter(b, sessions, acceptValidator)
	require.NoError(t, err)

	svc, err := New("errai", b, adapter, sessions, opts...)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		_ = svc.Stop(2 * time.Second)
		b.Close()
	})

	replies := make(chan *message.CommandMessage, 16)
	_, err = b.Subscribe(message.SubjectLoginClient, func(msg *message.CommandMessage) {
		replies <- msg
	})
	require.NoError(t, err)

	return &serviceFixture{svc: svc, bus: b, sessions: sessions, adapter: adapter, replies: replies}
}

func (f *serviceFixture) awaitReply(t *testing.T) *message.CommandMessage {
	t.Helper()
	select {
	case msg := <-f.replies:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no reply delivered")
		return nil
	}
}

func (f *serviceFixture) login(t *testing.T, sess *session.Session) {
	t.Helper()
	msg := message.New(message.SubjectAuthorizationService, "client").
		Set(message.CommandType, string(message.AuthRequest)).
		Set(message.Name, "alice").
		Set(message.Password, "correct").
		Set(message.SessionData, sess)
	require.NoError(t, f.svc.Store(msg))

	reply := f.awaitReply(t)
	require.Equal(t, message.SuccessfulAuth, reply.Command())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	sessions := session.NewStore()
	adapter, err := auth.NewAdapter(b, sessions, acceptValidator)
	require.NoError(t, err)

	_, err = New("errai", nil, adapter, sessions)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = New("errai", b, nil, sessions)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = New("errai", b, adapter, nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, StatusRunning, f.svc.Status())
	assert.Equal(t, "running", f.svc.Status().String())
	assert.True(t, f.svc.Health().Healthy)

	err := f.svc.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, f.svc.Stop(time.Second))
	assert.Equal(t, StatusStopped, f.svc.Status())
	assert.False(t, f.svc.Health().Healthy)

	// Stopping twice is harmless.
	assert.NoError(t, f.svc.Stop(time.Second))
}

func TestStore_RequiresRunningService(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	sessions := session.NewStore()
	adapter, err := auth.NewAdapter(b, sessions, acceptValidator)
	require.NoError(t, err)
	svc, err := New("errai", b, adapter, sessions)
	require.NoError(t, err)

	err = svc.Store(message.New("Orders", "client"))
	assert.ErrorIs(t, err, errors.ErrNotStarted)
	assert.True(t, errors.IsTransient(err))
}

func TestStore_RejectsInvalidMessages(t *testing.T) {
	f := newFixture(t)

	assert.Error(t, f.svc.Store(nil))

	err := f.svc.Store(message.New("", "client"))
	assert.ErrorIs(t, err, errors.ErrNoSubject)
}

func TestStore_DeliversToSubscribers(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var got []string
	_, err := f.bus.Subscribe("Orders", func(msg *message.CommandMessage) {
		mu.Lock()
		got = append(got, msg.String(message.MessageText))
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Store(message.New("Orders", "client").Set(message.MessageText, "first")))
	require.NoError(t, f.svc.Store(message.New("Orders", "client").Set(message.MessageText, "second")))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestStore_PreservesPerSubjectOrder(t *testing.T) {
	f := newFixture(t)

	const n = 200
	var mu sync.Mutex
	var got []int
	_, err := f.bus.Subscribe("Ticker", func(msg *message.CommandMessage) {
		v, _ := msg.Get(message.MessageText)
		mu.Lock()
		got = append(got, v.(int))
		mu.Unlock()
	})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		require.NoError(t, f.svc.Store(message.New("Ticker", "client").Set(message.MessageText, i)))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestStore_GatedSubjectDeniedForAnonymous(t *testing.T) {
	f := newFixture(t)
	f.adapter.AddSecurityRule("AdminPanel", "Admin")

	delivered := make(chan struct{}, 1)
	_, err := f.bus.Subscribe("AdminPanel", func(*message.CommandMessage) {
		delivered <- struct{}{}
	})
	require.NoError(t, err)

	sess := f.sessions.Create()
	require.NoError(t, f.svc.Store(message.New("AdminPanel", "client").Set(message.SessionData, sess)))

	challenge := f.awaitReply(t)
	assert.Equal(t, message.SecurityChallenge, challenge.Command())
	assert.Equal(t, "AdminPanel", challenge.String(message.ToSubject))

	select {
	case <-delivered:
		t.Fatal("gated message must not reach subscribers")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStore_AuthenticatedSubjectAllowedAfterLogin(t *testing.T) {
	f := newFixture(t)
	f.adapter.AddSecurityRule("Inbox", message.RoleAuthenticated)

	delivered := make(chan *message.CommandMessage, 1)
	_, err := f.bus.Subscribe("Inbox", func(msg *message.CommandMessage) {
		delivered <- msg
	})
	require.NoError(t, err)

	sess := f.sessions.Create()
	f.login(t, sess)

	require.NoError(t, f.svc.Store(message.New("Inbox", "client").
		Set(message.SessionData, sess).
		Set(message.MessageText, "hello")))

	select {
	case msg := <-delivered:
		assert.Equal(t, "hello", msg.String(message.MessageText))
	case <-time.After(2 * time.Second):
		t.Fatal("authorized message never delivered")
	}
}

func TestAuthSubject_FailedLoginRepliesToClient(t *testing.T) {
	f := newFixture(t)

	sess := f.sessions.Create()
	msg := message.New(message.SubjectAuthorizationService, "client").
		Set(message.CommandType, string(message.AuthRequest)).
		Set(message.Name, "alice").
		Set(message.Password, "wrong").
		Set(message.SessionData, sess)
	require.NoError(t, f.svc.Store(msg))

	reply := f.awaitReply(t)
	assert.Equal(t, message.FailedAuth, reply.Command())
	assert.False(t, sess.HasToken())
}

func TestAuthSubject_EndSession(t *testing.T) {
	f := newFixture(t)

	sess := f.sessions.Create()
	f.login(t, sess)
	require.True(t, sess.HasToken())

	msg := message.New(message.SubjectAuthorizationService, "client").
		Set(message.CommandType, string(message.EndSession)).
		Set(message.SessionData, sess)
	require.NoError(t, f.svc.Store(msg))

	waitFor(t, func() bool { return !sess.HasToken() })
	assert.False(t, sess.Descriptor().Has(message.RoleAuthenticated))
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)

	_, err := f.bus.Subscribe("Orders", func(*message.CommandMessage) {})
	require.NoError(t, err)
	require.NoError(t, f.svc.Store(message.New("Orders", "client")))

	waitFor(t, func() bool { return f.svc.GetStatus().MessagesProcessed >= 1 })

	info := f.svc.GetStatus()
	assert.Equal(t, "errai", info.Name)
	assert.Equal(t, StatusRunning, info.Status)
	assert.False(t, info.StartTime.IsZero())
}

func TestGetBus(t *testing.T) {
	f := newFixture(t)
	assert.Same(t, f.bus, f.svc.GetBus().(*bus.Bus))
	assert.Same(t, f.sessions, f.svc.Sessions())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never satisfied")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
