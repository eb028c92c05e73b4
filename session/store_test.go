package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilemobiledev/errai/message"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore()

	sess := store.Create()
	require.NotNil(t, sess)
	assert.Equal(t, 1, store.Len())

	got, ok := store.Get(sess.ID())
	require.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = store.Get("no-such-session")
	assert.False(t, ok)
}

func TestStore_End(t *testing.T) {
	store := NewStore()
	sess := store.Create()
	sess.GrantAuthentication(message.RoleAuthenticated)

	assert.True(t, store.End(sess.ID()))
	assert.Equal(t, 0, store.Len())
	assert.True(t, sess.Ended())

	// Descriptor state is destroyed with the session.
	assert.Equal(t, 0, sess.Descriptor().Len())
	assert.False(t, sess.HasToken())

	// Ending twice reports false.
	assert.False(t, store.End(sess.ID()))
}

func TestStore_TTLExpiry(t *testing.T) {
	store := NewStore(
		WithTTL(20*time.Millisecond),
		WithSweepInterval(10*time.Millisecond),
	)

	idle := store.Create()
	idle.GrantAuthentication(message.RoleAuthenticated)
	active := store.Create()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.Start(ctx)
	defer store.Stop()

	deadline := time.After(2 * time.Second)
	for store.Len() > 1 {
		select {
		case <-deadline:
			t.Fatal("idle session never expired")
		case <-time.After(5 * time.Millisecond):
			// Keep the active session alive while waiting.
			active.Touch()
		}
	}

	_, ok := store.Get(idle.ID())
	assert.False(t, ok)
	assert.True(t, idle.Ended())
	assert.Equal(t, 0, idle.Descriptor().Len())

	_, ok = store.Get(active.ID())
	assert.True(t, ok)
}

func TestStore_ZeroTTLDisablesSweeper(t *testing.T) {
	store := NewStore(WithTTL(0), WithSweepInterval(time.Millisecond))
	sess := store.Create()

	store.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	store.Stop()

	_, ok := store.Get(sess.ID())
	assert.True(t, ok)
}

func TestStore_IndependentSessions(t *testing.T) {
	store := NewStore()
	a := store.Create()
	b := store.Create()

	a.GrantAuthentication(message.RoleAuthenticated)
	a.Descriptor().Add("Admin")

	// No role leaks across sessions.
	assert.False(t, b.HasToken())
	assert.Equal(t, 0, b.Descriptor().Len())
	assert.Equal(t, []string{"Admin", message.RoleAuthenticated}, a.Descriptor().Roles())
}
