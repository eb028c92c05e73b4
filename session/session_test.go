package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilemobiledev/errai/message"
)

func TestSession_Attributes(t *testing.T) {
	s := newSession()

	_, ok := s.Attribute("color")
	assert.False(t, ok)

	s.SetAttribute("color", "blue")
	v, ok := s.Attribute("color")
	require.True(t, ok)
	assert.Equal(t, "blue", v)

	s.RemoveAttribute("color")
	_, ok = s.Attribute("color")
	assert.False(t, ok)
}

func TestSession_ImplementsSessionRef(t *testing.T) {
	s := newSession()

	var ref message.SessionRef = s
	assert.Equal(t, s.ID(), ref.SessionID())
	assert.Len(t, s.ID(), 36)
}

func TestSession_GrantAuthentication(t *testing.T) {
	s := newSession()
	assert.False(t, s.HasToken())

	s.GrantAuthentication(message.RoleAuthenticated)

	assert.True(t, s.HasToken())
	assert.True(t, s.Descriptor().Has(message.RoleAuthenticated))
}

func TestSession_RevokeAuthentication(t *testing.T) {
	s := newSession()

	// Revoking an anonymous session is a no-op.
	assert.False(t, s.RevokeAuthentication(message.RoleAuthenticated))

	s.GrantAuthentication(message.RoleAuthenticated)
	assert.True(t, s.RevokeAuthentication(message.RoleAuthenticated))
	assert.False(t, s.HasToken())
	assert.False(t, s.Descriptor().Has(message.RoleAuthenticated))

	// Idempotent: a second revoke reports false.
	assert.False(t, s.RevokeAuthentication(message.RoleAuthenticated))
}

func TestSession_DescriptorLazyAndStable(t *testing.T) {
	s := newSession()

	d1 := s.Descriptor()
	d2 := s.Descriptor()
	assert.Same(t, d1, d2)
	assert.Equal(t, 0, d1.Len())
}

func TestDescriptor_RoleSet(t *testing.T) {
	d := NewDescriptor()

	d.Add("Admin")
	d.Add("Admin")
	d.Add("Operator")

	assert.True(t, d.Has("Admin"))
	assert.False(t, d.Has("Viewer"))
	assert.Equal(t, []string{"Admin", "Operator"}, d.Roles())
	assert.Equal(t, 2, d.Len())

	d.Remove("Admin")
	assert.False(t, d.Has("Admin"))
	d.Remove("Admin") // absent, no-op
	assert.Equal(t, 1, d.Len())
}

func TestDescriptor_HasAll(t *testing.T) {
	d := NewDescriptor()
	d.Add("Admin")
	d.Add("Authenticated")

	assert.True(t, d.HasAll(nil))
	assert.True(t, d.HasAll([]string{"Admin"}))
	assert.True(t, d.HasAll([]string{"Admin", "Authenticated"}))
	assert.False(t, d.HasAll([]string{"Admin", "Operator"}))
}

func TestSession_ConcurrentToggle(t *testing.T) {
	s := newSession()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.GrantAuthentication(message.RoleAuthenticated)
		}()
		go func() {
			defer wg.Done()
			s.RevokeAuthentication(message.RoleAuthenticated)
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, token and role agree.
	assert.Equal(t, s.HasToken(), s.Descriptor().Has(message.RoleAuthenticated))
}
