package session

import (
	"sort"
	"sync"
)

// Descriptor is the set of role tokens granted to one session. It lives as
// long as the session, is created lazily on first access, and is destroyed
// when the session ends.
//
// Descriptor is safe for concurrent use.
type Descriptor struct {
	mu    sync.RWMutex
	roles map[string]struct{}
}

// NewDescriptor creates an empty descriptor.
func NewDescriptor() *Descriptor {
	return &Descriptor{roles: make(map[string]struct{})}
}

// Add grants a role. Adding a role twice is a no-op.
func (d *Descriptor) Add(role string) {
	d.mu.Lock()
	d.roles[role] = struct{}{}
	d.mu.Unlock()
}

// Remove revokes a role. Removing an absent role is a no-op.
func (d *Descriptor) Remove(role string) {
	d.mu.Lock()
	delete(d.roles, role)
	d.mu.Unlock()
}

// Has reports whether a role is granted.
func (d *Descriptor) Has(role string) bool {
	d.mu.RLock()
	_, ok := d.roles[role]
	d.mu.RUnlock()
	return ok
}

// HasAll reports whether every listed role is granted. An empty list is
// trivially satisfied.
func (d *Descriptor) HasAll(roles []string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, role := range roles {
		if _, ok := d.roles[role]; !ok {
			return false
		}
	}
	return true
}

// Roles returns the granted roles in sorted order.
func (d *Descriptor) Roles() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.roles))
	for role := range d.roles {
		out = append(out, role)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of granted roles.
func (d *Descriptor) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.roles)
}

// clear revokes every role. Called when the owning session is destroyed.
func (d *Descriptor) clear() {
	d.mu.Lock()
	d.roles = make(map[string]struct{})
	d.mu.Unlock()
}
