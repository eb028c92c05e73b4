package auth

import (
	"sync"
	"sync/atomic"

	"github.com/agilemobiledev/errai/session"
)

// SecurityRule gates delivery to one subject on a set of required roles.
type SecurityRule struct {
	Subject string
	Roles   []string
}

// SatisfiedBy reports whether a descriptor carries every required role.
// A nil descriptor stands for an anonymous session with no roles.
func (r SecurityRule) SatisfiedBy(d *session.Descriptor) bool {
	if len(r.Roles) == 0 {
		return true
	}
	if d == nil {
		return false
	}
	return d.HasAll(r.Roles)
}

// RuleSet is the per-subject security rule registry. Reads vastly outnumber
// writes (rules are registered at configuration time), so lookups go
// through an immutable snapshot swapped atomically on every write.
type RuleSet struct {
	writeMu  sync.Mutex
	snapshot atomic.Pointer[map[string]SecurityRule]
}

// NewRuleSet creates an empty rule registry.
func NewRuleSet() *RuleSet {
	rs := &RuleSet{}
	empty := make(map[string]SecurityRule)
	rs.snapshot.Store(&empty)
	return rs
}

// Add registers or overwrites the rule for a subject. Last write wins.
func (rs *RuleSet) Add(subject string, roles ...string) {
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()

	current := *rs.snapshot.Load()
	next := make(map[string]SecurityRule, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[subject] = SecurityRule{Subject: subject, Roles: append([]string(nil), roles...)}
	rs.snapshot.Store(&next)
}

// Remove deletes the rule for a subject. Removing an unknown subject is a
// no-op.
func (rs *RuleSet) Remove(subject string) {
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()

	current := *rs.snapshot.Load()
	if _, ok := current[subject]; !ok {
		return
	}
	next := make(map[string]SecurityRule, len(current)-1)
	for k, v := range current {
		if k != subject {
			next[k] = v
		}
	}
	rs.snapshot.Store(&next)
}

// Get returns the rule for a subject, if one is registered.
func (rs *RuleSet) Get(subject string) (SecurityRule, bool) {
	rule, ok := (*rs.snapshot.Load())[subject]
	return rule, ok
}

// Len returns the number of registered rules.
func (rs *RuleSet) Len() int {
	return len(*rs.snapshot.Load())
}

// Subjects returns every subject with a registered rule.
func (rs *RuleSet) Subjects() []string {
	current := *rs.snapshot.Load()
	out := make([]string, 0, len(current))
	for subject := range current {
		out = append(out, subject)
	}
	return out
}
