package labs

import (
	"sync"
)

// Arena coordinates concurrent access to variant slots. Each slot gets a
// mutex so mutations on the same (lab, view, asset) key apply one at a time,
// and a last-known-good copy used to roll back a failed placeholder
// confirmation. Cross-key operations never block each other.
//
// The database rows carry the authoritative generation counters; the arena
// only serializes writers and remembers rollback state.
type Arena struct {
	mu    sync.Mutex
	slots map[Key]*slot
}

type slot struct {
	mu sync.Mutex // serializes writers, held for the whole mutation

	goodMu   sync.Mutex // guards lastGood only, safe to take inside Do
	lastGood *Variant
}

// NewArena creates an empty arena
func NewArena() *Arena {
	return &Arena{slots: make(map[Key]*slot)}
}

func (a *Arena) slotFor(key Key) *slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.slots[key]
	if !ok {
		s = &slot{}
		a.slots[key] = s
	}
	return s
}

// Do runs fn while holding the slot's lock. Two saves racing on the same key
// serialize here; the loser sees the winner's row and collapses into it.
func (a *Arena) Do(key Key, fn func() error) error {
	s := a.slotFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// MarkGood records a value copy of the variant as the slot's last known-good
// state. Called after every successful non-placeholder write.
func (a *Arena) MarkGood(v *Variant) {
	if v == nil {
		return
	}
	copied := *v
	s := a.slotFor(v.Key())
	s.goodMu.Lock()
	s.lastGood = &copied
	s.goodMu.Unlock()
}

// LastGood returns a copy of the slot's last known-good variant, or nil if
// the slot has never held a confirmed value
func (a *Arena) LastGood(key Key) *Variant {
	s := a.slotFor(key)
	s.goodMu.Lock()
	defer s.goodMu.Unlock()
	if s.lastGood == nil {
		return nil
	}
	copied := *s.lastGood
	return &copied
}

// Forget drops a slot's coordination state, used when its variant is deleted
func (a *Arena) Forget(key Key) {
	a.mu.Lock()
	delete(a.slots, key)
	a.mu.Unlock()
}
