package dbus

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Slot is a type-erased, scoped registration handle: it owns exactly one
// deregistration against the bus connection, and Release performs that
// deregistration exactly once no matter how many times Release is called
// (spec.md §4.3). Every Object export, v-table, and signal subscription
// in this library is governed by a Slot. Pending async calls are not:
// they are handled by PendingAsyncCall, and no Slot cancels them.
//
// A Slot is move-only in spirit: copying a *Slot just copies the pointer,
// but there is only ever one release function, so copies are safe to
// share — only the first Release to win the race actually deregisters.
type Slot struct {
	id       string
	release  func()
	released int32
}

// newSlot wraps release so it runs at most once. release must be
// idempotent-safe to call concurrently with id generation but is only
// ever invoked a single time.
func newSlot(release func()) *Slot {
	return &Slot{id: uuid.NewString(), release: release}
}

// NewSlot is newSlot, exported for BusConnection implementations (package
// conn, package conntest) that need to hand a Slot back to core callers
// of RegisterObject/Subscribe.
func NewSlot(release func()) *Slot {
	return newSlot(release)
}

// ID uniquely identifies the registration within this process. It stays
// stable across the slot's lifetime and is never reused by a later Slot,
// even after Release.
func (s *Slot) ID() string { return s.id }

// Release deregisters the registration this Slot owns. It is idempotent:
// calling it twice, or concurrently from multiple goroutines, performs
// the deregistration exactly once.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&s.released, 0, 1) {
		if s.release != nil {
			s.release()
		}
	}
}

// Released reports whether Release has already run.
func (s *Slot) Released() bool {
	return atomic.LoadInt32(&s.released) != 0
}

// floatingSlots holds zero or more Slots whose lifetime is tied to their
// owning Object/Proxy rather than returned to the caller (spec.md §4.3
// "floating slot"). Releasing it releases every slot it holds.
type floatingSlots struct {
	slots []*Slot
}

func (f *floatingSlots) adopt(s *Slot) {
	f.slots = append(f.slots, s)
}

func (f *floatingSlots) releaseAll() {
	for _, s := range f.slots {
		s.Release()
	}
	f.slots = nil
}
