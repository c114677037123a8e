package dbus

import "time"

// SignalMatch describes which signals a subscription is interested in.
// Any field left blank matches all values for that field, mirroring the
// teacher library's MatchRule (z3ntu-go-dbus/matchrule.go), minus the
// Type field: a SignalMatch is always for TypeSignal.
type SignalMatch struct {
	Sender    string
	Path      ObjectPath
	Interface string
	Member    string
}

// ObjectDispatcher handles an incoming method call addressed to an
// object path registered with a BusConnection. It returns the reply
// message (a method return or an error) and reports whether it recognized
// the call at all; an unrecognized call lets the connection reply with
// org.freedesktop.DBus.Error.UnknownMethod on the caller's behalf.
type ObjectDispatcher interface {
	Dispatch(call *Message) (reply *Message, handled bool)
}

// BusConnection is the external collaborator this core depends on: a bus
// connection's socket I/O, event loop, and auth handshake, none of which
// are in scope here (spec.md §1/§6). The core only ever calls these six
// methods; package conn and package conntest each provide a concrete
// implementation.
type BusConnection interface {
	// SendMethodCallSync blocks the calling goroutine until a reply
	// arrives or timeout elapses.
	SendMethodCallSync(call *Message, timeout time.Duration) (*Message, error)

	// SendMethodCallAsync queues call and returns immediately; handler
	// runs on the connection's dispatch thread exactly once, with
	// exactly one of (reply, err) non-nil, unless the returned
	// PendingAsyncCall is cancelled first.
	SendMethodCallAsync(call *Message, timeout time.Duration, handler func(reply *Message, err error)) (*PendingAsyncCall, error)

	// SendSignal publishes a sealed signal message.
	SendSignal(signal *Message) error

	// RegisterObject routes method calls addressed to path to
	// dispatcher until the returned Slot is released.
	RegisterObject(path ObjectPath, dispatcher ObjectDispatcher) (*Slot, error)

	// Subscribe delivers signals matching match to handler, on the
	// dispatch thread, until the returned Slot is released.
	Subscribe(match SignalMatch, handler func(signal *Message)) (*Slot, error)

	// DispatchThreadInvoke posts fn to run on the connection's single
	// dispatch thread, serializing it with message delivery.
	DispatchThreadInvoke(fn func())
}
