// Package conntest provides an in-process dbus.BusConnection for testing
// the core library without a real bus daemon, playing the role the
// teacher library left to an actual system/session bus
// (z3ntu-go-dbus/dbus.go's Connect). Loopback delivers every method call
// and signal locally and synchronously modulo its own dispatch queue,
// which mirrors the single dispatch-thread contract of a real
// connection.
package conntest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbuscore/dbuscore"
	"github.com/google/uuid"
)

// Loopback implements dbus.BusConnection entirely in memory: a signal
// sent on it is delivered to every matching local subscription, and a
// method call addressed to any registered object path is dispatched
// without touching the network.
type Loopback struct {
	mu          sync.Mutex
	serial      uint32
	dispatchers map[dbus.ObjectPath]dbus.ObjectDispatcher
	watchers    map[string]loopbackWatch

	dispatchCh chan func()
	closed     chan struct{}
	closeOnce  sync.Once
}

type loopbackWatch struct {
	match   dbus.SignalMatch
	handler func(signal *dbus.Message)
}

// NewLoopback starts a ready-to-use Loopback bus.
func NewLoopback() *Loopback {
	l := &Loopback{
		dispatchers: map[dbus.ObjectPath]dbus.ObjectDispatcher{},
		watchers:    map[string]loopbackWatch{},
		dispatchCh:  make(chan func(), 64),
		closed:      make(chan struct{}),
	}
	go l.dispatchLoop()
	return l
}

// Close stops the dispatch loop. A closed Loopback rejects no further
// calls; it simply stops delivering them.
func (l *Loopback) Close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

func (l *Loopback) dispatchLoop() {
	for {
		select {
		case fn := <-l.dispatchCh:
			fn()
		case <-l.closed:
			return
		}
	}
}

// DispatchThreadInvoke implements dbus.BusConnection.
func (l *Loopback) DispatchThreadInvoke(fn func()) {
	select {
	case l.dispatchCh <- fn:
	case <-l.closed:
	}
}

func (l *Loopback) nextSerial() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.serial++
	return l.serial
}

// SendMethodCallSync implements dbus.BusConnection by dispatching call
// straight to the registered object on the dispatch goroutine and
// waiting for the result. A call with the no-reply flag set
// (MethodInvoker.DontExpectReply) still reaches its dispatcher, but the
// caller never waits on the outcome.
func (l *Loopback) SendMethodCallSync(call *dbus.Message, timeout time.Duration) (*dbus.Message, error) {
	call.AssignSerial(l.nextSerial())
	if call.NoReplyExpected() {
		l.DispatchThreadInvoke(func() { l.dispatch(call) })
		return nil, nil
	}
	resultCh := make(chan *dbus.Message, 1)
	l.DispatchThreadInvoke(func() {
		resultCh <- l.dispatch(call)
	})
	select {
	case reply := <-resultCh:
		return reply, nil
	case <-time.After(timeout):
		return nil, dbus.ErrTimeout
	case <-l.closed:
		return nil, dbus.ErrDisconnected
	}
}

// SendMethodCallAsync implements dbus.BusConnection.
func (l *Loopback) SendMethodCallAsync(call *dbus.Message, timeout time.Duration, handler func(reply *dbus.Message, err error)) (*dbus.PendingAsyncCall, error) {
	call.AssignSerial(l.nextSerial())
	var settled int32
	cancel := func() bool {
		return atomic.CompareAndSwapInt32(&settled, 0, 1)
	}
	pending := dbus.NewPendingAsyncCall(cancel)

	l.DispatchThreadInvoke(func() {
		reply := l.dispatch(call)
		if !atomic.CompareAndSwapInt32(&settled, 0, 1) {
			return
		}
		if reply.Kind() == dbus.TypeError {
			handler(nil, reply.AsError())
			return
		}
		handler(reply, nil)
	})
	return pending, nil
}

func (l *Loopback) dispatch(call *dbus.Message) *dbus.Message {
	l.mu.Lock()
	dispatcher, ok := l.dispatchers[call.Path()]
	l.mu.Unlock()
	if !ok {
		return dbus.NewErrorMessage(call, dbus.ErrorNameUnknownMethod,
			fmt.Sprintf("no object registered at %s", call.Path()))
	}
	reply, handled := dispatcher.Dispatch(call)
	if !handled {
		return dbus.NewErrorMessage(call, dbus.ErrorNameUnknownMethod, "unhandled method call")
	}
	return reply
}

// SendSignal implements dbus.BusConnection, fanning signal out to every
// matching subscription synchronously on the dispatch goroutine.
func (l *Loopback) SendSignal(signal *dbus.Message) error {
	signal.AssignSerial(l.nextSerial())
	l.mu.Lock()
	var matched []func(*dbus.Message)
	for _, w := range l.watchers {
		if signalMatches(w.match, signal) {
			matched = append(matched, w.handler)
		}
	}
	l.mu.Unlock()
	l.DispatchThreadInvoke(func() {
		for _, handler := range matched {
			handler(signal)
		}
	})
	return nil
}

// RegisterObject implements dbus.BusConnection.
func (l *Loopback) RegisterObject(path dbus.ObjectPath, dispatcher dbus.ObjectDispatcher) (*dbus.Slot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.dispatchers[path]; exists {
		return nil, fmt.Errorf("dbus/conntest: object path %s already registered", path)
	}
	l.dispatchers[path] = dispatcher
	return dbus.NewSlot(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.dispatchers, path)
	}), nil
}

// Subscribe implements dbus.BusConnection.
func (l *Loopback) Subscribe(match dbus.SignalMatch, handler func(signal *dbus.Message)) (*dbus.Slot, error) {
	id := uuid.NewString()
	l.mu.Lock()
	l.watchers[id] = loopbackWatch{match: match, handler: handler}
	l.mu.Unlock()
	return dbus.NewSlot(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.watchers, id)
	}), nil
}

func signalMatches(match dbus.SignalMatch, signal *dbus.Message) bool {
	if match.Sender != "" && match.Sender != signal.Sender() {
		return false
	}
	if match.Path != "" && match.Path != signal.Path() {
		return false
	}
	if match.Interface != "" && match.Interface != signal.Interface() {
		return false
	}
	if match.Member != "" && match.Member != signal.Member() {
		return false
	}
	return true
}
