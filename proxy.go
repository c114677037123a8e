package dbus

import (
	"reflect"
	"time"
)

const defaultCallTimeout = 25 * time.Second

// Proxy is a client-side handle to a remote object: a (service, path)
// pair bound to a BusConnection. It is the counterpart of Object on the
// calling side (spec.md §4.5).
type Proxy struct {
	conn    BusConnection
	service string
	path    ObjectPath

	floating floatingSlots
}

// NewProxy creates a Proxy for service/path on conn. conn.Connection
// also offers it as its Proxy(service, path) convenience method.
func NewProxy(conn BusConnection, service string, path ObjectPath) *Proxy {
	return &Proxy{conn: conn, service: service, path: path}
}

// Service reports the remote bus name this proxy targets.
func (p *Proxy) Service() string { return p.service }

// Path reports the remote object path this proxy targets.
func (p *Proxy) Path() ObjectPath { return p.path }

// CreateMethodCall builds an unsealed method-call message targeting this
// proxy's service and path.
func (p *Proxy) CreateMethodCall(iface, member string) *Message {
	return NewMethodCallMessage(p.service, p.path, iface, member)
}

// CallMethod builds, sends, and waits for a reply to iface.member with
// inArgs appended as the call body, decoding the reply body into outArgs.
// An Error-kind reply is returned as a *Error, satisfying errors.Is
// against the ErrUnknown*/ErrAccessDenied/... sentinels (spec.md §4.5,
// §7; redesigned per §9 away from the original's reverse-DNS string
// comparison).
func (p *Proxy) CallMethod(iface, member string, timeout time.Duration, inArgs []interface{}, outArgs ...interface{}) error {
	call := p.CreateMethodCall(iface, member)
	if err := call.Append(inArgs...); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	reply, err := p.conn.SendMethodCallSync(call, timeout)
	if err != nil {
		return err
	}
	if reply.Kind() == TypeError {
		return reply.AsError()
	}
	if len(outArgs) == 0 {
		return nil
	}
	return reply.GetArgs(outArgs...)
}

// CallMethodAsync builds and sends iface.member without blocking. handler
// runs on the connection's dispatch thread exactly once, with either a
// sealed reply or a non-nil error (a decoded remote *Error, or a local
// transport/timeout failure). The returned PendingAsyncCall lets the
// caller cancel delivery before handler runs (spec.md §4.3, §4.5).
func (p *Proxy) CallMethodAsync(iface, member string, timeout time.Duration, inArgs []interface{}, handler func(reply *Message, err error)) (*PendingAsyncCall, error) {
	call := p.CreateMethodCall(iface, member)
	if err := call.Append(inArgs...); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	ready := make(chan struct{})
	var pending *PendingAsyncCall
	pending, sendErr := p.conn.SendMethodCallAsync(call, timeout, func(reply *Message, err error) {
		<-ready
		if pending == nil || !pending.markCompleted() {
			return
		}
		if err != nil {
			handler(nil, err)
			return
		}
		if reply.Kind() == TypeError {
			handler(nil, reply.AsError())
			return
		}
		handler(reply, nil)
	})
	close(ready)
	if sendErr != nil {
		return nil, sendErr
	}
	return pending, nil
}

// CallMethodFuture is the Future-returning flavor of CallMethodAsync, for
// use with Future0/Future1/Future2/Future3 (spec.md §4.5
// GetResultAsFuture, generalized per §9 to arity-specific helpers since
// Go has no variadic generics).
func (p *Proxy) CallMethodFuture(iface, member string, timeout time.Duration, inArgs ...interface{}) (*Future, *PendingAsyncCall, error) {
	future := newFuture()
	pending, err := p.CallMethodAsync(iface, member, timeout, inArgs, func(reply *Message, err error) {
		future.settle(reply, err)
	})
	if err != nil {
		return nil, nil, err
	}
	return future, pending, nil
}

// RegisterSignalHandler subscribes handler to signals matching iface and
// member emitted from this proxy's (service, path), as a floating
// registration released when the Proxy is released.
func (p *Proxy) RegisterSignalHandler(iface, member string, handler func(signal *Message)) error {
	_, err := p.registerSignalHandler(iface, member, handler, false)
	return err
}

// RegisterSignalHandlerSlot is RegisterSignalHandler but returns the Slot
// so the caller controls the subscription's lifetime independently of the
// Proxy's.
func (p *Proxy) RegisterSignalHandlerSlot(iface, member string, handler func(signal *Message)) (*Slot, error) {
	return p.registerSignalHandler(iface, member, handler, true)
}

func (p *Proxy) registerSignalHandler(iface, member string, handler func(signal *Message), returnSlot bool) (*Slot, error) {
	match := SignalMatch{Sender: p.service, Path: p.path, Interface: iface, Member: member}
	slot, err := p.conn.Subscribe(match, handler)
	if err != nil {
		return nil, err
	}
	if returnSlot {
		return slot, nil
	}
	p.floating.adopt(slot)
	return nil, nil
}

// GetProperty fetches iface.prop over org.freedesktop.DBus.Properties and
// decodes its variant payload into out.
func (p *Proxy) GetProperty(iface, prop string, out interface{}) error {
	var value Variant
	if err := p.CallMethod(propertiesInterface, "Get", 0, []interface{}{iface, prop}, &value); err != nil {
		return err
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr {
		return newInternalError("GetProperty out must be a pointer, got %T", out)
	}
	return assign(rv.Elem(), value.Value)
}

// SetProperty sets iface.prop over org.freedesktop.DBus.Properties.
func (p *Proxy) SetProperty(iface, prop string, value interface{}) error {
	return p.CallMethod(propertiesInterface, "Set", 0, []interface{}{iface, prop, Variant{value}})
}

// CallMethodNoReply builds and sends iface.member with the NO_REPLY_EXPECTED
// header flag set: the call returns as soon as the transport accepts it and
// never waits on, or registers a handler for, a reply (spec.md §4.5
// dontExpectReply, §8 scenario 5).
func (p *Proxy) CallMethodNoReply(iface, member string, inArgs []interface{}) error {
	call := p.CreateMethodCall(iface, member)
	call.SetNoReply()
	if err := call.Append(inArgs...); err != nil {
		return err
	}
	_, err := p.conn.SendMethodCallSync(call, defaultCallTimeout)
	return err
}

// GetAllProperties fetches every property of iface over
// org.freedesktop.DBus.Properties.GetAll.
func (p *Proxy) GetAllProperties(iface string) (map[string]Variant, error) {
	var all map[string]Variant
	if err := p.CallMethod(propertiesInterface, "GetAll", 0, []interface{}{iface}, &all); err != nil {
		return nil, err
	}
	return all, nil
}

// Release releases every floating signal subscription registered through
// this proxy.
func (p *Proxy) Release() {
	p.floating.releaseAll()
}
