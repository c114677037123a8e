package dbus

import (
	"reflect"
	"time"
)

// This file holds the fluent builder chains spec.md §4.8 describes: each
// builder accumulates configuration through chained With* calls and
// performs its one side effect (registering a v-table, sending a method
// call, emitting a signal, ...) from a single terminal call. None of them
// retain state past that terminal call.

// VTableAdder accumulates the items of one interface's v-table before
// registering it on an Object (spec.md §4.4).
type VTableAdder struct {
	obj   *Object
	iface string
	items []VTableItem
}

// OnInterface starts building a v-table for iface on o.
func (o *Object) OnInterface(iface string) *VTableAdder {
	return &VTableAdder{obj: o, iface: iface}
}

// WithMethod adds a synchronous method implementation.
func (b *VTableAdder) WithMethod(name string, fn MethodFunc) *VTableAdder {
	b.items = append(b.items, VTableItem{Kind: VTableMethod, Name: name, Method: fn})
	return b
}

// WithAsyncMethod adds a method implementation that completes its Result
// later, possibly from another goroutine.
func (b *VTableAdder) WithAsyncMethod(name string, fn AsyncMethodFunc) *VTableAdder {
	b.items = append(b.items, VTableItem{Kind: VTableMethod, Name: name, AsyncMethod: fn})
	return b
}

// WithSignal declares a signal this interface emits, so EmitSignal can
// validate its signature.
func (b *VTableAdder) WithSignal(name string, signature Signature) *VTableAdder {
	b.items = append(b.items, VTableItem{Kind: VTableSignal, Name: name, SignalSignature: signature})
	return b
}

// WithProperty adds a readable (and, if set is non-nil, writable)
// property.
func (b *VTableAdder) WithProperty(name string, propType Signature, get PropertyGetFunc, set PropertySetFunc, flag PropertyFlag) *VTableAdder {
	b.items = append(b.items, VTableItem{
		Kind: VTablePropertyFlag, Name: name, PropertyType: propType, Get: get, Set: set, Flag: flag,
	})
	return b
}

// Register commits the v-table as a floating registration.
func (b *VTableAdder) Register() error {
	return b.obj.AddVTable(b.iface, b.items)
}

// RegisterSlot commits the v-table, transferring its lifetime to the
// returned Slot.
func (b *VTableAdder) RegisterSlot() (*Slot, error) {
	return b.obj.AddVTableSlot(b.iface, b.items)
}

// SignalEmitter accumulates a signal's arguments before emitting it
// (spec.md §4.4, §4.6). It is single-use: Commit (or DeferCommit) may
// only fire the underlying emit once.
type SignalEmitter struct {
	obj   *Object
	msg   *Message
	armed bool
}

// Signal starts building a signal emission for iface.member from o's path.
func (o *Object) Signal(iface, member string) *SignalEmitter {
	return &SignalEmitter{obj: o, msg: o.CreateSignal(iface, member), armed: true}
}

// WithArguments appends args to the signal body.
func (e *SignalEmitter) WithArguments(args ...interface{}) *SignalEmitter {
	if e.armed {
		if err := e.msg.Append(args...); err != nil {
			e.armed = false
		}
	}
	return e
}

// Commit emits the signal. Calling Commit twice, or calling it after
// Abandon, is a no-op returning nil.
func (e *SignalEmitter) Commit() error {
	if !e.armed {
		return nil
	}
	e.armed = false
	return e.obj.EmitSignal(e.msg)
}

// Abandon discards the emitter without sending anything.
func (e *SignalEmitter) Abandon() { e.armed = false }

// DeferCommit returns a closure suited to `defer emitter.DeferCommit(&err)()`:
// it commits the signal on scope exit unless *errp already holds a
// failure, matching spec.md §9's "armed flag suppressed by a failure
// already propagating in the enclosing scope" builder-destructor model.
func (e *SignalEmitter) DeferCommit(errp *error) func() {
	return func() {
		if !e.armed {
			return
		}
		e.armed = false
		if errp != nil && *errp != nil {
			return
		}
		if err := e.obj.EmitSignal(e.msg); err != nil && errp != nil && *errp == nil {
			*errp = err
		}
	}
}

// MethodInvoker accumulates arguments and a timeout before a synchronous
// call (spec.md §4.5).
type MethodInvoker struct {
	proxy   *Proxy
	iface   string
	member  string
	timeout time.Duration
	args    []interface{}
}

// Method starts building a synchronous call to iface.member.
func (p *Proxy) Method(iface, member string) *MethodInvoker {
	return &MethodInvoker{proxy: p, iface: iface, member: member}
}

// WithTimeout overrides the default call timeout.
func (m *MethodInvoker) WithTimeout(d time.Duration) *MethodInvoker {
	m.timeout = d
	return m
}

// WithArguments appends args to the call body.
func (m *MethodInvoker) WithArguments(args ...interface{}) *MethodInvoker {
	m.args = append(m.args, args...)
	return m
}

// Invoke sends the call and decodes its reply into outArgs.
func (m *MethodInvoker) Invoke(outArgs ...interface{}) error {
	return m.proxy.CallMethod(m.iface, m.member, m.timeout, m.args, outArgs...)
}

// DontExpectReply sends the call with the no-reply header flag set and
// returns as soon as the transport accepts it, never blocking for a reply
// (spec.md §4.5, §8 scenario 5).
func (m *MethodInvoker) DontExpectReply() error {
	return m.proxy.CallMethodNoReply(m.iface, m.member, m.args)
}

// AsyncMethodInvoker is the async counterpart of MethodInvoker, ending
// either in a typed callback (UponReplyInvoke) or a Future
// (GetResultAsFuture), per spec.md §4.5/§9.
type AsyncMethodInvoker struct {
	proxy   *Proxy
	iface   string
	member  string
	timeout time.Duration
	args    []interface{}
}

// MethodAsync starts building an asynchronous call to iface.member.
func (p *Proxy) MethodAsync(iface, member string) *AsyncMethodInvoker {
	return &AsyncMethodInvoker{proxy: p, iface: iface, member: member}
}

func (a *AsyncMethodInvoker) WithTimeout(d time.Duration) *AsyncMethodInvoker {
	a.timeout = d
	return a
}

func (a *AsyncMethodInvoker) WithArguments(args ...interface{}) *AsyncMethodInvoker {
	a.args = append(a.args, args...)
	return a
}

// UponReplyInvoke sends the call and, on reply, calls callback via
// reflection. callback must be a func whose final parameter is error and
// whose preceding parameters are the reply's decoded output arguments, in
// order; on any failure (transport, remote error, or decode mismatch) the
// output parameters are passed their zero value and the error is non-nil.
func (a *AsyncMethodInvoker) UponReplyInvoke(callback interface{}) (*PendingAsyncCall, error) {
	cv := reflect.ValueOf(callback)
	ct := cv.Type()
	if ct.Kind() != reflect.Func || ct.NumIn() == 0 || ct.In(ct.NumIn()-1) != typeError {
		return nil, newInternalError("UponReplyInvoke callback must be a func(..., error)")
	}
	numOut := ct.NumIn() - 1

	invokeWith := func(outs []reflect.Value, err error) {
		in := make([]reflect.Value, ct.NumIn())
		copy(in, outs)
		if err != nil {
			in[numOut] = reflect.ValueOf(&err).Elem()
		} else {
			in[numOut] = reflect.Zero(typeError)
		}
		cv.Call(in)
	}

	return a.proxy.CallMethodAsync(a.iface, a.member, a.timeout, a.args, func(reply *Message, err error) {
		zeros := make([]reflect.Value, numOut)
		for i := 0; i < numOut; i++ {
			zeros[i] = reflect.Zero(ct.In(i))
		}
		if err != nil {
			invokeWith(zeros, err)
			return
		}
		ptrs := make([]interface{}, numOut)
		for i := 0; i < numOut; i++ {
			ptrs[i] = reflect.New(ct.In(i)).Interface()
		}
		if decErr := reply.GetArgs(ptrs...); decErr != nil {
			invokeWith(zeros, decErr)
			return
		}
		outs := make([]reflect.Value, numOut)
		for i := 0; i < numOut; i++ {
			outs[i] = reflect.ValueOf(ptrs[i]).Elem()
		}
		invokeWith(outs, nil)
	})
}

// GetResultAsFuture sends the call and returns a Future to be consumed
// with Future0/Future1/Future2/Future3, instead of a typed callback.
func (a *AsyncMethodInvoker) GetResultAsFuture() (*Future, *PendingAsyncCall, error) {
	return a.proxy.CallMethodFuture(a.iface, a.member, a.timeout, a.args...)
}

// SignalSubscriber builds a signal subscription on a Proxy (spec.md §4.5).
type SignalSubscriber struct {
	proxy  *Proxy
	iface  string
	member string
}

// Signal starts building a subscription to iface.member emitted by p's
// service/path.
func (p *Proxy) Signal(iface, member string) *SignalSubscriber {
	return &SignalSubscriber{proxy: p, iface: iface, member: member}
}

// OnSignal registers handler as a floating subscription.
func (s *SignalSubscriber) OnSignal(handler func(signal *Message)) error {
	return s.proxy.RegisterSignalHandler(s.iface, s.member, handler)
}

// OnSignalSlot registers handler, returning a Slot the caller owns.
func (s *SignalSubscriber) OnSignalSlot(handler func(signal *Message)) (*Slot, error) {
	return s.proxy.RegisterSignalHandlerSlot(s.iface, s.member, handler)
}

// PropertyGetter builds single-property get/set access over
// org.freedesktop.DBus.Properties (spec.md §4.5).
type PropertyGetter struct {
	proxy *Proxy
	iface string
	prop  string
}

// Property starts building access to iface.prop.
func (p *Proxy) Property(iface, prop string) *PropertyGetter {
	return &PropertyGetter{proxy: p, iface: iface, prop: prop}
}

// Get fetches the property value into out.
func (g *PropertyGetter) Get(out interface{}) error {
	return g.proxy.GetProperty(g.iface, g.prop, out)
}

// Set writes the property value.
func (g *PropertyGetter) Set(value interface{}) error {
	return g.proxy.SetProperty(g.iface, g.prop, value)
}

// SetDontExpectReply writes the property value as a fire-and-forget call,
// the dont_expect_reply overload of the synchronous setter (spec.md §4.5).
func (g *PropertyGetter) SetDontExpectReply(value interface{}) error {
	return g.proxy.CallMethodNoReply(propertiesInterface, "Set", []interface{}{g.iface, g.prop, Variant{value}})
}

// GetAsync fetches the property value without blocking.
func (g *PropertyGetter) GetAsync(handler func(value Variant, err error)) (*PendingAsyncCall, error) {
	return g.proxy.CallMethodAsync(propertiesInterface, "Get", 0, []interface{}{g.iface, g.prop}, func(reply *Message, err error) {
		if err != nil {
			handler(Variant{}, err)
			return
		}
		var value Variant
		if decErr := reply.GetArgs(&value); decErr != nil {
			handler(Variant{}, decErr)
			return
		}
		handler(value, nil)
	})
}

// SetAsync writes the property value without blocking.
func (g *PropertyGetter) SetAsync(value interface{}, handler func(err error)) (*PendingAsyncCall, error) {
	return g.proxy.CallMethodAsync(propertiesInterface, "Set", 0, []interface{}{g.iface, g.prop, Variant{value}}, func(reply *Message, err error) {
		handler(err)
	})
}

// AllPropertiesGetter builds a whole-interface property fetch over
// org.freedesktop.DBus.Properties.GetAll.
type AllPropertiesGetter struct {
	proxy *Proxy
	iface string
}

// AllProperties starts building a GetAll fetch for iface.
func (p *Proxy) AllProperties(iface string) *AllPropertiesGetter {
	return &AllPropertiesGetter{proxy: p, iface: iface}
}

// Get fetches every property of the interface.
func (g *AllPropertiesGetter) Get() (map[string]Variant, error) {
	return g.proxy.GetAllProperties(g.iface)
}

// GetAsync fetches every property of the interface without blocking.
func (g *AllPropertiesGetter) GetAsync(handler func(all map[string]Variant, err error)) (*PendingAsyncCall, error) {
	return g.proxy.CallMethodAsync(propertiesInterface, "GetAll", 0, []interface{}{g.iface}, func(reply *Message, err error) {
		if err != nil {
			handler(nil, err)
			return
		}
		var all map[string]Variant
		if decErr := reply.GetArgs(&all); decErr != nil {
			handler(nil, decErr)
			return
		}
		handler(all, nil)
	})
}
