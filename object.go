package dbus

import (
	"fmt"
	"sync"
)

const propertiesInterface = "org.freedesktop.DBus.Properties"

// VTableItemKind distinguishes the three things a v-table can register.
type VTableItemKind int

const (
	VTableMethod VTableItemKind = iota
	VTableSignal
	VTablePropertyFlag
)

// PropertyFlag records whether a property change emits
// PropertiesChanged, mirroring the "flags" field of spec.md §3's
// VTableItem. Object only stores the flag; it never emits
// PropertiesChanged itself.
type PropertyFlag int

const (
	PropertyEmitsChange PropertyFlag = iota
	PropertyConst
	PropertyInvalidates
)

// MethodFunc implements one method of a v-table. It receives the sealed
// method-call Message (decode its arguments with call.GetArgs) and
// returns the reply to send back, or an error which the Object converts
// into an Error-kind reply automatically.
type MethodFunc func(call *Message) (*Message, error)

// AsyncMethodFunc implements a method whose reply is produced later,
// moving a Result into the handler for it to satisfy (spec.md §3
// "Result<T...>... moved into server-side handlers for truly
// asynchronous method implementations").
type AsyncMethodFunc func(call *Message, result *Result)

// PropertyGetFunc and PropertySetFunc implement one property of a
// v-table.
type PropertyGetFunc func() (interface{}, error)
type PropertySetFunc func(Variant) error

// VTableItem is one member of an interface's v-table: a method, a signal
// declaration, or a property.
type VTableItem struct {
	Kind VTableItemKind
	Name string

	// Method / AsyncMethod (mutually exclusive; AsyncMethod wins if set)
	Method      MethodFunc
	AsyncMethod AsyncMethodFunc

	// Signal
	SignalSignature Signature

	// Property
	PropertyType Signature
	Get          PropertyGetFunc
	Set          PropertySetFunc
	Flag         PropertyFlag
}

type vtable struct {
	items []VTableItem
}

func (vt *vtable) method(name string) (VTableItem, bool) {
	for _, item := range vt.items {
		if item.Kind == VTableMethod && item.Name == name {
			return item, true
		}
	}
	return VTableItem{}, false
}

func (vt *vtable) property(name string) (VTableItem, bool) {
	for _, item := range vt.items {
		if item.Kind == VTablePropertyFlag && item.Name == name {
			return item, true
		}
	}
	return VTableItem{}, false
}

func (vt *vtable) signalSignature(name string) (Signature, bool) {
	for _, item := range vt.items {
		if item.Kind == VTableSignal && item.Name == name {
			return item.SignalSignature, true
		}
	}
	return "", false
}

// Result is a reply slot for an asynchronous method implementation. It
// may be satisfied exactly once, with either values or an error.
type Result struct {
	call    *Message
	respond func(reply *Message, err error)
	done    sync.Once
}

// Complete satisfies the result with a successful reply carrying values.
func (r *Result) Complete(values ...interface{}) {
	r.done.Do(func() {
		reply := NewMethodReturnMessage(r.call)
		if err := reply.Append(values...); err != nil {
			r.respond(nil, err)
			return
		}
		r.respond(reply, nil)
	})
}

// Fail satisfies the result with an error reply.
func (r *Result) Fail(err *Error) {
	r.done.Do(func() {
		r.respond(nil, err)
	})
}

// Object is a server-side entity attached to an object path, holding one
// v-table per registered interface (spec.md §3/§4.4).
type Object struct {
	conn BusConnection
	path ObjectPath

	mu      sync.Mutex
	vtables map[string]*vtable

	floating floatingSlots
	regSlot  *Slot
}

// NewObject creates an Object bound to path on conn. conn.Connection
// also offers it as its Object(path) convenience method.
func NewObject(conn BusConnection, path ObjectPath) (*Object, error) {
	o := &Object{conn: conn, path: path, vtables: map[string]*vtable{}}
	slot, err := conn.RegisterObject(path, o)
	if err != nil {
		return nil, err
	}
	o.regSlot = slot
	return o, nil
}

// Path reports the object path this Object is attached to.
func (o *Object) Path() ObjectPath { return o.path }

// AddVTable registers items under interface iface as a floating
// registration: it is released automatically when the Object itself is
// released. At most one v-table may be registered per interface; a
// second registration for the same interface fails (spec.md §4.4).
func (o *Object) AddVTable(iface string, items []VTableItem) error {
	_, err := o.addVTable(iface, items, false)
	return err
}

// AddVTableSlot registers items under iface and transfers ownership of
// the registration's lifetime to the caller via the returned Slot.
func (o *Object) AddVTableSlot(iface string, items []VTableItem) (*Slot, error) {
	return o.addVTable(iface, items, true)
}

func (o *Object) addVTable(iface string, items []VTableItem, returnSlot bool) (*Slot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.vtables[iface]; exists {
		return nil, fmt.Errorf("dbus: interface %q already has a v-table registered on %s", iface, o.path)
	}
	o.vtables[iface] = &vtable{items: items}

	slot := newSlot(func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.vtables, iface)
	})
	if returnSlot {
		return slot, nil
	}
	o.floating.adopt(slot)
	return nil, nil
}

// CreateSignal constructs an unsealed signal message bound to this
// Object's path for member on iface.
func (o *Object) CreateSignal(iface, member string) *Message {
	return NewSignalMessage(o.path, iface, member)
}

// EmitSignal publishes a sealed signal. It fails if msg is malformed, is
// not of kind Signal, or carries a signature not declared for iface+member
// in any registered v-table (spec.md §4.4).
func (o *Object) EmitSignal(msg *Message) error {
	if msg.Kind() != TypeSignal {
		return newInternalError("emitSignal requires a Signal message, got %s", msg.Kind())
	}
	if !msg.IsValid() {
		return newInternalError("emitSignal requires a complete signal message")
	}
	o.mu.Lock()
	vt, ok := o.vtables[msg.Interface()]
	o.mu.Unlock()
	var declared Signature
	if ok {
		declared, ok = vt.signalSignature(msg.Member())
	}
	if !ok {
		return newInternalError("signal %s.%s is not declared in any registered v-table",
			msg.Interface(), msg.Member())
	}
	if declared != msg.Signature() {
		return newInternalError("signal %s.%s declared signature %q does not match emitted signature %q",
			msg.Interface(), msg.Member(), declared, msg.Signature())
	}
	return o.conn.SendSignal(msg)
}

// Dispatch implements ObjectDispatcher, routing an incoming method call
// to the matching v-table method, or to the built-in
// org.freedesktop.DBus.Properties handlers.
func (o *Object) Dispatch(call *Message) (*Message, bool) {
	if call.Interface() == propertiesInterface {
		return o.dispatchProperties(call), true
	}

	o.mu.Lock()
	vt, ok := o.vtables[call.Interface()]
	o.mu.Unlock()
	if !ok {
		return errorReply(call, ErrUnknownInterface), true
	}
	item, ok := vt.method(call.Member())
	if !ok {
		return errorReply(call, ErrUnknownMethod), true
	}

	if item.AsyncMethod != nil {
		replyCh := make(chan *Message, 1)
		result := &Result{call: call, respond: func(reply *Message, err error) {
			if err != nil {
				replyCh <- errorReplyFromErr(call, err)
				return
			}
			replyCh <- reply
		}}
		item.AsyncMethod(call, result)
		return <-replyCh, true
	}

	reply, err := item.Method(call)
	if err != nil {
		return errorReplyFromErr(call, err), true
	}
	if reply == nil {
		reply = NewMethodReturnMessage(call)
	}
	return reply, true
}

func (o *Object) dispatchProperties(call *Message) *Message {
	switch call.Member() {
	case "Get":
		var iface, prop string
		if err := call.GetArgs(&iface, &prop); err != nil {
			return errorReplyFromErr(call, err)
		}
		o.mu.Lock()
		vt, ok := o.vtables[iface]
		o.mu.Unlock()
		if !ok {
			return errorReply(call, ErrUnknownInterface)
		}
		item, ok := vt.property(prop)
		if !ok {
			return errorReply(call, ErrUnknownProperty)
		}
		value, err := item.Get()
		if err != nil {
			return errorReplyFromErr(call, err)
		}
		reply := NewMethodReturnMessage(call)
		if err := reply.Append(Variant{value}); err != nil {
			return errorReplyFromErr(call, err)
		}
		return reply
	case "Set":
		var iface, prop string
		var value Variant
		if err := call.GetArgs(&iface, &prop, &value); err != nil {
			return errorReplyFromErr(call, err)
		}
		o.mu.Lock()
		vt, ok := o.vtables[iface]
		o.mu.Unlock()
		if !ok {
			return errorReply(call, ErrUnknownInterface)
		}
		item, ok := vt.property(prop)
		if !ok || item.Set == nil {
			return errorReply(call, ErrUnknownProperty)
		}
		if err := item.Set(value); err != nil {
			return errorReplyFromErr(call, err)
		}
		return NewMethodReturnMessage(call)
	case "GetAll":
		var iface string
		if err := call.GetArgs(&iface); err != nil {
			return errorReplyFromErr(call, err)
		}
		o.mu.Lock()
		vt, ok := o.vtables[iface]
		o.mu.Unlock()
		if !ok {
			return errorReply(call, ErrUnknownInterface)
		}
		all := map[string]Variant{}
		for _, item := range vt.items {
			if item.Kind != VTablePropertyFlag || item.Get == nil {
				continue
			}
			value, err := item.Get()
			if err != nil {
				return errorReplyFromErr(call, err)
			}
			all[item.Name] = Variant{value}
		}
		reply := NewMethodReturnMessage(call)
		if err := reply.Append(all); err != nil {
			return errorReplyFromErr(call, err)
		}
		return reply
	}
	return errorReply(call, ErrUnknownMethod)
}

func errorReply(call *Message, e *Error) *Message {
	return NewErrorMessage(call, e.Name, e.Message)
}

func errorReplyFromErr(call *Message, err error) *Message {
	if e, ok := err.(*Error); ok {
		return errorReply(call, e)
	}
	return NewErrorMessage(call, ErrorNameInternal, err.Error())
}

// Release tears down the object: every v-table registered on it (and the
// object-path registration itself) is released.
func (o *Object) Release() {
	o.floating.releaseAll()
	o.regSlot.Release()
}
