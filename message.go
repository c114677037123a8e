package dbus

import (
	"encoding/binary"
	"reflect"
)

// MessageType identifies what kind of D-Bus message a Message carries.
type MessageType uint8

const (
	TypeInvalid MessageType = iota
	TypeMethodCall
	TypeMethodReturn
	TypeError
	TypeSignal
)

var messageTypeNames = map[MessageType]string{
	TypeInvalid:      "invalid",
	TypeMethodCall:   "method_call",
	TypeMethodReturn: "method_return",
	TypeError:        "error",
	TypeSignal:       "signal",
}

func (t MessageType) String() string { return messageTypeNames[t] }

// MessageFlag is a bitmask of per-message wire flags.
type MessageFlag uint8

const (
	FlagNoReplyExpected MessageFlag = 1 << iota
	FlagNoAutoStart
)

// Message is an opaque, uniquely-owned handle to a wire message: a method
// call, method reply, signal, or error. A freshly constructed Message is
// in build mode (writable, append-only); Seal transitions it to sealed
// mode (immutable, readable with an advancing cursor). A Message is never
// copied; passing it around passes the pointer, matching its "unique
// ownership" invariant (spec.md §3).
type Message struct {
	kind   MessageType
	flags  MessageFlag
	serial uint32

	path        ObjectPath
	dest        string
	sender      string
	iface       string
	member      string
	errorName   string
	replySerial uint32

	enc    *encoder
	sealed bool
	sig    Signature
	body   []byte
	dec    *decoder
}

func newMessage(kind MessageType) *Message {
	return &Message{kind: kind, enc: newEncoder(binary.LittleEndian)}
}

// NewMethodCallMessage builds an unsealed method call targeting dest/path,
// invoking member on iface.
func NewMethodCallMessage(dest string, path ObjectPath, iface, member string) *Message {
	m := newMessage(TypeMethodCall)
	m.dest, m.path, m.iface, m.member = dest, path, iface, member
	return m
}

// NewMethodReturnMessage builds an unsealed reply to call.
func NewMethodReturnMessage(call *Message) *Message {
	m := newMessage(TypeMethodReturn)
	m.replySerial = call.serial
	return m
}

// NewErrorMessage builds an unsealed error reply to call.
func NewErrorMessage(call *Message, name, text string) *Message {
	m := newMessage(TypeError)
	m.replySerial = call.serial
	m.errorName = name
	if text != "" {
		_ = m.Append(text)
	}
	return m
}

// NewSignalMessage builds an unsealed signal emitted from path on iface.
func NewSignalMessage(path ObjectPath, iface, member string) *Message {
	m := newMessage(TypeSignal)
	m.path, m.iface, m.member = path, iface, member
	return m
}

// Kind reports the message's type.
func (m *Message) Kind() MessageType { return m.kind }

// Flags reports the message's flags.
func (m *Message) Flags() MessageFlag { return m.flags }

// SetNoReply marks the message as not expecting a reply. Only meaningful
// on a method call; the transport is told not to wait for one.
func (m *Message) SetNoReply() { m.flags |= FlagNoReplyExpected }

// NoReplyExpected reports whether SetNoReply has been called.
func (m *Message) NoReplyExpected() bool { return m.flags&FlagNoReplyExpected != 0 }

func (m *Message) Path() ObjectPath        { return m.path }
func (m *Message) Destination() string     { return m.dest }
func (m *Message) Sender() string          { return m.sender }
func (m *Message) Interface() string       { return m.iface }
func (m *Message) Member() string          { return m.member }
func (m *Message) ErrorName() string       { return m.errorName }
func (m *Message) ReplySerial() uint32     { return m.replySerial }
func (m *Message) Serial() uint32          { return m.serial }
func (m *Message) SetDestination(d string) { m.dest = d }
func (m *Message) SetSender(s string)      { m.sender = s }

func (m *Message) setSerial(serial uint32) { m.serial = serial }

// AssignSerial stamps a message with its wire serial number. It is
// exported only for the bus-connection collaborator (package conn) to
// call immediately before writing a message to the wire; application
// code never needs it.
func (m *Message) AssignSerial(serial uint32) { m.setSerial(serial) }

// Signature returns the message's payload signature: the declared
// signature while building, or the sealed signature once Seal has run.
func (m *Message) Signature() Signature {
	if m.sealed {
		return m.sig
	}
	if m.enc != nil {
		return m.enc.signature
	}
	return ""
}

// IsValid reports whether the message is well-formed enough to send: it
// must carry a member name, and (for method calls and signals) a path.
func (m *Message) IsValid() bool {
	if m.member == "" {
		return false
	}
	switch m.kind {
	case TypeMethodCall, TypeSignal:
		return m.path != ""
	case TypeError:
		return m.errorName != ""
	}
	return true
}

// Append writes args to the message in order. It is an error to call
// Append on a sealed message: builds are append-only and become immutable
// once sealed (spec.md §3 invariant ii/iii).
func (m *Message) Append(args ...interface{}) error {
	if m.sealed {
		return newInternalError("cannot append to a sealed message")
	}
	return m.enc.Append(args...)
}

// Seal finalizes a build-mode message, freezing its signature and body
// and enabling GetArgs. Calling Seal twice is a no-op.
func (m *Message) Seal() error {
	if m.sealed {
		return nil
	}
	m.sig = m.enc.signature
	m.body = m.enc.data.Bytes()
	m.sealed = true
	m.enc = nil
	return nil
}

// GetArgs reads len(args) values from the sealed message's body in
// signature order, advancing a per-message read cursor. A call that runs
// out of buffer, finds a signature mismatch, or hits a bad variant inner
// type returns a *Error named ErrorNameDeserializationFailure.
func (m *Message) GetArgs(args ...interface{}) error {
	if !m.sealed {
		if err := m.Seal(); err != nil {
			return err
		}
	}
	if m.dec == nil {
		m.dec = newDecoder(m.sig, m.body, binary.LittleEndian)
	}
	return m.dec.Decode(args...)
}

// Args is an alias of GetArgs kept for callers used to the teacher
// library's naming (z3ntu-go-dbus/dbus.go's ObjectProxy.Call/reply.Args).
func (m *Message) Args(args ...interface{}) error { return m.GetArgs(args...) }

// AsError interprets an Error-kind message as a *Error, decoding its
// detail payload (if any).
func (m *Message) AsError() *Error {
	e := &Error{Name: m.errorName}
	var detail interface{}
	if m.Signature() != "" {
		if err := m.GetArgs(&detail); err == nil {
			switch d := detail.(type) {
			case string:
				e.Message = d
			case Variant:
				e.Detail = &d
			default:
				e.Detail = &Variant{d}
			}
		}
	}
	return e
}

// BodyBytes returns the sealed message's raw body and its signature, for
// use by an external transport when framing the message on the wire.
func (m *Message) BodyBytes() ([]byte, Signature, error) {
	if err := m.Seal(); err != nil {
		return nil, "", err
	}
	return m.body, m.sig, nil
}

// NewSealedMessageFromWire constructs a sealed Message from header fields
// and a raw body already received off the wire. It is the inverse of
// BodyBytes, used by the bus-connection collaborator (package conn) to
// hand decoded wire messages to the core.
func NewSealedMessageFromWire(kind MessageType, flags MessageFlag, serial uint32, path ObjectPath, dest, sender, iface, member, errorName string, replySerial uint32, sig Signature, body []byte) *Message {
	return &Message{
		kind: kind, flags: flags, serial: serial,
		path: path, dest: dest, sender: sender, iface: iface, member: member,
		errorName: errorName, replySerial: replySerial,
		sig: sig, body: body, sealed: true,
	}
}

func marshalValues(order binary.ByteOrder, args ...interface{}) ([]byte, Signature, error) {
	enc := newEncoder(order)
	if err := enc.Append(args...); err != nil {
		return nil, "", err
	}
	return enc.data.Bytes(), enc.signature, nil
}

func unmarshalValues(sig Signature, data []byte, order binary.ByteOrder, args ...interface{}) error {
	dec := newDecoder(sig, data, order)
	return dec.Decode(args...)
}

// MarshalValues and UnmarshalValues expose the core codec to the
// bus-connection collaborator (package conn) so it can encode/decode the
// standard D-Bus header array without reimplementing reflection-based
// marshalling of its own.
func MarshalValues(order binary.ByteOrder, args ...interface{}) ([]byte, Signature, error) {
	return marshalValues(order, args...)
}

func UnmarshalValues(sig Signature, data []byte, order binary.ByteOrder, args ...interface{}) error {
	return unmarshalValues(sig, data, order, args...)
}

// argumentTypes derives the reflect.Type of each value in values. The
// builder chain does not call it: WithArguments values are not checked
// against a declared signature.
func argumentTypes(values []interface{}) []reflect.Type {
	types := make([]reflect.Type, len(values))
	for i, v := range values {
		types[i] = reflect.TypeOf(v)
	}
	return types
}
