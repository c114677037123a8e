package dbus

import "fmt"

// Well-known D-Bus error names, used both for errors this library raises
// locally and for matching errors received from a remote peer.
const (
	ErrorNameTimeout                = "org.freedesktop.DBus.Error.Timeout"
	ErrorNameDisconnected           = "org.freedesktop.DBus.Error.Disconnected"
	ErrorNameInvalidArgs            = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrorNameInvalidReply           = "org.freedesktop.DBus.Error.InvalidReply"
	ErrorNameDeserializationFailure = "org.freedesktop.DBus.Error.Failed"
	ErrorNameUnknownMethod          = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrorNameUnknownInterface       = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrorNameUnknownProperty        = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrorNameAccessDenied           = "org.freedesktop.DBus.Error.AccessDenied"
	ErrorNameInternal               = "org.freedesktop.DBus.Error.Failed"
)

// Error is a D-Bus error: a reverse-DNS name, a free-text message, and an
// optional decoded detail payload carried in the error reply's body.
type Error struct {
	Name    string
	Message string
	Detail  *Variant
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Is reports whether target is a *Error with the same Name, so callers
// can write errors.Is(err, dbus.ErrTimeout).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Name == other.Name
}

// RemoteError constructs the error delivered when a peer's method reply
// has kind Error.
func RemoteError(name, message string) *Error {
	return &Error{Name: name, Message: message}
}

// Sentinel errors for the kinds spec.md §7 names. Compare against these
// with errors.Is, not ==, since remote errors carry distinct messages.
var (
	ErrTimeout                = &Error{Name: ErrorNameTimeout, Message: "method call timed out"}
	ErrDisconnected           = &Error{Name: ErrorNameDisconnected, Message: "bus connection is closed"}
	ErrInvalidArgs            = &Error{Name: ErrorNameInvalidArgs, Message: "invalid arguments"}
	ErrInvalidReply           = &Error{Name: ErrorNameInvalidReply, Message: "reply does not match the expected signature"}
	ErrDeserializationFailure = &Error{Name: ErrorNameDeserializationFailure, Message: "failed to deserialize message body"}
	ErrUnknownMethod          = &Error{Name: ErrorNameUnknownMethod, Message: "unknown method"}
	ErrUnknownInterface       = &Error{Name: ErrorNameUnknownInterface, Message: "unknown interface"}
	ErrUnknownProperty        = &Error{Name: ErrorNameUnknownProperty, Message: "unknown property"}
	ErrAccessDenied           = &Error{Name: ErrorNameAccessDenied, Message: "access denied"}
)

func newInternalError(format string, args ...interface{}) *Error {
	return &Error{Name: ErrorNameInternal, Message: fmt.Sprintf(format, args...)}
}

func deserializationError(format string, args ...interface{}) *Error {
	return &Error{Name: ErrorNameDeserializationFailure, Message: fmt.Sprintf(format, args...)}
}
