// Package dbus provides a typed, high-level client and server library for
// the D-Bus inter-process communication protocol. It derives wire
// signatures from native Go types, marshals and dispatches messages, and
// exposes fluent builders for method calls, signals, and properties.
//
// The package does not implement the bus transport, the authentication
// handshake, or the bus daemon itself; those are external collaborators
// reached through the BusConnection interface (see busconn.go).
package dbus

import "reflect"

var (
	typeHasObjectPath  = reflect.TypeOf((*HasObjectPath)(nil)).Elem()
	typeVariant        = reflect.TypeOf(Variant{})
	typeSignature      = reflect.TypeOf(Signature(""))
	typeObjectPath     = reflect.TypeOf(ObjectPath(""))
	typeBlankInterface = reflect.TypeOf((*interface{})(nil)).Elem()
	typeError          = reflect.TypeOf((*error)(nil)).Elem()
)

// ObjectPath is a hierarchical string identifier for a server-side object
// on a connection, e.g. "/org/freedesktop/DBus".
type ObjectPath string

// HasObjectPath is implemented by types that marshal as an object path.
type HasObjectPath interface {
	GetObjectPath() ObjectPath
}

func (o ObjectPath) GetObjectPath() ObjectPath { return o }

// Variant is a runtime-typed container carrying a signature and a payload.
// It is structurally equivalent to a dynamically-typed value for wire
// purposes: any value that can be signatured can be boxed in a Variant.
type Variant struct {
	Value interface{}
}

// VariantSignature returns the wire signature of the variant's boxed value.
func (v Variant) VariantSignature() (Signature, error) {
	if v.Value == nil {
		return "", newInternalError("cannot derive a signature for a nil variant value")
	}
	return SignatureForType(reflect.TypeOf(v.Value))
}
