package conn

import (
	"bytes"
	"testing"

	"github.com/dbuscore/dbuscore"
)

func TestWriteThenReadMessageRoundTrip(t *testing.T) {
	call := dbus.NewMethodCallMessage("org.example.Service", "/obj/path", "org.example.Iface", "DoThing")
	if err := call.Append("argument", int32(99)); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := writeMessage(&buf, call, 42); err != nil {
		t.Fatal(err)
	}

	got, err := readMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if got.Kind() != dbus.TypeMethodCall {
		t.Errorf("kind = %v, want method_call", got.Kind())
	}
	if got.Path() != "/obj/path" {
		t.Errorf("path = %q", got.Path())
	}
	if got.Interface() != "org.example.Iface" {
		t.Errorf("interface = %q", got.Interface())
	}
	if got.Member() != "DoThing" {
		t.Errorf("member = %q", got.Member())
	}
	if got.Destination() != "org.example.Service" {
		t.Errorf("destination = %q", got.Destination())
	}
	if got.Serial() != 42 {
		t.Errorf("serial = %d, want 42", got.Serial())
	}

	var s string
	var i int32
	if err := got.GetArgs(&s, &i); err != nil {
		t.Fatal(err)
	}
	if s != "argument" || i != 99 {
		t.Errorf("got (%q, %d)", s, i)
	}
}

func TestWriteThenReadMessageRoundTripWithMultipleHeaderFields(t *testing.T) {
	// A reply carries REPLY_SERIAL, DESTINATION, and SIGNATURE header
	// fields together; decoding must align each (yv) entry relative to
	// the whole message, not just the fields array, or later entries in
	// this array would land at the wrong offset.
	call := dbus.NewMethodCallMessage("org.example.Service", "/a", "org.example.Iface", "M")
	var buf bytes.Buffer
	if err := writeMessage(&buf, call, 1); err != nil {
		t.Fatal(err)
	}
	sent, err := readMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}

	reply := dbus.NewMethodReturnMessage(sent)
	reply.SetDestination(":1.23")
	if err := reply.Append(map[string]dbus.Variant{"a": {Value: "x"}, "b": {Value: int32(2)}}); err != nil {
		t.Fatal(err)
	}

	buf.Reset()
	if err := writeMessage(&buf, reply, 2); err != nil {
		t.Fatal(err)
	}
	got, err := readMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Destination() != ":1.23" {
		t.Errorf("destination = %q, want \":1.23\"", got.Destination())
	}
	if got.ReplySerial() != 1 {
		t.Errorf("reply serial = %d, want 1", got.ReplySerial())
	}
	var m map[string]dbus.Variant
	if err := got.GetArgs(&m); err != nil {
		t.Fatal(err)
	}
	if m["a"].Value != "x" || m["b"].Value != int32(2) {
		t.Errorf("got %+v", m)
	}
}
