package dbus

import "testing"

func TestMessageRoundTripStruct(t *testing.T) {
	type pair struct {
		S string
		I int32
	}
	msg := NewSignalMessage("/a/b", "com.example.Iface", "Changed")
	if err := msg.Append(pair{S: "hello", I: 42}); err != nil {
		t.Fatal(err)
	}
	if err := msg.Seal(); err != nil {
		t.Fatal(err)
	}
	if msg.Signature() != "(si)" {
		t.Fatalf("signature = %q, want \"(si)\"", msg.Signature())
	}

	var got pair
	if err := msg.GetArgs(&got); err != nil {
		t.Fatal(err)
	}
	if got.S != "hello" || got.I != 42 {
		t.Errorf("got %+v", got)
	}
}

func TestMessageRoundTripDict(t *testing.T) {
	msg := NewMethodReturnMessage(NewMethodCallMessage("dest", "/a", "iface", "Member"))
	in := map[string]Variant{"Label": {Value: "clock"}, "Count": {Value: int32(3)}}
	if err := msg.Append(in); err != nil {
		t.Fatal(err)
	}
	if err := msg.Seal(); err != nil {
		t.Fatal(err)
	}
	if msg.Signature() != "a{sv}" {
		t.Fatalf("signature = %q, want a{sv}", msg.Signature())
	}

	var out map[string]Variant
	if err := msg.GetArgs(&out); err != nil {
		t.Fatal(err)
	}
	if out["Label"].Value != "clock" || out["Count"].Value != int32(3) {
		t.Errorf("got %+v", out)
	}
}

func TestMessageAppendAfterSealFails(t *testing.T) {
	msg := NewSignalMessage("/a", "iface", "Member")
	if err := msg.Seal(); err != nil {
		t.Fatal(err)
	}
	if err := msg.Append("late"); err == nil {
		t.Fatal("Append after Seal should fail")
	}
}

func TestMessageIsValid(t *testing.T) {
	call := NewMethodCallMessage("dest", "/a", "iface", "Member")
	if !call.IsValid() {
		t.Error("well-formed method call should be valid")
	}
	empty := NewMethodCallMessage("dest", "", "iface", "Member")
	if empty.IsValid() {
		t.Error("method call with no path should be invalid")
	}
}

func TestWireRoundTripViaBodyBytesAndSealedFromWire(t *testing.T) {
	call := NewMethodCallMessage("org.example.Service", "/obj", "org.example.Iface", "Do")
	call.Append("arg", int32(7))
	body, sig, err := call.BodyBytes()
	if err != nil {
		t.Fatal(err)
	}

	rebuilt := NewSealedMessageFromWire(TypeMethodCall, 0, 5, "/obj", "org.example.Service", ":1.1",
		"org.example.Iface", "Do", "", 0, sig, body)

	var s string
	var i int32
	if err := rebuilt.GetArgs(&s, &i); err != nil {
		t.Fatal(err)
	}
	if s != "arg" || i != 7 {
		t.Errorf("got (%q, %d)", s, i)
	}
	if rebuilt.Sender() != ":1.1" {
		t.Errorf("sender = %q, want \":1.1\"", rebuilt.Sender())
	}
}
