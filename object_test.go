package dbus_test

import (
	"errors"
	"testing"

	"github.com/dbuscore/dbuscore"
	"github.com/dbuscore/dbuscore/conntest"
)

func TestDispatchUnknownInterfaceIsError(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/unknown-iface")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()

	call := dbus.NewMethodCallMessage("", "/unknown-iface", "com.example.Nope", "M")
	reply, handled := obj.Dispatch(call)
	if !handled {
		t.Fatal("Dispatch should report handled even for an unregistered interface")
	}
	var derr *dbus.Error
	if !errors.As(reply.AsError(), &derr) || derr.Name != dbus.ErrorNameUnknownInterface {
		t.Fatalf("got %v, want UnknownInterface", reply.AsError())
	}
}

func TestDispatchUnknownMethodIsError(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/unknown-method")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()
	if err := obj.OnInterface("com.example.I").WithMethod("Known", func(c *dbus.Message) (*dbus.Message, error) {
		return dbus.NewMethodReturnMessage(c), nil
	}).Register(); err != nil {
		t.Fatal(err)
	}

	call := dbus.NewMethodCallMessage("", "/unknown-method", "com.example.I", "Missing")
	reply, handled := obj.Dispatch(call)
	if !handled {
		t.Fatal("Dispatch should report handled for a registered interface with an unknown member")
	}
	var derr *dbus.Error
	if !errors.As(reply.AsError(), &derr) || derr.Name != dbus.ErrorNameUnknownMethod {
		t.Fatalf("got %v, want UnknownMethod", reply.AsError())
	}
}

func TestDispatchPropertiesGetUnknownInterfaceIsError(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/props-unknown")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()

	call := dbus.NewMethodCallMessage("", "/props-unknown", "org.freedesktop.DBus.Properties", "Get")
	if err := call.Append("com.example.Nope", "Label"); err != nil {
		t.Fatal(err)
	}
	reply, handled := obj.Dispatch(call)
	if !handled {
		t.Fatal("Dispatch should always claim the Properties interface")
	}
	var derr *dbus.Error
	if !errors.As(reply.AsError(), &derr) || derr.Name != dbus.ErrorNameUnknownInterface {
		t.Fatalf("got %v, want UnknownInterface", reply.AsError())
	}
}

func TestDispatchPropertiesGetUnknownPropertyIsError(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/props-unknown-prop")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()
	if err := obj.OnInterface("com.example.Props").
		WithProperty("Label", "s", func() (interface{}, error) { return "x", nil }, nil, dbus.PropertyConst).
		Register(); err != nil {
		t.Fatal(err)
	}

	call := dbus.NewMethodCallMessage("", "/props-unknown-prop", "org.freedesktop.DBus.Properties", "Get")
	if err := call.Append("com.example.Props", "Missing"); err != nil {
		t.Fatal(err)
	}
	reply, _ := obj.Dispatch(call)
	var derr *dbus.Error
	if !errors.As(reply.AsError(), &derr) || derr.Name != dbus.ErrorNameUnknownProperty {
		t.Fatalf("got %v, want UnknownProperty", reply.AsError())
	}
}

func TestDispatchPropertiesSetReadOnlyPropertyIsError(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/props-readonly")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()
	if err := obj.OnInterface("com.example.Props").
		WithProperty("ReadOnly", "u", func() (interface{}, error) { return uint32(1), nil }, nil, dbus.PropertyConst).
		Register(); err != nil {
		t.Fatal(err)
	}

	call := dbus.NewMethodCallMessage("", "/props-readonly", "org.freedesktop.DBus.Properties", "Set")
	if err := call.Append("com.example.Props", "ReadOnly", dbus.Variant{Value: uint32(2)}); err != nil {
		t.Fatal(err)
	}
	reply, _ := obj.Dispatch(call)
	var derr *dbus.Error
	if !errors.As(reply.AsError(), &derr) || derr.Name != dbus.ErrorNameUnknownProperty {
		t.Fatalf("got %v, want UnknownProperty (no setter registered)", reply.AsError())
	}
}

func TestEmitSignalRejectsMismatchedSignature(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/signal-mismatch")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()
	if err := obj.OnInterface("com.example.Clock").WithSignal("Ticked", "x").Register(); err != nil {
		t.Fatal(err)
	}

	msg := obj.CreateSignal("com.example.Clock", "Ticked")
	if err := msg.Append("wrong type"); err != nil {
		t.Fatal(err)
	}
	if err := obj.EmitSignal(msg); err == nil {
		t.Fatal("expected EmitSignal to reject a signature mismatching the declared v-table entry")
	}
}
