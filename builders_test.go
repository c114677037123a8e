package dbus_test

import (
	"testing"
	"time"

	"github.com/dbuscore/dbuscore"
	"github.com/dbuscore/dbuscore/conntest"
)

func TestVTableAdderRejectsDuplicateInterface(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/vtable-dup")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()

	noop := func(c *dbus.Message) (*dbus.Message, error) { return dbus.NewMethodReturnMessage(c), nil }
	if err := obj.OnInterface("com.example.I").WithMethod("A", noop).Register(); err != nil {
		t.Fatal(err)
	}
	if err := obj.OnInterface("com.example.I").WithMethod("B", noop).Register(); err == nil {
		t.Fatal("registering a second v-table for an interface already present should fail")
	}
}

func TestVTableAdderRegisterSlotReleasesIndependently(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/vtable-slot")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()

	noop := func(c *dbus.Message) (*dbus.Message, error) { return dbus.NewMethodReturnMessage(c), nil }
	slot, err := obj.OnInterface("com.example.I").WithMethod("A", noop).RegisterSlot()
	if err != nil {
		t.Fatal(err)
	}
	slot.Release()

	if err := obj.OnInterface("com.example.I").WithMethod("A", noop).Register(); err != nil {
		t.Fatalf("interface should be free for re-registration after the slot is released: %v", err)
	}
}

func TestSignalEmitterAbandonThenCommitIsNoop(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()
	obj, err := dbus.NewObject(bus, "/emitter-abandon")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()

	emitter := obj.Signal("com.example.X", "Y")
	emitter.Abandon()
	if err := emitter.Commit(); err != nil {
		t.Fatalf("Commit after Abandon must be a no-op, got %v", err)
	}
}

func TestSignalEmitterCommitTwiceIsNoop(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()
	obj, err := dbus.NewObject(bus, "/emitter-commit-twice")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()
	if err := obj.OnInterface("com.example.X").WithSignal("Y", "").Register(); err != nil {
		t.Fatal(err)
	}

	emitter := obj.Signal("com.example.X", "Y")
	if err := emitter.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := emitter.Commit(); err != nil {
		t.Fatalf("a second Commit must be a no-op returning nil, got %v", err)
	}
}

func TestSignalEmitterWithArgumentsAppendErrorDisarms(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()
	obj, err := dbus.NewObject(bus, "/emitter-bad-args")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()

	emitter := obj.Signal("com.example.X", "Y").WithArguments(make(chan int))
	if err := emitter.Commit(); err != nil {
		t.Fatalf("a disarmed emitter's Commit should return nil, not surface the append error, got %v", err)
	}
}

func TestMethodInvokerDontExpectReplyDoesNotBlock(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/no-reply")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()

	called := make(chan struct{}, 1)
	err = obj.OnInterface("com.example.Fire").WithMethod("Forget", func(c *dbus.Message) (*dbus.Message, error) {
		called <- struct{}{}
		return dbus.NewMethodReturnMessage(c), nil
	}).Register()
	if err != nil {
		t.Fatal(err)
	}

	proxy := dbus.NewProxy(bus, "", "/no-reply")
	done := make(chan error, 1)
	go func() {
		done <- proxy.Method("com.example.Fire", "Forget").DontExpectReply()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("DontExpectReply should not surface a reply-decoding error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("DontExpectReply should complete without waiting for a reply")
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("the no-reply call was never dispatched to the server")
	}
}
