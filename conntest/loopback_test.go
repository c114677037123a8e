package conntest_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dbuscore/dbuscore"
	"github.com/dbuscore/dbuscore/conntest"
)

func TestSendMethodCallSyncFailsWithNoRegisteredObject(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	proxy := dbus.NewProxy(bus, "", "/missing")
	err := proxy.Method("com.example.I", "M").WithTimeout(50 * time.Millisecond).Invoke()
	if err == nil {
		t.Fatal("expected an error")
	}
	var derr *dbus.Error
	if !errors.As(err, &derr) || derr.Name != dbus.ErrorNameUnknownMethod {
		t.Fatalf("got %v, want UnknownMethod", err)
	}
}

func TestSendMethodCallAsyncCancelSuppressesHandler(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/slow")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Release()

	release := make(chan struct{})
	err = obj.OnInterface("com.example.Slow").WithAsyncMethod("Wait", func(call *dbus.Message, result *dbus.Result) {
		<-release
		result.Complete()
	}).Register()
	if err != nil {
		t.Fatal(err)
	}

	proxy := dbus.NewProxy(bus, "", "/slow")
	handlerCalled := make(chan struct{}, 1)
	pending, err := proxy.MethodAsync("com.example.Slow", "Wait").WithTimeout(time.Second).
		UponReplyInvoke(func(err error) { handlerCalled <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}

	pending.Cancel()
	close(release)

	select {
	case <-handlerCalled:
		t.Error("handler should not run after Cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegisterObjectRejectsDuplicatePath(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	if _, err := dbus.NewObject(bus, "/dup"); err != nil {
		t.Fatal(err)
	}
	if _, err := dbus.NewObject(bus, "/dup"); err == nil {
		t.Fatal("registering a second object at the same path should fail")
	}
}

func TestReleasedObjectPathCanBeReregistered(t *testing.T) {
	bus := conntest.NewLoopback()
	defer bus.Close()

	obj, err := dbus.NewObject(bus, "/reuse")
	if err != nil {
		t.Fatal(err)
	}
	obj.Release()

	if _, err := dbus.NewObject(bus, "/reuse"); err != nil {
		t.Fatalf("path should be free for re-registration after Release: %v", err)
	}
}
