package dbus

import "testing"

func TestPendingAsyncCallCancelPreemptsDelivery(t *testing.T) {
	cancelled := false
	p := NewPendingAsyncCall(func() bool {
		cancelled = true
		return true
	})
	if !p.IsPending() {
		t.Fatal("new call should be pending")
	}
	p.Cancel()
	if p.IsPending() {
		t.Error("call should not be pending after Cancel")
	}
	if !cancelled {
		t.Error("Cancel should invoke the underlying cancel function")
	}

	// Cancelling twice must not invoke cancel again.
	calls := 0
	p2 := NewPendingAsyncCall(func() bool { calls++; return true })
	p2.Cancel()
	p2.Cancel()
	if calls != 1 {
		t.Errorf("cancel invoked %d times, want 1", calls)
	}
}

func TestFutureSingleValue(t *testing.T) {
	future := newFuture()
	call := NewMethodCallMessage("dest", "/a", "iface", "Member")
	reply := NewMethodReturnMessage(call)
	if err := reply.Append("value"); err != nil {
		t.Fatal(err)
	}
	future.settle(reply, nil)

	got, err := Future1[string](future)
	if err != nil {
		t.Fatal(err)
	}
	if got != "value" {
		t.Errorf("got %q, want \"value\"", got)
	}
}

func TestFutureMultiValue(t *testing.T) {
	future := newFuture()
	call := NewMethodCallMessage("dest", "/a", "iface", "Member")
	reply := NewMethodReturnMessage(call)
	if err := reply.Append("s", int32(1), true); err != nil {
		t.Fatal(err)
	}
	future.settle(reply, nil)

	a, b, c, err := Future3[string, int32, bool](future)
	if err != nil {
		t.Fatal(err)
	}
	if a != "s" || b != 1 || c != true {
		t.Errorf("got (%v, %v, %v)", a, b, c)
	}
}

func TestFutureSettlesOnlyOnce(t *testing.T) {
	future := newFuture()
	call := NewMethodCallMessage("dest", "/a", "iface", "Member")
	first := NewMethodReturnMessage(call)
	first.Append("first")
	second := NewMethodReturnMessage(call)
	second.Append("second")

	future.settle(first, nil)
	future.settle(second, nil) // must be ignored

	got, err := Future1[string](future)
	if err != nil {
		t.Fatal(err)
	}
	if got != "first" {
		t.Errorf("got %q, want \"first\" (first settle should win)", got)
	}
}

func TestFutureErrorPropagates(t *testing.T) {
	future := newFuture()
	future.settle(nil, ErrTimeout)
	if err := Future0(future); err != ErrTimeout {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}
