package registry

import (
	"testing"
	"time"

	"rendezvous/internal/signaling"
)

func strPtr(s string) *string { return &s }

func TestSendDeliversToRegisteredConnection(t *testing.T) {
	r := New()
	ch := r.Register("a")

	r.Send("a", signaling.Envelope{Type: signaling.TypeAnswer, ConnectionID: strPtr("a")})

	select {
	case env := <-ch:
		if env.Type != signaling.TypeAnswer {
			t.Fatalf("unexpected envelope type %s", env.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSendToUnknownConnectionIsDiscarded(t *testing.T) {
	r := New()
	r.Send("ghost", signaling.Envelope{Type: signaling.TypeAnswer}) // must not panic or block
}

func TestUnregisterStopsDelivery(t *testing.T) {
	r := New()
	r.Register("a")
	r.Unregister("a")
	if r.Count() != 0 {
		t.Fatalf("expected no registered connections, got %d", r.Count())
	}
	r.Send("a", signaling.Envelope{Type: signaling.TypeAnswer}) // must not panic
}

func TestDeliverRoutesByConnectionID(t *testing.T) {
	r := New()
	chA := r.Register("a")
	chB := r.Register("b")

	r.Deliver([]signaling.Envelope{
		{Type: signaling.TypeLeave, ConnectionID: strPtr("a")},
		{Type: signaling.TypeLeave, ConnectionID: strPtr("b")},
		{Type: signaling.TypeLeave}, // no connection id: dropped
	})

	for _, ch := range []<-chan signaling.Envelope{chA, chB} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
}

func TestUnboundedQueueAbsorbsBurstsWithoutBlocking(t *testing.T) {
	r := New()
	r.Register("a")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			r.Send("a", signaling.Envelope{Type: signaling.TypeLeave, ConnectionID: strPtr("a")})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked under burst load")
	}
}
