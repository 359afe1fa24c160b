package events

import (
	"testing"
	"time"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1, unsub1 := bus.Subscribe()
	ch2, unsub2 := bus.Subscribe()
	defer unsub1()
	defer unsub2()

	bus.Publish(Event{Type: TypeActionExecuted, SessionID: "s1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != TypeActionExecuted {
				t.Errorf("Type = %q, want %q", ev.Type, TypeActionExecuted)
			}
			if ev.SessionID != "s1" {
				t.Errorf("SessionID = %q, want s1", ev.SessionID)
			}
			if ev.ID == "" {
				t.Error("ID not filled in")
			}
			if ev.Time.IsZero() {
				t.Error("Time not filled in")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Type: TypeHealthChanged})
}

func TestBus_PublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, unsub := bus.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Well past the channel buffer size; a blocking bus would hang here.
		for i := 0; i < 500; i++ {
			bus.Publish(Event{Type: TypeActionExecuted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()

	ch, unsub := bus.Subscribe()
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("subscription on a closed bus should be closed immediately")
	}
}
