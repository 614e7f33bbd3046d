package eventbus

import (
	"testing"
	"time"
)

func TestBusFilterAndDrop(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(1)
	defer unsubAll()
	failed, unsubFailed := b.Subscribe(4, JobFailed)
	defer unsubFailed()

	b.Publish(Event{Type: JobRan, Data: "a"})
	b.Publish(Event{Type: JobFailed, Data: "b"})

	select {
	case e := <-all:
		if e.Type != JobRan || e.Time.IsZero() {
			t.Fatalf("unexpected first event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no event for catch-all subscriber")
	}
	if b.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1 (catch-all buffer was full)", b.Dropped())
	}

	select {
	case e := <-failed:
		if e.Type != JobFailed || e.Data != "b" {
			t.Fatalf("unexpected filtered event: %+v", e)
		}
	default:
		t.Fatal("filtered subscriber missed its event")
	}
	select {
	case e := <-failed:
		t.Fatalf("filtered subscriber got %s", e.Type)
	default:
	}
}

func TestBusUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after unsubscribe")
	}
	b.Publish(Event{Type: JobRan})
	if b.Dropped() != 0 {
		t.Fatalf("Dropped = %d after unsubscribe", b.Dropped())
	}
}
