package broadcast

import (
	"context"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocal_SubscribeUnsubscribe(t *testing.T) {
	bus := NewLocal()

	sub1, cancel1 := bus.Subscribe()
	_, cancel2 := bus.Subscribe()
	if bus.SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers, got %d", bus.SubscriberCount())
	}

	cancel1()
	cancel1()
	if bus.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber after cancel, got %d", bus.SubscriberCount())
	}
	if _, ok := <-sub1; ok {
		t.Error("expected cancelled channel to be closed")
	}

	cancel2()
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

func TestLocal_FanOut(t *testing.T) {
	bus := NewLocal()
	a, cancelA := bus.Subscribe()
	defer cancelA()
	b, cancelB := bus.Subscribe()
	defer cancelB()

	msg := Message{Kind: SequenceStarted, Originator: "admin-a", SetID: "set-1"}
	if err := bus.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for name, ch := range map[string]<-chan Message{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got != msg {
				t.Errorf("%s: got %+v", name, got)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s: timeout waiting for message", name)
		}
	}
}

func TestLocal_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewLocal()
	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(context.Background(), Message{Kind: SequenceStarted, Originator: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestLocal_Close(t *testing.T) {
	bus := NewLocal()
	sub, cancel := bus.Subscribe()
	bus.Close()
	cancel()

	if _, ok := <-sub; ok {
		t.Error("expected channel closed")
	}
	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected subscribe after close to return a closed channel")
	}
}

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := Message{Kind: SequenceEnded, Originator: "admin-a", SetID: "set-1", At: at}

	b, err := Encode("bus-1", msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	source, got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if source != "bus-1" || !got.At.Equal(at) || got.Originator != "admin-a" || got.Kind != SequenceEnded {
		t.Errorf("got %q %+v", source, got)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":      `{`,
		"unknown kind":  `{"kind":"sequence.paused","originator":"a"}`,
		"no originator": `{"kind":"sequence.started"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := Decode([]byte(raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRelay_SkipsOwnEcho(t *testing.T) {
	r := newRelay(zerolog.New(io.Discard))
	sub, cancel := r.Subscribe()
	defer cancel()

	own, _ := Encode(r.source, Message{Kind: SequenceStarted, Originator: "self"})
	other, _ := Encode("other-bus", Message{Kind: SequenceStarted, Originator: "remote"})
	r.receive(own)
	r.receive([]byte("garbage"))
	r.receive(other)

	select {
	case got := <-sub:
		if got.Originator != "remote" {
			t.Errorf("got message from %q, want remote", got.Originator)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for remote message")
	}
	select {
	case got := <-sub:
		t.Errorf("unexpected extra message %+v", got)
	default:
	}
}

func TestTopicNames(t *testing.T) {
	if got := MQTTTopic("graphics/"); got != "graphics/broadcast" {
		t.Errorf("MQTTTopic = %q", got)
	}
	if got := NATSSubject("graphics"); got != "graphics.broadcast" {
		t.Errorf("NATSSubject = %q", got)
	}
}

func TestTracker(t *testing.T) {
	var tr Tracker

	tr.Apply(Message{Kind: SequenceStarted, Originator: "b", SetID: "s1"})
	tr.Apply(Message{Kind: SequenceStarted, Originator: "a", SetID: "s2"})
	tr.Apply(Message{Kind: SequenceStarted, Originator: "a", SetID: "s3"})
	if !tr.Busy() || !tr.IsBusy("a") {
		t.Fatal("expected busy")
	}
	if got := tr.Originators(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Originators() = %v", got)
	}

	tr.Apply(Message{Kind: SequenceEnded, Originator: "a", SetID: "s2"})
	if !tr.IsBusy("a") {
		t.Error("a still has s3 in flight")
	}
	tr.Apply(Message{Kind: SequenceEnded, Originator: "a", SetID: "s3"})
	tr.Apply(Message{Kind: SequenceEnded, Originator: "b", SetID: "s1"})
	// An unmatched end is harmless.
	tr.Apply(Message{Kind: SequenceEnded, Originator: "c", SetID: "s9"})
	if tr.Busy() {
		t.Errorf("expected idle, got %v", tr.Originators())
	}
	tr.Stop()
}

func TestTracker_FollowsBus(t *testing.T) {
	bus := NewLocal()
	tr := NewTracker(bus)
	defer tr.Stop()

	bus.Publish(context.Background(), Message{Kind: SequenceStarted, Originator: "admin-a", SetID: "s1"})

	deadline := time.Now().Add(time.Second)
	for !tr.IsBusy("admin-a") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !tr.IsBusy("admin-a") {
		t.Fatal("tracker did not observe sequence start")
	}
}
