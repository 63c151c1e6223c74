package livesync

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var testLog = zerolog.New(io.Discard)

// waitFor polls a condition until it returns true or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for: %s", msg)
}

func mustMessage(t *testing.T, typ Type, id string, payload any) Message {
	t.Helper()
	msg, err := NewMessage(typ, id, payload, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestHub_ReplaysLatestDocuments(t *testing.T) {
	h := NewHub(testLog)
	h.Publish(mustMessage(t, RunLoaded, "run-1", map[string]int{"v": 1}))
	h.Publish(mustMessage(t, ScheduleLoaded, "sched", map[string]int{"v": 1}))
	h.Publish(mustMessage(t, RunLoaded, "run-1", map[string]int{"v": 2}))
	h.Publish(mustMessage(t, TransitionSequenceStarted, "set-1", map[string]string{"originator": "a"}))

	replay, _, cancel := h.Subscribe()
	defer cancel()

	if len(replay) != 2 {
		t.Fatalf("expected 2 replayed documents, got %d", len(replay))
	}
	if replay[0].Type != ScheduleLoaded || replay[1].Type != RunLoaded {
		t.Errorf("replay not in publish order: %s, %s", replay[0].Type, replay[1].Type)
	}
	if string(replay[1].Payload) != `{"v":2}` {
		t.Errorf("expected newest run document, got %s", replay[1].Payload)
	}

	if _, ok := h.Latest(TransitionSequenceStarted, "set-1"); ok {
		t.Error("sequence signals should not be retained")
	}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub(testLog)
	_, a, cancelA := h.Subscribe()
	defer cancelA()
	_, b, cancelB := h.Subscribe()

	h.Publish(mustMessage(t, TransitionSequenceReset, "set-1", nil))
	for name, ch := range map[string]<-chan Message{"a": a, "b": b} {
		select {
		case msg := <-ch:
			if msg.Type != TransitionSequenceReset {
				t.Errorf("%s: got %s", name, msg.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s: timeout", name)
		}
	}

	cancelB()
	cancelB()
	if h.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber, got %d", h.SubscriberCount())
	}
}

func TestDecodeMessage(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"type":"run.deleted"}`)); err == nil {
		t.Error("expected unknown type to be rejected")
	}
	if _, err := DecodeMessage([]byte(`nope`)); err == nil {
		t.Error("expected invalid json to be rejected")
	}
	msg, err := DecodeMessage([]byte(`{"type":"participant.loaded","id":"p1","payload":{"name":"x"}}`))
	if err != nil || msg.ID != "p1" {
		t.Errorf("got %+v, %v", msg, err)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestServer_ReplayThenLive(t *testing.T) {
	h := NewHub(testLog)
	var clients atomic.Int32
	h.OnClientCount = func(n int) { clients.Store(int32(n)) }
	h.Publish(mustMessage(t, ScheduleLoaded, "sched", map[string]string{"current": "e1"}))

	srv := httptest.NewServer(h.Handler(Heartbeat{}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if first.Type != ScheduleLoaded {
		t.Errorf("expected replayed schedule, got %s", first.Type)
	}

	waitFor(t, time.Second, func() bool { return clients.Load() == 1 }, "client registered")
	h.Publish(mustMessage(t, RunLoaded, "run-1", map[string]string{"id": "run-1"}))

	var live Message
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if live.Type != RunLoaded || live.ID != "run-1" {
		t.Errorf("got %+v", live)
	}

	conn.Close()
	waitFor(t, time.Second, func() bool { return clients.Load() == 0 }, "client unregistered")
}

func TestServer_ClientUpdatesFanOut(t *testing.T) {
	h := NewHub(testLog)
	srv := httptest.NewServer(h.Handler(Heartbeat{}))
	defer srv.Close()

	_, sub, cancel := h.Subscribe()
	defer cancel()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(mustMessage(t, RunLoaded, "run-9", map[string]bool{"paused": true})); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`))

	select {
	case msg := <-sub:
		if msg.ID != "run-9" {
			t.Errorf("got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client update not published")
	}
}

func TestServer_PingsClients(t *testing.T) {
	h := NewHub(testLog)
	srv := httptest.NewServer(h.Handler(Heartbeat{PingPeriod: 20 * time.Millisecond, PongWait: time.Second}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestHeartbeatDefaults(t *testing.T) {
	hb := Heartbeat{PingPeriod: time.Minute, PongWait: 10 * time.Second}.withDefaults()
	if hb.PingPeriod >= hb.PongWait {
		t.Errorf("ping period %v not below pong wait %v", hb.PingPeriod, hb.PongWait)
	}
	hb = Heartbeat{}.withDefaults()
	if hb.PongWait != DefaultPongWait || hb.PingPeriod != DefaultPongWait*9/10 {
		t.Errorf("got %+v", hb)
	}
}

func TestClient_ReceivesAndReconnects(t *testing.T) {
	h := NewHub(testLog)
	h.Publish(mustMessage(t, InterviewLoaded, "iv-1", map[string]string{"topic": "x"}))
	srv := httptest.NewServer(h.Handler(Heartbeat{}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		URL:        wsURL(srv),
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
		Logger:     testLog,
	})
	var changes atomic.Int32
	c.OnConnectionChange = func(bool) { changes.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	next := func() Message {
		t.Helper()
		select {
		case msg := <-c.Messages():
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for message")
			return Message{}
		}
	}

	if msg := next(); msg.Type != InterviewLoaded {
		t.Errorf("expected replay, got %s", msg.Type)
	}
	waitFor(t, time.Second, c.Connected, "client connected")

	if err := c.Send(mustMessage(t, ParticipantLoaded, "p-1", nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg := next(); msg.Type != ParticipantLoaded {
		t.Errorf("expected own update echoed, got %s", msg.Type)
	}

	srv.CloseClientConnections()
	waitFor(t, 2*time.Second, func() bool { return changes.Load() >= 3 && c.Connected() }, "client reconnected")
	if msg := next(); msg.Type != InterviewLoaded {
		t.Errorf("expected replay after reconnect, got %s", msg.Type)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if c.Connected() {
		t.Error("client still connected after Run")
	}
	if err := c.Send(Message{Type: RunLoaded}); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
