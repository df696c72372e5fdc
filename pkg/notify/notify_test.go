package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opentranscribe/mpo/pkg/lifecycle"
)

var upgrader = websocket.Upgrader{}

func newTestServer(t *testing.T, h *Hub, owner string) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		h.Register(r.Context(), owner, ws, 0)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPublishDeliversToConnectedClient(t *testing.T) {
	h := New()
	_, wsURL := newTestServer(t, h, "alice")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let Register complete before publishing

	if err := h.Publish(context.Background(), "alice", lifecycle.Event{Type: "task.succeeded", FileID: "f1", TaskID: "t1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != "task.succeeded" || env.FileID != "f1" || env.TaskID != "t1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.ID == 0 {
		t.Fatal("expected a non-zero monotonic id")
	}
}

func TestPublishToDisconnectedOwnerIsANoop(t *testing.T) {
	h := New()
	if err := h.Publish(context.Background(), "nobody-connected", lifecycle.Event{Type: "task.started"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestReconnectReplaysEventsAfterLastSeenID(t *testing.T) {
	h := New()

	if err := h.Publish(context.Background(), "bob", lifecycle.Event{Type: "task.started", TaskID: "t1"}); err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	if err := h.Publish(context.Background(), "bob", lifecycle.Event{Type: "task.succeeded", TaskID: "t1"}); err != nil {
		t.Fatalf("publish 2: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		h.Register(r.Context(), "bob", ws, 1) // client already saw event id 1
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.ID != 2 || env.Type != "task.succeeded" {
		t.Fatalf("expected only the event after id 1 replayed, got %+v", env)
	}
}

func TestSilentFlagRoundTrips(t *testing.T) {
	h := New()
	_, wsURL := newTestServer(t, h, "carol")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	if err := h.Publish(context.Background(), "carol", lifecycle.Event{Type: "task.progress", Silent: true}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !env.Silent {
		t.Fatal("expected silent flag to round-trip as true")
	}
}
