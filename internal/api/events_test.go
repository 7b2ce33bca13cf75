package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slapglif/clippyb/internal/processor"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decoding event %q: %v", msg, err)
	}
	return ev
}

func TestHub_SendsSnapshotOnConnect(t *testing.T) {
	var pending atomic.Int32
	pending.Store(3)
	h := NewHub(func() Event {
		return Event{Type: "progress", Progress: processor.Progress{Pending: int(pending.Load())}}
	}, time.Hour, nil)

	conn := dialHub(t, h)
	if ev := readEvent(t, conn); ev.Type != "progress" || ev.Progress.Pending != 3 {
		t.Errorf("first event = %+v", ev)
	}
}

func TestHub_BroadcastsOnNotify(t *testing.T) {
	var pending atomic.Int32
	h := NewHub(func() Event {
		return Event{Type: "progress", Progress: processor.Progress{Pending: int(pending.Load())}}
	}, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dialHub(t, h)
	readEvent(t, conn)

	deadline := time.Now().Add(5 * time.Second)
	for h.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	pending.Store(7)
	h.Notify()
	if ev := readEvent(t, conn); ev.Progress.Pending != 7 {
		t.Errorf("event after notify = %+v, want pending 7", ev)
	}
}

func TestHub_NotifyNeverBlocks(t *testing.T) {
	h := NewHub(func() Event { return Event{} }, time.Hour, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Notify()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked without a running hub")
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	h := NewHub(func() Event { return Event{Type: "progress"} }, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	conn := dialHub(t, h)
	readEvent(t, conn)
	cancel()
	<-done

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after hub stopped")
	}
	if h.Clients() != 0 {
		t.Errorf("Clients = %d after stop", h.Clients())
	}
}
