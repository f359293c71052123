package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/publisher"
)

func newTestServer(t *testing.T, snap Snapshot) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(ProviderFunc(func() Snapshot { return snap }), logging.NewWriter(io.Discard, logging.LevelDebug))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestAlive(t *testing.T) {
	_, ts := newTestServer(t, Snapshot{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "Bot is alive!" {
		t.Errorf("unexpected response %d %q", resp.StatusCode, body)
	}
}

func TestHealthz(t *testing.T) {
	last := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	_, ts := newTestServer(t, Snapshot{Ready: true, DedupKeys: 42, LastPoll: &last})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != "ok" || snap.DedupKeys != 42 || snap.LastPoll == nil || !snap.LastPoll.Equal(last) || snap.Uptime == "" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestHealthz_Starting(t *testing.T) {
	_, ts := newTestServer(t, Snapshot{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snap Snapshot
	json.NewDecoder(resp.Body).Decode(&snap)
	if snap.Status != "starting" {
		t.Errorf("expected starting status, got %q", snap.Status)
	}
	if snap.LastPoll != nil {
		t.Errorf("last poll should be omitted before the first cycle, got %v", snap.LastPoll)
	}
}

func TestWebsocket_PublishEvents(t *testing.T) {
	s, ts := newTestServer(t, Snapshot{Ready: true})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "init" {
		t.Fatalf("expected init message, got %+v / %v", msg, err)
	}

	s.Observe(publisher.Event{Origin: "rss", Title: "Storm warning", Delivered: true})

	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "publish" {
		t.Fatalf("expected publish message, got %+v / %v", msg, err)
	}
	var ev publisher.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Title != "Storm warning" || !ev.Delivered {
		t.Errorf("unexpected event %+v", ev)
	}
	if s.Clients() != 1 {
		t.Errorf("expected one client, got %d", s.Clients())
	}
}

func TestObserve_NeverBlocks(t *testing.T) {
	s, _ := newTestServer(t, Snapshot{})
	// Stop the broadcaster so nothing drains the queue.
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < eventBuffer*3; i++ {
			s.Observe(publisher.Event{Title: "Storm warning"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked on a full queue")
	}
}
