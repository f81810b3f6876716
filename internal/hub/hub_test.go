package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aegisiot/sentinel/internal/models"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func addSubscriber(t *testing.T, h *Hub, buffer int) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, buffer)}
	h.register <- c
	waitForCount(t, h, func(n int) bool { return n > 0 })
	return c
}

func waitForCount(t *testing.T, h *Hub, ok func(int) bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !ok(h.SubscriberCount()) {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count stuck at %d", h.SubscriberCount())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSubscriberLifecycle(t *testing.T) {
	h := startHub(t)

	if h.SubscriberCount() != 0 {
		t.Fatalf("initial count = %d, want 0", h.SubscriberCount())
	}

	c := addSubscriber(t, h, 4)
	if h.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1", h.SubscriberCount())
	}

	h.unregister <- c
	waitForCount(t, h, func(n int) bool { return n == 0 })
}

func TestPublishDetectionReachesSubscriber(t *testing.T) {
	h := startHub(t)
	c := addSubscriber(t, h, 4)

	h.PublishDetection(&models.Detection{EventID: "evt-1", DeviceID: "cam-01", IsAnomaly: true})

	select {
	case raw := <-c.send:
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if event.Channel != ChannelDetectionNew {
			t.Errorf("channel = %s, want %s", event.Channel, ChannelDetectionNew)
		}
		payload := event.Payload.(map[string]interface{})
		if payload["event_id"] != "evt-1" {
			t.Errorf("event_id = %v, want evt-1", payload["event_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestPublishNetworkUpdateChannel(t *testing.T) {
	h := startHub(t)
	c := addSubscriber(t, h, 4)

	h.PublishNetworkUpdate(&models.NetworkReport{DevicesAnalyzed: 7})

	select {
	case raw := <-c.send:
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if event.Channel != ChannelNetworkUpdate {
			t.Errorf("channel = %s, want %s", event.Channel, ChannelNetworkUpdate)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestPublishWithoutSubscribersIsDiscarded(t *testing.T) {
	h := startHub(t)

	// Must not block or panic; the event is simply dropped.
	h.PublishDetection(&models.Detection{EventID: "evt-unseen"})

	c := addSubscriber(t, h, 4)
	select {
	case <-c.send:
		t.Fatal("subscriber received an event published before it connected")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectAfterStopIsRejected(t *testing.T) {
	h := New()
	go h.Run()
	h.Stop()

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	// The upgrade itself may complete, but the connection must be closed
	// promptly instead of blocking the handler on a stopped hub.
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection stayed open after hub stop")
	}
	if h.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d after stop, want 0", h.SubscriberCount())
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := startHub(t)
	addSubscriber(t, h, 1)

	// The buffer holds one event; the second cannot be delivered and the
	// subscriber is dropped rather than stalling the broadcast loop.
	h.PublishDetection(&models.Detection{EventID: "evt-1"})
	h.PublishDetection(&models.Detection{EventID: "evt-2"})
	h.PublishDetection(&models.Detection{EventID: "evt-3"})

	waitForCount(t, h, func(n int) bool { return n == 0 })
}
