// Package hub fans live pipeline events out to WebSocket subscribers.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aegisiot/sentinel/internal/metrics"
	"github.com/aegisiot/sentinel/internal/models"
)

// Live event channel names.
const (
	ChannelDetectionNew  = "detection:new"
	ChannelNetworkUpdate = "network:update"
)

// Event is the envelope sent to every connected subscriber.
type Event struct {
	Channel string      `json:"channel"`
	Payload interface{} `json:"payload"`
}

// Hub maintains the set of active subscribers and broadcasts live events to
// all of them. Broadcasts are best-effort: an event published with zero
// subscribers is discarded, and a subscriber that cannot keep up is dropped.
// There is no backlog replay on reconnect.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// New creates a Hub.
func New() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		stopChan:   make(chan struct{}),
	}
}

// Run processes subscriber lifecycle and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SubscribersConnected.Set(float64(count))
			slog.Info("live subscriber connected", slog.Int("subscribers", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SubscribersConnected.Set(float64(count))
			slog.Info("live subscriber disconnected", slog.Int("subscribers", count))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Subscriber is blocked or gone; drop it rather than
					// stalling the broadcast.
					delete(h.clients, client)
					close(client.send)
					slog.Warn("dropping slow live subscriber")
				}
			}
			h.mu.Unlock()

		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the hub down and disconnects all subscribers.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishDetection broadcasts a classified detection on the detection:new
// channel. Publishing is independent of whether the record's persistence
// write has completed or succeeded.
func (h *Hub) PublishDetection(d *models.Detection) {
	h.publish(ChannelDetectionNew, d)
}

// PublishNetworkUpdate broadcasts a network analysis report on the
// network:update channel.
func (h *Hub) PublishNetworkUpdate(report *models.NetworkReport) {
	h.publish(ChannelNetworkUpdate, report)
}

func (h *Hub) publish(channel string, payload interface{}) {
	if h.SubscriberCount() == 0 {
		return
	}

	message, err := json.Marshal(Event{Channel: channel, Payload: payload})
	if err != nil {
		slog.Error("failed to marshal live event", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- message:
		metrics.EventsPublished.WithLabelValues(channel).Inc()
	case <-h.stopChan:
	}
}
