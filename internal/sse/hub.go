package sse

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"github.com/google/uuid"

	"github.com/ordersight/ordersight-backend/internal/platform/logger"
	"github.com/ordersight/ordersight-backend/internal/progress"
)

// Client is one open event-stream connection, subscribed to its tenant's
// channels.
type Client struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Channels map[string]bool
	Outbound chan progress.Event
	done     chan struct{}
}

// Hub fans pipeline events out to connected clients by channel. Events
// arrive either from the local publisher or from the Redis forwarder when
// another process emitted them.
type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

// NewClient creates a connection subscribed to every event channel of its
// tenant.
func (hub *Hub) NewClient(tenantID uuid.UUID) *Client {
	c := &Client{
		ID:       uuid.New(),
		TenantID: tenantID,
		Channels: make(map[string]bool),
		Outbound: make(chan progress.Event, 16),
		done:     make(chan struct{}),
	}
	for _, eventType := range []string{
		progress.TypeProgress, progress.TypeStage, progress.TypeCompletion, progress.TypeError,
	} {
		hub.AddChannel(c, progress.ChannelFor(tenantID, eventType))
	}
	return c
}

func (hub *Hub) AddChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	client.Channels[channel] = true
	clients, exists := hub.subscriptions[channel]
	if !exists {
		clients = make(map[*Client]bool)
		hub.subscriptions[channel] = clients
	}
	clients[client] = true

	hub.log.Debug("sse client subscribed", "client_id", client.ID.String(), "channel", channel)
}

func (hub *Hub) RemoveClient(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for ch := range client.Channels {
		if subMap, ok := hub.subscriptions[ch]; ok {
			delete(subMap, client)
			if len(subMap) == 0 {
				delete(hub.subscriptions, ch)
			}
		}
	}
	client.Channels = make(map[string]bool)
}

// Broadcast delivers an event to every subscriber of its channel. A slow
// client with a full buffer drops the event rather than blocking the hub.
func (hub *Hub) Broadcast(ev progress.Event) {
	if ev.Channel == "" {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	clientsMap, ok := hub.subscriptions[ev.Channel]
	if !ok {
		return
	}
	for c := range clientsMap {
		select {
		case c.Outbound <- ev:
		default:
			hub.log.Warn("dropping sse event, outbound buffer full",
				"client_id", c.ID.String(), "channel", ev.Channel)
		}
	}
}

func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-client.Outbound:
			raw, err := json.Marshal(ev)
			if err != nil {
				hub.log.Warn("failed to marshal sse event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, raw)
			flusher.Flush()
		}
	}
}

func (hub *Hub) CloseClient(client *Client) {
	close(client.done)
	hub.RemoveClient(client)
	close(client.Outbound)
}
