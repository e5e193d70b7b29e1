package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radvis/radvis-backend/internal/logger"
)

const outboundBuffer = 64

// Client is one live progress stream, identified by the session id handed
// to the browser on connect.
type Client struct {
	ID       string
	Outbound chan Event
	done     chan struct{}
}

// Hub maps client session ids to live streams. Send to an unknown id is a
// logged no-op: a client that disconnected mid-batch must not fail the
// workers still processing its files.
type Hub struct {
	mu      sync.RWMutex
	log     *logger.Logger
	clients map[string]*Client
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "SSEHub"),
		clients: make(map[string]*Client),
	}
}

// Register creates a fresh client session and returns its stream handle.
func (h *Hub) Register() *Client {
	client := &Client{
		ID:       uuid.NewString(),
		Outbound: make(chan Event, outboundBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.log.Info("SSE client connected", "clientID", client.ID)
	return client
}

// Send delivers ev to the client's stream without ever blocking the caller.
func (h *Hub) Send(clientID string, ev Event) {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()

	if !ok {
		h.log.Warn("No SSE connection found for client", "clientID", clientID)
		return
	}

	select {
	case client.Outbound <- ev:
	default:
		h.log.Warn("Dropping SSE event; outbound buffer full", "clientID", clientID, "fileName", ev.FileName)
	}
}

func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	current, ok := h.clients[client.ID]
	if ok && current == client {
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()

	if ok {
		close(client.done)
		h.log.Info("SSE client disconnected", "clientID", client.ID)
	}
}

// Connected reports whether the session id still has a live stream.
func (h *Hub) Connected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[clientID]
	return ok
}

// ServeHTTP pumps the client's events onto the response until the
// connection closes. The first frame carries the assigned session id;
// comment frames every 15s keep idle proxies from dropping the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "data: %s\n\n", fmt.Sprintf(`{"clientId":%q}`, client.ID))
	flusher.Flush()

	ctx := r.Context()
	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ":\n\n")
			flusher.Flush()
		case ev := <-client.Outbound:
			raw, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("Failed to marshal SSE event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
		}
	}
}
