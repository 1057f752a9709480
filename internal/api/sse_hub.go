package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/internal"
)

// keepAliveInterval is how long an idle stream waits before sending a ping
const keepAliveInterval = 30 * time.Second

// retainedFinals bounds how many final events the hub remembers for late
// subscribers
const retainedFinals = 256

// sseClient is one connected event stream
type sseClient struct {
	AnalysisID string
	Channel    chan AnalysisEvent
}

// AnalysisEvent is a progress event of one analysis as sent to SSE clients
type AnalysisEvent struct {
	AnalysisID string        `json:"analysis_id"`
	Stage      spatial.Stage `json:"stage"`
	Percent    float64       `json:"percent"`
	Message    string        `json:"message"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// terminal reports whether no further events follow
func (e AnalysisEvent) terminal() bool {
	return e.Stage == spatial.StageDone || e.Error != ""
}

// SSEHub fans analysis progress out to Server-Sent Events clients
type SSEHub struct {
	clients    map[string]map[chan AnalysisEvent]bool
	finals     map[string]AnalysisEvent
	finalOrder []string
	clientsMu  sync.RWMutex
	register   chan sseClient
	unregister chan sseClient
	broadcast  chan AnalysisEvent
	done       chan struct{}
	closeOnce  sync.Once
	logger     *internal.Logger
}

// NewSSEHub creates a hub and starts its dispatch loop
func NewSSEHub(logger *internal.Logger) *SSEHub {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	hub := &SSEHub{
		clients:    make(map[string]map[chan AnalysisEvent]bool),
		finals:     make(map[string]AnalysisEvent),
		register:   make(chan sseClient, 10),
		unregister: make(chan sseClient, 10),
		broadcast:  make(chan AnalysisEvent, 100),
		done:       make(chan struct{}),
		logger:     logger.With("sse"),
	}

	go hub.run()
	return hub
}

// Close stops the dispatch loop
func (h *SSEHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// run processes SSE hub operations
func (h *SSEHub) run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			if h.clients[client.AnalysisID] == nil {
				h.clients[client.AnalysisID] = make(map[chan AnalysisEvent]bool)
			}
			h.clients[client.AnalysisID][client.Channel] = true
			h.logger.Debug("client registered for analysis %s (total clients: %d)",
				client.AnalysisID, len(h.clients[client.AnalysisID]))
			// a client arriving after the analysis finished still gets its end
			if final, ok := h.finals[client.AnalysisID]; ok {
				client.Channel <- final
			}
			h.clientsMu.Unlock()

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if clients, exists := h.clients[client.AnalysisID]; exists {
				delete(clients, client.Channel)
				h.logger.Debug("client unregistered from analysis %s (remaining clients: %d)",
					client.AnalysisID, len(clients))
				if len(clients) == 0 {
					delete(h.clients, client.AnalysisID)
				}
			}
			h.clientsMu.Unlock()

		case event := <-h.broadcast:
			h.clientsMu.Lock()
			if event.terminal() {
				h.retainFinal(event)
			}
			for clientChan := range h.clients[event.AnalysisID] {
				select {
				case clientChan <- event:
				default:
					h.logger.Warn("client channel full for analysis %s, skipping %s event",
						event.AnalysisID, event.Stage)
				}
			}
			h.clientsMu.Unlock()
		}
	}
}

// retainFinal remembers the last terminal event of an analysis. Callers hold
// clientsMu.
func (h *SSEHub) retainFinal(event AnalysisEvent) {
	if _, exists := h.finals[event.AnalysisID]; !exists {
		h.finalOrder = append(h.finalOrder, event.AnalysisID)
	}
	h.finals[event.AnalysisID] = event
	for len(h.finalOrder) > retainedFinals {
		delete(h.finals, h.finalOrder[0])
		h.finalOrder = h.finalOrder[1:]
	}
}

// Broadcast sends an event to all clients following an analysis. Progress
// events are dropped when the hub is backed up; terminal events wait.
func (h *SSEHub) Broadcast(event AnalysisEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.terminal() {
		select {
		case h.broadcast <- event:
		case <-h.done:
		}
		return
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping %s event of analysis %s", event.Stage, event.AnalysisID)
	}
}

// Final returns the terminal event of a finished analysis, if the hub saw one
func (h *SSEHub) Final(id core.AnalysisID) (AnalysisEvent, bool) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	event, ok := h.finals[id.String()]
	return event, ok
}

// Subscribe registers a listener for id. The returned cancel function must be
// called when the listener goes away.
func (h *SSEHub) Subscribe(id core.AnalysisID) (<-chan AnalysisEvent, func()) {
	client := sseClient{AnalysisID: id.String(), Channel: make(chan AnalysisEvent, 16)}
	select {
	case h.register <- client:
	case <-h.done:
	}
	return client.Channel, func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}
}

// ClientCount returns the number of active clients for an analysis
func (h *SSEHub) ClientCount(id core.AnalysisID) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[id.String()])
}

// Stream writes events for id to c until the analysis finishes or the client
// disconnects
func (h *SSEHub) Stream(c *gin.Context, id core.AnalysisID) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	events, cancel := h.Subscribe(id)
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event: %v", err)
				return true
			}
			c.SSEvent("progress", string(payload))
			return !event.terminal()

		case <-time.After(keepAliveInterval):
			c.SSEvent("ping", `{"status": "alive", "timestamp": "`+time.Now().UTC().Format(time.RFC3339)+`"}`)
			return true

		case <-ctx.Done():
			return false
		}
	})
}
