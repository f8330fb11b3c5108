package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// heartbeatInterval keeps idle SSE connections from being reaped by
// proxies.
var heartbeatInterval = 15 * time.Second

// sseMessage is one formatted server-sent event.
type sseMessage struct {
	event string
	data  string
}

// SSEHub fans sync progress out to subscribers keyed by session id.
type SSEHub struct {
	mu       sync.Mutex
	sessions map[string]map[chan sseMessage]struct{}
}

// NewSSEHub creates an empty hub.
func NewSSEHub() *SSEHub {
	return &SSEHub{sessions: make(map[string]map[chan sseMessage]struct{})}
}

// Publish sends an event to every subscriber of the session. Slow
// subscribers are skipped rather than blocking the publisher.
func (h *SSEHub) Publish(sessionID, event, data string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.sessions[sessionID] {
		select {
		case ch <- sseMessage{event: event, data: data}:
		default:
		}
	}
}

func (h *SSEHub) subscribe(sessionID string) chan sseMessage {
	ch := make(chan sseMessage, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[chan sseMessage]struct{})
	}
	h.sessions[sessionID][ch] = struct{}{}
	return ch
}

func (h *SSEHub) unsubscribe(sessionID string, ch chan sseMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions[sessionID], ch)
	if len(h.sessions[sessionID]) == 0 {
		delete(h.sessions, sessionID)
	}
}

// Subscribers returns the subscriber count for a session.
func (h *SSEHub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[sessionID])
}

// HandleSyncProgress streams sync progress for a session over SSE.
func (h *Handlers) HandleSyncProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// nginx must not buffer the stream
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.sse.subscribe(sessionID)
	defer h.sse.unsubscribe(sessionID, ch)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case msg := <-ch:
			if msg.event != "" {
				fmt.Fprintf(w, "event: %s\n", msg.event)
			}
			fmt.Fprintf(w, "data: %s\n\n", msg.data)
			flusher.Flush()
		}
	}
}
