package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/p-n-ai/pai-academy/internal/progress"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
)

// Hub fans progress events out to the websocket streams of their user.
// It is an EventLogger, so it can be wired straight into the store.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan progress.Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan progress.Event]struct{})}
}

// LogEvent delivers event to every stream of event.UserID. Slow streams
// drop events rather than block the store.
func (h *Hub) LogEvent(_ context.Context, event progress.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[event.UserID] {
		select {
		case ch <- event:
		default:
			slog.Warn("progress stream full, dropping event", "user_id", event.UserID, "type", event.EventType)
		}
	}
	return nil
}

// Subscribe registers a stream for userID. The returned func unregisters it.
func (h *Hub) Subscribe(userID string) (<-chan progress.Event, func()) {
	ch := make(chan progress.Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan progress.Event]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[userID], ch)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
	}
}

// Subscribers returns the number of open streams for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("failed to accept websocket", "user_id", userID, "error", err)
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := s.hub.Subscribe(userID)
	defer unsubscribe()

	// The client never sends; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	slog.Info("progress stream connected", "user_id", userID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("progress stream closed", "user_id", userID)
			return
		case event := <-events:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, event)
			cancel()
			if err != nil {
				slog.Debug("progress stream write failed", "user_id", userID, "error", err)
				return
			}
		}
	}
}
