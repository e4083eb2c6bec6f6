package feed

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/chat-relay/internal/domain"
)

const writeTimeout = 5 * time.Second

// TurnSource replays stored turns.
type TurnSource interface {
	Since(ctx context.Context, afterID int64) ([]domain.Turn, error)
}

// TurnSubscriber delivers turns as they are stored.
type TurnSubscriber interface {
	SubscribeTurns(ctx context.Context) (<-chan domain.Turn, error)
}

// Frame is one message sent to feed clients.
type Frame struct {
	Type  string       `json:"type"`
	Turn  *domain.View `json:"turn,omitempty"`
	Error string       `json:"error,omitempty"`
}

type clientMessage struct {
	Type string `json:"type"`
}

// Handler upgrades GET /chat/stream to a websocket. With ?after=<id> it first
// replays stored turns with larger ids, then streams new turns.
type Handler struct {
	source         TurnSource
	subscriber     TurnSubscriber
	hub            *Hub
	originPatterns []string
}

// NewHandler creates a feed handler. originPatterns follow
// websocket.AcceptOptions.OriginPatterns.
func NewHandler(source TurnSource, subscriber TurnSubscriber, hub *Hub, originPatterns []string) *Handler {
	return &Handler{
		source:         source,
		subscriber:     subscriber,
		hub:            hub,
		originPatterns: originPatterns,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	afterID := int64(-1)
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, `{"error":"invalid after parameter"}`, http.StatusBadRequest)
			return
		}
		afterID = n
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	connID := h.hub.Register(ws)
	defer h.hub.Unregister(connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before replaying so no turn falls between the two.
	live, err := h.subscriber.SubscribeTurns(ctx)
	if err != nil {
		slog.Error("Failed to subscribe to turns", "error", err, "conn_id", connID)
		_ = writeFrame(ctx, ws, Frame{Type: "error", Error: "subscription_failed"})
		return
	}

	replayed := afterID
	if afterID >= 0 {
		turns, err := h.source.Since(ctx, afterID)
		if err != nil {
			slog.Error("Failed to replay turns", "error", err, "conn_id", connID, "after", afterID)
			_ = writeFrame(ctx, ws, Frame{Type: "error", Error: "replay_failed"})
			return
		}
		for _, t := range turns {
			if err := sendTurn(ctx, ws, t); err != nil {
				slog.Debug("Feed write failed during replay", "error", err, "conn_id", connID)
				return
			}
			replayed = t.ID
		}
		slog.Debug("Feed replay complete", "conn_id", connID, "after", afterID, "count", len(turns))
	}

	go func() {
		defer cancel()
		h.inputLoop(ctx, ws, connID)
	}()

	h.outputLoop(ctx, ws, connID, live, replayed)
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, connID string) {
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("Feed closed by client", "conn_id", connID)
			} else {
				slog.Warn("Feed read error", "error", err, "conn_id", connID)
			}
			return
		}
		if msg.Type == "ping" {
			if err := writeFrame(ctx, ws, Frame{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err, "conn_id", connID)
				return
			}
		}
	}
}

// outputLoop sends live turns in strictly increasing id order. lastSent is
// the highest id already sent, or -1 before anything was.
func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, connID string, live <-chan domain.Turn, lastSent int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-live:
			if !ok {
				slog.Debug("Turn subscription closed", "conn_id", connID)
				return
			}
			// Turns already covered by the replay arrive again from the bus.
			if t.ID <= lastSent {
				continue
			}

			turns := []domain.Turn{t}
			if lastSent >= 0 && t.ID != lastSent+1 {
				// Gap: a turn was dropped or is still in flight. The store has them in order.
				missed, err := h.source.Since(ctx, lastSent)
				if err != nil {
					slog.Warn("Failed to backfill feed gap", "error", err, "conn_id", connID, "after", lastSent)
				} else {
					turns = append(missed, t)
				}
			}

			for _, m := range turns {
				if m.ID <= lastSent {
					continue
				}
				if err := sendTurn(ctx, ws, m); err != nil {
					slog.Debug("Feed write failed", "error", err, "conn_id", connID)
					return
				}
				lastSent = m.ID
			}
		}
	}
}

func sendTurn(ctx context.Context, ws *websocket.Conn, t domain.Turn) error {
	v := t.View()
	return writeFrame(ctx, ws, Frame{Type: "turn", Turn: &v})
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}
