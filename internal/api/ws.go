package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/dreamtree-labs/lsa-tutor/internal/classroom"
	"github.com/dreamtree-labs/lsa-tutor/internal/convlog"
	"github.com/dreamtree-labs/lsa-tutor/internal/identity"
)

// wsMessage is a client frame.
type wsMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// wsReply is a server frame.
type wsReply struct {
	Type   string         `json:"type"`
	Class  *ClassResponse `json:"class,omitempty"`
	Turn   *TurnResponse  `json:"turn,omitempty"`
	Error  string         `json:"error,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

// ServeWS runs the classroom over a WebSocket. Every state change is followed by a fresh view.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "class ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(h.cfg.RateLimit.MaxBodyBytes)

	ctx := r.Context()
	if err := h.pushView(ctx, ws); err != nil {
		return
	}
	h.readLoop(ctx, ws, userID)
	slog.Info("Class socket closed", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || origin == h.cfg.FrontendURL || h.cfg.FrontendURL == "*" {
		return true
	}
	if r.Host != "" && (origin == "http://"+r.Host || origin == "https://"+r.Host) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.FrontendURL)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ctx, ws, wsReply{Type: "error", Error: "invalid_message"}); err != nil {
				return
			}
			continue
		}

		if err := h.handleFrame(ctx, ws, msg); err != nil {
			slog.Debug("WebSocket write failed", "error", err, "user_id", userID)
			return
		}
	}
}

// handleFrame returns an error only when the socket can no longer be written.
func (h *Handler) handleFrame(ctx context.Context, ws *websocket.Conn, msg wsMessage) error {
	switch msg.Type {
	case "ping":
		return h.writeJSON(ctx, ws, wsReply{Type: "pong"})
	case "view":
		return h.pushView(ctx, ws)
	case "reset":
		h.reset(ctx, convlog.ChannelWS)
		if err := h.writeJSON(ctx, ws, wsReply{Type: "reset"}); err != nil {
			return err
		}
		return h.pushView(ctx, ws)
	case "start":
		return h.pushTurn(ctx, ws, classroom.StartClass())
	case "submit":
		ev, ok := classroom.Submit(msg.Text, msg.Voice)
		if !ok {
			return nil
		}
		return h.pushTurn(ctx, ws, ev)
	default:
		return h.writeJSON(ctx, ws, wsReply{Type: "error", Error: "unknown_type", Detail: msg.Type})
	}
}

func (h *Handler) pushTurn(ctx context.Context, ws *websocket.Conn, ev classroom.Event) error {
	if !h.allowUser(ctx, convlog.ChannelWS) {
		return h.writeJSON(ctx, ws, wsReply{Type: "error", Error: "rate_limited"})
	}
	turn, err := h.dispatch(ctx, convlog.ChannelWS, ev)
	if err != nil {
		_, code := classError(err)
		return h.writeJSON(ctx, ws, wsReply{Type: "error", Error: code, Detail: err.Error()})
	}
	if err := h.writeJSON(ctx, ws, wsReply{Type: "turn", Turn: &turn}); err != nil {
		return err
	}
	if !turn.Applied {
		return nil
	}
	return h.pushView(ctx, ws)
}

func (h *Handler) pushView(ctx context.Context, ws *websocket.Conn) error {
	view := h.render(ctx, convlog.ChannelWS)
	return h.writeJSON(ctx, ws, wsReply{Type: "view", Class: &view})
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
