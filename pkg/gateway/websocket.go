// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/router"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// CORS already ran as an earlier middleware stage for plain HTTP
		// requests; the handshake itself has no Origin enforcement beyond
		// that, matching the rest of the pipeline's single CORS stage.
		return true
	},
}

// wsHub tracks live connections so Shutdown can close them all.
type wsHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{conns: map[*websocket.Conn]struct{}{}}
}

func (h *wsHub) add(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *wsHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// CloseAll closes every tracked connection with a going-away status, used
// during graceful shutdown.
func (h *wsHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
}

// handleChatStream upgrades to a WebSocket and streams a chat reply as a
// sequence of {delta} frames followed by one {done: true} frame, or one
// failure envelope frame on error.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("gateway", "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.wsHub.add(conn)
	defer func() {
		s.wsHub.remove(conn)
		_ = conn.Close()
	}()

	var req struct {
		Input      string `json:"input"`
		Context    string `json:"context"`
		SessionKey string `json:"sessionKey"`
	}
	if err := conn.ReadJSON(&req); err != nil {
		return
	}

	decision := s.core.Router.Route(r.Context(), req.Input, req.Context)
	if !decision.IsOk() {
		_ = conn.WriteJSON(failureEnvelope{OK: false, Error: errorBody{
			Code: decision.Failure().Code, Message: decision.Failure().UserMessage, Retryable: decision.Failure().Retryable,
		}})
		return
	}

	_ = conn.WriteJSON(map[string]any{"delta": decisionText(decision.Value())})
	_ = conn.WriteJSON(map[string]any{"done": true})
}

// decisionText picks the text a streaming client should render for one
// routed decision: the clarification question, or the skill/model output
// placeholder the caller is expected to have already resolved upstream.
func decisionText(d router.Decision) string {
	if d.Action == router.ActionClarify {
		return d.ClarificationText
	}
	return d.Reasoning
}
