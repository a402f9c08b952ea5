package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wazzap/chat-backend/internal/config"
	"github.com/wazzap/chat-backend/internal/domain"
	"github.com/wazzap/chat-backend/internal/hub"
	"github.com/wazzap/chat-backend/internal/service"
	"github.com/wazzap/chat-backend/internal/session"
	"github.com/wazzap/chat-backend/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Close reasons for the two handshake rejections. 1001 tells the client
// the session died with a restart and it may silently reconnect; 1008
// tells it the credentials are bad and it must log in again.
const (
	closeReasonExpired      = "Session expired"
	closeReasonInvalidToken = "Invalid token. Please log in again."
)

// WSHandler serves the session-multiplexed realtime endpoint.
type WSHandler struct {
	hub      *hub.Hub
	sessions *session.Registry
	service  service.RealtimeService
	wsCfg    config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, sessions *session.Registry, svc service.RealtimeService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:      h,
		sessions: sessions,
		service:  svc,
		wsCfg:    wsCfg,
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	sessionID := r.URL.Query().Get("session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.L().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess, err := h.sessions.Validate(sessionID, token)
	if err != nil {
		h.reject(conn, err)
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)

	// Presence only: no chat is opened until the client asks for one.
	h.hub.Connect(client, 0, sess.UserID)

	go client.WritePump()
	go client.ReadPump(h.handleFrame)

	client.SendMessage(&domain.SessionReadyMessage{
		Type:      domain.MsgTypeSessionReady,
		SessionID: sess.ID,
	})

	log.L().Info().
		Int64(log.FieldUserID, sess.UserID).
		Str(log.FieldConnID, client.ID).
		Msg("realtime session established")
}

// reject closes the handshake with a code the client can tell apart:
// unknown session and bad token must stay distinguishable end-to-end.
func (h *WSHandler) reject(conn *websocket.Conn, cause error) {
	code := websocket.ClosePolicyViolation
	reason := closeReasonInvalidToken
	if errors.Is(cause, domain.ErrUnknownSession) {
		code = websocket.CloseGoingAway
		reason = closeReasonExpired
	}

	deadline := time.Now().Add(5 * time.Second)
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		log.L().Debug().Err(err).Msg("write close frame failed")
	}
	_ = conn.Close()

	log.L().Info().Err(cause).Int("close_code", code).Msg("handshake rejected")
}

// handleFrame processes one inbound frame. Malformed input earns the
// sender an error frame; only a dead transport ends the loop.
func (h *WSHandler) handleFrame(c *hub.Client, message []byte) {
	frame, err := domain.DecodeInbound(message)
	if err != nil {
		c.SendMessage(domain.NewErrorMessage(err.Error()))
		return
	}

	ctx := context.Background()

	switch f := frame.(type) {
	case *domain.ChatOpenFrame:
		if err := h.service.HandleChatOpen(ctx, c, f); err != nil {
			log.L().Warn().Err(err).Str(log.FieldConnID, c.ID).Msg("chat.open failed")
		}

	case *domain.MessageSendFrame:
		if err := h.service.HandleMessageSend(ctx, c, f); err != nil {
			log.L().Warn().Err(err).Str(log.FieldConnID, c.ID).Msg("message.send failed")
		}

	case *domain.MessageReadFrame:
		if err := h.service.HandleMessageRead(ctx, c, f); err != nil {
			log.L().Warn().Err(err).Str(log.FieldConnID, c.ID).Msg("message.read failed")
		}

	case *domain.PingFrame:
		c.SendMessage(&domain.PongMessage{Type: domain.MsgTypePong})
	}
}

func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/ws", h.HandleWebSocket)
}
