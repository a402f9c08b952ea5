package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wazzap/chat-backend/internal/config"
	"github.com/wazzap/chat-backend/internal/domain"
	"github.com/wazzap/chat-backend/internal/hub"
	"github.com/wazzap/chat-backend/internal/service"
	"github.com/wazzap/chat-backend/pkg/log"
)

// LegacyHandler serves the path-bound single-chat endpoint kept for
// older clients. Chat and user are fixed at connect time; an in-band
// {"type":"control","content":"quit"} frame disconnects, and broadcasts
// use the flat object shape those clients expect.
type LegacyHandler struct {
	hub     *hub.Hub
	service service.RealtimeService
	wsCfg   config.WebSocketConfig
}

func NewLegacyHandler(h *hub.Hub, svc service.RealtimeService, wsCfg config.WebSocketConfig) *LegacyHandler {
	return &LegacyHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
	}
}

func (h *LegacyHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chatID, err1 := strconv.ParseInt(vars["chat_id"], 10, 64)
	userID, err2 := strconv.ParseInt(vars["user_id"], 10, 64)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.L().Warn().Err(err).Msg("legacy websocket upgrade failed")
		return
	}

	if err1 != nil || err2 != nil {
		h.rejectWithError(conn, "invalid chat or user id")
		return
	}

	if err := h.service.VerifyMembership(context.Background(), chatID, userID); err != nil {
		h.rejectWithError(conn, err.Error())
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)

	// Chat set only. Legacy connections never own presence, so they
	// cannot evict a user's multiplexed connection.
	h.hub.Connect(client, chatID, 0)

	go client.WritePump()
	go client.ReadPump(func(c *hub.Client, message []byte) {
		h.handleFrame(c, chatID, userID, message)
	})

	log.L().Info().
		Int64(log.FieldChatID, chatID).
		Int64(log.FieldUserID, userID).
		Str(log.FieldConnID, client.ID).
		Msg("legacy connection established")
}

// rejectWithError reports the failure in-band before closing, the way
// the old protocol did.
func (h *LegacyHandler) rejectWithError(conn *websocket.Conn, reason string) {
	data, err := json.Marshal(&domain.LegacyError{Error: reason})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = conn.Close()
}

func (h *LegacyHandler) handleFrame(c *hub.Client, chatID, userID int64, message []byte) {
	var frame domain.LegacyFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.SendMessage(&domain.LegacyError{Error: "invalid message format"})
		return
	}

	if frame.Type == domain.LegacyTypeControl {
		if frame.Content == domain.LegacyQuit {
			h.hub.Disconnect(c, 0, 0)
		}
		return
	}

	if err := h.service.HandleLegacyMessage(context.Background(), c, chatID, userID, &frame); err != nil {
		log.L().Warn().Err(err).Str(log.FieldConnID, c.ID).Msg("legacy message failed")
	}
}

func (h *LegacyHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/{chat_id:[0-9]+}/{user_id:[0-9]+}", h.HandleWebSocket)
}
