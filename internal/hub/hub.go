package hub

import (
	"encoding/json"
	"sync"

	"github.com/wazzap/chat-backend/pkg/log"
)

// RosterFunc resolves the full membership of a chat. Broadcast uses it
// as the fallback path so members who never opened the chat view still
// get notified through their presence connection.
type RosterFunc func(chatID int64) []int64

// Hub is the process-wide connection registry. It owns two pieces of
// transient bookkeeping and nothing else: presence (user -> connection)
// and per-chat recipient sets (connections that opened the chat). Both
// are guarded by one mutex; worker-pool completions re-enter from other
// goroutines, so every mutation locks.
type Hub struct {
	mu       sync.Mutex
	chats    map[int64]map[string]*Client // chatID -> clientID -> client
	presence map[int64]*Client            // userID -> client
}

func NewHub() *Hub {
	return &Hub{
		chats:    make(map[int64]map[string]*Client),
		presence: make(map[int64]*Client),
	}
}

// Connect registers a client. A non-zero chatID adds the client to that
// chat's recipient set, idempotently: opening the same chat twice never
// yields duplicate delivery. A non-zero userID binds presence; a
// previous connection for the same user is force-closed rather than
// left dangling.
func (h *Hub) Connect(c *Client, chatID, userID int64) {
	var stale *Client

	h.mu.Lock()
	if chatID != 0 {
		set, ok := h.chats[chatID]
		if !ok {
			set = make(map[string]*Client)
			h.chats[chatID] = set
		}
		set[c.ID] = c
	}
	if userID != 0 {
		if prev, ok := h.presence[userID]; ok && prev.ID != c.ID {
			stale = prev
		}
		h.presence[userID] = c
		c.bindUser(userID)
	}
	h.mu.Unlock()

	if stale != nil {
		log.L().Info().
			Int64(log.FieldUserID, userID).
			Str(log.FieldConnID, stale.ID).
			Msg("closing superseded connection")
		h.Disconnect(stale, 0, 0)
	}
}

// Disconnect removes a client. With a non-zero chatID only that chat's
// recipient set is touched; with chatID zero the client leaves every
// chat and its transport is closed. Presence is cleared only while it
// still points at this exact client, so a newer connection for the same
// user is never evicted. Disconnect never fails.
func (h *Hub) Disconnect(c *Client, chatID, userID int64) {
	h.mu.Lock()
	if chatID != 0 {
		h.leaveChatLocked(c, chatID)
	} else {
		for id := range h.chats {
			h.leaveChatLocked(c, id)
		}
	}
	if userID != 0 {
		if cur, ok := h.presence[userID]; ok && cur.ID == c.ID {
			delete(h.presence, userID)
		}
	}
	full := chatID == 0
	h.mu.Unlock()

	if full {
		c.closeSend()
		c.closeTransport()
		log.L().Debug().Str(log.FieldConnID, c.ID).Msg("client disconnected")
	}
}

func (h *Hub) leaveChatLocked(c *Client, chatID int64) {
	set, ok := h.chats[chatID]
	if !ok {
		return
	}
	delete(set, c.ID)
	if len(set) == 0 {
		delete(h.chats, chatID)
	}
}

// Broadcast fans one payload out to every connection that opened the
// chat, then to the presence connection of every roster member not
// already reached. Delivery is deduplicated by connection identity and
// strictly best effort: a failed send drops that one recipient from
// this round, nothing is retried or queued.
func (h *Hub) Broadcast(chatID int64, payload interface{}, roster RosterFunc) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.L().Error().Err(err).Int64(log.FieldChatID, chatID).Msg("marshal broadcast payload")
		return
	}

	h.mu.Lock()
	recipients := make([]*Client, 0, 8)
	seen := make(map[string]struct{})
	for _, c := range h.chats[chatID] {
		recipients = append(recipients, c)
		seen[c.ID] = struct{}{}
	}
	h.mu.Unlock()

	if roster != nil {
		for _, userID := range roster(chatID) {
			h.mu.Lock()
			c, ok := h.presence[userID]
			h.mu.Unlock()
			if !ok {
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			recipients = append(recipients, c)
		}
	}

	for _, c := range recipients {
		if !c.enqueue(data) {
			log.L().Warn().
				Str(log.FieldConnID, c.ID).
				Int64(log.FieldChatID, chatID).
				Msg("dropping unreachable recipient")
			go h.Disconnect(c, 0, c.UserID())
		}
	}
}

// SendToUser delivers one payload to a user's presence connection.
// False means the user is offline or the send failed; neither is an
// error and nothing is retried.
func (h *Hub) SendToUser(userID int64, payload interface{}) bool {
	h.mu.Lock()
	c, ok := h.presence[userID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	return c.SendMessage(payload)
}

// ChatClientCount reports how many connections opened a chat.
func (h *Hub) ChatClientCount(chatID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chats[chatID])
}

// IsOnline reports whether a user has a presence connection.
func (h *Hub) IsOnline(userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.presence[userID]
	return ok
}
