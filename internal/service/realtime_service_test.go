package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wazzap/chat-backend/internal/config"
	"github.com/wazzap/chat-backend/internal/domain"
	"github.com/wazzap/chat-backend/internal/hub"
	"github.com/wazzap/chat-backend/internal/worker"
)

// fakeStore is an in-memory ChatStore with injectable failures.
type fakeStore struct {
	mu         sync.Mutex
	chats      map[int64]*domain.Chat
	members    map[int64][]int64
	users      map[int64]*domain.User
	messages   map[string]*domain.Message
	order      []string                  // message ids, creation order
	reads      map[string]map[int64]bool // message id -> reader set
	nextID     int
	failCreate error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:    make(map[int64]*domain.Chat),
		members:  make(map[int64][]int64),
		users:    make(map[int64]*domain.User),
		messages: make(map[string]*domain.Message),
		reads:    make(map[string]map[int64]bool),
	}
}

func (s *fakeStore) addChat(chatID int64, memberIDs ...int64) {
	s.chats[chatID] = &domain.Chat{ID: chatID, Type: domain.ChatTypeGroup, Title: "test chat"}
	s.members[chatID] = memberIDs
}

func (s *fakeStore) addUser(id int64, username string) {
	s.users[id] = &domain.User{ID: id, Username: username}
}

func (s *fakeStore) GetChat(ctx context.Context, chatID int64) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "chat", ID: fmt.Sprint(chatID)}
	}
	return chat, nil
}

func (s *fakeStore) GetChatMembers(ctx context.Context, chatID int64) ([]domain.ChatMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChatMember
	for _, id := range s.members[chatID] {
		out = append(out, domain.ChatMember{ChatID: chatID, UserID: id})
	}
	return out, nil
}

func (s *fakeStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "user", ID: fmt.Sprint(userID)}
	}
	return u, nil
}

func (s *fakeStore) CreateMessage(ctx context.Context, chatID, senderID int64, msgType, text, mediaURL string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return nil, s.failCreate
	}
	s.nextID++
	msg := &domain.Message{
		ID:        fmt.Sprintf("msg-%d", s.nextID),
		ChatID:    chatID,
		SenderID:  senderID,
		Type:      msgType,
		Text:      text,
		MediaURL:  mediaURL,
		CreatedAt: time.Now().UTC(),
	}
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	return msg, nil
}

func (s *fakeStore) UpdateLastSeen(ctx context.Context, chatID, userID int64, lastMessageID string) error {
	return nil
}

func (s *fakeStore) MarkMessagesAsRead(ctx context.Context, chatID, userID int64, lastMessageID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.messages[lastMessageID]
	if !ok || target.ChatID != chatID {
		return nil, &domain.NotFoundError{Kind: "message", ID: lastMessageID}
	}

	var newly []string
	for _, id := range s.order {
		m := s.messages[id]
		if m.ChatID != chatID || m.SenderID == userID {
			continue
		}
		if m.CreatedAt.After(target.CreatedAt) {
			continue
		}
		if s.reads[id] == nil {
			s.reads[id] = make(map[int64]bool)
		}
		if s.reads[id][userID] {
			continue
		}
		s.reads[id][userID] = true
		newly = append(newly, id)
	}
	return newly, nil
}

func (s *fakeStore) GetReadStatusesForMessage(ctx context.Context, messageID string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id := range s.reads[messageID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

type fixture struct {
	hub   *hub.Hub
	store *fakeStore
	svc   RealtimeService
	pool  *worker.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := hub.NewHub()
	st := newFakeStore()
	pool := worker.NewPool(2, 8)
	t.Cleanup(pool.Close)
	return &fixture{
		hub:   h,
		store: st,
		svc:   NewRealtimeService(h, st, pool),
		pool:  pool,
	}
}

func (f *fixture) online(t *testing.T, id string, userID int64) *hub.Client {
	t.Helper()
	c := hub.NewClient(id, f.hub, nil, config.WebSocketConfig{})
	f.hub.Connect(c, 0, userID)
	return c
}

// frames drains and decodes everything buffered for the client.
func frames(t *testing.T, c *hub.Client) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			var m map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &m))
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestChatOpenUnknownChat(t *testing.T) {
	f := newFixture(t)
	c := f.online(t, "a", 1)

	err := f.svc.HandleChatOpen(context.Background(), c, &domain.ChatOpenFrame{ChatID: 404, UserID: 1})

	require.Error(t, err)
	got := frames(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, domain.MsgTypeError, got[0]["type"])
	assert.Equal(t, 0, f.hub.ChatClientCount(404))
}

func TestChatOpenNotAMember(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 2)
	c := f.online(t, "a", 1)

	err := f.svc.HandleChatOpen(context.Background(), c, &domain.ChatOpenFrame{ChatID: 10, UserID: 1})

	var nam *domain.NotAMemberError
	require.ErrorAs(t, err, &nam)
	got := frames(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, domain.MsgTypeError, got[0]["type"])
	assert.Equal(t, 0, f.hub.ChatClientCount(10))
}

func TestChatOpenCannotActAsAnotherUser(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 1, 2)
	a := f.online(t, "a", 1)
	b := f.online(t, "b", 2)

	// User 1 names fellow member 2 in the frame.
	err := f.svc.HandleChatOpen(context.Background(), a, &domain.ChatOpenFrame{ChatID: 10, UserID: 2})
	require.NoError(t, err)

	got := frames(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, domain.MsgTypeError, got[0]["type"])
	assert.Equal(t, 0, f.hub.ChatClientCount(10), "spoofed open must not join the chat")

	// User 2's presence still routes to their own connection, which was
	// never closed.
	require.True(t, f.hub.SendToUser(2, &domain.PongMessage{Type: domain.MsgTypePong}))
	assert.Len(t, frames(t, b), 1)
}

func TestChatOpenDoesNotRebindPresence(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 1)
	a := f.online(t, "a", 1)

	require.NoError(t, f.svc.HandleChatOpen(context.Background(), a, &domain.ChatOpenFrame{ChatID: 10, UserID: 1}))

	// Opening a chat joins the recipient set only; the presence binding
	// made at the handshake is left alone.
	assert.Equal(t, 1, f.hub.ChatClientCount(10))
	assert.True(t, f.hub.IsOnline(1))
	assert.Equal(t, int64(1), a.UserID())
}

func TestMessageSendPersistsExactlyOnceAndEnvelopeMatches(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 1, 2)
	f.store.addUser(1, "alice")
	a := f.online(t, "a", 1)
	require.NoError(t, f.svc.HandleChatOpen(context.Background(), a, &domain.ChatOpenFrame{ChatID: 10, UserID: 1}))

	require.NoError(t, f.svc.HandleMessageSend(context.Background(), a, &domain.MessageSendFrame{
		ChatID: 10, SenderID: 1, Content: "hi",
	}))

	require.Len(t, f.store.messages, 1, "exactly one message persisted")

	got := frames(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, domain.MsgTypeMessageNew, got[0]["type"])

	msg := got[0]["message"].(map[string]interface{})
	persisted := f.store.messages[msg["id"].(string)]
	require.NotNil(t, persisted, "envelope id matches the persisted record")
	assert.Equal(t, persisted.Text, msg["content"])
	assert.Equal(t, "alice", msg["sender_username"])
	assert.Equal(t, []interface{}{}, msg["read_by"])
	assert.Equal(t, float64(0), msg["read_count"])
}

func TestMessageSendReachesRosterMemberWithoutOpen(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 1, 2)
	f.store.addUser(1, "alice")
	a := f.online(t, "a", 1)
	b := f.online(t, "b", 2) // member of chat 10, never opened it
	require.NoError(t, f.svc.HandleChatOpen(context.Background(), a, &domain.ChatOpenFrame{ChatID: 10, UserID: 1}))

	require.NoError(t, f.svc.HandleMessageSend(context.Background(), a, &domain.MessageSendFrame{
		ChatID: 10, SenderID: 1, Content: "hi",
	}))

	assert.Len(t, frames(t, a), 1)
	assert.Len(t, frames(t, b), 1, "roster fallback delivers to presence connection exactly once")
}

func TestMessageSendPersistenceFailureReportedToSenderOnly(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 1, 2)
	a := f.online(t, "a", 1)
	b := f.online(t, "b", 2)
	require.NoError(t, f.svc.HandleChatOpen(context.Background(), a, &domain.ChatOpenFrame{ChatID: 10, UserID: 1}))
	require.NoError(t, f.svc.HandleChatOpen(context.Background(), b, &domain.ChatOpenFrame{ChatID: 10, UserID: 2}))
	frames(t, a)
	frames(t, b)

	f.store.failCreate = errors.New("disk full")
	err := f.svc.HandleMessageSend(context.Background(), a, &domain.MessageSendFrame{
		ChatID: 10, SenderID: 1, Content: "hi",
	})

	require.Error(t, err)
	got := frames(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, domain.MsgTypeError, got[0]["type"])
	assert.Empty(t, frames(t, b), "other members see nothing on a failed send")
}

func TestMessageReadValidation(t *testing.T) {
	f := newFixture(t)
	c := f.online(t, "a", 1)

	require.NoError(t, f.svc.HandleMessageRead(context.Background(), c, &domain.MessageReadFrame{ChatID: 10}))
	require.NoError(t, f.svc.HandleMessageRead(context.Background(), c, &domain.MessageReadFrame{MessageID: "m"}))

	got := frames(t, c)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.Equal(t, domain.MsgTypeError, m["type"])
	}
}

func TestRepeatedChatOpenNoDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 1, 2)
	f.store.addUser(2, "bob")
	a := f.online(t, "a", 1)
	b := f.online(t, "b", 2)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.HandleChatOpen(context.Background(), a, &domain.ChatOpenFrame{ChatID: 10, UserID: 1}))
	}

	require.NoError(t, f.svc.HandleMessageSend(context.Background(), b, &domain.MessageSendFrame{
		ChatID: 10, SenderID: 2, Content: "once",
	}))

	assert.Len(t, frames(t, a), 1, "repeated chat.open must not duplicate delivery")
}

// Two members of chat 10: A sends, B reads. Mirrors the full exchange a
// pair of clients goes through.
func TestSendAndReadExchange(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 1, 2)
	f.store.addUser(1, "alice")
	f.store.addUser(2, "bob")
	a := f.online(t, "a", 1)
	b := f.online(t, "b", 2)
	ctx := context.Background()
	require.NoError(t, f.svc.HandleChatOpen(ctx, a, &domain.ChatOpenFrame{ChatID: 10, UserID: 1}))
	require.NoError(t, f.svc.HandleChatOpen(ctx, b, &domain.ChatOpenFrame{ChatID: 10, UserID: 2}))

	require.NoError(t, f.svc.HandleMessageSend(ctx, a, &domain.MessageSendFrame{
		ChatID: 10, SenderID: 1, Content: "hi",
	}))

	aGot := frames(t, a)
	bGot := frames(t, b)
	require.Len(t, aGot, 1)
	require.Len(t, bGot, 1)
	assert.Equal(t, aGot[0], bGot[0], "both connections receive the identical envelope")

	msg := aGot[0]["message"].(map[string]interface{})
	msgID := msg["id"].(string)
	assert.Equal(t, float64(1), msg["sender_id"])
	assert.Equal(t, "hi", msg["content"])

	// B reads up to the new message.
	require.NoError(t, f.svc.HandleMessageRead(ctx, b, &domain.MessageReadFrame{ChatID: 10, MessageID: msgID}))

	aGot = frames(t, a)
	require.Len(t, aGot, 1)
	assert.Equal(t, domain.MsgTypeReadUpdate, aGot[0]["type"])
	assert.Equal(t, msgID, aGot[0]["message_id"])
	assert.Equal(t, float64(1), aGot[0]["read_count"], "count includes the reader")
	assert.Equal(t, []interface{}{}, aGot[0]["read_by"], "read-by-others excludes the reader")

	bGot = frames(t, b)
	require.Len(t, bGot, 2, "reader gets the update plus a direct ack")
	assert.Equal(t, domain.MsgTypeReadUpdate, bGot[0]["type"])
	assert.Equal(t, domain.MsgTypeMessageStatus, bGot[1]["type"])
	assert.Equal(t, msgID, bGot[1]["message_id"])
	assert.Equal(t, "read", bGot[1]["status"])
}

func TestMessageReadMarksAllPriorUnread(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 1, 2)
	f.store.addUser(1, "alice")
	f.store.addUser(2, "bob")
	a := f.online(t, "a", 1)
	b := f.online(t, "b", 2)
	ctx := context.Background()
	require.NoError(t, f.svc.HandleChatOpen(ctx, a, &domain.ChatOpenFrame{ChatID: 10, UserID: 1}))
	require.NoError(t, f.svc.HandleChatOpen(ctx, b, &domain.ChatOpenFrame{ChatID: 10, UserID: 2}))

	var lastID string
	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.HandleMessageSend(ctx, a, &domain.MessageSendFrame{
			ChatID: 10, SenderID: 1, Content: fmt.Sprintf("m%d", i),
		}))
	}
	lastID = f.store.order[len(f.store.order)-1]
	frames(t, a)
	frames(t, b)

	require.NoError(t, f.svc.HandleMessageRead(ctx, b, &domain.MessageReadFrame{ChatID: 10, MessageID: lastID}))

	aGot := frames(t, a)
	require.Len(t, aGot, 3, "one read-update per newly marked message")
	for _, m := range aGot {
		assert.Equal(t, domain.MsgTypeReadUpdate, m["type"])
	}

	// A second identical read marks nothing: only the ack comes back.
	require.NoError(t, f.svc.HandleMessageRead(ctx, b, &domain.MessageReadFrame{ChatID: 10, MessageID: lastID}))
	assert.Empty(t, frames(t, a))
	bGot := frames(t, b)
	// first read produced 3 updates + ack, second read only the ack
	assert.Equal(t, domain.MsgTypeMessageStatus, bGot[len(bGot)-1]["type"])
}

func TestNotifyMemberAdded(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 1, 2)
	c := f.online(t, "b", 2)

	f.svc.NotifyMemberAdded(10, 2)

	require.Eventually(t, func() bool {
		got := frames(t, c)
		if len(got) == 0 {
			return false
		}
		return got[0]["type"] == domain.MsgTypeMemberAdded && got[0]["chat_id"] == float64(10)
	}, time.Second, 5*time.Millisecond)

	// Offline target is a silent no-op.
	f.svc.NotifyMemberAdded(10, 99)
}

func TestLegacyMessagePersistsAndBroadcastsFlatObject(t *testing.T) {
	f := newFixture(t)
	f.store.addChat(10, 1, 2)
	c := hub.NewClient("legacy", f.hub, nil, config.WebSocketConfig{})
	f.hub.Connect(c, 10, 0)

	require.NoError(t, f.svc.HandleLegacyMessage(context.Background(), c, 10, 1, &domain.LegacyFrame{
		Type: "text", Content: "Hello World",
	}))

	got := frames(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "Hello World", got[0]["content"])
	assert.Equal(t, float64(1), got[0]["sender_id"])
	assert.Equal(t, float64(10), got[0]["chat_id"])
	assert.NotEmpty(t, got[0]["message_id"])
	_, hasType := got[0]["type"]
	assert.True(t, hasType)
	require.Len(t, f.store.messages, 1)
}
