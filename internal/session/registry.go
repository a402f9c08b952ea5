package session

import (
	"sync"
	"time"

	"github.com/wazzap/chat-backend/internal/domain"
	"github.com/wazzap/chat-backend/pkg/log"
)

// Session is one active login. Sessions live as long as the process:
// there is no TTL, only explicit logout and the boot-time ClearAll.
type Session struct {
	ID       string
	UserID   int64
	Username string
	Token    string
	IssuedAt time.Time
}

// Registry is the process-wide store of active sessions. It is written
// by the login/logout flow and read by every websocket handshake, so
// all access goes through the mutex.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create stores a session minted by the login flow. An existing session
// with the same id is replaced.
func (r *Registry) Create(sessionID, token string, userID int64, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = &Session{
		ID:       sessionID,
		UserID:   userID,
		Username: username,
		Token:    token,
		IssuedAt: time.Now(),
	}
}

// Validate checks a handshake credential pair. It returns
// domain.ErrUnknownSession when the id is absent (typically after a
// restart wiped the registry) and domain.ErrTokenMismatch when the id
// exists but the token differs; callers must keep the two apart.
func (r *Registry) Validate(sessionID, token string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrUnknownSession
	}
	if s.Token != token {
		return nil, domain.ErrTokenMismatch
	}
	return s, nil
}

// Invalidate removes a session on logout. Unknown ids are a no-op.
func (r *Registry) Invalidate(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// ClearAll wipes every session. Called once at process start so clients
// holding pre-restart credentials get a clean "unknown session" signal.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	n := len(r.sessions)
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	if n > 0 {
		log.L().Info().Int("cleared", n).Msg("session registry cleared")
	}
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
