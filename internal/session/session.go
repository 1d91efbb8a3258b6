// Package session implements the gateway's keyed, TTL-bounded conversation
// session store: resolution, per-session mutual exclusion, and a periodic
// sweep that reclaims idle or aged-out entries.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/claude-code/gateway/internal/domain/apierr"
	"github.com/claude-code/gateway/pkg/safego"
)

// AnonymousClientID is used as a session's client_id when no API key was
// presented on the request that created it.
const AnonymousClientID = "__anonymous__"

// Action reports whether Resolve created a fresh session or resumed an
// existing one.
type Action string

const (
	ActionCreated Action = "created"
	ActionResumed Action = "resumed"
)

// Session is a single tracked conversation. Fields mirror the session
// record: an id, the client that owns it, creation/use timestamps, the
// model it was opened with, and its lock flag.
type Session struct {
	ID         string
	ClientID   string
	Model      string
	CreatedAt  time.Time
	LastUsedAt time.Time
	IsActive   bool
}

// Resolution is the result of a successful Resolve call.
type Resolution struct {
	Action    Action
	SessionID string
}

// Registry is the keyed session store. MaxAge bounds total session
// lifetime from creation; TTL bounds idle time since last use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	maxAge time.Duration
	ttl    time.Duration

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewRegistry constructs a session registry and starts its periodic sweep
// at the given interval.
func NewRegistry(maxAge, ttl, sweepInterval time.Duration, logger *zap.Logger) *Registry {
	r := &Registry{
		sessions:  make(map[string]*Session),
		maxAge:    maxAge,
		ttl:       ttl,
		stopSweep: make(chan struct{}),
	}
	if sweepInterval > 0 {
		safego.Go(logger, "session-sweep", func() {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					r.Sweep()
				case <-r.stopSweep:
					return
				}
			}
		})
	}
	return r
}

// Resolve looks up an existing session by id, or creates a new one when
// sessionID is empty. It fails with invalid_session_id if the supplied id
// is not a UUID v4, session_not_found if the id is unknown, owned by a
// different client, or past its max age or TTL, and session_busy if the
// session is currently locked.
func (r *Registry) Resolve(sessionID, clientID, model string) (Resolution, error) {
	if clientID == "" {
		clientID = AnonymousClientID
	}

	if sessionID == "" {
		return r.create(clientID, model), nil
	}

	parsed, err := uuid.Parse(sessionID)
	if err != nil || parsed.Version() != 4 {
		return Resolution{}, apierr.InvalidSessionID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.ClientID != clientID {
		return Resolution{}, apierr.SessionNotFound()
	}

	now := time.Now()
	if now.Sub(s.CreatedAt) > r.maxAge || now.Sub(s.LastUsedAt) > r.ttl {
		delete(r.sessions, sessionID)
		return Resolution{}, apierr.SessionNotFound()
	}

	if s.IsActive {
		return Resolution{}, apierr.SessionBusy()
	}

	return Resolution{Action: ActionResumed, SessionID: sessionID}, nil
}

func (r *Registry) create(clientID, model string) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	if clientID == "" {
		clientID = AnonymousClientID
	}
	now := time.Now()
	id := uuid.New().String()
	r.sessions[id] = &Session{
		ID:         id,
		ClientID:   clientID,
		Model:      model,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	return Resolution{Action: ActionCreated, SessionID: id}
}

// AcquireLock flips a session's is_active flag true, failing with
// session_busy if it is already held, and updates last_used_at.
func (r *Registry) AcquireLock(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return apierr.SessionNotFound()
	}
	if s.IsActive {
		return apierr.SessionBusy()
	}
	s.IsActive = true
	s.LastUsedAt = time.Now()
	return nil
}

// ReleaseLock clears a session's is_active flag and updates last_used_at.
// Releasing an unknown session is a no-op.
func (r *Registry) ReleaseLock(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}
	s.IsActive = false
	s.LastUsedAt = time.Now()
}

// Sweep removes every idle session past its max age or TTL. Active
// sessions are skipped regardless of age.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, s := range r.sessions {
		if s.IsActive {
			continue
		}
		if now.Sub(s.CreatedAt) > r.maxAge || now.Sub(s.LastUsedAt) > r.ttl {
			delete(r.sessions, id)
		}
	}
}

// Destroy stops the periodic sweep timer and clears all state. Safe to
// call more than once.
func (r *Registry) Destroy() {
	r.sweepOnce.Do(func() {
		close(r.stopSweep)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*Session)
}

// Count returns the number of tracked sessions, for tests and diagnostics.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
