package register

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Vintech-code/Vapeshop/internal/audit"
	"github.com/Vintech-code/Vapeshop/internal/cart"
)

// ErrSessionNotFound is returned for unknown or expired register sessions.
var ErrSessionNotFound = errors.New("register session not found")

// DefaultSessionTTL expires carts left idle for this long.
const DefaultSessionTTL = 2 * time.Hour

// Entry is a register session: the cart plus its activity trail. Access goes
// through Store.With, which serializes operations on one session.
type Entry struct {
	Cashier string
	Cart    *cart.Session
	Trail   *audit.Trail

	mu      sync.Mutex
	touched time.Time
}

// Store keeps register sessions in memory. Nothing is persisted; an expired
// or abandoned cart is simply dropped.
type Store struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Entry
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultSessionTTL
	}
	return s.TTL
}

// Create opens a new session for cashier.
func (s *Store) Create(cashier string) (uuid.UUID, *Entry) {
	now := s.now()
	e := &Entry{
		Cashier: strings.TrimSpace(cashier),
		Cart:    cart.NewSession(now),
		Trail:   &audit.Trail{Logger: s.Logger, Now: s.Now},
		touched: now,
	}
	s.mu.Lock()
	if s.sessions == nil {
		s.sessions = make(map[uuid.UUID]*Entry)
	}
	s.sessions[e.Cart.ID] = e
	s.mu.Unlock()
	return e.Cart.ID, e
}

// With runs fn while holding the session's lock and refreshes its expiry.
func (s *Store) With(id uuid.UUID, fn func(*Entry) error) error {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.expired(e, s.now()) {
		return ErrSessionNotFound
	}
	e.touched = s.now()
	return fn(e)
}

// Delete abandons a session. Unknown ids are ignored.
func (s *Store) Delete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL and reports how many.
// Sessions busy in With are skipped.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.sessions {
		if !e.mu.TryLock() {
			continue
		}
		if s.expired(e, now) {
			delete(s.sessions, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.Logger.Info().Int("sessions", n).Msg("register_sessions_expired")
			}
		}
	}
}

func (s *Store) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.touched) > s.ttl()
}
