package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Action names recorded on the cashier activity trail.
const (
	ActionItemAdded           = "item_added"
	ActionItemRemoved         = "item_removed"
	ActionQuantityChanged     = "quantity_changed"
	ActionTransactionComplete = "transaction_complete"
	ActionTransactionFailed   = "transaction_failed"
	ActionLowStock            = "low_stock"
)

// DefaultMaxEntries bounds a trail when Max is unset.
const DefaultMaxEntries = 200

// Entry is one recorded register action.
type Entry struct {
	User   string    `json:"user"`
	Action string    `json:"action"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// Recorder accepts activity entries.
type Recorder interface {
	Record(ctx context.Context, user, action, detail string)
}

// Trail keeps the most recent entries of a register session and mirrors each
// one to the log. The zero value is usable.
type Trail struct {
	Max    int
	Logger zerolog.Logger
	Now    func() time.Time

	mu      sync.Mutex
	entries []Entry
}

// Record appends an entry, dropping the oldest once Max is reached.
func (t *Trail) Record(ctx context.Context, user, action, detail string) {
	if t == nil {
		return
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	user = strings.TrimSpace(user)
	if user == "" {
		user = "unknown"
	}
	e := Entry{User: user, Action: action, Detail: detail, At: now().UTC()}

	t.mu.Lock()
	limit := t.Max
	if limit <= 0 {
		limit = DefaultMaxEntries
	}
	t.entries = append(t.entries, e)
	if over := len(t.entries) - limit; over > 0 {
		t.entries = append([]Entry(nil), t.entries[over:]...)
	}
	t.mu.Unlock()

	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &t.Logger
	}
	logger.Info().Str("user", e.User).Str("action", e.Action).Str("detail", e.Detail).Msg("register_activity")
}

// Entries returns the recorded entries, newest first.
func (t *Trail) Entries() []Entry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[len(t.entries)-1-i] = e
	}
	return out
}

// Len reports the number of retained entries.
func (t *Trail) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
