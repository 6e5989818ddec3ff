package resilience

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var breakerNopLogger = zerolog.Nop()

// ErrOpenCircuit is returned when the breaker refuses a call to the backend.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	Closed State = iota
	Open
	// HalfOpen admits one trial call at a time.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards one backend endpoint. It remembers the outcome of the last
// minRequests calls and opens when the share of failures among them reaches
// failureRatio. Once openFor has passed a single trial call is let through;
// its outcome closes or reopens the breaker.
type Breaker struct {
	mu       sync.Mutex
	state    State
	outcomes []bool
	next     int
	seen     int
	failed   int
	ratio    float64
	openFor  time.Duration
	openedAt time.Time
	trialOut bool
	target   string
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewBreaker constructs a closed breaker over a window of minRequests calls.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if failureRatio > 1 {
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		outcomes: make([]bool, minRequests),
		ratio:    failureRatio,
		openFor:  openFor,
		now:      time.Now,
	}
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. Every granted call must be
// followed by Report.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
	}
	if b.state == HalfOpen {
		if b.trialOut {
			return false
		}
		b.trialOut = true
	}
	return true
}

// Report records the outcome of a call granted by Allow.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	if b.seen == len(b.outcomes) {
		if b.outcomes[b.next] {
			b.failed--
		}
	} else {
		b.seen++
	}
	b.outcomes[b.next] = !success
	if !success {
		b.failed++
	}
	b.next = (b.next + 1) % len(b.outcomes)

	if b.seen == len(b.outcomes) && float64(b.failed) >= b.ratio*float64(b.seen) {
		b.moveLocked(ctx, Open)
	}
}

// WithTarget sets the label used for metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.gaugeLocked()
	return b
}

// WithLogger configures the logger used for transition events.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = &logger
	return b
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	b.state = next
	b.trialOut = false
	clear(b.outcomes)
	b.next, b.seen, b.failed = 0, 0, 0
	if next == Open {
		b.openedAt = b.now()
	}
	b.gaugeLocked()

	label := b.label()
	BreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()
	if next == Open {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}
	evt := b.loggerFor(ctx).Warn().Str("target", label).Str("from_state", prev.String()).Str("to_state", next.String())
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		evt = evt.Str("trace_id", span.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) gaugeLocked() {
	BreakerState.WithLabelValues(b.label()).Set(float64(b.state))
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "backend"
	}
	return b.target
}

func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	if b.logger == nil {
		return &breakerNopLogger
	}
	return b.logger
}

// Breakers hands out one breaker per backend endpoint, so failing category
// reads do not stop product reads or stock writes. The zero value uses the
// NewBreaker defaults.
type Breakers struct {
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration

	// Target prefixes each breaker label, e.g. "shop-backend/products".
	Target string
	Logger *zerolog.Logger

	mu  sync.Mutex
	set map[string]*Breaker
}

// For returns the breaker guarding endpoint, creating it on first use.
func (bs *Breakers) For(endpoint string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok := bs.set[endpoint]; ok {
		return b
	}
	if bs.set == nil {
		bs.set = make(map[string]*Breaker)
	}
	b := NewBreaker(bs.MinRequests, bs.FailureRatio, bs.OpenFor)
	if bs.Target != "" {
		b.WithTarget(bs.Target + "/" + endpoint)
	} else {
		b.WithTarget(endpoint)
	}
	if bs.Logger != nil {
		b.WithLogger(*bs.Logger)
	}
	bs.set[endpoint] = b
	return b
}

// Endpoint names the backend resource a request path addresses: the last
// segment that is not a numeric id. "/api/products/12" is "products".
func Endpoint(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		s := segments[i]
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			continue
		}
		return s
	}
	return "root"
}
