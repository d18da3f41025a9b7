package governor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome classifies a finished provider call for observability.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeNotFound Outcome = "not_found"
	OutcomeError    Outcome = "error"
)

// Call is one recorded provider call.
type Call struct {
	Provider string
	Outcome  Outcome
	Duration time.Duration
	At       time.Time
}

type fixedWindow struct {
	start time.Time
	count int
}

// Governor bounds outbound calls per provider with a fixed-window counter
// and keeps a capped ring buffer of recent outcomes. Recording is for
// observability only; it never affects admission.
type Governor struct {
	window time.Duration
	limits map[string]int

	mu      sync.Mutex
	windows map[string]*fixedWindow
	history []Call
	next    int
	filled  bool

	now func() time.Time

	calls     *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// New creates a Governor. Limits maps provider name to the per-window call
// cap; providers absent from the map are not limited. Metrics are
// registered on reg, which tests replace with a private registry.
func New(limits map[string]int, window time.Duration, historySize int, reg prometheus.Registerer) *Governor {
	g := &Governor{
		window:  window,
		limits:  limits,
		windows: make(map[string]*fixedWindow),
		history: make([]Call, historySize),
		now:     time.Now,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelnote_provider_calls_total",
			Help: "Provider calls by outcome.",
		}, []string{"provider", "outcome"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelnote_provider_rejected_total",
			Help: "Provider calls rejected by the rate governor.",
		}, []string{"provider"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parcelnote_provider_call_seconds",
			Help:    "Provider call duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	if reg != nil {
		reg.MustRegister(g.calls, g.rejected, g.durations)
	}

	return g
}

// TryAcquire reports whether one more call to the provider is allowed in
// the current window. The caller decides what to do on false; the governor
// never queues or retries on its own.
func (g *Governor) TryAcquire(provider string) bool {
	limit, limited := g.limits[provider]
	if !limited {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	w, ok := g.windows[provider]
	if !ok || now.Sub(w.start) >= g.window {
		w = &fixedWindow{start: now}
		g.windows[provider] = w
	}

	if w.count >= limit {
		g.rejected.WithLabelValues(provider).Inc()
		return false
	}

	w.count++
	return true
}

// Record stores a finished call in the ring buffer and updates metrics.
func (g *Governor) Record(provider string, outcome Outcome, duration time.Duration) {
	g.calls.WithLabelValues(provider, string(outcome)).Inc()
	g.durations.WithLabelValues(provider).Observe(duration.Seconds())

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.history) == 0 {
		return
	}
	g.history[g.next] = Call{
		Provider: provider,
		Outcome:  outcome,
		Duration: duration,
		At:       g.now(),
	}
	g.next++
	if g.next == len(g.history) {
		g.next = 0
		g.filled = true
	}
}

// History returns recorded calls, oldest first.
func (g *Governor) History() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.filled {
		out := make([]Call, g.next)
		copy(out, g.history[:g.next])
		return out
	}

	out := make([]Call, 0, len(g.history))
	out = append(out, g.history[g.next:]...)
	out = append(out, g.history[:g.next]...)
	return out
}
