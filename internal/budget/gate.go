// Package budget enforces per-call, daily and monthly spend limits on
// model-costing operations.
package budget

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Miosa-osa/OSA-sub005/internal/bus"
	"github.com/Miosa-osa/OSA-sub005/pkg/protocol"
)

// ErrBudgetExceeded is returned by Charge when recording would breach a limit.
var ErrBudgetExceeded = errors.New("budget exceeded")

const (
	warnUtilisation  = 0.80
	defaultMaxLedger = 10000
	defaultWindow    = 35 * 24 * time.Hour
)

// Limits are USD caps. Zero means unlimited for that dimension.
type Limits struct {
	PerCall float64
	Daily   float64
	Monthly float64
}

// Charge is one ledger entry.
type Charge struct {
	Timestamp     time.Time `json:"timestamp"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	TokensIn      int       `json:"tokens_in"`
	TokensOut     int       `json:"tokens_out"`
	EstimatedCost float64   `json:"estimated_cost"`
}

// Verdict is the outcome of a budget check.
type Verdict int

const (
	Allow Verdict = iota
	Warn          // allowed, but ≥80% of a window limit
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Warn:
		return "warn"
	default:
		return "deny"
	}
}

// Gate tracks spend against the limits with UTC calendar rollover. All
// methods are safe for concurrent use.
type Gate struct {
	mu     sync.Mutex
	limits Limits

	dailySpent   float64
	monthlySpent float64
	day          string // UTC YYYY-MM-DD of the daily counter
	month        string // UTC YYYY-MM of the monthly counter

	ledger    []Charge
	maxLedger int
	window    time.Duration

	store  *Ledger // optional sqlite persistence
	events *bus.Bus
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithBus publishes budget_warning/budget_exceeded events.
func WithBus(b *bus.Bus) Option { return func(g *Gate) { g.events = b } }

// WithLedgerStore persists charges and rehydrates today's and this month's
// counters on startup.
func WithLedgerStore(s *Ledger) Option { return func(g *Gate) { g.store = s } }

// WithClock overrides time.Now, for rollover tests.
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

func NewGate(limits Limits, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		limits:    limits,
		maxLedger: defaultMaxLedger,
		window:    defaultWindow,
		logger:    logger.With("component", "budget"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	now := g.now().UTC()
	g.day = now.Format("2006-01-02")
	g.month = now.Format("2006-01")
	if g.store != nil {
		daily, monthly, err := g.store.WindowTotals(now)
		if err != nil {
			g.logger.Warn("budget ledger rehydrate failed", "error", err)
		} else {
			g.dailySpent = daily
			g.monthlySpent = monthly
		}
	}
	return g
}

// Check evaluates an estimated cost against all limits for the session.
// Deny publishes budget_exceeded; utilisation ≥80% on any window publishes
// budget_warning. Check never mutates the counters.
func (g *Gate) Check(sessionID string, estimated float64) Verdict {
	g.mu.Lock()
	g.rolloverLocked()

	v := Allow
	switch {
	case g.limits.PerCall > 0 && estimated > g.limits.PerCall:
		v = Deny
	case g.limits.Daily > 0 && g.dailySpent+estimated > g.limits.Daily:
		v = Deny
	case g.limits.Monthly > 0 && g.monthlySpent+estimated > g.limits.Monthly:
		v = Deny
	case g.utilisationLocked(estimated) >= warnUtilisation:
		v = Warn
	}
	daily, monthly := g.dailySpent, g.monthlySpent
	g.mu.Unlock()

	switch v {
	case Deny:
		g.logger.Warn("budget.denied",
			"session_id", sessionID, "estimated", estimated,
			"daily_spent", daily, "monthly_spent", monthly)
		g.publish(protocol.EventBudgetExceeded, sessionID, estimated, daily, monthly)
	case Warn:
		g.publish(protocol.EventBudgetWarning, sessionID, estimated, daily, monthly)
	}
	return v
}

// Record appends a charge to the ledger and advances the counters. It fails
// with ErrBudgetExceeded rather than let a successful charge breach a limit.
func (g *Gate) Record(c Charge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	if g.limits.Daily > 0 && g.dailySpent+c.EstimatedCost > g.limits.Daily {
		return ErrBudgetExceeded
	}
	if g.limits.Monthly > 0 && g.monthlySpent+c.EstimatedCost > g.limits.Monthly {
		return ErrBudgetExceeded
	}

	if c.Timestamp.IsZero() {
		c.Timestamp = g.now().UTC()
	}
	g.dailySpent += c.EstimatedCost
	g.monthlySpent += c.EstimatedCost

	g.ledger = append(g.ledger, c)
	g.pruneLocked()

	if g.store != nil {
		if err := g.store.Append(c); err != nil {
			g.logger.Warn("budget ledger append failed", "error", err)
		}
	}
	return nil
}

// Snapshot returns the current counters for status surfaces.
func (g *Gate) Snapshot() (dailySpent, monthlySpent float64, limits Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.dailySpent, g.monthlySpent, g.limits
}

// Ledger returns a copy of the in-memory ledger, newest last.
func (g *Gate) LedgerEntries() []Charge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Charge(nil), g.ledger...)
}

func (g *Gate) rolloverLocked() {
	now := g.now().UTC()
	if day := now.Format("2006-01-02"); day != g.day {
		g.day = day
		g.dailySpent = 0
	}
	if month := now.Format("2006-01"); month != g.month {
		g.month = month
		g.monthlySpent = 0
	}
}

// utilisationLocked returns the worst-case utilisation across the daily and
// monthly windows after the proposed spend.
func (g *Gate) utilisationLocked(estimated float64) float64 {
	u := 0.0
	if g.limits.Daily > 0 {
		if d := (g.dailySpent + estimated) / g.limits.Daily; d > u {
			u = d
		}
	}
	if g.limits.Monthly > 0 {
		if m := (g.monthlySpent + estimated) / g.limits.Monthly; m > u {
			u = m
		}
	}
	return u
}

func (g *Gate) pruneLocked() {
	cutoff := g.now().UTC().Add(-g.window)
	i := 0
	for i < len(g.ledger) && g.ledger[i].Timestamp.Before(cutoff) {
		i++
	}
	g.ledger = g.ledger[i:]
	if len(g.ledger) > g.maxLedger {
		g.ledger = g.ledger[len(g.ledger)-g.maxLedger:]
	}
}

func (g *Gate) publish(eventType, sessionID string, estimated, daily, monthly float64) {
	if g.events == nil {
		return
	}
	g.events.Publish(bus.Event{
		Type:      eventType,
		SessionID: sessionID,
		Payload: map[string]any{
			"estimated_cost": estimated,
			"daily_spent":    daily,
			"monthly_spent":  monthly,
			"daily_limit":    g.limits.Daily,
			"monthly_limit":  g.limits.Monthly,
		},
	})
}
