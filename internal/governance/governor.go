package governance

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/polisai/decodeguard/pkg/domain"
	"github.com/polisai/decodeguard/pkg/telemetry"
)

const (
	// Window is the length of a connection's accounting window.
	Window = time.Second
	// ThresholdMs is the accumulated decode time, in milliseconds, at which a
	// connection is terminated.
	ThresholdMs = 1000.0
	// TerminationReason is the reason handed to the host when disconnecting.
	TerminationReason = "exceeded net processing time"
)

// Trampoline gives access to the decode implementation that was intercepted.
// It reports false once the interception has been torn down.
type Trampoline interface {
	Original() (domain.DecodeFunc, bool)
}

// GovernorConfig wires a Governor. Only Trampoline is required.
type GovernorConfig struct {
	Trampoline Trampoline
	Table      *ConnectionTable
	Clock      clock.Clock
	Logger     *slog.Logger
	Metrics    *Metrics
}

// GovernorStats is a snapshot of governor activity.
type GovernorStats struct {
	TrackedConnections int   `json:"trackedConnections"`
	Passed             int64 `json:"passed"`
	Terminations       int64 `json:"terminations"`
	FailClosed         int64 `json:"failClosed"`
}

// Governor is the detour installed on the decode entry point.
type Governor struct {
	trampoline Trampoline
	table      *ConnectionTable
	terminator *Terminator
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *Metrics

	passed       atomic.Int64
	terminations atomic.Int64
	failClosed   atomic.Int64
}

// NewGovernor creates a governor from cfg, filling in defaults.
func NewGovernor(cfg GovernorConfig) *Governor {
	if cfg.Table == nil {
		cfg.Table = NewConnectionTable()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Governor{
		trampoline: cfg.Trampoline,
		table:      cfg.Table,
		terminator: NewTerminator(cfg.Table, cfg.Logger, cfg.Metrics),
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Decode runs the original decode for ch and msg, charges its wall time to the
// connection and terminates the connection once its window total reaches
// ThresholdMs. It returns the original result unless the call was blocked.
func (g *Governor) Decode(ch domain.Channel, msg []byte) bool {
	if ch == nil {
		return g.reject("", "missing channel")
	}
	id := ch.ID()
	if id.IsZero() {
		return g.reject(id, "missing connection identity")
	}

	var original domain.DecodeFunc
	ok := false
	if g.trampoline != nil {
		original, ok = g.trampoline.Original()
	}
	if !ok || original == nil {
		return g.reject(id, "original decode unavailable")
	}

	start := g.clock.Now()
	result := original(ch, msg)
	end := g.clock.Now()
	cost := end.Sub(start)

	accumulated, removed := g.charge(id, end, cost)
	if removed == nil {
		g.passed.Add(1)
		g.metrics.RecordDecode(domain.DecisionPass, cost)
		return result
	}

	g.terminations.Add(1)
	g.metrics.RecordDecode(domain.DecisionBlocked, cost)
	g.metrics.RecordTermination()
	g.logger.Warn("Terminating connection",
		"connection_id", id.String(),
		"accumulated_ms", accumulated,
		"reason", TerminationReason)
	telemetry.RecordTermination(context.Background(), telemetry.TerminationEvent{
		ConnectionID:  id.String(),
		AccumulatedMs: accumulated,
		Reason:        TerminationReason,
	})

	g.terminator.terminate(ch, TerminationReason, removed)
	g.metrics.SetTrackedConnections(g.table.Len())
	return false
}

// charge adds cost to id's window ending at end and reports the window total.
// When the threshold is reached it also returns the record, already reset and
// dropped from the table; otherwise the record is nil.
func (g *Governor) charge(id domain.ConnectionID, end time.Time, cost time.Duration) (float64, *record) {
	costMs := float64(cost) / float64(time.Millisecond)

	for {
		rec, created := g.table.acquire(id, end)
		if created {
			g.metrics.SetTrackedConnections(g.table.Len())
		}

		rec.mu.Lock()
		if rec.dead {
			// Removed between lookup and lock; retry against the live entry.
			rec.mu.Unlock()
			continue
		}

		if end.Sub(rec.windowStart) >= Window {
			rec.accumulatedMs = 0
			rec.windowStart = end
			g.metrics.RecordWindowReset()
		}
		rec.accumulatedMs += costMs
		total := rec.accumulatedMs

		if total < ThresholdMs {
			rec.mu.Unlock()
			return total, nil
		}

		rec.accumulatedMs = 0
		rec.windowStart = end
		rec.dead = true
		rec.mu.Unlock()

		g.table.remove(id, rec)
		return total, rec
	}
}

func (g *Governor) reject(id domain.ConnectionID, cause string) bool {
	g.failClosed.Add(1)
	g.metrics.RecordDecode(domain.DecisionFailClosed, 0)
	g.logger.Debug("Rejecting decode call", "connection_id", id.String(), "cause", cause)
	telemetry.RecordFailClosed(context.Background(), cause)
	return false
}

// Table returns the connection table the governor charges.
func (g *Governor) Table() *ConnectionTable {
	return g.table
}

// Reset drops all accounting state.
func (g *Governor) Reset() {
	g.table.Clear()
	g.metrics.SetTrackedConnections(0)
}

// Stats returns counters accumulated since the governor was created.
func (g *Governor) Stats() GovernorStats {
	return GovernorStats{
		TrackedConnections: g.table.Len(),
		Passed:             g.passed.Load(),
		Terminations:       g.terminations.Load(),
		FailClosed:         g.failClosed.Load(),
	}
}
