package governance

import (
	"fmt"
	"log/slog"

	"github.com/polisai/decodeguard/pkg/domain"
)

// Terminator disconnects a channel and guarantees its accounting record is gone
// afterwards, whatever the host's shutdown does.
type Terminator struct {
	table   *ConnectionTable
	logger  *slog.Logger
	metrics *Metrics
}

// NewTerminator creates a terminator that forgets connections in table.
func NewTerminator(table *ConnectionTable, logger *slog.Logger, metrics *Metrics) *Terminator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Terminator{table: table, logger: logger, metrics: metrics}
}

// Terminate asks the host to shut ch down with reason. Shutdown errors and
// panics are logged and swallowed; whatever record the connection has is
// removed in every case.
func (t *Terminator) Terminate(ch domain.Channel, reason string) {
	if ch == nil {
		return
	}
	id := ch.ID()

	defer t.table.Forget(id)
	t.shutdown(ch, id, reason)
}

// terminate is the governor's path. It only drops rec, so a fresh record
// created for the same identity while Shutdown runs keeps its cost.
func (t *Terminator) terminate(ch domain.Channel, reason string, rec *record) {
	id := ch.ID()

	defer t.table.remove(id, rec)
	t.shutdown(ch, id, reason)
}

func (t *Terminator) shutdown(ch domain.Channel, id domain.ConnectionID, reason string) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.RecordShutdownFailure()
			t.logger.Error("Connection shutdown panicked",
				"connection_id", id.String(),
				"panic", fmt.Sprint(r))
		}
	}()

	if err := ch.Shutdown(reason); err != nil {
		t.metrics.RecordShutdownFailure()
		t.logger.Warn("Connection shutdown failed",
			"connection_id", id.String(),
			"reason", reason,
			"error", err)
	}
}
