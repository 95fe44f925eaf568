package governance

import (
	"sync"
	"time"

	"github.com/polisai/decodeguard/pkg/domain"
)

// record is the accounting state of one connection. A dead record has been
// removed from the table and must not receive further cost.
type record struct {
	mu            sync.Mutex
	accumulatedMs float64
	windowStart   time.Time
	dead          bool
}

// RecordSnapshot is a point-in-time copy of a connection's accounting.
type RecordSnapshot struct {
	AccumulatedMs float64   `json:"accumulatedMs"`
	WindowStart   time.Time `json:"windowStart"`
}

// ConnectionTable maps connection identities to accounting records. The table
// lock only guards lookup, insert and delete; accounting happens under each
// record's own lock so unrelated connections do not contend.
type ConnectionTable struct {
	mu      sync.Mutex
	records map[domain.ConnectionID]*record
}

// NewConnectionTable creates an empty table.
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{records: make(map[domain.ConnectionID]*record)}
}

// acquire returns the record for id, creating one whose window starts at now.
func (t *ConnectionTable) acquire(id domain.ConnectionID, now time.Time) (*record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[id]; ok {
		return rec, false
	}
	rec := &record{windowStart: now}
	t.records[id] = rec
	return rec, true
}

// remove deletes id only while it still maps to rec.
func (t *ConnectionTable) remove(id domain.ConnectionID, rec *record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.records[id]; ok && current == rec {
		delete(t.records, id)
	}
}

// Forget removes whatever record id currently has. It reports whether one existed.
func (t *ConnectionTable) Forget(id domain.ConnectionID) bool {
	t.mu.Lock()
	rec, ok := t.records[id]
	delete(t.records, id)
	t.mu.Unlock()

	if ok {
		rec.mu.Lock()
		rec.dead = true
		rec.accumulatedMs = 0
		rec.mu.Unlock()
	}
	return ok
}

// Clear drops every record.
func (t *ConnectionTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rec := range t.records {
		rec.mu.Lock()
		rec.dead = true
		rec.accumulatedMs = 0
		rec.mu.Unlock()
	}
	t.records = make(map[domain.ConnectionID]*record)
}

// Len returns the number of tracked connections.
func (t *ConnectionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Snapshot returns a copy of id's accounting, if tracked.
func (t *ConnectionTable) Snapshot(id domain.ConnectionID) (RecordSnapshot, bool) {
	t.mu.Lock()
	rec, ok := t.records[id]
	t.mu.Unlock()
	if !ok {
		return RecordSnapshot{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.dead {
		return RecordSnapshot{}, false
	}
	return RecordSnapshot{AccumulatedMs: rec.accumulatedMs, WindowStart: rec.windowStart}, true
}
