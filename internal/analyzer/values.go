package analyzer

import (
	"strconv"
	"sync"

	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

// ValueKey identifies one value-table row: one outcome of one matched pair
// at one bookmaker. The line is formatted with the shortest round-trip
// representation so 0.5 and 0.50 collapse to the same row.
func ValueKey(bookmaker, otherID, outcome string, line float64) string {
	return bookmaker + "_" + otherID + "_" + outcome + "_" + strconv.FormatFloat(line, 'g', -1, 64)
}

// ValueTable is the mutable set of current value rows. Writes preserve
// first-seen times and maintain the positive-yield streak marker; reads get
// a copied map.
type ValueTable struct {
	mu     sync.Mutex
	values map[string]*models.Value
}

func NewValueTable() *ValueTable {
	return &ValueTable{values: make(map[string]*models.Value)}
}

// Apply inserts or refreshes one row. FirstSeen survives refreshes.
// FirstPositive is set when the yield turns positive with no streak running
// and cleared whenever the yield drops to zero or below.
func (t *ValueTable) Apply(fresh *models.Value, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ValueKey(fresh.Bookmaker, fresh.OtherID, fresh.Outcome, fresh.Line)

	prev, ok := t.values[key]
	if ok {
		fresh.FirstSeen = prev.FirstSeen
		fresh.FirstPositive = prev.FirstPositive
	} else {
		fresh.FirstSeen = now
	}

	if fresh.Yield > 0 {
		if fresh.FirstPositive == nil {
			start := now
			fresh.FirstPositive = &start
		}
	} else {
		fresh.FirstPositive = nil
	}

	fresh.LastUpdate = now
	t.values[key] = fresh
}

// DeleteByEvent drops every row derived from one event of one bookmaker.
func (t *ValueTable) DeleteByEvent(bookmaker, otherID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, v := range t.values {
		if v.Bookmaker == bookmaker && v.OtherID == otherID {
			delete(t.values, key)
		}
	}
}

// DeleteBySourceRef drops every row one bookmaker derived from one reference
// event.
func (t *ValueTable) DeleteBySourceRef(bookmaker, refID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, v := range t.values {
		if v.Bookmaker == bookmaker && v.RefID == refID {
			delete(t.values, key)
		}
	}
}

// DeleteByRefID drops every row anchored to one reference event, across all
// bookmakers.
func (t *ValueTable) DeleteByRefID(refID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, v := range t.values {
		if v.RefID == refID {
			delete(t.values, key)
		}
	}
}

// DeleteKeys removes an explicit set of rows.
func (t *ValueTable) DeleteKeys(keys []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, key := range keys {
		delete(t.values, key)
	}
}

// EvictStale drops rows not refreshed within their own phase's max age.
func (t *ValueTable) EvictStale(now int64, maxAge func(phase string) int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, v := range t.values {
		if now-v.LastUpdate > maxAge(v.Phase) {
			delete(t.values, key)
		}
	}
}

// Snapshot returns a copied map of the current rows. Row pointers are
// shared; rows are replaced, never mutated, after insertion.
func (t *ValueTable) Snapshot() map[string]*models.Value {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]*models.Value, len(t.values))
	for key, v := range t.values {
		snapshot[key] = v
	}
	return snapshot
}

// Len reports the current row count.
func (t *ValueTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values)
}
