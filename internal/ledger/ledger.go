// Package ledger keeps the in-process value history of monitored items.
package ledger

import (
	"sync"
	"time"

	"lotwatch/internal/models"
	"lotwatch/internal/money"
)

// History is the ordered observation log of one item.
type History struct {
	mu      sync.Mutex
	itemID  int64
	entries []models.ValueObservation
	lastSeq int
}

// Seed records the value the store already holds so the first poll does not
// report it as a change. A seeded history is left untouched.
func (h *History) Seed(value string, bidCount int, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) > 0 || value == "" || value == models.Unknown {
		return
	}
	h.entries = append(h.entries, models.ValueObservation{
		ItemID:      h.itemID,
		Value:       value,
		BidSequence: bidCount,
		ObservedAt:  at,
	})
	h.lastSeq = bidCount
}

// Record appends value unless it repeats the last entry. A positive
// sourceCount is the bid count the page showed; the stored sequence is never
// lower than the previous one plus one, so it stays strictly increasing even
// when polls miss bids.
func (h *History) Record(value string, sourceCount int, at time.Time) (models.ValueObservation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.entries); n > 0 && money.Equal(h.entries[n-1].Value, value) {
		if sourceCount > h.lastSeq {
			h.lastSeq = sourceCount
		}
		return models.ValueObservation{}, false
	}

	seq := h.lastSeq + 1
	if sourceCount > seq {
		seq = sourceCount
	}
	h.lastSeq = seq

	obs := models.ValueObservation{ItemID: h.itemID, Value: value, BidSequence: seq, ObservedAt: at}
	h.entries = append(h.entries, obs)
	return obs, true
}

func (h *History) Last() (models.ValueObservation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return models.ValueObservation{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Entries returns a copy of the log.
func (h *History) Entries() []models.ValueObservation {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.ValueObservation, len(h.entries))
	copy(out, h.entries)
	return out
}

// Ledger maps items to their histories. The map lock is held only to look
// up or create a history; appends lock the history itself.
type Ledger struct {
	mu        sync.Mutex
	histories map[int64]*History
}

func New() *Ledger {
	return &Ledger{histories: make(map[int64]*History)}
}

func (l *Ledger) For(itemID int64) *History {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.histories[itemID]
	if !ok {
		h = &History{itemID: itemID}
		l.histories[itemID] = h
	}
	return h
}

// Forget drops an item's history once nothing monitors it.
func (l *Ledger) Forget(itemID int64) {
	l.mu.Lock()
	delete(l.histories, itemID)
	l.mu.Unlock()
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.histories)
}
