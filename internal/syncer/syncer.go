// Package syncer writes detected value changes into the shared store.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"lotwatch/internal/db"
	"lotwatch/internal/models"
	"lotwatch/internal/money"
)

var ErrNotFound = errors.New("item not found")

// Ref identifies a stored item by id, or by site and URL when the id is
// unknown.
type Ref struct {
	ID   int64
	Site string
	URL  string
}

type Syncer struct {
	store db.Store
}

func New(store db.Store) *Syncer {
	return &Syncer{store: store}
}

func (s *Syncer) resolve(ctx context.Context, ref Ref) (*models.Item, error) {
	if ref.ID != 0 {
		return s.store.GetItem(ctx, ref.ID)
	}
	return s.store.FindItemByURL(ctx, ref.Site, ref.URL)
}

// Commit applies obs to the stored item. It is a no-op, reported as false,
// when the row already holds the value; so replaying an observation writes
// nothing twice, and replaying one whose commit failed completes it.
func (s *Syncer) Commit(ctx context.Context, ref Ref, obs models.ValueObservation) (models.Change, bool, error) {
	item, err := s.resolve(ctx, ref)
	if err != nil {
		return models.Change{}, false, fmt.Errorf("resolve item: %w", err)
	}
	if item == nil {
		return models.Change{}, false, fmt.Errorf("commit %+v: %w", ref, ErrNotFound)
	}

	old := item.EffectiveValue()
	if money.Equal(old, obs.Value) {
		return models.Change{}, false, nil
	}

	// history before value: the append is idempotent per (item, sequence)
	// and a failed commit must leave current_value for the retry
	obs.ItemID = item.ID
	if err := s.store.AppendObservation(ctx, obs); err != nil {
		return models.Change{}, false, err
	}

	updated, err := s.store.UpdateItemValue(ctx, item.ID, obs.Value, obs.BidSequence, obs.ObservedAt)
	if err != nil {
		return models.Change{}, false, err
	}
	if !updated {
		// another writer got there first
		return models.Change{}, false, nil
	}

	return models.Change{
		ItemID:     item.ID,
		SourceSite: item.SourceSite,
		URL:        item.URL(),
		OldValue:   old,
		NewValue:   obs.Value,
		BidCount:   max(item.BidCount, obs.BidSequence),
		ObservedAt: obs.ObservedAt,
	}, true, nil
}
