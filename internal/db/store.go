package db

import (
	"context"
	"fmt"
	"time"

	"lotwatch/internal/config"
	"lotwatch/internal/models"
)

// Store is the shared persistence every component writes through. Lookups
// return nil, nil when nothing matches.
type Store interface {
	// InsertItem stores item unless (source_site, canonical_url) exists; the
	// losing writer gets the existing id and created=false.
	InsertItem(ctx context.Context, item *models.Item) (id int64, created bool, err error)
	// FindItemByURL matches url against the canonical or the original URL.
	// An empty site matches any site.
	FindItemByURL(ctx context.Context, site, url string) (*models.Item, error)
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	// UpdateItemValue sets current_value unless it already equals value.
	// bid_count only moves forward.
	UpdateItemValue(ctx context.Context, id int64, value string, bidCount int, at time.Time) (bool, error)
	// UpdateItemLifecycle stores the latest lot status and auction end.
	// It reports false when both already hold those values.
	UpdateItemLifecycle(ctx context.Context, id int64, status, auctionEnd string) (bool, error)
	// ListMonitorCandidates returns items not known to be sold or closed.
	ListMonitorCandidates(ctx context.Context) ([]models.Item, error)
	// ListItems returns the items of site (every site when empty) by id,
	// at most limit of them when limit > 0.
	ListItems(ctx context.Context, site string, limit int) ([]models.Item, error)
	AppendObservation(ctx context.Context, obs models.ValueObservation) error
	ListObservations(ctx context.Context, itemID int64) ([]models.ValueObservation, error)
	SaveSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	Close() error
}

// Open connects the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.DBConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "postgres":
		return NewSQLStore(ctx, cfg.Driver, cfg.Connection)
	case "mongo":
		return NewMongoDB(ctx, cfg)
	}
	return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
}

var closedStatuses = []string{models.LotSold, models.LotClosed}
