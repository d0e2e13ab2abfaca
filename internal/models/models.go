package models

import "time"

// Unknown marks a field that no extraction strategy could fill.
const Unknown = "unknown"

type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhaseActive    Phase = "active"
	PhaseFinished  Phase = "finished"
	PhaseUnknown   Phase = "unknown"
)

// Lot statuses as normalized from page text.
const (
	LotSold      = "sold"
	LotClosed    = "closed"
	LotReserved  = "reserved"
	LotAvailable = "available"
)

// Item is a single lot listed on an auction catalog site.
type Item struct {
	ID             int64  `bson:"_id" json:"id"`
	SourceSite     string `bson:"source_site" json:"source_site"`
	CanonicalURL   string `bson:"canonical_url" json:"canonical_url"`
	OriginalURL    string `bson:"original_url,omitempty" json:"original_url,omitempty"`
	RedirectedSite string `bson:"redirected_site,omitempty" json:"redirected_site,omitempty"`

	Title       string `bson:"title" json:"title"`
	Description string `bson:"description" json:"description"`
	Artist      string `bson:"artist" json:"artist"`
	LotNumber   string `bson:"lot_number" json:"lot_number"`
	Category    string `bson:"category" json:"category"`
	Auctioneer  string `bson:"auctioneer" json:"auctioneer"`
	Location    string `bson:"location" json:"location"`
	VisitCount  string `bson:"visit_count" json:"visit_count"`
	LotStatus   string `bson:"lot_status" json:"lot_status"`

	InitialValue string  `bson:"initial_value" json:"initial_value"`
	CurrentValue *string `bson:"current_value,omitempty" json:"current_value,omitempty"`
	BidCount     int     `bson:"bid_count" json:"bid_count"`

	AuctionStart   string     `bson:"auction_start" json:"auction_start"`
	AuctionEnd     string     `bson:"auction_end" json:"auction_end"`
	LastObservedAt *time.Time `bson:"last_observed_at,omitempty" json:"last_observed_at,omitempty"`
	CollectedAt    time.Time  `bson:"collected_at" json:"collected_at"`

	SessionID string `bson:"session_id,omitempty" json:"session_id,omitempty"`
	Page      int    `bson:"page" json:"page"`
}

// EffectiveValue is the last value known to the store: the current value
// once a change was seen, the initial value before that.
func (i *Item) EffectiveValue() string {
	if i.CurrentValue != nil {
		return *i.CurrentValue
	}
	return i.InitialValue
}

// URL returns the address monitoring should poll.
func (i *Item) URL() string {
	if i.CanonicalURL != "" {
		return i.CanonicalURL
	}
	return i.OriginalURL
}

type ValueObservation struct {
	ItemID      int64     `bson:"item_id" json:"item_id"`
	Value       string    `bson:"value" json:"value"`
	BidSequence int       `bson:"bid_sequence" json:"bid_sequence"`
	ObservedAt  time.Time `bson:"observed_at" json:"observed_at"`
}

// Change is published for every value movement the monitor commits.
type Change struct {
	ItemID     int64     `json:"item_id"`
	SourceSite string    `json:"source_site"`
	URL        string    `json:"url"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	BidCount   int       `json:"bid_count"`
	ObservedAt time.Time `json:"observed_at"`
}

type SessionStatus string

const (
	SessionRunning SessionStatus = "running"
	SessionDone    SessionStatus = "done"
	SessionFailed  SessionStatus = "failed"
)

// Session records one discovery run over a source.
type Session struct {
	ID           string        `bson:"_id" json:"id"`
	Source       string        `bson:"source" json:"source"`
	Status       SessionStatus `bson:"status" json:"status"`
	StartedAt    time.Time     `bson:"started_at" json:"started_at"`
	FinishedAt   *time.Time    `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
	Pages        int           `bson:"pages" json:"pages"`
	ItemsCreated int           `bson:"items_created" json:"items_created"`
	Error        string        `bson:"error,omitempty" json:"error,omitempty"`
	Categories   []string      `bson:"categories,omitempty" json:"categories,omitempty"`
}
