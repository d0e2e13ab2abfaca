// Package extract pulls lot fields out of auction catalog pages.
//
// Every field owns an ordered list of strategies, most site specific first
// and full-text regular expressions last, plus one validator. The first
// candidate the validator accepts wins; when none does the field is
// models.Unknown. Nothing here performs I/O or modifies the document.
package extract

import (
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"

	"lotwatch/internal/models"
)

type Field string

const (
	FieldTitle        Field = "title"
	FieldDescription  Field = "description"
	FieldArtist       Field = "artist"
	FieldValue        Field = "value"
	FieldBidCount     Field = "bid_count"
	FieldLotNumber    Field = "lot_number"
	FieldAuctionStart Field = "auction_start"
	FieldAuctionEnd   Field = "auction_end"
	FieldAuctioneer   Field = "auctioneer"
	FieldLocation     Field = "location"
	FieldVisitCount   Field = "visit_count"
	FieldLotStatus    Field = "lot_status"
)

// Fields lists every field ExtractAll fills, in extraction order.
var Fields = []Field{
	FieldTitle, FieldDescription, FieldArtist, FieldValue, FieldBidCount,
	FieldLotNumber, FieldAuctionStart, FieldAuctionEnd, FieldAuctioneer,
	FieldLocation, FieldVisitCount, FieldLotStatus,
}

// Context carries what strategies may need besides the document.
type Context struct {
	URL         string
	ExtractedAt time.Time
	Location    *time.Location
	// Hints are values already read from a listing card; they are validated
	// like any other candidate and win over page strategies.
	Hints map[Field]string
}

// Result is an extracted value and the rank of the strategy that produced
// it: 0 is the most specific, -1 means nothing validated.
type Result struct {
	Value    string
	Rank     int
	Strategy string
}

func (r Result) Known() bool { return r.Rank >= 0 }

func miss() Result { return Result{Value: models.Unknown, Rank: -1} }

type Strategy struct {
	Name string
	Find func(doc *goquery.Document, c Context) []string
}

type chain struct {
	strategies []Strategy
	validate   Validator
}

type Extractor struct {
	chains map[Field]chain
}

func New() *Extractor {
	return &Extractor{chains: defaultChains()}
}

func (e *Extractor) Extract(field Field, doc *goquery.Document, c Context) Result {
	ch, ok := e.chains[field]
	if !ok || doc == nil {
		return miss()
	}
	if hint, ok := c.Hints[field]; ok {
		if v, ok := ch.validate(hint, c); ok {
			return Result{Value: v, Rank: 0, Strategy: "listing"}
		}
	}
	for rank, s := range ch.strategies {
		for _, candidate := range run(s, doc, c) {
			if v, ok := ch.validate(candidate, c); ok {
				return Result{Value: v, Rank: rank, Strategy: s.Name}
			}
		}
	}
	return miss()
}

func run(s Strategy, doc *goquery.Document, c Context) (out []string) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	return s.Find(doc, c)
}

// Record holds one Result per field.
type Record map[Field]Result

func (r Record) Get(f Field) string {
	if res, ok := r[f]; ok {
		return res.Value
	}
	return models.Unknown
}

func (e *Extractor) ExtractAll(doc *goquery.Document, c Context) Record {
	rec := make(Record, len(Fields))
	for _, f := range Fields {
		rec[f] = e.Extract(f, doc, c)
	}
	return rec
}

// Bid is what a monitoring poll reads from a lot page.
type Bid struct {
	Value    string
	Count    int
	HasCount bool
	Status   string
	End      string
}

// CurrentBid extracts the value-related fields only. ok is false when no
// value validated.
func (e *Extractor) CurrentBid(doc *goquery.Document, c Context) (Bid, bool) {
	v := e.Extract(FieldValue, doc, c)
	if !v.Known() {
		return Bid{}, false
	}
	bid := Bid{Value: v.Value, Status: models.Unknown, End: models.Unknown}
	if n := e.Extract(FieldBidCount, doc, c); n.Known() {
		if count, err := strconv.Atoi(n.Value); err == nil {
			bid.Count = count
			bid.HasCount = true
		}
	}
	if s := e.Extract(FieldLotStatus, doc, c); s.Known() {
		bid.Status = s.Value
	}
	if end := e.Extract(FieldAuctionEnd, doc, c); end.Known() {
		bid.End = end.Value
	}
	return bid, true
}

