package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"lotwatch/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id               %[1]s,
	source_site      TEXT NOT NULL,
	canonical_url    TEXT NOT NULL,
	original_url     TEXT NOT NULL DEFAULT '',
	redirected_site  TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT 'unknown',
	description      TEXT NOT NULL DEFAULT 'unknown',
	artist           TEXT NOT NULL DEFAULT 'unknown',
	lot_number       TEXT NOT NULL DEFAULT 'unknown',
	category         TEXT NOT NULL DEFAULT 'unknown',
	auctioneer       TEXT NOT NULL DEFAULT 'unknown',
	location         TEXT NOT NULL DEFAULT 'unknown',
	visit_count      TEXT NOT NULL DEFAULT 'unknown',
	lot_status       TEXT NOT NULL DEFAULT 'unknown',
	initial_value    TEXT NOT NULL DEFAULT 'unknown',
	current_value    TEXT,
	bid_count        INTEGER NOT NULL DEFAULT 0,
	auction_start    TEXT NOT NULL DEFAULT 'unknown',
	auction_end      TEXT NOT NULL DEFAULT 'unknown',
	last_observed_at BIGINT,
	collected_at     BIGINT NOT NULL,
	session_id       TEXT NOT NULL DEFAULT '',
	page             INTEGER NOT NULL DEFAULT 0,
	UNIQUE (source_site, canonical_url)
);
CREATE INDEX IF NOT EXISTS items_original_url ON items (source_site, original_url);
CREATE TABLE IF NOT EXISTS value_history (
	id           %[1]s,
	item_id      BIGINT NOT NULL REFERENCES items (id),
	value        TEXT NOT NULL,
	bid_sequence INTEGER NOT NULL,
	observed_at  BIGINT NOT NULL,
	UNIQUE (item_id, bid_sequence)
);
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    BIGINT NOT NULL,
	finished_at   BIGINT,
	pages         INTEGER NOT NULL DEFAULT 0,
	items_created INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	categories    TEXT NOT NULL DEFAULT ''
);`

const itemColumns = `id, source_site, canonical_url, original_url, redirected_site, title, description,
	artist, lot_number, category, auctioneer, location, visit_count, lot_status, initial_value,
	current_value, bid_count, auction_start, auction_end, last_observed_at, collected_at, session_id, page`

// SQLStore keeps items in SQLite (modernc) or PostgreSQL (lib/pq). Times are
// stored as unix milliseconds.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// one connection keeps :memory: databases shared and writes serialized
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("can't ping %s: %w", s.driver, err)
	}
	idType := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "sqlite" {
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := s.db.ExecContext(ctx, pragma); err != nil {
				return fmt.Errorf("sqlite %q: %w", pragma, err)
			}
		}
	} else {
		idType = "BIGSERIAL PRIMARY KEY"
	}
	for _, stmt := range strings.Split(fmt.Sprintf(schema, idType), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) InsertItem(ctx context.Context, item *models.Item) (int64, bool, error) {
	if item.CollectedAt.IsZero() {
		item.CollectedAt = time.Now()
	}
	query := s.rebind(`INSERT INTO items (source_site, canonical_url, original_url, redirected_site, title,
		description, artist, lot_number, category, auctioneer, location, visit_count, lot_status,
		initial_value, current_value, bid_count, auction_start, auction_end, last_observed_at,
		collected_at, session_id, page)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_site, canonical_url) DO NOTHING
		RETURNING id`)

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		item.SourceSite, item.CanonicalURL, item.OriginalURL, item.RedirectedSite, item.Title,
		item.Description, item.Artist, item.LotNumber, item.Category, item.Auctioneer, item.Location,
		item.VisitCount, item.LotStatus, item.InitialValue, nullString(item.CurrentValue), item.BidCount,
		item.AuctionStart, item.AuctionEnd, nullMillis(item.LastObservedAt), item.CollectedAt.UnixMilli(),
		item.SessionID, item.Page,
	).Scan(&id)
	if err == nil {
		item.ID = id
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("insert item: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id FROM items WHERE source_site = ? AND canonical_url = ?`),
		item.SourceSite, item.CanonicalURL,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("lookup conflicting item: %w", err)
	}
	item.ID = id
	return id, false, nil
}

func (s *SQLStore) FindItemByURL(ctx context.Context, site, url string) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE (canonical_url = ? OR original_url = ?)`
	args := []any{url, url}
	if site != "" {
		query += ` AND source_site = ?`
		args = append(args, site)
	}
	query += ` ORDER BY CASE WHEN canonical_url = ? THEN 0 ELSE 1 END, id LIMIT 1`
	args = append(args, url)

	item, err := scanItem(s.db.QueryRowContext(ctx, s.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find item by url: %w", err)
	}
	return item, nil
}

func (s *SQLStore) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+itemColumns+` FROM items WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	return item, nil
}

func (s *SQLStore) UpdateItemValue(ctx context.Context, id int64, value string, bidCount int, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE items
		SET current_value = ?,
			bid_count = CASE WHEN bid_count < ? THEN ? ELSE bid_count END,
			last_observed_at = ?
		WHERE id = ? AND (current_value IS NULL OR current_value <> ?)`),
		value, bidCount, bidCount, at.UnixMilli(), id, value)
	if err != nil {
		return false, fmt.Errorf("update item %d value: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) UpdateItemLifecycle(ctx context.Context, id int64, status, auctionEnd string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE items SET lot_status = ?, auction_end = ?
		WHERE id = ? AND (lot_status <> ? OR auction_end <> ?)`),
		status, auctionEnd, id, status, auctionEnd)
	if err != nil {
		return false, fmt.Errorf("update item %d lifecycle: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) ListMonitorCandidates(ctx context.Context) ([]models.Item, error) {
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM items
		WHERE lot_status NOT IN (?, ?) ORDER BY id`, closedStatuses[0], closedStatuses[1])
	if err != nil {
		return nil, fmt.Errorf("list monitor candidates: %w", err)
	}
	return items, nil
}

func (s *SQLStore) ListItems(ctx context.Context, site string, limit int) ([]models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var args []any
	if site != "" {
		query += ` WHERE source_site = ?`
		args = append(args, site)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	items, err := s.queryItems(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (s *SQLStore) queryItems(ctx context.Context, query string, args ...any) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *SQLStore) AppendObservation(ctx context.Context, obs models.ValueObservation) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO value_history (item_id, value, bid_sequence, observed_at)
		VALUES (?, ?, ?, ?) ON CONFLICT (item_id, bid_sequence) DO NOTHING`),
		obs.ItemID, obs.Value, obs.BidSequence, obs.ObservedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append observation for item %d: %w", obs.ItemID, err)
	}
	return nil
}

func (s *SQLStore) ListObservations(ctx context.Context, itemID int64) ([]models.ValueObservation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT item_id, value, bid_sequence, observed_at
		FROM value_history WHERE item_id = ? ORDER BY bid_sequence`), itemID)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var out []models.ValueObservation
	for rows.Next() {
		var obs models.ValueObservation
		var at int64
		if err := rows.Scan(&obs.ItemID, &obs.Value, &obs.BidSequence, &at); err != nil {
			return nil, err
		}
		obs.ObservedAt = time.UnixMilli(at)
		out = append(out, obs)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveSession(ctx context.Context, sess *models.Session) error {
	var finished sql.NullInt64
	if sess.FinishedAt != nil {
		finished = sql.NullInt64{Int64: sess.FinishedAt.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO sessions
		(id, source, status, started_at, finished_at, pages, items_created, error, categories)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			pages = excluded.pages,
			items_created = excluded.items_created,
			error = excluded.error,
			categories = excluded.categories`),
		sess.ID, sess.Source, string(sess.Status), sess.StartedAt.UnixMilli(), finished,
		sess.Pages, sess.ItemsCreated, sess.Error, strings.Join(sess.Categories, ","))
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var (
		sess       models.Session
		status     string
		started    int64
		finished   sql.NullInt64
		categories string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, source, status, started_at, finished_at, pages,
		items_created, error, categories FROM sessions WHERE id = ?`), id).Scan(
		&sess.ID, &sess.Source, &status, &started, &finished, &sess.Pages, &sess.ItemsCreated, &sess.Error, &categories)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.Status = models.SessionStatus(status)
	sess.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		sess.FinishedAt = &t
	}
	if categories != "" {
		sess.Categories = strings.Split(categories, ",")
	}
	return &sess, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*models.Item, error) {
	var (
		item      models.Item
		current   sql.NullString
		observed  sql.NullInt64
		collected int64
	)
	err := row.Scan(&item.ID, &item.SourceSite, &item.CanonicalURL, &item.OriginalURL, &item.RedirectedSite,
		&item.Title, &item.Description, &item.Artist, &item.LotNumber, &item.Category, &item.Auctioneer,
		&item.Location, &item.VisitCount, &item.LotStatus, &item.InitialValue, &current, &item.BidCount,
		&item.AuctionStart, &item.AuctionEnd, &observed, &collected, &item.SessionID, &item.Page)
	if err != nil {
		return nil, err
	}
	if current.Valid {
		item.CurrentValue = &current.String
	}
	if observed.Valid {
		t := time.UnixMilli(observed.Int64)
		item.LastObservedAt = &t
	}
	item.CollectedAt = time.UnixMilli(collected)
	return &item, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
