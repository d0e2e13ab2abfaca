package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lotwatch/internal/config"
	"lotwatch/internal/models"
)

// MongoDB keeps items, value history and sessions in MongoDB. Item ids come
// from a counters collection so they stay int64 like the SQL backends.
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	items    *mongo.Collection
	history  *mongo.Collection
	sessions *mongo.Collection
	counters *mongo.Collection
}

func NewMongoDB(ctx context.Context, cfg config.DBConfig) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	d := &MongoDB{
		client:   client,
		database: db,
		items:    db.Collection(cfg.Collections.Items),
		history:  db.Collection(cfg.Collections.History),
		sessions: db.Collection(cfg.Collections.Sessions),
		counters: db.Collection(cfg.Collections.Counters),
	}
	if err := d.createIndexes(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("can't create indices: %w", err)
	}
	return d, nil
}

func (d *MongoDB) createIndexes(ctx context.Context) error {
	_, err := d.items.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "source_site", Value: 1}, {Key: "canonical_url", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "original_url", Value: 1}}},
		{Keys: bson.D{{Key: "lot_status", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = d.history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "item_id", Value: 1}, {Key: "bid_sequence", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (d *MongoDB) nextID(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := d.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return counter.Seq, nil
}

func (d *MongoDB) InsertItem(ctx context.Context, item *models.Item) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	existing, err := d.FindItemByURL(ctx, item.SourceSite, item.CanonicalURL)
	if err != nil {
		return 0, false, err
	}
	if existing != nil && existing.CanonicalURL == item.CanonicalURL {
		item.ID = existing.ID
		return existing.ID, false, nil
	}

	id, err := d.nextID(ctx, "items")
	if err != nil {
		return 0, false, err
	}
	item.ID = id
	if item.CollectedAt.IsZero() {
		item.CollectedAt = time.Now()
	}

	_, err = d.items.InsertOne(ctx, item)
	if mongo.IsDuplicateKeyError(err) {
		// lost the race against another writer for the same canonical url
		var winner models.Item
		err = d.items.FindOne(ctx, bson.M{
			"source_site":   item.SourceSite,
			"canonical_url": item.CanonicalURL,
		}).Decode(&winner)
		if err != nil {
			return 0, false, fmt.Errorf("lookup conflicting item: %w", err)
		}
		item.ID = winner.ID
		return winner.ID, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert item: %w", err)
	}
	return id, true, nil
}

func (d *MongoDB) FindItemByURL(ctx context.Context, site, url string) (*models.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lookups := []bson.M{{"canonical_url": url}, {"original_url": url}}
	for _, filter := range lookups {
		if site != "" {
			filter["source_site"] = site
		}
		var item models.Item
		err := d.items.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).Decode(&item)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find item by url: %w", err)
		}
		return &item, nil
	}
	return nil, nil
}

func (d *MongoDB) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var item models.Item
	err := d.items.FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	return &item, nil
}

func (d *MongoDB) UpdateItemValue(ctx context.Context, id int64, value string, bidCount int, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := d.items.UpdateOne(ctx,
		bson.M{"_id": id, "current_value": bson.M{"$ne": value}},
		bson.M{
			"$set": bson.M{"current_value": value, "last_observed_at": at},
			"$max": bson.M{"bid_count": bidCount},
		},
	)
	if err != nil {
		return false, fmt.Errorf("update item %d value: %w", id, err)
	}
	return res.ModifiedCount > 0, nil
}

func (d *MongoDB) UpdateItemLifecycle(ctx context.Context, id int64, status, auctionEnd string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := d.items.UpdateOne(ctx,
		bson.M{"_id": id, "$or": bson.A{
			bson.M{"lot_status": bson.M{"$ne": status}},
			bson.M{"auction_end": bson.M{"$ne": auctionEnd}},
		}},
		bson.M{"$set": bson.M{"lot_status": status, "auction_end": auctionEnd}},
	)
	if err != nil {
		return false, fmt.Errorf("update item %d lifecycle: %w", id, err)
	}
	return res.ModifiedCount > 0, nil
}

func (d *MongoDB) ListMonitorCandidates(ctx context.Context) ([]models.Item, error) {
	items, err := d.findItems(ctx, bson.M{"lot_status": bson.M{"$nin": closedStatuses}}, 0)
	if err != nil {
		return nil, fmt.Errorf("list monitor candidates: %w", err)
	}
	return items, nil
}

func (d *MongoDB) ListItems(ctx context.Context, site string, limit int) ([]models.Item, error) {
	filter := bson.M{}
	if site != "" {
		filter["source_site"] = site
	}
	items, err := d.findItems(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (d *MongoDB) findItems(ctx context.Context, filter bson.M, limit int) ([]models.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := d.items.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var items []models.Item
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (d *MongoDB) AppendObservation(ctx context.Context, obs models.ValueObservation) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := d.history.InsertOne(ctx, obs)
	if mongo.IsDuplicateKeyError(err) {
		slog.Debug("observation already stored", "item_id", obs.ItemID, "bid_sequence", obs.BidSequence)
		return nil
	}
	if err != nil {
		return fmt.Errorf("append observation for item %d: %w", obs.ItemID, err)
	}
	return nil
}

func (d *MongoDB) ListObservations(ctx context.Context, itemID int64) ([]models.ValueObservation, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cursor, err := d.history.Find(ctx,
		bson.M{"item_id": itemID},
		options.Find().SetSort(bson.D{{Key: "bid_sequence", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.ValueObservation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *MongoDB) SaveSession(ctx context.Context, s *models.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := d.sessions.ReplaceOne(ctx, bson.M{"_id": s.ID}, s, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func (d *MongoDB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var s models.Session
	err := d.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &s, nil
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}
