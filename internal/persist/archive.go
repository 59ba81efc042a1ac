package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ingestd/mediaforge/internal/types"
)

// Archiver receives every item CommitItems processes (inserted, duplicate,
// blocked, or failed) as a raw document, independent of the relational schema — an
// overflow sink for audit trails or downstream reprocessing that doesn't
// want to parse Postgres rows.
type Archiver interface {
	Archive(ctx context.Context, threadID string, item *types.ScrapedItem, outcome string) error
	Close(ctx context.Context) error
}

// MongoArchiver writes one document per processed item to a MongoDB
// collection, mirroring the teacher's MongoStorage: a flat document with
// scrape metadata prefixed by underscore fields alongside the item's own
// data.
type MongoArchiver struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoArchiver connects to MongoDB and pings it before returning, so
// configuration errors surface at startup rather than on the first commit.
func NewMongoArchiver(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoArchiver, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoArchiver{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_archiver"),
	}, nil
}

// Archive inserts one document per item, tagged with the thread it came
// from and the outcome CommitItems reached for it (inserted/duplicate/
// blocked/failed). A failed archive write is logged and swallowed, same as the
// CDN pre-cache path — this sink is best-effort, never load-bearing.
func (a *MongoArchiver) Archive(ctx context.Context, threadID string, item *types.ScrapedItem, outcome string) error {
	doc := map[string]any{
		"_thread_id":   threadID,
		"_outcome":     outcome,
		"_archived_at": time.Now().UTC(),
		"external_id":  item.ExternalID,
		"fingerprint":  item.Fingerprint,
		"permalink":    item.Permalink,
		"posted_at":    item.PostedAt,
		"author":       item.Author,
		"title":        item.Title,
		"caption":      item.Caption,
		"media_type":   string(item.MediaType),
		"media_url":    item.MediaURL,
		"thumbnail":    item.ThumbnailURL,
		"tags":         item.Tags,
	}

	insertCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := a.collection.InsertOne(insertCtx, doc); err != nil {
		return fmt.Errorf("mongodb archive insert: %w", err)
	}

	a.mu.Lock()
	a.count++
	a.mu.Unlock()
	return nil
}

// Close disconnects the underlying Mongo client.
func (a *MongoArchiver) Close(ctx context.Context) error {
	a.logger.Info("mongo archiver closing", "total_items", a.count)
	disconnectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.client.Disconnect(disconnectCtx)
}
