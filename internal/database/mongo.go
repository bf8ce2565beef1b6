package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/charlie0129/daytracker/internal/config"
)

const mongoCollection = "documents"

// Mongo keeps every document in one collection; _id is the full document path.
type Mongo struct {
	client    *mongo.Client
	documents *mongo.Collection
}

type mongoDocument struct {
	Path       string    `bson:"_id"`
	Collection string    `bson:"collection"`
	DocID      string    `bson:"docId"`
	Data       bson.M    `bson:"data"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func NewMongo(ctx context.Context, cfg config.MongoDBConfig) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	documents := client.Database(cfg.Database).Collection(mongoCollection)
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "docId", Value: 1}},
	}
	if _, err := documents.Indexes().CreateOne(ctx, indexModel); err != nil {
		// An equivalent index may already exist.
		slog.Warn("mongodb index creation", "error", err)
	}

	slog.Info("database initialized", "driver", "mongodb", "database", cfg.Database)
	return &Mongo{client: client, documents: documents}, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) NewID() string {
	return newID()
}

func (m *Mongo) Get(ctx context.Context, docPath string) (Document, error) {
	var stored mongoDocument
	err := m.documents.FindOne(ctx, bson.M{"_id": docPath}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(docPath)
	}
	if err != nil {
		return nil, storeErr("get", docPath, err)
	}
	return normalizeBSONMap(stored.Data), nil
}

func (m *Mongo) Set(ctx context.Context, docPath string, doc Document) error {
	collection, id, err := SplitPath(docPath)
	if err != nil {
		return err
	}
	stored := mongoDocument{
		Path:       docPath,
		Collection: collection,
		DocID:      id,
		Data:       bson.M(doc),
		UpdatedAt:  time.Now(),
	}
	opts := options.Replace().SetUpsert(true)
	_, err = m.documents.ReplaceOne(ctx, bson.M{"_id": docPath}, stored, opts)
	return storeErr("set", docPath, err)
}

func (m *Mongo) Delete(ctx context.Context, docPath string) error {
	_, err := m.documents.DeleteOne(ctx, bson.M{"_id": docPath})
	return storeErr("delete", docPath, err)
}

func (m *Mongo) List(ctx context.Context, collection string) ([]Snapshot, error) {
	opts := options.Find().SetSort(bson.D{{Key: "docId", Value: 1}})
	cursor, err := m.documents.Find(ctx, bson.M{"collection": collection}, opts)
	if err != nil {
		return nil, storeErr("list", collection, err)
	}
	defer cursor.Close(ctx)

	var stored []mongoDocument
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, storeErr("list", collection, err)
	}

	snapshots := make([]Snapshot, 0, len(stored))
	for _, d := range stored {
		snapshots = append(snapshots, Snapshot{ID: d.DocID, Data: normalizeBSONMap(d.Data)})
	}
	return snapshots, nil
}

// normalizeBSONMap converts driver container types (primitive.M/D/A) and
// int32 into the plain Go shapes the rest of the code expects.
func normalizeBSONMap(m bson.M) Document {
	doc := make(Document, len(m))
	for k, v := range m {
		doc[k] = normalizeBSON(v)
	}
	return doc
}

func normalizeBSON(v any) any {
	switch val := v.(type) {
	case primitive.M:
		return normalizeBSONMap(bson.M(val))
	case map[string]any:
		return normalizeBSONMap(bson.M(val))
	case primitive.D:
		return normalizeBSONMap(bson.M(val.Map()))
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeBSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeBSON(item)
		}
		return out
	case int32:
		return int64(val)
	case primitive.DateTime:
		return val.Time()
	}
	return v
}
