package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

// MongoHandle is the document-database persistence backend, selected
// by ALIST_SYNC_MONGODB_URI. Several runner processes can share one
// database, which is what the Owner field on worker records exists
// for.
type MongoHandle struct {
	client   *mongo.Client
	workers  *mongo.Collection
	items    *mongo.Collection
	complete *mongo.Collection
}

// mongoWorkerDoc mirrors model.TransferIntent with an explicit _id so
// Mongo's own id generation never shadows the content-addressed one.
type mongoWorkerDoc struct {
	ID                   string `bson:"_id"`
	model.TransferIntent `bson:",inline"`
}

type mongoItemDoc struct {
	URI              string `bson:"_id"`
	model.RemoteItem `bson:",inline"`
}

// NewMongoHandle connects to uri and selects dbName, creating the
// indexes Handle's query patterns need. A positive logRetentionDays
// prunes completed-log documents older than the window once at
// connect time.
func NewMongoHandle(ctx context.Context, uri, dbName string, logRetentionDays int) (*MongoHandle, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	h := &MongoHandle{
		client:   client,
		workers:  db.Collection("workers"),
		items:    db.Collection("items"),
		complete: db.Collection("completed"),
	}

	if _, err := h.workers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("create workers index: %w", err)
	}

	if logRetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -logRetentionDays)
		if _, err := h.complete.DeleteMany(ctx, bson.M{"done_at": bson.M{"$lt": cutoff}}); err != nil {
			return nil, fmt.Errorf("prune completed log: %w", err)
		}
	}

	return h, nil
}

func (h *MongoHandle) SaveWorker(ctx context.Context, w *model.TransferIntent) error {
	doc := mongoWorkerDoc{ID: w.ID, TransferIntent: *w}
	_, err := h.workers.ReplaceOne(ctx, bson.M{"_id": w.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (h *MongoHandle) GetWorker(ctx context.Context, id string) (*model.TransferIntent, error) {
	var doc mongoWorkerDoc
	err := h.workers.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc.TransferIntent, nil
}

func (h *MongoHandle) ListLiveWorkers(ctx context.Context) ([]*model.TransferIntent, error) {
	cur, err := h.workers.Find(ctx, bson.M{"status": bson.M{"$nin": []int{int(model.StatusDone), int(model.StatusFailed)}}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*model.TransferIntent
	for cur.Next(ctx) {
		var doc mongoWorkerDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		w := doc.TransferIntent
		out = append(out, &w)
	}
	return out, cur.Err()
}

func (h *MongoHandle) DeleteWorker(ctx context.Context, id string) error {
	_, err := h.workers.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (h *MongoHandle) AppendCompletedLog(ctx context.Context, entry *model.CompletedLog) error {
	_, err := h.complete.InsertOne(ctx, entry)
	return err
}

func (h *MongoHandle) GetCachedItem(ctx context.Context, uri string) (*model.RemoteItem, bool, error) {
	var doc mongoItemDoc
	err := h.items.FindOne(ctx, bson.M{"_id": uri}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &doc.RemoteItem, true, nil
}

func (h *MongoHandle) PutCachedItem(ctx context.Context, item *model.RemoteItem) error {
	doc := mongoItemDoc{URI: item.URI, RemoteItem: *item}
	_, err := h.items.ReplaceOne(ctx, bson.M{"_id": item.URI}, doc, options.Replace().SetUpsert(true))
	return err
}

func (h *MongoHandle) DeleteCachedItem(ctx context.Context, uri string) error {
	_, err := h.items.DeleteOne(ctx, bson.M{"_id": uri})
	return err
}

func (h *MongoHandle) Close() error {
	return h.client.Disconnect(context.Background())
}
