// Package mongo stores documents in a single MongoDB collection keyed by
// document path. Batches and change streams need a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/port/outbound"
	"github.com/todoflow/server/internal/utils/document"
)

// CollectionName is the MongoDB collection holding every document.
const CollectionName = "documents"

type record struct {
	Path       string         `bson:"_id"`
	Collection string         `bson:"collection"`
	Data       map[string]any `bson:"data"`
	UpdatedAt  time.Time      `bson:"updatedAt"`
}

// DocumentStore implements outbound.DocumentStorePort on MongoDB.
type DocumentStore struct {
	coll   *mongo.Collection
	hub    *document.Hub
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Compile-time check
var _ outbound.DocumentStorePort = (*DocumentStore)(nil)

// NewDocumentStore creates a document store on coll.
func NewDocumentStore(coll *mongo.Collection, logger *zap.Logger) *DocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DocumentStore{
		coll:   coll,
		logger: logger.With(zap.String("component", "mongo_documents")),
		now:    time.Now,
	}
	s.hub = document.NewHub(s.Query)
	return s
}

// EnsureIndexes creates the collection index used by queries.
func (s *DocumentStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create collection index: %w", err)
	}
	return nil
}

// StartWatch opens a change stream so writes from other processes reach
// local listeners.
func (s *DocumentStore) StartWatch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	stream, err := s.coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return fmt.Errorf("watch %s: %w", CollectionName, err)
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.consume(watchCtx, stream, s.done)

	s.logger.Info("document change stream started")
	return nil
}

// Close stops the change stream.
func (s *DocumentStore) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *DocumentStore) consume(ctx context.Context, stream *mongo.ChangeStream, done chan struct{}) {
	defer close(done)
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var ev struct {
			DocumentKey struct {
				ID string `bson:"_id"`
			} `bson:"documentKey"`
		}
		if err := stream.Decode(&ev); err != nil {
			s.logger.Warn("decode change event failed", zap.Error(err))
			continue
		}
		collection, _, err := document.Split(ev.DocumentKey.ID)
		if err != nil {
			continue
		}
		s.hub.Notify(ctx, collection)
	}
	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("document change stream failed", zap.Error(err))
		s.hub.Fail(fmt.Errorf("change stream: %w", err))
	}
}

func (s *DocumentStore) NewID() string {
	return uuid.NewString()
}

func (s *DocumentStore) Get(ctx context.Context, path string) (outbound.Document, error) {
	_, id, err := document.Split(path)
	if err != nil {
		return outbound.Document{}, err
	}

	var r record
	if err := s.coll.FindOne(ctx, bson.M{"_id": path}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return outbound.Document{}, fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, path)
		}
		return outbound.Document{}, fmt.Errorf("get %s: %w", path, err)
	}

	data, err := document.Normalize(plainMap(r.Data))
	if err != nil {
		return outbound.Document{}, err
	}
	return outbound.Document{ID: id, Path: path, Data: data}, nil
}

func (s *DocumentStore) Set(ctx context.Context, path string, data map[string]any) error {
	return s.Batch().Set(path, data).Commit(ctx)
}

func (s *DocumentStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.Batch().Update(path, fields).Commit(ctx)
}

func (s *DocumentStore) Delete(ctx context.Context, path string) error {
	return s.Batch().Delete(path).Commit(ctx)
}

func (s *DocumentStore) Batch() outbound.WriteBatch {
	return document.NewBatch(s.commit)
}

func (s *DocumentStore) commit(ctx context.Context, ops []document.Op) error {
	now := s.now().UTC()

	if len(ops) == 1 {
		if err := s.apply(ctx, ops[0], now); err != nil {
			return err
		}
	} else {
		session, err := s.coll.Database().Client().StartSession()
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		defer session.EndSession(ctx)

		_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
			for _, op := range ops {
				if err := s.apply(sc, op, now); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		if err != nil {
			return err
		}
	}

	s.hub.Notify(ctx, document.Collections(ops)...)
	return nil
}

func (s *DocumentStore) apply(ctx context.Context, op document.Op, now time.Time) error {
	collection, _, err := document.Split(op.Path)
	if err != nil {
		return err
	}

	switch op.Kind {
	case document.OpSet:
		data, err := document.Normalize(op.Data)
		if err != nil {
			return err
		}
		r := record{Path: op.Path, Collection: collection, Data: data, UpdatedAt: now}
		_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": op.Path}, r, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("set %s: %w", op.Path, err)
		}

	case document.OpUpdate:
		update, err := updateDocument(op.Data, now)
		if err != nil {
			return err
		}
		res, err := s.coll.UpdateOne(ctx, bson.M{"_id": op.Path}, update)
		if err != nil {
			return fmt.Errorf("update %s: %w", op.Path, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, op.Path)
		}

	case document.OpDelete:
		if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": op.Path}); err != nil {
			return fmt.Errorf("delete %s: %w", op.Path, err)
		}
	}
	return nil
}

// updateDocument translates update fields into $set and $inc operators on
// the embedded data document.
func updateDocument(fields map[string]any, now time.Time) (bson.M, error) {
	set := bson.M{"updatedAt": now}
	inc := bson.M{}
	plain := map[string]any{}
	for k, v := range fields {
		if n, ok := v.(outbound.Increment); ok {
			inc["data."+k] = n.Delta
			continue
		}
		plain[k] = v
	}

	normalized, err := document.Normalize(plain)
	if err != nil {
		return nil, err
	}
	for k, v := range normalized {
		set["data."+k] = v
	}

	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	return update, nil
}

// Query loads the collection and applies filters and ordering in process.
func (s *DocumentStore) Query(ctx context.Context, q outbound.Query) ([]outbound.Document, error) {
	cur, err := s.coll.Find(ctx, bson.M{"collection": q.Collection}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer cur.Close(ctx)

	docs := make([]outbound.Document, 0)
	for cur.Next(ctx) {
		var r record
		if err := cur.Decode(&r); err != nil {
			s.logger.Warn("skipping undecodable document", zap.Error(err))
			continue
		}
		_, id, err := document.Split(r.Path)
		if err != nil {
			continue
		}
		data, err := document.Normalize(plainMap(r.Data))
		if err != nil {
			s.logger.Warn("skipping undecodable document", zap.String("path", r.Path), zap.Error(err))
			continue
		}
		docs = append(docs, outbound.Document{ID: id, Path: r.Path, Data: data})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return document.Select(docs, q), nil
}

func (s *DocumentStore) Listen(ctx context.Context, q outbound.Query, onSnapshot outbound.SnapshotFunc, onError outbound.ErrorFunc) (outbound.Subscription, error) {
	return s.hub.Attach(ctx, q, onSnapshot, onError)
}

// plainMap converts driver container types into plain maps and slices.
func plainMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.M:
		return plainMap(t)
	case map[string]any:
		return plainMap(t)
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}
