package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/todoflow/server/internal/port/outbound"
	"github.com/todoflow/server/internal/utils/document"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying changed collections.
const NotifyChannel = "todoflow_documents"

const createDocumentsTable = `CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const createCollectionIndex = `CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection)`

type documentRow struct {
	Path string
	Data []byte
}

// DocumentStore implements outbound.DocumentStorePort on a single postgres
// table. Every commit publishes the changed collections with pg_notify.
type DocumentStore struct {
	db       *gorm.DB
	hub      *document.Hub
	logger   *zap.Logger
	instance string
	now      func() time.Time

	mu       sync.Mutex
	listener *pq.Listener
	done     chan struct{}
}

// Compile-time check
var _ outbound.DocumentStorePort = (*DocumentStore)(nil)

// NewDocumentStore creates a document store on db.
func NewDocumentStore(db *gorm.DB, logger *zap.Logger) *DocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DocumentStore{
		db:       db,
		logger:   logger.With(zap.String("component", "postgres_documents")),
		instance: uuid.NewString(),
		now:      time.Now,
	}
	s.hub = document.NewHub(s.Query)
	return s
}

// Migrate creates the documents table.
func (s *DocumentStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec(createDocumentsTable).Error; err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	if err := db.Exec(createCollectionIndex).Error; err != nil {
		return fmt.Errorf("create documents index: %w", err)
	}
	return nil
}

// StartListener opens a LISTEN connection on dsn so changes committed by other
// processes reach local listeners. Without it only in-process writes are
// delivered.
func (s *DocumentStore) StartListener(dsn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			s.logger.Warn("document listener connection lost", zap.Error(err))
			if err != nil {
				s.hub.Fail(fmt.Errorf("document listener: %w", err))
			}
		case pq.ListenerEventReconnected:
			s.logger.Info("document listener reconnected")
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	s.listener = listener
	s.done = make(chan struct{})
	go s.consume(listener, s.done)

	s.logger.Info("document listener started", zap.String("channel", NotifyChannel))
	return nil
}

// Close stops the LISTEN connection.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	listener, done := s.listener, s.done
	s.listener, s.done = nil, nil
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	close(done)
	return listener.Close()
}

func (s *DocumentStore) consume(listener *pq.Listener, done <-chan struct{}) {
	ctx := context.Background()
	for {
		select {
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Notifications may have been missed while reconnecting.
				s.hub.Notify(ctx, s.hub.Collections()...)
				continue
			}
			from, collection, found := strings.Cut(n.Extra, ":")
			if !found || from == s.instance {
				continue
			}
			s.hub.Notify(ctx, collection)
		case <-time.After(90 * time.Second):
			go func() {
				if err := listener.Ping(); err != nil {
					s.logger.Warn("document listener ping failed", zap.Error(err))
				}
			}()
		case <-done:
			return
		}
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

	var rows []documentRow
	err = s.db.WithContext(ctx).
		Raw("SELECT path, data FROM documents WHERE path = ?", path).
		Scan(&rows).Error
	if err != nil {
		return outbound.Document{}, fmt.Errorf("get %s: %w", path, err)
	}
	if len(rows) == 0 {
		return outbound.Document{}, fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, path)
	}

	data, err := decodeData(rows[0].Data)
	if err != nil {
		return outbound.Document{}, fmt.Errorf("get %s: %w", path, err)
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
	collections := document.Collections(ops)
	now := s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			if err := s.apply(tx, op, now); err != nil {
				return err
			}
		}
		for _, c := range collections {
			if err := tx.Exec("SELECT pg_notify(?, ?)", NotifyChannel, s.instance+":"+c).Error; err != nil {
				return fmt.Errorf("notify %s: %w", c, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.hub.Notify(ctx, collections...)
	return nil
}

func (s *DocumentStore) apply(tx *gorm.DB, op document.Op, now time.Time) error {
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
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op.Path, err)
		}
		err = tx.Exec(
			`INSERT INTO documents (path, collection, data, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
			op.Path, collection, string(raw), now,
		).Error
		if err != nil {
			return fmt.Errorf("set %s: %w", op.Path, err)
		}

	case document.OpUpdate:
		var rows []documentRow
		err := tx.Raw("SELECT path, data FROM documents WHERE path = ? FOR UPDATE", op.Path).Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("lock %s: %w", op.Path, err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, op.Path)
		}
		current, err := decodeData(rows[0].Data)
		if err != nil {
			return fmt.Errorf("update %s: %w", op.Path, err)
		}
		merged, err := document.Merge(current, op.Data)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op.Path, err)
		}
		err = tx.Exec("UPDATE documents SET data = ?, updated_at = ? WHERE path = ?", string(raw), now, op.Path).Error
		if err != nil {
			return fmt.Errorf("update %s: %w", op.Path, err)
		}

	case document.OpDelete:
		if err := tx.Exec("DELETE FROM documents WHERE path = ?", op.Path).Error; err != nil {
			return fmt.Errorf("delete %s: %w", op.Path, err)
		}
	}
	return nil
}

// Query loads the collection and applies filters and ordering in process.
func (s *DocumentStore) Query(ctx context.Context, q outbound.Query) ([]outbound.Document, error) {
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Raw("SELECT path, data FROM documents WHERE collection = ? ORDER BY path", q.Collection).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}

	docs := make([]outbound.Document, 0, len(rows))
	for _, r := range rows {
		_, id, err := document.Split(r.Path)
		if err != nil {
			continue
		}
		data, err := decodeData(r.Data)
		if err != nil {
			s.logger.Warn("skipping undecodable document", zap.String("path", r.Path), zap.Error(err))
			continue
		}
		docs = append(docs, outbound.Document{ID: id, Path: r.Path, Data: data})
	}
	return document.Select(docs, q), nil
}

func (s *DocumentStore) Listen(ctx context.Context, q outbound.Query, onSnapshot outbound.SnapshotFunc, onError outbound.ErrorFunc) (outbound.Subscription, error) {
	return s.hub.Attach(ctx, q, onSnapshot, onError)
}

var errEmptyDocument = errors.New("empty document data")

func decodeData(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, errEmptyDocument
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
