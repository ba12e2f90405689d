package document

import (
	"context"
	"errors"

	"github.com/todoflow/server/internal/port/outbound"
)

// ErrBatchCommitted is returned when a batch is committed twice.
var ErrBatchCommitted = errors.New("batch already committed")

// OpKind is the kind of a batched write.
type OpKind int

const (
	OpSet OpKind = iota
	OpUpdate
	OpDelete
)

// Op is a single batched write.
type Op struct {
	Kind OpKind
	Path string
	Data map[string]any
}

// CommitFunc applies ops atomically.
type CommitFunc func(ctx context.Context, ops []Op) error

// Batch collects writes for a CommitFunc. Adapters return it from Batch().
type Batch struct {
	ops       []Op
	commit    CommitFunc
	committed bool
}

// NewBatch creates a batch committed by fn.
func NewBatch(fn CommitFunc) *Batch {
	return &Batch{commit: fn}
}

func (b *Batch) Set(path string, data map[string]any) outbound.WriteBatch {
	b.ops = append(b.ops, Op{Kind: OpSet, Path: path, Data: data})
	return b
}

func (b *Batch) Update(path string, fields map[string]any) outbound.WriteBatch {
	b.ops = append(b.ops, Op{Kind: OpUpdate, Path: path, Data: fields})
	return b
}

func (b *Batch) Delete(path string) outbound.WriteBatch {
	b.ops = append(b.ops, Op{Kind: OpDelete, Path: path})
	return b
}

func (b *Batch) Commit(ctx context.Context) error {
	if b.committed {
		return ErrBatchCommitted
	}
	b.committed = true
	if len(b.ops) == 0 {
		return nil
	}
	for _, op := range b.ops {
		if _, _, err := Split(op.Path); err != nil {
			return err
		}
	}
	return b.commit(ctx, b.ops)
}

// Collections returns the distinct parent collections touched by ops.
func Collections(ops []Op) []string {
	seen := make(map[string]bool, len(ops))
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		c, _, err := Split(op.Path)
		if err != nil || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

var _ outbound.WriteBatch = (*Batch)(nil)
