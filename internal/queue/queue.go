package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stafflinehq/staffline/internal/cache"
	"github.com/stafflinehq/staffline/internal/record"
)

// MaxRetries is the mutation-level retry ceiling. An entry that fails this
// many drain attempts is dropped.
const MaxRetries = 3

// Operation enumerates the mutations the queue can defer.
type Operation string

const (
	// OperationCreate inserts a new remote document.
	OperationCreate Operation = "create"
	// OperationUpdate replaces an existing remote document.
	OperationUpdate Operation = "update"
	// OperationDelete removes a remote document.
	OperationDelete Operation = "delete"
)

var (
	errMissingStore      = errors.New("queue: cache store is required")
	errMissingIDProvider = errors.New("queue: id provider is required")
	// ErrInvalidOperation indicates an operation outside the fixed set.
	ErrInvalidOperation = errors.New("queue: invalid operation")
)

// Mutation is a durable record of a write that could not yet be confirmed
// against the remote store.
type Mutation struct {
	ID              string            `json:"id"`
	Operation       Operation         `json:"operation"`
	Collection      record.Collection `json:"collection"`
	DocumentID      string            `json:"documentId"`
	Payload         record.Record     `json:"payload,omitempty"`
	QueuedAtSeconds int64             `json:"queuedAt"`
	RetryCount      int               `json:"retryCount"`
}

// Config configures the pending mutation queue.
type Config struct {
	Store cache.Store
	IDs   record.IDProvider
	Clock func() time.Time
}

// Queue is the durable FIFO log of mutations awaiting remote confirmation,
// persisted through the cache store under pending_sync_ keys.
type Queue struct {
	store cache.Store
	ids   record.IDProvider
	clock func() time.Time
}

// New constructs a queue over the provided store.
func New(cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDs == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Queue{store: cfg.Store, ids: cfg.IDs, clock: clock}, nil
}

// Enqueue appends a mutation and returns the stored entry.
func (q *Queue) Enqueue(ctx context.Context, operation Operation, collection record.Collection, documentID string, payload record.Record) (Mutation, error) {
	switch operation {
	case OperationCreate, OperationUpdate, OperationDelete:
	default:
		return Mutation{}, fmt.Errorf("%w: %q", ErrInvalidOperation, operation)
	}

	id, err := q.ids.NewID()
	if err != nil {
		return Mutation{}, err
	}

	mutation := Mutation{
		ID:              id,
		Operation:       operation,
		Collection:      collection,
		DocumentID:      documentID,
		Payload:         payload,
		QueuedAtSeconds: q.clock().UTC().Unix(),
	}
	if err := q.Save(ctx, mutation); err != nil {
		return Mutation{}, err
	}
	return mutation, nil
}

// Save persists a mutation entry, replacing any prior state for its id.
func (q *Queue) Save(ctx context.Context, mutation Mutation) error {
	encoded, err := json.Marshal(mutation)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, record.PendingKeyPrefix+mutation.ID, encoded)
}

// Remove deletes the mutation entry for id.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.Delete(ctx, record.PendingKeyPrefix+id)
}

// List returns all pending mutations in enqueue order.
func (q *Queue) List(ctx context.Context) ([]Mutation, error) {
	keys, err := q.store.ListKeys(ctx)
	if err != nil {
		return nil, err
	}

	var mutations []Mutation
	for _, key := range keys {
		if !strings.HasPrefix(key, record.PendingKeyPrefix) {
			continue
		}
		raw, err := q.store.Get(ctx, key)
		if errors.Is(err, cache.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var mutation Mutation
		if err := json.Unmarshal(raw, &mutation); err != nil {
			// Unreadable entries cannot be replayed; drop them.
			_ = q.store.Delete(ctx, key)
			continue
		}
		mutations = append(mutations, mutation)
	}

	sort.SliceStable(mutations, func(i, j int) bool {
		if mutations[i].QueuedAtSeconds != mutations[j].QueuedAtSeconds {
			return mutations[i].QueuedAtSeconds < mutations[j].QueuedAtSeconds
		}
		return mutations[i].ID < mutations[j].ID
	})
	return mutations, nil
}

// Depth returns the number of pending mutations.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	keys, err := q.store.ListKeys(ctx)
	if err != nil {
		return 0, err
	}
	depth := 0
	for _, key := range keys {
		if strings.HasPrefix(key, record.PendingKeyPrefix) {
			depth++
		}
	}
	return depth, nil
}
