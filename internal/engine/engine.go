package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stafflinehq/staffline/internal/cache"
	"github.com/stafflinehq/staffline/internal/device"
	"github.com/stafflinehq/staffline/internal/queue"
	"github.com/stafflinehq/staffline/internal/record"
	"github.com/stafflinehq/staffline/internal/remote"
	"github.com/stafflinehq/staffline/internal/schema"
	"go.uber.org/zap"
)

var (
	errMissingCache  = errors.New("cache store is required")
	errMissingRemote = errors.New("remote adapter is required")
	errMissingQueue  = errors.New("pending queue is required")
	errMissingDevice = errors.New("device identity is required")
	noOpLogger       = zap.NewNop()
)

const (
	opGetItems    = "engine.get_items"
	opSaveData    = "engine.save_data"
	opUpdateData  = "engine.update_data"
	opDeleteData  = "engine.delete_data"
	opPull        = "engine.pull_collection"
	opDrainQueue  = "engine.drain_queue"
	opPushMissing = "engine.push_missing"
)

// Config wires the engine's collaborators.
type Config struct {
	Cache  cache.Store
	Remote remote.Adapter
	Queue  *queue.Queue
	Device *device.Identity
	Clock  func() time.Time
	IDs    record.IDProvider
	Logger *zap.Logger
}

// Engine is the offline-first synchronization core. The local cache is the
// authoritative read path; every mutation lands locally first and is pushed to
// the remote store immediately when possible, otherwise through the pending
// queue.
type Engine struct {
	cache  cache.Store
	remote remote.Adapter
	queue  *queue.Queue
	device *device.Identity
	clock  func() time.Time
	ids    record.IDProvider
	logger *zap.Logger

	// collectionLocks serialize the read-then-write sequences (duplicate-key
	// check followed by save) per collection.
	collectionLocks map[record.Collection]*sync.Mutex

	statusMu    sync.Mutex
	lastPullAt  time.Time
	lastDrainAt time.Time
	lastPushAt  time.Time
}

// New validates the configuration and constructs the engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Cache == nil {
		return nil, newEngineError("engine.new", "missing_cache", errMissingCache)
	}
	if cfg.Remote == nil {
		return nil, newEngineError("engine.new", "missing_remote", errMissingRemote)
	}
	if cfg.Queue == nil {
		return nil, newEngineError("engine.new", "missing_queue", errMissingQueue)
	}
	if cfg.Device == nil {
		return nil, newEngineError("engine.new", "missing_device", errMissingDevice)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDs
	if ids == nil {
		ids = record.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	locks := make(map[record.Collection]*sync.Mutex, len(record.Collections()))
	for _, collection := range record.Collections() {
		locks[collection] = &sync.Mutex{}
	}

	return &Engine{
		cache:           cfg.Cache,
		remote:          cfg.Remote,
		queue:           cfg.Queue,
		device:          cfg.Device,
		clock:           clock,
		ids:             ids,
		logger:          logger,
		collectionLocks: locks,
	}, nil
}

// GetItems returns every locally cached record in the collection. Reads never
// touch the network.
func (e *Engine) GetItems(ctx context.Context, collection record.Collection) ([]record.Record, error) {
	keys, err := e.cache.ListKeys(ctx)
	if err != nil {
		e.logError(opGetItems, "list_keys_failed", err, zap.String("collection", collection.String()))
		return nil, newEngineError(opGetItems, "list_keys_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	items := make([]record.Record, 0)
	for _, key := range keys {
		if _, ok := record.SplitCacheKey(collection, key); !ok {
			continue
		}
		item, err := e.loadRecord(ctx, key)
		if errors.Is(err, cache.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			e.logError(opGetItems, "load_failed", err, zap.String("key", key))
			return nil, newEngineError(opGetItems, "load_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
		}
		items = append(items, item)
	}
	return items, nil
}

// DeleteResult reports a completed delete.
type DeleteResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// SaveData persists a new record locally and attempts the remote create. The
// caller sees success as soon as the local write lands; remote failures are
// absorbed into the pending queue. A business-key collision with another
// record written by this device is rejected before anything is persisted.
func (e *Engine) SaveData(ctx context.Context, input record.Record, collection record.Collection) (record.Record, error) {
	rawID := strings.TrimSpace(input.StringField(record.FieldID))
	if rawID == "" {
		generated, err := e.ids.NewID()
		if err != nil {
			return nil, newEngineError(opSaveData, "id_generation_failed", err)
		}
		rawID = generated
	}
	id, err := record.NewDocumentID(rawID)
	if err != nil {
		return nil, newEngineError(opSaveData, "invalid_id", err)
	}

	deviceID := e.device.DeviceID(ctx)

	lock := e.collectionLocks[collection]
	lock.Lock()
	defer lock.Unlock()

	if err := e.checkBusinessKey(ctx, opSaveData, collection, input, id, deviceID); err != nil {
		return nil, err
	}

	stored, err := e.writeLocal(ctx, collection, id, input, deviceID)
	if err != nil {
		return nil, newEngineError(opSaveData, "local_write_failed", err)
	}

	e.pushOrEnqueue(ctx, queue.OperationCreate, collection, id, input, deviceID)
	return stored, nil
}

// UpdateData replaces the locally cached record under localKey and attempts
// the remote update, queueing it on failure.
func (e *Engine) UpdateData(ctx context.Context, localKey, rawID string, input record.Record, collection record.Collection) (record.Record, error) {
	id, err := record.NewDocumentID(rawID)
	if err != nil {
		return nil, newEngineError(opUpdateData, "invalid_id", err)
	}
	if strings.TrimSpace(localKey) == "" {
		localKey = record.CacheKey(collection, id)
	}

	deviceID := e.device.DeviceID(ctx)

	lock := e.collectionLocks[collection]
	lock.Lock()
	defer lock.Unlock()

	if err := e.checkBusinessKey(ctx, opUpdateData, collection, input, id, deviceID); err != nil {
		return nil, err
	}

	merged := input
	if existing, err := e.loadRecord(ctx, localKey); err == nil {
		merged = existing
		for name, value := range input {
			merged[name] = value
		}
	}

	stored := e.stampRecord(merged, id, deviceID)
	if err := e.storeRecord(ctx, localKey, stored); err != nil {
		return nil, newEngineError(opUpdateData, "local_write_failed", err)
	}

	e.pushOrEnqueue(ctx, queue.OperationUpdate, collection, id, merged, deviceID)
	return stored, nil
}

// DeleteData removes the record from the local cache and attempts the remote
// delete, queueing a tombstone on failure.
func (e *Engine) DeleteData(ctx context.Context, localKey, rawID string, collection record.Collection) (DeleteResult, error) {
	id, err := record.NewDocumentID(rawID)
	if err != nil {
		return DeleteResult{}, newEngineError(opDeleteData, "invalid_id", err)
	}
	if strings.TrimSpace(localKey) == "" {
		localKey = record.CacheKey(collection, id)
	}

	lock := e.collectionLocks[collection]
	lock.Lock()
	defer lock.Unlock()

	if err := e.cache.Delete(ctx, localKey); err != nil {
		e.logError(opDeleteData, "local_delete_failed", err, zap.String("key", localKey))
		return DeleteResult{}, newEngineError(opDeleteData, "local_delete_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	e.pushOrEnqueue(ctx, queue.OperationDelete, collection, id, nil, e.device.DeviceID(ctx))
	return DeleteResult{Success: true, ID: id.String()}, nil
}

// GetCustomOptions returns the lookup-option list stored under
// custom_{itemName}.
func (e *Engine) GetCustomOptions(ctx context.Context, itemName string) ([]string, error) {
	raw, err := e.cache.Get(ctx, record.CustomKeyPrefix+itemName)
	if errors.Is(err, cache.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newEngineError("engine.get_custom_options", "load_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	var options []string
	if err := json.Unmarshal(raw, &options); err != nil {
		return nil, newEngineError("engine.get_custom_options", "decode_failed", err)
	}
	return options, nil
}

// SaveCustomOptions stores a lookup-option list locally and synchronizes it
// through the customOptions collection.
func (e *Engine) SaveCustomOptions(ctx context.Context, itemName string, options []string) error {
	id, err := record.NewDocumentID(itemName)
	if err != nil {
		return newEngineError("engine.save_custom_options", "invalid_item_name", err)
	}

	encoded, err := json.Marshal(options)
	if err != nil {
		return newEngineError("engine.save_custom_options", "encode_failed", err)
	}
	if err := e.cache.Set(ctx, record.CustomKeyPrefix+itemName, encoded); err != nil {
		return newEngineError("engine.save_custom_options", "local_write_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	payload := record.Record{
		record.FieldID: id.String(),
		"itemName":     itemName,
		"options":      options,
	}
	// Re-saving an existing list is safe: the local write replaces the cached
	// record and the remote create upserts.
	_, err = e.SaveData(ctx, payload, record.CollectionCustomOptions)
	return err
}

// checkBusinessKey rejects a write whose business key collides with another
// record already observed on this device. The remote store stays the id-level
// arbiter; this is a device-local guard only.
func (e *Engine) checkBusinessKey(ctx context.Context, operation string, collection record.Collection, input record.Record, id record.DocumentID, deviceID string) error {
	keyField, ok := collection.BusinessKey()
	if !ok {
		return nil
	}
	keyValue := strings.TrimSpace(input.StringField(keyField))
	if keyValue == "" {
		return nil
	}

	items, err := e.GetItems(ctx, collection)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.StringField(record.FieldID) == id.String() {
			continue
		}
		if item.StringField(record.FieldDeviceID) != deviceID {
			continue
		}
		if strings.TrimSpace(item.StringField(keyField)) == keyValue {
			return newEngineError(operation, "duplicate_key",
				fmt.Errorf("%w: %s=%q", ErrDuplicateKey, keyField, keyValue))
		}
	}
	return nil
}

// writeLocal stamps identity fields onto the record and persists it under the
// collection key.
func (e *Engine) writeLocal(ctx context.Context, collection record.Collection, id record.DocumentID, input record.Record, deviceID string) (record.Record, error) {
	stored := e.stampRecord(input.Clone(), id, deviceID)
	if err := e.storeRecord(ctx, record.CacheKey(collection, id), stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (e *Engine) stampRecord(input record.Record, id record.DocumentID, deviceID string) record.Record {
	stored := input.Clone()
	if stored == nil {
		stored = record.Record{}
	}
	stored[record.FieldID] = id.String()
	stored[record.FieldLocalID] = id.String()
	stored[record.FieldDeviceID] = deviceID
	stored[record.FieldUpdatedAt] = e.clock().UTC().Format(time.RFC3339Nano)
	return stored
}

func (e *Engine) storeRecord(ctx context.Context, key string, item record.Record) error {
	encoded, err := json.Marshal(item)
	if err != nil {
		return err
	}
	if err := e.cache.Set(ctx, key, encoded); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

func (e *Engine) loadRecord(ctx context.Context, key string) (record.Record, error) {
	raw, err := e.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var item record.Record
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return item, nil
}

// pushOrEnqueue attempts the immediate remote write and falls back to the
// pending queue. The caller's local-first success path is never interrupted.
func (e *Engine) pushOrEnqueue(ctx context.Context, operation queue.Operation, collection record.Collection, id record.DocumentID, payload record.Record, deviceID string) {
	var err error
	switch operation {
	case queue.OperationCreate:
		clean := schema.Sanitize(payload, collection, deviceID, e.clock())
		_, err = e.remote.Create(ctx, collection, id, clean)
	case queue.OperationUpdate:
		clean := schema.Sanitize(payload, collection, deviceID, e.clock())
		_, err = e.remote.Update(ctx, collection, id, clean)
	case queue.OperationDelete:
		err = e.remote.Delete(ctx, collection, id)
	}
	if err == nil {
		e.markPushed()
		return
	}

	// Only failures that can succeed on replay are queued. Anything else is
	// left to the pull/push reconciliation passes to converge.
	if !remote.IsTransient(err) {
		e.logger.Warn("remote write not queued",
			zap.String("operation", string(operation)),
			zap.String("collection", collection.String()),
			zap.String("document_id", id.String()),
			zap.String("kind", remote.KindOf(err).String()),
			zap.Error(err))
		return
	}

	e.logger.Info("remote write deferred",
		zap.String("operation", string(operation)),
		zap.String("collection", collection.String()),
		zap.String("document_id", id.String()),
		zap.String("kind", remote.KindOf(err).String()),
		zap.Error(err))

	if _, queueErr := e.queue.Enqueue(ctx, operation, collection, id.String(), payload); queueErr != nil {
		e.logError(string(operation), "enqueue_failed", queueErr,
			zap.String("collection", collection.String()),
			zap.String("document_id", id.String()))
	}
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("sync engine error", attrs...)
}
