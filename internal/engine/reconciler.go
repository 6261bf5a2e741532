package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stafflinehq/staffline/internal/cache"
	"github.com/stafflinehq/staffline/internal/queue"
	"github.com/stafflinehq/staffline/internal/record"
	"github.com/stafflinehq/staffline/internal/remote"
	"github.com/stafflinehq/staffline/internal/schema"
	"go.uber.org/zap"
)

// PullCollection brings the local cache up to date with the remote collection.
// Remote deletions win unconditionally; for surviving documents the newer
// updatedAt wins, so local pending changes are never clobbered by a stale
// pull.
func (e *Engine) PullCollection(ctx context.Context, collection record.Collection) error {
	documents, err := e.remote.List(ctx, collection, remote.MaxPageSize)
	if err != nil {
		switch remote.KindOf(err) {
		case remote.KindUnauthorized:
			return newEngineError(opPull, "authentication_required", fmt.Errorf("%w: %v", ErrAuthenticationRequired, err))
		case remote.KindRejected:
			return newEngineError(opPull, "remote_rejected", fmt.Errorf("%w: %v", ErrRemoteRejected, err))
		default:
			return newEngineError(opPull, "list_failed", fmt.Errorf("%w: %v", ErrNetworkUnavailable, err))
		}
	}

	remoteIDs := make(map[string]struct{}, len(documents))
	for _, document := range documents {
		remoteIDs[document.ID.String()] = struct{}{}
	}

	lock := e.collectionLocks[collection]
	lock.Lock()
	defer lock.Unlock()

	keys, err := e.cache.ListKeys(ctx)
	if err != nil {
		return newEngineError(opPull, "list_keys_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	for _, key := range keys {
		id, ok := record.SplitCacheKey(collection, key)
		if !ok {
			continue
		}
		if _, present := remoteIDs[id]; present {
			continue
		}
		if err := e.cache.Delete(ctx, key); err != nil {
			return newEngineError(opPull, "tombstone_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
		}
		e.logger.Debug("tombstone propagated",
			zap.String("collection", collection.String()),
			zap.String("document_id", id))
	}

	for _, document := range documents {
		key := record.CacheKey(collection, document.ID)
		local, err := e.loadRecord(ctx, key)
		if err != nil && !errors.Is(err, cache.ErrKeyNotFound) {
			return newEngineError(opPull, "load_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
		}

		if local != nil {
			localUpdated := local.UpdatedAt()
			if !document.UpdatedAt.After(localUpdated) {
				continue
			}
		}

		stored := document.Data.Clone()
		if stored == nil {
			stored = record.Record{}
		}
		stored[record.FieldID] = document.ID.String()
		stored[record.FieldLocalID] = document.ID.String()
		if !document.UpdatedAt.IsZero() {
			stored[record.FieldUpdatedAt] = document.UpdatedAt.UTC().Format(time.RFC3339Nano)
		}
		if err := e.storeRecord(ctx, key, stored); err != nil {
			return newEngineError(opPull, "store_failed", err)
		}

		if collection == record.CollectionCustomOptions {
			e.refreshCustomOptions(ctx, stored)
		}
	}

	e.statusMu.Lock()
	e.lastPullAt = e.clock().UTC()
	e.statusMu.Unlock()
	return nil
}

// refreshCustomOptions mirrors a pulled customOptions document into its
// custom_{itemName} lookup key.
func (e *Engine) refreshCustomOptions(ctx context.Context, stored record.Record) {
	itemName := stored.StringField("itemName")
	if itemName == "" {
		return
	}
	options, ok := stored["options"]
	if !ok {
		return
	}
	encoded, err := json.Marshal(options)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, record.CustomKeyPrefix+itemName, encoded); err != nil {
		e.logError(opPull, "custom_options_refresh_failed", err, zap.String("item", itemName))
	}
}

// PullAll reconciles every collection, joining per-collection failures.
func (e *Engine) PullAll(ctx context.Context) error {
	var errs []error
	for _, collection := range record.Collections() {
		if err := e.PullCollection(ctx, collection); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DrainQueue replays pending mutations in enqueue order. Each entry is
// re-sanitized before replay; a create that collides falls through to update
// inside the adapter and an update against a missing document is retried as a
// create. Entries that keep failing are dropped once they reach the retry
// ceiling.
func (e *Engine) DrainQueue(ctx context.Context) error {
	mutations, err := e.queue.List(ctx)
	if err != nil {
		return newEngineError(opDrainQueue, "list_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	deviceID := e.device.DeviceID(ctx)
	for _, mutation := range mutations {
		replayErr := e.replayMutation(ctx, mutation, deviceID)

		if replayErr == nil || errors.Is(replayErr, record.ErrInvalidDocumentID) {
			if replayErr != nil {
				// The entry can never replay; keeping it would wedge the queue.
				e.logError(opDrainQueue, "unreplayable_entry", replayErr, zap.String("mutation_id", mutation.ID))
			}
			if err := e.queue.Remove(ctx, mutation.ID); err != nil {
				return newEngineError(opDrainQueue, "remove_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
			}
			continue
		}

		mutation.RetryCount++
		if mutation.RetryCount >= queue.MaxRetries {
			e.logger.Warn("pending mutation dropped after retry ceiling",
				zap.String("mutation_id", mutation.ID),
				zap.String("collection", mutation.Collection.String()),
				zap.String("document_id", mutation.DocumentID),
				zap.Int("retries", mutation.RetryCount))
			if err := e.queue.Remove(ctx, mutation.ID); err != nil {
				return newEngineError(opDrainQueue, "remove_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
			}
			continue
		}
		if err := e.queue.Save(ctx, mutation); err != nil {
			return newEngineError(opDrainQueue, "save_failed", fmt.Errorf("%w: %v", ErrStorageFailure, err))
		}
	}

	e.statusMu.Lock()
	e.lastDrainAt = e.clock().UTC()
	e.statusMu.Unlock()
	return nil
}

func (e *Engine) replayMutation(ctx context.Context, mutation queue.Mutation, deviceID string) error {
	id, err := record.NewDocumentID(mutation.DocumentID)
	if err != nil {
		return err
	}

	switch mutation.Operation {
	case queue.OperationCreate:
		clean := schema.Sanitize(mutation.Payload, mutation.Collection, deviceID, e.clock())
		_, err = e.remote.Create(ctx, mutation.Collection, id, clean)
	case queue.OperationUpdate:
		clean := schema.Sanitize(mutation.Payload, mutation.Collection, deviceID, e.clock())
		_, err = e.remote.Update(ctx, mutation.Collection, id, clean)
		if err != nil && remote.KindOf(err) == remote.KindNotFound {
			_, err = e.remote.Create(ctx, mutation.Collection, id, clean)
		}
	case queue.OperationDelete:
		err = e.remote.Delete(ctx, mutation.Collection, id)
	default:
		return fmt.Errorf("%w: %q", queue.ErrInvalidOperation, mutation.Operation)
	}
	return err
}

// PushMissing create-only pushes local records whose ids are absent remotely.
// Existing remote documents are left untouched so concurrent edits from other
// devices are not clobbered.
func (e *Engine) PushMissing(ctx context.Context) error {
	deviceID := e.device.DeviceID(ctx)

	var errs []error
	for _, collection := range record.Collections() {
		documents, err := e.remote.List(ctx, collection, remote.MaxPageSize)
		if err != nil {
			errs = append(errs, newEngineError(opPushMissing, "list_failed", err))
			continue
		}
		remoteIDs := make(map[string]struct{}, len(documents))
		for _, document := range documents {
			remoteIDs[document.ID.String()] = struct{}{}
		}

		items, err := e.GetItems(ctx, collection)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, item := range items {
			rawID := item.StringField(record.FieldID)
			if rawID == "" {
				continue
			}
			if _, present := remoteIDs[rawID]; present {
				continue
			}
			id, err := record.NewDocumentID(rawID)
			if err != nil {
				continue
			}
			clean := schema.Sanitize(item, collection, deviceID, e.clock())
			if _, err := e.remote.Create(ctx, collection, id, clean); err != nil {
				e.logError(opPushMissing, "create_failed", err,
					zap.String("collection", collection.String()),
					zap.String("document_id", rawID))
			}
		}
	}

	e.statusMu.Lock()
	e.lastPushAt = e.clock().UTC()
	e.statusMu.Unlock()
	return errors.Join(errs...)
}

// Reconcile performs a full pass: drain the pending queue, pull every
// collection, then create-only push anything still missing remotely.
func (e *Engine) Reconcile(ctx context.Context) error {
	var errs []error
	if err := e.DrainQueue(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.PullAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.PushMissing(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
