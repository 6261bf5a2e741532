package record

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Collection enumerates the record categories the engine synchronizes.
type Collection string

const (
	// CollectionEmployees holds personnel records.
	CollectionEmployees Collection = "employees"
	// CollectionCases holds case records.
	CollectionCases Collection = "cases"
	// CollectionExpenses holds expense records.
	CollectionExpenses Collection = "expenses"
	// CollectionAttendance holds attendance records.
	CollectionAttendance Collection = "attendance"
	// CollectionCustomOptions holds lookup-option lists.
	CollectionCustomOptions Collection = "customOptions"
)

const maxDocumentIDLength = 36

// Well-known field names shared across collections.
const (
	FieldID        = "id"
	FieldLocalID   = "$id"
	FieldDeviceID  = "deviceId"
	FieldUpdatedAt = "updatedAt"
	FieldTimestamp = "timestamp"
)

// Persisted local key layout.
const (
	DeviceIDKey      = "device_id"
	PendingKeyPrefix = "pending_sync_"
	CustomKeyPrefix  = "custom_"
)

var (
	// ErrUnknownCollection indicates a collection name outside the fixed set.
	ErrUnknownCollection = errors.New("record: unknown collection")
	// ErrInvalidDocumentID indicates a document identifier that violates storage bounds.
	ErrInvalidDocumentID = errors.New("record: invalid document id")
)

var allCollections = []Collection{
	CollectionEmployees,
	CollectionCases,
	CollectionExpenses,
	CollectionAttendance,
	CollectionCustomOptions,
}

// Collections returns the fixed set of synchronized collections.
func Collections() []Collection {
	return append([]Collection(nil), allCollections...)
}

// ParseCollection validates raw input against the fixed collection set.
func ParseCollection(rawInput string) (Collection, error) {
	trimmed := strings.TrimSpace(rawInput)
	for _, collection := range allCollections {
		if string(collection) == trimmed {
			return collection, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCollection, rawInput)
}

// String returns the collection name.
func (c Collection) String() string {
	return string(c)
}

// BusinessKey returns the field required to be unique per device within the
// collection. The second return is false for collections without one.
func (c Collection) BusinessKey() (string, bool) {
	switch c {
	case CollectionEmployees:
		return "badgeNumber", true
	case CollectionCases, CollectionExpenses:
		return "title", true
	default:
		return "", false
	}
}

// DocumentID represents a validated document identifier. The same rule applies
// at write time and at queue replay time.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID. Identifiers are
// at most 36 characters, start with a letter or digit, and continue with
// letters, digits, '.', '-' or '_'.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxDocumentIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxDocumentIDLength)
	}
	if !isAlphanumeric(trimmed[0]) {
		return "", fmt.Errorf("%w: must start with a letter or digit", ErrInvalidDocumentID)
	}
	for i := 1; i < len(trimmed); i++ {
		ch := trimmed[i]
		if isAlphanumeric(ch) || ch == '.' || ch == '-' || ch == '_' {
			continue
		}
		return "", fmt.Errorf("%w: illegal character %q", ErrInvalidDocumentID, ch)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

func isAlphanumeric(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

// Record models a dynamically-shaped document payload.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	copied := make(Record, len(r))
	for name, value := range r {
		copied[name] = value
	}
	return copied
}

// StringField returns the named field rendered as a string, or "" when absent.
func (r Record) StringField(name string) string {
	value, ok := r[name]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return typed
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// UpdatedAt parses the record's updatedAt field. RFC 3339 strings and unix
// second values are both accepted; the zero time is returned when the field is
// absent or unparseable.
func (r Record) UpdatedAt() time.Time {
	value, ok := r[FieldUpdatedAt]
	if !ok || value == nil {
		return time.Time{}
	}
	switch typed := value.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, typed); err == nil {
			return parsed
		}
		if parsed, err := time.Parse(time.RFC3339, typed); err == nil {
			return parsed
		}
		return time.Time{}
	case time.Time:
		return typed
	case float64:
		return time.Unix(int64(typed), 0).UTC()
	case int64:
		return time.Unix(typed, 0).UTC()
	case int:
		return time.Unix(int64(typed), 0).UTC()
	default:
		return time.Time{}
	}
}

// CacheKey builds the local cache key for a document in a collection.
func CacheKey(collection Collection, id DocumentID) string {
	return fmt.Sprintf("%s_%s", collection, id)
}

// CollectionKeyPrefix returns the local cache key prefix for a collection.
func CollectionKeyPrefix(collection Collection) string {
	return string(collection) + "_"
}

// SplitCacheKey extracts the document identifier from a cache key belonging to
// the collection. The second return is false when the key lies outside the
// collection's prefix.
func SplitCacheKey(collection Collection, key string) (string, bool) {
	prefix := CollectionKeyPrefix(collection)
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	id := key[len(prefix):]
	if id == "" {
		return "", false
	}
	return id, true
}
