package schema

import (
	"strconv"
	"strings"
	"time"

	"github.com/stafflinehq/staffline/internal/record"
)

// Sanitize reduces a record to the collection's accepted-field contract. The
// identifier fields never travel in the payload, every whitelisted field is
// coerced to its remote type, null and empty-array values are omitted, and the
// device identifier is always stamped. The output is never empty: a record
// with nothing left still carries deviceId.
func Sanitize(input record.Record, collection record.Collection, deviceID string, now time.Time) record.Record {
	clean := record.Record{}

	for _, rule := range Rules(collection) {
		value, present := input[rule.Name]
		coerced, keep := coerce(value, present, rule.Coerce, now)
		if keep {
			clean[rule.Name] = coerced
		}
	}

	if collection == record.CollectionAttendance {
		backfillAttendance(input, clean, now)
	}

	delete(clean, record.FieldID)
	delete(clean, record.FieldLocalID)

	if stamped := strings.TrimSpace(input.StringField(record.FieldDeviceID)); stamped != "" {
		clean[record.FieldDeviceID] = stamped
	} else {
		clean[record.FieldDeviceID] = deviceID
	}

	return clean
}

// backfillAttendance carries the required attendance fields over from the
// original input, defaulting a missing timestamp to the current time.
func backfillAttendance(input, clean record.Record, now time.Time) {
	for _, name := range attendanceRequiredFields {
		if _, ok := clean[name]; ok {
			continue
		}
		if name == record.FieldTimestamp {
			clean[name] = now.UTC().Format(time.RFC3339)
			continue
		}
		if value, ok := input[name]; ok && value != nil {
			clean[name] = value
		}
	}
}

func coerce(value any, present bool, coercion Coercion, now time.Time) (any, bool) {
	if coercion == CoerceTimestamp {
		return coerceTimestamp(value, now), true
	}
	if !present || value == nil {
		return nil, false
	}

	switch coercion {
	case CoerceText:
		return coerceText(value)
	case CoerceMoney:
		return coerceMoney(value)
	case CoerceCount:
		return coerceCount(value)
	case CoerceList:
		return coerceList(value)
	case CoerceFlag:
		return coerceFlag(value)
	default:
		return value, true
	}
}

func coerceText(value any) (any, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case bool:
		return strconv.FormatBool(typed), true
	default:
		return nil, false
	}
}

func coerceMoney(value any) (any, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return nil, false
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, false
		}
		return parsed, true
	default:
		return nil, false
	}
}

func coerceCount(value any) (any, bool) {
	switch typed := value.(type) {
	case int:
		return typed, true
	case int64:
		return int(typed), true
	case float64:
		return int(typed), true
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return nil, false
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, false
		}
		return parsed, true
	default:
		return nil, false
	}
}

func coerceList(value any) (any, bool) {
	var items []string
	switch typed := value.(type) {
	case []string:
		items = typed
	case []any:
		for _, element := range typed {
			if text, ok := element.(string); ok {
				items = append(items, text)
			}
		}
	case string:
		for _, part := range strings.Split(typed, ",") {
			items = append(items, part)
		}
	default:
		return nil, false
	}

	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	// The remote schema cannot represent certain empty-array types; absence
	// is treated as equivalent.
	if len(cleaned) == 0 {
		return nil, false
	}
	return cleaned, true
}

func coerceTimestamp(value any, now time.Time) any {
	if value == nil {
		return now.UTC().Format(time.RFC3339)
	}
	if text, ok := value.(string); ok {
		if strings.TrimSpace(text) == "" {
			return now.UTC().Format(time.RFC3339)
		}
		return text
	}
	return value
}

func coerceFlag(value any) (any, bool) {
	switch typed := value.(type) {
	case bool:
		return typed, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err != nil {
			return nil, false
		}
		return parsed, true
	default:
		return nil, false
	}
}
