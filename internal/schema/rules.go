package schema

import "github.com/stafflinehq/staffline/internal/record"

// Coercion names the transformation applied to a whitelisted field before it
// leaves the device.
type Coercion int

const (
	// CoerceText passes string values through and renders other scalars.
	CoerceText Coercion = iota
	// CoerceMoney parses numeric strings into floats.
	CoerceMoney
	// CoerceCount parses values into integers.
	CoerceCount
	// CoerceList turns comma-joined strings into arrays of trimmed strings.
	CoerceList
	// CoerceTimestamp substitutes the current time for missing values.
	CoerceTimestamp
	// CoerceFlag normalizes truthy values into booleans.
	CoerceFlag
)

// FieldRule binds a transmitted field name to its coercion.
type FieldRule struct {
	Name   string
	Coerce Coercion
}

// collectionRules is the declarative per-collection whitelist. Fields outside
// a collection's rules never leave the device.
var collectionRules = map[record.Collection][]FieldRule{
	record.CollectionEmployees: {
		{Name: "name", Coerce: CoerceText},
		{Name: "badgeNumber", Coerce: CoerceText},
		{Name: "department", Coerce: CoerceText},
		{Name: "position", Coerce: CoerceText},
		{Name: "email", Coerce: CoerceText},
		{Name: "phone", Coerce: CoerceText},
		{Name: "hourlyRate", Coerce: CoerceMoney},
		{Name: "startDate", Coerce: CoerceText},
		{Name: "skills", Coerce: CoerceList},
		{Name: "active", Coerce: CoerceFlag},
	},
	record.CollectionCases: {
		{Name: "title", Coerce: CoerceText},
		{Name: "description", Coerce: CoerceText},
		{Name: "status", Coerce: CoerceText},
		{Name: "assignedTo", Coerce: CoerceText},
		{Name: "priority", Coerce: CoerceCount},
		{Name: "openedAt", Coerce: CoerceText},
		{Name: "tags", Coerce: CoerceList},
	},
	record.CollectionExpenses: {
		{Name: "title", Coerce: CoerceText},
		{Name: "amount", Coerce: CoerceMoney},
		{Name: "currency", Coerce: CoerceText},
		{Name: "category", Coerce: CoerceText},
		{Name: "incurredAt", Coerce: CoerceText},
		{Name: "receiptRefs", Coerce: CoerceList},
		{Name: "approved", Coerce: CoerceFlag},
	},
	record.CollectionAttendance: {
		{Name: "employeeId", Coerce: CoerceText},
		{Name: "employeeName", Coerce: CoerceText},
		{Name: "date", Coerce: CoerceText},
		{Name: "status", Coerce: CoerceText},
		{Name: "timestamp", Coerce: CoerceTimestamp},
		{Name: "hoursWorked", Coerce: CoerceMoney},
		{Name: "notes", Coerce: CoerceText},
	},
	record.CollectionCustomOptions: {
		{Name: "itemName", Coerce: CoerceText},
		{Name: "options", Coerce: CoerceList},
		{Name: "updatedBy", Coerce: CoerceText},
	},
}

// attendanceRequiredFields are carried over from the input even when the
// whitelist pass dropped them, with timestamp defaulting to "now".
var attendanceRequiredFields = []string{"employeeId", "employeeName", "date", "status", "timestamp"}

// Rules returns the field rules for a collection.
func Rules(collection record.Collection) []FieldRule {
	return collectionRules[collection]
}
