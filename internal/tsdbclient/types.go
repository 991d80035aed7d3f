// Package tsdbclient wraps a time-series database's HTTP query surface:
// ping, database/measurement/field discovery, timestamp lookups, windowed
// reads and batched writes. It performs no backup policy of its own.
package tsdbclient

import (
	"fmt"
	"time"
)

// FieldType is a field's declared type as reported by the TSDB.
type FieldType string

const (
	FieldTypeFloat   FieldType = "float"
	FieldTypeInteger FieldType = "integer"
	FieldTypeString  FieldType = "string"
	FieldTypeBoolean FieldType = "boolean"
)

// NormalizedType groups declared types the way measurement filters select
// them: float and integer both count as numeric.
type NormalizedType string

const (
	NormalizedNumeric NormalizedType = "numeric"
	NormalizedString  NormalizedType = "string"
	NormalizedBoolean NormalizedType = "boolean"
)

// Normalize maps a declared field type to its normalized bucket. The second
// return value is false for a type the TSDB reports that this client does
// not recognize (e.g. a future InfluxDB type); such fields are excluded
// from every active field set rather than guessed at.
func (t FieldType) Normalize() (NormalizedType, bool) {
	switch t {
	case FieldTypeFloat, FieldTypeInteger:
		return NormalizedNumeric, true
	case FieldTypeString:
		return NormalizedString, true
	case FieldTypeBoolean:
		return NormalizedBoolean, true
	default:
		return "", false
	}
}

// ValueKind discriminates the active member of a FieldValue.
type ValueKind int

const (
	ValueKindInt ValueKind = iota
	ValueKindFloat
	ValueKindString
	ValueKindBool
)

// FieldValue is a tagged union over the field value types a TSDB line
// protocol point can carry. Field values are polymorphic at the wire level;
// this type makes the polymorphism explicit instead of passing `any` around.
type FieldValue struct {
	kind    ValueKind
	intVal  int64
	fltVal  float64
	strVal  string
	boolVal bool
}

func NewIntValue(v int64) FieldValue      { return FieldValue{kind: ValueKindInt, intVal: v} }
func NewFloatValue(v float64) FieldValue  { return FieldValue{kind: ValueKindFloat, fltVal: v} }
func NewStringValue(v string) FieldValue  { return FieldValue{kind: ValueKindString, strVal: v} }
func NewBoolValue(v bool) FieldValue      { return FieldValue{kind: ValueKindBool, boolVal: v} }

// Kind reports which member of the union is populated.
func (v FieldValue) Kind() ValueKind { return v.kind }

// Any returns the value boxed as an interface{}, for callers that need to
// hand it to a generic serializer.
func (v FieldValue) Any() any {
	switch v.kind {
	case ValueKindInt:
		return v.intVal
	case ValueKindFloat:
		return v.fltVal
	case ValueKindString:
		return v.strVal
	case ValueKindBool:
		return v.boolVal
	default:
		return nil
	}
}

// LineProtocolValue renders the value the way InfluxDB line protocol
// expects it to appear in a field set (e.g. `42i` for an integer).
func (v FieldValue) LineProtocolValue() string {
	switch v.kind {
	case ValueKindInt:
		return fmt.Sprintf("%di", v.intVal)
	case ValueKindFloat:
		return fmt.Sprintf("%g", v.fltVal)
	case ValueKindString:
		return fmt.Sprintf("%q", v.strVal)
	case ValueKindBool:
		return fmt.Sprintf("%t", v.boolVal)
	default:
		return ""
	}
}

// FieldValueFromAny converts a decoded JSON value (as produced by
// encoding/json for a query response) into a FieldValue. ok is false for
// nil (a SQL NULL / missing value), which callers must treat as "absent".
func FieldValueFromAny(raw any) (FieldValue, bool) {
	switch v := raw.(type) {
	case nil:
		return FieldValue{}, false
	case bool:
		return NewBoolValue(v), true
	case string:
		return NewStringValue(v), true
	case float64:
		if v == float64(int64(v)) {
			return NewIntValue(int64(v)), true
		}
		return NewFloatValue(v), true
	case int64:
		return NewIntValue(v), true
	default:
		return FieldValue{}, false
	}
}

// DataPoint is a single point destined for (or read from) a measurement.
// A point whose Fields map is empty after filtering must never be written.
type DataPoint struct {
	Measurement string
	Tags        map[string]string
	Time        time.Time
	Fields      map[string]FieldValue
}

// Row is one row of a query result for a single series: a timestamp plus
// the raw decoded column values (including columns not in the requested
// field set, and including nulls, which callers filter out explicitly).
type Row struct {
	Time   time.Time
	Values map[string]any
}

// Series is one `(measurement, tag-set)` group from a GROUP BY * result,
// with its rows in the order the TSDB returned them (chronological, for the
// time-ordered queries this client issues).
type Series struct {
	Name string
	Tags map[string]string
	Rows []Row
}

// QueryResult holds every series returned by a query, preserving the
// `(series_name, tag_map) -> ordered_rows` shape the TSDB's GROUP BY *
// produces. A flat row list would discard tag identity; this type exists so
// that never happens between the wire and the backup manager.
type QueryResult struct {
	Series []Series
}
