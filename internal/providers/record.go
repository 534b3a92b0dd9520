package providers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ValueKind tags the closed set of value types a CRM field can carry.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

// Value is the canonical field value exchanged with providers. Keeping the
// variant closed lets transformation and hashing logic switch exhaustively
// instead of reflecting over arbitrary interface{} payloads.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

func Null() Value                 { return Value{Kind: KindNull} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Number(f float64) Value      { return Value{Kind: KindNumber, Num: f} }
func Boolean(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTime, Time: t.UTC()} }

// FromAny coerces a dynamic value (JSON decode, Mongo document) into the
// closed variant. Unknown types fall back to their string form.
func FromAny(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null()
	case string:
		return String(val)
	case float64:
		return Number(val)
	case float32:
		return Number(float64(val))
	case int:
		return Number(float64(val))
	case int32:
		return Number(float64(val))
	case int64:
		return Number(float64(val))
	case bool:
		return Boolean(val)
	case time.Time:
		return Timestamp(val)
	case primitive.DateTime:
		return Timestamp(val.Time())
	case primitive.ObjectID:
		return String(val.Hex())
	default:
		return String(fmt.Sprintf("%v", val))
	}
}

func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// Any converts back to the dynamic representation used for JSON bodies and
// platform record documents.
func (v Value) Any() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindTime:
		return v.Time
	default:
		return nil
	}
}

// Text is the canonical string form used for hashing and transformations.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTime:
		return v.Time.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindTime:
		return v.Time.Equal(o.Time)
	default:
		return v == o
	}
}

// CrmRecord is an ordered field-name -> Value map. Insertion order is kept
// so outbound payloads stay stable; Canonical() sorts for hashing.
type CrmRecord struct {
	keys   []string
	values map[string]Value
}

func NewCrmRecord() *CrmRecord {
	return &CrmRecord{values: make(map[string]Value)}
}

// RecordFromMap builds a record from a dynamic map, inserting keys sorted.
func RecordFromMap(m map[string]any) *CrmRecord {
	rec := NewCrmRecord()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec.Set(k, FromAny(m[k]))
	}
	return rec
}

func (r *CrmRecord) Set(name string, v Value) {
	if _, exists := r.values[name]; !exists {
		r.keys = append(r.keys, name)
	}
	r.values[name] = v
}

func (r *CrmRecord) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

func (r *CrmRecord) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Keys returns field names in insertion order.
func (r *CrmRecord) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// ToMap flattens the record for JSON request bodies.
func (r *CrmRecord) ToMap() map[string]any {
	m := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		m[k] = r.values[k].Any()
	}
	return m
}

// Canonical renders "name=value" pairs sorted by field name. The content
// hash stored on a correlation row is computed over this form, scoped to
// the mapped fields only.
func (r *CrmRecord) Canonical() string {
	keys := r.Keys()
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.values[k].Text())
	}
	return b.String()
}
