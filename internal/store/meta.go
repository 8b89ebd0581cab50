package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// MetaKind identifies which variant a MetaValue holds.
type MetaKind int

const (
	MetaString MetaKind = iota
	MetaNumber
	MetaBool
	MetaMap
)

// MetaValue is a constrained metadata value: string, number, bool, or a
// nested mapping. Free-form chunk metadata is typed as map[string]MetaValue
// instead of an untyped blob so serialization stays deterministic.
type MetaValue struct {
	kind MetaKind
	str  string
	num  float64
	b    bool
	m    map[string]MetaValue
}

// MetaStr constructs a string metadata value.
func MetaStr(s string) MetaValue { return MetaValue{kind: MetaString, str: s} }

// MetaNum constructs a numeric metadata value.
func MetaNum(n float64) MetaValue { return MetaValue{kind: MetaNumber, num: n} }

// MetaFlag constructs a boolean metadata value.
func MetaFlag(b bool) MetaValue { return MetaValue{kind: MetaBool, b: b} }

// MetaNested constructs a nested mapping metadata value.
func MetaNested(m map[string]MetaValue) MetaValue { return MetaValue{kind: MetaMap, m: m} }

// Kind returns the variant held by this value.
func (v MetaValue) Kind() MetaKind { return v.kind }

// Str returns the string variant (zero value if not a string).
func (v MetaValue) Str() string { return v.str }

// Num returns the numeric variant (zero value if not a number).
func (v MetaValue) Num() float64 { return v.num }

// Flag returns the boolean variant (zero value if not a bool).
func (v MetaValue) Flag() bool { return v.b }

// Nested returns the nested mapping variant (nil if not a map).
func (v MetaValue) Nested() map[string]MetaValue { return v.m }

// MarshalJSON serializes the bare variant value. Nested maps are emitted
// with keys in sorted order for byte-stable output.
func (v MetaValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case MetaString:
		return json.Marshal(v.str)
	case MetaNumber:
		return json.Marshal(v.num)
	case MetaBool:
		return json.Marshal(v.b)
	case MetaMap:
		return marshalMetaMap(v.m)
	default:
		return nil, fmt.Errorf("unknown meta kind %d", v.kind)
	}
}

func marshalMetaMap(m map[string]MetaValue) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, k)
		buf = append(buf, ':')
		vb, err := m[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	return append(buf, '}'), nil
}

// UnmarshalJSON accepts a bare string, number, bool, or object.
// Arrays and null are rejected to keep the union closed.
func (v *MetaValue) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty meta value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = MetaStr(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = MetaFlag(b)
		return nil
	case '{':
		var m map[string]MetaValue
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*v = MetaNested(m)
		return nil
	case '[', 'n':
		return fmt.Errorf("unsupported meta value: %s", string(data))
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = MetaNum(n)
		return nil
	}
}
