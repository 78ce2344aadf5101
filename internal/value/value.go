// Package value defines the generic tree every parsed document is converted
// into: scalars, ordered mappings and sequences.
//
// A Value is immutable once built. Mappings keep the insertion order of their
// keys, which is the order the keys appeared in the source document; that
// order drives header order downstream.
package value

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMapping
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Field is one key/value pair of a Mapping.
type Field struct {
	Key   string
	Value Value
}

// Value is a tagged union. The zero Value is Null.
type Value struct {
	kind   Kind
	str    string // String contents or Number literal
	b      bool
	fields []Field
	index  map[string]int
	items  []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string scalar.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a number scalar. lit is kept verbatim so that the text form
// of the value matches the source (for example "2.50" stays "2.50").
func Number(lit string) Value { return Value{kind: KindNumber, str: lit} }

// Bool returns a boolean scalar.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Sequence returns an ordered sequence. items is copied.
func Sequence(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindSequence, items: cp}
}

// Mapping returns an ordered mapping built from fields. A repeated key keeps
// the position of its first occurrence and the value of its last.
func Mapping(fields ...Field) Value {
	var b MappingBuilder
	for _, f := range fields {
		b.Set(f.Key, f.Value)
	}
	return b.Build()
}

// MappingBuilder accumulates fields for a Mapping. The zero value is ready to use.
type MappingBuilder struct {
	fields []Field
	index  map[string]int
}

// Set adds key or replaces its value in place.
func (b *MappingBuilder) Set(key string, v Value) {
	if b.index == nil {
		b.index = make(map[string]int)
	}
	if i, ok := b.index[key]; ok {
		b.fields[i].Value = v
		return
	}
	b.index[key] = len(b.fields)
	b.fields = append(b.fields, Field{Key: key, Value: v})
}

// Get returns the value currently stored under key.
func (b *MappingBuilder) Get(key string) (Value, bool) {
	i, ok := b.index[key]
	if !ok {
		return Value{}, false
	}
	return b.fields[i].Value, true
}

// Len returns the number of distinct keys set so far.
func (b *MappingBuilder) Len() int { return len(b.fields) }

// Build returns the Mapping. The builder must not be used afterwards.
func (b *MappingBuilder) Build() Value {
	v := Value{kind: KindMapping, fields: b.fields, index: b.index}
	if v.index == nil {
		v.index = map[string]int{}
	}
	b.fields, b.index = nil, nil
	return v
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsScalar reports whether v is neither a Mapping nor a Sequence.
func (v Value) IsScalar() bool { return v.kind != KindMapping && v.kind != KindSequence }

// IsContainer reports whether v is a Mapping or a Sequence.
func (v Value) IsContainer() bool { return !v.IsScalar() }

// Str returns the string contents of a String or the literal of a Number.
func (v Value) Str() string { return v.str }

// BoolValue returns the payload of a Bool.
func (v Value) BoolValue() bool { return v.b }

// Len returns the number of fields of a Mapping or items of a Sequence, and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindMapping:
		return len(v.fields)
	case KindSequence:
		return len(v.items)
	default:
		return 0
	}
}

// Fields returns the fields of a Mapping in order. The slice must not be modified.
func (v Value) Fields() []Field {
	if v.kind != KindMapping {
		return nil
	}
	return v.fields
}

// Items returns the items of a Sequence in order. The slice must not be modified.
func (v Value) Items() []Value {
	if v.kind != KindSequence {
		return nil
	}
	return v.items
}

// Keys returns the keys of a Mapping in order.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	keys := make([]string, len(v.fields))
	for i, f := range v.fields {
		keys[i] = f.Key
	}
	return keys
}

// Get looks up key in a Mapping.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Value{}, false
	}
	i, ok := v.index[key]
	if !ok {
		return Value{}, false
	}
	return v.fields[i].Value, true
}

// Index returns item i of a Sequence.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindSequence || i < 0 || i >= len(v.items) {
		return Value{}, false
	}
	return v.items[i], true
}

// Text returns the display string used for searching, filtering, sorting and
// table cells. Null is empty, a Sequence joins its element texts with ",",
// and a Mapping renders as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString, KindNumber:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindSequence:
		parts := make([]string, len(v.items))
		for i, it := range v.items {
			parts[i] = it.Text()
		}
		return strings.Join(parts, ",")
	case KindMapping:
		var buf bytes.Buffer
		v.writeJSON(&buf)
		return buf.String()
	default:
		return ""
	}
}

// Equal reports deep equality, including mapping key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString, KindNumber:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindSequence:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for i := range v.fields {
			if v.fields[i].Key != o.fields[i].Key || !v.fields[i].Value.Equal(o.fields[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON encodes v as JSON, keeping mapping key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.writeJSON(&buf)
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		writeJSONString(buf, v.str)
	case KindNumber:
		if json.Valid([]byte(v.str)) {
			buf.WriteString(v.str)
		} else {
			writeJSONString(buf, v.str)
		}
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindSequence:
		buf.WriteByte('[')
		for i, it := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			it.writeJSON(buf)
		}
		buf.WriteByte(']')
	case KindMapping:
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, f.Key)
			buf.WriteByte(':')
			f.Value.writeJSON(buf)
		}
		buf.WriteByte('}')
	}
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
}
