package table

import (
	"bytes"
	"encoding/json"

	"datagrid/internal/value"
)

// Flat is an ordered mapping from dot-path to leaf value. Values are never
// mappings; sequences are kept whole.
type Flat struct {
	keys []string
	vals map[string]value.Value
}

// Keys returns the paths in first-insertion order. The slice must not be modified.
func (f Flat) Keys() []string { return f.keys }

// Len returns the number of paths.
func (f Flat) Len() int { return len(f.keys) }

// Get returns the value stored at path.
func (f Flat) Get(path string) (value.Value, bool) {
	v, ok := f.vals[path]
	return v, ok
}

// Text returns the display text at path, or "" when path is absent.
func (f Flat) Text(path string) string {
	v, ok := f.vals[path]
	if !ok {
		return ""
	}
	return v.Text()
}

func (f *Flat) set(path string, v value.Value) {
	if f.vals == nil {
		f.vals = make(map[string]value.Value)
	}
	if _, ok := f.vals[path]; !ok {
		f.keys = append(f.keys, path)
	}
	f.vals[path] = v
}

// MarshalJSON encodes the paths in order.
func (f Flat) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := f.vals[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// flattenFrame is one mapping being walked by Flatten.
type flattenFrame struct {
	prefix string
	fields []value.Field
	next   int
}

// Flatten converts a mapping into dot-path form. Nested mappings are merged
// with "parent.child" paths; scalars and sequences are leaves. When two paths
// collide (e.g. a literal "a.b" key and a nested a:{b}) the later value wins
// and the first position is kept. A non-mapping input yields an empty Flat.
//
// The walk uses an explicit stack so arbitrarily deep input cannot exhaust
// the goroutine stack.
func Flatten(m value.Value) Flat {
	var out Flat
	if m.Kind() != value.KindMapping {
		return out
	}

	stack := []flattenFrame{{fields: m.Fields()}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.fields) {
			stack = stack[:len(stack)-1]
			continue
		}
		f := top.fields[top.next]
		top.next++

		path := f.Key
		if top.prefix != "" {
			path = top.prefix + "." + f.Key
		}
		if f.Value.Kind() == value.KindMapping {
			stack = append(stack, flattenFrame{prefix: path, fields: f.Value.Fields()})
			continue
		}
		out.set(path, f.Value)
	}
	return out
}
