// Package json turns JSON text into row items.
//
// Root handling:
//   - A root array yields its elements.
//   - A root object yields the elements of its first array-valued property
//     (envelope pattern, e.g. {"meta":{...},"data":[...]}), even when that
//     array is empty. Without one, the object itself is the only row.
//   - Any other root (string, number, bool, null) is rejected.
//   - Anything after the first top-level value is a syntax error.
//
// With Options.Lines the text is JSON Lines instead: every top-level value is
// read in order, an object is one row and an array contributes its elements.
// The envelope rule does not apply per line, since a line's own array
// properties are data.
//
// Decoding walks tokens with encoding/json so that object key order survives;
// map[string]any would lose the "first-declared property" needed above.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"datagrid/internal/apperr"
	"datagrid/internal/value"

	"github.com/tidwall/gjson"
)

// FormatName is the label used in InvalidFormat errors.
const FormatName = "JSON"

// DefaultMaxDepth bounds container nesting.
const DefaultMaxDepth = 512

// Options controls decoding.
type Options struct {
	// RecordPath is an optional gjson path (e.g. "data.items") selecting the
	// value that is treated as the root before the rules above apply.
	RecordPath string

	// MaxDepth bounds container nesting. <= 0 means DefaultMaxDepth.
	MaxDepth int

	// Lines reads the text as JSON Lines. RecordPath then applies to each
	// value, and values where it matches nothing are skipped.
	Lines bool
}

// Decode parses text and returns the row items it contains.
//
// Errors:
//   - apperr.KindInvalidFormat for syntax errors, a scalar root, an over-deep
//     document, or a RecordPath applied to invalid JSON.
//   - apperr.KindEmptyInput when no items remain (e.g. "[]" or an unmatched RecordPath).
func Decode(text string, opts Options) ([]value.Value, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	var (
		items []value.Value
		err   error
	)
	if opts.Lines {
		items, err = decodeLines(text, strings.TrimSpace(opts.RecordPath), maxDepth)
	} else {
		items, err = decodeDocument(text, strings.TrimSpace(opts.RecordPath), maxDepth)
	}
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, apperr.New(apperr.KindEmptyInput, "no records found")
	}
	return items, nil
}

func itemsFromRoot(root value.Value) ([]value.Value, error) {
	switch root.Kind() {
	case value.KindSequence:
		return root.Items(), nil
	case value.KindMapping:
		for _, f := range root.Fields() {
			if f.Value.Kind() == value.KindSequence {
				return f.Value.Items(), nil
			}
		}
		return []value.Value{root}, nil
	default:
		return nil, apperr.Invalid(FormatName, "root must be an object or an array", nil)
	}
}

func decodeDocument(text, recordPath string, maxDepth int) ([]value.Value, error) {
	if recordPath != "" {
		if !gjson.Valid(text) {
			return nil, apperr.Invalid(FormatName, "document is not valid JSON", nil)
		}
		res := gjson.Get(text, recordPath)
		if !res.Exists() {
			return nil, apperr.New(apperr.KindEmptyInput, fmt.Sprintf("record path %q matched nothing", recordPath))
		}
		text = res.Raw
	}

	root, ok, err := decodeOne(text, maxDepth)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindEmptyInput, "")
	}
	return itemsFromRoot(root)
}

// decodeLines reads every top-level value in text. The raw bytes of each
// value are sliced out by decoder offset so RecordPath can run on them.
func decodeLines(text, recordPath string, maxDepth int) ([]value.Value, error) {
	dec := newDecoder(text)

	var items []value.Value
	for n := 1; ; n++ {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, syntaxErr(err)
		}
		root, err := materialize(dec, tok, 1, maxDepth)
		if err != nil {
			return nil, err
		}

		if recordPath != "" {
			res := gjson.Get(text[start:dec.InputOffset()], recordPath)
			if !res.Exists() {
				continue
			}
			if root, _, err = decodeOne(res.Raw, maxDepth); err != nil {
				return nil, err
			}
		}

		switch root.Kind() {
		case value.KindMapping:
			items = append(items, root)
		case value.KindSequence:
			items = append(items, root.Items()...)
		default:
			return nil, apperr.Invalid(FormatName, fmt.Sprintf("line value %d must be an object or an array", n), nil)
		}
	}
}

// decodeOne reads exactly one top-level value. ok is false for blank text.
func decodeOne(text string, maxDepth int) (v value.Value, ok bool, err error) {
	dec := newDecoder(text)
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return value.Value{}, false, nil
	}
	if err != nil {
		return value.Value{}, false, syntaxErr(err)
	}
	if v, err = materialize(dec, tok, 1, maxDepth); err != nil {
		return value.Value{}, false, err
	}

	end := dec.InputOffset()
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err != nil {
			return value.Value{}, false, syntaxErr(err)
		}
		return value.Value{}, false, apperr.Invalid(FormatName,
			fmt.Sprintf("unexpected data after the top-level value (at offset %d)", end), nil)
	}
	return v, true, nil
}

func newDecoder(text string) *json.Decoder {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	return dec
}

// materialize builds a Value for the JSON value whose first token was already read.
func materialize(dec *json.Decoder, tok json.Token, depth, maxDepth int) (value.Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		if depth > maxDepth {
			return value.Value{}, apperr.Invalid(FormatName, fmt.Sprintf("maximum nesting depth %d exceeded", maxDepth), nil)
		}
		switch t {
		case '{':
			var b value.MappingBuilder
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return value.Value{}, syntaxErr(err)
				}
				k, ok := kt.(string)
				if !ok {
					return value.Value{}, apperr.Invalid(FormatName, fmt.Sprintf("object key is not a string (got %T)", kt), nil)
				}
				vt, err := dec.Token()
				if err != nil {
					return value.Value{}, syntaxErr(err)
				}
				v, err := materialize(dec, vt, depth+1, maxDepth)
				if err != nil {
					return value.Value{}, err
				}
				b.Set(k, v)
			}
			if err := expectEnd(dec, '}'); err != nil {
				return value.Value{}, err
			}
			return b.Build(), nil

		case '[':
			var items []value.Value
			for dec.More() {
				vt, err := dec.Token()
				if err != nil {
					return value.Value{}, syntaxErr(err)
				}
				v, err := materialize(dec, vt, depth+1, maxDepth)
				if err != nil {
					return value.Value{}, err
				}
				items = append(items, v)
			}
			if err := expectEnd(dec, ']'); err != nil {
				return value.Value{}, err
			}
			return value.Sequence(items...), nil

		default:
			return value.Value{}, apperr.Invalid(FormatName, fmt.Sprintf("unexpected delimiter %q", rune(t)), nil)
		}

	case string:
		return value.String(t), nil
	case json.Number:
		return value.Number(t.String()), nil
	case bool:
		return value.Bool(t), nil
	case nil:
		return value.Null(), nil
	default:
		return value.Value{}, apperr.Invalid(FormatName, fmt.Sprintf("unexpected token %T", tok), nil)
	}
}

func expectEnd(dec *json.Decoder, want json.Delim) error {
	end, err := dec.Token()
	if err != nil {
		return syntaxErr(err)
	}
	if end != want {
		return apperr.Invalid(FormatName, fmt.Sprintf("expected %q, got %v", rune(want), end), nil)
	}
	return nil
}

func syntaxErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperr.Invalid(FormatName, "unexpected end of input", err)
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		return apperr.Invalid(FormatName, fmt.Sprintf("%s (at offset %d)", se.Error(), se.Offset), err)
	}
	return apperr.Invalid(FormatName, err.Error(), err)
}
