// Package parser detects the format of raw text and dispatches it to the
// JSON or XML tree decoder.
package parser

import (
	"bytes"

	"datagrid/internal/apperr"
	jsonparser "datagrid/internal/parser/json"
	xmlparser "datagrid/internal/parser/xml"
	"datagrid/internal/value"
)

// Format is the detected input format.
type Format int

const (
	Unrecognized Format = iota
	XML
	JSON
)

func (f Format) String() string {
	switch f {
	case XML:
		return "XML"
	case JSON:
		return "JSON"
	default:
		return "unrecognized"
	}
}

// Detect classifies text by its first non-whitespace byte. It never validates:
// "<oops" is XML and "{oops" is JSON.
func Detect(text string) Format {
	trim := bytes.TrimSpace([]byte(text))
	if len(trim) == 0 {
		return Unrecognized
	}
	switch trim[0] {
	case '<':
		return XML
	case '{', '[':
		return JSON
	default:
		return Unrecognized
	}
}

// Options carries per-format decoding knobs.
type Options struct {
	// RecordPath selects the row items: a gjson path for JSON, an XPath
	// expression for XML. Empty uses the default root rules.
	RecordPath string

	// XMLSiblings decides how repeated child tags are merged.
	XMLSiblings xmlparser.SiblingMode

	// JSONLines reads JSON text as a sequence of top-level values.
	JSONLines bool

	// MaxDepth bounds nesting for both formats. <= 0 uses each decoder's default.
	MaxDepth int
}

// Parse decodes text in the given format into row items.
func Parse(text string, format Format, opts Options) ([]value.Value, error) {
	switch format {
	case JSON:
		return jsonparser.Decode(text, jsonparser.Options{
			RecordPath: opts.RecordPath,
			MaxDepth:   opts.MaxDepth,
			Lines:      opts.JSONLines,
		})
	case XML:
		return xmlparser.Decode(text, xmlparser.Options{
			RecordPath: opts.RecordPath,
			Siblings:   opts.XMLSiblings,
			MaxDepth:   opts.MaxDepth,
		})
	default:
		return nil, apperr.New(apperr.KindUnrecognizedFormat, "")
	}
}
