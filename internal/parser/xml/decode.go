// Package xml turns XML text into row items.
//
// The direct element children of the root element are the rows. Each element
// converts to:
//   - a mapping keyed by child tag name when it has child elements,
//   - a mapping of its attributes when it has no child elements but has attributes,
//   - its text content otherwise.
package xml

import (
	"fmt"
	"strings"

	"datagrid/internal/apperr"
	"datagrid/internal/value"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// FormatName is the label used in InvalidFormat errors.
const FormatName = "XML"

// DefaultMaxDepth bounds element nesting.
const DefaultMaxDepth = 512

// SiblingMode decides what happens when an element has several children
// with the same tag name.
type SiblingMode int

const (
	// SiblingsCollect gathers same-named siblings into a sequence placed at
	// the first sibling's position.
	SiblingsCollect SiblingMode = iota
	// SiblingsLastWins keeps only the last sibling's value at the first sibling's position.
	SiblingsLastWins
)

// Options controls decoding.
type Options struct {
	// RecordPath is an optional XPath expression selecting the row elements
	// instead of the root's children (e.g. "//catalog/book").
	RecordPath string

	Siblings SiblingMode

	// MaxDepth bounds element nesting. <= 0 means DefaultMaxDepth.
	MaxDepth int
}

// Decode parses text and returns the row items it contains.
//
// Errors:
//   - apperr.KindInvalidFormat for malformed XML, zero or several root
//     elements, text outside the root, an invalid RecordPath, or nesting
//     deeper than MaxDepth.
//   - apperr.KindEmptyInput when no row elements are found.
func Decode(text string, opts Options) ([]value.Value, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	doc, err := xmlquery.Parse(strings.NewReader(text))
	if err != nil {
		return nil, apperr.Invalid(FormatName, err.Error(), err)
	}
	root, err := documentRoot(doc)
	if err != nil {
		return nil, err
	}

	var rows []*xmlquery.Node
	if p := strings.TrimSpace(opts.RecordPath); p != "" {
		expr, err := xpath.Compile(p)
		if err != nil {
			return nil, apperr.Invalid(FormatName, fmt.Sprintf("invalid record path %q: %v", p, err), err)
		}
		for _, n := range xmlquery.QuerySelectorAll(doc, expr) {
			if n.Type == xmlquery.ElementNode {
				rows = append(rows, n)
			}
		}
		if len(rows) == 0 {
			return nil, apperr.New(apperr.KindEmptyInput, fmt.Sprintf("record path %q matched no elements", p))
		}
	} else {
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == xmlquery.ElementNode {
				rows = append(rows, c)
			}
		}
		if len(rows) == 0 {
			return nil, apperr.New(apperr.KindEmptyInput, "root element has no child elements")
		}
	}

	c := converter{siblings: opts.Siblings, maxDepth: maxDepth}
	items := make([]value.Value, 0, len(rows))
	for _, n := range rows {
		v, err := c.element(n, 1)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// documentRoot returns the single root element of doc.
func documentRoot(doc *xmlquery.Node) (*xmlquery.Node, error) {
	var root *xmlquery.Node
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode:
			if root != nil {
				return nil, apperr.Invalid(FormatName, "multiple root elements", nil)
			}
			root = c
		case xmlquery.TextNode, xmlquery.CharDataNode:
			if strings.TrimSpace(c.Data) != "" {
				return nil, apperr.Invalid(FormatName, "content outside the root element", nil)
			}
		}
	}
	if root == nil {
		return nil, apperr.Invalid(FormatName, "no root element", nil)
	}
	return root, nil
}

type converter struct {
	siblings SiblingMode
	maxDepth int
}

func (c converter) element(n *xmlquery.Node, depth int) (value.Value, error) {
	if depth > c.maxDepth {
		return value.Value{}, apperr.Invalid(FormatName, fmt.Sprintf("maximum nesting depth %d exceeded", c.maxDepth), nil)
	}

	var (
		order  []string
		groups map[string][]value.Value
	)
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type != xmlquery.ElementNode {
			continue
		}
		if groups == nil {
			groups = make(map[string][]value.Value)
		}
		name := qualifiedName(ch.Prefix, ch.Data)
		v, err := c.element(ch, depth+1)
		if err != nil {
			return value.Value{}, err
		}
		if _, seen := groups[name]; !seen {
			order = append(order, name)
		}
		groups[name] = append(groups[name], v)
	}

	if len(order) > 0 {
		var b value.MappingBuilder
		for _, name := range order {
			vs := groups[name]
			if len(vs) == 1 || c.siblings == SiblingsLastWins {
				b.Set(name, vs[len(vs)-1])
				continue
			}
			b.Set(name, value.Sequence(vs...))
		}
		return b.Build(), nil
	}

	if len(n.Attr) > 0 {
		var b value.MappingBuilder
		for _, a := range n.Attr {
			b.Set(qualifiedName(a.Name.Space, a.Name.Local), value.String(a.Value))
		}
		return b.Build(), nil
	}

	return value.String(n.InnerText()), nil
}

func qualifiedName(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}
