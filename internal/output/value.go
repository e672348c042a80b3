package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind is the closed set of renderable argument kinds. Each kind has exactly
// one serialization rule, see Value.Render.
type Kind string

const (
	// KindText is stored verbatim.
	KindText Kind = "text"
	// KindNumber carries the interpreter's canonical numeric text ("2", "0.1", "NaN").
	KindNumber Kind = "number"
	// KindComposite is a JSON-shaped tree: map[string]any, []any, json.Number,
	// string, bool or nil.
	KindComposite Kind = "composite"
)

// DefaultMaxDepth bounds how deep a composite value is rendered.
const DefaultMaxDepth = 8

// Value is one argument of an output call.
type Value struct {
	Kind Kind
	Text string
	Tree any
}

func Text(s string) Value { return Value{Kind: KindText, Text: s} }

func Number(s string) Value { return Value{Kind: KindNumber, Text: s} }

func Composite(tree any) Value { return Value{Kind: KindComposite, Tree: tree} }

// Render returns the deterministic text form of v.
//
// Composite values are rendered as two-space indented JSON with object keys in
// sorted order; anything nested deeper than DefaultMaxDepth collapses to
// "[Object]" or "[Array]".
func (v Value) Render() string {
	switch v.Kind {
	case KindText, KindNumber:
		return v.Text
	case KindComposite:
		return renderComposite(v.Tree, DefaultMaxDepth)
	default:
		return v.Text
	}
}

func renderComposite(tree any, maxDepth int) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bound(tree, 0, maxDepth)); err != nil {
		// Only reachable with a tree that did not come from a JSON decoder.
		return fmt.Sprint(tree)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// bound copies tree, replacing containers deeper than maxDepth with a marker.
// encoding/json already sorts map keys; the explicit sort keeps the copy
// independent of map iteration order anyway.
func bound(node any, depth, maxDepth int) any {
	switch n := node.(type) {
	case map[string]any:
		if depth >= maxDepth {
			return "[Object]"
		}
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(n))
		for _, k := range keys {
			out[k] = bound(n[k], depth+1, maxDepth)
		}
		return out
	case []any:
		if depth >= maxDepth {
			return "[Array]"
		}
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = bound(item, depth+1, maxDepth)
		}
		return out
	default:
		return n
	}
}
