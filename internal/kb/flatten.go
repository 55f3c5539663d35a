package kb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// flattenValue renders an arbitrarily nested JSON-compatible value as a
// single lowercase string. Maps are walked in sorted key order so the
// flattened text is deterministic; keys are included so searches can
// match field names as well as values.
func flattenValue(v any) string {
	var sb strings.Builder
	flattenInto(&sb, v)
	return strings.ToLower(strings.TrimSpace(sb.String()))
}

func flattenInto(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		// skip
	case string:
		sb.WriteString(val)
		sb.WriteByte(' ')
	case bool:
		fmt.Fprintf(sb, "%t ", val)
	case float64:
		// JSON numbers decode as float64; render integers without the
		// trailing ".0" so "42" matches a record containing 42.
		if val == float64(int64(val)) {
			fmt.Fprintf(sb, "%d ", int64(val))
		} else {
			fmt.Fprintf(sb, "%g ", val)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(k)
			sb.WriteByte(' ')
			flattenInto(sb, val[k])
		}
	case []any:
		for _, item := range val {
			flattenInto(sb, item)
		}
	default:
		fmt.Fprintf(sb, "%v ", val)
	}
}

// markdownToText reduces markdown to its plain text content by walking
// the parsed AST and collecting text segments. Catalog descriptions and
// FAQ answers are authored in markdown; scoring should match the words,
// not the markup.
func markdownToText(source string) string {
	src := []byte(source)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			sb.WriteByte(' ')
		case *ast.AutoLink:
			sb.Write(t.URL(src))
			sb.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(strings.Fields(sb.String()), " ")
}
