package annotations

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// RelationRenderer provides pretty-printing for relations
type RelationRenderer struct {
	useColor bool
}

// NewRelationRenderer creates a new relation renderer
func NewRelationRenderer(useColor bool) *RelationRenderer {
	return &RelationRenderer{useColor: useColor}
}

// RenderRelationWithAttrs renders a relation header and its tuple count.
// A negative count renders the header alone.
func (r *RelationRenderer) RenderRelationWithAttrs(attrs []string, tupleCount int) string {
	attrList := strings.Join(attrs, " ")

	if r.useColor {
		result := fmt.Sprintf("%s%s%s",
			color.BlueString("Relation(["),
			color.CyanString(attrList),
			color.BlueString("]"))

		if tupleCount >= 0 {
			result += fmt.Sprintf("%s%s%s",
				color.BlueString(", "),
				r.colorizeCount("Tuples", tupleCount),
				color.BlueString(")"))
		} else {
			result += color.BlueString(")")
		}
		return result
	}

	if tupleCount >= 0 {
		return fmt.Sprintf("Relation([%s], %d Tuples)", attrList, tupleCount)
	}
	return fmt.Sprintf("Relation([%s])", attrList)
}

// colorizeCount formats a count with color based on size
func (r *RelationRenderer) colorizeCount(label string, count int) string {
	if !r.useColor {
		return fmt.Sprintf("%d %s", count, label)
	}

	countStr := fmt.Sprintf("%d", count)
	switch {
	case count == 0:
		countStr = color.RedString(countStr)
	case count < 100:
		countStr = color.GreenString(countStr)
	case count < 10000:
		countStr = color.YellowString(countStr)
	default:
		countStr = color.RedString(countStr)
	}
	return fmt.Sprintf("%s %s", countStr, label)
}

// RenderQuery renders a multi-line query with a "Query: " prefix
func (r *RelationRenderer) RenderQuery(queryStr string) []string {
	lines := strings.Split(queryStr, "\n")

	prefix := "Query: "
	if r.useColor {
		prefix = color.BlueString(prefix)
	}
	result := []string{prefix + lines[0]}

	// Remaining lines indented
	for i := 1; i < len(lines); i++ {
		result = append(result, "       "+lines[i])
	}
	return result
}
