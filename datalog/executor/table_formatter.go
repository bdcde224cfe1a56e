package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/loganmhb/cliodb/datalog"
	"github.com/loganmhb/cliodb/datalog/query"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// TableFormatter renders relations as markdown tables
type TableFormatter struct {
	// MaxWidth is the maximum width of a cell, 0 for no limit
	MaxWidth int
	// TruncateString is appended to truncated cells
	TruncateString string
}

// NewTableFormatter creates a new table formatter with default settings
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		MaxWidth:       50,
		TruncateString: "...",
	}
}

// FormatRelation formats a Relation as a markdown table, rows sorted
func (tf *TableFormatter) FormatRelation(rel *Relation) string {
	if rel == nil || rel.Size() == 0 {
		return "_Empty relation_"
	}
	return tf.formatTable(rel.Columns, rel.Sorted())
}

func (tf *TableFormatter) formatTable(columns []query.Symbol, tuples []query.Tuple) string {
	tableString := &strings.Builder{}

	alignment := make([]tw.Align, len(columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)

	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = string(col)
	}
	table.Header(headers)

	for _, tuple := range tuples {
		row := make([]string, len(tuple))
		for j, val := range tuple {
			row[j] = tf.truncate(tf.formatValue(val))
		}
		table.Append(row)
	}
	table.Render()

	fmt.Fprintf(tableString, "\n_%d rows_\n", len(tuples))
	return tableString.String()
}

// formatValue renders strings bare and timestamps in a compact layout;
// other kinds print as the query language reads them.
func (tf *TableFormatter) formatValue(val datalog.Value) string {
	switch val.Kind() {
	case datalog.KindString:
		s, _ := val.AsString()
		return s
	case datalog.KindTimestamp:
		t, _ := val.AsTime()
		return t.Format(time.RFC3339)
	default:
		return val.String()
	}
}

func (tf *TableFormatter) truncate(s string) string {
	if tf.MaxWidth <= 0 || len(s) <= tf.MaxWidth {
		return s
	}
	cut := tf.MaxWidth - len(tf.TruncateString)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + tf.TruncateString
}

// PrintRelation prints a relation to stdout
func PrintRelation(rel *Relation) {
	fmt.Println(NewTableFormatter().FormatRelation(rel))
}
