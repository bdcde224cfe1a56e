package annotations

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// OutputFormatter formats events for human-readable display.
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
	renderer *RelationRenderer
}

// NewOutputFormatter creates a formatter that colors its output when w is
// a terminal.
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}

	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return newOutputFormatter(w, useColor)
}

func newOutputFormatter(w io.Writer, useColor bool) *OutputFormatter {
	return &OutputFormatter{
		useColor: useColor,
		writer:   w,
		renderer: NewRelationRenderer(useColor),
	}
}

// Handle prints events as they occur
func (f *OutputFormatter) Handle(event Event) {
	output := f.Format(event)
	if output != "" {
		fmt.Fprintln(f.writer, output)
	}
}

// Format converts an event to a human-readable string.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)

	switch event.Name {
	case QueryInvoked:
		return fmt.Sprintf("%s Query: %s", latency, truncateQuery(event.Data["query"].(string)))

	case QueryPlanCreated:
		if cached, _ := event.Data["cached"].(bool); cached {
			return fmt.Sprintf("%s Plan (cached):\n%s", latency, event.Data["plan"].(string))
		}
		return fmt.Sprintf("%s Plan:\n%s", latency, event.Data["plan"].(string))

	case QueryComplete:
		if success, _ := event.Data["success"].(bool); !success {
			return fmt.Sprintf("%s %s Query failed: %v",
				latency,
				f.colorize("✗", color.FgRed),
				event.Data["error"])
		}
		return fmt.Sprintf("%s %s Query done with %s from %s.",
			latency,
			f.colorize("===", color.FgGreen),
			f.colorizeCount("Tuples", event.Data["tuples.count"].(int)),
			f.colorizeCount("datoms", event.Data["datoms.scanned"].(int)))

	case PatternIndexSelection:
		// Shown as part of the plan
		return ""

	case PatternStorageScan:
		// Format as Scan(pattern, index, bound) → X datoms (Y scans) → Z matches
		pattern := event.Data["pattern"].(string)
		index := event.Data["index"].(string)
		bound := event.Data["bound"].(string)
		datoms := event.Data["datoms.scanned"].(int)
		scans := event.Data["scans.performed"].(int)
		matches := event.Data["match.count"].(int)

		if !f.useColor {
			return fmt.Sprintf("%s Scan(%s, %s, bound: %s) → %d datoms (%d scans) → %d matches",
				latency, pattern, index, bound, datoms, scans, matches)
		}
		scanStr := fmt.Sprintf("%s%s, %s, bound: %s%s",
			color.BlueString("Scan("),
			color.CyanString(pattern),
			color.CyanString(index),
			color.YellowString(bound),
			color.BlueString(")"))
		arrow := color.YellowString(" → ")
		return fmt.Sprintf("%s %s%s%s %s%s%s",
			latency,
			scanStr,
			arrow,
			f.colorizeCount("datoms", datoms),
			color.RedString(fmt.Sprintf("(%d scans)", scans)),
			arrow,
			f.renderer.colorizeCount("matches", matches))

	default:
		// Generic format for unknown events
		return fmt.Sprintf("%s %s %v", latency, event.Name, event.Data)
	}
}

// formatLatency formats a duration as [XXXms] or [XXXµs] with color coding.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	// Use microseconds for sub-millisecond durations
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)
	if !f.useColor {
		return s
	}

	switch {
	case ms < 50:
		return color.GreenString(s)
	case ms < 200:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

// colorizeCount formats a count with a label, using color based on the label type.
func (f *OutputFormatter) colorizeCount(label string, count int) string {
	text := fmt.Sprintf("%d %s", count, label)
	if !f.useColor {
		return text
	}

	switch strings.ToLower(label) {
	case "tuples":
		return color.MagentaString(text)
	case "datoms":
		return color.BlueString(text)
	default:
		return text
	}
}

// colorize applies color if enabled.
func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// truncateQuery shortens long queries for display.
func truncateQuery(query string) string {
	query = strings.Join(strings.Fields(query), " ")

	const maxLen = 80
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen-3] + "..."
}

// ConsoleHandler creates a handler that prints formatted events to w
func ConsoleHandler(w io.Writer) Handler {
	return NewOutputFormatter(w).Handle
}
