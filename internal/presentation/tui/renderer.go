package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
// It falls back to the raw markdown when no renderer can be built.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// SnapshotMarkdown renders a session snapshot as a markdown report.
func SnapshotMarkdown(snap domain.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", snap.Session)
	fmt.Fprintf(&b, "Executed: **%t**  \n", snap.Executed)
	fmt.Fprintf(&b, "Taken at: %s\n\n", snap.TakenAt.Format("2006-01-02 15:04:05"))

	if len(snap.Variables) == 0 {
		b.WriteString("_No variables bound._\n")
		return b.String()
	}

	names := make([]string, 0, len(snap.Variables))
	for name := range snap.Variables {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("| Variable | Type | Value |\n")
	b.WriteString("|---|---|---|\n")
	for _, name := range names {
		v := snap.Variables[name]
		fmt.Fprintf(&b, "| `%s` | %s | %s |\n", name, typeName(v), escapeCell(fmt.Sprint(v)))
	}
	return b.String()
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
