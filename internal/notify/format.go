package notify

import (
	"fmt"
	"strings"

	"opportunist/internal/model"
)

const maxDescriptionRunes = 300

// FormatDigest renders a digest as a plain-text message. Entries are already
// grouped and ordered by the assembler; sections open whenever the category
// changes.
func FormatDigest(d model.Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily digest for %s\n", d.Window.Date)

	if d.Total == 0 {
		b.WriteString("\nNo new opportunities today. See you tomorrow!\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%d opportunities", d.Total)
	b.WriteString(" (")
	first := true
	for _, cat := range model.Categories {
		n := d.Counts[cat]
		if n == 0 {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d %s", n, cat)
		first = false
	}
	b.WriteString(")\n")

	var current model.Category
	for _, e := range d.Entries {
		if e.Category != current {
			current = e.Category
			fmt.Fprintf(&b, "\n== %s ==\n", strings.ToUpper(string(current)))
		}
		fmt.Fprintf(&b, "\n%s\n", e.Title)
		if desc := Truncate(e.Description, maxDescriptionRunes); desc != "" {
			b.WriteString(desc)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n", e.Link)
		fmt.Fprintf(&b, "source: %s", e.Source)
		if e.Deadline != nil {
			fmt.Fprintf(&b, " | deadline: %s", e.Deadline.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, " | relevance: %.0f%%\n", e.Score*100)
	}
	return b.String()
}

// Truncate cuts s to at most limit runes, appending an ellipsis when
// anything was removed.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
