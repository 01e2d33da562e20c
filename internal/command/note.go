package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxSlugLength bounds the filename slug.
const maxSlugLength = 48

// renderNote writes the SimpleNote document: a Markdown file with the title
// as a level-1 heading and the body as paragraph text.
func renderNote(slots map[string]string, dir string, seq int) ([]string, error) {
	title := strings.TrimSpace(slots["title"])
	if title == "" {
		title = "Untitled"
	}
	body := strings.TrimSpace(slots["body"])

	name := fmt.Sprintf("note_%04d_%s.md", seq, Slugify(title))
	path := filepath.Join(dir, name)

	var doc strings.Builder
	doc.WriteString("# " + title + "\n")
	if body != "" {
		doc.WriteString("\n" + body + "\n")
	}

	if err := os.WriteFile(path, []byte(doc.String()), 0o640); err != nil {
		return nil, fmt.Errorf("failed to write note: %w", err)
	}
	return []string{path}, nil
}

// Slugify turns free text into a filename-safe lowercase slug.
func Slugify(text string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
		if b.Len() >= maxSlugLength {
			break
		}
	}
	return strings.Trim(b.String(), "_")
}
