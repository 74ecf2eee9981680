// Package vault manages an Obsidian-compatible vault: a directory of
// markdown notes with YAML frontmatter. It provides read/write/list/search
// over notes plus AI-assisted tag suggestions.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatterRe matches a leading YAML frontmatter block followed by the
// note body.
var frontmatterRe = regexp.MustCompile(`(?s)\A---\n(.*?)\n---\n?(.*)`)

// Note is a single markdown note.
type Note struct {
	// Path is the absolute path to the .md file.
	Path string

	// Frontmatter holds the parsed YAML frontmatter, if any.
	Frontmatter map[string]any

	// Body is the markdown content after the frontmatter.
	Body string
}

// Tags returns the note's frontmatter tags normalized to a string slice.
// A comma-separated string value is split; a YAML list is stringified.
func (n *Note) Tags() []string {
	raw, ok := n.Frontmatter["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		var tags []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		return tags
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			tags = append(tags, fmt.Sprint(t))
		}
		return tags
	}
	return nil
}

// Title returns the frontmatter title, or the filename stem.
func (n *Note) Title() string {
	if t, ok := n.Frontmatter["title"]; ok {
		return fmt.Sprint(t)
	}
	base := filepath.Base(n.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RelPath returns the filename for display.
func (n *Note) RelPath() string {
	return filepath.Base(n.Path)
}

// Markdown serializes the note back to markdown with YAML frontmatter.
func (n *Note) Markdown() (string, error) {
	if len(n.Frontmatter) == 0 {
		return n.Body, nil
	}
	fm, err := yaml.Marshal(n.Frontmatter)
	if err != nil {
		return "", fmt.Errorf("marshaling frontmatter: %w", err)
	}
	return "---\n" + strings.TrimRight(string(fm), "\n") + "\n---\n" + n.Body, nil
}

// ParseNote reads and parses a markdown file, separating frontmatter from
// body. Unparseable frontmatter degrades to an empty map rather than an
// error, matching how Obsidian treats malformed headers.
func ParseNote(path string) (*Note, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading note: %w", err)
	}
	text := string(raw)

	if m := frontmatterRe.FindStringSubmatch(text); m != nil {
		fm := map[string]any{}
		if err := yaml.Unmarshal([]byte(m[1]), &fm); err != nil {
			fm = map[string]any{}
		}
		return &Note{Path: path, Frontmatter: fm, Body: m[2]}, nil
	}
	return &Note{Path: path, Frontmatter: map[string]any{}, Body: text}, nil
}
