package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jholhewres/secondbrain/pkg/secondbrain/claude"
)

// jsonArrayRe extracts the first JSON array embedded in prose, for tag
// suggestions that arrive wrapped in explanation despite instructions.
var jsonArrayRe = regexp.MustCompile(`(?s)\[.*?\]`)

// TagCount pairs a tag with the number of notes carrying it.
type TagCount struct {
	Tag   string
	Count int
}

// Manager provides read/write/list/search over a vault directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates a Manager rooted at vaultPath. The directory must
// already exist.
func NewManager(vaultPath string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("resolving vault path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("vault path does not exist: %s", abs)
	}
	return &Manager{root: abs, logger: logger.With("component", "vault")}, nil
}

// Root returns the absolute vault root directory.
func (m *Manager) Root() string { return m.root }

// ---------- Read ----------

// ReadNote reads and parses a single note by path relative to the root.
func (m *Manager) ReadNote(relPath string) (*Note, error) {
	full := filepath.Join(m.root, relPath)
	if filepath.Ext(full) != ".md" {
		return nil, fmt.Errorf("not a markdown file: %s", relPath)
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("note not found: %s", relPath)
	}
	return ParseNote(full)
}

// ---------- Write ----------

// WriteNote writes a note to disk, creating parent directories as needed.
func (m *Manager) WriteNote(note *Note) error {
	content, err := note.Markdown()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(note.Path), 0o755); err != nil {
		return fmt.Errorf("creating note directory: %w", err)
	}
	if err := os.WriteFile(note.Path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing note: %w", err)
	}
	return nil
}

// CreateNote creates a new note under the vault root. Refuses to replace an
// existing note unless overwrite is set.
func (m *Manager) CreateNote(relPath, body string, frontmatter map[string]any, overwrite bool) (*Note, error) {
	full := filepath.Join(m.root, relPath)
	if _, err := os.Stat(full); err == nil && !overwrite {
		return nil, fmt.Errorf("note already exists: %s", relPath)
	}
	if frontmatter == nil {
		frontmatter = map[string]any{}
	}
	note := &Note{Path: full, Frontmatter: frontmatter, Body: body}
	if err := m.WriteNote(note); err != nil {
		return nil, err
	}
	return note, nil
}

// ---------- List ----------

// ListNotes returns every .md note under folder (default: whole vault),
// sorted by path.
func (m *Manager) ListNotes(folder string) ([]*Note, error) {
	base := m.root
	if folder != "" {
		base = filepath.Join(m.root, folder)
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".md" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking vault: %w", err)
	}
	sort.Strings(paths)

	notes := make([]*Note, 0, len(paths))
	for _, p := range paths {
		note, err := ParseNote(p)
		if err != nil {
			m.logger.Warn("skipping unreadable note", "path", p, "error", err)
			continue
		}
		notes = append(notes, note)
	}
	return notes, nil
}

// ---------- Search ----------

// Search matches query case-insensitively against filename, tags, and body.
func (m *Manager) Search(query, folder string) ([]*Note, error) {
	q := strings.ToLower(query)
	notes, err := m.ListNotes(folder)
	if err != nil {
		return nil, err
	}

	var results []*Note
	for _, note := range notes {
		stem := strings.TrimSuffix(filepath.Base(note.Path), ".md")
		switch {
		case strings.Contains(strings.ToLower(stem), q):
			results = append(results, note)
		case strings.Contains(strings.ToLower(strings.Join(note.Tags(), " ")), q):
			results = append(results, note)
		case strings.Contains(strings.ToLower(note.Body), q):
			results = append(results, note)
		}
	}
	return results, nil
}

// FindByTags returns notes whose tags include ALL of the given tags.
func (m *Manager) FindByTags(tags []string) ([]*Note, error) {
	target := make(map[string]bool, len(tags))
	for _, t := range tags {
		target[normalizeTag(t)] = true
	}

	notes, err := m.ListNotes("")
	if err != nil {
		return nil, err
	}

	var results []*Note
	for _, note := range notes {
		have := make(map[string]bool)
		for _, t := range note.Tags() {
			have[normalizeTag(t)] = true
		}
		all := true
		for t := range target {
			if !have[t] {
				all = false
				break
			}
		}
		if all {
			results = append(results, note)
		}
	}
	return results, nil
}

// TagCounts returns every tag in the vault with its note count, most
// frequent first.
func (m *Manager) TagCounts() ([]TagCount, error) {
	notes, err := m.ListNotes("")
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, note := range notes {
		for _, t := range note.Tags() {
			counts[normalizeTag(t)]++
		}
	}

	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

// ---------- Auto-tagging ----------

// AutoTag asks Claude to suggest 2-5 tags for a note. The note is not
// modified; the caller decides whether to apply the suggestions. Failures
// degrade to an empty suggestion list.
func (m *Manager) AutoTag(ctx context.Context, note *Note, runner claude.Client) []string {
	existing, err := m.TagCounts()
	if err != nil {
		existing = nil
	}
	sample := make([]string, 0, 30)
	for _, tc := range existing {
		if len(sample) == 30 {
			break
		}
		sample = append(sample, tc.Tag)
	}

	body := note.Body
	if len(body) > 2000 {
		body = body[:2000]
	}

	prompt := "Read the following markdown note and suggest 2-5 tags for it. " +
		"Tags should be lowercase, hyphenated (e.g. 'machine-learning'), " +
		"and match the topic/domain of the note.\n\n" +
		"Existing tags in this vault: " + strings.Join(sample, ", ") + "\n" +
		"Prefer reusing existing tags when appropriate.\n\n" +
		"Return ONLY a JSON array of strings, e.g. [\"python\", \"web-scraping\"]. " +
		"No explanation.\n\n" +
		"---\nTitle: " + note.Title() + "\n\n" + body

	resp := runner.Run(ctx, claude.Request{Prompt: prompt, Model: "haiku"})
	if resp.IsError {
		m.logger.Warn("auto-tag failed", "error", truncateForLog(resp.Text))
		return nil
	}

	if tags := parseTagArray(strings.TrimSpace(resp.Text)); tags != nil {
		return tags
	}
	if m2 := jsonArrayRe.FindString(resp.Text); m2 != "" {
		if tags := parseTagArray(m2); tags != nil {
			return tags
		}
	}
	m.logger.Warn("auto-tag: could not parse response", "text", truncateForLog(resp.Text))
	return nil
}

// parseTagArray decodes a JSON array of tag strings, normalized.
func parseTagArray(s string) []string {
	var raw []any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}
	var tags []string
	for _, t := range raw {
		if t == nil {
			continue
		}
		tag := normalizeTag(fmt.Sprint(t))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func normalizeTag(t string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(t)), "#")
}

func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
