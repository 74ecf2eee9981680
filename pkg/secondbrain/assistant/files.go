package assistant

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jholhewres/secondbrain/pkg/secondbrain/channels"
)

const (
	// maxOutputFileSize caps how large a Claude-written file can be and
	// still be uploaded back to the chat. Discord rejects big uploads
	// anyway.
	maxOutputFileSize = 25 << 20

	// outputFileMaxAge separates files this turn wrote from files that
	// merely got mentioned.
	outputFileMaxAge = 120 * time.Second
)

// outputPathRe matches absolute paths under /tmp or /home appearing in
// response text. A file extension is required, so bare directories and
// extensionless scratch files never get uploaded.
var outputPathRe = regexp.MustCompile(`(?:/tmp|/home)/[\w./\-]+\.\w{1,10}`)

// downloadAttachments fetches every attachment on the message into the
// download directory and returns the local paths. Any failure aborts the
// whole batch.
func (a *Assistant) downloadAttachments(ctx context.Context, msg *channels.IncomingMessage) ([]string, error) {
	ch, ok := a.channelMgr.Channel(msg.Channel)
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", msg.Channel)
	}
	media, ok := ch.(channels.MediaChannel)
	if !ok {
		return nil, fmt.Errorf("channel %q cannot download files", msg.Channel)
	}

	paths := make([]string, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		data, err := media.DownloadAttachment(ctx, att)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", att.Filename, err)
		}
		path := uniquePath(a.opts.DownloadDir, att.Filename)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("saving %s: %w", att.Filename, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// uniquePath returns dir/name, suffixing the stem with -1, -2, ... until
// the name is free. Keeps earlier downloads from being clobbered.
func uniquePath(dir, name string) string {
	if name == "" {
		name = "attachment"
	}
	path := filepath.Join(dir, filepath.Base(name))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// buildFilePrompt prepends the downloaded file paths to the user's text so
// Claude knows where to look.
func buildFilePrompt(paths []string, userText string) string {
	var b strings.Builder
	b.WriteString("The user attached the following files. Read them before answering:\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	if userText != "" {
		b.WriteString("\n")
		b.WriteString(userText)
	}
	return b.String()
}

// DetectOutputFiles scans response text for paths of files Claude just
// wrote: they must exist, be regular, be under the upload size cap, and
// have been modified within the last two minutes. Duplicates collapse to
// the first mention.
func DetectOutputFiles(text string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, path := range outputPathRe.FindAllString(text, -1) {
		if seen[path] {
			continue
		}
		seen[path] = true

		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.Size() >= maxOutputFileSize {
			continue
		}
		if time.Since(info.ModTime()) > outputFileMaxAge {
			continue
		}
		files = append(files, path)
	}
	return files
}
