package vault

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

const noteTemplate = `---
tags: [{{ .TagList }}]
created: {{ .Created }}
---

# {{ .Title }}

{{ .Content }}
`

// Writer renders markdown notes with YAML frontmatter into the vault and
// saves attachments under the attachments directory. Paths it returns are
// vault-relative, ready for the sync engine's dirty set.
type Writer struct {
	root           string
	attachmentsDir string
	tmpl           *template.Template
	now            func() time.Time
}

func NewWriter(root, attachmentsDir string) (*Writer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault path: %w", err)
	}
	if attachmentsDir == "" {
		attachmentsDir = "images"
	}
	tmpl, err := template.New("note").Parse(noteTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse note template: %w", err)
	}
	return &Writer{root: abs, attachmentsDir: attachmentsDir, tmpl: tmpl, now: time.Now}, nil
}

// AttachmentsDir returns the vault-relative attachments directory name.
func (w *Writer) AttachmentsDir() string { return w.attachmentsDir }

// WriteNote renders a note into folder/filename.md and returns the
// vault-relative path of the created file. An existing file is never
// overwritten; collisions get a -1, -2, ... suffix.
func (w *Writer) WriteNote(folder, filename, title, content string, tags []string) (string, error) {
	if !strings.HasSuffix(filename, ".md") {
		filename += ".md"
	}
	dir := filepath.Join(w.root, filepath.FromSlash(folder))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", folder, err)
	}

	target, err := nextFreePath(dir, filename)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = w.tmpl.Execute(&buf, struct {
		TagList string
		Created string
		Title   string
		Content string
	}{
		TagList: strings.Join(tags, ", "),
		Created: w.now().UTC().Format("2006-01-02T15:04:05Z"),
		Title:   title,
		Content: content,
	})
	if err != nil {
		return "", fmt.Errorf("render note: %w", err)
	}
	if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write note: %w", err)
	}
	rel, err := filepath.Rel(w.root, target)
	if err != nil {
		return "", fmt.Errorf("relativize note path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// SaveAttachment stores raw bytes under the attachments directory and
// returns the vault-relative path.
func (w *Writer) SaveAttachment(data []byte, filename string) (string, error) {
	dir := filepath.Join(w.root, w.attachmentsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachments dir: %w", err)
	}
	target, err := nextFreePath(dir, filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return w.attachmentsDir + "/" + filepath.Base(target), nil
}

// nextFreePath returns dir/filename, suffixing the stem with -1, -2, ...
// until the name is unused.
func nextFreePath(dir, filename string) (string, error) {
	target := filepath.Join(dir, filename)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return target, nil
	}
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for i := 1; ; i++ {
		target = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		if _, err := os.Stat(target); os.IsNotExist(err) {
			return target, nil
		}
		if i > 10000 {
			return "", fmt.Errorf("no free filename for %s in %s", filename, dir)
		}
	}
}
