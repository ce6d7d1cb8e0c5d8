// Package vault renders classified notes and attachments into an
// Obsidian-style markdown vault rooted at a git working tree.
package vault

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Folder is one node of the vault's folder taxonomy. Descriptions feed the
// classifier prompt.
type Folder struct {
	Path        string   `yaml:"path"`
	Description string   `yaml:"description"`
	Children    []Folder `yaml:"children,omitempty"`
}

// Structure describes the folders and the tag whitelist the classifier may
// choose from.
type Structure struct {
	Folders []Folder `yaml:"folders"`
	Tags    []string `yaml:"tags"`
}

// LoadStructure reads the vault structure YAML file.
func LoadStructure(path string) (*Structure, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vault structure: %w", err)
	}
	var s Structure
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse vault structure: %w", err)
	}
	if len(s.Folders) == 0 {
		return nil, fmt.Errorf("vault structure %s defines no folders", path)
	}
	return &s, nil
}

// Outline renders the folder tree as indented "- path: description" lines
// for the classifier prompt.
func (s *Structure) Outline() string {
	var b strings.Builder
	writeOutline(&b, s.Folders, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeOutline(b *strings.Builder, folders []Folder, depth int) {
	for _, f := range folders {
		b.WriteString(strings.Repeat("  ", depth))
		fmt.Fprintf(b, "- %s: %s\n", f.Path, f.Description)
		writeOutline(b, f.Children, depth+1)
	}
}

// HasFolder reports whether path appears anywhere in the taxonomy.
func (s *Structure) HasFolder(path string) bool {
	return hasFolder(s.Folders, path)
}

func hasFolder(folders []Folder, path string) bool {
	for _, f := range folders {
		if f.Path == path || hasFolder(f.Children, path) {
			return true
		}
	}
	return false
}
