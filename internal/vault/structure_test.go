package vault

import (
	"os"
	"path/filepath"
	"testing"
)

const structureYAML = `folders:
  - path: inbox
    description: Unsorted captures
  - path: projects
    description: Active projects
    children:
      - path: projects/home
        description: House and garden
tags:
  - idea
  - todo
`

func loadTestStructure(t *testing.T) *Structure {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault_structure.yaml")
	if err := os.WriteFile(path, []byte(structureYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadStructure(path)
	if err != nil {
		t.Fatalf("LoadStructure: %v", err)
	}
	return s
}

func TestLoadStructure(t *testing.T) {
	s := loadTestStructure(t)
	if len(s.Folders) != 2 {
		t.Fatalf("folders = %d, want 2", len(s.Folders))
	}
	if len(s.Tags) != 2 || s.Tags[0] != "idea" {
		t.Fatalf("tags = %v", s.Tags)
	}
}

func TestLoadStructureRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("tags: [a]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStructure(path); err == nil {
		t.Fatal("LoadStructure accepted a structure with no folders")
	}
}

func TestLoadStructureMissingFile(t *testing.T) {
	if _, err := LoadStructure(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadStructure accepted a missing file")
	}
}

func TestOutlineIndentsChildren(t *testing.T) {
	s := loadTestStructure(t)
	want := `- inbox: Unsorted captures
- projects: Active projects
  - projects/home: House and garden`
	if got := s.Outline(); got != want {
		t.Fatalf("Outline():\n%s\nwant:\n%s", got, want)
	}
}

func TestHasFolderFindsNestedPaths(t *testing.T) {
	s := loadTestStructure(t)
	for _, path := range []string{"inbox", "projects", "projects/home"} {
		if !s.HasFolder(path) {
			t.Fatalf("HasFolder(%q) = false", path)
		}
	}
	if s.HasFolder("projects/garage") {
		t.Fatal("HasFolder matched an unknown path")
	}
}
