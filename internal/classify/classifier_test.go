package classify

import (
	"strings"
	"testing"

	"vaultbot/internal/vault"
)

func testStructure() *vault.Structure {
	return &vault.Structure{
		Folders: []vault.Folder{
			{Path: "inbox", Description: "Unsorted captures"},
			{Path: "reading", Description: "Articles and books"},
		},
		Tags: []string{"idea", "todo", "article"},
	}
}

func TestBuildPromptIncludesStructureAndMessage(t *testing.T) {
	prompt := BuildPrompt("check out this article", testStructure())

	for _, fragment := range []string{
		"- inbox: Unsorted captures",
		"- reading: Articles and books",
		"idea, todo, article",
		"check out this article",
		"ONLY valid JSON",
	} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, prompt)
		}
	}
}

func TestParseResponsePlainJSON(t *testing.T) {
	note, err := ParseResponse(`{"folder":"reading","filename":"go-generics","tags":["article"],"title":"Go Generics","content":"Notes."}`)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if note.Folder != "reading" || note.Filename != "go-generics" || note.Title != "Go Generics" {
		t.Fatalf("note = %+v", note)
	}
}

func TestParseResponseStripsCodeFence(t *testing.T) {
	for name, raw := range map[string]string{
		"bare fence": "```\n{\"folder\":\"inbox\",\"filename\":\"n\",\"tags\":[],\"title\":\"T\",\"content\":\"C\"}\n```",
		"json fence": "```json\n{\"folder\":\"inbox\",\"filename\":\"n\",\"tags\":[],\"title\":\"T\",\"content\":\"C\"}\n```",
		"padded":     "  ```json\n{\"folder\":\"inbox\",\"filename\":\"n\",\"tags\":[],\"title\":\"T\",\"content\":\"C\"}\n```  ",
	} {
		note, err := ParseResponse(raw)
		if err != nil {
			t.Fatalf("%s: ParseResponse: %v", name, err)
		}
		if note.Folder != "inbox" {
			t.Fatalf("%s: folder = %q", name, note.Folder)
		}
	}
}

func TestParseResponseRejectsBadPayloads(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":         "Sure! Here's the classification you asked for.",
		"missing folder":   `{"filename":"n","tags":[],"title":"T","content":"C"}`,
		"blank title":      `{"folder":"inbox","filename":"n","tags":[],"title":"  ","content":"C"}`,
		"missing content":  `{"folder":"inbox","filename":"n","tags":[],"title":"T"}`,
		"missing filename": `{"folder":"inbox","tags":[],"title":"T","content":"C"}`,
	} {
		if _, err := ParseResponse(raw); err == nil {
			t.Fatalf("%s: ParseResponse accepted %q", name, raw)
		}
	}
}

func TestFallbackLandsInInbox(t *testing.T) {
	note := Fallback("raw text")
	if note.Folder != "inbox" {
		t.Fatalf("fallback folder = %q, want inbox", note.Folder)
	}
	if note.Content != "raw text" {
		t.Fatalf("fallback content = %q", note.Content)
	}
	if note.Filename == "" || note.Title == "" {
		t.Fatalf("fallback incomplete: %+v", note)
	}
}
