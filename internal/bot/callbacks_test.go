package bot

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"vaultbot/internal/dedup"
	"vaultbot/internal/gitsync"
)

func TestConflictCallbackRoundTrip(t *testing.T) {
	for _, choice := range []gitsync.Choice{gitsync.ChoiceLocal, gitsync.ChoiceRemote, gitsync.ChoiceSkip} {
		data := conflictCallbackData("merge_deadbeef01020304", 3, choice)
		action, ok := parseConflictCallback(data)
		if !ok {
			t.Fatalf("parseConflictCallback(%q) rejected", data)
		}
		if action.SessionID != "merge_deadbeef01020304" || action.Index != 3 || action.Choice != choice {
			t.Fatalf("round trip %q -> %+v", data, action)
		}
	}
}

func TestParseConflictCallbackRejectsGarbage(t *testing.T) {
	for _, data := range []string{
		"",
		"mc:",
		"mc:sid:notanumber:l",
		"mc:sid:-1:l",
		"mc:sid:0:x",
		"mc:sid:0",
		"dd:0:a",
		"random text",
	} {
		if _, ok := parseConflictCallback(data); ok {
			t.Errorf("parseConflictCallback(%q) accepted", data)
		}
	}
}

func TestParseDedupCallback(t *testing.T) {
	action, ok := parseDedupCallback("dd:7:b")
	if !ok {
		t.Fatal("parseDedupCallback rejected a valid payload")
	}
	if action.Index != 7 || action.Target != "b" {
		t.Fatalf("action = %+v", action)
	}

	for _, data := range []string{"", "dd:", "dd:x:a", "dd:-1:a", "dd:0:z", "dd:0:a:extra", "mc:sid:0:l"} {
		if _, ok := parseDedupCallback(data); ok {
			t.Errorf("parseDedupCallback(%q) accepted", data)
		}
	}
}

func TestTruncatePreview(t *testing.T) {
	short := "small note"
	if got := truncatePreview("  " + short + "\n"); got != short {
		t.Fatalf("truncatePreview = %q, want trimmed %q", got, short)
	}

	long := strings.Repeat("a", maxConflictPreview+100)
	got := truncatePreview(long)
	if len(got) != maxConflictPreview+len("…") {
		t.Fatalf("truncated length = %d", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatal("truncated preview missing ellipsis")
	}
}

func TestTruncatePreviewKeepsValidUTF8(t *testing.T) {
	// maxConflictPreview bytes land mid-rune for a 3-byte rune sequence.
	long := strings.Repeat("€", maxConflictPreview)
	got := truncatePreview(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated preview is not valid UTF-8 (len=%d)", len(got))
	}
	if len(got) > maxConflictPreview+len("…") {
		t.Fatalf("truncated length = %d, want <= %d", len(got), maxConflictPreview+len("…"))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatal("truncated preview missing ellipsis")
	}
}

func TestDedupPairPathRejectsStaleIndexes(t *testing.T) {
	b := &Bot{pairs: []dedup.Pair{{PathA: "inbox/a.md", PathB: "notes/b.md"}}}

	if path, ok := b.dedupPairPath(dedupAction{Index: 0, Target: "a"}); !ok || path != "inbox/a.md" {
		t.Fatalf("target a = %q, %v", path, ok)
	}
	if path, ok := b.dedupPairPath(dedupAction{Index: 0, Target: "b"}); !ok || path != "notes/b.md" {
		t.Fatalf("target b = %q, %v", path, ok)
	}
	if path, ok := b.dedupPairPath(dedupAction{Index: 0, Target: "k"}); !ok || path != "" {
		t.Fatalf("target k = %q, %v", path, ok)
	}

	// A keyboard from a previous scan must be rejected for every target,
	// keep-both included.
	for _, target := range []string{"a", "b", "k"} {
		if _, ok := b.dedupPairPath(dedupAction{Index: 5, Target: target}); ok {
			t.Errorf("stale index accepted for target %q", target)
		}
	}
}

func TestMergeTags(t *testing.T) {
	got := mergeTags([]string{"idea", "todo", "idea"}, []string{"voice", "todo", ""})
	want := []string{"idea", "todo", "voice"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mergeTags = %v, want %v", got, want)
	}

	if got := mergeTags(nil, nil); len(got) != 0 {
		t.Fatalf("mergeTags(nil, nil) = %v", got)
	}
}
