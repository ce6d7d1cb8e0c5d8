package gitsync

import (
	"reflect"
	"sync"
	"testing"
)

func TestDirtyStateDrainSortedAndDeduplicated(t *testing.T) {
	d := NewDirtyState()
	d.MarkDirty("notes/b.md", "notes/a.md")
	d.MarkDirty("notes/a.md", "images/pic.png")

	got := d.DrainAll()
	want := []string{"images/pic.png", "notes/a.md", "notes/b.md"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DrainAll() = %v, want %v", got, want)
	}
	if d.Len() != 0 {
		t.Fatalf("Len() after drain = %d, want 0", d.Len())
	}
}

func TestDirtyStateIgnoresEmptyPaths(t *testing.T) {
	d := NewDirtyState()
	d.MarkDirty("", "notes/a.md", "")
	if got := d.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestDirtyStateRestore(t *testing.T) {
	d := NewDirtyState()
	d.MarkDirty("notes/a.md")
	paths := d.DrainAll()

	d.MarkDirty("notes/b.md")
	d.Restore(paths)

	got := d.DrainAll()
	want := []string{"notes/a.md", "notes/b.md"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DrainAll() after restore = %v, want %v", got, want)
	}
}

func TestDirtyStateConcurrentMarks(t *testing.T) {
	d := NewDirtyState()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.MarkDirty("notes/a.md", "notes/b.md")
			}
		}()
	}
	wg.Wait()
	if got := d.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}
