package gitsync

import (
	"sort"
	"sync"
)

// DirtyState records vault-relative paths modified since the last successful
// commit. Producers may call MarkDirty from any goroutine; it never blocks
// on the working tree.
type DirtyState struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func NewDirtyState() *DirtyState {
	return &DirtyState{paths: make(map[string]struct{})}
}

func (d *DirtyState) MarkDirty(paths ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range paths {
		if p != "" {
			d.paths[p] = struct{}{}
		}
	}
}

// DrainAll atomically empties the set and returns its contents sorted.
// A path marked after the drain begins lands in the next drain, never lost.
func (d *DirtyState) DrainAll() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.paths))
	for p := range d.paths {
		out = append(out, p)
	}
	d.paths = make(map[string]struct{})
	sort.Strings(out)
	return out
}

// Restore re-unions paths whose commit or push failed so they are retried on
// the next cycle.
func (d *DirtyState) Restore(paths []string) {
	d.MarkDirty(paths...)
}

func (d *DirtyState) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.paths)
}
