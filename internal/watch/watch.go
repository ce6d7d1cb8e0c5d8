// Package watch marks vault files dirty in the sync engine when they are
// edited outside the bot (a desktop Obsidian instance, a stray editor).
package watch

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher follows the vault tree recursively. fsnotify is not recursive, so
// every directory is added individually and new directories are picked up
// from create events.
type Watcher struct {
	root string
	fw   *fsnotify.Watcher
	mark func(paths ...string)
	done chan struct{}
}

func New(root string, mark func(paths ...string)) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{root: abs, fw: fw, mark: mark, done: make(chan struct{})}, nil
}

func (w *Watcher) Start() error {
	if err := w.addRecursive(w.root); err != nil {
		w.fw.Close()
		return err
	}
	go w.run()
	log.Printf("watch: following %s", w.root)
	return nil
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return relErr
		}
		if rel != "." && ShouldIgnore(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("watch: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if ShouldIgnore(rel) {
		return
	}
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
			return
		}
	}
	if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.mark(rel)
	}
}

// ShouldIgnore filters repository internals and editor droppings out of the
// dirty set.
func ShouldIgnore(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if part == ".git" || part == ".obsidian" {
			return true
		}
	}
	base := rel
	if idx := strings.LastIndex(rel, "/"); idx >= 0 {
		base = rel[idx+1:]
	}
	switch {
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".tmp"),
		strings.HasPrefix(base, ".#"):
		return true
	}
	return false
}
