package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	batchSize    = 50
	maxEmbedLen  = 8000
	previewChars = 300
)

var frontmatterRE = regexp.MustCompile(`(?s)^---\s*\n.*?\n---\s*\n`)

// note is one markdown file considered for deduplication.
type note struct {
	Path    string // vault-relative, slash-separated
	Content string
	Hash    string
}

// Pair is two notes whose embeddings exceed the similarity threshold,
// ordered most-similar first.
type Pair struct {
	PathA      string  `json:"pathA"`
	PathB      string  `json:"pathB"`
	Similarity float64 `json:"similarity"`
	PreviewA   string  `json:"previewA"`
	PreviewB   string  `json:"previewB"`
}

// Service scans the vault for near-duplicate notes. Embeddings are cached
// by content hash; only new or changed notes hit the embeddings API.
type Service struct {
	root      string
	skipDirs  map[string]struct{}
	embedder  Embedder
	cache     Cache
	threshold float64
}

func NewService(root, attachmentsDir string, embedder Embedder, cache Cache, threshold float64) *Service {
	if threshold <= 0 {
		threshold = 0.90
	}
	return &Service{
		root: root,
		skipDirs: map[string]struct{}{
			".obsidian":    {},
			".git":         {},
			attachmentsDir: {},
		},
		embedder:  embedder,
		cache:     cache,
		threshold: threshold,
	}
}

// Scan walks the vault, refreshes the embedding cache and returns duplicate
// pairs above the threshold. progress, if non-nil, is called as new notes
// are embedded.
func (s *Service) Scan(ctx context.Context, progress func(done, total int)) ([]Pair, error) {
	notes, err := s.collectNotes()
	if err != nil {
		return nil, err
	}
	cached, err := s.cache.All(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.updateEmbeddings(ctx, notes, cached, progress); err != nil {
		return nil, err
	}
	if err := s.pruneStale(ctx, notes, cached); err != nil {
		return nil, err
	}
	return s.findPairs(notes, cached), nil
}

// Delete removes a duplicate note from the vault. The caller is responsible
// for marking the path dirty so the deletion syncs.
func (s *Service) Delete(relPath string) error {
	abs := filepath.Join(s.root, filepath.FromSlash(relPath))
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("delete note %s: %w", relPath, err)
	}
	return nil
}

func (s *Service) collectNotes() ([]note, error) {
	var notes []note
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if _, skip := s.skipDirs[d.Name()]; skip && rel != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil // unreadable file: skip, not fatal
		}
		body := frontmatterRE.ReplaceAllString(string(raw), "")
		if strings.TrimSpace(body) == "" {
			return nil
		}
		sum := md5.Sum([]byte(body))
		notes = append(notes, note{
			Path:    filepath.ToSlash(rel),
			Content: body,
			Hash:    hex.EncodeToString(sum[:]),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk vault: %w", err)
	}
	return notes, nil
}

// updateEmbeddings embeds notes missing from the cache, batched, and adds
// the new vectors to both the cache store and the in-memory map.
func (s *Service) updateEmbeddings(ctx context.Context, notes []note, cached map[string][]float32, progress func(done, total int)) error {
	var missing []note
	seen := make(map[string]struct{})
	for _, n := range notes {
		if _, ok := cached[n.Hash]; ok {
			continue
		}
		if _, dup := seen[n.Hash]; dup {
			continue
		}
		seen[n.Hash] = struct{}{}
		missing = append(missing, n)
	}
	total := len(missing)
	if total == 0 {
		return nil
	}

	done := 0
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := missing[start:end]
		texts := make([]string, len(batch))
		for i, n := range batch {
			texts[i] = truncateRunes(n.Content, maxEmbedLen)
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch at %d: %w", start, err)
		}
		for i, n := range batch {
			cached[n.Hash] = vectors[i]
			if err := s.cache.Put(ctx, n.Hash, vectors[i]); err != nil {
				return err
			}
		}
		done += len(batch)
		if progress != nil {
			progress(done, total)
		}
	}
	return nil
}

func (s *Service) pruneStale(ctx context.Context, notes []note, cached map[string][]float32) error {
	live := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		live[n.Hash] = struct{}{}
	}
	var stale []string
	for hash := range cached {
		if _, ok := live[hash]; !ok {
			stale = append(stale, hash)
			delete(cached, hash)
		}
	}
	return s.cache.Remove(ctx, stale)
}

// findPairs runs exact cosine similarity over every note pair. Vaults are
// small enough that brute force beats maintaining an index.
func (s *Service) findPairs(notes []note, cached map[string][]float32) []Pair {
	type entry struct {
		note note
		vec  []float32
	}
	entries := make([]entry, 0, len(notes))
	for _, n := range notes {
		vec, ok := cached[n.Hash]
		if !ok || len(vec) == 0 {
			continue
		}
		entries = append(entries, entry{note: n, vec: normalize(vec)})
	}

	var pairs []Pair
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			sim := dot(entries[i].vec, entries[j].vec)
			if sim < s.threshold {
				continue
			}
			pairs = append(pairs, Pair{
				PathA:      entries[i].note.Path,
				PathB:      entries[j].note.Path,
				Similarity: sim,
				PreviewA:   preview(entries[i].note.Content),
				PreviewB:   preview(entries[j].note.Content),
			})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Similarity > pairs[j].Similarity
	})
	return pairs
}

func preview(content string) string {
	return truncateRunes(content, previewChars)
}

// truncateRunes cuts s to at most n bytes without splitting a rune. Previews
// end up in Telegram messages, which must be valid UTF-8.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
