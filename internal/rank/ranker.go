package rank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/agent-desk/internal/model"
	"github.com/rcliao/agent-desk/internal/store"
)

// DefaultLimit is the number of results returned when limit <= 0.
const DefaultLimit = 5

// Source provides consistent snapshots of the memory store.
type Source interface {
	Snapshot(ctx context.Context) (store.Snapshot, error)
}

// Result is a memory with its relevance score in (0, 1].
type Result struct {
	model.MemoryEntry
	Score float64 `json:"score" yaml:"score"`
}

// Ranker scores memories against queries. It keeps an inverted index of the
// last snapshot it saw and rebuilds it whenever the snapshot changes.
type Ranker struct {
	src    Source
	logger *slog.Logger

	mu    sync.Mutex
	index *index
}

type index struct {
	lastUpdated time.Time
	count       int
	entries     []model.MemoryEntry
	postings    map[string][]int // token -> entry positions, ascending
}

// New returns a Ranker reading from src.
func New(src Source, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{src: src, logger: logger}
}

// Invalidate drops the cached index.
func (r *Ranker) Invalidate() {
	r.mu.Lock()
	r.index = nil
	r.mu.Unlock()
}

// Search returns up to limit entries sharing at least one token with query,
// best first. Ties on score go to the newer entry.
func (r *Ranker) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return []Result{}, nil
	}

	idx, err := r.current(ctx)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	hits := map[int]int{}
	for _, tok := range queryTokens {
		for _, pos := range idx.postings[tok] {
			hits[pos]++
		}
	}
	if len(hits) == 0 {
		return []Result{}, nil
	}

	type candidate struct {
		pos   int
		score float64
	}
	candidates := make([]candidate, 0, len(hits))
	for pos, n := range hits {
		candidates = append(candidates, candidate{pos: pos, score: float64(n) / float64(len(queryTokens))})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		ta, tb := idx.entries[a.pos].Timestamp, idx.entries[b.pos].Timestamp
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.pos > b.pos
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{MemoryEntry: idx.entries[c.pos], Score: c.score}
	}
	return results, nil
}

// Score returns the overlap score of query against a single entry.
func Score(query string, e model.MemoryEntry) float64 {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	entryTokens := TokenSet(SearchableText(e))
	matched := 0
	for _, t := range queryTokens {
		if _, ok := entryTokens[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func (r *Ranker) current(ctx context.Context) (*index, error) {
	snap, err := r.src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil && r.index.count == len(snap.Entries) && r.index.lastUpdated.Equal(snap.LastUpdated) {
		return r.index, nil
	}

	start := time.Now()
	idx := &index{
		lastUpdated: snap.LastUpdated,
		count:       len(snap.Entries),
		entries:     snap.Entries,
		postings:    map[string][]int{},
	}
	for pos, e := range snap.Entries {
		for tok := range TokenSet(SearchableText(e)) {
			idx.postings[tok] = append(idx.postings[tok], pos)
		}
	}
	r.index = idx
	r.logger.Debug("memory index rebuilt", "entries", idx.count, "tokens", len(idx.postings),
		"duration_ms", time.Since(start).Milliseconds())
	return idx, nil
}

// SearchableText concatenates description, category, tags, related queries
// and every string leaf of details.
func SearchableText(e model.MemoryEntry) string {
	parts := []string{e.Description, e.Category}
	parts = append(parts, e.Tags...)
	parts = append(parts, e.RelatedQueries...)
	collectStrings(e.Details, &parts)
	return strings.Join(parts, " ")
}

// collectStrings walks v depth-first, appending string leaves. Array elements
// contribute only when they are strings; other scalars are ignored.
func collectStrings(v any, out *[]string) {
	switch val := v.(type) {
	case string:
		*out = append(*out, val)
	case map[string]any:
		for _, child := range val {
			collectStrings(child, out)
		}
	case map[string]string:
		for _, child := range val {
			*out = append(*out, child)
		}
	case []any:
		for _, el := range val {
			if s, ok := el.(string); ok {
				*out = append(*out, s)
			}
		}
	case []string:
		*out = append(*out, val...)
	}
}
