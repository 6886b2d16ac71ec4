package store

import (
	"context"
	"sort"

	"github.com/rcliao/agent-desk/internal/model"
)

// DefaultRecent is the number of entries reported in Stats.MostRecent.
const DefaultRecent = 5

// Stats holds store statistics.
type Stats struct {
	Path             string                   `json:"path" yaml:"path"`
	Total            int                      `json:"total" yaml:"total"`
	CountsByType     map[model.MemoryType]int `json:"countsByType" yaml:"countsByType"`
	CountsByCategory map[string]int           `json:"countsByCategory" yaml:"countsByCategory"`
	MostRecent       []model.MemoryEntry      `json:"mostRecent" yaml:"mostRecent"`
}

// Stats returns counts by type and category plus the recent most entries,
// newest first.
func (s *FileStore) Stats(ctx context.Context, recent int) (*Stats, error) {
	if recent <= 0 {
		recent = DefaultRecent
	}
	entries, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Path:             s.path,
		Total:            len(entries),
		CountsByType:     map[model.MemoryType]int{},
		CountsByCategory: map[string]int{},
	}
	for _, e := range entries {
		st.CountsByType[e.Type]++
		st.CountsByCategory[e.Category]++
	}

	sorted := make([]model.MemoryEntry, len(entries))
	copy(sorted, entries)
	// Reverse first so that, after a stable sort, later-stored entries win ties.
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > recent {
		sorted = sorted[:recent]
	}
	st.MostRecent = sorted

	return st, nil
}
