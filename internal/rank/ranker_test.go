package rank

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-desk/internal/model"
	"github.com/rcliao/agent-desk/internal/store"
)

func newTestRanker(t *testing.T) (*Ranker, *store.FileStore) {
	t.Helper()
	s, err := store.NewFileStore(filepath.Join(t.TempDir(), "memory.json"), nil)
	require.NoError(t, err)
	return New(s, nil), s
}

func addEntry(t *testing.T, s *store.FileStore, p store.AddParams) *model.MemoryEntry {
	t.Helper()
	if p.Type == "" {
		p.Type = model.TypeAction
	}
	m, err := s.Add(context.Background(), p)
	require.NoError(t, err)
	return m
}

func setTimestamp(t *testing.T, s *store.FileStore, id string, ts time.Time) {
	t.Helper()
	_, err := s.Update(context.Background(), id, store.UpdateParams{Timestamp: &ts})
	require.NoError(t, err)
}

func TestSearchScenarioNVDA(t *testing.T) {
	r, s := newTestRanker(t)
	addEntry(t, s, store.AddParams{
		Description: "Checked NVDA stock price",
		Category:    "finance",
		Tags:        []string{"stock", "nvda"},
		Details:     map[string]any{"stock_symbol": "NVDA"},
	})

	results, err := r.Search(context.Background(), "check the same stock I saw yesterday", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.2, results[0].Score, 1e-9)
	assert.Equal(t, "Checked NVDA stock price", results[0].Description)
}

func TestSearchEmptyStore(t *testing.T) {
	r, _ := newTestRanker(t)
	results, err := r.Search(context.Background(), "book a flight", 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearchNoMeaningfulTokens(t *testing.T) {
	r, s := newTestRanker(t)
	addEntry(t, s, store.AddParams{Description: "the and for"})

	for _, q := range []string{"", "the and for", "a to it", "!!!"} {
		results, err := r.Search(context.Background(), q, 5)
		require.NoError(t, err)
		assert.Empty(t, results, "query %q", q)
	}
}

func TestSearchFullMatchScoresOne(t *testing.T) {
	r, s := newTestRanker(t)
	addEntry(t, s, store.AddParams{
		Description:    "Booked flight",
		Category:       "travel",
		RelatedQueries: []string{"book a flight to Lisbon"},
		Details: map[string]any{
			"itinerary": map[string]any{"destination": "Lisbon", "legs": []any{"OPO", 2.5, "LIS"}},
		},
	})

	results, err := r.Search(context.Background(), "flight Lisbon travel LIS", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Score)
}

func TestSearchExcludesZeroOverlap(t *testing.T) {
	r, s := newTestRanker(t)
	addEntry(t, s, store.AddParams{Description: "Ordered groceries"})
	addEntry(t, s, store.AddParams{Description: "Checked weather forecast"})

	results, err := r.Search(context.Background(), "weather tomorrow", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Checked weather forecast", results[0].Description)
	assert.InDelta(t, 0.5, results[0].Score, 1e-9)
}

func TestSearchOrdering(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRanker(t)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	old := addEntry(t, s, store.AddParams{Description: "stock report"})
	newer := addEntry(t, s, store.AddParams{Description: "stock alert"})
	best := addEntry(t, s, store.AddParams{Description: "stock price alert"})
	setTimestamp(t, s, old.ID, base)
	setTimestamp(t, s, newer.ID, base.Add(time.Hour))
	setTimestamp(t, s, best.ID, base.Add(-time.Hour))

	results, err := r.Search(ctx, "stock price", 5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, best.ID, results[0].ID, "higher score first regardless of age")
	assert.Equal(t, newer.ID, results[1].ID, "tie broken by newer timestamp")
	assert.Equal(t, old.ID, results[2].ID)

	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1], results[i]
		assert.True(t, prev.Score > cur.Score ||
			(prev.Score == cur.Score && !prev.Timestamp.Before(cur.Timestamp)))
	}
}

func TestSearchEqualTimestampsPreferLaterStored(t *testing.T) {
	r, s := newTestRanker(t)
	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	first := addEntry(t, s, store.AddParams{Description: "stock one"})
	second := addEntry(t, s, store.AddParams{Description: "stock two"})
	setTimestamp(t, s, first.ID, ts)
	setTimestamp(t, s, second.ID, ts)

	results, err := r.Search(context.Background(), "stock", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, second.ID, results[0].ID)
}

func TestSearchLimit(t *testing.T) {
	r, s := newTestRanker(t)
	for i := 0; i < 8; i++ {
		addEntry(t, s, store.AddParams{Description: "stock update"})
	}

	results, err := r.Search(context.Background(), "stock", 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultLimit)

	results, err = r.Search(context.Background(), "stock", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchSeesUpdates(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRanker(t)
	m := addEntry(t, s, store.AddParams{Description: "Ordered groceries"})

	results, err := r.Search(ctx, "pizza", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	desc := "Ordered pizza"
	_, err = s.Update(ctx, m.ID, store.UpdateParams{Description: &desc})
	require.NoError(t, err)

	results, err = r.Search(ctx, "pizza", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, m.ID, results[0].ID)

	r.Invalidate()
	results, err = r.Search(ctx, "pizza", 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestScoreMatchesSearch(t *testing.T) {
	e := model.MemoryEntry{
		Description: "Checked NVDA stock price",
		Category:    "finance",
		Tags:        []string{"stock", "nvda"},
		Details:     map[string]any{"stock_symbol": "NVDA"},
	}
	assert.InDelta(t, 0.2, Score("check the same stock I saw yesterday", e), 1e-9)
	assert.Equal(t, 1.0, Score("nvda price", e))
	assert.Equal(t, 0.0, Score("the", e))
}
