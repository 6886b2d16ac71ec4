package enhance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-desk/internal/model"
	"github.com/rcliao/agent-desk/internal/profile"
	"github.com/rcliao/agent-desk/internal/rank"
	"github.com/rcliao/agent-desk/internal/store"
)

type fakeEnhancer struct {
	resp *Response
	err  error
	got  Request
	wait bool
}

func (f *fakeEnhancer) Enhance(ctx context.Context, req Request) (*Response, error) {
	f.got = req
	if f.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

type fixture struct {
	mem     *store.FileStore
	profile *profile.Store
	ranker  *rank.Ranker
	logger  *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem, err := store.NewFileStore(filepath.Join(dir, "memory.json"), logger)
	require.NoError(t, err)
	prof, err := profile.NewStore(filepath.Join(dir, "profile.json"), logger)
	require.NoError(t, err)

	return &fixture{mem: mem, profile: prof, ranker: rank.New(mem, logger), logger: logger}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	return NewOrchestrator(f.ranker, f.profile, f.logger, opts...)
}

func TestEnhanceMergesFacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mem.Add(ctx, store.AddParams{
		Type:        model.TypeAction,
		Category:    "finance",
		Description: "Checked NVDA stock price",
		Details:     map[string]any{"site": "Yahoo Finance"},
	})
	require.NoError(t, err)
	_, err = f.profile.Update(ctx, map[string]string{"city": "Berlin"})
	require.NoError(t, err)

	enh := &fakeEnhancer{resp: &Response{
		EnhancedQuery: "check NVDA stock price on Yahoo Finance",
		PersonalInfo:  map[string]string{"broker": "Yahoo Finance"},
	}}
	res, err := f.orchestrator(WithEnhancer(enh)).Enhance(ctx, "check NVDA stock")
	require.NoError(t, err)

	assert.Equal(t, "check NVDA stock price on Yahoo Finance", res.EnhancedQuery)
	assert.True(t, res.Enhanced)
	assert.Equal(t, map[string]string{"broker": "Yahoo Finance"}, res.ExtractedFacts)

	assert.Contains(t, enh.got.MemoryContext, "Checked NVDA stock price")
	assert.Contains(t, enh.got.MemoryContext, "Yahoo Finance")
	assert.Equal(t, "city: Berlin", enh.got.ProfileContext)
	assert.Equal(t, "check NVDA stock", enh.got.RawQuery)

	facts, err := f.profile.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"city": "Berlin", "broker": "Yahoo Finance"}, facts)
}

func TestEnhanceFallsBackOnCapabilityError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.profile.Update(ctx, map[string]string{"city": "Berlin"})
	require.NoError(t, err)

	enh := &fakeEnhancer{err: errors.New("missing credentials")}
	res, err := f.orchestrator(WithEnhancer(enh)).Enhance(ctx, "book a flight")
	require.NoError(t, err)

	assert.Equal(t, "book a flight", res.EnhancedQuery)
	assert.False(t, res.Enhanced)
	assert.Empty(t, res.ExtractedFacts)

	facts, err := f.profile.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"city": "Berlin"}, facts)
}

func TestEnhanceTimeout(t *testing.T) {
	f := newFixture(t)
	enh := &fakeEnhancer{wait: true}

	start := time.Now()
	res, err := f.orchestrator(WithEnhancer(enh), WithTimeout(50*time.Millisecond)).Enhance(context.Background(), "book a flight")
	require.NoError(t, err)
	assert.Equal(t, "book a flight", res.EnhancedQuery)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEnhanceBlankResponseKeepsRawQuery(t *testing.T) {
	f := newFixture(t)
	enh := &fakeEnhancer{resp: &Response{EnhancedQuery: "   ", PersonalInfo: map[string]string{"": "x", "k": " "}}}

	res, err := f.orchestrator(WithEnhancer(enh)).Enhance(context.Background(), "book a flight")
	require.NoError(t, err)
	assert.Equal(t, "book a flight", res.EnhancedQuery)
	assert.Empty(t, res.ExtractedFacts)
}

func TestEnhanceWithoutEnhancer(t *testing.T) {
	f := newFixture(t)
	res, err := f.orchestrator().Enhance(context.Background(), "book a flight")
	require.NoError(t, err)
	assert.Equal(t, "book a flight", res.EnhancedQuery)
	assert.NotNil(t, res.ExtractedFacts)
}

func TestEnhanceUsesAtMostThreeMemories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.mem.Add(ctx, store.AddParams{Type: model.TypeInformation, Description: "flight booking note"})
		require.NoError(t, err)
	}

	enh := &fakeEnhancer{resp: &Response{EnhancedQuery: "x"}}
	_, err := f.orchestrator(WithEnhancer(enh)).Enhance(ctx, "flight")
	require.NoError(t, err)
	assert.Equal(t, ContextLimit, strings.Count(enh.got.MemoryContext, "flight booking note"))
}

func TestMemoryContext(t *testing.T) {
	ts := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	long := strings.Repeat("a", 500)
	results := []rank.Result{
		{MemoryEntry: model.MemoryEntry{Timestamp: ts, Description: "Checked NVDA", Details: map[string]any{"note": long}}},
		{MemoryEntry: model.MemoryEntry{Timestamp: ts, Description: "No details"}},
	}

	got := MemoryContext(results)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "[2024-03-09] Checked NVDA", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "  details: {"))
	assert.True(t, strings.HasSuffix(lines[1], "..."))
	assert.Equal(t, "[2024-03-09] No details", lines[2])

	assert.Empty(t, MemoryContext(nil))
}

func TestProfileContext(t *testing.T) {
	assert.Equal(t, "a: 1\nb: 2", ProfileContext(map[string]string{"b": "2", "a": "1"}))
	assert.Empty(t, ProfileContext(nil))
}
