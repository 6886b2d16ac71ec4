package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rcliao/agent-desk/internal/rank"
)

const (
	// ContextLimit is how many ranked memories feed the enhancer.
	ContextLimit = 3

	// DefaultTimeout bounds one enhancement call.
	DefaultTimeout = 30 * time.Second

	detailsPreview = 200
)

// Searcher ranks memories for a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]rank.Result, error)
}

// Profile reads and merges personal facts.
type Profile interface {
	Get(ctx context.Context) (map[string]string, error)
	Update(ctx context.Context, partial map[string]string) (map[string]string, error)
}

// Result is the outcome of Enhance.
type Result struct {
	RawQuery       string            `json:"rawQuery"`
	EnhancedQuery  string            `json:"enhancedQuery"`
	ExtractedFacts map[string]string `json:"extractedFacts"`
	MemoryContext  string            `json:"memoryContext,omitempty"`
	Enhanced       bool              `json:"enhanced"`
}

// Orchestrator merges memory and profile context into a refined query.
type Orchestrator struct {
	ranker   Searcher
	profile  Profile
	enhancer Enhancer
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEnhancer sets the enhancement capability. Without one, Enhance returns
// the raw query unchanged.
func WithEnhancer(e Enhancer) Option {
	return func(o *Orchestrator) { o.enhancer = e }
}

// WithTimeout bounds each enhancement call.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewOrchestrator builds an Orchestrator over a ranker and profile store.
func NewOrchestrator(ranker Searcher, profile Profile, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		ranker:  ranker,
		profile: profile,
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Context returns the memory and profile context blocks for a query.
func (o *Orchestrator) Context(ctx context.Context, rawQuery string) (memory, profile string, err error) {
	results, err := o.ranker.Search(ctx, rawQuery, ContextLimit)
	if err != nil {
		return "", "", fmt.Errorf("rank memories: %w", err)
	}
	facts, err := o.profile.Get(ctx)
	if err != nil {
		return "", "", fmt.Errorf("read profile: %w", err)
	}
	return MemoryContext(results), ProfileContext(facts), nil
}

// Enhance refines rawQuery. Capability failures never fail the call: the
// result falls back to the raw query with no facts. Errors are returned only
// for local store failures or a cancelled ctx, and in both cases the profile
// is left unchanged.
func (o *Orchestrator) Enhance(ctx context.Context, rawQuery string) (*Result, error) {
	res := &Result{
		RawQuery:       rawQuery,
		EnhancedQuery:  rawQuery,
		ExtractedFacts: map[string]string{},
	}

	memory, profile, err := o.Context(ctx, rawQuery)
	if err != nil {
		return nil, err
	}
	res.MemoryContext = memory

	if o.enhancer == nil {
		return res, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	start := time.Now()

	resp, err := o.enhancer.Enhance(callCtx, Request{
		RawQuery:       rawQuery,
		MemoryContext:  memory,
		ProfileContext: profile,
	})
	if err != nil {
		o.logger.Warn("query enhancement failed, using raw query", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp == nil {
		return res, nil
	}

	if q := strings.TrimSpace(resp.EnhancedQuery); q != "" {
		res.EnhancedQuery = q
		res.Enhanced = q != rawQuery
	}
	for k, v := range resp.PersonalInfo {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			res.ExtractedFacts[k] = v
		}
	}

	if len(res.ExtractedFacts) > 0 {
		if _, err := o.profile.Update(ctx, res.ExtractedFacts); err != nil {
			return nil, fmt.Errorf("update profile: %w", err)
		}
		o.logger.Info("profile updated from query", "facts", len(res.ExtractedFacts))
	}

	o.logger.Debug("query enhanced", "enhanced", res.Enhanced, "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

// MemoryContext renders ranked memories as "[date] description" lines, each
// followed by a truncated JSON rendering of its details.
func MemoryContext(results []rank.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s", r.Timestamp.Format("2006-01-02"), r.Description)
		if len(r.Details) > 0 {
			if data, err := json.Marshal(r.Details); err == nil {
				b.WriteString("\n  details: ")
				b.WriteString(truncate(string(data), detailsPreview))
			}
		}
	}
	return b.String()
}

// ProfileContext renders facts as sorted "key: value" lines.
func ProfileContext(facts map[string]string) string {
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", k, facts[k])
	}
	return b.String()
}

// truncate cuts s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

// firstLine returns the first non-blank line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
