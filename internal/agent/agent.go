// Package agent runs user tasks end to end: enhance the query, launch the
// worker, stream its events and record what happened.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rcliao/agent-desk/internal/enhance"
	"github.com/rcliao/agent-desk/internal/event"
	"github.com/rcliao/agent-desk/internal/model"
	"github.com/rcliao/agent-desk/internal/runlog"
	"github.com/rcliao/agent-desk/internal/store"
	"github.com/rcliao/agent-desk/internal/supervisor"
)

// Environment variables handed to the worker.
const (
	EnvTaskQuery     = "TASK_QUERY"
	EnvEnhancedQuery = "ENHANCED_QUERY"
	EnvMemoryContext = "MEMORY_CONTEXT"
)

const (
	descriptionMax = 160
	outputMax      = 2000
	summaryTimeout = 15 * time.Second
)

// ErrEmptyQuery is returned when a task has no query text.
var ErrEmptyQuery = errors.New("task query is empty")

// Worker is the automation worker command line.
type Worker struct {
	Path string
	Args []string
	Dir  string
}

// Journal records runs. Failures are logged and never fail a task.
type Journal interface {
	Start(ctx context.Context, p runlog.StartParams) (*runlog.Run, error)
	Finish(ctx context.Context, id string, p runlog.FinishParams) error
}

// Outcome is everything a task run produced.
type Outcome struct {
	JournalID   string              `json:"journalId,omitempty"`
	Enhancement *enhance.Result     `json:"enhancement"`
	Result      *supervisor.Result  `json:"result"`
	Memories    []model.MemoryEntry `json:"memories"`
}

// Runner composes the orchestrator, supervisor and stores.
type Runner struct {
	orch       *enhance.Orchestrator
	sup        *supervisor.Supervisor
	memories   store.Store
	worker     Worker
	journal    Journal
	summarizer enhance.Summarizer
	logger     *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithJournal records every run.
func WithJournal(j Journal) Option {
	return func(r *Runner) { r.journal = j }
}

// WithSummarizer describes worker output with a language model.
func WithSummarizer(s enhance.Summarizer) Option {
	return func(r *Runner) { r.summarizer = s }
}

// NewRunner builds a Runner.
func NewRunner(orch *enhance.Orchestrator, sup *supervisor.Supervisor, memories store.Store, worker Worker, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		orch:     orch,
		sup:      sup,
		memories: memories,
		worker:   worker,
		logger:   logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Supervisor returns the underlying supervisor, for stop requests.
func (r *Runner) Supervisor() *supervisor.Supervisor {
	return r.sup
}

// Reserve claims the supervisor's run slot for a task that will be passed to
// RunReserved. It returns supervisor.ErrBusy while another task holds it.
func (r *Runner) Reserve(ctx context.Context) (*supervisor.Reservation, error) {
	return r.sup.Reserve(ctx)
}

// Run executes one task. Events, including the single terminal event, go to
// onEvent. Memories are written only when the worker exits successfully. The
// returned error mirrors the supervisor's: nil on success, supervisor.ErrBusy,
// supervisor.ErrStopped or a *supervisor.ExitError otherwise.
func (r *Runner) Run(ctx context.Context, query string, onEvent supervisor.Handler) (*Outcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	resv, err := r.sup.Reserve(ctx)
	if err != nil {
		return nil, err
	}
	return r.RunReserved(resv, query, onEvent)
}

// RunReserved executes a task in a slot claimed with Reserve and releases the
// slot when it returns. A stop during enhancement skips the launch and
// leaves the profile and memories untouched.
func (r *Runner) RunReserved(resv *supervisor.Reservation, query string, onEvent supervisor.Handler) (*Outcome, error) {
	defer resv.Release()
	ctx := resv.Context()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	enh, err := r.orch.Enhance(ctx, query)
	if err != nil {
		r.logger.Warn("enhancement unavailable, running raw query", "error", err)
		enh = &enhance.Result{RawQuery: query, EnhancedQuery: query, ExtractedFacts: map[string]string{}}
	}
	out := &Outcome{Enhancement: enh, Memories: []model.MemoryEntry{}}

	if r.journal != nil {
		run, err := r.journal.Start(context.WithoutCancel(ctx), runlog.StartParams{
			RawQuery:      enh.RawQuery,
			EnhancedQuery: enh.EnhancedQuery,
			Facts:         enh.ExtractedFacts,
		})
		if err != nil {
			r.logger.Warn("journal start failed", "error", err)
		} else {
			out.JournalID = run.ID
		}
	}

	cmd := supervisor.Command{
		Path: r.worker.Path,
		Args: r.worker.Args,
		Dir:  r.worker.Dir,
		Env: []string{
			EnvTaskQuery + "=" + enh.RawQuery,
			EnvEnhancedQuery + "=" + enh.EnhancedQuery,
			EnvMemoryContext + "=" + enh.MemoryContext,
		},
	}

	res, runErr := resv.Run(cmd, onEvent)
	out.Result = res

	if runErr == nil {
		// The caller's context may be gone once the worker is done; the
		// record of a finished task still lands.
		recordCtx := context.WithoutCancel(ctx)
		out.Memories, err = r.record(recordCtx, enh, res)
		if err != nil {
			r.logger.Error("failed to record task memories", "run_id", res.RunID, "error", err)
		}
	}

	r.finishJournal(context.WithoutCancel(ctx), out, runErr)
	return out, runErr
}

func (r *Runner) finishJournal(ctx context.Context, out *Outcome, runErr error) {
	if r.journal == nil || out.JournalID == "" {
		return
	}
	p := runlog.FinishParams{Status: runlog.StatusSucceeded}
	switch {
	case runErr == nil:
	case errors.Is(runErr, supervisor.ErrStopped):
		p.Status = runlog.StatusStopped
	default:
		p.Status = runlog.StatusFailed
	}
	if runErr != nil {
		p.Error = runErr.Error()
	}
	if res := out.Result; res != nil {
		p.ExitCode = res.ExitCode
		p.Events = res.Events
		p.Output = truncate(res.Output, outputMax)
	}
	for _, m := range out.Memories {
		p.MemoryIDs = append(p.MemoryIDs, m.ID)
	}
	if err := r.journal.Finish(ctx, out.JournalID, p); err != nil {
		r.logger.Warn("journal finish failed", "error", err)
	}
}

// record writes the action memory and, for non-empty output, an information
// memory. Both carry the raw and enhanced query as related queries.
func (r *Runner) record(ctx context.Context, enh *enhance.Result, res *supervisor.Result) ([]model.MemoryEntry, error) {
	related := relatedQueries(enh.RawQuery, enh.EnhancedQuery)
	var written []model.MemoryEntry

	details := map[string]any{
		"rawQuery":      enh.RawQuery,
		"enhancedQuery": enh.EnhancedQuery,
		"runId":         res.RunID,
		"durationMs":    res.Duration.Milliseconds(),
		"success":       true,
	}
	if len(enh.ExtractedFacts) > 0 {
		facts := make(map[string]any, len(enh.ExtractedFacts))
		for k, v := range enh.ExtractedFacts {
			facts[k] = v
		}
		details["extractedFacts"] = facts
	}

	action, err := r.memories.Add(ctx, store.AddParams{
		Type:           model.TypeAction,
		Category:       "task",
		Description:    truncate("Executed task: "+enh.RawQuery, descriptionMax),
		Details:        details,
		Tags:           []string{"task", "automation"},
		RelatedQueries: related,
	})
	if err != nil {
		return written, fmt.Errorf("record action: %w", err)
	}
	written = append(written, *action)

	output := strings.TrimSpace(res.Output)
	if output == "" {
		return written, nil
	}

	info, err := r.memories.Add(ctx, store.AddParams{
		Type:        model.TypeInformation,
		Category:    "task_result",
		Description: r.describe(ctx, enh.RawQuery, output),
		Details: map[string]any{
			"query":  enh.RawQuery,
			"runId":  res.RunID,
			"output": truncate(output, outputMax),
		},
		Tags:           []string{"task", "result"},
		RelatedQueries: related,
	})
	if err != nil {
		return written, fmt.Errorf("record result: %w", err)
	}
	r.logger.Info("task memories recorded", "run_id", res.RunID, "entry_id", info.ID)
	return append(written, *info), nil
}

// describe summarizes output with the summarizer when available, otherwise
// uses its first non-empty line.
func (r *Runner) describe(ctx context.Context, query, output string) string {
	if r.summarizer != nil {
		sctx, cancel := context.WithTimeout(ctx, summaryTimeout)
		defer cancel()
		summary, err := r.summarizer.Summarize(sctx, query, output)
		if err == nil && strings.TrimSpace(summary) != "" {
			return truncate(strings.TrimSpace(summary), descriptionMax)
		}
		r.logger.Warn("output summary failed, using first line", "error", err)
	}
	return truncate(headline(output), descriptionMax)
}

// headline returns the first line of output that is not blank, preferring
// freeform text over structured worker records.
func headline(output string) string {
	var first string
	for _, line := range strings.Split(output, "\n") {
		ev, ok := event.Classify(event.Stdout, line)
		if !ok {
			continue
		}
		if first == "" {
			first = strings.TrimSpace(line)
		}
		if !ev.Structured() {
			return ev.Text
		}
	}
	return first
}

func relatedQueries(raw, enhanced string) []string {
	if enhanced == "" || enhanced == raw {
		return []string{raw}
	}
	return []string{raw, enhanced}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
