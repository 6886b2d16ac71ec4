// Package cli implements the agent-desk CLI commands.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/agent"
	"github.com/rcliao/agent-desk/internal/config"
	"github.com/rcliao/agent-desk/internal/enhance"
	"github.com/rcliao/agent-desk/internal/profile"
	"github.com/rcliao/agent-desk/internal/rank"
	"github.com/rcliao/agent-desk/internal/runlog"
	"github.com/rcliao/agent-desk/internal/store"
	"github.com/rcliao/agent-desk/internal/supervisor"
)

var (
	dataDir    string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agent-desk",
	Short: "Desktop assistant task runner with memory",
	Long: "Runs browser automation tasks through a worker process, enhancing each query " +
		"with remembered activity and personal facts, and records what happened.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory (default: $AGENT_DESK_DATA_DIR or ~/.agent-desk)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json, yaml or text")
}

// app holds the stores a command works with.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	memories *store.FileStore
	profile  *profile.Store
	ranker   *rank.Ranker
	closers  []func() error
}

func openApp() (*app, error) {
	if dataDir != "" {
		os.Setenv(config.Prefix+"_DATA_DIR", dataDir)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, closeLog := cfg.Logger()
	a := &app{cfg: cfg, logger: logger, closers: []func() error{closeLog}}

	a.memories, err = store.NewFileStore(cfg.MemoryFile, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	a.profile, err = profile.NewStore(cfg.ProfileFile, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open profile: %w", err)
	}
	a.ranker = rank.New(a.memories, logger)
	return a, nil
}

// Close releases files opened by the app, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) journal() (*runlog.Journal, error) {
	j, err := runlog.Open(a.cfg.RunlogDB)
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}
	a.closers = append(a.closers, j.Close)
	return j, nil
}

// llm returns the configured model, or nil when none is configured or it
// cannot be created. Enhancement is best-effort.
func (a *app) llm() *enhance.LLM {
	m, err := enhance.NewLLM(a.cfg)
	if err != nil {
		if !errors.Is(err, enhance.ErrDisabled) {
			a.logger.Warn("language model unavailable", "provider", a.cfg.LLMProvider, "error", err)
		}
		return nil
	}
	return m
}

func (a *app) orchestrator(m *enhance.LLM) *enhance.Orchestrator {
	opts := []enhance.Option{enhance.WithTimeout(a.cfg.LLMTimeout)}
	if m != nil {
		opts = append(opts, enhance.WithEnhancer(m))
	}
	return enhance.NewOrchestrator(a.ranker, a.profile, a.logger, opts...)
}

func (a *app) runner() (*agent.Runner, error) {
	j, err := a.journal()
	if err != nil {
		return nil, err
	}
	m := a.llm()
	opts := []agent.Option{agent.WithJournal(j)}
	if m != nil {
		opts = append(opts, agent.WithSummarizer(m))
	}

	argv := a.cfg.WorkerArgv()
	worker := agent.Worker{Path: argv[0], Args: argv[1:], Dir: a.cfg.WorkerDir}
	sup := supervisor.New(a.logger, supervisor.WithStopGrace(a.cfg.StopGrace))
	return agent.NewRunner(a.orchestrator(m), sup, a.memories, worker, a.logger, opts...), nil
}

func mustOpenApp() *app {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	return a
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
