package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/runlog"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history [search terms]",
		Short: "List past task runs",
		Long:  "List journaled task runs newest first, or search their queries when terms are given.",
		Run:   runHistory,
	}

	cmd.Flags().StringP("status", "s", "", "Filter by status: running, succeeded, failed, stopped")
	cmd.Flags().String("since", "", "Only runs started within this window (e.g. 7d, 24h, 30m)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryShow,
	}
	cmd.AddCommand(showCmd)

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")
	since, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")

	p := runlog.ListParams{Status: runlog.Status(status), Limit: limit}
	if since != "" {
		d, err := runlog.ParseSince(since)
		if err != nil {
			exitErr("history", err)
		}
		p.Since = d
	}

	a := mustOpenApp()
	defer a.Close()
	j, err := a.journal()
	if err != nil {
		exitErr("history", err)
	}

	var runs []runlog.Run
	if len(args) > 0 {
		runs, err = j.Search(cmd.Context(), strings.Join(args, " "), limit)
	} else {
		runs, err = j.List(cmd.Context(), p)
	}
	if err != nil {
		exitErr("history", err)
	}
	output(cmd, runs)
}

func runHistoryShow(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()
	j, err := a.journal()
	if err != nil {
		exitErr("history", err)
	}

	run, err := j.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("history", err)
	}
	output(cmd, run)
}
