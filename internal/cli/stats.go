package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		Run:   runStats,
	}

	cmd.Flags().Int("recent", store.DefaultRecent, "Number of most recent entries to include")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	recent, _ := cmd.Flags().GetInt("recent")

	a := mustOpenApp()
	defer a.Close()

	stats, err := a.memories.Stats(cmd.Context(), recent)
	if err != nil {
		exitErr("stats", err)
	}
	output(cmd, stats)
}
