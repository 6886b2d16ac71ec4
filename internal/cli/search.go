package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/rank"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank memories by relevance to a query",
		Long:  "Score memories by the share of meaningful query words they contain, best first.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", rank.DefaultLimit, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	a := mustOpenApp()
	defer a.Close()

	results, err := a.ranker.Search(cmd.Context(), query, limit)
	if err != nil {
		exitErr("search", err)
	}
	output(cmd, results)
}
