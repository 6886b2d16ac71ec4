package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "enhance [query]",
		Short: "Enhance a query without running it",
		Long: "Rewrite a query with memory and profile context. New personal facts are saved to the profile. " +
			"Without a configured language model the query is returned unchanged.",
		Args: cobra.MinimumNArgs(1),
		Run:  runEnhance,
	}

	RootCmd.AddCommand(cmd)
}

func runEnhance(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	a := mustOpenApp()
	defer a.Close()

	res, err := a.orchestrator(a.llm()).Enhance(cmd.Context(), query)
	if err != nil {
		exitErr("enhance", err)
	}
	output(cmd, res)
}
