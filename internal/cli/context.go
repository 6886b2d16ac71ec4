package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Show the context a query would be enhanced with",
		Long:  "Print the ranked memory block and profile facts sent to the language model for a query.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	a := mustOpenApp()
	defer a.Close()

	memory, prof, err := a.orchestrator(nil).Context(cmd.Context(), query)
	if err != nil {
		exitErr("context", err)
	}
	output(cmd, map[string]string{
		"query":   query,
		"memory":  memory,
		"profile": prof,
	})
}
