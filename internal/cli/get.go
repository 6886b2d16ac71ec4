package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Retrieve a memory by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	entry, err := a.memories.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	output(cmd, entry)
}
