package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [path]",
		Short: "Import memories from JSON",
		Long: "Append memories from an exported document or a bare entry array, read from path or stdin. " +
			"Entries whose id already exists are skipped.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	var imported int
	var err error
	if len(args) == 1 && args[0] != "-" {
		imported, err = a.memories.ImportFrom(cmd.Context(), args[0])
	} else {
		entries, derr := store.DecodeEntries([]byte(readStdin()))
		if derr != nil {
			exitErr("parse json", derr)
		}
		imported, err = a.memories.Import(cmd.Context(), entries)
	}
	if err != nil {
		exitErr("import", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d}`+"\n", imported)
}
