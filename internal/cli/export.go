package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export [path]",
		Short: "Export all memories",
		Long:  "Write the full memory document to path, or to stdout when no path is given.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	if len(args) == 1 {
		n, err := a.memories.ExportTo(cmd.Context(), args[0])
		if err != nil {
			exitErr("export", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"exported":%d,"path":%q}`+"\n", n, args[0])
		return
	}

	snap, err := a.memories.Snapshot(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}
	output(cmd, model.MemoryDocument{
		Entries:     snap.Entries,
		LastUpdated: snap.LastUpdated,
		Version:     model.SchemaVersion,
	})
}
