package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/model"
	"github.com/rcliao/agent-desk/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Run:   runList,
	}

	cmd.Flags().String("type", "", "Filter by type")
	cmd.Flags().StringP("category", "c", "", "Filter by category")
	cmd.Flags().StringP("tag", "t", "", "Filter by tag")
	cmd.Flags().IntP("limit", "l", 0, "Max results (0 = all)")
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	category, _ := cmd.Flags().GetString("category")
	tag, _ := cmd.Flags().GetString("tag")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	var t model.MemoryType
	if typ != "" {
		var err error
		if t, err = parseType(typ); err != nil {
			exitErr("list", err)
		}
	}

	a := mustOpenApp()
	defer a.Close()

	entries, err := a.memories.List(cmd.Context(), store.ListParams{
		Type:     t,
		Category: category,
		Tag:      tag,
		Limit:    limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, e := range entries {
			fmt.Fprintln(cmd.OutOrStdout(), e.ID)
		}
		return
	}
	output(cmd, entries)
}
