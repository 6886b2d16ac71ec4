package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update fields of a memory",
		Long:  "Shallow-merge the given fields into a memory. Unset flags keep their current value.",
		Args:  cobra.ExactArgs(1),
		Run:   runUpdate,
	}

	cmd.Flags().String("type", "", "New type")
	cmd.Flags().StringP("category", "c", "", "New category")
	cmd.Flags().String("description", "", "New description")
	cmd.Flags().String("details", "", "Replacement details as a JSON object")
	cmd.Flags().StringP("tags", "t", "", "Replacement comma-separated tags")
	cmd.Flags().StringSliceP("related", "r", nil, "Replacement related queries")
	cmd.Flags().String("timestamp", "", "Override timestamp (RFC 3339)")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	var p store.UpdateParams

	if flags.Changed("type") {
		s, _ := flags.GetString("type")
		t, err := parseType(s)
		if err != nil {
			exitErr("update", err)
		}
		p.Type = &t
	}
	if flags.Changed("category") {
		s, _ := flags.GetString("category")
		p.Category = &s
	}
	if flags.Changed("description") {
		s, _ := flags.GetString("description")
		p.Description = &s
	}
	if flags.Changed("details") {
		s, _ := flags.GetString("details")
		details, err := parseDetails(s)
		if err != nil {
			exitErr("update", err)
		}
		if details == nil {
			details = map[string]any{}
		}
		p.Details = details
	}
	if flags.Changed("tags") {
		s, _ := flags.GetString("tags")
		p.Tags = append([]string{}, splitList(s)...)
	}
	if flags.Changed("related") {
		related, _ := flags.GetStringSlice("related")
		p.RelatedQueries = append([]string{}, related...)
	}
	if flags.Changed("timestamp") {
		s, _ := flags.GetString("timestamp")
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			exitErr("update", fmt.Errorf("invalid timestamp: %w", err))
		}
		p.Timestamp = &ts
	}

	a := mustOpenApp()
	defer a.Close()

	entry, err := a.memories.Update(cmd.Context(), args[0], p)
	if err != nil {
		exitErr("update", err)
	}
	output(cmd, entry)
}
