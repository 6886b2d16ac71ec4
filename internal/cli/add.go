package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [description]",
		Short: "Store a memory",
		Long:  "Store a memory. The description can be a positional arg or piped via stdin.",
		Run:   runAdd,
	}

	cmd.Flags().String("type", "information", "Type: action, information, preference, context")
	cmd.Flags().StringP("category", "c", "", "Category (default: general)")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("details", "", "Details as a JSON object")
	cmd.Flags().StringSliceP("related", "r", nil, "Related queries")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	category, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	detailsStr, _ := cmd.Flags().GetString("details")
	related, _ := cmd.Flags().GetStringSlice("related")

	description := strings.Join(args, " ")
	if description == "" {
		description = readStdin()
	}
	if strings.TrimSpace(description) == "" {
		exitErr("add", fmt.Errorf("description is required (positional arg or stdin)"))
	}

	t, err := parseType(typ)
	if err != nil {
		exitErr("add", err)
	}
	details, err := parseDetails(detailsStr)
	if err != nil {
		exitErr("add", err)
	}

	a := mustOpenApp()
	defer a.Close()

	entry, err := a.memories.Add(cmd.Context(), store.AddParams{
		Type:           t,
		Category:       category,
		Description:    strings.TrimSpace(description),
		Details:        details,
		Tags:           splitList(tagsStr),
		RelatedQueries: related,
	})
	if err != nil {
		exitErr("add", err)
	}
	output(cmd, entry)
}

// readStdin returns piped stdin, or "" when stdin is a terminal.
func readStdin() string {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return ""
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	return string(b)
}
