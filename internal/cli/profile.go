package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage personal profile facts",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Show all profile facts",
			Run:   runProfileGet,
		},
		&cobra.Command{
			Use:   "set key=value...",
			Short: "Merge facts into the profile",
			Args:  cobra.MinimumNArgs(1),
			Run:   runProfileSet,
		},
		&cobra.Command{
			Use:   "field [key]",
			Short: "Show one profile fact",
			Args:  cobra.ExactArgs(1),
			Run:   runProfileField,
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every profile fact",
			Run:   runProfileClear,
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show profile statistics",
			Run:   runProfileStats,
		},
		&cobra.Command{
			Use:   "export [path]",
			Short: "Export the profile document",
			Args:  cobra.ExactArgs(1),
			Run:   runProfileExport,
		},
		&cobra.Command{
			Use:   "import [path]",
			Short: "Merge facts from an exported profile",
			Args:  cobra.ExactArgs(1),
			Run:   runProfileImport,
		},
	)

	RootCmd.AddCommand(cmd)
}

func runProfileGet(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	data, err := a.profile.Get(cmd.Context())
	if err != nil {
		exitErr("profile get", err)
	}
	output(cmd, data)
}

func runProfileSet(cmd *cobra.Command, args []string) {
	facts, err := parseFacts(args)
	if err != nil {
		exitErr("profile set", err)
	}

	a := mustOpenApp()
	defer a.Close()

	data, err := a.profile.Update(cmd.Context(), facts)
	if err != nil {
		exitErr("profile set", err)
	}
	output(cmd, data)
}

func runProfileField(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	v, ok, err := a.profile.Field(cmd.Context(), args[0])
	if err != nil {
		exitErr("profile field", err)
	}
	if !ok {
		a.Close()
		exitErr("profile field", fmt.Errorf("no value for %q", args[0]))
	}
	output(cmd, map[string]string{args[0]: v})
}

func runProfileClear(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	if err := a.profile.Clear(cmd.Context()); err != nil {
		exitErr("profile clear", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), `{"ok":true}`)
}

func runProfileStats(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	st, err := a.profile.Stats(cmd.Context())
	if err != nil {
		exitErr("profile stats", err)
	}
	output(cmd, st)
}

func runProfileExport(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	if err := a.profile.ExportTo(cmd.Context(), args[0]); err != nil {
		exitErr("profile export", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"path":%q}`+"\n", args[0])
}

func runProfileImport(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	n, err := a.profile.ImportFrom(cmd.Context(), args[0])
	if err != nil {
		exitErr("profile import", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d}`+"\n", n)
}
