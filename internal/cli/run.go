package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/event"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Run a task through the automation worker",
		Long: "Enhance the query, launch the worker with TASK_QUERY, ENHANCED_QUERY and MEMORY_CONTEXT set, " +
			"and stream its events. Interrupt stops the worker. Successful runs are remembered.",
		Args: cobra.MinimumNArgs(1),
		Run:  runRun,
	}

	RootCmd.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	a := mustOpenApp()
	defer a.Close()

	runner, err := a.runner()
	if err != nil {
		exitErr("run", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := cmd.OutOrStdout()
	printEvent := func(ev event.Event) {
		if formatFlag == "json" {
			b, _ := json.Marshal(ev)
			fmt.Fprintln(w, string(b))
			return
		}
		if ev.Terminal {
			status := "ok"
			if !ev.Success {
				status = "failed"
			}
			fmt.Fprintf(w, "[complete] %s\n", status)
			return
		}
		payload := ev.Text
		if len(ev.Data) > 0 {
			payload = string(ev.Data)
		}
		fmt.Fprintf(w, "[%s] %s\n", ev.Type, payload)
	}

	out, err := runner.Run(ctx, query, printEvent)
	if out != nil && out.Enhancement != nil && out.Enhancement.Enhanced {
		fmt.Fprintf(os.Stderr, "enhanced query: %s\n", out.Enhancement.EnhancedQuery)
	}
	if err != nil {
		a.Close()
		exitErr("run", err)
	}
	fmt.Fprintf(os.Stderr, "recorded %d memories\n", len(out.Memories))
}
