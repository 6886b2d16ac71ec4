package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-desk/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP and WebSocket bridge for the desktop UI",
		Run:   runServe,
	}

	cmd.Flags().String("listen", "", "Listen address (default: $AGENT_DESK_LISTEN or 127.0.0.1:8765)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	listen, _ := cmd.Flags().GetString("listen")

	a := mustOpenApp()
	defer a.Close()
	if listen == "" {
		listen = a.cfg.Listen
	}

	runner, err := a.runner()
	if err != nil {
		exitErr("serve", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(ctx, runner, a.memories, a.ranker, a.profile, a.logger)
	if err := srv.ListenAndServe(ctx, listen); err != nil {
		a.Close()
		exitErr("serve", err)
	}
}
