package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/story-engine/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API over HTTP",
		Long: "Serve the JSON session API. Sessions left mid-transition by a previous " +
			"process are repaired before the listener starts.",
		Args: cobra.NoArgs,
		Run:  runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: $STORY_ENGINE_ADDR or 127.0.0.1:8080)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, eng := openEngine()
	defer s.Close()

	repaired, err := eng.Recover(ctx)
	if err != nil {
		exitErr("recover", err)
	}
	if repaired > 0 {
		logger.Info("repaired interrupted sessions", zap.Int("count", repaired))
	}

	srv := server.New(addr, server.NewHandler(eng, logger), logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		exitErr("serve", err)
	}
}
