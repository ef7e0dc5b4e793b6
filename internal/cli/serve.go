package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mangaba-ai/mangaba-go/internal/devserver"
)

const shutdownTimeout = 5 * time.Second

func (a *app) newServeCommand() *cobra.Command {
	var (
		addr       string
		frameDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local development backend",
		Long: `Serve the agent system's HTTP API with a built-in report agent and the
example catalog, for development without the real backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.Server.Addr
			}
			if !cmd.Flags().Changed("frame-delay") {
				frameDelay = a.cfg.Server.FrameDelay
			}

			srv := devserver.New(
				devserver.WithLogger(a.logger),
				devserver.WithFrameDelay(frameDelay),
			)
			return serve(cmd.Context(), srv, addr, a.logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :5000)")
	cmd.Flags().DurationVar(&frameDelay, "frame-delay", 0, "pause after every streamed frame")
	return cmd
}

func serve(ctx context.Context, srv *devserver.Server, addr string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down dev backend")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}
