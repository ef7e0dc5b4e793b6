package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/mangaba-ai/mangaba-go"
	"github.com/mangaba-ai/mangaba-go/internal/render"
)

var errUnhealthy = errors.New("backend reported unhealthy")

func (a *app) newHealthCommand() *cobra.Command {
	var (
		format   string
		wait     bool
		timeout  time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}

			client, err := a.newClient()
			if err != nil {
				return err
			}

			var health *mangaba.Health
			if wait {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				health, err = client.WaitReady(ctx, mangaba.WithPollingInterval(interval))
			} else {
				health, err = client.Health(cmd.Context())
			}
			if err != nil {
				return err
			}

			if err := render.New(f, a.stdout).Health(health); err != nil {
				return err
			}
			if !health.OK() {
				return &ExitError{Code: ExitFailure, Err: errUnhealthy}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&format, "format", "o", "", "output format: table, json or yaml")
	flags.BoolVar(&wait, "wait", false, "poll until the backend is ready")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "how long --wait keeps polling")
	flags.DurationVar(&interval, "interval", time.Second, "time between polls with --wait")
	return cmd
}
