package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mangaba-ai/mangaba-go"
	"github.com/mangaba-ai/mangaba-go/internal/notify"
	"github.com/mangaba-ai/mangaba-go/internal/render"
	"github.com/mangaba-ai/mangaba-go/internal/tui"
)

const publishTimeout = 30 * time.Second

type runFlags struct {
	goal         string
	file         string
	jsonText     string
	jsonFile     string
	example      string
	text         string
	useTUI       bool
	format       string
	stallTimeout time.Duration
	sanitize     bool
	quiet        bool
}

func (a *app) newRunCommand() *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a goal and stream the agents' work",
		Long: `Submit a goal with exactly one data source and stream logs, partial results
and the final report.

Exit status is 0 on success, 1 on failure, 2 when the submission is rejected
before it is sent and 130 when the run is canceled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.goal, "goal", "g", "", "what the agents should do")
	flags.StringVar(&f.file, "file", "", "upload a file as the data source")
	flags.StringVar(&f.jsonText, "json", "", "send JSON text as the data source")
	flags.StringVar(&f.jsonFile, "json-file", "", "send the JSON in a file as the data source")
	flags.StringVar(&f.example, "example", "", "send a catalog example as the data source")
	flags.StringVar(&f.text, "text", "", "send plain text as the data source")
	flags.BoolVar(&f.useTUI, "tui", false, "show the run in an interactive view")
	flags.StringVarP(&f.format, "format", "o", "", "outcome format: table, json or yaml")
	flags.DurationVar(&f.stallTimeout, "stall-timeout", 0, "cancel the run when the stream is silent this long")
	flags.BoolVar(&f.sanitize, "sanitize", false, "strip scripts and event handlers from results")
	flags.BoolVarP(&f.quiet, "quiet", "q", false, "only print the final result and the outcome")
	cmd.MarkFlagsMutuallyExclusive("file", "json", "json-file", "example", "text")

	return cmd
}

func (f *runFlags) payload() (mangaba.Payload, error) {
	switch {
	case f.file != "":
		return mangaba.FileBlobFromPath(f.file)
	case f.jsonFile != "":
		data, err := os.ReadFile(f.jsonFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON file: %w", err)
		}
		return mangaba.JSONText(data), nil
	case f.jsonText != "":
		return mangaba.JSONText(f.jsonText), nil
	case f.example != "":
		return mangaba.ParseExampleRef(f.example)
	case f.text != "":
		return mangaba.TextContext(f.text), nil
	default:
		return nil, nil
	}
}

func (a *app) run(cmd *cobra.Command, f *runFlags) error {
	format, err := render.ParseFormat(f.format)
	if err != nil {
		return err
	}
	out := render.New(format, a.stdout)

	payload, err := f.payload()
	if err != nil {
		return &ExitError{Code: ExitRejected, Err: err}
	}

	var extra []mangaba.ClientOption
	if cmd.Flags().Changed("stall-timeout") {
		extra = append(extra, mangaba.WithStallTimeout(f.stallTimeout))
	}
	if f.sanitize {
		extra = append(extra, mangaba.WithMarkupPolicy(mangaba.MarkupSanitized))
	}
	client, err := a.newClient(extra...)
	if err != nil {
		return err
	}

	publisher, err := a.cfg.Publisher()
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	submission := mangaba.Submission{Goal: f.goal, Payload: payload}
	submit := func(ctx context.Context, sink mangaba.Sink) (*mangaba.Outcome, error) {
		return client.Run(ctx, submission, sink)
	}

	var outcome *mangaba.Outcome
	if f.useTUI {
		outcome, err = tui.Run(ctx, f.goal, submit, tea.WithOutput(a.stderr))
		if outcome == nil {
			return err
		}
	} else {
		// Keep stdout machine-readable when the outcome is JSON or YAML.
		var progress io.Writer = a.stdout
		if out.Format() != render.FormatTable {
			progress = a.stderr
		}
		outcome, _ = submit(ctx, render.NewTerminalSink(progress).Quiet(f.quiet))
	}

	if publisher != nil && outcome.Status != mangaba.Rejected {
		a.publish(ctx, publisher, outcome)
	}

	if out.Format() == render.FormatTable {
		fmt.Fprintln(a.stdout)
	}
	if err := out.Outcome(*outcome); err != nil {
		return err
	}

	return exitFor(outcome)
}

func (a *app) publish(ctx context.Context, publisher notify.Publisher, outcome *mangaba.Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := publisher.Publish(ctx, notify.NewEvent(*outcome)); err != nil {
		a.logger.Warn("failed to publish run completion", zap.String("run_id", outcome.RunID), zap.Error(err))
	}
}

func exitFor(o *mangaba.Outcome) error {
	switch o.Status {
	case mangaba.Succeeded:
		return nil
	case mangaba.Rejected:
		return &ExitError{Code: ExitRejected, Err: o.Err, Silent: true}
	case mangaba.Canceled:
		return &ExitError{Code: ExitCanceled, Err: errors.Join(context.Canceled, o.Err), Silent: true}
	default:
		return &ExitError{Code: ExitFailure, Err: o.Err, Silent: true}
	}
}
