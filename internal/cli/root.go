// Package cli implements the mangaba command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mangaba-ai/mangaba-go"
	"github.com/mangaba-ai/mangaba-go/internal/config"
	"github.com/mangaba-ai/mangaba-go/internal/logging"
)

// Exit codes.
const (
	ExitSuccess  = 0
	ExitFailure  = 1
	ExitRejected = 2
	ExitCanceled = 130
)

// ExitError ends the program with Code. Silent errors have already been
// reported to the user.
type ExitError struct {
	Code   int
	Err    error
	Silent bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	baseURL    string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand builds the mangaba command tree writing to stdout and
// stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "mangaba",
		Short: "Run the Mangaba.AI multi-agent system from the terminal",
		Long: `mangaba submits a goal and a data source to the Mangaba.AI agent system
and streams the agents' progress and report.

Examples:
  mangaba run --goal "Analisar as vendas do trimestre" --example vendas
  mangaba run --goal "Resumir o documento" --file relatorio.txt --tui
  mangaba examples vendas --format json
  mangaba health --wait
  mangaba serve --addr :5000`,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default: mangaba.yaml in the user config dir or the working dir)")
	flags.StringVar(&a.baseURL, "base-url", "", "backend base URL")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(
		a.newRunCommand(),
		a.newExamplesCommand(),
		a.newHealthCommand(),
		a.newServeCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = a.baseURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: a.stderr,
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) newClient(extra ...mangaba.ClientOption) (*mangaba.Client, error) {
	opts := append(a.cfg.ClientOptions(a.logger), extra...)
	return mangaba.NewClient(opts...)
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if !exitErr.Silent {
			fmt.Fprintln(stderr, "Error:", exitErr.Error())
		}
		return exitErr.Code
	}

	fmt.Fprintln(stderr, "Error:", err)
	return ExitFailure
}
