package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vk/playbookgo/internal/app"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

// NewRootCmd builds the command tree. outW receives logs and command output.
func NewRootCmd(outW io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "playbookgo",
		Short:         "Serve a playbook as an executable, dependency-aware API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)

	root.AddCommand(newServeCmd(outW))
	root.AddCommand(newVersionCmd(outW))
	return root
}

func newServeCmd(outW io.Writer) *cobra.Command {
	cfg := app.Config{}

	cmd := &cobra.Command{
		Use:   "serve PLAYBOOK",
		Short: "Load a playbook and serve the execution API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.PlaybookPath = args[0]

			validated, err := app.NewConfig(cfg)
			if err != nil {
				return err
			}

			a, err := app.NewApp(outW, validated)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}

	cmd.Flags().IntVarP(&cfg.Port, "port", "p", 8080, "Port to serve the API on.")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", "info", "Logging level: 'debug', 'info', 'warn', 'error'.")
	cmd.Flags().StringVar(&cfg.LogFormat, "log-format", "text", "Log output format: 'text' or 'json'.")
	cmd.Flags().StringVar(&cfg.Workdir, "workdir", "", "Initial session working directory. Defaults to the playbook's directory.")
	cmd.Flags().DurationVar(&cfg.ExecTimeout, "exec-timeout", 30*time.Minute, "Per-block execution timeout. 0 disables it.")
	cmd.Flags().BoolVar(&cfg.UsePTY, "pty", true, "Run blocks under a pseudo-terminal.")
	cmd.Flags().StringVar(&cfg.CaptureDir, "capture-dir", "", "Directory for captured block files.")

	return cmd
}

func newVersionCmd(outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(outW, "playbookgo", Version)
		},
	}
}

// Execute runs the command tree against args and returns the exit code.
func Execute(ctx context.Context, outW, errW io.Writer, args []string) int {
	root := NewRootCmd(outW)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errW, "Error:", err)
		return 1
	}
	return 0
}
