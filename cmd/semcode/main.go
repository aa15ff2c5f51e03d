// Command semcode serves semantic code search to MCP clients over stdio and
// offers the same index and search operations on the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/semcode-mcp/internal/config"
	"github.com/dshills/semcode-mcp/internal/logging"
	"github.com/dshills/semcode-mcp/internal/mcp"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries what the persistent pre-run resolved for the subcommands
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	logLevel string
	dataRoot string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "semcode",
		Short: "Semantic code search for AI assistants",
		Long: `semcode indexes source trees into a local vector store and answers
natural language queries over them. Without a subcommand it serves the
list_dir, search_code, index_directory and get_status tools over MCP stdio.

Configuration comes from the environment (or a .env file): DATA_ROOT,
CHROMA_DB_FOLDER_NAME, SENTENCE_TRANSFORMER_PATH, EMBEDDING_PROVIDER and more.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&a.dataRoot, "data-root", "", "storage root directory; overrides DATA_ROOT")

	root.AddCommand(
		newServeCmd(a),
		newIndexCmd(a),
		newSearchCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration, applies flag overrides and builds the logger
func (a *app) setup() error {
	if a.dataRoot != "" {
		if err := os.Setenv(config.EnvDataRoot, a.dataRoot); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger.With(zap.String("server", mcp.ServerName))
	return nil
}
