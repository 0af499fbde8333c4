// Package cli implements the docgraph command line: ingest documents, query
// the graph, inspect sections and rebuild from scratch.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dgallion1/docgraph/internal/app"
	"github.com/dgallion1/docgraph/internal/config"
)

// opener builds the components a command runs against.
type opener func(ctx context.Context, cfg config.Config, log *slog.Logger) (*app.App, error)

// session carries the loaded configuration and the lazily opened App
// through one command invocation.
type session struct {
	cfgFile  string
	logLevel string
	open     opener

	cfg config.Config
	log *slog.Logger
	app *app.App
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(app.Open).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	s := &session{open: open}
	root := &cobra.Command{
		Use:           "docgraph",
		Short:         "docgraph: build and query a hierarchical document graph",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.loadConfig(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if s.app == nil {
				return nil
			}
			err := s.app.Close()
			s.app = nil
			return err
		},
	}
	root.PersistentFlags().StringVarP(&s.cfgFile, "config", "c", os.Getenv("DOCGRAPH_CONFIG"), "TOML or YAML config file")
	root.PersistentFlags().StringVar(&s.logLevel, "log-level", "", "override log level (debug|info|warn|error)")

	root.AddCommand(
		newIngestCmd(s),
		newQueryCmd(s),
		newContextCmd(s),
		newResetCmd(s),
		newRebuildCmd(s),
	)
	return root
}

func (s *session) loadConfig(cmd *cobra.Command) error {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(s.cfgFile)
	if err != nil {
		return err
	}
	if s.logLevel != "" {
		cfg.LogLevel = s.logLevel
	}
	s.cfg = cfg
	s.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	return nil
}

// load opens the App. Commands that build documents need the LLM settings;
// read-only commands only need storage and embeddings.
func (s *session) load(ctx context.Context, ingest bool) (*app.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	validate := s.cfg.ValidateRetrieval
	if ingest {
		validate = s.cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a, err := s.open(ctx, s.cfg, s.log)
	if err != nil {
		return nil, err
	}
	s.app = a
	return a, nil
}
