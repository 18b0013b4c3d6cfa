// Package cmd defines and implements the CLI commands for the fulltext executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fulltext-fetcher/internal/api"
	"github.com/JakeFAU/fulltext-fetcher/internal/config"
	"github.com/JakeFAU/fulltext-fetcher/internal/server"
)

// App is the slice of *server.App that commands use. Tests replace newApp
// to inject a fake.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Articles() api.Articles
}

var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type configKeyType struct{}

// newRootCmd creates the root command. Configuration is loaded once before
// any subcommand runs and stored in the command context.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "fulltext",
		Short: "Retrieve the full text of web articles from several sources.",
		Long: `fulltext races several retrieval strategies for the same article URL,
keeps the longest result, and caches it so later requests only ever see
the content improve.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./config.yaml, /etc/fulltext and $HOME/.fulltext)")

	cmd.AddCommand(newServeCmd(), newFetchCmd(), newSourcesCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
