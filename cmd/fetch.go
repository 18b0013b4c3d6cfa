package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/race"
)

const closeTimeout = 10 * time.Second

type fetchOptions struct {
	source  string
	refresh bool
}

// newFetchCmd creates the one-shot retrieval command. It runs the same
// engine as the API and prints the result as JSON.
func newFetchCmd() *cobra.Command {
	var opts fetchOptions
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Retrieve one article and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", article.SourceAuto, "source to use, or auto to race all of them")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "skip cache reads")
	return cmd
}

func runFetch(cmd *cobra.Command, rawURL string, opts fetchOptions) (err error) {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := app.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fetchOpts := article.FetchOptions{BypassCache: opts.refresh}
	var res race.Result
	if opts.source == "" || strings.EqualFold(opts.source, article.SourceAuto) {
		res, err = app.Articles().Get(cmd.Context(), rawURL, fetchOpts)
	} else {
		src, perr := article.ParseSource(opts.source)
		if perr != nil {
			return perr
		}
		res, err = app.Articles().GetFrom(cmd.Context(), rawURL, src, fetchOpts)
	}
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
