package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/semcode-mcp/internal/indexer"
	"github.com/dshills/semcode-mcp/internal/lifecycle"
	"github.com/dshills/semcode-mcp/internal/mcp"
	"github.com/dshills/semcode-mcp/internal/searcher"
	"github.com/dshills/semcode-mcp/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if version != "dev" {
		mcp.ServerVersion = version
	}

	manager, err := lifecycle.NewManager(a.cfg, a.logger)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(manager)
	if err != nil {
		_ = manager.Close()
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	a.logger.Info("starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
		zap.String("store", a.cfg.StorePath()))

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

func newIndexCmd(a *app) *cobra.Command {
	var (
		force bool
		paths []string
	)

	cmd := &cobra.Command{
		Use:   "index <directory>",
		Short: "Index a directory and print the run statistics as JSON",
		Example: `semcode index ~/src/project
semcode index ~/src/project --path internal/api --path README.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return lifecycle.Run(cmd.Context(), a.cfg, a.logger, func(ctx context.Context, rt *lifecycle.Runtime) error {
				stats, err := rt.Indexer.Index(ctx, indexer.Request{Root: args[0], Paths: paths, Force: force})
				if stats != nil {
					if werr := writeJSON(cmd.OutOrStdout(), stats); werr != nil {
						return werr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-embed files even when unchanged")
	cmd.Flags().StringSliceVar(&paths, "path", nil, "only re-index this file or subdirectory (repeatable)")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		req     searcher.SearchRequest
		asJSON  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:     "search <query>",
		Short:   "Search the index with a natural language query",
		Example: `semcode search "where is the retry policy configured" --top-k 5 --pattern '*.go'`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = strings.Join(args, " ")
			return lifecycle.Run(cmd.Context(), a.cfg, a.logger, func(ctx context.Context, rt *lifecycle.Runtime) error {
				resp, err := rt.Searcher.Search(ctx, req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), resp)
				}
				printResults(cmd.OutOrStdout(), resp, verbose)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&req.TopK, "top-k", "k", 0, "maximum number of results (default from SEARCH_TOP_K)")
	cmd.Flags().StringSliceVar(&req.PathPrefixes, "dir", nil, "restrict to this absolute directory or file (repeatable)")
	cmd.Flags().StringVar(&req.FilePattern, "pattern", "", "glob over file paths, e.g. '*.go'")
	cmd.Flags().Float64Var(&req.MinScore, "min-score", 0, "drop results below this similarity")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each result's snippet")
	return cmd
}

func printResults(w io.Writer, resp *searcher.SearchResponse, verbose bool) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for _, r := range resp.Results {
		fmt.Fprintf(w, "%2d. %s:%d-%d  (%.3f)", r.Rank, r.File.Path, r.File.StartLine, r.File.EndLine, r.SimilarityScore)
		if r.Symbol != "" {
			fmt.Fprintf(w, "  %s", r.Symbol)
		}
		fmt.Fprintln(w)
		if verbose {
			for _, line := range strings.Split(r.Snippet, "\n") {
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "semcode MCP server\n")
			fmt.Fprintf(w, "Version: %s\n", version)
			fmt.Fprintf(w, "Build Time: %s\n", buildTime)
			fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
