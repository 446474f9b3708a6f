package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ceph/ceph-docs/internal/config"
	"github.com/ceph/ceph-docs/internal/logging"
	"github.com/ceph/ceph-docs/internal/manpage"
	"github.com/ceph/ceph-docs/internal/pipeline"
	"github.com/ceph/ceph-docs/internal/search"
	"github.com/ceph/ceph-docs/internal/sitemap"
	"github.com/ceph/ceph-docs/internal/storage"
	"github.com/ceph/ceph-docs/internal/web"
)

type options struct {
	configPath string
	logLevel   string
	lenient    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "cephdocs",
		Short:         "Collect, publish and serve the Ceph manual pages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to config JSON or YAML")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.lenient, "lenient", false, "Skip sources with a malformed header instead of failing")

	root.AddCommand(newCollectCmd(opts), newBuildCmd(opts), newServeCmd(opts))
	return root
}

func newCollectCmd(opts *options) *cobra.Command {
	var asJSON bool
	var dir string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "List the manual pages found under the man directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.New(cmd.ErrOrStderr(), opts.logLevel)
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fail(logger, "load config", err)
			}
			if dir != "" {
				cfg.ManDir = dir
				if err := cfg.Validate(); err != nil {
					return fail(logger, "invalid man dir", err)
				}
			}

			descs, err := newCollector(cfg, logger, opts.lenient).Collect(cmd.Context())
			if err != nil {
				return fail(logger, "collect failed", err)
			}
			if asJSON {
				err = writeRegistration(cmd.OutOrStdout(), cfg, descs)
			} else {
				err = writeTuples(cmd.OutOrStdout(), descs)
			}
			if err != nil {
				return fail(logger, "write output", err)
			}
			logger.Debug("collected manpages", "count", len(descs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full registration as JSON")
	cmd.Flags().StringVar(&dir, "dir", "", "Override the man directory, relative to doc_root")
	return cmd
}

func newBuildCmd(opts *options) *cobra.Command {
	var force bool
	var output string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Publish sources, search index, manifest and sitemaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.New(cmd.ErrOrStderr(), opts.logLevel)
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fail(logger, "load config", err)
			}
			if output != "" {
				cfg.OutputDir = output
			}

			status, err := build(cmd.Context(), logger, cfg, opts.lenient, force)
			if err != nil {
				return fail(logger, "build failed", err)
			}
			logger.Info("build complete",
				"total", status.Total,
				"written", status.Written,
				"skipped", status.Skipped,
				"invalid", status.Invalid,
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Republish every source (ignore the build cache)")
	cmd.Flags().StringVar(&output, "output", "", "Override the output directory")
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the published manual pages over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.New(cmd.ErrOrStderr(), opts.logLevel)
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fail(logger, "load config", err)
			}

			server := web.NewServer(cfg, logger)
			defer func() { _ = server.Close() }()
			if err := server.ListenAndServe(addr); err != nil {
				return fail(logger, "serve failed", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP bind address")
	return cmd
}

func newCollector(cfg *config.Config, logger *slog.Logger, lenient bool) *manpage.Collector {
	collector := manpage.NewCollector(os.DirFS(cfg.DocRoot), cfg.ManPath())
	collector.Logger = logger
	if lenient {
		collector.OnInvalid = func(string, error) error { return nil }
	}
	return collector
}

func build(ctx context.Context, logger *slog.Logger, cfg *config.Config, lenient, force bool) (pipeline.Status, error) {
	indexer, err := search.NewSQLiteIndexer(cfg.IndexPath())
	if err != nil {
		return pipeline.Status{}, err
	}

	runner := &pipeline.Runner{
		Collector: newCollector(cfg, logger, lenient),
		Config:    cfg,
		Storage:   storage.NewFSStorage(cfg.OutputDir),
		Indexer:   indexer,
		SitemapGenerator: &sitemap.SitemapGenerator{
			Root:    cfg.OutputDir,
			SiteURL: cfg.SiteURL(),
			ManPath: cfg.ManPath(),
			Logger:  logger,
		},
		Logger:       logger,
		FailuresPath: filepath.Join(cfg.OutputDir, "failures.log"),
		Force:        force,
	}
	return runner.Run(ctx)
}

// writeTuples prints one tab-separated descriptor tuple per line.
func writeTuples(w io.Writer, descs []manpage.Descriptor) error {
	for _, d := range descs {
		tuple := d.Tuple()
		if _, err := fmt.Fprintln(w, strings.Join(tuple[:], "\t")); err != nil {
			return err
		}
	}
	return nil
}

func writeRegistration(w io.Writer, cfg *config.Config, descs []manpage.Descriptor) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg.ManPages(descs))
}

func fail(logger *slog.Logger, msg string, err error) error {
	logger.Error(msg, "error", err)
	return err
}
