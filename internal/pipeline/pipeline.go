package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ceph/ceph-docs/internal/config"
	"github.com/ceph/ceph-docs/internal/manpage"
	"github.com/ceph/ceph-docs/internal/search"
	"github.com/ceph/ceph-docs/internal/sitemap"
	"github.com/ceph/ceph-docs/internal/storage"
)

type Runner struct {
	Collector        *manpage.Collector
	Config           *config.Config
	Storage          *storage.FSStorage
	Indexer          search.Indexer
	SitemapGenerator *sitemap.SitemapGenerator
	Logger           *slog.Logger
	FailuresPath     string
	Force            bool

	mu       sync.Mutex
	status   Status
	failures []string
}

// Run collects the manpages, publishes their sources, indexes them and
// writes the manifest and sitemap. Collection stays all-or-nothing unless
// the collector has an OnInvalid policy.
func (r *Runner) Run(ctx context.Context) (Status, error) {
	if r.Collector == nil || r.Config == nil || r.Storage == nil {
		return Status{}, errors.New("pipeline runner missing dependencies")
	}

	r.mu.Lock()
	r.status = Status{Stage: StageWaiting, FailuresPath: r.FailuresPath}
	r.failures = nil
	r.mu.Unlock()

	// Create the failure log up front so users can tail it during the build.
	if r.FailuresPath != "" {
		_ = os.MkdirAll(filepath.Dir(r.FailuresPath), 0o755)
		_ = os.WriteFile(r.FailuresPath, nil, 0o644)
	}

	descs, err := r.run(ctx)
	if r.Indexer != nil {
		if cerr := r.Indexer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close indexer: %w", cerr)
		}
	}
	if err != nil {
		r.setStage(StageError)
		return r.Status(), err
	}

	if r.SitemapGenerator != nil {
		if err := r.SitemapGenerator.Generate(ctx, descs); err != nil {
			r.logger().Error("sitemap generation failed", "error", err)
			// Sitemaps never fail the build.
		}
	}

	r.setStage(StageDone)
	s := r.Status()
	r.logger().Info("build done",
		"total", s.Total,
		"written", s.Written,
		"skipped", s.Skipped,
		"invalid", s.Invalid,
		"output", r.Storage.Root,
	)
	if s.Invalid > 0 {
		r.logger().Warn("build completed with invalid manpages", "count", s.Invalid)
	}
	return s, nil
}

func (r *Runner) run(ctx context.Context) ([]manpage.Descriptor, error) {
	r.setStage(StageCollecting)
	collector := *r.Collector
	if next := r.Collector.OnInvalid; next != nil {
		collector.OnInvalid = func(path string, err error) error {
			// The collector logs the skip itself.
			r.writeFailure("header", path, err)
			r.mu.Lock()
			r.status.Invalid++
			r.mu.Unlock()
			return next(path, err)
		}
	}
	if collector.Logger == nil {
		collector.Logger = r.Logger
	}

	r.logger().Info("collecting manpages", "dir", collector.Dir)
	descs, err := collector.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect manpages: %w", err)
	}

	r.mu.Lock()
	r.status.Stage = StagePublishing
	r.status.Total = len(descs)
	r.mu.Unlock()

	sources := make([][]byte, len(descs))
	for i, d := range descs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := r.publish(ctx, collector.FS, d)
		if err != nil {
			r.recordFailure("publish", d.RelativePath, err)
			return nil, &PublishError{Path: d.RelativePath, Err: err}
		}
		sources[i] = content
	}

	if r.Indexer != nil {
		if err := r.index(ctx, descs, sources); err != nil {
			return nil, err
		}
	}

	if err := r.Storage.WriteManifest(ctx, r.Config.ManPages(descs)); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return descs, nil
}

// index rebuilds this version's part of the search index and publishes
// it. Other versions already in the index are kept.
func (r *Runner) index(ctx context.Context, descs []manpage.Descriptor, sources [][]byte) error {
	r.setStage(StageIndexing)
	version := r.Config.Version
	kept, err := r.Indexer.CarryOver(ctx, version)
	if err != nil {
		return fmt.Errorf("carry over search index: %w", err)
	}
	for i, d := range descs {
		if err := r.Indexer.IndexManpage(ctx, search.DocumentFor(d, version, sources[i])); err != nil {
			return fmt.Errorf("index manpage %s: %w", d.RelativePath, err)
		}
	}
	if err := r.Indexer.Commit(); err != nil {
		return fmt.Errorf("commit search index: %w", err)
	}
	r.logger().Debug("search index published", "version", version, "documents", len(descs), "kept", kept)
	return nil
}

func (r *Runner) publish(ctx context.Context, fsys fs.FS, d manpage.Descriptor) ([]byte, error) {
	content, err := fs.ReadFile(fsys, d.RelativePath+".rst")
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	sum := storage.Checksum(content)
	if !r.Force && r.Storage.CheckCache(d.RelativePath, sum) {
		r.logger().Debug("skipping unchanged manpage", "path", d.RelativePath)
		r.mu.Lock()
		r.status.Skipped++
		r.mu.Unlock()
		return content, nil
	}

	r.logger().Debug("publishing", "path", d.RelativePath, "section", d.Section)
	if err := r.Storage.WriteSource(ctx, d.RelativePath, content); err != nil {
		return nil, err
	}
	if err := r.Storage.WriteCache(ctx, d.RelativePath, sum); err != nil {
		return nil, fmt.Errorf("write cache: %w", err)
	}

	r.mu.Lock()
	r.status.Written++
	r.mu.Unlock()
	return content, nil
}

// Status returns a snapshot of the build progress.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Failures returns the messages recorded in the failure log.
func (r *Runner) Failures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.failures...)
}

func (r *Runner) setStage(stage string) {
	r.mu.Lock()
	r.status.Stage = stage
	r.mu.Unlock()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

func (r *Runner) recordFailure(stage string, path string, err error) {
	r.writeFailure(stage, path, err)
	r.logger().Warn("pipeline failure", "stage", stage, "path", path, "error", err)
}

// writeFailure appends to the failure log without logging.
func (r *Runner) writeFailure(stage string, path string, err error) {
	message := strings.TrimSpace(fmt.Sprintf("%s %s: %v", stage, path, err))
	r.mu.Lock()
	r.failures = append(r.failures, message)
	r.status.Errors++
	failPath := r.status.FailuresPath
	r.mu.Unlock()

	// Append to the failure log immediately so users can tail it.
	if failPath != "" {
		f, ferr := os.OpenFile(failPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr == nil {
			_, _ = fmt.Fprintln(f, message)
			_ = f.Close()
		}
	}
}
