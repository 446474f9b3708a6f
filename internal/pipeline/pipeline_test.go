package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/ceph/ceph-docs/internal/config"
	"github.com/ceph/ceph-docs/internal/logging"
	"github.com/ceph/ceph-docs/internal/manpage"
	"github.com/ceph/ceph-docs/internal/search"
	"github.com/ceph/ceph-docs/internal/sitemap"
	"github.com/ceph/ceph-docs/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeSource(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testRunner(t *testing.T) (*Runner, string, string) {
	t.Helper()
	docRoot := t.TempDir()
	outDir := t.TempDir()

	writeSource(t, docRoot, "man/8/ceph-deploy.rst",
		"============\nceph-deploy -- deploy ceph with minimal infrastructure\n============\n\nbody\n")
	writeSource(t, docRoot, "man/8/rados.rst", "=====\nrados -- rados object storage utility\n=====\n")
	writeSource(t, docRoot, "man/8/index.rst", "=====\nindex -- manpages\n=====\n")
	writeSource(t, docRoot, "man/8/notes.txt", "notes\n")

	cfg := config.Default()
	cfg.DocRoot = docRoot
	cfg.OutputDir = outDir
	cfg.Site = "https://docs.ceph.com"

	indexer, err := search.NewSQLiteIndexer(cfg.IndexPath())
	if err != nil {
		t.Fatal(err)
	}

	runner := &Runner{
		Collector: manpage.NewCollector(os.DirFS(docRoot), cfg.ManPath()),
		Config:    cfg,
		Storage:   storage.NewFSStorage(outDir),
		Indexer:   indexer,
		SitemapGenerator: &sitemap.SitemapGenerator{
			Root:    outDir,
			SiteURL: cfg.SiteURL(),
			ManPath: cfg.ManPath(),
		},
		Logger:       logging.Discard(),
		FailuresPath: filepath.Join(outDir, "failures.log"),
	}
	return runner, docRoot, outDir
}

func TestRunnerBuild(t *testing.T) {
	runner, _, outDir := testRunner(t)

	status, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status.Stage != StageDone || status.Total != 2 || status.Written != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}

	raw, err := os.ReadFile(filepath.Join(outDir, storage.ManifestName))
	if err != nil {
		t.Fatalf("missing manifest: %v", err)
	}
	var manifest struct {
		Project  string      `json:"project"`
		ManPages [][5]string `json:"man_pages"`
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("invalid manifest: %v", err)
	}
	want := [][5]string{
		{"man/8/ceph-deploy", "ceph-deploy", "deploy ceph with minimal infrastructure", "", "8"},
		{"man/8/rados", "rados", "rados object storage utility", "", "8"},
	}
	if len(manifest.ManPages) != len(want) {
		t.Fatalf("manifest man_pages = %v", manifest.ManPages)
	}
	for i := range want {
		if manifest.ManPages[i] != want[i] {
			t.Errorf("man_pages[%d] = %v, want %v", i, manifest.ManPages[i], want[i])
		}
	}

	for _, rel := range []string{"man/8/rados.rst", "gz/man/8/rados.rst.gz", "sitemaps/sitemap-man8.xml", "search.db"} {
		if _, err := os.Stat(filepath.Join(outDir, filepath.FromSlash(rel))); err != nil {
			t.Errorf("missing output %s: %v", rel, err)
		}
	}
}

func TestRunnerSkipsUnchangedSources(t *testing.T) {
	runner, docRoot, outDir := testRunner(t)
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The indexer is closed by Run; the next build needs a fresh one.
	indexer, err := search.NewSQLiteIndexer(filepath.Join(outDir, "search.db"))
	if err != nil {
		t.Fatal(err)
	}
	runner.Indexer = indexer
	writeSource(t, docRoot, "man/8/rados.rst", "=====\nrados -- rados object storage tool\n=====\n")

	status, err := runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.Written != 1 || status.Skipped != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}

	runner.Indexer = nil
	runner.Force = true
	status, err = runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.Written != 2 || status.Skipped != 0 {
		t.Fatalf("forced build should rewrite everything: %+v", status)
	}
}

func TestRunnerStrictFailsOnMalformedHeader(t *testing.T) {
	runner, docRoot, outDir := testRunner(t)
	writeSource(t, docRoot, "man/8/bad.rst", "====\nbad -- something\n====X\n")

	status, err := runner.Run(context.Background())
	if !errors.Is(err, manpage.ErrFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	if status.Stage != StageError {
		t.Fatalf("expected error stage, got %s", status.Stage)
	}
	if _, err := os.Stat(filepath.Join(outDir, storage.ManifestName)); !os.IsNotExist(err) {
		t.Fatal("manifest must not be written when collection fails")
	}
}

func TestRunnerFailedBuildKeepsSearchIndex(t *testing.T) {
	runner, docRoot, outDir := testRunner(t)
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := searchTotal(t, outDir, "rados")

	indexer, err := search.NewSQLiteIndexer(filepath.Join(outDir, "search.db"))
	if err != nil {
		t.Fatal(err)
	}
	runner.Indexer = indexer
	writeSource(t, docRoot, "man/8/bad.rst", "===\nbad - nothing\n===\n")

	if _, err := runner.Run(context.Background()); !errors.Is(err, manpage.ErrFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	if after := searchTotal(t, outDir, "rados"); after != before || before == 0 {
		t.Fatalf("failed build changed the search index: before %d, after %d", before, after)
	}
	if _, err := os.Stat(filepath.Join(outDir, "search.db.new")); !os.IsNotExist(err) {
		t.Fatalf("staging index left behind: %v", err)
	}
}

func searchTotal(t *testing.T, outDir, q string) uint64 {
	t.Helper()
	searcher, err := search.NewSQLiteSearcher(filepath.Join(outDir, "search.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = searcher.Close() }()
	resp, err := searcher.Search(context.Background(), search.Query{Text: q})
	if err != nil {
		t.Fatal(err)
	}
	return resp.Total
}

func TestRunnerLenientRecordsFailures(t *testing.T) {
	runner, docRoot, outDir := testRunner(t)
	writeSource(t, docRoot, "man/8/bad.rst", "====\nbad -- something\n====X\n")
	runner.Collector.OnInvalid = func(string, error) error { return nil }
	var logs bytes.Buffer
	runner.Logger = logging.New(&logs, "warn")

	status, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status.Invalid != 1 || status.Total != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}

	log, err := os.ReadFile(filepath.Join(outDir, "failures.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(log), "header man/8/bad.rst") {
		t.Fatalf("failure log missing entry: %q", log)
	}
	if got := runner.Failures(); len(got) != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if n := strings.Count(logs.String(), "level=WARN"); n != 2 {
		// One skip record and the build summary.
		t.Fatalf("expected the skip to be logged once, got:\n%s", logs.String())
	}
	if !strings.Contains(logs.String(), "skipping manpage") {
		t.Fatalf("missing skip record:\n%s", logs.String())
	}
}

func TestRunnerMissingDependencies(t *testing.T) {
	if _, err := (&Runner{}).Run(context.Background()); err == nil {
		t.Fatal("expected error for runner without dependencies")
	}
}
