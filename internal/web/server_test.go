package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/ceph/ceph-docs/internal/config"
	"github.com/ceph/ceph-docs/internal/logging"
	"github.com/ceph/ceph-docs/internal/manpage"
	"github.com/ceph/ceph-docs/internal/search"
	"github.com/ceph/ceph-docs/internal/storage"
)

var testPages = []manpage.Descriptor{
	{RelativePath: "man/8/ceph-deploy", BaseName: "ceph-deploy", Description: "deploy ceph with minimal infrastructure", Section: "8"},
	{RelativePath: "man/8/rados", BaseName: "rados", Description: "rados object storage utility", Section: "8"},
	{RelativePath: "man/1/ceph", BaseName: "ceph", Description: "ceph administration tool", Section: "1"},
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DocRoot = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.Site = "https://docs.ceph.com"
	cfg.Versions = []string{"0.48"}
	return cfg
}

// testServer publishes testPages the way a build does and returns a server
// over the output directory.
func testServer(t *testing.T, withIndex bool) (*Server, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	ctx := context.Background()

	store := storage.NewFSStorage(cfg.OutputDir)
	for _, d := range testPages {
		content := "===\n" + d.BaseName + " -- " + d.Description + "\n===\n"
		if err := store.WriteSource(ctx, d.RelativePath, []byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.WriteManifest(ctx, cfg.ManPages(testPages)); err != nil {
		t.Fatal(err)
	}

	if withIndex {
		indexer, err := search.NewSQLiteIndexer(cfg.IndexPath())
		if err != nil {
			t.Fatal(err)
		}
		for _, d := range testPages {
			body := []byte("===\n" + d.BaseName + "\n===\n\nSynopsis of " + d.BaseName + "\n")
			if err := indexer.IndexManpage(ctx, search.DocumentFor(d, cfg.Version, body)); err != nil {
				t.Fatal(err)
			}
		}
		if err := indexer.Commit(); err != nil {
			t.Fatal(err)
		}
		if err := indexer.Close(); err != nil {
			t.Fatal(err)
		}
	}

	srv := NewServer(cfg, logging.Discard())
	t.Cleanup(func() { _ = srv.Close() })
	return srv, cfg
}

func get(t *testing.T, h http.Handler, target string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t, false)
	resp, body := get(t, srv.Handler(), "/healthz")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", resp.StatusCode, body)
	}
}

func TestHandleRobotsTxt(t *testing.T) {
	srv, _ := testServer(t, false)
	resp, text := get(t, srv.Handler(), "/robots.txt")

	if resp.Header.Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("unexpected content type: %s", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(text, "Disallow: /api/") {
		t.Error("missing Disallow /api/")
	}
	if !strings.Contains(text, "Sitemap: https://docs.ceph.com/sitemaps/sitemap-index.xml") {
		t.Errorf("missing or incorrect Sitemap line, got:\n%s", text)
	}
}

func TestAPIManpages(t *testing.T) {
	srv, _ := testServer(t, false)

	resp, body := get(t, srv.Handler(), "/api/manpages?section=8")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got struct {
		Total    int         `json:"total"`
		ManPages [][5]string `json:"man_pages"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Total != 2 {
		t.Fatalf("expected 2 section 8 pages, got %d", got.Total)
	}
	want := [5]string{"man/8/ceph-deploy", "ceph-deploy", "deploy ceph with minimal infrastructure", "", "8"}
	if got.ManPages[0] != want {
		t.Fatalf("unexpected tuple: %v", got.ManPages[0])
	}
}

func TestAPIManpagesWithoutBuild(t *testing.T) {
	cfg := testConfig(t)
	srv := NewServer(cfg, logging.Discard())

	resp, _ := get(t, srv.Handler(), "/api/manpages")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestAPISearch(t *testing.T) {
	srv, _ := testServer(t, true)

	resp, body := get(t, srv.Handler(), "/api/search?q=rados&limit=5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var got search.SearchResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 1 || got.Results[0].Path != "/man/8/rados/" {
		t.Fatalf("unexpected results: %+v", got)
	}
}

func TestAPISearchVersionFilter(t *testing.T) {
	srv, _ := testServer(t, true)

	_, body := get(t, srv.Handler(), "/api/search?q=rados&version=dev")
	var got search.SearchResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 1 || got.Results[0].Version != "dev" {
		t.Fatalf("unexpected results for dev: %+v", got)
	}

	_, body = get(t, srv.Handler(), "/api/search?q=rados&version=0.48")
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 0 {
		t.Fatalf("expected no results for an unindexed version, got %+v", got)
	}
}

func TestAPISearchNoIndex(t *testing.T) {
	srv, _ := testServer(t, false)
	resp, _ := get(t, srv.Handler(), "/api/search?q=rados")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestIndexListsSections(t *testing.T) {
	srv, _ := testServer(t, false)
	resp, body := get(t, srv.Handler(), "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for _, want := range []string{"Section 1: User commands", "Section 8: System administration", `href="/man/8/"`, "dev · 0.48"} {
		if !strings.Contains(body, want) {
			t.Errorf("index missing %q", want)
		}
	}
}

func TestSectionPage(t *testing.T) {
	srv, _ := testServer(t, false)
	resp, body := get(t, srv.Handler(), "/man/8/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `href="/man/8/rados/"`) || !strings.Contains(body, "deploy ceph with minimal infrastructure") {
		t.Errorf("section page missing entries:\n%s", body)
	}
	if strings.Contains(body, "/man/1/ceph/") {
		t.Error("section page lists pages from another section")
	}
}

func TestManpagePage(t *testing.T) {
	srv, _ := testServer(t, false)
	resp, body := get(t, srv.Handler(), "/man/8/ceph-deploy/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for _, want := range []string{
		"ceph-deploy",
		"deploy ceph with minimal infrastructure",
		`href="/man/8/ceph-deploy.rst"`,
		`href="/gz/man/8/ceph-deploy.rst.gz"`,
		`<link rel="canonical" href="https://docs.ceph.com/man/8/ceph-deploy/">`,
		"application/ld+json",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("manpage page missing %q", want)
		}
	}
}

func TestManpageRedirectsToSlash(t *testing.T) {
	srv, _ := testServer(t, false)
	resp, _ := get(t, srv.Handler(), "/man/8/rados")
	if resp.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("expected 301, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/man/8/rados/" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
}

func TestManpageNotFound(t *testing.T) {
	srv, _ := testServer(t, false)
	for _, target := range []string{"/man/8/missing/", "/man/5/", "/nope"} {
		resp, body := get(t, srv.Handler(), target)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, resp.StatusCode)
		}
		if !strings.Contains(body, "Page not found") {
			t.Errorf("%s: expected not found page", target)
		}
	}
}

func TestServeSource(t *testing.T) {
	srv, _ := testServer(t, false)
	resp, body := get(t, srv.Handler(), "/man/8/rados.rst")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(body, "===\nrados -- rados object storage utility\n") {
		t.Fatalf("unexpected source: %q", body)
	}

	resp, _ = get(t, srv.Handler(), "/man/8/missing.rst")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleSearchPage(t *testing.T) {
	srv, _ := testServer(t, true)
	resp, body := get(t, srv.Handler(), "/search?q=ceph")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "results found") || !strings.Contains(body, `href="/man/1/ceph/"`) {
		t.Errorf("search page missing results:\n%s", body)
	}
}

func TestHandleSearchPageNoIndex(t *testing.T) {
	srv, _ := testServer(t, false)
	_, body := get(t, srv.Handler(), "/search?q=ceph")
	if !strings.Contains(body, "Search is currently unavailable") {
		t.Error("expected search error message")
	}
}

func TestStaticAssetConditionalRequest(t *testing.T) {
	srv, _ := testServer(t, false)
	etag := computeStaticETag()

	req := httptest.NewRequest(http.MethodGet, "/static/docs.css", nil)
	req.Header.Set("If-None-Match", etag)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}
}

func TestLogRequestsStatus(t *testing.T) {
	var buf bytes.Buffer
	srv := &Server{logger: logging.New(&buf, "info")}
	handler := srv.logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/man/../man/8/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, "status=418") || !strings.Contains(out, "path=/man/8") {
		t.Fatalf("unexpected log line: %s", out)
	}
}

func TestGzipCompressesHTMLResponse(t *testing.T) {
	handler := gzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>hello</p>"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", resp.Header.Get("Content-Encoding"))
	}
	gr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("failed to create gzip reader: %v", err)
	}
	defer func() { _ = gr.Close() }()
	body, _ := io.ReadAll(gr)
	if string(body) != "<p>hello</p>" {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestGzipSkipsWithoutAcceptEncoding(t *testing.T) {
	handler := gzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("hello"))
	}))

	resp, body := get(t, handler, "/")
	if resp.Header.Get("Content-Encoding") == "gzip" {
		t.Error("should not gzip without Accept-Encoding")
	}
	if body != "hello" {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestSectionLabel(t *testing.T) {
	if got := sectionLabel("8"); got != "Section 8: System administration" {
		t.Errorf("sectionLabel(8) = %q", got)
	}
	if got := sectionLabel("3rados"); got != "Section 3rados" {
		t.Errorf("sectionLabel(3rados) = %q", got)
	}
}
