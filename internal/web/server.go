package web

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ceph/ceph-docs/internal/config"
	"github.com/ceph/ceph-docs/internal/manpage"
	"github.com/ceph/ceph-docs/internal/search"
	"github.com/ceph/ceph-docs/internal/storage"
)

//go:embed templates/base.html templates/index.html templates/section.html templates/manpage.html templates/search.html templates/404.html static/docs.css
var webAssets embed.FS

// sectionTitles names the conventional manual sections.
var sectionTitles = map[string]string{
	"1": "User commands",
	"2": "System calls",
	"3": "Library functions",
	"4": "Special files",
	"5": "File formats",
	"6": "Games",
	"7": "Miscellaneous",
	"8": "System administration",
	"9": "Kernel routines",
}

type Server struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *storage.FSStorage
	index       *template.Template
	sectionPage *template.Template
	manpagePage *template.Template
	searchPage  *template.Template
	notFound    *template.Template
	search      *search.SQLiteSearcher
}

func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	parse := func(name string) *template.Template {
		return template.Must(template.ParseFS(webAssets, "templates/base.html", "templates/"+name))
	}
	searcher, err := search.NewSQLiteSearcher(cfg.IndexPath())
	if err != nil {
		logger.Warn("search index unavailable", "error", err)
		searcher = nil
	}
	return &Server{
		cfg:         cfg,
		logger:      logger,
		store:       storage.NewFSStorage(cfg.OutputDir),
		index:       parse("index.html"),
		sectionPage: parse("section.html"),
		manpagePage: parse("manpage.html"),
		searchPage:  parse("search.html"),
		notFound:    parse("404.html"),
		search:      searcher,
	}
}

// Handler returns the routed handler with logging and compression.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/robots.txt", s.handleRobotsTxt)
	mux.HandleFunc("/api/manpages", s.handleAPIManpages)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/search", s.handleSearchPage)
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/"+s.cfg.ManPath()+"/", s.handleManpages)

	staticFS, _ := fs.Sub(webAssets, "static")
	mux.Handle("/static/", staticCacheHandler(computeStaticETag(),
		http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))),
	))
	fileServer := http.FileServer(http.Dir(s.cfg.OutputDir))
	mux.Handle("/gz/", fileServer)
	sitemapDir := filepath.Join(s.cfg.OutputDir, "sitemaps")
	mux.Handle("/sitemaps/", http.StripPrefix("/sitemaps/", http.FileServer(http.Dir(sitemapDir))))

	return s.logRequests(gzipHandler(mux))
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Close releases the search index.
func (s *Server) Close() error {
	if s.search == nil {
		return nil
	}
	return s.search.Close()
}

func (s *Server) loadManifest() (config.Registration, error) {
	var reg config.Registration
	err := s.store.ReadManifest(&reg)
	return reg, err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRobotsTxt(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, `User-agent: *
Allow: /
Disallow: /api/
Disallow: /healthz
Disallow: /gz/

Sitemap: %s/sitemaps/sitemap-index.xml
`, s.cfg.SiteURL())
}

type manpagesResponse struct {
	Total    int                  `json:"total"`
	ManPages []manpage.Descriptor `json:"man_pages"`
}

func (s *Server) handleAPIManpages(w http.ResponseWriter, r *http.Request) {
	reg, err := s.loadManifest()
	if err != nil {
		s.logger.Warn("manifest unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "manifest unavailable"})
		return
	}

	section := r.URL.Query().Get("section")
	pages := make([]manpage.Descriptor, 0, len(reg.ManPages))
	for _, d := range reg.ManPages {
		if section == "" || d.Section == section {
			pages = append(pages, d)
		}
	}
	writeJSON(w, http.StatusOK, manpagesResponse{Total: len(pages), ManPages: pages})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "search index unavailable",
		})
		return
	}

	results, err := s.search.Search(r.Context(), search.Query{
		Text:    r.URL.Query().Get("q"),
		Section: r.URL.Query().Get("section"),
		Version: r.URL.Query().Get("version"),
		Limit:   parseIntQuery(r, "limit", 50),
		Offset:  parseIntQuery(r, "offset", 0),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	view := searchView{
		pageView: s.basePage("search"),
		Query:    r.URL.Query().Get("q"),
		Version:  r.URL.Query().Get("version"),
	}
	if s.search != nil {
		versions, err := s.search.Versions(r.Context())
		if err != nil {
			s.logger.Warn("list indexed versions", "error", err)
		}
		view.IndexedVersions = versions
	}

	if view.Query != "" {
		if s.search == nil {
			view.SearchError = true
		} else {
			results, err := s.search.Search(r.Context(), search.Query{Text: view.Query, Version: view.Version})
			if err != nil {
				view.SearchError = true
			} else {
				view.Total = results.Total
				view.Results = results.Results
			}
		}
	}

	s.render(w, http.StatusOK, s.searchPage, "search", view)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		s.renderNotFound(w, r)
		return
	}
	reg, err := s.loadManifest()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("manifest unavailable", "error", err)
	}

	view := indexView{pageView: s.basePage("home"), Sections: s.sectionEntries(reg.ManPages)}
	view.CanonicalURL = s.cfg.SiteURL() + "/"
	view.JSONLD = buildIndexJSONLD(s.cfg.SiteURL(), s.cfg.Project)
	s.render(w, http.StatusOK, s.index, "index", view)
}

// handleManpages serves the manual page tree: the section list at the
// root, one section's pages, a page view, or a published source.
func (s *Server) handleManpages(w http.ResponseWriter, r *http.Request) {
	clean := path.Clean("/" + r.URL.Path)
	root := s.cfg.ManPath()

	if strings.HasSuffix(clean, ".rst") {
		s.serveSource(w, r, clean)
		return
	}
	if !strings.HasSuffix(r.URL.Path, "/") {
		http.Redirect(w, r, clean+"/", http.StatusMovedPermanently)
		return
	}

	reg, err := s.loadManifest()
	if err != nil {
		s.logger.Warn("manifest unavailable", "error", err)
		s.renderNotFound(w, r)
		return
	}

	rel := strings.Trim(clean, "/")
	if rel == root {
		view := indexView{pageView: s.basePage("man"), Sections: s.sectionEntries(reg.ManPages)}
		view.CanonicalURL = s.cfg.SiteURL() + "/" + root + "/"
		view.Breadcrumbs = []breadcrumb{{Label: "Manual pages"}}
		view.JSONLD = buildBreadcrumbsJSONLD(s.cfg.SiteURL(), view.Breadcrumbs)
		s.render(w, http.StatusOK, s.index, "index", view)
		return
	}

	for _, d := range reg.ManPages {
		if d.RelativePath == rel {
			s.serveManpage(w, d)
			return
		}
	}

	var pages []pageEntry
	for _, d := range reg.ManPages {
		if path.Dir(d.RelativePath) == rel {
			pages = append(pages, pageEntry{
				Name:        d.BaseName,
				Description: d.Description,
				Href:        "/" + d.RelativePath + "/",
			})
		}
	}
	if len(pages) == 0 {
		s.renderNotFound(w, r)
		return
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Name < pages[j].Name })

	section := path.Base(rel)
	view := sectionView{
		pageView: s.basePage("man"),
		Heading:  sectionLabel(section),
		Pages:    pages,
	}
	view.CanonicalURL = s.cfg.SiteURL() + "/" + rel + "/"
	view.Breadcrumbs = []breadcrumb{
		{Label: "Manual pages", Href: "/" + root + "/"},
		{Label: sectionLabel(section)},
	}
	view.JSONLD = buildBreadcrumbsJSONLD(s.cfg.SiteURL(), view.Breadcrumbs)
	s.render(w, http.StatusOK, s.sectionPage, "section", view)
}

func (s *Server) serveManpage(w http.ResponseWriter, d manpage.Descriptor) {
	root := s.cfg.ManPath()
	view := manpageView{
		pageView:   s.basePage("man"),
		Page:       d,
		SourceHref: "/" + storage.SourcePath(d.RelativePath),
		SourceName: path.Base(storage.SourcePath(d.RelativePath)),
		GzipHref:   "/" + storage.GzipPath(d.RelativePath),
		GzipName:   path.Base(storage.GzipPath(d.RelativePath)),
	}
	view.CanonicalURL = s.cfg.SiteURL() + "/" + d.RelativePath + "/"
	view.Breadcrumbs = []breadcrumb{
		{Label: "Manual pages", Href: "/" + root + "/"},
		{Label: sectionLabel(d.Section), Href: "/" + path.Dir(d.RelativePath) + "/"},
		{Label: d.BaseName},
	}
	view.JSONLD = buildManpageJSONLD(s.cfg.SiteURL(), view.CanonicalURL, d.BaseName, d.Description, view.Breadcrumbs)
	s.render(w, http.StatusOK, s.manpagePage, "manpage", view)
}

func (s *Server) serveSource(w http.ResponseWriter, r *http.Request, clean string) {
	fsPath := filepath.Join(s.cfg.OutputDir, filepath.FromSlash(clean))
	info, err := os.Stat(fsPath)
	if err != nil || info.IsDir() {
		s.renderNotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeFile(w, r, fsPath)
}

func (s *Server) renderNotFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusNotFound, s.notFound, "404", s.basePage(""))
}

func (s *Server) render(w http.ResponseWriter, status int, t *template.Template, name string, view any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.ExecuteTemplate(w, "base", view); err != nil {
		s.logger.Error("render error", "template", name, "error", err)
	}
}

func (s *Server) basePage(nav string) pageView {
	return pageView{
		ActiveNav: nav,
		Site: siteView{
			Project:   s.cfg.Project,
			Title:     s.cfg.HTML.Title,
			Copyright: s.cfg.Copyright,
			ManPath:   s.cfg.ManPath(),
			Versions:  s.cfg.SortedVersions(),
		},
	}
}

func (s *Server) sectionEntries(descs []manpage.Descriptor) []sectionEntry {
	counts := map[string]int{}
	hrefs := map[string]string{}
	for _, d := range descs {
		counts[d.Section]++
		hrefs[d.Section] = "/" + path.Dir(d.RelativePath) + "/"
	}
	entries := make([]sectionEntry, 0, len(counts))
	for section, n := range counts {
		entries = append(entries, sectionEntry{
			Name:  section,
			Label: sectionLabel(section),
			Href:  hrefs[section],
			Count: n,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func sectionLabel(section string) string {
	if title, ok := sectionTitles[section]; ok {
		return "Section " + section + ": " + title
	}
	return "Section " + section
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
