package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ceph/ceph-docs/internal/manpage"
)

const maxSitemapURLs = 50000

type sitemapURL struct {
	XMLName xml.Name `xml:"url"`
	Loc     string   `xml:"loc"`
	LastMod string   `xml:"lastmod,omitempty"`
}

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name          `xml:"sitemapindex"`
	XMLNS    string            `xml:"xmlns,attr"`
	Sitemaps []sitemapIndexRef `xml:"sitemap"`
}

type sitemapIndexRef struct {
	XMLName xml.Name `xml:"sitemap"`
	Loc     string   `xml:"loc"`
	LastMod string   `xml:"lastmod,omitempty"`
}

// SitemapGenerator writes sitemap XML files for the published manpages.
type SitemapGenerator struct {
	Root    string // output directory holding the published sources
	SiteURL string // e.g. "https://docs.ceph.com"
	ManPath string // manpage root served by the site, "man" when empty
	Logger  *slog.Logger
}

// Generate writes one sitemap per manpage section plus a static sitemap
// and a sitemap index to {Root}/sitemaps/.
func (g *SitemapGenerator) Generate(ctx context.Context, descs []manpage.Descriptor) error {
	sitemapDir := filepath.Join(g.Root, "sitemaps")
	if err := os.MkdirAll(sitemapDir, 0o755); err != nil {
		return fmt.Errorf("create sitemaps dir: %w", err)
	}

	now := time.Now().UTC().Format("2006-01-02")
	var indexRefs []sitemapIndexRef

	staticURLs := []sitemapURL{
		{Loc: g.SiteURL + "/", LastMod: now},
		{Loc: g.SiteURL + "/" + g.manPath() + "/", LastMod: now},
	}
	staticFile := "sitemap-static.xml"
	if err := g.writeSitemap(filepath.Join(sitemapDir, staticFile), staticURLs); err != nil {
		return fmt.Errorf("write static sitemap: %w", err)
	}
	indexRefs = append(indexRefs, sitemapIndexRef{
		Loc:     g.SiteURL + "/sitemaps/" + staticFile,
		LastMod: now,
	})

	var sections []string
	bySection := map[string][]sitemapURL{}
	for _, d := range descs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := bySection[d.Section]; !ok {
			sections = append(sections, d.Section)
		}
		bySection[d.Section] = append(bySection[d.Section], sitemapURL{
			Loc:     g.SiteURL + "/" + strings.Trim(d.RelativePath, "/") + "/",
			LastMod: g.lastMod(d, now),
		})
	}
	sort.Strings(sections)

	for _, section := range sections {
		refs, err := g.generateSection(sitemapDir, section, bySection[section], now)
		if err != nil {
			if g.Logger != nil {
				g.Logger.Warn("sitemap section error", "section", section, "error", err)
			}
			continue
		}
		indexRefs = append(indexRefs, refs...)
	}

	idx := sitemapIndex{
		XMLNS:    "http://www.sitemaps.org/schemas/sitemap/0.9",
		Sitemaps: indexRefs,
	}
	indexPath := filepath.Join(sitemapDir, "sitemap-index.xml")
	return writeXML(indexPath, idx)
}

func (g *SitemapGenerator) manPath() string {
	if p := strings.Trim(g.ManPath, "/"); p != "" {
		return p
	}
	return manpage.DefaultDir
}

// lastMod uses the modification time of the published source when present.
func (g *SitemapGenerator) lastMod(d manpage.Descriptor, fallback string) string {
	info, err := os.Stat(filepath.Join(g.Root, filepath.FromSlash(d.RelativePath)+".rst"))
	if err != nil {
		return fallback
	}
	return info.ModTime().UTC().Format("2006-01-02")
}

func (g *SitemapGenerator) generateSection(sitemapDir, section string, urls []sitemapURL, now string) ([]sitemapIndexRef, error) {
	var refs []sitemapIndexRef
	chunks := splitURLs(urls, maxSitemapURLs)
	for i, chunk := range chunks {
		filename := "sitemap-man" + sanitizeName(section)
		if len(chunks) > 1 {
			filename = fmt.Sprintf("%s-%d", filename, i+1)
		}
		filename += ".xml"

		if err := g.writeSitemap(filepath.Join(sitemapDir, filename), chunk); err != nil {
			return nil, err
		}
		refs = append(refs, sitemapIndexRef{
			Loc:     g.SiteURL + "/sitemaps/" + filename,
			LastMod: now,
		})
	}
	return refs, nil
}

// sanitizeName keeps section names usable as a file name component.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (g *SitemapGenerator) writeSitemap(path string, urls []sitemapURL) error {
	urlset := sitemapURLSet{
		XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  urls,
	}
	return writeXML(path, urlset)
}

func writeXML(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func splitURLs(urls []sitemapURL, maxPerFile int) [][]sitemapURL {
	if len(urls) <= maxPerFile {
		return [][]sitemapURL{urls}
	}
	var chunks [][]sitemapURL
	for i := 0; i < len(urls); i += maxPerFile {
		end := i + maxPerFile
		if end > len(urls) {
			end = len(urls)
		}
		chunks = append(chunks, urls[i:end])
	}
	return chunks
}
