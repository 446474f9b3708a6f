package web

import (
	"encoding/json"
	"html/template"

	"github.com/ceph/ceph-docs/internal/manpage"
	"github.com/ceph/ceph-docs/internal/search"
)

type siteView struct {
	Project   string
	Title     string
	Copyright string
	ManPath   string
	Versions  []string
}

// pageView carries the fields the base template reads.
type pageView struct {
	Site         siteView
	ActiveNav    string
	CanonicalURL string
	JSONLD       template.HTML
	Breadcrumbs  []breadcrumb
}

type breadcrumb struct {
	Label string
	Href  string
}

type sectionEntry struct {
	Name  string
	Label string
	Href  string
	Count int
}

type indexView struct {
	pageView
	Sections []sectionEntry
}

type pageEntry struct {
	Name        string
	Description string
	Href        string
}

type sectionView struct {
	pageView
	Heading string
	Pages   []pageEntry
}

type manpageView struct {
	pageView
	Page       manpage.Descriptor
	SourceHref string
	SourceName string
	GzipHref   string
	GzipName   string
}

type searchView struct {
	pageView
	Query           string
	Version         string
	IndexedVersions []string
	Total           uint64
	Results         []search.Result
	SearchError     bool
}

func buildJSONLD(data any) template.HTML {
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return template.HTML(`<script type="application/ld+json">` + string(b) + `</script>`)
}

func buildManpageJSONLD(siteURL, canonicalURL, name, description string, breadcrumbs []breadcrumb) template.HTML {
	return buildJSONLD([]any{
		buildBreadcrumbJSONLD(siteURL, breadcrumbs),
		map[string]any{
			"@context":    "https://schema.org",
			"@type":       "TechArticle",
			"name":        name,
			"description": description,
			"url":         canonicalURL,
			"isPartOf": map[string]any{
				"@type": "WebSite",
				"url":   siteURL,
			},
		},
	})
}

func buildBreadcrumbJSONLD(siteURL string, breadcrumbs []breadcrumb) map[string]any {
	items := make([]map[string]any, 0, len(breadcrumbs))
	for i, crumb := range breadcrumbs {
		if crumb.Href == "" {
			continue
		}
		items = append(items, map[string]any{
			"@type":    "ListItem",
			"position": i + 1,
			"name":     crumb.Label,
			"item":     siteURL + crumb.Href,
		})
	}
	return map[string]any{
		"@context":        "https://schema.org",
		"@type":           "BreadcrumbList",
		"itemListElement": items,
	}
}

func buildBreadcrumbsJSONLD(siteURL string, breadcrumbs []breadcrumb) template.HTML {
	return buildJSONLD(buildBreadcrumbJSONLD(siteURL, breadcrumbs))
}

func buildIndexJSONLD(siteURL, project string) template.HTML {
	return buildJSONLD(map[string]any{
		"@context": "https://schema.org",
		"@type":    "WebSite",
		"name":     project + " documentation",
		"url":      siteURL,
		"potentialAction": map[string]any{
			"@type":       "SearchAction",
			"target":      siteURL + "/search?q={search_term_string}",
			"query-input": "required name=search_term_string",
		},
	})
}
