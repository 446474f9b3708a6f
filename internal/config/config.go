package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	debversion "pault.ag/go/debian/version"

	"github.com/ceph/ceph-docs/internal/manpage"
)

const defaultConfigPath = "doc/ceph-docs.json"

// HTML holds the theme settings handed to the documentation tool.
type HTML struct {
	Theme          string              `json:"theme" yaml:"theme"`
	Title          string              `json:"title" yaml:"title"`
	Logo           string              `json:"logo" yaml:"logo"`
	Favicon        string              `json:"favicon" yaml:"favicon"`
	UseSmartypants bool                `json:"use_smartypants" yaml:"use_smartypants"`
	ShowSphinx     bool                `json:"show_sphinx" yaml:"show_sphinx"`
	Sidebars       map[string][]string `json:"sidebars" yaml:"sidebars"`
}

// Config is the documentation build configuration. Site metadata is
// passed through to the documentation tool; the path fields drive the
// manpage tooling.
type Config struct {
	Project          string   `json:"project" yaml:"project"`
	Copyright        string   `json:"copyright" yaml:"copyright"`
	Version          string   `json:"version" yaml:"version"`
	Release          string   `json:"release" yaml:"release"`
	TemplatesPath    []string `json:"templates_path" yaml:"templates_path"`
	SourceSuffix     string   `json:"source_suffix" yaml:"source_suffix"`
	MasterDoc        string   `json:"master_doc" yaml:"master_doc"`
	ExcludePatterns  []string `json:"exclude_patterns" yaml:"exclude_patterns"`
	PygmentsStyle    string   `json:"pygments_style" yaml:"pygments_style"`
	HTML             HTML     `json:"html" yaml:"html"`
	Extensions       []string `json:"extensions" yaml:"extensions"`
	TodoIncludeTodos bool     `json:"todo_include_todos" yaml:"todo_include_todos"`
	DoxygenXML       string   `json:"asphyxiate_doxygen_xml" yaml:"asphyxiate_doxygen_xml"`

	DocRoot   string   `json:"doc_root" yaml:"doc_root"`
	ManDir    string   `json:"man_dir" yaml:"man_dir"`
	OutputDir string   `json:"output_dir" yaml:"output_dir"`
	IndexDir  string   `json:"index_path" yaml:"index_path"`
	Site      string   `json:"site" yaml:"site"`
	Versions  []string `json:"versions" yaml:"versions"`
}

// Default returns the configuration of the Ceph documentation tree.
func Default() *Config {
	return &Config{
		Project:         "Ceph",
		Copyright:       "2012, New Dream Network",
		Version:         "dev",
		Release:         "dev",
		TemplatesPath:   []string{"_templates"},
		SourceSuffix:    ".rst",
		MasterDoc:       "index",
		ExcludePatterns: []string{"**/.#*", "**/*~"},
		PygmentsStyle:   "sphinx",
		HTML: HTML{
			Theme:          "nature",
			Title:          "Ceph documentation",
			Logo:           "logo.jpg",
			Favicon:        "favicon.ico",
			UseSmartypants: true,
			ShowSphinx:     false,
			Sidebars: map[string][]string{
				"**": {"smarttoc.html", "searchbox.html"},
			},
		},
		Extensions: []string{
			"sphinx.ext.autodoc",
			"sphinx.ext.graphviz",
			"sphinx.ext.todo",
			"sphinx_ditaa",
			"asphyxiate",
		},
		TodoIncludeTodos: true,
		DoxygenXML:       "doxygen",
		ManDir:           manpage.DefaultDir,
	}
}

func DefaultPath() string {
	if path := os.Getenv("CEPH_DOCS_CONFIG_FILE"); path != "" {
		return path
	}
	return defaultConfigPath
}

// Load reads a JSON or YAML (by extension) config file on top of the
// defaults and validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, cfg)
	default:
		err = json.Unmarshal(raw, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Project == "" {
		return errors.New("config project is required")
	}
	if c.DocRoot == "" {
		return errors.New("config doc_root is required")
	}
	if c.OutputDir == "" {
		return errors.New("config output_dir is required")
	}
	if c.Site == "" {
		return errors.New("config site is required")
	}
	if c.ManDir == "" {
		return errors.New("config man_dir is required")
	}
	if clean := filepath.ToSlash(filepath.Clean(c.ManDir)); filepath.IsAbs(c.ManDir) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("config man_dir %q must be relative to doc_root", c.ManDir)
	}
	return nil
}

func (c *Config) IndexPath() string {
	if c.IndexDir != "" {
		return c.IndexDir
	}
	return filepath.Join(c.OutputDir, "search.db")
}

func (c *Config) SiteURL() string {
	return strings.TrimRight(c.Site, "/")
}

// ManPath returns the manpage root inside DocRoot in slash form, as
// used with os.DirFS(DocRoot).
func (c *Config) ManPath() string {
	dir := filepath.ToSlash(filepath.Clean(c.ManDir))
	if dir == "" || dir == "." {
		return manpage.DefaultDir
	}
	return dir
}

// SortedVersions returns the current version followed by the other
// published versions, newest first. Names that are not Debian-style
// version numbers (such as "dev") come first in name order.
func (c *Config) SortedVersions() []string {
	seen := map[string]bool{}
	var named []string
	type numbered struct {
		name string
		v    debversion.Version
	}
	var nums []numbered

	for _, v := range append([]string{c.Version}, c.Versions...) {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		parsed, err := debversion.Parse(v)
		if err != nil || !startsWithDigit(v) {
			named = append(named, v)
			continue
		}
		nums = append(nums, numbered{name: v, v: parsed})
	}

	sort.Strings(named)
	sort.SliceStable(nums, func(i, j int) bool {
		return debversion.Compare(nums[i].v, nums[j].v) > 0
	})

	out := named
	for _, n := range nums {
		out = append(out, n.name)
	}
	return out
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}
