package config

import "github.com/ceph/ceph-docs/internal/manpage"

// Registration is the document handed to the documentation tool: the
// site metadata plus the manual pages to build.
type Registration struct {
	Project          string               `json:"project"`
	Copyright        string               `json:"copyright"`
	Version          string               `json:"version"`
	Release          string               `json:"release"`
	TemplatesPath    []string             `json:"templates_path"`
	SourceSuffix     string               `json:"source_suffix"`
	MasterDoc        string               `json:"master_doc"`
	ExcludePatterns  []string             `json:"exclude_patterns"`
	PygmentsStyle    string               `json:"pygments_style"`
	HTML             HTML                 `json:"html"`
	Extensions       []string             `json:"extensions"`
	TodoIncludeTodos bool                 `json:"todo_include_todos"`
	DoxygenXML       string               `json:"asphyxiate_doxygen_xml"`
	Versions         []string             `json:"versions,omitempty"`
	ManPages         []manpage.Descriptor `json:"man_pages"`
}

// ManPages builds the registration for the given descriptors. A nil
// slice is encoded as an empty list.
func (c *Config) ManPages(descs []manpage.Descriptor) Registration {
	if descs == nil {
		descs = []manpage.Descriptor{}
	}
	return Registration{
		Project:          c.Project,
		Copyright:        c.Copyright,
		Version:          c.Version,
		Release:          c.Release,
		TemplatesPath:    c.TemplatesPath,
		SourceSuffix:     c.SourceSuffix,
		MasterDoc:        c.MasterDoc,
		ExcludePatterns:  c.ExcludePatterns,
		PygmentsStyle:    c.PygmentsStyle,
		HTML:             c.HTML,
		Extensions:       c.Extensions,
		TodoIncludeTodos: c.TodoIncludeTodos,
		DoxygenXML:       c.DoxygenXML,
		Versions:         c.SortedVersions(),
		ManPages:         descs,
	}
}
