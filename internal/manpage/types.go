package manpage

import (
	"encoding/json"
	"fmt"
)

// Descriptor registers one manual page with the documentation build.
type Descriptor struct {
	RelativePath string // source path without extension, e.g. "man/8/ceph-deploy"
	BaseName     string // file name without extension, e.g. "ceph-deploy"
	Description  string // one-line summary from the header
	Authors      string // always empty
	Section      string // parent directory name, e.g. "8"
}

// Tuple returns the descriptor in the shape the documentation tool
// expects: (path, name, description, authors, section).
func (d Descriptor) Tuple() [5]string {
	return [5]string{d.RelativePath, d.BaseName, d.Description, d.Authors, d.Section}
}

// MarshalJSON encodes the descriptor as its 5-element tuple.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Tuple())
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var t []string
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	if len(t) != 5 {
		return fmt.Errorf("manpage tuple: want 5 fields, got %d", len(t))
	}
	*d = Descriptor{
		RelativePath: t[0],
		BaseName:     t[1],
		Description:  t[2],
		Authors:      t[3],
		Section:      t[4],
	}
	return nil
}

// Header is the parsed three-line title block of a manual page source.
type Header struct {
	Name        string
	Description string
}
