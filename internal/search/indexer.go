package search

import (
	"context"
	"strings"

	"github.com/ceph/ceph-docs/internal/manpage"
)

// Indexer abstracts search indexing so the pipeline package does not depend
// on a specific search implementation.
//
// Documents go to a staging index that readers never see. Commit replaces
// the published index with it; Close without Commit discards it.
type Indexer interface {
	// CarryOver copies the published documents of every version other
	// than version into the staging index.
	CarryOver(ctx context.Context, version string) (int, error)
	IndexManpage(ctx context.Context, doc Document) error
	Commit() error
	Close() error
}

// Document represents a manpage entry to be indexed for search.
type Document struct {
	Path        string
	Name        string
	Section     string
	Description string
	Body        string
	Version     string
}

// DocumentFor builds the index document of a collected manpage from its
// source. The title block is left out of the body.
func DocumentFor(d manpage.Descriptor, version string, source []byte) Document {
	return Document{
		Path:        "/" + d.RelativePath + "/",
		Name:        d.BaseName,
		Section:     d.Section,
		Description: d.Description,
		Body:        bodyText(string(source)),
		Version:     version,
	}
}

func bodyText(source string) string {
	for range 3 {
		_, rest, ok := strings.Cut(source, "\n")
		if !ok {
			return ""
		}
		source = rest
	}
	return strings.TrimSpace(source)
}
