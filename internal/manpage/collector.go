// Package manpage discovers manual page sources laid out as
// <dir>/<section>/<name>.rst and validates their title block.
package manpage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
)

const (
	DefaultDir = "man"
	sourceExt  = ".rst"
	indexName  = "index"
)

type Collector struct {
	FS  fs.FS
	Dir string

	// OnInvalid, when set, is called for sources with a malformed or
	// truncated header. Returning nil skips the source; returning an
	// error aborts the collection with it. A nil OnInvalid aborts.
	OnInvalid func(path string, err error) error

	Logger *slog.Logger
}

func NewCollector(fsys fs.FS, dir string) *Collector {
	if dir == "" {
		dir = DefaultDir
	}
	return &Collector{FS: fsys, Dir: dir}
}

// Collect walks the manual page tree and returns descriptors in
// directory listing order. Any error aborts the walk and no partial
// result is returned.
func Collect(fsys fs.FS, dir string) ([]Descriptor, error) {
	return NewCollector(fsys, dir).Collect(context.Background())
}

// Collect performs a fresh walk on every call.
func (c *Collector) Collect(ctx context.Context) ([]Descriptor, error) {
	if c.FS == nil {
		return nil, errors.New("manpage collector requires a filesystem")
	}
	dir := c.Dir
	if dir == "" {
		dir = DefaultDir
	}

	sections, err := fs.ReadDir(c.FS, dir)
	if err != nil {
		return nil, fmt.Errorf("read man dir: %w", err)
	}

	var results []Descriptor
	for _, entry := range sections {
		section := entry.Name()
		sectionDir := path.Join(dir, section)
		ok, err := c.isDir(entry, sectionDir)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		files, err := fs.ReadDir(c.FS, sectionDir)
		if err != nil {
			return nil, fmt.Errorf("read section %s: %w", section, err)
		}
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if file.IsDir() {
				continue
			}
			base, ext := splitExt(file.Name())
			if ext != sourceExt || base == indexName {
				continue
			}

			srcPath := path.Join(sectionDir, file.Name())
			header, err := c.readHeader(srcPath, base)
			if err != nil {
				if !isHeaderError(err) || c.OnInvalid == nil {
					return nil, err
				}
				if err := c.OnInvalid(srcPath, err); err != nil {
					return nil, err
				}
				if c.Logger != nil {
					c.Logger.Warn("skipping manpage", "path", srcPath, "error", err)
				}
				continue
			}

			if c.Logger != nil {
				c.Logger.Debug("collected manpage", "path", srcPath, "section", section, "name", base)
			}
			results = append(results, Descriptor{
				RelativePath: path.Join(dir, section, base),
				BaseName:     base,
				Description:  header.Description,
				Authors:      "",
				Section:      section,
			})
		}
	}

	return results, nil
}

func (c *Collector) readHeader(srcPath string, base string) (Header, error) {
	f, err := c.FS.Open(srcPath)
	if err != nil {
		return Header{}, fmt.Errorf("open manpage: %w", err)
	}
	defer func() { _ = f.Close() }()

	header, err := ParseHeader(f, base)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = srcPath
			return Header{}, fe
		}
		return Header{}, fmt.Errorf("%s: %w", srcPath, err)
	}
	return header, nil
}

// isDir follows symlinked section directories.
func (c *Collector) isDir(entry fs.DirEntry, p string) (bool, error) {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.IsDir(), nil
	}
	info, err := fs.Stat(c.FS, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat section %s: %w", entry.Name(), err)
	}
	return info.IsDir(), nil
}

func isHeaderError(err error) bool {
	return errors.Is(err, ErrFormat) || errors.Is(err, ErrShortFile)
}

// splitExt splits name at its last dot. Leading dots belong to the base,
// so ".rst" has no extension.
func splitExt(name string) (string, string) {
	trimmed := strings.TrimLeft(name, ".")
	idx := strings.LastIndex(trimmed, ".")
	if idx == -1 {
		return name, ""
	}
	idx += len(name) - len(trimmed)
	return name[:idx], name[idx:]
}
