// Package archive enumerates the entries of chapter archives.
package archive

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/pdxmph/archdedup/pkg/duplicate"
)

// Extensions lists the container formats the reader understands
var Extensions = []string{".zip", ".cbz"}

// Reader walks the file entries of a zip based archive in directory order
type Reader struct {
	path  string
	zr    *zip.ReadCloser
	files []*zip.File
	pos   int
}

// Open opens the archive at path
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}

	return &Reader{path: path, zr: zr, files: files}, nil
}

// Opener adapts Open to duplicate.SourceOpener
func Opener(path string) (duplicate.EntrySource, error) {
	return Open(path)
}

// Next returns the next entry; io.EOF once the archive is exhausted
func (r *Reader) Next() (string, io.ReadCloser, error) {
	if r.pos >= len(r.files) {
		return "", nil, io.EOF
	}
	f := r.files[r.pos]
	r.pos++

	rc, err := f.Open()
	if err != nil {
		return f.Name, nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	return f.Name, rc, nil
}

// Len returns the number of file entries
func (r *Reader) Len() int {
	return len(r.files)
}

// Close releases the underlying file
func (r *Reader) Close() error {
	return r.zr.Close()
}

// IsArchive reports whether path looks like an archive the reader can open
func IsArchive(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	known := false
	for _, e := range Extensions {
		if ext == e {
			known = true
			break
		}
	}
	if !known {
		return false
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	zr.Close()
	return true
}
