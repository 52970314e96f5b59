package duplicate

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// memIndex is an in-memory Index
type memIndex struct {
	records  []HashRecord
	deletes  map[string]int
	queryErr error
}

func newMemIndex(records ...HashRecord) *memIndex {
	return &memIndex{records: records, deletes: make(map[string]int)}
}

func (m *memIndex) LookupExact(ctx context.Context, hash, excludePath string) ([]HashRecord, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []HashRecord
	for _, r := range m.records {
		if r.ExactHash == hash && r.OwnerPath != excludePath {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memIndex) LookupWithinDistance(ctx context.Context, phash uint64, maxDistance int, excludePath string) ([]HashRecord, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []HashRecord
	for _, r := range m.records {
		if !r.HasPHash || r.OwnerPath == excludePath {
			continue
		}
		if bits.OnesCount64(r.PHash^phash) <= maxDistance {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memIndex) DeleteAllForPath(ctx context.Context, path string) error {
	m.deletes[path]++
	kept := m.records[:0]
	for _, r := range m.records {
		if r.OwnerPath != path {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

// memHasher hashes with md5 and looks perceptual hashes up by content
type memHasher struct {
	phashes map[string]uint64
	calls   int
	err     error
}

func newMemHasher() *memHasher {
	return &memHasher{phashes: make(map[string]uint64)}
}

func exactOf(content []byte) string {
	return fmt.Sprintf("%x", md5.Sum(content))
}

func (h *memHasher) HashContent(ctx context.Context, ownerPath, entryName string, content []byte) (HashResult, error) {
	h.calls++
	if h.err != nil {
		return HashResult{}, h.err
	}
	res := HashResult{ExactHash: exactOf(content)}
	if p, ok := h.phashes[string(content)]; ok {
		res.PHash = p
		res.HasPHash = true
	}
	return res, nil
}

func (h *memHasher) HashBytesExact(ctx context.Context, content []byte) (string, error) {
	h.calls++
	if h.err != nil {
		return "", h.err
	}
	return exactOf(content), nil
}

type memEntry struct {
	name    string
	content []byte
	readErr error
}

// memSource replays a fixed entry list
type memSource struct {
	entries []memEntry
	pos     int
	closed  bool
}

func (s *memSource) Next() (string, io.ReadCloser, error) {
	if s.pos >= len(s.entries) {
		return "", nil, io.EOF
	}
	e := s.entries[s.pos]
	s.pos++
	if e.readErr != nil {
		return e.name, io.NopCloser(errReader{e.readErr}), nil
	}
	return e.name, io.NopCloser(bytes.NewReader(e.content)), nil
}

func (s *memSource) Close() error {
	s.closed = true
	return nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// archives maps archive paths to entry lists
type archives map[string][]memEntry

func (a archives) opener() SourceOpener {
	return func(path string) (EntrySource, error) {
		entries, ok := a[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return &memSource{entries: entries}, nil
	}
}

// recordsFor indexes an archive the way the hashing service would
func recordsFor(owner string, entries []memEntry, h *memHasher) []HashRecord {
	out := make([]HashRecord, 0, len(entries))
	for _, e := range entries {
		res, _ := h.HashContent(context.Background(), owner, e.name, e.content)
		out = append(out, res.Record(owner, e.name))
	}
	h.calls = 0
	return out
}

// touch creates an archive-sized placeholder file and returns its path
func touch(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{'x'}, size), 0644))
	return p
}

func pages(prefix string, n int) []memEntry {
	out := make([]memEntry, n)
	for i := range out {
		out[i] = memEntry{
			name:    fmt.Sprintf("%03d.jpg", i+1),
			content: []byte(fmt.Sprintf("%s-page-%d", prefix, i+1)),
		}
	}
	return out
}
