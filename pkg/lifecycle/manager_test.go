package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdxmph/archdedup/pkg/archive"
	"github.com/pdxmph/archdedup/pkg/duplicate"
	"github.com/pdxmph/archdedup/pkg/hasher"
	"github.com/pdxmph/archdedup/pkg/index"
)

type fixture struct {
	dir     string
	index   *index.SQLiteIndex
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	idx, err := index.Open(filepath.Join(dir, "db", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	logger := zerolog.Nop()
	svc := hasher.New(hasher.Options{Algorithm: hasher.MD5, Perceptual: true}, archive.Opener, idx, logger)
	checker := duplicate.NewChecker(idx, svc, archive.Opener, logger)

	return &fixture{
		dir:   dir,
		index: idx,
		manager: New(Config{
			Index:     idx,
			Processor: svc,
			Checker:   checker,
			Logger:    logger,
		}),
	}
}

// archive writes a zip with one text entry per page and returns its path
func (f *fixture) archive(t *testing.T, rel string, pages ...string) string {
	t.Helper()
	path := filepath.Join(f.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	zw := zip.NewWriter(out)
	for i, page := range pages {
		w, err := zw.Create(fmt.Sprintf("%03d.txt", i+1))
		require.NoError(t, err)
		_, err = w.Write([]byte(page))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func (f *fixture) records(t *testing.T, path string) []duplicate.HashRecord {
	t.Helper()
	recs, err := f.index.RecordsForPath(context.Background(), path)
	require.NoError(t, err)
	return recs
}

func TestReindexIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.archive(t, "lib/a.zip", "one", "two", "three")

	require.NoError(t, f.manager.Reindex(ctx, a))
	once := f.records(t, a)
	require.Len(t, once, 3)

	require.NoError(t, f.manager.Reindex(ctx, a))
	assert.Equal(t, once, f.records(t, a))
}

func TestReindexDropsRemovedEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.archive(t, "lib/a.zip", "one", "two", "three")
	require.NoError(t, f.manager.Reindex(ctx, a))

	f.archive(t, "lib/a.zip", "one")
	require.NoError(t, f.manager.Reindex(ctx, a))
	assert.Len(t, f.records(t, a), 1)
}

func TestCheckFindsIndexedDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.archive(t, "lib/a.zip", "one", "two")
	b := f.archive(t, "incoming/b.zip", "one", "two")
	c := f.archive(t, "incoming/c.zip", "one", "brand new")
	require.NoError(t, f.manager.Reindex(ctx, a))

	for _, mode := range []duplicate.Mode{duplicate.ModeBinary, duplicate.ModePerceptual} {
		v, err := f.manager.Check(ctx, CheckRequest{Path: b, Mode: mode, Distance: -1})
		require.NoError(t, err)
		assert.False(t, v.Unique, mode)
		assert.Equal(t, a, v.DuplicateOf, mode)
		assert.Equal(t, []string{"001.txt", "002.txt"}, v.Matches.Entries(a), mode)

		v, err = f.manager.Check(ctx, CheckRequest{Path: c, Mode: mode, Distance: -1})
		require.NoError(t, err)
		assert.True(t, v.Unique, mode)
		assert.Empty(t, v.DuplicateOf, mode)
	}
}

func TestCheckHonoursFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.archive(t, "lib/B/a.zip", "one")
	b := f.archive(t, "incoming/b.zip", "one")
	require.NoError(t, f.manager.Reindex(ctx, a))

	v, err := f.manager.Check(ctx, CheckRequest{Path: b, Filters: []string{filepath.Join(f.dir, "lib/A")}, Distance: -1})
	require.NoError(t, err)
	assert.True(t, v.Unique)
}

func TestRetireDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.archive(t, "lib/a.zip", "one")
	require.NoError(t, f.manager.Reindex(ctx, a))

	dst, err := f.manager.Retire(ctx, a, "")
	require.NoError(t, err)
	assert.Empty(t, dst)
	assert.NoFileExists(t, a)
	assert.Empty(t, f.records(t, a))
}

func TestRetireToQuarantine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.archive(t, "lib/a.zip", "one")
	require.NoError(t, f.manager.Reindex(ctx, a))
	q := filepath.Join(f.dir, "quarantine")

	dst, err := f.manager.Retire(ctx, a, q)
	require.NoError(t, err)
	assert.NoFileExists(t, a)
	assert.FileExists(t, dst)
	assert.Equal(t, q, filepath.Dir(dst))
	assert.Equal(t, QuarantineName(a), filepath.Base(dst))
	assert.Empty(t, f.records(t, a))
}

func TestRetireQuarantineCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := filepath.Join(f.dir, "quarantine")

	a := f.archive(t, "lib/a.zip", "one")
	first, err := f.manager.Retire(ctx, a, q)
	require.NoError(t, err)

	a = f.archive(t, "lib/a.zip", "two")
	second, err := f.manager.Retire(ctx, a, q)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.FileExists(t, first)
	assert.FileExists(t, second)
	assert.True(t, strings.HasSuffix(second, ".zip"))
}

func TestRetireMoveFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.archive(t, "lib/a.zip", "one")
	require.NoError(t, f.manager.Reindex(ctx, a))

	// a regular file where the quarantine directory should be
	blocker := filepath.Join(f.dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := f.manager.Retire(ctx, a, blocker)
	var fsErr *duplicate.FileSystemError
	require.ErrorAs(t, err, &fsErr)
	assert.FileExists(t, a)
	assert.Empty(t, f.records(t, a))
}

func TestRetireMissingFileReportsError(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Retire(context.Background(), filepath.Join(f.dir, "nope.zip"), "")
	var fsErr *duplicate.FileSystemError
	assert.ErrorAs(t, err, &fsErr)
}

func TestQuarantineName(t *testing.T) {
	name := QuarantineName(filepath.Join(string(filepath.Separator)+"media", "Manga", "ch 7.zip"))
	assert.Equal(t, ";media;Manga;ch 7.zip", name)
}

func TestCheckAndRetireKeepsOneOfTwoCopies(t *testing.T) {
	for run := 0; run < 20; run++ {
		f := newFixture(t)
		ctx := context.Background()
		a := f.archive(t, "lib/a.zip", "one", "two")
		b := f.archive(t, "lib/b.zip", "one", "two")
		require.NoError(t, f.manager.Reindex(ctx, a))
		require.NoError(t, f.manager.Reindex(ctx, b))
		quarantine := filepath.Join(f.dir, "quarantine")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, path := range []string{a, b} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, errs[i] = f.manager.CheckAndRetire(ctx, CheckRequest{Path: path, Distance: -1}, quarantine)
			}()
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		var kept []string
		for _, path := range []string{a, b} {
			if _, err := os.Stat(path); err == nil {
				kept = append(kept, path)
			}
		}
		require.Len(t, kept, 1, "run %d", run)
		assert.Len(t, f.records(t, kept[0]), 2)
	}
}

func TestCheckAndRetireLeavesUniqueArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.archive(t, "lib/a.zip", "one", "two")
	b := f.archive(t, "incoming/b.zip", "one", "brand new")
	require.NoError(t, f.manager.Reindex(ctx, a))

	v, dst, err := f.manager.CheckAndRetire(ctx, CheckRequest{Path: b, Distance: -1}, "")
	require.NoError(t, err)
	assert.True(t, v.Unique)
	assert.Empty(t, dst)
	assert.FileExists(t, b)
}

func TestCheckAndRetireDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.archive(t, "lib/a.zip", "one", "two")
	b := f.archive(t, "incoming/b.zip", "one", "two")
	require.NoError(t, f.manager.Reindex(ctx, a))
	require.NoError(t, f.manager.Reindex(ctx, b))

	v, dst, err := f.manager.CheckAndRetire(ctx, CheckRequest{Path: b, Distance: -1}, "")
	require.NoError(t, err)
	assert.Equal(t, a, v.DuplicateOf)
	assert.Empty(t, dst)
	assert.NoFileExists(t, b)
	assert.Empty(t, f.records(t, b))
	assert.FileExists(t, a)
}

func TestCheckDoesNotPurgeArchiveBeingReindexed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.archive(t, "lib/a.zip", "one", "two")
	b := f.archive(t, "incoming/b.zip", "one", "two")
	require.NoError(t, f.manager.Reindex(ctx, a))

	// a is mid-rewrite: gone from disk while its owner holds the lock
	tmp := a + ".tmp"
	require.NoError(t, os.Rename(a, tmp))
	unlock := f.manager.locks.Lock(a)

	v, err := f.manager.Check(ctx, CheckRequest{Path: b, Distance: -1})
	require.NoError(t, err)
	assert.True(t, v.Unique)
	assert.Len(t, f.records(t, a), 2)

	require.NoError(t, os.Rename(tmp, a))
	unlock()

	v, err = f.manager.Check(ctx, CheckRequest{Path: b, Distance: -1})
	require.NoError(t, err)
	assert.Equal(t, a, v.DuplicateOf)
}
