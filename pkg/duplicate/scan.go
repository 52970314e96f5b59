package duplicate

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
)

// Checker decides whether an archive carries anything the index does not
// already have elsewhere
type Checker struct {
	index  Index
	hasher Hasher
	open   SourceOpener
	sizeOf SizeFunc
	locker Locker
	logger zerolog.Logger
}

// Locker hands out per-path locks without blocking
type Locker interface {
	TryLock(path string) (unlock func(), ok bool)
}

// UseLocker makes stale-record purges take the owner's lock first. An owner
// whose lock is busy is skipped rather than purged.
func (c *Checker) UseLocker(l Locker) {
	c.locker = l
}

// NewChecker creates a checker over the given collaborators
func NewChecker(index Index, hasher Hasher, open SourceOpener, logger zerolog.Logger) *Checker {
	return &Checker{
		index:  index,
		hasher: hasher,
		open:   open,
		sizeOf: FileSize,
		logger: logger.With().Str("component", "deduper").Logger(),
	}
}

// BinaryMatches scans an archive for byte-identical entries in other archives.
// An empty map means the archive has at least one unique entry.
func (c *Checker) BinaryMatches(ctx context.Context, h Handle) (MatchMap, error) {
	c.logger.Info().Str("archive", h.Path).Msg("checking for binary unique entries")
	return c.run(ctx, h, c.binaryLookup)
}

// PhashMatches scans an archive for visually similar entries in other
// archives, falling back to exact hashes for content without a perceptual hash
func (c *Checker) PhashMatches(ctx context.Context, h Handle, distance int) (MatchMap, error) {
	c.logger.Info().Str("archive", h.Path).Int("distance", distance).Msg("scanning for phash duplicates")
	return c.run(ctx, h, c.phashLookup(distance))
}

// Matches dispatches on mode
func (c *Checker) Matches(ctx context.Context, h Handle, mode Mode, distance int) (MatchMap, error) {
	if mode == ModePerceptual {
		return c.PhashMatches(ctx, h, distance)
	}
	return c.BinaryMatches(ctx, h)
}

// IsBinaryUnique reports whether any entry lacks a byte-identical copy elsewhere
func (c *Checker) IsBinaryUnique(ctx context.Context, h Handle) (bool, error) {
	matches, err := c.BinaryMatches(ctx, h)
	if err != nil {
		return false, err
	}
	return matches.Empty(), nil
}

// IsPhashUnique reports whether any entry lacks a near duplicate elsewhere
func (c *Checker) IsPhashUnique(ctx context.Context, h Handle, distance int) (bool, error) {
	matches, err := c.PhashMatches(ctx, h, distance)
	if err != nil {
		return false, err
	}
	return matches.Empty(), nil
}

// BestBinaryMatch returns the archive that best duplicates h, or "" if h is unique
func (c *Checker) BestBinaryMatch(ctx context.Context, h Handle) (string, error) {
	matches, err := c.BinaryMatches(ctx, h)
	if err != nil {
		return "", err
	}
	return BestMatch(matches, c.sizeOf)
}

// BestPhashMatch is BestBinaryMatch using perceptual similarity
func (c *Checker) BestPhashMatch(ctx context.Context, h Handle, distance int) (string, error) {
	matches, err := c.PhashMatches(ctx, h, distance)
	if err != nil {
		return "", err
	}
	return BestMatch(matches, c.sizeOf)
}

// BestMatchOf runs the selector with the checker's size function
func (c *Checker) BestMatchOf(matches MatchMap) (string, error) {
	return BestMatch(matches, c.sizeOf)
}

// lookupFunc hashes one entry and returns the raw index matches.
// skip means the entry has no bearing on the verdict.
type lookupFunc func(ctx context.Context, s *scan, entry string, content []byte) (records []HashRecord, skip bool, err error)

type scanState int

const (
	stateScanning scanState = iota
	stateAllMatched
	stateFoundUnique
	stateErrored
)

// scan holds the progress of one pass over one archive
type scan struct {
	handle  Handle
	state   scanState
	matches MatchMap
	err     error
	// owner paths already purged from the index during this scan
	healed map[string]struct{}
	// owner paths seen on disk during this scan
	present map[string]struct{}
}

func newScan(h Handle) *scan {
	return &scan{
		handle:  h,
		state:   stateScanning,
		matches: make(MatchMap),
		healed:  make(map[string]struct{}),
		present: make(map[string]struct{}),
	}
}

func (s *scan) fail(err error) {
	s.state = stateErrored
	s.err = err
	s.matches = nil
}

// foundUnique drops everything accumulated so far: one unmatched entry makes
// the whole archive unique
func (s *scan) foundUnique() {
	s.state = stateFoundUnique
	s.matches = make(MatchMap)
}

func (s *scan) result() (MatchMap, error) {
	switch s.state {
	case stateErrored:
		return nil, s.err
	case stateFoundUnique:
		return MatchMap{}, nil
	default:
		return s.matches, nil
	}
}

func (c *Checker) run(ctx context.Context, h Handle, lookup lookupFunc) (MatchMap, error) {
	s := newScan(h)

	src, err := c.open(h.Path)
	if err != nil {
		s.fail(&ContentReadError{Archive: h.Path, Err: err})
		return s.result()
	}
	defer src.Close()

	for s.state == stateScanning {
		if err := ctx.Err(); err != nil {
			s.fail(err)
			break
		}
		c.step(ctx, s, src, lookup)
	}

	if s.state == stateAllMatched {
		c.logger.Info().Str("archive", h.Path).Int("candidates", len(s.matches)).Msg("archive does not contain any unique entries")
	}
	return s.result()
}

// step processes the next entry and advances the scan state
func (c *Checker) step(ctx context.Context, s *scan, src EntrySource, lookup lookupFunc) {
	name, rc, err := src.Next()
	if err == io.EOF {
		s.state = stateAllMatched
		return
	}
	if err != nil {
		s.fail(&ContentReadError{Archive: s.handle.Path, Err: err})
		return
	}

	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		s.fail(&ContentReadError{Archive: s.handle.Path, Entry: name, Err: err})
		return
	}

	if noise, reason := IsNoise(name, content); noise {
		c.logger.Info().Str("entry", name).Str("reason", reason).Msg("ignoring entry")
		return
	}

	records, skip, err := lookup(ctx, s, name, content)
	if err != nil {
		s.fail(err)
		return
	}
	if skip {
		return
	}

	accepted, err := c.accept(ctx, s, name, records)
	if err != nil {
		s.fail(err)
		return
	}
	if accepted == 0 {
		c.logger.Info().Str("archive", s.handle.Path).Str("entry", name).Msg("archive contains at least one unique entry")
		s.foundUnique()
	}
}

// accept applies the path mask and staleness healing to raw matches and
// returns how many survived
func (c *Checker) accept(ctx context.Context, s *scan, entry string, records []HashRecord) (int, error) {
	accepted := 0
	for _, rec := range records {
		owner := rec.OwnerPath
		if owner == s.handle.Path {
			continue
		}
		if _, gone := s.healed[owner]; gone {
			continue
		}
		if !s.handle.Allows(owner) {
			c.logger.Debug().Str("owner", owner).Msg("match masked by filter")
			continue
		}

		ok, err := c.ownerExists(s, owner)
		if err != nil {
			return 0, err
		}
		if !ok {
			present, err := c.purgeStale(ctx, s, owner)
			if err != nil {
				return 0, err
			}
			if !present {
				continue
			}
		}

		s.matches.Add(owner, entry)
		accepted++
	}
	return accepted, nil
}

// purgeStale drops the records of an owner that is missing on disk. It
// reports true when the owner turned out to exist after all.
func (c *Checker) purgeStale(ctx context.Context, s *scan, owner string) (bool, error) {
	if c.locker != nil {
		// Never block here: the owner's holder may be waiting on our archive
		unlock, ok := c.locker.TryLock(owner)
		if !ok {
			c.logger.Debug().Str("owner", owner).Msg("indexed archive is busy, skipping")
			return false, nil
		}
		defer unlock()

		// It may have been written back while we waited
		present, err := c.ownerExists(s, owner)
		if err != nil || present {
			return present, err
		}
	}

	c.logger.Warn().Str("owner", owner).Msg("indexed archive no longer exists, purging its records")
	if err := c.index.DeleteAllForPath(ctx, owner); err != nil {
		return false, &IndexWriteError{Op: "delete", Path: owner, Err: err}
	}
	s.healed[owner] = struct{}{}
	return false, nil
}

func (c *Checker) ownerExists(s *scan, owner string) (bool, error) {
	if _, ok := s.present[owner]; ok {
		return true, nil
	}
	_, err := os.Stat(owner)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &FileSystemError{Op: "stat", Path: owner, Err: err}
	}
	s.present[owner] = struct{}{}
	return true, nil
}

func (c *Checker) binaryLookup(ctx context.Context, s *scan, entry string, content []byte) ([]HashRecord, bool, error) {
	hash, err := c.hasher.HashBytesExact(ctx, content)
	if err != nil {
		return nil, false, &HashingServiceError{Path: s.handle.Path + ":" + entry, Err: err}
	}
	return c.exactLookup(ctx, s, hash)
}

func (c *Checker) exactLookup(ctx context.Context, s *scan, hash string) ([]HashRecord, bool, error) {
	records, err := c.index.LookupExact(ctx, hash, s.handle.Path)
	if err != nil {
		return nil, false, &IndexQueryError{Op: "lookup exact", Err: err}
	}
	return records, false, nil
}

func (c *Checker) phashLookup(distance int) lookupFunc {
	return func(ctx context.Context, s *scan, entry string, content []byte) ([]HashRecord, bool, error) {
		res, err := c.hasher.HashContent(ctx, s.handle.Path, entry, content)
		if err != nil {
			return nil, false, &HashingServiceError{Path: s.handle.Path + ":" + entry, Err: err}
		}

		if !res.HasPHash {
			c.logger.Warn().
				Str("entry", entry).
				Int("size", len(content)).
				Str("type", SniffType(content)).
				Msg("no phash for entry, using binary duplicate checking")
			return c.exactLookup(ctx, s, res.ExactHash)
		}

		if res.PHash == CommonPHash {
			c.logger.Warn().Str("entry", entry).Uint64("phash", res.PHash).Msg("skipping uselessly common phash")
			return nil, true, nil
		}

		records, err := c.index.LookupWithinDistance(ctx, res.PHash, distance, s.handle.Path)
		if err != nil {
			return nil, false, &IndexQueryError{Op: "lookup within distance", Err: err}
		}
		return records, false, nil
	}
}
