// Package lifecycle checks, re-indexes and retires archives. Every operation
// holds the per-path lock of the archive it works on, so a scan never races a
// purge or re-index of the same archive.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pdxmph/archdedup/pkg/duplicate"
	"github.com/pdxmph/archdedup/pkg/pathlock"
)

// QuarantineMarker replaces path separators in quarantined file names
const QuarantineMarker = ";"

// Config holds the collaborators a Manager needs
type Config struct {
	Index     duplicate.Index
	Processor duplicate.ArchiveProcessor
	Checker   *duplicate.Checker
	Locks     *pathlock.Locks
	Logger    zerolog.Logger
}

// Manager runs lifecycle operations on archives
type Manager struct {
	index     duplicate.Index
	processor duplicate.ArchiveProcessor
	checker   *duplicate.Checker
	locks     *pathlock.Locks
	logger    zerolog.Logger
}

// New creates a Manager
func New(cfg Config) *Manager {
	locks := cfg.Locks
	if locks == nil {
		locks = &pathlock.Locks{}
	}
	if cfg.Checker != nil {
		cfg.Checker.UseLocker(locks)
	}
	return &Manager{
		index:     cfg.Index,
		processor: cfg.Processor,
		checker:   cfg.Checker,
		locks:     locks,
		logger:    cfg.Logger.With().Str("component", "lifecycle").Logger(),
	}
}

// CheckRequest describes one duplicate check
type CheckRequest struct {
	Path    string
	Mode    duplicate.Mode
	Filters []string
	// Distance is the perceptual threshold; negative means the default
	Distance int
}

// Verdict is the outcome of a check
type Verdict struct {
	Path        string
	Mode        duplicate.Mode
	Unique      bool
	DuplicateOf string
	Matches     duplicate.MatchMap
}

// Check scans an archive and picks its best existing duplicate, if any
func (m *Manager) Check(ctx context.Context, req CheckRequest) (Verdict, error) {
	if m.checker == nil {
		return Verdict{}, fmt.Errorf("no checker configured")
	}

	unlock := m.locks.Lock(req.Path)
	defer unlock()
	return m.check(ctx, req)
}

func (m *Manager) check(ctx context.Context, req CheckRequest) (Verdict, error) {
	mode := req.Mode
	if mode == "" {
		mode = duplicate.ModeBinary
	}
	distance := req.Distance
	if distance < 0 {
		distance = duplicate.DefaultDistance
	}

	handle := duplicate.Handle{Path: req.Path, Filters: req.Filters}
	matches, err := m.checker.Matches(ctx, handle, mode, distance)
	if err != nil {
		return Verdict{}, err
	}

	best, err := m.checker.BestMatchOf(matches)
	if err != nil {
		return Verdict{}, err
	}

	return Verdict{
		Path:        req.Path,
		Mode:        mode,
		Unique:      best == "",
		DuplicateOf: best,
		Matches:     matches,
	}, nil
}

// maxRetireAttempts bounds how often CheckAndRetire chases a changing winner
const maxRetireAttempts = 3

// CheckAndRetire checks an archive and retires it when it is a duplicate.
// The retire happens under the locks of both the archive and its winner,
// after a second check confirms the winner still holds its records, so two
// copies checked together never retire each other. The returned verdict is
// the one acted on; the string is the quarantine destination.
func (m *Manager) CheckAndRetire(ctx context.Context, req CheckRequest, quarantineDir string) (Verdict, string, error) {
	if m.checker == nil {
		return Verdict{}, "", fmt.Errorf("no checker configured")
	}

	v, err := m.Check(ctx, req)
	if err != nil || v.Unique {
		return v, "", err
	}

	for attempt := 1; ; attempt++ {
		winner := v.DuplicateOf
		unlock := m.locks.LockAll(req.Path, winner)

		v, err = m.check(ctx, req)
		if err != nil || v.Unique {
			unlock()
			return v, "", err
		}
		if v.DuplicateOf == winner {
			dst, err := m.retire(ctx, req.Path, quarantineDir)
			unlock()
			return v, dst, err
		}
		unlock()

		m.logger.Debug().Str("archive", req.Path).Str("was", winner).Str("now", v.DuplicateOf).Msg("best match changed, checking again")
		if attempt == maxRetireAttempts {
			return v, "", fmt.Errorf("best match of %s kept changing, not retired", req.Path)
		}
	}
}

// Reindex drops every record for archPath and hashes the archive again
func (m *Manager) Reindex(ctx context.Context, archPath string) error {
	unlock := m.locks.Lock(archPath)
	defer unlock()

	m.logger.Info().Str("archive", archPath).Msg("hashing file")

	// Delete any existing hashes that collide
	if err := m.index.DeleteAllForPath(ctx, archPath); err != nil {
		return &duplicate.IndexWriteError{Op: "delete", Path: archPath, Err: err}
	}

	if err := m.processor.ProcessArchive(ctx, archPath); err != nil {
		return fmt.Errorf("process archive: %w", err)
	}
	return nil
}

// Retire purges archPath from the index and then deletes it, or moves it into
// quarantineDir when one is given. It returns the quarantine destination.
func (m *Manager) Retire(ctx context.Context, archPath, quarantineDir string) (string, error) {
	unlock := m.locks.Lock(archPath)
	defer unlock()
	return m.retire(ctx, archPath, quarantineDir)
}

func (m *Manager) retire(ctx context.Context, archPath, quarantineDir string) (string, error) {
	// The index goes first so it never points at a file that is gone
	if err := m.index.DeleteAllForPath(ctx, archPath); err != nil {
		return "", &duplicate.IndexWriteError{Op: "delete", Path: archPath, Err: err}
	}

	if quarantineDir == "" {
		m.logger.Warn().Str("archive", archPath).Msg("deleting archive")
		if err := os.Remove(archPath); err != nil {
			return "", &duplicate.FileSystemError{Op: "remove", Path: archPath, Err: err}
		}
		return "", nil
	}

	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", &duplicate.FileSystemError{Op: "create quarantine", Path: quarantineDir, Err: err}
	}

	dst := QuarantinePath(quarantineDir, archPath)
	m.logger.Info().Str("from", archPath).Str("to", dst).Msg("moving archive")

	if err := os.Rename(archPath, dst); err != nil {
		m.logger.Error().Err(err).Str("archive", archPath).Msg("could not move file")
		return "", &duplicate.FileSystemError{Op: "move", Path: archPath, Err: err}
	}
	return dst, nil
}

// QuarantineName flattens an archive path into a single file name
func QuarantineName(archPath string) string {
	name := strings.ReplaceAll(archPath, string(filepath.Separator), QuarantineMarker)
	return strings.ReplaceAll(name, "/", QuarantineMarker)
}

// QuarantinePath returns a destination inside dir that does not exist yet.
// An existing file with the flattened name gets a short random suffix.
func QuarantinePath(dir, archPath string) string {
	name := QuarantineName(archPath)
	dst := filepath.Join(dir, name)
	if _, err := os.Lstat(dst); os.IsNotExist(err) {
		return dst
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, fmt.Sprintf("%s.%s%s", base, uuid.NewString()[:8], ext))
}
