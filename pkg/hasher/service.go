// Package hasher is the local hashing service: exact digests for every entry
// and perceptual hashes for the ones that decode as images.
package hasher

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"

	"github.com/corona10/goimagehash"
	"github.com/rs/zerolog"

	"github.com/pdxmph/archdedup/pkg/duplicate"

	// Import image format handlers
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Store receives records produced by ProcessArchive
type Store interface {
	Insert(ctx context.Context, records ...duplicate.HashRecord) error
}

// Options controls what the service computes
type Options struct {
	Algorithm  Algorithm
	Perceptual bool
}

// Service hashes entry content and archives
type Service struct {
	opts   Options
	open   duplicate.SourceOpener
	store  Store
	logger zerolog.Logger
}

// New creates a hashing service. store may be nil when ProcessArchive is not used.
func New(opts Options, open duplicate.SourceOpener, store Store, logger zerolog.Logger) *Service {
	if opts.Algorithm == "" {
		opts.Algorithm = MD5
	}
	return &Service{
		opts:   opts,
		open:   open,
		store:  store,
		logger: logger.With().Str("component", "hasher").Logger(),
	}
}

// Algorithm returns the exact digest in use
func (s *Service) Algorithm() Algorithm {
	return s.opts.Algorithm
}

// HashBytesExact returns the exact digest of content
func (s *Service) HashBytesExact(ctx context.Context, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.opts.Algorithm.Sum(content), nil
}

// HashContent returns the exact digest and, for decodable images, the
// perceptual hash and pixel dimensions
func (s *Service) HashContent(ctx context.Context, _, _ string, content []byte) (duplicate.HashResult, error) {
	if err := ctx.Err(); err != nil {
		return duplicate.HashResult{}, err
	}
	return s.hash(content, s.opts.Perceptual)
}

func (s *Service) hash(content []byte, perceptual bool) (duplicate.HashResult, error) {
	res := duplicate.HashResult{ExactHash: s.opts.Algorithm.Sum(content)}
	if !perceptual {
		return res, nil
	}

	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		// Not an image we can read: exact hash only
		return res, nil
	}

	bounds := img.Bounds()
	res.Width = bounds.Dx()
	res.Height = bounds.Dy()

	ph, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return res, fmt.Errorf("perceptual hash: %w", err)
	}
	res.PHash = ph.GetHash()
	res.HasPHash = true
	return res, nil
}

// HashArchive hashes every entry of an archive without touching the index
func (s *Service) HashArchive(ctx context.Context, archPath string, perceptual bool) ([]duplicate.HashRecord, error) {
	src, err := s.open(archPath)
	if err != nil {
		return nil, &duplicate.ContentReadError{Archive: archPath, Err: err}
	}
	defer src.Close()

	var records []duplicate.HashRecord
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name, rc, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &duplicate.ContentReadError{Archive: archPath, Err: err}
		}

		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &duplicate.ContentReadError{Archive: archPath, Entry: name, Err: err}
		}

		res, err := s.hash(content, perceptual)
		if err != nil {
			return nil, &duplicate.HashingServiceError{Path: archPath + ":" + name, Err: err}
		}
		records = append(records, res.Record(archPath, name))
	}

	return records, nil
}

// ProcessArchive hashes every entry of an archive and stores the records
func (s *Service) ProcessArchive(ctx context.Context, archPath string) error {
	if s.store == nil {
		return fmt.Errorf("no index available")
	}

	s.logger.Info().Str("archive", archPath).Msg("hashing archive")
	records, err := s.HashArchive(ctx, archPath, s.opts.Perceptual)
	if err != nil {
		return err
	}

	if err := s.store.Insert(ctx, records...); err != nil {
		return &duplicate.IndexWriteError{Op: "insert", Path: archPath, Err: err}
	}

	s.logger.Info().Str("archive", archPath).Int("entries", len(records)).Msg("archive fully hashed")
	return nil
}
