package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdxmph/archdedup/pkg/archive"
	"github.com/pdxmph/archdedup/pkg/config"
	"github.com/pdxmph/archdedup/pkg/duplicate"
	"github.com/pdxmph/archdedup/pkg/hasher"
	"github.com/pdxmph/archdedup/pkg/index"
	"github.com/pdxmph/archdedup/pkg/lifecycle"
	"github.com/pdxmph/archdedup/pkg/remote"
)

// newLogger builds the process logger from config
func newLogger(cfg *config.Config, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	if cfg.Log.Format == "json" {
		return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
	}
	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	return zerolog.New(console).Level(level).With().Timestamp().Logger(), nil
}

// backend is the set of collaborators a command works against: a local
// sqlite index with the local hasher, or a remote index server.
type backend struct {
	index     duplicate.Index
	hasher    duplicate.Hasher
	processor duplicate.ArchiveProcessor
	closer    io.Closer
}

func (b *backend) Close() error {
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}

// localHasher creates the hashing service configured for this machine
func localHasher(cfg *config.Config, store hasher.Store, logger zerolog.Logger) (*hasher.Service, error) {
	algo, err := hasher.ParseAlgorithm(cfg.Hash.Algorithm)
	if err != nil {
		return nil, err
	}
	return hasher.New(hasher.Options{Algorithm: algo, Perceptual: true}, archive.Opener, store, logger), nil
}

// openLocal opens the sqlite index and the hasher that writes into it
func openLocal(cfg *config.Config, logger zerolog.Logger) (*index.SQLiteIndex, *hasher.Service, error) {
	idx, err := index.Open(cfg.Index.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open index: %w", err)
	}

	svc, err := localHasher(cfg, idx, logger)
	if err != nil {
		idx.Close()
		return nil, nil, err
	}
	return idx, svc, nil
}

// openBackend picks remote or local collaborators
func openBackend(cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	if cfg.Remote.URL != "" {
		timeout, err := cfg.RemoteTimeout()
		if err != nil {
			return nil, err
		}
		client, err := remote.NewClient(remote.Config{
			URL:            cfg.Remote.URL,
			ConsumerKey:    cfg.Remote.ConsumerKey,
			ConsumerSecret: cfg.Remote.ConsumerSecret,
			AccessToken:    cfg.Remote.AccessToken,
			AccessSecret:   cfg.Remote.AccessSecret,
			Timeout:        timeout,
		})
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("url", cfg.Remote.URL).Msg("using remote index")
		return &backend{index: client, hasher: client, processor: client}, nil
	}

	idx, svc, err := openLocal(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("path", cfg.Index.Path).Msg("using local index")
	return &backend{index: idx, hasher: svc, processor: svc, closer: idx}, nil
}

// newManager wires a lifecycle manager over b
func newManager(b *backend, logger zerolog.Logger) *lifecycle.Manager {
	checker := duplicate.NewChecker(b.index, b.hasher, archive.Opener, logger)
	return lifecycle.New(lifecycle.Config{
		Index:     b.index,
		Processor: b.processor,
		Checker:   checker,
		Logger:    logger,
	})
}

// requireArchive rejects paths that are not readable archives
func requireArchive(path string) error {
	if _, err := os.Stat(path); err != nil {
		return &duplicate.FileSystemError{Op: "stat", Path: path, Err: err}
	}
	if !archive.IsArchive(path) {
		return fmt.Errorf("%s is not a zip or cbz archive", path)
	}
	return nil
}
