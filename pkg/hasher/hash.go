package hasher

import (
	"crypto/md5"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names an exact content digest
type Algorithm string

const (
	MD5    Algorithm = "md5"
	BLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm validates a configured algorithm name
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", MD5:
		return MD5, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q (want md5 or blake3)", s)
	}
}

func (a Algorithm) new() hash.Hash {
	if a == BLAKE3 {
		return blake3.New()
	}
	return md5.New()
}

// Sum returns the hex digest of data
func (a Algorithm) Sum(data []byte) string {
	if a == BLAKE3 {
		return fmt.Sprintf("%x", blake3.Sum256(data))
	}
	return fmt.Sprintf("%x", md5.Sum(data))
}

// SumStream computes the digest from a reader
func (a Algorithm) SumStream(r io.Reader) (string, error) {
	h := a.new()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// SumFile computes the digest of a whole file
func (a Algorithm) SumFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return a.SumStream(file)
}
