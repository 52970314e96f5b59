package duplicate

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultDistance is the perceptual hash distance accepted as a near duplicate
const DefaultDistance = 2

// CommonPHash is the perceptual hash of degenerate images (solid colour pages
// and the like). It matches far too many unrelated archives to mean anything.
const CommonPHash uint64 = 0

// Mode selects which similarity notion a scan uses
type Mode string

const (
	ModeBinary     Mode = "binary"
	ModePerceptual Mode = "phash"
)

// ParseMode converts a user supplied mode name
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "binary", "md5", "exact":
		return ModeBinary, nil
	case "phash", "perceptual":
		return ModePerceptual, nil
	default:
		return "", fmt.Errorf("unknown check mode %q (want binary or phash)", s)
	}
}

// HashRecord is one indexed archive entry
type HashRecord struct {
	OwnerPath    string `json:"owner_path"`
	InternalPath string `json:"internal_path"`
	ExactHash    string `json:"exact_hash"`
	PHash        uint64 `json:"phash,omitempty"`
	HasPHash     bool   `json:"has_phash"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// HashResult is what the hashing service reports for a single buffer
type HashResult struct {
	ExactHash string `json:"exact_hash"`
	PHash     uint64 `json:"phash,omitempty"`
	HasPHash  bool   `json:"has_phash"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Record attaches an owner and entry name to a hash result
func (h HashResult) Record(ownerPath, entryName string) HashRecord {
	return HashRecord{
		OwnerPath:    ownerPath,
		InternalPath: entryName,
		ExactHash:    h.ExactHash,
		PHash:        h.PHash,
		HasPHash:     h.HasPHash,
		Width:        h.Width,
		Height:       h.Height,
	}
}

// Handle is the scan configuration for one archive.
// An empty Filters list behaves like []string{""}, which accepts every path.
type Handle struct {
	Path    string
	Filters []string
}

// Allows reports whether a matching owner path passes the path mask
func (h Handle) Allows(ownerPath string) bool {
	if len(h.Filters) == 0 {
		return true
	}
	for _, prefix := range h.Filters {
		if strings.HasPrefix(ownerPath, prefix) {
			return true
		}
	}
	return false
}

// MatchMap maps a duplicate candidate archive to the entries of the scanned
// archive that matched something inside it.
type MatchMap map[string]map[string]struct{}

// Add records that entry of the scanned archive matched ownerPath
func (m MatchMap) Add(ownerPath, entry string) {
	set, ok := m[ownerPath]
	if !ok {
		set = make(map[string]struct{})
		m[ownerPath] = set
	}
	set[entry] = struct{}{}
}

// Empty reports whether no duplicates were found
func (m MatchMap) Empty() bool {
	return len(m) == 0
}

// Paths returns the candidate archives in lexical order
func (m MatchMap) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Entries returns the matched entry names for one candidate, sorted
func (m MatchMap) Entries(ownerPath string) []string {
	set := m[ownerPath]
	entries := make([]string, 0, len(set))
	for e := range set {
		entries = append(entries, e)
	}
	sort.Strings(entries)
	return entries
}
