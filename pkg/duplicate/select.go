package duplicate

import (
	"os"
	"sort"
)

// SizeFunc reports the on-disk size of an archive
type SizeFunc func(path string) (int64, error)

// FileSize stats path
func FileSize(path string) (int64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, &FileSystemError{Op: "stat", Path: path, Err: err}
	}
	return stat.Size(), nil
}

// BestMatch picks the archive sharing the most entries with the scanned one.
// Ties go to the larger file, then to the lexically smallest path.
// An empty map yields "" and no error.
func BestMatch(matches MatchMap, sizeOf SizeFunc) (string, error) {
	if matches.Empty() {
		return "", nil
	}

	// Group candidates by how many entries they matched
	byCount := make(map[int][]string)
	maxCount := 0
	for path, entries := range matches {
		n := len(entries)
		byCount[n] = append(byCount[n], path)
		if n > maxCount {
			maxCount = n
		}
	}

	best := byCount[maxCount]
	if len(best) == 1 {
		return best[0], nil
	}

	type sized struct {
		path string
		size int64
	}
	items := make([]sized, 0, len(best))
	for _, path := range best {
		size, err := sizeOf(path)
		if err != nil {
			return "", err
		}
		items = append(items, sized{path: path, size: size})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].size != items[j].size {
			return items[i].size > items[j].size
		}
		return items[i].path < items[j].path
	})
	return items[0].path, nil
}
