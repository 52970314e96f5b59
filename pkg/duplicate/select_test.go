package duplicate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchMap(m map[string][]string) MatchMap {
	out := make(MatchMap)
	for path, entries := range m {
		for _, e := range entries {
			out.Add(path, e)
		}
	}
	return out
}

func sizes(s map[string]int64) SizeFunc {
	return func(path string) (int64, error) {
		size, ok := s[path]
		if !ok {
			return 0, errors.New("unexpected stat of " + path)
		}
		return size, nil
	}
}

func TestBestMatch(t *testing.T) {
	tests := []struct {
		name    string
		matches map[string][]string
		sizes   map[string]int64
		want    string
	}{
		{
			name:    "empty map has no candidates",
			matches: nil,
			want:    "",
		},
		{
			name:    "single candidate",
			matches: map[string][]string{"/lib/a.zip": {"1"}},
			want:    "/lib/a.zip",
		},
		{
			name:    "most matched entries wins without stat",
			matches: map[string][]string{"/p1": {"a", "b"}, "/p2": {"a"}},
			want:    "/p1",
		},
		{
			name:    "tie broken by size",
			matches: map[string][]string{"/p1": {"a", "b", "c"}, "/p2": {"a", "b", "c"}, "/p3": {"a"}},
			sizes:   map[string]int64{"/p1": 100, "/p2": 200},
			want:    "/p2",
		},
		{
			name:    "smaller group never wins regardless of size",
			matches: map[string][]string{"/p1": {"a", "b", "c"}, "/p2": {"a", "b", "c"}, "/p3": {"a"}},
			sizes:   map[string]int64{"/p1": 300, "/p2": 200, "/p3": 1 << 40},
			want:    "/p1",
		},
		{
			name:    "equal sizes fall back to path order",
			matches: map[string][]string{"/z": {"a"}, "/m": {"a"}, "/b": {"a"}},
			sizes:   map[string]int64{"/z": 5, "/m": 5, "/b": 5},
			want:    "/b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BestMatch(matchMap(tt.matches), sizes(tt.sizes))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBestMatchIsDeterministic(t *testing.T) {
	m := matchMap(map[string][]string{"/a": {"x"}, "/b": {"x"}, "/c": {"x"}, "/d": {"x"}})
	s := sizes(map[string]int64{"/a": 1, "/b": 1, "/c": 1, "/d": 1})
	for i := 0; i < 20; i++ {
		got, err := BestMatch(m, s)
		require.NoError(t, err)
		assert.Equal(t, "/a", got)
	}
}

func TestBestMatchPropagatesStatErrors(t *testing.T) {
	m := matchMap(map[string][]string{"/a": {"x"}, "/b": {"x"}})
	_, err := BestMatch(m, sizes(map[string]int64{"/a": 1}))
	assert.Error(t, err)
}

func TestFileSizeWrapsErrors(t *testing.T) {
	_, err := FileSize("/definitely/not/here.zip")
	var fsErr *FileSystemError
	assert.ErrorAs(t, err, &fsErr)
}
