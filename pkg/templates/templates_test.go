package templates

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdxmph/archdedup/pkg/duplicate"
	"github.com/pdxmph/archdedup/pkg/lifecycle"
)

func duplicateVerdict() lifecycle.Verdict {
	m := duplicate.MatchMap{}
	m.Add("/lib/a.zip", "001.jpg")
	m.Add("/lib/a.zip", "002.jpg")
	m.Add("/lib/b.zip", "001.jpg")
	return lifecycle.Verdict{
		Path:        "/in/new.cbz",
		Mode:        duplicate.ModePerceptual,
		DuplicateOf: "/lib/a.zip",
		Matches:     m,
	}
}

func TestBuildVariables(t *testing.T) {
	vars := BuildVariables(duplicateVerdict())
	assert.Equal(t, VerdictDuplicate, vars.Verdict)
	assert.Equal(t, "new.cbz", vars.Filename)
	assert.Equal(t, "/lib/a.zip", vars.Match)
	assert.Equal(t, "phash", vars.Mode)
	assert.Equal(t, 2, vars.Matched)
	assert.Equal(t, 2, vars.Candidates)

	uniq := BuildVariables(lifecycle.Verdict{Path: "/in/x.zip", Mode: duplicate.ModeBinary, Unique: true})
	assert.Equal(t, VerdictUnique, uniq.Verdict)
	assert.Empty(t, uniq.Match)
	assert.Zero(t, uniq.Matched)
}

func TestProcess(t *testing.T) {
	vars := Variables{Verdict: "unique", Path: "/in/x.zip", Filename: "x.zip"}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"single", "%path%", "/in/x.zip"},
		{"fallback to second", "%match|path%", "/in/x.zip"},
		{"unknown variable", "[%nope%]", "[]"},
		{"literal text kept", "%verdict%: %filename%", "unique: x.zip"},
		{"numbers", "%matched%/%candidates%", "0/0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Process(tt.template, vars))
		})
	}
}

func TestRender(t *testing.T) {
	vars := BuildVariables(duplicateVerdict())

	text, err := Render(FormatText, nil, vars)
	require.NoError(t, err)
	assert.Equal(t, "duplicate\t/in/new.cbz\t/lib/a.zip", text)

	out, err := Render(FormatJSON, nil, vars)
	require.NoError(t, err)
	var decoded Variables
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, vars, decoded)

	custom, err := Render("short", map[string]string{"short": "%filename% -> %match%"}, vars)
	require.NoError(t, err)
	assert.Equal(t, "new.cbz -> /lib/a.zip", custom)

	inline, err := Render("%mode%", nil, vars)
	require.NoError(t, err)
	assert.Equal(t, "phash", inline)
}
