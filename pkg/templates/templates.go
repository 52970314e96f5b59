package templates

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdxmph/archdedup/pkg/lifecycle"
)

// Verdict words
const (
	VerdictUnique    = "unique"
	VerdictDuplicate = "duplicate"
)

// Built-in output formats
const (
	FormatText = "text"
	FormatPath = "path"
	FormatJSON = "json"
)

// Defaults are the built-in templates. json is rendered separately.
var Defaults = map[string]string{
	FormatText: "%verdict%\t%path%\t%match%",
	FormatPath: "%path%",
}

// Variables holds all the available template variables
type Variables struct {
	Verdict  string `json:"verdict"`
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Match    string `json:"match,omitempty"`
	Mode     string `json:"mode"`
	// Matched is the number of entries the best match shares with Path
	Matched int `json:"matched"`
	// Candidates is how many indexed archives matched at all
	Candidates int `json:"candidates"`
}

var (
	// Match %variable% or %var1|var2|var3%
	templatePattern = regexp.MustCompile(`%([^%]+)%`)
)

// Process renders a template with the given variables
func Process(template string, vars Variables) string {
	return templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		content := strings.Trim(match, "%")

		// First non-empty value of a fallback chain wins
		for _, part := range strings.Split(content, "|") {
			if value := getVariable(strings.TrimSpace(part), vars); value != "" {
				return value
			}
		}
		return ""
	})
}

// getVariable returns the value of a single variable
func getVariable(name string, vars Variables) string {
	switch name {
	case "verdict":
		return vars.Verdict
	case "path":
		return vars.Path
	case "filename":
		return vars.Filename
	case "match":
		return vars.Match
	case "mode":
		return vars.Mode
	case "matched":
		return strconv.Itoa(vars.Matched)
	case "candidates":
		return strconv.Itoa(vars.Candidates)
	default:
		return ""
	}
}

// BuildVariables creates template variables from a check verdict
func BuildVariables(v lifecycle.Verdict) Variables {
	vars := Variables{
		Verdict:    VerdictUnique,
		Path:       v.Path,
		Filename:   filepath.Base(v.Path),
		Mode:       string(v.Mode),
		Candidates: len(v.Matches),
	}
	if !v.Unique {
		vars.Verdict = VerdictDuplicate
		vars.Match = v.DuplicateOf
		vars.Matched = len(v.Matches[v.DuplicateOf])
	}
	return vars
}

// Render formats vars with a named format. custom templates take precedence
// over the built-in ones; an unknown name is used as a template itself.
func Render(format string, custom map[string]string, vars Variables) (string, error) {
	if tmpl, ok := custom[format]; ok {
		return Process(tmpl, vars), nil
	}
	if format == FormatJSON {
		data, err := json.Marshal(vars)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if tmpl, ok := Defaults[format]; ok {
		return Process(tmpl, vars), nil
	}
	return Process(format, vars), nil
}
