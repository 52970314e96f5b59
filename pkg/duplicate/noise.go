package duplicate

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// noiseRule identifies an entry that carries no chapter content
type noiseRule struct {
	suffix string
	mime   string
	reason string
}

var noiseRules = []noiseRule{
	{suffix: "thumbs.db", mime: "application/x-ole-storage", reason: "Windows thumbnail database"},
	{suffix: "deleted.txt", mime: "text/plain", reason: "removed advert note"},
}

// IsNoise reports whether an entry should be ignored entirely, based on its
// name and sniffed content type. Both must agree: an image named deleted.txt
// is still hashed.
func IsNoise(name string, content []byte) (bool, string) {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))

	var detected *mimetype.MIME
	for _, rule := range noiseRules {
		if !strings.HasSuffix(base, rule.suffix) {
			continue
		}
		if detected == nil {
			detected = mimetype.Detect(content)
		}
		for m := detected; m != nil; m = m.Parent() {
			if m.Is(rule.mime) {
				return true, rule.reason
			}
		}
	}
	return false, ""
}

// SniffType returns the detected MIME type, used for diagnostics
func SniffType(content []byte) string {
	return mimetype.Detect(content).String()
}
