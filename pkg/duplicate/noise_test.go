package duplicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// oleHeader returns the start of a compound document, which is what a
// Windows Thumbs.db looks like
func oleHeader() []byte {
	b := make([]byte, 1024)
	copy(b, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	return b
}

func TestIsNoise(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	tests := []struct {
		name    string
		entry   string
		content []byte
		want    bool
	}{
		{name: "thumbnail db", entry: "Thumbs.db", content: oleHeader(), want: true},
		{name: "thumbnail db in subdir", entry: "vol1/ch1/Thumbs.db", content: oleHeader(), want: true},
		{name: "windows separators", entry: `vol1\Thumbs.db`, content: oleHeader(), want: true},
		{name: "thumbnail name but not a compound document", entry: "Thumbs.db", content: []byte("hello"), want: false},
		{name: "removed advert note", entry: "deleted.txt", content: []byte("This page was an advert.\n"), want: true},
		{name: "deleted.txt that is really an image", entry: "deleted.txt", content: png, want: false},
		{name: "ordinary page", entry: "001.png", content: png, want: false},
		{name: "ordinary text", entry: "readme.txt", content: []byte("hello"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := IsNoise(tt.entry, tt.content)
			assert.Equal(t, tt.want, got)
			if tt.want {
				assert.NotEmpty(t, reason)
			}
		})
	}
}
