package telegram

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunks(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{name: "fits", text: "hello", limit: 10, want: []string{"hello"}},
		{name: "ascii", text: strings.Repeat("ab", 5), limit: 4, want: []string{"abab", "abab", "ab"}},
		{name: "multibyte", text: "ççç", limit: 4, want: []string{"çç", "ç"}},
		{name: "odd limit", text: "ççç", limit: 3, want: []string{"ç", "ç", "ç"}},
		{name: "no limit", text: "abc", limit: 0, want: []string{"abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunks(tt.text, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.text, strings.Join(got, ""))
		})
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", maxCaptionBytes))
	assert.Equal(t, "ab", clip("abcdef", 2))
	assert.Equal(t, "ç", clip("çç", 3))
	assert.Equal(t, "", clip("", 3))
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{HTTPClient: http.DefaultClient})
	assert.EqualError(t, err, "telegram token is empty")

	_, err = New(Options{Token: "123:abc"})
	assert.EqualError(t, err, "http client is nil")
}
