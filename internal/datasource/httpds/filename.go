package httpds

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/zeebo/xxh3"
)

// filenameCleaner replaces sequences of non-alphanumeric characters with "_".
var filenameCleaner = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// HashString returns a stable 16-character hex xxh3 digest of s.
func HashString(s string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(s))
}

// SafeFilenameFromURL derives a filesystem-safe name for an extract URL with
// no usable file name. It uses the cleaned query string (export endpoints
// tend to encode the dataset there) and falls back to a hash of the whole URL
// when the URL does not parse or has no query.
func SafeFilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return HashString(rawURL)
	}

	clean := filenameCleaner.ReplaceAllString(u.RawQuery, "_")
	if clean == "" {
		return HashString(rawURL)
	}
	return clean
}
