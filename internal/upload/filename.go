package upload

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultFormat is reported for names that carry no suffix.
const DefaultFormat = "wav"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

var pathSeparators = strings.NewReplacer("/", " ", `\`, " ")

// SanitizeFilename turns an untrusted client file name into a single safe
// path segment. Directory components collapse into underscores, non-ASCII
// letters are folded to their ASCII base where possible and dropped otherwise,
// and leading or trailing dots and underscores are removed. The result may be
// empty.
func SanitizeFilename(name string) string {
	name = norm.NFKD.String(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}

	name = pathSeparators.Replace(b.String())
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")

	return strings.Trim(name, "._")
}

// Extension returns the lowercased suffix after the last dot.
func Extension(name string) (string, bool) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return "", false
	}
	return strings.ToLower(name[idx+1:]), true
}

// DetectFormat returns the audio format hint sent to the transcription server.
func DetectFormat(name string) string {
	if ext, ok := Extension(name); ok {
		return ext
	}
	return DefaultFormat
}
