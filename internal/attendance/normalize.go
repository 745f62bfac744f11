package attendance

import (
	"regexp"
	"strings"
)

var studentIDPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._-]{0,63}$`)

// NormalizeStudentID canonicalizes a client-supplied student identifier:
// surrounding and internal whitespace is stripped and letters are
// uppercased. Returns "" when nothing usable remains or the result is not
// a valid identifier.
func NormalizeStudentID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	id := strings.ToUpper(b.String())
	if !studentIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// placeholder device ids that browsers or broken clients send when no real
// fingerprint is available; these never participate in the per-device count.
var placeholderDeviceIDs = map[string]struct{}{
	"":          {},
	"unknown":   {},
	"null":      {},
	"undefined": {},
	"none":      {},
}

// usableDeviceID reports whether the device id is real enough to count.
func usableDeviceID(id string) bool {
	_, placeholder := placeholderDeviceIDs[strings.ToLower(strings.TrimSpace(id))]
	return !placeholder
}
