package util

import (
	"regexp"
	"strings"
)

var reFenceInfo = regexp.MustCompile(`^[a-z0-9_+-]*$`)

// StripCodeFences removes one ``` fence wrapped around s. A lowercase info
// string on the opening line (```text) goes with it.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 6 || !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	body := s[3 : len(s)-3]
	if i := strings.IndexByte(body, '\n'); i >= 0 && reFenceInfo.MatchString(body[:i]) {
		body = body[i+1:]
	}
	return strings.TrimSpace(body)
}
