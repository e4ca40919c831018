package state

import (
	"regexp"
	"strings"
	"unicode"
)

const zwsp = "\u200b"

var (
	multiSpace = regexp.MustCompile(`\s{2,}`)
	urlScheme  = regexp.MustCompile(`(?i)https?://`)
)

// Invite domains get a zero-width space so chat clients do not turn them into links.
var linkDomains = []string{"discord.gg", "discord.xn"}

// nameAliases replace well-known invite links with a short label. Keys are in
// their post-ZWSP form.
var nameAliases = map[string]string{
	"https://discord.gg" + zwsp + "/ragem": "ragem",
}

// Sanitize cleans an untrusted server name for display. It is pure and
// idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(name string) string {
	s := name
	// Stripping a scheme can expose new trailing dots or a new invite domain, so
	// repeat until nothing changes. A changing pass either shrinks the string or
	// only inserts a ZWSP that later passes keep.
	for {
		next := sanitizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func isTrailingJunk(r rune) bool { return r == '.' || unicode.IsSpace(r) }

func sanitizeOnce(s string) string {
	s = strings.TrimSpace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	s = strings.TrimRightFunc(s, isTrailingJunk)
	for _, d := range linkDomains {
		s = strings.ReplaceAll(s, d+zwsp, d)
		s = strings.ReplaceAll(s, d, d+zwsp)
	}
	for from, to := range nameAliases {
		s = strings.ReplaceAll(s, from, to)
	}
	return urlScheme.ReplaceAllString(s, "")
}
