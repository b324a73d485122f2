package slug

import (
	"regexp"
	"strings"
)

var slugRegexp = regexp.MustCompile(`[^a-z0-9]+`)

// accentReplacer folds the accented Latin letters that show up in French and
// transliterated Darija product names onto ASCII.
var accentReplacer = strings.NewReplacer(
	"à", "a", "â", "a", "ä", "a",
	"ç", "c",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u",
	"œ", "oe", "æ", "ae",
)

// Generate creates a URL-friendly slug from the given name.
//
// Examples:
//   - "Tapis Berbère Beni Ouarain" → "tapis-berbere-beni-ouarain"
//   - "Théière  en Argent!" → "theiere-en-argent"
//   - "  42 " → "42"
func Generate(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = accentReplacer.Replace(s)

	// Runs of anything non-alphanumeric become a single hyphen.
	s = slugRegexp.ReplaceAllString(s, "-")

	return strings.Trim(s, "-")
}

// IsCanonical reports whether s is already in the form Generate produces.
func IsCanonical(s string) bool {
	return s != "" && Generate(s) == s
}
