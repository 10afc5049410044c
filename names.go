package arbor

import (
	"strings"
	"unicode"
)

// NameSeparator replaces runs of illegal characters in node names.
const NameSeparator = '_'

// CleanName sanitizes a node name so any string can be used as one. Runs of
// characters outside letters, digits, '.' and ':' collapse into a single
// separator, and leading/trailing separators are trimmed. An input with no
// legal characters yields a single separator.
//
//	CleanName("Hello World!")    // "Hello_World"
//	CleanName("Hello   World!!") // "Hello_World"
func CleanName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pending := false
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == ':' {
			if pending && b.Len() > 0 {
				b.WriteRune(NameSeparator)
			}
			pending = false
			b.WriteRune(r)
		} else {
			pending = true
		}
	}
	if b.Len() == 0 {
		return string(NameSeparator)
	}
	return b.String()
}
