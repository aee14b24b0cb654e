package cypher

import (
	"regexp"
	"strings"
)

var plainIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EscapeName quotes a label, relationship type or identifier with backticks
// and doubles any backticks within it.
func EscapeName(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// EscapeProperty quotes a property key only when it is not a plain identifier.
func EscapeProperty(key string) string {
	if plainIdentifier.MatchString(key) {
		return key
	}
	return EscapeName(key)
}

// QuoteString renders a double quoted string literal.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = "    " + line
		}
	}
	return strings.Join(lines, "\n")
}
