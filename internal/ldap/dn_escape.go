package ldap

import (
	"fmt"
	"strings"
)

// EscapeDNValue escapes special characters in a DN attribute value according to RFC 4514.
//
// Examples:
//   - "Doe, John" → "Doe\, John"
//   - " John " → "\ John\ "
//   - "#123" → "\#123"
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 10)

	last := len(value) - 1
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == ',' || c == '+' || c == '"' || c == '\\' || c == '<' || c == '>' || c == ';' || c == '=':
			result.WriteByte('\\')
			result.WriteByte(c)
		case c == '#' && i == 0:
			result.WriteString(`\#`)
		case c == ' ' && (i == 0 || i == last):
			result.WriteString(`\ `)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&result, `\%02x`, c)
		default:
			result.WriteByte(c)
		}
	}

	return result.String()
}
