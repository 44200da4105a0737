package sipmsg

import "strings"

// Param returns a header parameter of a name-addr or addr-spec header value
// such as From, To or Contact. Semicolons inside a quoted display name or
// inside an angle-bracketed URI belong to those parts and are ignored.
// The returned value has quotes kept verbatim.
func Param(value, name string) (string, bool) {
	params, ok := headerParams(value)
	if !ok {
		return "", false
	}
	for _, p := range splitOutsideQuotes(params, ';') {
		k, v, _ := strings.Cut(p, "=")
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// headerParams returns the text after the first semicolon that is outside
// quotes and angle brackets.
func headerParams(value string) (string, bool) {
	inQuote, inAngle := false, false
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
		case c == '"':
			inQuote = true
		case c == '<':
			inAngle = true
		case c == '>':
			inAngle = false
		case c == ';' && !inAngle:
			return value[i+1:], true
		}
	}
	return "", false
}

func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	inQuote, start := false, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case inQuote && c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case c == sep && !inQuote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
