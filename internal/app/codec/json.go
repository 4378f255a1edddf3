// Package codec implements the small, bounds-checked string routines used to
// read untrusted oracle responses and to encode workout arguments.
// Nothing here allocates more than the returned value, and nothing panics on
// truncated or malformed input.
package codec

// ExtractJSONValue scans json for the literal `"key":` and returns the value
// that follows it. A quoted value runs to the next `"`; a bare value runs to
// the next `,` or `}`. Spaces after the colon and trailing spaces of a bare
// value are skipped. Returns "" when the key is absent or the value is not
// terminated before the end of the buffer.
//
// This is a flat scanner, not a JSON parser: the first textual match wins,
// escapes are not interpreted, and nesting is ignored.
func ExtractJSONValue(json, key string) string {
	pattern := `"` + key + `":`
	if len(json) < len(pattern) {
		return ""
	}

	start := -1
	for i := 0; i+len(pattern) <= len(json); i++ {
		if json[i:i+len(pattern)] == pattern {
			start = i + len(pattern)
			break
		}
	}
	if start < 0 {
		return ""
	}

	for start < len(json) && json[start] == ' ' {
		start++
	}
	if start >= len(json) {
		return ""
	}

	if json[start] == '"' {
		start++
		for end := start; end < len(json); end++ {
			if json[end] == '"' {
				return json[start:end]
			}
		}
		return ""
	}

	for end := start; end < len(json); end++ {
		if json[end] == ',' || json[end] == '}' {
			for end > start && json[end-1] == ' ' {
				end--
			}
			return json[start:end]
		}
	}
	return ""
}
