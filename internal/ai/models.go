package ai

import "strings"

// CleanJSON removes markdown code fences and returns the first balanced top-level JSON object, if any.
func CleanJSON(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	input = strings.TrimSpace(input)

	depth, start := 0, -1
	inString, escape := false, false
	for i := 0; i < len(input); i++ {
		b := input[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					return input[start : i+1]
				}
			}
		}
	}
	return input
}
