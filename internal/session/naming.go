package session

import "strings"

// maxNameLength caps a derived session name (SPEC_FULL C: session
// naming).
const maxNameLength = 50

// DeriveName produces a short, human-readable session name from a
// session's first user message, without relying on a backend call:
// the first non-empty line, stripped of a leading slash-command token
// if present, truncated to maxNameLength (SPEC_FULL C).
func DeriveName(firstUserMessage string) string {
	for _, line := range strings.Split(firstUserMessage, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			parts := strings.SplitN(line, " ", 2)
			if len(parts) == 2 {
				line = strings.TrimSpace(parts[1])
			} else {
				line = strings.TrimPrefix(parts[0], "/")
			}
		}
		if line == "" {
			continue
		}
		return truncateName(line)
	}
	return ""
}

func truncateName(s string) string {
	r := []rune(s)
	if len(r) <= maxNameLength {
		return s
	}
	return string(r[:maxNameLength-1]) + "…"
}
