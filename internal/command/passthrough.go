package command

import (
	"errors"
	"strings"
)

// ErrUnknownCommand is returned by Resolve when no tier claims a
// command: no adapter executor is wired, it isn't a built-in, and the
// adapter doesn't support passthrough.
var ErrUnknownCommand = errors.New("command: unknown slash command")

const (
	passthroughStdoutOpen  = "<local-command-stdout>"
	passthroughStdoutClose = "</local-command-stdout>"
)

// StripEcho removes a backend's <local-command-stdout>…</local-command-stdout>
// wrapper from an echoed user message, returning the inner content
// that becomes a slash_command_result's content (spec §4.6 tier 3).
func StripEcho(text string) string {
	start := strings.Index(text, passthroughStdoutOpen)
	end := strings.Index(text, passthroughStdoutClose)
	if start == -1 || end == -1 || end < start {
		return strings.TrimSpace(text)
	}
	inner := text[start+len(passthroughStdoutOpen) : end]
	return strings.TrimSpace(inner)
}

// MatchesEcho reports whether an inbound user_message's text is the
// backend's echo of the pending passthrough command, i.e. it begins
// with the exact command that was sent.
func MatchesEcho(text, command string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), command)
}
