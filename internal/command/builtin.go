package command

import "fmt"

// Ops is the narrow slice of session operations an emulated built-in
// may need to perform its effect (spec §4.6 tier 2). Implemented by
// the session Runtime; kept here as an interface so this package never
// imports the session package.
type Ops interface {
	ClearHistory()
	RequestCompaction() error
	ListCommands() []Descriptor
}

// BuiltinHandler executes one emulated command against a session.
type BuiltinHandler func(args string, ops Ops) (string, error)

var builtinHandlers = map[string]BuiltinHandler{
	"help": func(_ string, ops Ops) (string, error) {
		var out string
		for _, d := range ops.ListCommands() {
			out += "/" + d.Name
			if d.Description != "" {
				out += " - " + d.Description
			}
			out += "\n"
		}
		return out, nil
	},
	"clear": func(_ string, ops Ops) (string, error) {
		ops.ClearHistory()
		return "conversation cleared", nil
	},
	"compact": func(_ string, ops Ops) (string, error) {
		if err := ops.RequestCompaction(); err != nil {
			return "", fmt.Errorf("compaction failed: %w", err)
		}
		return "compaction requested", nil
	},
}

// Builtins returns the fixed set of emulated commands the registry
// seeds every session with.
func Builtins() []Descriptor {
	return []Descriptor{
		{Name: "help", Description: "Show available commands", Origin: "builtin"},
		{Name: "clear", Description: "Clear the current conversation", Origin: "builtin"},
		{Name: "compact", Description: "Compact the conversation to save context", Origin: "builtin"},
	}
}

// ExecuteBuiltin runs the emulated handler for name, if one exists.
func ExecuteBuiltin(name, args string, ops Ops) (string, bool, error) {
	h, ok := builtinHandlers[name]
	if !ok {
		return "", false, nil
	}
	result, err := h(args, ops)
	return result, true, err
}
