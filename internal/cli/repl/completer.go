package repl

import (
	"slices"
	"strings"
)

// Builtins are handled by the REPL itself.
var Builtins = []string{"complete", "history", "help", "exit", "quit"}

// Completer provides command completion for the REPL.
type Completer struct {
	commands []string
}

// NewCompleter creates a Completer over the given command paths plus the
// builtins.
func NewCompleter(commands ...string) *Completer {
	all := make([]string, 0, len(commands)+len(Builtins))
	all = append(all, commands...)
	for _, b := range Builtins {
		if !slices.Contains(commands, b) {
			all = append(all, b)
		}
	}
	return &Completer{commands: all}
}

// Complete returns completion suggestions for the given prefix.
func (c *Completer) Complete(prefix string) []string {
	var suggestions []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, prefix) {
			suggestions = append(suggestions, cmd)
		}
	}
	return suggestions
}
