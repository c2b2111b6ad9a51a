package command

import (
	"strings"
	"unicode"
)

// Command represents a parsed slash command.
type Command struct {
	Name      string
	Args      []string
	Raw       string
	Remainder string
}

// Parse parses a line and returns a Command if it starts with "/".
// Remainder is everything after the command name, which keeps addresses
// containing spaces or query strings intact.
func Parse(input string) (Command, bool) {
	trimmed := strings.TrimLeft(input, " \t")
	rest, ok := strings.CutPrefix(trimmed, "/")
	if !ok {
		return Command{}, false
	}
	raw := strings.TrimSpace(rest)
	if raw == "" {
		return Command{}, true
	}
	name, remainder := raw, ""
	if i := strings.IndexFunc(raw, unicode.IsSpace); i >= 0 {
		name, remainder = raw[:i], raw[i:]
	}
	return Command{
		Name:      strings.ToLower(name),
		Args:      append([]string{}, strings.Fields(remainder)...),
		Raw:       raw,
		Remainder: strings.TrimSpace(remainder),
	}, true
}
