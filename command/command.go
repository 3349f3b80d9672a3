// Package command turns raw chat text into a typed bot command.
package command

import "strings"

// Kind identifies a recognized command.
type Kind int

const (
	Unknown Kind = iota
	Chart
	Help
	Stop
)

// Triggers maps the literal chat text (lower case) to a command kind.
var Triggers = map[string]Kind{
	"!cme":  Chart,
	"!help": Help,
	"!stop": Stop,
}

func (k Kind) String() string {
	switch k {
	case Chart:
		return "chart"
	case Help:
		return "help"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Command is a parsed inbound message.
type Command struct {
	Kind Kind
	Raw  string
}

// Known reports whether the text matched a trigger.
func (c Command) Known() bool {
	return c.Kind != Unknown
}

// Parse classifies text by case-insensitive equality against Triggers.
// Surrounding whitespace is not ignored: "  !cme" is Unknown.
func Parse(text string) Command {
	kind, ok := Triggers[strings.ToLower(text)]
	if !ok {
		kind = Unknown
	}
	return Command{Kind: kind, Raw: text}
}
