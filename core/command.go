package core

// Command is a recognized bot command. The zero value means no command.
type Command string

const (
	None    Command = ""
	Start   Command = "start"
	Image   Command = "image"
	Help    Command = "help"
	Without Command = "without"
	Ratio   Command = "ratio"
)

var commands = []Command{Start, Image, Help, Without, Ratio}

// ParseCommand matches text against the command literals exactly, case included.
// Anything else yields None.
func ParseCommand(text string) Command {
	for _, c := range commands {
		if text == c.Literal() {
			return c
		}
	}
	return None
}

// Literal returns the text a user types to issue the command.
func (c Command) Literal() string {
	if c == None {
		return ""
	}
	return "/" + string(c)
}

func (c Command) Valid() bool {
	for _, known := range commands {
		if c == known {
			return true
		}
	}
	return false
}

// CommandFromString restores a persisted command, dropping unknown values.
func CommandFromString(s string) Command {
	c := Command(s)
	if !c.Valid() {
		return None
	}
	return c
}
