// Package protocol implements the stdio embedding exchange: read the whole
// of stdin, embed it, write exactly one JSON line to stdout.
package protocol

import "fmt"

// Mode selects how stdin is interpreted.
type Mode int

const (
	// ModeSingle treats stdin as one raw text.
	ModeSingle Mode = iota
	// ModeBatch treats stdin as a JSON object {"texts": [...]}.
	ModeBatch
)

// BatchFlag is the command-line flag name that selects ModeBatch.
const BatchFlag = "batch"

// SelectMode picks the mode from the raw command line. Only a leading
// --batch selects ModeBatch; anything else, including --batch in a later
// position, is single mode.
func SelectMode(args []string) Mode {
	if len(args) > 0 && args[0] == "--"+BatchFlag {
		return ModeBatch
	}
	return ModeSingle
}

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeBatch:
		return "batch"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}
