package modes

import (
	"fmt"
	"strings"

	"github.com/matt0x6f/ircsync/internal/logger"
)

// DefaultPrefix is assumed until the server advertises PREFIX
const DefaultPrefix = "(ov)@+"

// PrefixTable maps privilege mode letters to their nick prefix symbols, in
// descending rank order
type PrefixTable struct {
	Modes   []rune
	Symbols []rune
}

// DefaultPrefixTable returns the table for DefaultPrefix
func DefaultPrefixTable() PrefixTable {
	return PrefixTable{Modes: []rune{'o', 'v'}, Symbols: []rune{'@', '+'}}
}

// ParsePrefix parses the PREFIX parameter from ISUPPORT.
// Format: (ov)@+ where (ov) are the mode letters and @+ are the prefix characters.
func ParsePrefix(value string) (PrefixTable, error) {
	if value == "" {
		// PREFIX= with no value means the server has no privilege modes
		return PrefixTable{}, nil
	}

	openParen := strings.IndexRune(value, '(')
	if openParen == -1 {
		return PrefixTable{}, fmt.Errorf("invalid PREFIX %q: missing opening parenthesis", value)
	}
	closeParen := strings.IndexRune(value[openParen:], ')')
	if closeParen == -1 {
		return PrefixTable{}, fmt.Errorf("invalid PREFIX %q: missing closing parenthesis", value)
	}
	closeParen += openParen

	modeRunes := []rune(value[openParen+1 : closeParen])
	prefixRunes := []rune(value[closeParen+1:])
	if len(modeRunes) != len(prefixRunes) {
		logger.Log.Warn().
			Str("prefix", value).
			Msg("PREFIX mode and symbol counts differ, truncating")
	}

	n := len(modeRunes)
	if len(prefixRunes) < n {
		n = len(prefixRunes)
	}
	return PrefixTable{
		Modes:   append([]rune(nil), modeRunes[:n]...),
		Symbols: append([]rune(nil), prefixRunes[:n]...),
	}, nil
}

// IsPrivilege reports whether mode is a user privilege mode
func (t PrefixTable) IsPrivilege(mode rune) bool {
	_, ok := t.Symbol(mode)
	return ok
}

// Symbol returns the nick prefix for a privilege mode
func (t PrefixTable) Symbol(mode rune) (rune, bool) {
	for i, m := range t.Modes {
		if m == mode {
			return t.Symbols[i], true
		}
	}
	return 0, false
}

// ModeForSymbol returns the privilege mode of a nick prefix
func (t PrefixTable) ModeForSymbol(symbol rune) (rune, bool) {
	for i, s := range t.Symbols {
		if s == symbol {
			return t.Modes[i], true
		}
	}
	return 0, false
}

// ParseNamesEntry splits a NAMES entry such as "@+nick" into the nick and
// its privilege modes. Several prefixes appear with multi-prefix.
func (t PrefixTable) ParseNamesEntry(entry string) (string, []rune) {
	modes := []rune{}
	for i, r := range entry {
		m, ok := t.ModeForSymbol(r)
		if !ok {
			return entry[i:], modes
		}
		modes = append(modes, m)
	}
	return "", modes
}

// String renders the table back into PREFIX form
func (t PrefixTable) String() string {
	return "(" + string(t.Modes) + ")" + string(t.Symbols)
}
