package state

import "strings"

// Casemapping selects how nicknames and channel names are folded before comparison
type Casemapping int

const (
	// CasemapRFC1459 folds A-Z plus []\~ to a-z plus {}|^
	CasemapRFC1459 Casemapping = iota
	// CasemapASCII folds A-Z only
	CasemapASCII
	// CasemapStrictRFC1459 folds A-Z plus []\ (no tilde)
	CasemapStrictRFC1459
)

// ParseCasemapping maps an ISUPPORT CASEMAPPING value to a Casemapping.
// Unknown values fall back to rfc1459, which servers treat as the default.
func ParseCasemapping(value string) Casemapping {
	switch strings.ToLower(value) {
	case "ascii":
		return CasemapASCII
	case "strict-rfc1459":
		return CasemapStrictRFC1459
	default:
		return CasemapRFC1459
	}
}

func (c Casemapping) String() string {
	switch c {
	case CasemapASCII:
		return "ascii"
	case CasemapStrictRFC1459:
		return "strict-rfc1459"
	default:
		return "rfc1459"
	}
}

// Key is a canonicalized buffer or nick name. Two names refer to the same
// entity on a network iff their keys are equal.
type Key string

// Key folds name according to the casemapping
func (c Casemapping) Key(name string) Key {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		switch {
		case 'A' <= r && r <= 'Z':
			r += 'a' - 'A'
		case c == CasemapASCII:
		case r == '[':
			r = '{'
		case r == ']':
			r = '}'
		case r == '\\':
			r = '|'
		case r == '~' && c == CasemapRFC1459:
			r = '^'
		}
		sb.WriteRune(r)
	}
	return Key(sb.String())
}

// Equal reports whether a and b name the same entity under the casemapping
func (c Casemapping) Equal(a, b string) bool {
	return c.Key(a) == c.Key(b)
}
