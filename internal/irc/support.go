package irc

import (
	"strings"
	"sync"

	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/matt0x6f/ircsync/internal/modes"
	"github.com/matt0x6f/ircsync/internal/state"
)

// support tracks what the server advertised during the current connection:
// ISUPPORT tokens, acknowledged capabilities and our own nick
type support struct {
	mu        sync.RWMutex
	nick      string
	username  string
	isupport  map[string]string
	caps      map[string]bool
	prefixes  modes.PrefixTable
	chanModes modes.ChanModes
}

func newSupport() *support {
	s := &support{}
	s.reset("", "")
	return s
}

// reset forgets everything learned from a previous connection
func (s *support) reset(nick, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nick = nick
	s.username = username
	s.isupport = make(map[string]string)
	s.caps = make(map[string]bool)
	s.prefixes = modes.DefaultPrefixTable()
	s.chanModes = modes.DefaultChanModes
}

// applyISupport records the tokens of one RPL_ISUPPORT line
func (s *support) applyISupport(tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, token := range tokens {
		if token == "" {
			continue
		}
		if token[0] == '-' {
			delete(s.isupport, strings.ToUpper(token[1:]))
			continue
		}
		key, value, _ := strings.Cut(token, "=")
		key = strings.ToUpper(key)
		s.isupport[key] = value

		switch key {
		case "PREFIX":
			table, err := modes.ParsePrefix(value)
			if err != nil {
				logger.Log.Warn().Err(err).Str("prefix", value).Msg("Ignoring invalid PREFIX")
				continue
			}
			s.prefixes = table
		case "CHANMODES":
			s.chanModes = modes.ParseChanModes(value)
		}
	}
}

// ackCaps enables acknowledged capabilities; a "-" prefix disables one
func (s *support) ackCaps(caps []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range caps {
		name, _, _ := strings.Cut(c, "=")
		if strings.HasPrefix(name, "-") {
			delete(s.caps, strings.ToLower(name[1:]))
			continue
		}
		s.caps[strings.ToLower(name)] = true
	}
}

func (s *support) hasCap(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps[name]
}

func (s *support) setNick(nick string) {
	s.mu.Lock()
	s.nick = nick
	s.mu.Unlock()
}

func (s *support) currentNick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

func (s *support) currentUsername() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *support) token(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.isupport[key]
	return v, ok
}

// supports reports a capability or ISUPPORT token. Draft capabilities count
// as the final one.
func (s *support) supports(feature string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	feature = strings.ToLower(feature)
	if s.caps[feature] || s.caps["draft/"+feature] {
		return true
	}
	_, ok := s.isupport[strings.ToUpper(feature)]
	return ok
}

func (s *support) prefixTable() modes.PrefixTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefixes
}

func (s *support) channelModes() modes.ChanModes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chanModes
}

func (s *support) chanTypes() string {
	if v, ok := s.token("CHANTYPES"); ok && v != "" {
		return v
	}
	return "#&"
}

func (s *support) casemap() state.Casemapping {
	v, _ := s.token("CASEMAPPING")
	return state.ParseCasemapping(v)
}

func (s *support) isChannel(name string) bool {
	return name != "" && strings.ContainsRune(s.chanTypes(), rune(name[0]))
}

func (s *support) isSelf(nick string) bool {
	return nick != "" && s.casemap().Equal(nick, s.currentNick())
}
