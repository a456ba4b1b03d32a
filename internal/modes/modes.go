package modes

import (
	"fmt"
	"strings"

	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/matt0x6f/ircsync/internal/state"
)

// Delta is one signed mode change with its optional parameter
type Delta struct {
	Adding bool
	Mode   rune
	Param  string
}

// String renders the sign and letter, e.g. "+o"
func (d Delta) String() string {
	if d.Adding {
		return "+" + string(d.Mode)
	}
	return "-" + string(d.Mode)
}

// ChanModes holds the four CHANMODES parameter classes: list modes, modes
// that always take a parameter, modes that take one only when set, and flags
type ChanModes [4]string

// DefaultChanModes is assumed until the server advertises CHANMODES
var DefaultChanModes = ChanModes{"beI", "k", "l", "imnpst"}

// ParseChanModes parses the CHANMODES ISUPPORT value
func ParseChanModes(value string) ChanModes {
	var cm ChanModes
	// Only the first four classes are defined
	types := strings.SplitN(value, ",", 5)
	for i := 0; i < len(types) && i < len(cm); i++ {
		cm[i] = types[i]
	}
	return cm
}

func (cm ChanModes) takesParam(mode rune, adding bool) bool {
	switch {
	case strings.ContainsRune(cm[0], mode), strings.ContainsRune(cm[1], mode):
		return true
	case strings.ContainsRune(cm[2], mode):
		return adding
	default:
		return false
	}
}

// ParseModeString splits a mode string and its parameters into deltas, e.g.
// "+ov-k" with ["alice", "bob", "key"].
func ParseModeString(modeStr string, params []string, cm ChanModes, table PrefixTable) []Delta {
	var deltas []Delta
	adding := true
	for _, r := range modeStr {
		switch r {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}

		d := Delta{Adding: adding, Mode: r}
		if table.IsPrivilege(r) || cm.takesParam(r, adding) {
			if len(params) > 0 {
				d.Param = params[0]
				params = params[1:]
			}
		}
		deltas = append(deltas, d)
	}
	return deltas
}

// Apply updates buffer and membership state for deltas targeting channel b.
// Privilege changes are idempotent; channel modes set or delete map keys.
func Apply(n *state.Network, b *state.Buffer, deltas []Delta, table PrefixTable) {
	var channelModes []Delta
	for _, d := range deltas {
		if !table.IsPrivilege(d.Mode) {
			channelModes = append(channelModes, d)
			continue
		}

		var changed bool
		if d.Adding {
			changed = n.AddUserMode(b, d.Param, d.Mode)
		} else {
			changed = n.RemoveUserMode(b, d.Param, d.Mode)
		}
		if !changed {
			logger.Log.Debug().
				Str("buffer", b.Name).
				Str("nick", d.Param).
				Str("mode", d.String()).
				Msg("Privilege mode already in effect or user unknown")
		}
	}

	if len(channelModes) == 0 {
		return
	}
	n.UpdateBuffer(b, func(b *state.Buffer) {
		for _, d := range channelModes {
			if d.Adding {
				b.Modes[d.Mode] = d.Param
			} else {
				delete(b.Modes, d.Mode)
			}
		}
	})
}

// Target is one subject of a grouped mode change
type Target struct {
	Name  string
	Param string
}

// Group collects every delta of one event sharing the same mode string
type Group struct {
	Mode    string
	Targets []Target
}

// Aggregate groups deltas by their exact mode string, in first-seen order.
// Privilege modes target the affected nick; channel modes target the buffer.
func Aggregate(deltas []Delta, table PrefixTable, bufferName string) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, d := range deltas {
		key := d.String()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Mode: key})
		}

		t := Target{Name: bufferName, Param: d.Param}
		if table.IsPrivilege(d.Mode) {
			t = Target{Name: d.Param}
		}
		groups[i].Targets = append(groups[i].Targets, t)
	}
	return groups
}

var phraseKeys = map[string]string{
	"+o": "modes_give_ops",
	"-o": "modes_take_ops",
	"+h": "modes_give_halfops",
	"-h": "modes_take_halfops",
	"+v": "modes_give_voice",
	"-v": "modes_take_voice",
	"+a": "modes_give_admin",
	"-a": "modes_take_admin",
	"+q": "modes_give_owner",
	"-q": "modes_take_owner",
	"+b": "modes_gives_ban",
	"-b": "modes_takes_ban",
}

var phrases = map[string]string{
	"modes_give_ops":     "%s gives channel operator status to %s",
	"modes_take_ops":     "%s takes channel operator status from %s",
	"modes_give_halfops": "%s gives channel half-operator status to %s",
	"modes_take_halfops": "%s takes channel half-operator status from %s",
	"modes_give_voice":   "%s gives voice to %s",
	"modes_take_voice":   "%s takes voice from %s",
	"modes_give_admin":   "%s gives administrator status to %s",
	"modes_take_admin":   "%s takes administrator status from %s",
	"modes_give_owner":   "%s gives owner status to %s",
	"modes_take_owner":   "%s takes owner status from %s",
	"modes_gives_ban":    "%s bans %s",
	"modes_takes_ban":    "%s removes ban on %s",
}

// PhraseKey returns the phrase category of a group, "modes_other" when the
// mode has no dedicated phrasing
func PhraseKey(mode string) string {
	if key, ok := phraseKeys[mode]; ok {
		return key
	}
	return "modes_other"
}

// Describe renders a group as one display line attributed to setter. Bans
// name the banmask; other modes list every target.
func Describe(g Group, setter string) string {
	if len(g.Targets) == 0 {
		return ""
	}

	names := make([]string, len(g.Targets))
	for i, t := range g.Targets {
		names[i] = t.Name
	}
	target := strings.Join(names, ", ")
	mode := g.Mode
	if g.Targets[0].Param != "" {
		mode += " " + g.Targets[0].Param
	}
	if strings.HasSuffix(g.Mode, "b") {
		target = g.Targets[0].Param
	}

	key := PhraseKey(g.Mode)
	if key == "modes_other" {
		return fmt.Sprintf("%s sets %s on %s", setter, mode, target)
	}
	return fmt.Sprintf(phrases[key], setter, target)
}

// Dump renders a full mode listing such as "#chan +n, +k key"
func Dump(bufferName string, deltas []Delta) string {
	strs := make([]string, len(deltas))
	for i, d := range deltas {
		strs[i] = d.String()
		if d.Param != "" {
			strs[i] += " " + d.Param
		}
	}
	return bufferName + " " + strings.Join(strs, ", ")
}
