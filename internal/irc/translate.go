package irc

import (
	"strconv"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/ircsync/internal/dispatch"
	"github.com/matt0x6f/ircsync/internal/modes"
	"github.com/matt0x6f/ircsync/internal/state"
)

type errorNumeric struct {
	name      string
	hasTarget bool
}

// Error numerics reported as dispatch.IRCError. Targeted errors carry the
// channel or nick they concern in their second parameter.
var errorNumerics = map[string]errorNumeric{
	"401": {"no_such_nick", true},
	"402": {"no_such_server", false},
	"403": {"no_such_channel", true},
	"404": {"cannot_send_to_channel", true},
	"405": {"too_many_channels", true},
	"406": {"was_no_such_nick", true},
	"411": {"no_recipient", false},
	"412": {"no_text_to_send", false},
	"421": {"unknown_command", false},
	"431": {"no_nickname_given", false},
	"432": {"erroneus_nickname", false},
	"436": {"nickname_collision", false},
	"441": {"user_not_in_channel", true},
	"442": {"not_on_channel", true},
	"443": {"user_on_channel", true},
	"451": {"not_registered", false},
	"461": {"need_more_params", false},
	"462": {"already_registered", false},
	"464": {"password_mismatch", false},
	"465": {"banned_from_server", false},
	"471": {"channel_is_full", true},
	"472": {"unknown_mode", false},
	"473": {"invite_only_channel", true},
	"474": {"banned_from_channel", true},
	"475": {"bad_channel_key", true},
	"476": {"bad_channel_mask", true},
	"481": {"no_privileges", false},
	"482": {"chanop_privs_needed", true},
	"483": {"cant_kill_server", false},
	"485": {"unique_op_privs_needed", true},
	"491": {"no_oper_host", false},
	"501": {"unknown_user_mode", false},
	"502": {"users_dont_match", false},
}

// Lines with no visible effect of their own
var silentCommands = map[string]bool{
	"PONG":    true,
	"BATCH":   true,
	"TAGMSG":  true,
	"CHGHOST": true,
	"SETNAME": true,
	"331":     true, // RPL_NOTOPIC
	"333":     true, // RPL_TOPICWHOTIME
	"375":     true, // RPL_MOTDSTART
	"376":     true, // RPL_ENDOFMOTD
}

// translator turns protocol lines into dispatch events. Multi-line replies
// (WHOIS, NAMES, WHO) are accumulated until their end numeric.
type translator struct {
	support *support
	whois   map[state.Key]*dispatch.Whois
	names   map[state.Key][]dispatch.UserListEntry
	who     map[state.Key][]dispatch.WhoUser
}

func newTranslator(s *support) *translator {
	t := &translator{support: s}
	t.reset()
	return t
}

func (t *translator) reset() {
	t.whois = make(map[state.Key]*dispatch.Whois)
	t.names = make(map[state.Key][]dispatch.UserListEntry)
	t.who = make(map[state.Key][]dispatch.WhoUser)
}

func (t *translator) key(name string) state.Key {
	return t.support.casemap().Key(name)
}

func messageTime(msg ircmsg.Message) time.Time {
	if ok, v := msg.GetTag("time"); ok {
		if at, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return at
		}
	}
	return time.Time{}
}

func param(msg ircmsg.Message, i int) string {
	if i < len(msg.Params) {
		return msg.Params[i]
	}
	return ""
}

func lastParam(msg ircmsg.Message) string {
	if len(msg.Params) == 0 {
		return ""
	}
	return msg.Params[len(msg.Params)-1]
}

type source struct {
	nick, ident, host string
}

func parseSource(msg ircmsg.Message) source {
	nuh, err := ircmsg.ParseNUH(msg.Source)
	if err != nil {
		return source{nick: msg.Source}
	}
	return source{nick: nuh.Name, ident: nuh.User, host: nuh.Host}
}

// translate returns the events of one incoming line, possibly none
func (t *translator) translate(msg ircmsg.Message) []dispatch.Event {
	at := messageTime(msg)
	src := parseSource(msg)

	if e, ok := errorNumerics[msg.Command]; ok {
		return []dispatch.Event{t.ircError(msg, e, at)}
	}
	if silentCommands[msg.Command] {
		return nil
	}

	switch msg.Command {
	case "001":
		nick := param(msg, 0)
		t.support.setNick(nick)
		return []dispatch.Event{
			dispatch.Connected{},
			dispatch.Registered{Nick: nick, Username: t.support.currentUsername()},
		}
	case "005":
		if len(msg.Params) > 2 {
			t.support.applyISupport(msg.Params[1 : len(msg.Params)-1])
		}
		return []dispatch.Event{dispatch.ServerOptions{}}
	case "433":
		return []dispatch.Event{dispatch.NickInUse{Nick: param(msg, 1)}}
	case "470":
		if len(msg.Params) < 3 {
			return nil
		}
		return []dispatch.Event{dispatch.ChannelRedirect{From: msg.Params[1], To: msg.Params[2]}}

	case "PRIVMSG", "NOTICE":
		return t.message(msg, src, at)
	case "WALLOPS":
		return []dispatch.Event{dispatch.Wallops{Nick: src.nick, Text: lastParam(msg), Time: at}}

	case "JOIN":
		join := dispatch.Join{
			Nick: src.nick, Ident: src.ident, Hostname: src.host,
			Channel: param(msg, 0), Time: at,
		}
		// extended-join: JOIN #chan account :realname
		if len(msg.Params) >= 3 {
			if account := msg.Params[1]; account != "*" {
				join.Account = account
			}
			join.Realname = msg.Params[2]
		}
		return []dispatch.Event{join}
	case "PART":
		var evs []dispatch.Event
		for _, channel := range strings.Split(param(msg, 0), ",") {
			evs = append(evs, dispatch.Part{
				Nick: src.nick, Ident: src.ident, Hostname: src.host,
				Channel: channel, Reason: param(msg, 1), Time: at,
			})
		}
		return evs
	case "KICK":
		return []dispatch.Event{dispatch.Kick{
			Nick: src.nick, Ident: src.ident, Hostname: src.host,
			Channel: param(msg, 0), Kicked: param(msg, 1), Reason: param(msg, 2), Time: at,
		}}
	case "QUIT":
		return []dispatch.Event{dispatch.Quit{
			Nick: src.nick, Ident: src.ident, Hostname: src.host,
			Reason: param(msg, 0), Time: at,
		}}
	case "INVITE":
		return []dispatch.Event{dispatch.Invite{Nick: src.nick, Channel: param(msg, 1), Time: at}}
	case "NICK":
		newNick := param(msg, 0)
		if t.support.isSelf(src.nick) {
			t.support.setNick(newNick)
		}
		return []dispatch.Event{dispatch.Nick{Nick: src.nick, NewNick: newNick, Time: at}}
	case "ACCOUNT":
		account := param(msg, 0)
		if account == "*" {
			account = ""
		}
		return []dispatch.Event{dispatch.Account{Nick: src.nick, Account: account}}
	case "AWAY":
		if len(msg.Params) == 0 || msg.Params[0] == "" {
			return []dispatch.Event{dispatch.Back{Nick: src.nick}}
		}
		return []dispatch.Event{dispatch.Away{Nick: src.nick, Message: msg.Params[0]}}
	case "TOPIC":
		return []dispatch.Event{dispatch.Topic{Channel: param(msg, 0), Topic: param(msg, 1), Nick: src.nick, Time: at}}
	case "MODE":
		return t.mode(msg, src, at)
	case "CONTROL":
		return []dispatch.Event{dispatch.Control{Params: msg.Params}}
	case "FAIL":
		// FAIL <command> <code> [<context>...] :<description>
		return []dispatch.Event{dispatch.IRCError{
			Error:  strings.ToLower(param(msg, 1)),
			Reason: lastParam(msg),
			Time:   at,
		}}

	case "301", "311", "312", "313", "317", "319", "330", "671", "318":
		return t.whoisReply(msg)

	case "352":
		// RPL_WHOREPLY <me> <channel> <user> <host> <server> <nick> <flags> :<hops> <realname>
		if len(msg.Params) < 8 {
			return nil
		}
		_, realname, _ := strings.Cut(msg.Params[7], " ")
		key := t.key(msg.Params[1])
		t.who[key] = append(t.who[key], dispatch.WhoUser{
			Nick:     msg.Params[5],
			Ident:    msg.Params[2],
			Hostname: msg.Params[3],
			Realname: realname,
			Away:     strings.ContainsRune(msg.Params[6], 'G'),
		})
		return nil
	case "315":
		target := param(msg, 1)
		key := t.key(target)
		users := t.who[key]
		delete(t.who, key)
		return []dispatch.Event{dispatch.WhoList{Target: target, Users: users}}

	case "353":
		// RPL_NAMREPLY <me> <symbol> <channel> :<names>
		if len(msg.Params) < 4 {
			return nil
		}
		table := t.support.prefixTable()
		key := t.key(msg.Params[2])
		for _, entry := range strings.Fields(msg.Params[3]) {
			nick, privileges := table.ParseNamesEntry(entry)
			u := dispatch.UserListEntry{Nick: nick, Modes: privileges}
			// userhost-in-names
			if strings.ContainsRune(nick, '!') {
				if nuh, err := ircmsg.ParseNUH(nick); err == nil {
					u.Nick, u.Ident, u.Hostname = nuh.Name, nuh.User, nuh.Host
				}
			}
			t.names[key] = append(t.names[key], u)
		}
		return nil
	case "366":
		channel := param(msg, 1)
		key := t.key(channel)
		users := t.names[key]
		delete(t.names, key)
		return []dispatch.Event{dispatch.UserList{Channel: channel, Users: users}}

	case "321":
		return []dispatch.Event{dispatch.ChannelListStart{}}
	case "322":
		// RPL_LIST <me> <channel> <users> :<topic>
		numUsers, _ := strconv.Atoi(param(msg, 2))
		return []dispatch.Event{dispatch.ChannelList{Entries: []state.ChannelListEntry{{
			Channel:  param(msg, 1),
			NumUsers: numUsers,
			Topic:    param(msg, 3),
		}}}}
	case "323":
		return []dispatch.Event{dispatch.ChannelListEnd{}}

	case "324":
		// RPL_CHANNELMODEIS <me> <channel> <modes> [<params>...]
		if len(msg.Params) < 3 {
			return nil
		}
		deltas := modes.ParseModeString(msg.Params[2], msg.Params[3:], t.support.channelModes(), t.support.prefixTable())
		return []dispatch.Event{dispatch.ChannelInfo{Channel: msg.Params[1], Modes: deltas, Time: at}}
	case "329":
		// RPL_CREATIONTIME <me> <channel> <unix time>
		ts, err := strconv.ParseInt(param(msg, 2), 10, 64)
		if err != nil {
			return nil
		}
		return []dispatch.Event{dispatch.ChannelInfo{Channel: param(msg, 1), CreatedAt: time.Unix(ts, 0), Time: at}}
	case "332":
		return []dispatch.Event{dispatch.Topic{Channel: param(msg, 1), Topic: lastParam(msg), Time: at}}
	case "372":
		return []dispatch.Event{dispatch.Motd{Text: lastParam(msg), Time: at}}
	}

	return []dispatch.Event{dispatch.Unknown{Command: msg.Command, Params: msg.Params, Time: at}}
}

func (t *translator) ircError(msg ircmsg.Message, e errorNumeric, at time.Time) dispatch.Event {
	ev := dispatch.IRCError{Error: e.name, Reason: lastParam(msg), Time: at}
	if e.hasTarget && len(msg.Params) > 2 {
		target := msg.Params[1]
		if t.support.isChannel(target) {
			ev.Channel = target
		} else {
			ev.Nick = target
		}
	}
	return ev
}

func (t *translator) message(msg ircmsg.Message, src source, at time.Time) []dispatch.Event {
	target := param(msg, 0)
	text := param(msg, 1)

	// STATUSMSG targets such as "@#chan" belong to the channel
	if statusmsg, ok := t.support.token("STATUSMSG"); ok && len(target) > 1 &&
		strings.IndexByte(statusmsg, target[0]) >= 0 && t.support.isChannel(target[1:]) {
		target = target[1:]
	}

	notice := msg.Command == "NOTICE"
	if len(text) > 1 && text[0] == '\x01' {
		body := strings.TrimSuffix(text[1:], "\x01")
		ctcpType, args, _ := strings.Cut(body, " ")
		ctcpType = strings.ToUpper(ctcpType)

		switch {
		case ctcpType == "ACTION" && !notice:
			text = args
			return []dispatch.Event{t.messageEvent(msg, dispatch.KindAction, src, target, text, at)}
		case notice:
			return []dispatch.Event{dispatch.CTCPResponse{Nick: src.nick, Target: target, Type: ctcpType, Message: args, Time: at}}
		default:
			return []dispatch.Event{dispatch.CTCPRequest{Nick: src.nick, Target: target, Type: ctcpType, Message: args, Time: at}}
		}
	}

	kind := dispatch.KindPrivmsg
	if notice {
		kind = dispatch.KindNotice
	}
	return []dispatch.Event{t.messageEvent(msg, kind, src, target, text, at)}
}

func (t *translator) messageEvent(msg ircmsg.Message, kind dispatch.MessageKind, src source, target, text string, at time.Time) dispatch.Message {
	return dispatch.Message{
		Kind:     kind,
		Nick:     src.nick,
		Ident:    src.ident,
		Hostname: src.host,
		Target:   target,
		Text:     text,
		// Servers have no user@host part in their prefix
		FromServer: src.ident == "" && src.host == "",
		Time:       at,
		Tags:       msg.AllTags(),
	}
}

func (t *translator) mode(msg ircmsg.Message, src source, at time.Time) []dispatch.Event {
	if len(msg.Params) < 2 {
		return nil
	}
	target := msg.Params[0]

	var deltas []modes.Delta
	if t.support.isChannel(target) {
		deltas = modes.ParseModeString(msg.Params[1], msg.Params[2:], t.support.channelModes(), t.support.prefixTable())
	} else {
		// User modes never take parameters
		deltas = modes.ParseModeString(msg.Params[1], nil, modes.ChanModes{}, modes.PrefixTable{})
	}
	return []dispatch.Event{dispatch.Mode{
		Nick: src.nick, Ident: src.ident, Hostname: src.host,
		Target: target, Modes: deltas, Time: at,
	}}
}

func (t *translator) pendingWhois(nick string) *dispatch.Whois {
	key := t.key(nick)
	w, ok := t.whois[key]
	if !ok {
		w = &dispatch.Whois{Nick: nick, Extras: map[string]string{}}
		t.whois[key] = w
	}
	return w
}

// whoisReply accumulates WHOIS numerics <me> <nick> ... until RPL_ENDOFWHOIS
func (t *translator) whoisReply(msg ircmsg.Message) []dispatch.Event {
	nick := param(msg, 1)
	if nick == "" {
		return nil
	}

	switch msg.Command {
	case "301":
		// RPL_AWAY also answers a message sent to an away user
		if _, ok := t.whois[t.key(nick)]; !ok {
			return []dispatch.Event{dispatch.Away{Nick: nick, Message: lastParam(msg)}}
		}
		t.pendingWhois(nick).Away = lastParam(msg)
	case "311":
		w := t.pendingWhois(nick)
		w.Ident = param(msg, 2)
		w.Hostname = param(msg, 3)
		w.Realname = lastParam(msg)
	case "312":
		w := t.pendingWhois(nick)
		w.Extras["server"] = param(msg, 2)
		w.Extras["server_info"] = param(msg, 3)
	case "313":
		t.pendingWhois(nick).Extras["operator"] = lastParam(msg)
	case "317":
		w := t.pendingWhois(nick)
		w.Extras["idle"] = param(msg, 2)
		if len(msg.Params) > 4 {
			w.Extras["signon"] = param(msg, 3)
		}
	case "319":
		w := t.pendingWhois(nick)
		w.Extras["channels"] = strings.TrimSpace(w.Extras["channels"] + " " + lastParam(msg))
	case "330":
		t.pendingWhois(nick).Account = param(msg, 2)
	case "671":
		t.pendingWhois(nick).Extras["secure"] = "true"
	case "318":
		key := t.key(nick)
		w, ok := t.whois[key]
		if !ok {
			return nil
		}
		delete(t.whois, key)
		return []dispatch.Event{*w}
	}
	return nil
}
