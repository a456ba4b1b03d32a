package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/modes"
	"github.com/matt0x6f/ircsync/internal/state"
)

var numericCommand = regexp.MustCompile(`^\d+$`)

func withReason(text, reason string) string {
	if reason == "" {
		return text
	}
	return text + " (" + reason + ")"
}

func (e *Engine) onUnknown(ev Unknown) {
	n := e.network
	at := e.timeOf(ev.Time)

	// ERR_NEEDREGGEDNICK: the target only accepts messages from identified users
	if ev.Command == "486" {
		if len(ev.Params) < 3 {
			return
		}
		b := n.GetOrAddBuffer(ev.Params[1])
		e.addMessage(b, state.Message{Time: at, Nick: "*", Body: ev.Params[2], Type: state.MessageError})
		return
	}

	b := n.ServerBuffer()
	var body string
	if !numericCommand.MatchString(ev.Command) {
		body = ev.Command + " "
	}

	params := ev.Params
	containsNick := len(params) > 0 && e.isSelf(params[0])
	isChannel := len(params) > 1 && n.IsChannelName(params[1])
	switch {
	case containsNick && isChannel:
		if cb, err := n.BufferByName(params[1]); err == nil {
			b = cb
		}
		body += strings.Join(params[2:], ", ")
	case containsNick:
		body += strings.Join(params[1:], ", ")
	default:
		body += strings.Join(params, ", ")
	}

	e.addMessage(b, state.Message{Time: at, Body: body})
}

func (e *Engine) onMessage(ev Message) {
	n := e.network
	global := e.settings.Global()

	isPrivate := false
	bufferName := ev.Target
	if ev.FromServer {
		bufferName = constants.ServerBufferName
	} else if e.isSelf(ev.Target) {
		// Private messages live in a buffer named after the other side
		isPrivate = true
		bufferName = ev.Nick
	}

	// ChanServ greets with "[#channel] text" in private; show it in the channel
	if isPrivate && strings.EqualFold(ev.Nick, "chanserv") && strings.HasPrefix(ev.Text, "[") {
		if end := strings.IndexByte(ev.Text, ']'); end > 1 {
			bufferName = ev.Text[1:end]
		}
	}

	if ev.Kind == KindNotice {
		if _, err := n.BufferByName(bufferName); err != nil {
			bufferName = constants.ServerBufferName
			if global.NoticeActiveBuffer {
				if active, ok := state.ActiveBufferOn(e.active, n); ok {
					bufferName = active.Name
				}
			}
		}
	}

	b, err := n.BufferByName(bufferName)
	if err != nil {
		if isPrivate && global.Buffers.BlockPMs {
			e.log.Debug().Str("nick", ev.Nick).Msg("Dropped message from new query")
			return
		}
		b = n.GetOrAddBuffer(bufferName)
	}

	tags := ev.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	e.addMessage(b, state.Message{
		Time: e.timeOf(ev.Time),
		Nick: ev.Nick,
		Body: ev.Text,
		Type: state.MessageType(ev.Kind),
		Tags: tags,
	})
}

func (e *Engine) onWallops(ev Wallops) {
	b := e.network.GetOrAddBuffer(constants.ServerBufferName)
	e.addMessage(b, state.Message{
		Time: e.timeOf(ev.Time),
		Nick: ev.Nick,
		Body: ev.Text,
		Type: state.MessageWallops,
	})
}

func (e *Engine) onJoin(ev Join) {
	n := e.network
	self := e.isSelf(ev.Nick)

	// A buffer waiting on a forwarded join becomes the target channel
	if self {
		cm := n.Casemap()
		for _, b := range n.Buffers() {
			if b.Flags.RedirectTo == "" || !cm.Equal(b.Flags.RedirectTo, ev.Channel) {
				continue
			}
			n.UpdateBuffer(b, func(b *state.Buffer) { b.Flags.RedirectTo = "" })
			if err := n.RenameBuffer(b, ev.Channel); err != nil {
				e.log.Debug().Err(err).Msg("Redirect target already has a buffer")
			}
		}
	}

	b := n.GetOrAddBuffer(ev.Channel)
	n.AddUserToBuffer(b, state.UserUpdate{
		Nick:     ev.Nick,
		Username: state.NonEmpty(ev.Ident),
		Hostname: state.NonEmpty(ev.Hostname),
		Realname: state.NonEmpty(ev.Realname),
		Account:  state.Str(ev.Account),
	}, nil)

	if self {
		n.UpdateBuffer(b, func(b *state.Buffer) {
			b.Enabled = true
			b.Joined = true
			b.Flags.ChannelBadKey = false
		})
		e.send.Raw("MODE", ev.Channel)
		e.send.Who(ev.Channel)
	}

	e.addMessage(b, state.Message{
		Time:      e.timeOf(ev.Time),
		Nick:      ev.Nick,
		Body:      ev.Nick + " has joined",
		Type:      state.MessageTraffic,
		TypeExtra: "join",
	})
}

func (e *Engine) onKick(ev Kick) {
	n := e.network
	b := n.GetOrAddBuffer(ev.Channel)
	n.RemoveUserFromBuffer(b, ev.Kicked)

	var body string
	if e.isSelf(ev.Kicked) {
		n.UpdateBuffer(b, func(b *state.Buffer) { b.Joined = false })
		n.ClearUsers(b)
		body = fmt.Sprintf("%s kicked you from %s", ev.Nick, ev.Channel)
	} else {
		body = fmt.Sprintf("%s was kicked from %s by %s", ev.Kicked, ev.Channel, ev.Nick)
	}

	e.addMessage(b, state.Message{
		Time:      e.timeOf(ev.Time),
		Nick:      ev.Nick,
		Body:      withReason(body, ev.Reason),
		Type:      state.MessageTraffic,
		TypeExtra: "kick",
	})
}

func (e *Engine) onPart(ev Part) {
	n := e.network
	b, err := n.BufferByName(ev.Channel)
	if err != nil {
		return
	}

	n.RemoveUserFromBuffer(b, ev.Nick)
	if e.isSelf(ev.Nick) {
		n.UpdateBuffer(b, func(b *state.Buffer) {
			b.Joined = false
			b.Enabled = false
		})
		n.ClearUsers(b)
	}

	if len(n.BuffersWithUser(ev.Nick)) == 0 {
		n.RemoveUser(ev.Nick)
	}

	e.addMessage(b, state.Message{
		Time:      e.timeOf(ev.Time),
		Nick:      ev.Nick,
		Body:      withReason(ev.Nick+" has left", ev.Reason),
		Type:      state.MessageTraffic,
		TypeExtra: "part",
	})
}

func (e *Engine) onQuit(ev Quit) {
	n := e.network
	self := e.isSelf(ev.Nick)
	at := e.timeOf(ev.Time)

	for _, b := range n.BuffersWithUser(ev.Nick) {
		if self {
			n.UpdateBuffer(b, func(b *state.Buffer) { b.Joined = false })
			n.ClearUsers(b)
		}
		e.addMessage(b, state.Message{
			Time:      at,
			Nick:      ev.Nick,
			Body:      withReason(ev.Nick+" has quit", ev.Reason),
			Type:      state.MessageTraffic,
			TypeExtra: "quit",
		})
	}

	n.RemoveUser(ev.Nick)
}

func (e *Engine) onInvite(ev Invite) {
	e.addMessage(e.network.ServerBuffer(), state.Message{
		Time: e.timeOf(ev.Time),
		Nick: "*",
		Body: fmt.Sprintf("%s invited you to %s", ev.Nick, ev.Channel),
	})
}

func (e *Engine) onWhois(ev Whois) {
	e.network.AddUser(state.UserUpdate{
		Nick:     ev.Nick,
		Username: state.NonEmpty(ev.Ident),
		Hostname: state.NonEmpty(ev.Hostname),
		Realname: state.NonEmpty(ev.Realname),
		Account:  state.NonEmpty(ev.Account),
		Away:     state.Str(ev.Away),
		Extras:   ev.Extras,
	})
}

func (e *Engine) onWhoList(ev WhoList) {
	upds := make([]state.UserUpdate, 0, len(ev.Users))
	for _, u := range ev.Users {
		away := ""
		if u.Away {
			away = "Away"
		}
		upds = append(upds, state.UserUpdate{
			Nick:     u.Nick,
			Username: state.NonEmpty(u.Ident),
			Hostname: state.NonEmpty(u.Hostname),
			Realname: state.NonEmpty(u.Realname),
			Account:  state.Str(u.Account),
			Away:     state.Str(away),
		})
	}
	e.network.ApplyUsers(upds)
}

func (e *Engine) onNick(ev Nick) {
	n := e.network
	if e.isSelf(ev.Nick) {
		n.Update(func(n *state.Network) { n.Nick = ev.NewNick })
	}

	n.ChangeUserNick(ev.Nick, ev.NewNick)

	at := e.timeOf(ev.Time)
	body := fmt.Sprintf("%s is now known as %s", ev.Nick, ev.NewNick)
	for _, b := range n.BuffersWithUser(ev.NewNick) {
		e.addMessage(b, state.Message{Time: at, Body: body, Type: state.MessageNick})
	}
}

func (e *Engine) onUserList(ev UserList) {
	b := e.network.GetOrAddBuffer(ev.Channel)
	members := make([]state.Member, 0, len(ev.Users))
	for _, u := range ev.Users {
		members = append(members, state.Member{
			User: state.UserUpdate{
				Nick:     u.Nick,
				Username: state.NonEmpty(u.Ident),
				Hostname: state.NonEmpty(u.Hostname),
			},
			Modes: u.Modes,
		})
	}
	e.network.AddUsersToBuffer(b, members)
}

func (e *Engine) onChannelInfo(ev ChannelInfo) {
	n := e.network
	b, err := n.BufferByName(ev.Channel)
	if err != nil {
		return
	}
	at := e.timeOf(ev.Time)
	requested := b.Flags.RequestedModes

	if len(ev.Modes) > 0 {
		modes.Apply(n, b, ev.Modes, e.info.Prefixes())
		if requested {
			e.addMessage(b, state.Message{Time: at, Nick: "*", Body: modes.Dump(b.Name, ev.Modes)})
		}
	}

	if !ev.CreatedAt.IsZero() {
		n.UpdateBuffer(b, func(b *state.Buffer) {
			b.CreatedAt = ev.CreatedAt
			// The creation time closes an explicit mode request
			b.Flags.RequestedModes = false
		})
		if requested {
			e.addMessage(b, state.Message{
				Time: at,
				Nick: "*",
				Body: b.Name + " " + ev.CreatedAt.Local().Format(time.RFC1123),
			})
		}
	}
}

func (e *Engine) onMode(ev Mode) {
	n := e.network
	b, err := n.BufferByName(ev.Target)
	if err != nil {
		return
	}

	table := e.info.Prefixes()
	modes.Apply(n, b, ev.Modes, table)

	at := e.timeOf(ev.Time)
	for _, g := range modes.Aggregate(ev.Modes, table, b.Name) {
		e.addMessage(b, state.Message{
			Time:      at,
			Body:      modes.Describe(g, ev.Nick),
			Type:      state.MessageMode,
			TypeExtra: modes.PhraseKey(g.Mode),
		})
	}
}

func (e *Engine) onTopic(ev Topic) {
	n := e.network
	b := n.GetOrAddBuffer(ev.Channel)
	n.UpdateBuffer(b, func(b *state.Buffer) { b.Topic = ev.Topic })

	body := ev.Topic
	if ev.Nick != "" {
		body = fmt.Sprintf("%s changed the topic to: %s", ev.Nick, ev.Topic)
	}
	e.addMessage(b, state.Message{
		Time: e.timeOf(ev.Time),
		Body: body,
		Type: state.MessageTopic,
	})
}

func (e *Engine) onCTCP(nick, target, ctcpType, message string, at time.Time, request bool) {
	n := e.network
	b, err := n.BufferByName(target)
	if err != nil {
		b = n.ServerBuffer()
	}

	kind := "response"
	if request {
		kind = "request"
	}
	body := fmt.Sprintf("CTCP %s %s from %s", ctcpType, kind, nick)
	if message != "" {
		body += ": " + message
	}
	e.addMessage(b, state.Message{Time: e.timeOf(at), Body: body, Type: state.MessageError})

	if !request {
		return
	}
	if reply, ok := e.ctcpReply(ctcpType, message); ok {
		e.send.CtcpResponse(nick, ctcpType, reply)
	}
}

// ctcpReply answers the CTCP queries the client supports
func (e *Engine) ctcpReply(ctcpType, args string) (string, bool) {
	switch ctcpType {
	case "VERSION":
		return constants.ClientVersion, true
	case "TIME":
		return e.now().Format(time.RFC1123Z), true
	case "PING":
		if args != "" {
			return args, true
		}
		return strconv.FormatInt(e.now().Unix(), 10), true
	case "CLIENTINFO":
		return "ACTION CLIENTINFO PING TIME VERSION", true
	default:
		return "", false
	}
}

func (e *Engine) onError(ev IRCError) {
	n := e.network

	var b *state.Buffer
	if target := ev.Channel; target != "" || ev.Nick != "" {
		if target == "" {
			target = ev.Nick
		}
		b = n.GetOrAddBuffer(target)
	} else {
		b = n.ServerBuffer()
	}

	if ev.Error == "bad_channel_key" {
		n.UpdateBuffer(b, func(b *state.Buffer) { b.Flags.ChannelBadKey = true })
	}

	if ev.Reason != "" {
		n.Update(func(n *state.Network) { n.LastError = ev.Reason })
		e.addMessage(b, state.Message{
			Time: e.timeOf(ev.Time),
			Body: ev.Reason,
			Type: state.MessageError,
		})
	}

	// An error on a channel we are not in means the join failed; stop rejoining it
	if b.IsChannel() && !b.Joined {
		n.UpdateBuffer(b, func(b *state.Buffer) { b.Enabled = false })
	}
}
