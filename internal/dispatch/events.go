package dispatch

import (
	"time"

	"github.com/matt0x6f/ircsync/internal/modes"
	"github.com/matt0x6f/ircsync/internal/state"
)

// Event is a parsed protocol or lifecycle event. The set of kinds is closed:
// only types in this package implement it.
type Event interface {
	isEvent()
}

// Raw is one protocol line in either direction
type Raw struct {
	Line       string
	FromServer bool
}

// Connecting is delivered when a connection attempt starts
type Connecting struct{}

// Connected is delivered when the transport handshake completes
type Connected struct{}

// SocketConnected is delivered once the socket is open, before registration
type SocketConnected struct{}

// SocketClosed is delivered when the transport closes for any reason
type SocketClosed struct {
	Reason string
}

// Registered is delivered on RPL_WELCOME
type Registered struct {
	Nick     string
	Username string
}

// ServerOptions is delivered once ISUPPORT has been received
type ServerOptions struct{}

// ChannelRedirect reports that a join to From was forwarded to To
type ChannelRedirect struct {
	From string
	To   string
}

// Unknown is any reply without a dedicated kind
type Unknown struct {
	Command string
	Params  []string
	Time    time.Time
}

// MessageKind distinguishes the three message forms
type MessageKind string

const (
	KindPrivmsg MessageKind = "privmsg"
	KindNotice  MessageKind = "notice"
	KindAction  MessageKind = "action"
)

// Message is a PRIVMSG, NOTICE or CTCP ACTION
type Message struct {
	Kind       MessageKind
	Nick       string
	Ident      string
	Hostname   string
	Target     string
	Text       string
	FromServer bool
	Time       time.Time
	Tags       map[string]string
}

// Wallops is a WALLOPS broadcast
type Wallops struct {
	Nick string
	Text string
	Time time.Time
}

// Join is a JOIN, with extended-join fields when available
type Join struct {
	Nick     string
	Ident    string
	Hostname string
	Channel  string
	Realname string
	Account  string
	Time     time.Time
}

// Kick is a KICK
type Kick struct {
	Nick     string
	Ident    string
	Hostname string
	Channel  string
	Kicked   string
	Reason   string
	Time     time.Time
}

// Part is a PART
type Part struct {
	Nick     string
	Ident    string
	Hostname string
	Channel  string
	Reason   string
	Time     time.Time
}

// Quit is a QUIT
type Quit struct {
	Nick     string
	Ident    string
	Hostname string
	Reason   string
	Time     time.Time
}

// Invite is an INVITE addressed to us
type Invite struct {
	Nick    string
	Channel string
	Time    time.Time
}

// Account is an account-notify change; an empty Account means logged out
type Account struct {
	Nick    string
	Account string
}

// Whois is an accumulated WHOIS reply
type Whois struct {
	Nick     string
	Ident    string
	Hostname string
	Realname string
	Away     string
	Account  string
	Extras   map[string]string
}

// Away reports a user going away
type Away struct {
	Nick    string
	Message string
}

// Back reports a user returning
type Back struct {
	Nick string
}

// WhoUser is one WHO reply line
type WhoUser struct {
	Nick     string
	Ident    string
	Hostname string
	Realname string
	Account  string
	Away     bool
}

// WhoList is a complete WHO reply
type WhoList struct {
	Target string
	Users  []WhoUser
}

// ChannelListStart opens a LIST reply
type ChannelListStart struct{}

// ChannelList carries a page of LIST entries
type ChannelList struct {
	Entries []state.ChannelListEntry
}

// ChannelListEnd closes a LIST reply
type ChannelListEnd struct{}

// Motd is one MOTD line
type Motd struct {
	Text string
	Time time.Time
}

// NickInUse reports ERR_NICKNAMEINUSE for Nick
type NickInUse struct {
	Nick string
}

// Nick is a nick change
type Nick struct {
	Nick    string
	NewNick string
	Time    time.Time
}

// UserListEntry is one NAMES entry
type UserListEntry struct {
	Nick     string
	Ident    string
	Hostname string
	Modes    []rune
}

// UserList is a complete NAMES reply
type UserList struct {
	Channel string
	Users   []UserListEntry
}

// ChannelInfo carries a mode dump or the creation time of a channel
type ChannelInfo struct {
	Channel   string
	Modes     []modes.Delta
	CreatedAt time.Time
	Time      time.Time
}

// Mode is a MODE change
type Mode struct {
	Nick     string
	Ident    string
	Hostname string
	Target   string
	Modes    []modes.Delta
	Time     time.Time
}

// Topic is a TOPIC change (Nick set) or a topic reply (Nick empty)
type Topic struct {
	Channel string
	Topic   string
	Nick    string
	Time    time.Time
}

// CTCPRequest is a CTCP query other than ACTION
type CTCPRequest struct {
	Nick    string
	Target  string
	Type    string
	Message string
	Time    time.Time
}

// CTCPResponse is a CTCP reply
type CTCPResponse struct {
	Nick    string
	Target  string
	Type    string
	Message string
	Time    time.Time
}

// IRCError is an error numeric or FAIL reply
type IRCError struct {
	Error   string
	Channel string
	Nick    string
	Reason  string
	Time    time.Time
}

// Control is transport signaling that is never displayed
type Control struct {
	Params []string
}

func (Raw) isEvent()              {}
func (Connecting) isEvent()       {}
func (Connected) isEvent()        {}
func (SocketConnected) isEvent()  {}
func (SocketClosed) isEvent()     {}
func (Registered) isEvent()       {}
func (ServerOptions) isEvent()    {}
func (ChannelRedirect) isEvent()  {}
func (Unknown) isEvent()          {}
func (Message) isEvent()          {}
func (Wallops) isEvent()          {}
func (Join) isEvent()             {}
func (Kick) isEvent()             {}
func (Part) isEvent()             {}
func (Quit) isEvent()             {}
func (Invite) isEvent()           {}
func (Account) isEvent()          {}
func (Whois) isEvent()            {}
func (Away) isEvent()             {}
func (Back) isEvent()             {}
func (WhoList) isEvent()          {}
func (ChannelListStart) isEvent() {}
func (ChannelList) isEvent()      {}
func (ChannelListEnd) isEvent()   {}
func (Motd) isEvent()             {}
func (NickInUse) isEvent()        {}
func (Nick) isEvent()             {}
func (UserList) isEvent()         {}
func (ChannelInfo) isEvent()      {}
func (Mode) isEvent()             {}
func (Topic) isEvent()            {}
func (CTCPRequest) isEvent()      {}
func (CTCPResponse) isEvent()     {}
func (IRCError) isEvent()         {}
func (Control) isEvent()          {}
