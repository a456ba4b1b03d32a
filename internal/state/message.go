package state

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a message record for presentation
type MessageType string

const (
	MessageInfo       MessageType = ""
	MessagePrivmsg    MessageType = "privmsg"
	MessageNotice     MessageType = "notice"
	MessageAction     MessageType = "action"
	MessageTraffic    MessageType = "traffic"
	MessageConnection MessageType = "connection"
	MessageError      MessageType = "error"
	MessageMode       MessageType = "mode"
	MessageTopic      MessageType = "topic"
	MessageMotd       MessageType = "motd"
	MessageNick       MessageType = "nick"
	MessageWallops    MessageType = "wallops"
	MessageRaw        MessageType = "raw"
)

// FromServer reports whether records of this type mirror traffic that the
// server keeps in its history, and therefore advance a buffer's position.
func (t MessageType) FromServer() bool {
	switch t {
	case MessagePrivmsg, MessageNotice, MessageAction, MessageTraffic,
		MessageMode, MessageTopic, MessageNick, MessageWallops:
		return true
	}
	return false
}

// Message is one line appended to a buffer. Records are values and are never
// modified after AddMessage returns.
type Message struct {
	ID        string
	Time      time.Time
	Nick      string
	Body      string
	Type      MessageType
	TypeExtra string
	Tags      map[string]string
}

func newMessageID() string {
	return uuid.NewString()
}
