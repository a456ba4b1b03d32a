package storage

import (
	"encoding/json"
	"time"

	"github.com/matt0x6f/ircsync/internal/state"
)

// Network is the persisted identity of a configured network
type Network struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Nick      string    `db:"nick" json:"nick"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Buffer is a channel or query that survives restarts. Names compare
// case-insensitively.
type Buffer struct {
	ID         int64     `db:"id" json:"id"`
	NetworkID  int64     `db:"network_id" json:"network_id"`
	Name       string    `db:"name" json:"name"`
	Enabled    bool      `db:"enabled" json:"enabled"`
	ChannelKey string    `db:"channel_key" json:"channel_key"`
	Topic      string    `db:"topic" json:"topic"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Message is one stored message record. Timestamp is in unix milliseconds so
// that ordering and MAX() work on the raw column.
type Message struct {
	ID          int64  `db:"id" json:"id"`
	MsgID       string `db:"msgid" json:"msgid"`
	NetworkID   int64  `db:"network_id" json:"network_id"`
	Buffer      string `db:"buffer" json:"buffer"`
	Nick        string `db:"nick" json:"nick"`
	Body        string `db:"body" json:"body"`
	MessageType string `db:"message_type" json:"message_type"`
	TypeExtra   string `db:"type_extra" json:"type_extra"`
	Tags        string `db:"tags" json:"tags"` // JSON object
	Timestamp   int64  `db:"timestamp" json:"timestamp"`
}

// NewMessage converts a state record into its stored form
func NewMessage(networkID int64, buffer string, msg state.Message) Message {
	m := Message{
		MsgID:       msg.ID,
		NetworkID:   networkID,
		Buffer:      buffer,
		Nick:        msg.Nick,
		Body:        msg.Body,
		MessageType: string(msg.Type),
		TypeExtra:   msg.TypeExtra,
		Timestamp:   msg.Time.UnixMilli(),
	}
	if len(msg.Tags) > 0 {
		if data, err := json.Marshal(msg.Tags); err == nil {
			m.Tags = string(data)
		}
	}
	return m
}

// Record converts a stored message back into a state record
func (m Message) Record() state.Message {
	rec := state.Message{
		ID:        m.MsgID,
		Time:      time.UnixMilli(m.Timestamp),
		Nick:      m.Nick,
		Body:      m.Body,
		Type:      state.MessageType(m.MessageType),
		TypeExtra: m.TypeExtra,
	}
	if m.Tags != "" {
		var tags map[string]string
		if err := json.Unmarshal([]byte(m.Tags), &tags); err == nil {
			rec.Tags = tags
		}
	}
	return rec
}
