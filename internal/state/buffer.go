package state

import "time"

// BufferKind is the shape of a buffer, inferred from its name on creation
type BufferKind int

const (
	BufferServer BufferKind = iota
	BufferChannel
	BufferQuery
	BufferSpecial
)

func (k BufferKind) String() string {
	switch k {
	case BufferServer:
		return "server"
	case BufferChannel:
		return "channel"
	case BufferQuery:
		return "query"
	default:
		return "special"
	}
}

// Flags are transient markers set by one event and consumed by a later one
type Flags struct {
	// RedirectTo names the channel a pending join was forwarded to
	RedirectTo string
	// ChannelBadKey is set when the last join failed with a bad key
	ChannelBadKey bool
	// RequestedModes is set while the user waits for an explicit mode dump
	RequestedModes bool
}

// Buffer is the server console, a channel, a query, or the raw log
type Buffer struct {
	ID        int64
	NetworkID int64
	Name      string
	Kind      BufferKind
	Joined    bool
	Enabled   bool
	Key       string
	Topic     string
	CreatedAt time.Time
	Modes     map[rune]string
	Flags     Flags
	Messages  []Message
	// LastPosition is the time of the newest server-originated record
	LastPosition time.Time

	members map[Key]*User
}

// IsChannel reports whether the buffer is a channel
func (b *Buffer) IsChannel() bool { return b.Kind == BufferChannel }

// IsQuery reports whether the buffer is a private query
func (b *Buffer) IsQuery() bool { return b.Kind == BufferQuery }

// IsServer reports whether the buffer is the server console
func (b *Buffer) IsServer() bool { return b.Kind == BufferServer }

// BufferView is a detached copy of a buffer's display state
type BufferView struct {
	ID           int64
	Name         string
	Kind         BufferKind
	Joined       bool
	Enabled      bool
	Key          string
	Topic        string
	CreatedAt    time.Time
	Modes        map[rune]string
	Flags        Flags
	LastPosition time.Time
	Members      []string
	MessageCount int
}
