package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/events"
	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by lookups that never create
var ErrNotFound = errors.New("not found")

// ConnState is the transport-level connection state of a network
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ListState tracks a channel list request
type ListState string

const (
	ListIdle     ListState = "idle"
	ListUpdating ListState = "updating"
	ListUpdated  ListState = "updated"
)

// ChannelListEntry is one LIST reply
type ChannelListEntry struct {
	Channel  string
	NumUsers int
	Topic    string
}

// NickServ holds services credentials sent after registration
type NickServ struct {
	Account  string
	Password string
}

// SASL holds PLAIN credentials used during capability negotiation
type SASL struct {
	Account  string
	Password string
}

// NetworkConfig is the per-network connection configuration
type NetworkConfig struct {
	Server       string
	Port         int
	TLS          bool
	Path         string // non-empty selects a WebSocket transport
	Password     string
	Username     string
	Realname     string
	BncName      string
	ShowRaw      bool
	AutoCommands string
	NickServ     *NickServ
	SASL         *SASL
}

var lastBufferID atomic.Int64

// Network is the state of one configured connection. The dispatch engine is
// its only writer; every mutation goes through a method that takes the
// network lock and publishes the change on the event bus afterwards.
type Network struct {
	ID               int64
	Name             string
	Nick             string
	State            ConnState
	Registered       bool
	StateError       string
	LastError        string
	CaptchaResponse  string
	DisconnectedAt   time.Time
	Config           NetworkConfig
	ChannelList      []ChannelListEntry
	ChannelListState ListState

	mu        sync.RWMutex
	casemap   Casemapping
	chanTypes string
	buffers   map[Key]*Buffer
	byID      map[int64]*Buffer
	order     []*Buffer
	users     map[Key]*User
	listCache []ChannelListEntry
	bus       *events.EventBus
	log       zerolog.Logger
}

// NewNetwork creates a network with its server buffer. bus may be nil.
func NewNetwork(id int64, name, nick string, cfg NetworkConfig, bus *events.EventBus) *Network {
	n := &Network{
		ID:               id,
		Name:             name,
		Nick:             nick,
		State:            StateDisconnected,
		Config:           cfg,
		ChannelListState: ListIdle,
		casemap:          CasemapRFC1459,
		chanTypes:        "#&",
		buffers:          make(map[Key]*Buffer),
		byID:             make(map[int64]*Buffer),
		users:            make(map[Key]*User),
		bus:              bus,
		log:              logger.ForNetwork(id, name),
	}
	n.addBufferLocked(constants.ServerBufferName)
	return n
}

func (n *Network) publish(eventType string, data map[string]interface{}) {
	if n.bus == nil {
		return
	}
	data[events.KeyNetworkID] = n.ID
	n.bus.EmitSync(events.Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		Source:    events.EventSourceState,
	})
}

// View runs fn with the network read-locked. Readers outside the dispatch
// goroutine use it to observe a consistent state.
func (n *Network) View(fn func()) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fn()
}

// Update runs fn with the network locked and publishes a network.state event
func (n *Network) Update(fn func(n *Network)) {
	n.mu.Lock()
	fn(n)
	data := map[string]interface{}{
		events.KeyNetwork: n.Name,
		events.KeyState:   string(n.State),
		events.KeyError:   n.StateError,
		events.KeyNick:    n.Nick,
	}
	n.mu.Unlock()

	n.publish(events.EventNetworkState, data)
}

// Settings returns the per-network configuration in effect
func (n *Network) Settings() NetworkConfig {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Config
}

// SetSettings replaces the per-network configuration, e.g. after a reload
func (n *Network) SetSettings(cfg NetworkConfig) {
	n.mu.Lock()
	n.Config = cfg
	n.mu.Unlock()
}

// Casemap returns the casemapping currently in effect
func (n *Network) Casemap() Casemapping {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.casemap
}

// Key canonicalizes name with the network's casemapping
func (n *Network) Key(name string) Key {
	return n.Casemap().Key(name)
}

// SetCasemapping switches the casemapping and rekeys the buffer and user indexes
func (n *Network) SetCasemapping(c Casemapping) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if c == n.casemap {
		return
	}
	n.casemap = c

	n.buffers = make(map[Key]*Buffer, len(n.order))
	for _, b := range n.order {
		n.buffers[c.Key(b.Name)] = b
		members := make(map[Key]*User, len(b.members))
		for _, u := range b.members {
			members[c.Key(u.Nick)] = u
		}
		b.members = members
	}
	users := make(map[Key]*User, len(n.users))
	for _, u := range n.users {
		users[c.Key(u.Nick)] = u
	}
	n.users = users
}

// SetChanTypes sets the channel prefix characters advertised by the server
func (n *Network) SetChanTypes(types string) {
	if types == "" {
		return
	}
	n.mu.Lock()
	n.chanTypes = types
	n.mu.Unlock()
}

// IsChannelName reports whether name starts with a channel prefix
func (n *Network) IsChannelName(name string) bool {
	if name == "" {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return strings.ContainsRune(n.chanTypes, rune(name[0]))
}

// IsSelf reports whether nick is the network's current nick
func (n *Network) IsSelf(nick string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return nick != "" && n.casemap.Equal(nick, n.Nick)
}

func (n *Network) kindFor(name string) BufferKind {
	switch {
	case name == constants.ServerBufferName:
		return BufferServer
	case name == constants.RawBufferName:
		return BufferSpecial
	case name != "" && strings.ContainsRune(n.chanTypes, rune(name[0])):
		return BufferChannel
	default:
		return BufferQuery
	}
}

func (n *Network) addBufferLocked(name string) *Buffer {
	b := &Buffer{
		ID:        lastBufferID.Add(1),
		NetworkID: n.ID,
		Name:      name,
		Kind:      n.kindFor(name),
		Enabled:   true,
		CreatedAt: time.Now(),
		Modes:     make(map[rune]string),
		members:   make(map[Key]*User),
	}
	n.buffers[n.casemap.Key(name)] = b
	n.byID[b.ID] = b
	n.order = append(n.order, b)
	return b
}

// GetOrAddBuffer returns the buffer named name, creating it when absent. The
// kind of a new buffer is inferred from the shape of its name.
func (n *Network) GetOrAddBuffer(name string) *Buffer {
	n.mu.Lock()
	if b, ok := n.buffers[n.casemap.Key(name)]; ok {
		n.mu.Unlock()
		return b
	}
	b := n.addBufferLocked(name)
	view := n.viewLocked(b)
	n.mu.Unlock()

	n.log.Debug().Str("buffer", name).Str("kind", b.Kind.String()).Msg("Buffer created")
	n.publish(events.EventBufferAdded, map[string]interface{}{events.KeyBuffer: view})
	return b
}

// BufferByName returns the buffer named name or ErrNotFound
func (n *Network) BufferByName(name string) (*Buffer, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if b, ok := n.buffers[n.casemap.Key(name)]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("buffer %q: %w", name, ErrNotFound)
}

// BufferByID returns the buffer with the given ID or ErrNotFound
func (n *Network) BufferByID(id int64) (*Buffer, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if b, ok := n.byID[id]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("buffer %d: %w", id, ErrNotFound)
}

// ServerBuffer returns the server console buffer
func (n *Network) ServerBuffer() *Buffer {
	n.mu.RLock()
	b := n.buffers[n.casemap.Key(constants.ServerBufferName)]
	n.mu.RUnlock()
	if b == nil {
		return n.GetOrAddBuffer(constants.ServerBufferName)
	}
	return b
}

// Buffers returns every buffer in creation order
func (n *Network) Buffers() []*Buffer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*Buffer(nil), n.order...)
}

func (n *Network) viewLocked(b *Buffer) BufferView {
	v := BufferView{
		ID:           b.ID,
		Name:         b.Name,
		Kind:         b.Kind,
		Joined:       b.Joined,
		Enabled:      b.Enabled,
		Key:          b.Key,
		Topic:        b.Topic,
		CreatedAt:    b.CreatedAt,
		Modes:        make(map[rune]string, len(b.Modes)),
		Flags:        b.Flags,
		LastPosition: b.LastPosition,
		Members:      make([]string, 0, len(b.members)),
		MessageCount: len(b.Messages),
	}
	for m, p := range b.Modes {
		v.Modes[m] = p
	}
	for _, u := range b.members {
		v.Members = append(v.Members, u.Nick)
	}
	return v
}

// BufferView returns a detached copy of b
func (n *Network) BufferView(b *Buffer) BufferView {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.viewLocked(b)
}

// UpdateBuffer runs fn with the network locked and publishes buffer.updated
func (n *Network) UpdateBuffer(b *Buffer, fn func(b *Buffer)) {
	n.mu.Lock()
	fn(b)
	view := n.viewLocked(b)
	n.mu.Unlock()

	n.publish(events.EventBufferUpdated, map[string]interface{}{events.KeyBuffer: view})
}

// RenameBuffer gives b a new name. It fails when another buffer already owns
// the new name.
func (n *Network) RenameBuffer(b *Buffer, name string) error {
	n.mu.Lock()
	newKey := n.casemap.Key(name)
	if other, ok := n.buffers[newKey]; ok && other != b {
		n.mu.Unlock()
		return fmt.Errorf("failed to rename %q: buffer %q already exists", b.Name, name)
	}
	oldName := b.Name
	delete(n.buffers, n.casemap.Key(oldName))
	b.Name = name
	n.buffers[newKey] = b
	view := n.viewLocked(b)
	n.mu.Unlock()

	n.publish(events.EventBufferRenamed, map[string]interface{}{
		events.KeyBuffer:  view,
		events.KeyOldName: oldName,
	})
	return nil
}

// AddMessage appends msg to b and publishes it. It is the only path that
// produces message records.
func (n *Network) AddMessage(b *Buffer, msg Message) Message {
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	n.mu.Lock()
	b.Messages = append(b.Messages, msg)
	if over := len(b.Messages) - constants.MessageLogLimit; over > 0 {
		b.Messages = append([]Message(nil), b.Messages[over:]...)
	}
	if msg.Type.FromServer() && msg.Time.After(b.LastPosition) {
		b.LastPosition = msg.Time
	}
	name := b.Name
	n.mu.Unlock()

	n.publish(events.EventMessageAdded, map[string]interface{}{
		events.KeyBufferID: b.ID,
		events.KeyBuffer:   name,
		events.KeyMessage:  msg,
	})
	return msg
}

// ChannelListSnapshot returns the published channel list and its state
func (n *Network) ChannelListSnapshot() ([]ChannelListEntry, ListState) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]ChannelListEntry(nil), n.ChannelList...), n.ChannelListState
}

func (n *Network) publishListState() {
	n.mu.RLock()
	data := map[string]interface{}{
		events.KeyState: string(n.ChannelListState),
		events.KeyCount: len(n.ChannelList),
	}
	n.mu.RUnlock()
	n.publish(events.EventChannelListUpdated, data)
}

// StartChannelList begins a new list cycle with an empty cache
func (n *Network) StartChannelList() {
	n.mu.Lock()
	n.listCache = make([]ChannelListEntry, 0)
	n.ChannelListState = ListUpdating
	n.mu.Unlock()
	n.publishListState()
}

// AppendChannelList adds entries to the transient cache. Entries for the
// hidden channel marker "*" are dropped. Nothing is published until
// EndChannelList.
func (n *Network) AppendChannelList(entries []ChannelListEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.ChannelListState = ListUpdating
	for _, e := range entries {
		if e.Channel == "*" {
			continue
		}
		n.listCache = append(n.listCache, e)
	}
}

// EndChannelList publishes the cached entries as the channel list
func (n *Network) EndChannelList() {
	n.mu.Lock()
	n.ChannelList = n.listCache
	if n.ChannelList == nil {
		n.ChannelList = make([]ChannelListEntry, 0)
	}
	n.listCache = nil
	n.ChannelListState = ListUpdated
	n.mu.Unlock()
	n.publishListState()
}
