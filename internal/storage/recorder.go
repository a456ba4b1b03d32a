package storage

import (
	"strings"
	"sync"

	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/events"
	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/matt0x6f/ircsync/internal/state"
	"github.com/rs/zerolog"
)

type bufferRef struct {
	networkID int64
	name      string
}

// Recorder persists state changes published on the event bus: message
// records, buffer settings and network nicks
type Recorder struct {
	storage *Storage
	log     zerolog.Logger

	mu    sync.Mutex
	saved map[bufferRef]Buffer
}

// NewRecorder creates a recorder writing to s
func NewRecorder(s *Storage) *Recorder {
	return &Recorder{
		storage: s,
		log:     logger.ForComponent(logger.Log, "recorder"),
		saved:   make(map[bufferRef]Buffer),
	}
}

// Subscribe registers the recorder for every event type it persists
func (r *Recorder) Subscribe(bus *events.EventBus) {
	for _, t := range []string{
		events.EventMessageAdded,
		events.EventBufferAdded,
		events.EventBufferUpdated,
		events.EventBufferRenamed,
		events.EventNetworkState,
	} {
		bus.Subscribe(t, r)
	}
}

// OnEvent implements events.Subscriber
func (r *Recorder) OnEvent(ev events.Event) {
	networkID, _ := ev.Data[events.KeyNetworkID].(int64)

	switch ev.Type {
	case events.EventMessageAdded:
		name, _ := ev.Data[events.KeyBuffer].(string)
		msg, ok := ev.Data[events.KeyMessage].(state.Message)
		if !ok || name == constants.RawBufferName {
			return
		}
		if err := r.storage.WriteMessage(NewMessage(networkID, name, msg)); err != nil {
			r.log.Warn().Err(err).Int64("network_id", networkID).Str("buffer", name).Msg("Failed to store message")
		}

	case events.EventBufferAdded, events.EventBufferUpdated:
		view, ok := ev.Data[events.KeyBuffer].(state.BufferView)
		if !ok {
			return
		}
		r.saveBuffer(networkID, view)

	case events.EventBufferRenamed:
		view, ok := ev.Data[events.KeyBuffer].(state.BufferView)
		oldName, _ := ev.Data[events.KeyOldName].(string)
		if !ok || oldName == "" {
			return
		}
		r.renameBuffer(networkID, oldName, view)

	case events.EventNetworkState:
		name, _ := ev.Data[events.KeyNetwork].(string)
		nick, _ := ev.Data[events.KeyNick].(string)
		if err := r.storage.UpsertNetwork(&Network{ID: networkID, Name: name, Nick: nick}); err != nil {
			r.log.Warn().Err(err).Int64("network_id", networkID).Msg("Failed to store network")
		}
	}
}

// persisted reports whether a buffer of this kind is kept across restarts
func persisted(kind state.BufferKind) bool {
	return kind == state.BufferChannel || kind == state.BufferQuery
}

func (r *Recorder) saveBuffer(networkID int64, view state.BufferView) {
	if !persisted(view.Kind) {
		return
	}
	row := Buffer{
		NetworkID:  networkID,
		Name:       view.Name,
		Enabled:    view.Enabled,
		ChannelKey: view.Key,
		Topic:      view.Topic,
	}
	ref := bufferRef{networkID, strings.ToLower(view.Name)}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Most buffer updates touch only members or modes
	if prev, ok := r.saved[ref]; ok && prev == row {
		return
	}
	if err := r.storage.UpsertBuffer(&row); err != nil {
		r.log.Warn().Err(err).Int64("network_id", networkID).Str("buffer", view.Name).Msg("Failed to store buffer")
		return
	}
	r.saved[ref] = row
}

func (r *Recorder) renameBuffer(networkID int64, oldName string, view state.BufferView) {
	r.mu.Lock()
	delete(r.saved, bufferRef{networkID, strings.ToLower(oldName)})
	r.mu.Unlock()

	if err := r.storage.RenameBuffer(networkID, oldName, view.Name); err != nil {
		r.log.Warn().Err(err).Int64("network_id", networkID).Str("buffer", oldName).Msg("Failed to rename stored buffer")
	}
	r.saveBuffer(networkID, view)
}
