package storage

import (
	"fmt"

	"github.com/matt0x6f/ircsync/internal/state"
)

// Restore loads a network's stored buffers and their recent messages into
// the state store. It runs before the Recorder subscribes so that replayed
// records are not written back.
func Restore(n *state.Network, s *Storage, limit int) error {
	rows, err := s.GetBuffers(n.ID)
	if err != nil {
		return fmt.Errorf("failed to restore buffers of %s: %w", n.Name, err)
	}
	for _, row := range rows {
		row := row
		b := n.GetOrAddBuffer(row.Name)
		n.UpdateBuffer(b, func(b *state.Buffer) {
			b.Enabled = row.Enabled
			b.Key = row.ChannelKey
			b.Topic = row.Topic
		})
	}

	for _, b := range n.Buffers() {
		view := n.BufferView(b)
		if view.Kind == state.BufferSpecial {
			continue
		}

		messages, err := s.GetMessages(n.ID, view.Name, limit)
		if err != nil {
			return fmt.Errorf("failed to restore messages of %s: %w", view.Name, err)
		}
		for _, m := range messages {
			n.AddMessage(b, m.Record())
		}

		// The anchor for forward scrollback may be older than the replayed window
		latest, err := s.LatestByType(n.ID, view.Name)
		if err != nil {
			return fmt.Errorf("failed to restore position of %s: %w", view.Name, err)
		}
		current := n.BufferView(b).LastPosition
		position := current
		for t, at := range latest {
			if state.MessageType(t).FromServer() && at.After(position) {
				position = at
			}
		}
		if position.After(current) {
			n.UpdateBuffer(b, func(b *state.Buffer) {
				if position.After(b.LastPosition) {
					b.LastPosition = position
				}
			})
		}
	}
	return nil
}
