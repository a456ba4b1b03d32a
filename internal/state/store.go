package state

import (
	"fmt"
	"sync"

	"github.com/matt0x6f/ircsync/internal/events"
)

// Store is the registry of networks. Networks own disjoint state, so the
// store lock only guards the registry itself.
type Store struct {
	mu       sync.RWMutex
	networks map[int64]*Network
	order    []int64
	bus      *events.EventBus

	activeNetwork int64
	activeBuffer  string
}

// ActiveBufferProvider reports the buffer the user is currently looking at
type ActiveBufferProvider interface {
	ActiveBuffer() (networkID int64, name string, ok bool)
}

// NewStore creates an empty store publishing on bus
func NewStore(bus *events.EventBus) *Store {
	return &Store{
		networks: make(map[int64]*Network),
		bus:      bus,
	}
}

// AddNetwork registers a new network
func (s *Store) AddNetwork(id int64, name, nick string, cfg NetworkConfig) (*Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.networks[id]; ok {
		return nil, fmt.Errorf("network %d already exists", id)
	}
	n := NewNetwork(id, name, nick, cfg, s.bus)
	s.networks[id] = n
	s.order = append(s.order, id)
	return n, nil
}

// Network returns the network with the given ID or ErrNotFound
func (s *Store) Network(id int64) (*Network, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.networks[id]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("network %d: %w", id, ErrNotFound)
}

// Networks returns every network in registration order
func (s *Store) Networks() []*Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Network, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.networks[id])
	}
	return out
}

// RemoveNetwork drops a network and all of its state
func (s *Store) RemoveNetwork(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.networks[id]; !ok {
		return fmt.Errorf("network %d: %w", id, ErrNotFound)
	}
	delete(s.networks, id)
	for i, nid := range s.order {
		if nid == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetActiveBuffer records the buffer the presentation layer is showing
func (s *Store) SetActiveBuffer(networkID int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeNetwork = networkID
	s.activeBuffer = name
}

// ActiveBuffer returns the buffer set by SetActiveBuffer
func (s *Store) ActiveBuffer() (int64, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeNetwork, s.activeBuffer, s.activeBuffer != ""
}

// ActiveBufferOn returns the active buffer when it belongs to n
func ActiveBufferOn(p ActiveBufferProvider, n *Network) (*Buffer, bool) {
	if p == nil {
		return nil, false
	}
	networkID, name, ok := p.ActiveBuffer()
	if !ok || networkID != n.ID {
		return nil, false
	}
	b, err := n.BufferByName(name)
	if err != nil {
		return nil, false
	}
	return b, true
}
