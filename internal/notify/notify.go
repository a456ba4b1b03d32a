package notify

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gen2brain/beeep"
	"github.com/matt0x6f/ircsync/internal/config"
	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/events"
	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/matt0x6f/ircsync/internal/state"
	"github.com/rs/zerolog"
)

const (
	maxBodyLength = 100
	queueSize     = 32
)

// SendFunc delivers one desktop notification
type SendFunc func(title, body string) error

// Networks resolves a network by ID
type Networks interface {
	Network(id int64) (*state.Network, error)
}

type notification struct{ title, body string }

// Notifier raises desktop notifications for private messages and for
// channel messages that mention our nick. Notifications are sent from a
// goroutine of their own so a slow desktop never stalls event dispatch.
type Notifier struct {
	networks Networks
	settings config.Provider
	send     SendFunc
	log      zerolog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan notification
	done   chan struct{}
}

// NewNotifier creates a notifier. send may be nil to use beeep.
func NewNotifier(networks Networks, settings config.Provider, send SendFunc) *Notifier {
	if send == nil {
		send = func(title, body string) error {
			return beeep.Notify(title, body, "")
		}
	}
	n := &Notifier{
		networks: networks,
		settings: settings,
		send:     send,
		log:      logger.ForComponent(logger.Log, "notify"),
		queue:    make(chan notification, queueSize),
		done:     make(chan struct{}),
	}
	go n.deliver()
	return n
}

func (n *Notifier) deliver() {
	defer close(n.done)
	for note := range n.queue {
		if err := n.send(note.title, note.body); err != nil {
			n.log.Debug().Err(err).Msg("Failed to send desktop notification")
		}
	}
}

// Close stops accepting notifications and waits for queued ones to be sent
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) enqueue(note notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- note:
	default:
		n.log.Debug().Str("title", note.title).Msg("Notification queue full, dropping")
	}
}

// Subscribe registers the notifier for message records
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventMessageAdded, n)
}

// OnEvent implements events.Subscriber
func (n *Notifier) OnEvent(ev events.Event) {
	if !n.settings.Global().Notify {
		return
	}
	msg, ok := ev.Data[events.KeyMessage].(state.Message)
	if !ok || (msg.Type != state.MessagePrivmsg && msg.Type != state.MessageAction) {
		return
	}
	name, _ := ev.Data[events.KeyBuffer].(string)
	if name == constants.ServerBufferName || name == constants.RawBufferName {
		return
	}
	networkID, _ := ev.Data[events.KeyNetworkID].(int64)
	network, err := n.networks.Network(networkID)
	if err != nil || network.IsSelf(msg.Nick) {
		return
	}

	var title string
	if network.IsChannelName(name) {
		if !mentions(msg.Body, network) {
			return
		}
		title = fmt.Sprintf("%s on %s", name, network.Name)
	} else {
		title = fmt.Sprintf("%s on %s", msg.Nick, network.Name)
	}

	n.enqueue(notification{title: title, body: formatBody(msg)})
}

// mentions reports whether body contains our nick as a whole word
func mentions(body string, network *state.Network) bool {
	var nick string
	network.View(func() { nick = network.Nick })
	if nick == "" {
		return false
	}
	words := strings.FieldsFunc(body, func(r rune) bool {
		return r == ' ' || r == ',' || r == ':' || r == '!' || r == '?' || r == '.'
	})
	for _, w := range words {
		if network.Casemap().Equal(w, nick) {
			return true
		}
	}
	return false
}

func formatBody(msg state.Message) string {
	body := msg.Body
	if len(body) > maxBodyLength {
		cut := maxBodyLength - 3
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	if msg.Type == state.MessageAction {
		return fmt.Sprintf("* %s %s", msg.Nick, body)
	}
	return fmt.Sprintf("%s: %s", msg.Nick, body)
}
