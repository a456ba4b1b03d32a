package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matt0x6f/ircsync/internal/config"
	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/history"
	"github.com/matt0x6f/ircsync/internal/lifecycle"
	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/matt0x6f/ircsync/internal/modes"
	"github.com/matt0x6f/ircsync/internal/state"
	"github.com/rs/zerolog"
)

// Sender issues outgoing protocol commands. Calls never block on a reply.
type Sender interface {
	Raw(command string, params ...string)
	Join(channel, key string)
	Who(target string)
	ChangeNick(nick string)
	CtcpResponse(nick, ctcpType, body string)
	Say(target, text string)
}

// ServerInfo exposes what the server advertised about itself
type ServerInfo interface {
	Supports(feature string) bool
	NetworkName() string
	Prefixes() modes.PrefixTable
	ChanTypes() string
	Casemapping() string
	CurrentNick() string
}

// Result is returned by hooks
type Result int

const (
	// Unhandled lets built-in processing continue
	Unhandled Result = iota
	// Handled stops built-in processing of the event
	Handled
)

// Hook sees every event before the engine does
type Hook interface {
	HandleEvent(n *state.Network, ev Event) Result
}

// HookFunc adapts a function to the Hook interface
type HookFunc func(n *state.Network, ev Event) Result

// HandleEvent calls f(n, ev)
func (f HookFunc) HandleEvent(n *state.Network, ev Event) Result {
	return f(n, ev)
}

// Options are the optional collaborators of an Engine
type Options struct {
	Settings      config.Provider
	Active        state.ActiveBufferProvider
	Hooks         []Hook
	CommandRunner lifecycle.CommandRunner
	Now           func() time.Time
}

// Engine applies events of one network to its state, in arrival order
type Engine struct {
	mu        sync.Mutex
	network   *state.Network
	send      Sender
	info      ServerInfo
	settings  config.Provider
	active    state.ActiveBufferProvider
	hooks     []Hook
	lifecycle *lifecycle.Controller
	history   *history.Coordinator
	now       func() time.Time
	log       zerolog.Logger
}

// NewEngine creates the engine of network n
func NewEngine(n *state.Network, send Sender, info ServerInfo, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Settings == nil {
		opts.Settings = config.Static{}
	}

	lcOpts := []lifecycle.Option{
		lifecycle.WithClock(opts.Now),
		lifecycle.WithActiveBuffer(opts.Active),
	}
	if opts.CommandRunner != nil {
		lcOpts = append(lcOpts, lifecycle.WithCommandRunner(opts.CommandRunner))
	}

	return &Engine{
		network:   n,
		send:      send,
		info:      info,
		settings:  opts.Settings,
		active:    opts.Active,
		hooks:     opts.Hooks,
		lifecycle: lifecycle.NewController(n, opts.Settings, send, lcOpts...),
		history:   history.NewCoordinator(n, send, opts.Now),
		now:       opts.Now,
		log:       logger.ForComponent(logger.ForNetwork(n.ID, n.Name), "dispatch"),
	}
}

// Network returns the network the engine maintains
func (e *Engine) Network() *state.Network {
	return e.network
}

// Lifecycle returns the connection lifecycle controller
func (e *Engine) Lifecycle() *lifecycle.Controller {
	return e.lifecycle
}

// AddHook appends a pre-processing hook
func (e *Engine) AddHook(h Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, h)
}

// RequestModes asks for a channel's modes and shows the reply when it arrives
func (e *Engine) RequestModes(channel string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.network.BufferByName(channel)
	if err != nil {
		return fmt.Errorf("failed to request modes: %w", err)
	}
	e.network.UpdateBuffer(b, func(b *state.Buffer) {
		b.Flags.RequestedModes = true
	})
	e.send.Raw("MODE", b.Name)
	return nil
}

func (e *Engine) timeOf(t time.Time) time.Time {
	if t.IsZero() {
		return e.now()
	}
	return t
}

func (e *Engine) isSelf(nick string) bool {
	if nick == "" {
		return false
	}
	if e.network.IsSelf(nick) {
		return true
	}
	return e.network.Casemap().Equal(nick, e.info.CurrentNick())
}

func (e *Engine) addMessage(b *state.Buffer, msg state.Message) {
	e.network.AddMessage(b, msg)
}

// Handle applies one event. Events of a network must be passed in arrival
// order; calls are serialized. The only error returned is fatal to the
// connection.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, h := range e.hooks {
		if h.HandleEvent(e.network, ev) == Handled {
			return nil
		}
	}

	switch ev := ev.(type) {
	case Raw:
		e.onRaw(ev)
	case Connecting:
		e.lifecycle.Connecting()
	case Connected:
		e.lifecycle.Connected()
	case SocketConnected:
		e.lifecycle.SocketConnected()
	case SocketClosed:
		e.lifecycle.Closed(ev.Reason)
	case Registered:
		e.lifecycle.Registered(ev.Nick, ev.Username)
		e.history.Reset()
	case ServerOptions:
		e.onServerOptions()
	case ChannelRedirect:
		e.onChannelRedirect(ev)
	case Unknown:
		e.onUnknown(ev)
	case Message:
		e.onMessage(ev)
	case Wallops:
		e.onWallops(ev)
	case Join:
		e.onJoin(ev)
	case Kick:
		e.onKick(ev)
	case Part:
		e.onPart(ev)
	case Quit:
		e.onQuit(ev)
	case Invite:
		e.onInvite(ev)
	case Account:
		e.network.AddUser(state.UserUpdate{Nick: ev.Nick, Account: state.Str(ev.Account)})
	case Whois:
		e.onWhois(ev)
	case Away:
		e.network.AddUser(state.UserUpdate{Nick: ev.Nick, Away: state.Str(ev.Message)})
	case Back:
		e.network.AddUser(state.UserUpdate{Nick: ev.Nick, Away: state.Str("")})
	case WhoList:
		e.onWhoList(ev)
	case ChannelListStart:
		e.network.StartChannelList()
	case ChannelList:
		e.network.AppendChannelList(ev.Entries)
	case ChannelListEnd:
		e.network.EndChannelList()
	case Motd:
		e.addMessage(e.network.ServerBuffer(), state.Message{
			Time: e.timeOf(ev.Time),
			Body: ev.Text,
			Type: state.MessageMotd,
		})
	case NickInUse:
		return e.lifecycle.NickInUse(ev.Nick)
	case Nick:
		e.onNick(ev)
	case UserList:
		e.onUserList(ev)
	case ChannelInfo:
		e.onChannelInfo(ev)
	case Mode:
		e.onMode(ev)
	case Topic:
		e.onTopic(ev)
	case CTCPRequest:
		e.onCTCP(ev.Nick, ev.Target, ev.Type, ev.Message, ev.Time, true)
	case CTCPResponse:
		e.onCTCP(ev.Nick, ev.Target, ev.Type, ev.Message, ev.Time, false)
	case IRCError:
		e.onError(ev)
	case Control:
		// Transport signaling, never shown
	default:
		e.log.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("Unhandled event kind")
	}
	return nil
}

func (e *Engine) onRaw(ev Raw) {
	if !e.network.Settings().ShowRaw && !e.settings.Global().ShowRaw {
		return
	}
	prefix := "[C] "
	if ev.FromServer {
		prefix = "[S] "
	}
	b := e.network.GetOrAddBuffer(constants.RawBufferName)
	e.addMessage(b, state.Message{
		Time: e.now(),
		Body: prefix + ev.Line,
		Type: state.MessageRaw,
	})
}

func (e *Engine) onServerOptions() {
	n := e.network
	if name := e.info.NetworkName(); name != "" && name != n.Name && n.Name != constants.BouncerControlNetwork {
		n.Update(func(n *state.Network) { n.Name = name })
	}
	n.SetCasemapping(state.ParseCasemapping(e.info.Casemapping()))
	n.SetChanTypes(e.info.ChanTypes())

	e.history.ServerOptions(e.info.Supports("chathistory"), e.lifecycle.Connects())
}

func (e *Engine) onChannelRedirect(ev ChannelRedirect) {
	b, err := e.network.BufferByName(ev.From)
	if err != nil {
		return
	}
	e.network.UpdateBuffer(b, func(b *state.Buffer) {
		b.Flags.RedirectTo = ev.To
	})
}
