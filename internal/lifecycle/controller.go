package lifecycle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matt0x6f/ircsync/internal/config"
	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/matt0x6f/ircsync/internal/state"
	"github.com/rs/zerolog"
)

// ErrNickRetriesExhausted is returned once every automatic nick retry
// during registration has collided
var ErrNickRetriesExhausted = errors.New("nick retries exhausted")

// Commander issues the outgoing commands the controller needs
type Commander interface {
	Raw(command string, params ...string)
	Join(channel, key string)
	ChangeNick(nick string)
	Say(target, text string)
}

// CommandRunner executes a user command line such as "/mode me +i"
type CommandRunner func(line string)

// Params are the effective connection parameters of one attempt
type Params struct {
	Host     string
	Port     int
	TLS      bool
	Path     string
	Nick     string
	Username string
	Realname string
	Password string

	// SASL PLAIN credentials, empty when not configured
	SASLAccount  string
	SASLPassword string
}

// Addr returns host:port
func (p Params) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Controller tracks the connection lifecycle of one network
type Controller struct {
	network  *state.Network
	settings config.Provider
	cmds     Commander
	run      CommandRunner
	active   state.ActiveBufferProvider
	now      func() time.Time
	log      zerolog.Logger

	connects    int
	nickRetries int
	baseNick    string
}

// Option configures a Controller
type Option func(*Controller)

// WithCommandRunner sets how auto-commands are executed
func WithCommandRunner(run CommandRunner) Option {
	return func(c *Controller) { c.run = run }
}

// WithActiveBuffer sets the active buffer provider
func WithActiveBuffer(p state.ActiveBufferProvider) Option {
	return func(c *Controller) { c.active = p }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller for n. Settings are read from settings
// on every use, never cached.
func NewController(n *state.Network, settings config.Provider, cmds Commander, opts ...Option) *Controller {
	c := &Controller{
		network:  n,
		settings: settings,
		cmds:     cmds,
		now:      time.Now,
		log:      logger.ForComponent(logger.ForNetwork(n.ID, n.Name), "lifecycle"),
	}
	c.run = c.sendRawCommand
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sendRawCommand is the default runner: the line is sent as a raw command
func (c *Controller) sendRawCommand(line string) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return
	}
	c.cmds.Raw(strings.ToUpper(fields[0]), fields[1:]...)
}

// Connects returns how many times registration has completed
func (c *Controller) Connects() int {
	return c.connects
}

func (c *Controller) addLine(b *state.Buffer, typ state.MessageType, extra, body string) {
	c.network.AddMessage(b, state.Message{
		Time:      c.now(),
		Body:      body,
		Type:      typ,
		TypeExtra: extra,
	})
}

// Connecting marks the start of a connection attempt
func (c *Controller) Connecting() {
	c.network.Update(func(n *state.Network) {
		n.State = state.StateConnecting
		n.StateError = ""
		n.LastError = ""
		c.baseNick = n.Nick
	})
	c.nickRetries = 0
	c.log.Info().Msg("Connecting")
}

// Connected marks the transport handshake as complete
func (c *Controller) Connected() {
	c.network.Update(func(n *state.Network) {
		n.State = state.StateConnected
		n.StateError = ""
	})
	for _, b := range c.network.Buffers() {
		c.addLine(b, state.MessageConnection, "connected", "Connected")
	}
	c.log.Info().Msg("Connected")
}

// SocketConnected sends a pending captcha response before registration
func (c *Controller) SocketConnected() {
	if token := c.network.CaptchaResponse; token != "" {
		c.cmds.Raw("CAPTCHA", token)
	}
}

// Closed handles transport closure from any state. Every buffer is forced
// to not-joined with no members.
func (c *Controller) Closed(reason string) {
	now := c.now()
	c.network.Update(func(n *state.Network) {
		n.State = state.StateDisconnected
		n.Registered = false
		n.StateError = reason
		if reason != "" {
			n.LastError = reason
		}
		n.DisconnectedAt = now
	})

	for _, b := range c.network.Buffers() {
		c.network.UpdateBuffer(b, func(b *state.Buffer) {
			b.Joined = false
		})
		c.network.ClearUsers(b)
		c.addLine(b, state.MessageConnection, "disconnected", "Disconnected")
	}
	c.log.Info().Str("reason", reason).Msg("Disconnected")
}

// Registered runs the registration-time actions and returns the attempt number
func (c *Controller) Registered(nick, username string) int {
	cfg := c.refreshSettings()

	if ns := cfg.NickServ; ns != nil && ns.Account != "" && ns.Password != "" {
		c.cmds.Say("nickserv", "identify "+ns.Account+" "+ns.Password)
	}

	c.network.Update(func(n *state.Network) {
		n.Nick = nick
		n.Registered = true
	})
	c.network.AddUser(state.UserUpdate{Nick: nick, Username: state.NonEmpty(username)})

	c.addLine(c.network.ServerBuffer(), state.MessageInfo, "", "Connected to "+c.network.Name)

	c.cmds.Raw("WHO", nick)

	if cfg.AutoCommands != "" {
		for _, line := range strings.Split(cfg.AutoCommands, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line[0] != '/' {
				line = "/" + line
			}
			c.run(line)
		}
	}

	// A bouncer replays the channels it is in, so only join directly
	if cfg.BncName == "" {
		for _, b := range c.network.Buffers() {
			if b.IsChannel() && b.Enabled {
				c.cmds.Join(b.Name, b.Key)
			}
		}
	}

	c.nickRetries = 0
	c.connects++
	c.log.Info().Str("nick", nick).Int("attempt", c.connects).Msg("Registered")
	return c.connects
}

// RetryNick returns the nick tried on the given retry attempt (starting at 1)
func RetryNick(base string, attempt int) string {
	suffix := (attempt-1)%constants.NickSuffixMax + 1
	return base + strconv.Itoa(suffix)
}

// NickInUse handles a nick collision. Before registration a suffixed nick is
// tried, up to constants.NickRetryLimit times; afterwards the collision is
// reported in the active buffer and not retried.
func (c *Controller) NickInUse(nick string) error {
	if c.network.Registered {
		b, ok := state.ActiveBufferOn(c.active, c.network)
		if !ok {
			b = c.network.ServerBuffer()
		}
		c.addLine(b, state.MessageError, "", fmt.Sprintf("The nickname '%s' is already in use!", nick))
		return nil
	}

	c.nickRetries++
	if c.nickRetries > constants.NickRetryLimit {
		err := fmt.Errorf("%w: %d attempts for %q", ErrNickRetriesExhausted, constants.NickRetryLimit, c.baseNick)
		c.addLine(c.network.ServerBuffer(), state.MessageError, "nick_in_use",
			fmt.Sprintf("Could not find a free nickname after %d attempts", constants.NickRetryLimit))
		c.log.Error().Err(err).Msg("Giving up registration")
		return err
	}

	base := c.baseNick
	if base == "" {
		base = nick
	}
	newNick := RetryNick(base, c.nickRetries)
	c.log.Info().Str("nick", nick).Str("retry", newNick).Int("attempt", c.nickRetries).Msg("Nick in use, retrying")
	c.cmds.ChangeNick(newNick)
	return nil
}

// refreshSettings copies the provider's current settings of the network
// into the state so that every reader sees the same values
func (c *Controller) refreshSettings() state.NetworkConfig {
	if fresh, ok := c.settings.Network(c.network.ID); ok {
		c.network.SetSettings(fresh)
		return fresh
	}
	return c.network.Settings()
}

// ConnectParams computes the parameters of the next attempt from the current
// settings. Under an active bouncer the credentials are synthesized from
// the bouncer account and the network's routing name.
func (c *Controller) ConnectParams() Params {
	cfg := c.refreshSettings()
	global := c.settings.Global()

	var nick string
	c.network.View(func() { nick = c.network.Nick })

	realname := cfg.Realname
	if realname == "" {
		realname = constants.DefaultRealname
	}

	bnc := global.Bnc
	if bnc.Active {
		password := fmt.Sprintf("%s/%s:%s", bnc.Username, cfg.BncName, bnc.Password)
		// The control connection authenticates without selecting a network
		if c.network.Name == constants.BouncerControlNetwork {
			password = fmt.Sprintf("%s/__kiwiauth:%s", bnc.Username, bnc.Password)
		}
		return Params{
			Host:     bnc.Server,
			Port:     bnc.Port,
			TLS:      bnc.TLS,
			Nick:     nick,
			Username: bnc.Username,
			Realname: realname,
			Password: password,
		}
	}

	username := cfg.Username
	if username == "" {
		username = nick
	}
	p := Params{
		Host:     cfg.Server,
		Port:     cfg.Port,
		TLS:      cfg.TLS,
		Path:     cfg.Path,
		Nick:     nick,
		Username: username,
		Realname: realname,
		Password: cfg.Password,
	}
	if cfg.SASL != nil {
		p.SASLAccount = cfg.SASL.Account
		p.SASLPassword = cfg.SASL.Password
	}
	return p
}
