package irc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/dispatch"
	"github.com/matt0x6f/ircsync/internal/lifecycle"
	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/matt0x6f/ircsync/internal/modes"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrServerClosed is returned when the server ends the connection with ERROR
var ErrServerClosed = errors.New("closed by server")

const outCapacity = 256

// Capabilities requested when offered
var wantedCaps = []string{
	"account-notify",
	"away-notify",
	"batch",
	"chathistory",
	"draft/chathistory",
	"extended-join",
	"message-tags",
	"multi-prefix",
	"server-time",
	"userhost-in-names",
}

// Handler receives the events of a connection in arrival order
type Handler interface {
	Handle(ctx context.Context, ev dispatch.Event) error
}

// Client is the transport of one network. It implements dispatch.Sender and
// dispatch.ServerInfo, and feeds every received line to a Handler.
type Client struct {
	dial       Dialer
	support    *support
	translator *translator
	lim        *rate.Limiter
	log        zerolog.Logger

	mu  sync.Mutex
	out chan string

	echoMu sync.Mutex
	echo   []string

	// Registration state, only touched by the reader goroutine
	params    lifecycle.Params
	capLS     []string
	capEnded  bool
	saslMechs string
	saslMech  string
	scram     *scram
	nonce     func() string

	connected atomic.Bool
	lastRead  atomic.Int64
	lastPing  atomic.Int64
}

// Option configures a Client
type Option func(*Client)

// WithDialer replaces Dial
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithSendRate sets the outgoing line throttle
func WithSendRate(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.lim = rate.NewLimiter(limit, burst) }
}

// NewClient creates the transport of network networkID
func NewClient(networkID int64, name string, opts ...Option) *Client {
	s := newSupport()
	c := &Client{
		dial:       Dial,
		support:    s,
		translator: newTranslator(s),
		lim:        rate.NewLimiter(rate.Limit(constants.SendRate), constants.SendBurst),
		log:        logger.ForComponent(logger.ForNetwork(networkID, name), "irc"),
		nonce:      newNonce,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether a connection is open
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run performs one connection attempt with p and blocks until the
// connection ends. A closed event is always delivered to h before it
// returns.
func (c *Client) Run(ctx context.Context, p lifecycle.Params, h Handler) error {
	c.support.reset(p.Nick, p.Username)
	c.translator.reset()
	c.params = p
	c.capLS = nil
	c.capEnded = false
	c.saslMechs = ""
	c.saslMech = ""
	c.scram = nil

	if err := h.Handle(ctx, dispatch.Connecting{}); err != nil {
		return err
	}

	c.log.Info().Str("addr", p.Addr()).Bool("tls", p.TLS).Str("path", p.Path).Msg("Dialing")
	conn, err := c.dial(ctx, p)
	if err != nil {
		c.closed(ctx, h, err.Error())
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan string, outCapacity)
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
	c.connected.Store(true)
	c.lastRead.Store(time.Now().UnixNano())

	writerDone := make(chan struct{})
	go c.writeLoop(ctx, conn, out, writerDone)

	err = h.Handle(ctx, dispatch.SocketConnected{})
	if err == nil {
		c.register(p)
		err = c.readLoop(ctx, conn, h)
	}

	cancel()
	conn.Close()
	<-writerDone

	c.mu.Lock()
	c.out = nil
	c.mu.Unlock()
	c.connected.Store(false)

	reason := ""
	if err != nil && !errors.Is(err, context.Canceled) {
		reason = err.Error()
	}
	c.closed(ctx, h, reason)
	return err
}

// closed delivers the closed event even when ctx is already cancelled
func (c *Client) closed(ctx context.Context, h Handler, reason string) {
	c.log.Info().Str("reason", reason).Msg("Connection closed")
	if err := h.Handle(context.WithoutCancel(ctx), dispatch.SocketClosed{Reason: reason}); err != nil {
		c.log.Warn().Err(err).Msg("Failed to handle connection close")
	}
}

func (c *Client) register(p lifecycle.Params) {
	c.Raw("CAP", "LS", "302")
	if p.Password != "" {
		c.Raw("PASS", p.Password)
	}
	c.Raw("NICK", p.Nick)
	c.Raw("USER", p.Username, "0", "*", p.Realname)
}

func (c *Client) readLoop(ctx context.Context, conn LineConn, h Handler) error {
	// A server that never answers registration times out like an idle one
	conn.SetReadDeadline(time.Now().Add(constants.KeepAlive + constants.MaxRTT))
	for {
		line, err := conn.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		now := time.Now()
		c.lastRead.Store(now.UnixNano())
		conn.SetReadDeadline(now.Add(constants.KeepAlive + constants.MaxRTT))

		if err := h.Handle(ctx, dispatch.Raw{Line: line, FromServer: true}); err != nil {
			return err
		}

		msg, err := ircmsg.ParseLine(line)
		if err != nil {
			c.log.Debug().Err(err).Str("line", line).Msg("Dropping unparsable line")
			continue
		}

		evs, err := c.process(msg)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			if err := h.Handle(ctx, ev); err != nil {
				return err
			}
		}
		if err := c.flushEcho(ctx, h); err != nil {
			return err
		}
	}
}

// writeLoop sends queued lines at the configured rate and keeps an idle
// connection alive with PINGs
func (c *Client) writeLoop(ctx context.Context, conn LineConn, out <-chan string, done chan<- struct{}) {
	defer close(done)

	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case line := <-out:
			if err := c.lim.Wait(ctx); err != nil {
				return
			}
			if err := conn.WriteLine(line); err != nil {
				c.log.Warn().Err(err).Msg("Write failed")
				conn.Close()
				return
			}
		case now := <-t.C:
			last := c.lastRead.Load()
			if ping := c.lastPing.Load(); ping > last {
				last = ping
			}
			if now.Sub(time.Unix(0, last)) < constants.KeepAlive {
				continue
			}
			c.lastPing.Store(now.UnixNano())
			if err := conn.WriteLine("PING ircsync"); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// process handles connection-level lines itself and translates the rest
func (c *Client) process(msg ircmsg.Message) ([]dispatch.Event, error) {
	switch msg.Command {
	case "PING":
		c.Raw("PONG", msg.Params...)
		return nil, nil
	case "ERROR":
		return nil, fmt.Errorf("%w: %s", ErrServerClosed, lastParam(msg))
	case "CAP":
		c.handleCap(msg)
		return nil, nil
	case "AUTHENTICATE":
		return c.handleAuthenticate(msg), nil
	case "900", "901":
		c.log.Info().Str("account", param(msg, 2)).Msg(lastParam(msg))
		return nil, nil
	case "903", "907":
		c.endCap()
		return nil, nil
	case "904":
		if c.saslMech != "" && c.saslMech != mechPlain && offersMechanism(c.saslMechs, mechPlain) {
			c.log.Info().Str("mechanism", c.saslMech).Msg("SASL failed, falling back to PLAIN")
			c.startSASL(mechPlain)
			return nil, nil
		}
		c.endCap()
		return []dispatch.Event{dispatch.IRCError{Error: "sasl_failed", Reason: lastParam(msg)}}, nil
	case "902", "905", "906", "908":
		c.endCap()
		if msg.Command == "908" || msg.Command == "906" {
			return nil, nil
		}
		return []dispatch.Event{dispatch.IRCError{Error: "sasl_failed", Reason: lastParam(msg)}}, nil
	}
	return c.translator.translate(msg), nil
}

func capName(c string) string {
	name, _, _ := strings.Cut(c, "=")
	return strings.ToLower(name)
}

func (c *Client) handleCap(msg ircmsg.Message) {
	caps := strings.Fields(lastParam(msg))

	switch strings.ToUpper(param(msg, 1)) {
	case "LS":
		c.capLS = append(c.capLS, caps...)
		c.noteSASLMechs(caps)
		// CAP * LS * :<caps> announces more lines
		if len(msg.Params) > 3 && msg.Params[2] == "*" {
			return
		}
		c.requestCaps(c.capLS, true)
	case "NEW":
		c.noteSASLMechs(caps)
		c.requestCaps(caps, false)
	case "ACK":
		c.support.ackCaps(caps)
		for _, name := range caps {
			if capName(name) == "sasl" && c.params.SASLAccount != "" {
				c.startSASL(chooseMechanism(c.saslMechs))
				return
			}
		}
		c.endCap()
	case "NAK":
		c.endCap()
	case "DEL":
		for i, name := range caps {
			caps[i] = "-" + name
		}
		c.support.ackCaps(caps)
	}
}

func (c *Client) requestCaps(offered []string, end bool) {
	available := make(map[string]bool, len(offered))
	for _, o := range offered {
		available[capName(o)] = true
	}

	var req []string
	for _, w := range wantedCaps {
		if available[w] {
			req = append(req, w)
		}
	}
	if available["sasl"] && c.params.SASLAccount != "" {
		req = append(req, "sasl")
	}

	if len(req) == 0 {
		if end {
			c.endCap()
		}
		return
	}
	c.log.Debug().Strs("caps", req).Msg("Requesting capabilities")
	c.Raw("CAP", "REQ", strings.Join(req, " "))
}

func (c *Client) endCap() {
	if c.capEnded {
		return
	}
	c.capEnded = true
	c.Raw("CAP", "END")
}

// noteSASLMechs keeps the mechanism list of an offered sasl capability
func (c *Client) noteSASLMechs(caps []string) {
	for _, o := range caps {
		if name, value, _ := strings.Cut(o, "="); strings.EqualFold(name, "sasl") {
			c.saslMechs = value
		}
	}
}

func (c *Client) startSASL(mechanism string) {
	c.saslMech = mechanism
	c.scram = nil
	if mechanism != mechPlain {
		s, err := newSCRAM(mechanism, c.params.SASLAccount, c.params.SASLPassword, c.nonce())
		if err != nil {
			c.log.Warn().Err(err).Msg("Cannot start SASL")
			c.saslMech = mechPlain
		} else {
			c.scram = s
		}
	}
	c.log.Debug().Str("mechanism", c.saslMech).Msg("Starting SASL")
	c.Raw("AUTHENTICATE", c.saslMech)
}

// handleAuthenticate answers the challenges of the running mechanism
func (c *Client) handleAuthenticate(msg ircmsg.Message) []dispatch.Event {
	challenge := param(msg, 0)
	if c.scram == nil {
		if challenge == "+" {
			c.sendAuthenticate(fmt.Sprintf("\x00%s\x00%s", c.params.SASLAccount, c.params.SASLPassword))
		}
		return nil
	}

	if c.scram.clientFirstBare == "" {
		c.sendAuthenticate(c.scram.clientFirst())
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(challenge)
	if err != nil {
		return c.abortSASL("invalid server response")
	}
	if c.scram.serverKey == nil {
		final, err := c.scram.clientFinal(string(data))
		if err != nil {
			return c.abortSASL(err.Error())
		}
		c.sendAuthenticate(final)
		return nil
	}
	if err := c.scram.verify(string(data)); err != nil {
		return c.abortSASL(err.Error())
	}
	c.Raw("AUTHENTICATE", "+")
	return nil
}

// sendAuthenticate sends a SASL payload, split in 400 byte chunks
func (c *Client) sendAuthenticate(payload string) {
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	for len(encoded) >= 400 {
		c.Raw("AUTHENTICATE", encoded[:400])
		encoded = encoded[400:]
	}
	if encoded == "" {
		encoded = "+"
	}
	c.Raw("AUTHENTICATE", encoded)
}

func (c *Client) abortSASL(reason string) []dispatch.Event {
	c.log.Warn().Str("mechanism", c.saslMech).Str("reason", reason).Msg("Aborting SASL")
	c.scram = nil
	c.Raw("AUTHENTICATE", "*")
	c.endCap()
	return []dispatch.Event{dispatch.IRCError{Error: "sasl_failed", Reason: reason}}
}

func (c *Client) flushEcho(ctx context.Context, h Handler) error {
	c.echoMu.Lock()
	lines := c.echo
	c.echo = nil
	c.echoMu.Unlock()

	for _, line := range lines {
		if err := h.Handle(ctx, dispatch.Raw{Line: line}); err != nil {
			return err
		}
	}
	return nil
}

// send queues one line without waiting. Lines sent while disconnected, or
// while the queue is full, are dropped.
func (c *Client) send(command string, params ...string) {
	msg := ircmsg.MakeMessage(nil, "", command, params...)
	line, err := msg.Line()
	if err != nil {
		c.log.Warn().Err(err).Str("command", command).Msg("Invalid outgoing line")
		return
	}
	line = strings.TrimRight(line, "\r\n")

	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		c.log.Debug().Str("command", command).Msg("Not connected, dropping line")
		return
	}
	select {
	case out <- line:
	default:
		c.log.Warn().Str("command", command).Msg("Send queue full, dropping line")
		return
	}

	c.echoMu.Lock()
	c.echo = append(c.echo, line)
	c.echoMu.Unlock()
}

// Raw sends a command with its parameters
func (c *Client) Raw(command string, params ...string) {
	c.send(command, params...)
}

// Join joins channel, with key when non-empty
func (c *Client) Join(channel, key string) {
	if key == "" {
		c.send("JOIN", channel)
		return
	}
	c.send("JOIN", channel, key)
}

// Who requests the WHO list of target
func (c *Client) Who(target string) {
	c.send("WHO", target)
}

// ChangeNick requests a new nick
func (c *Client) ChangeNick(nick string) {
	c.send("NICK", nick)
}

// CtcpResponse answers a CTCP request
func (c *Client) CtcpResponse(nick, ctcpType, body string) {
	c.send("NOTICE", nick, "\x01"+ctcpType+" "+body+"\x01")
}

// Say sends a PRIVMSG
func (c *Client) Say(target, text string) {
	c.send("PRIVMSG", target, text)
}

// Quit asks the server to close the connection
func (c *Client) Quit(reason string) {
	c.send("QUIT", reason)
}

// Supports reports a negotiated capability or ISUPPORT token
func (c *Client) Supports(feature string) bool {
	return c.support.supports(feature)
}

// NetworkName returns the NETWORK ISUPPORT token
func (c *Client) NetworkName() string {
	name, _ := c.support.token("NETWORK")
	return name
}

// Prefixes returns the PREFIX table
func (c *Client) Prefixes() modes.PrefixTable {
	return c.support.prefixTable()
}

// ChanTypes returns the channel type characters
func (c *Client) ChanTypes() string {
	return c.support.chanTypes()
}

// Casemapping returns the CASEMAPPING ISUPPORT token
func (c *Client) Casemapping() string {
	v, _ := c.support.token("CASEMAPPING")
	return v
}

// CurrentNick returns the nick the server knows us by
func (c *Client) CurrentNick() string {
	return c.support.currentNick()
}

// Params returns the parameters of the next connection attempt
type Params func() lifecycle.Params

// Supervise reconnects after every closed connection until ctx is done or
// the handler reports a fatal error
func (c *Client) Supervise(ctx context.Context, params Params, h Handler, delay time.Duration) error {
	for {
		err := c.Run(ctx, params(), h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, lifecycle.ErrNickRetriesExhausted) {
			return err
		}
		c.log.Info().Err(err).Dur("delay", delay).Msg("Reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
