package history

import (
	"strconv"
	"time"

	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/matt0x6f/ircsync/internal/state"
	"github.com/rs/zerolog"
)

// Policy is the backfill strategy chosen for a connection attempt
type Policy int

const (
	// PolicyNone means no history was requested
	PolicyNone Policy = iota
	// PolicyLatest requests the most recent messages of every buffer
	PolicyLatest
	// PolicyForward requests everything after each buffer's last position
	PolicyForward
)

func (p Policy) String() string {
	switch p {
	case PolicyLatest:
		return "latest"
	case PolicyForward:
		return "forward"
	default:
		return "none"
	}
}

// Commander sends raw protocol commands
type Commander interface {
	Raw(command string, params ...string)
}

// Coordinator requests CHATHISTORY backfill at most once per connection attempt
type Coordinator struct {
	network   *state.Network
	cmds      Commander
	now       func() time.Time
	requested bool
	log       zerolog.Logger
}

// NewCoordinator creates a coordinator for n. now may be nil.
func NewCoordinator(n *state.Network, cmds Commander, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		network: n,
		cmds:    cmds,
		now:     now,
		log:     logger.ForComponent(logger.ForNetwork(n.ID, n.Name), "history"),
	}
}

// Reset re-arms the coordinator for a new connection attempt
func (c *Coordinator) Reset() {
	c.requested = false
}

// Requested reports whether history was already requested this attempt
func (c *Coordinator) Requested() bool {
	return c.requested
}

// FormatTimestamp renders t the way CHATHISTORY expects it
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ServerOptions runs once server options are known. supported reports the
// chathistory capability; attempt is the number of completed registrations.
func (c *Coordinator) ServerOptions(supported bool, attempt int) Policy {
	if !supported || c.requested || attempt < 1 {
		return PolicyNone
	}
	c.requested = true

	policy := PolicyLatest
	if attempt > 1 {
		policy = PolicyForward
	}

	now := c.now()
	count := 0
	for _, b := range c.network.Buffers() {
		if !b.IsChannel() && !b.IsQuery() {
			continue
		}
		if policy == PolicyLatest {
			c.request(b.Name, now, -constants.HistoryInitialCount)
		} else {
			c.request(b.Name, c.anchor(b, now), constants.HistoryForwardCount)
		}
		count++
	}

	c.log.Debug().Str("policy", policy.String()).Int("buffers", count).Int("attempt", attempt).Msg("Requested history")
	return policy
}

// anchor is where forward scrollback starts: the buffer's newest server
// message, else the moment the connection dropped
func (c *Coordinator) anchor(b *state.Buffer, now time.Time) time.Time {
	if !b.LastPosition.IsZero() {
		return b.LastPosition
	}
	if !c.network.DisconnectedAt.IsZero() {
		return c.network.DisconnectedAt
	}
	return now
}

func (c *Coordinator) request(target string, at time.Time, count int) {
	c.cmds.Raw("CHATHISTORY", target, "timestamp="+FormatTimestamp(at), "message_count="+strconv.Itoa(count))
}
