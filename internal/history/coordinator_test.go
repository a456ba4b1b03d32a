package history

import (
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/matt0x6f/ircsync/internal/state"
)

type rawRecorder struct {
	lines []string
}

func (r *rawRecorder) Raw(command string, params ...string) {
	r.lines = append(r.lines, command+" "+strings.Join(params, " "))
}

var now = time.Date(2024, 5, 1, 12, 30, 15, 250_000_000, time.UTC)

func setup() (*Coordinator, *state.Network, *rawRecorder) {
	n := state.NewNetwork(1, "net", "me", state.NetworkConfig{}, nil)
	n.GetOrAddBuffer("#a")
	n.GetOrAddBuffer("#b")
	n.GetOrAddBuffer("*raw")
	rec := &rawRecorder{}
	return NewCoordinator(n, rec, func() time.Time { return now }), n, rec
}

func TestFormatTimestamp(t *testing.T) {
	local := time.FixedZone("x", 3600)
	assert.Equal(t, "2024-05-01T12:30:15.250Z", FormatTimestamp(now.In(local)))
}

func TestFirstConnectRequestsLatest(t *testing.T) {
	c, _, rec := setup()

	assert.Equal(t, PolicyLatest, c.ServerOptions(true, 1))
	assert.Equal(t, []string{
		"CHATHISTORY #a timestamp=2024-05-01T12:30:15.250Z message_count=-50",
		"CHATHISTORY #b timestamp=2024-05-01T12:30:15.250Z message_count=-50",
	}, rec.lines)
}

func TestReconnectRequestsForward(t *testing.T) {
	c, n, rec := setup()
	a, _ := n.BufferByName("#a")
	last := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	n.AddMessage(a, state.Message{Time: last, Nick: "bob", Body: "hi", Type: state.MessagePrivmsg})
	dropped := time.Date(2024, 5, 1, 11, 5, 0, 0, time.UTC)
	n.Update(func(n *state.Network) { n.DisconnectedAt = dropped })

	assert.Equal(t, PolicyForward, c.ServerOptions(true, 2))
	assert.Equal(t, []string{
		"CHATHISTORY #a timestamp=2024-05-01T11:00:00.000Z message_count=50",
		"CHATHISTORY #b timestamp=2024-05-01T11:05:00.000Z message_count=50",
	}, rec.lines)
	for _, l := range rec.lines {
		assert.Equal(t, false, strings.Contains(l, "message_count=-"))
	}
}

func TestOncePerAttempt(t *testing.T) {
	c, _, rec := setup()

	assert.Equal(t, PolicyLatest, c.ServerOptions(true, 1))
	assert.Equal(t, PolicyNone, c.ServerOptions(true, 1))
	assert.Equal(t, 2, len(rec.lines))

	c.Reset()
	assert.Equal(t, PolicyForward, c.ServerOptions(true, 2))
	assert.Equal(t, PolicyNone, c.ServerOptions(true, 2))
	assert.Equal(t, 4, len(rec.lines))
}

func TestRequiresCapability(t *testing.T) {
	c, _, rec := setup()

	assert.Equal(t, PolicyNone, c.ServerOptions(false, 1))
	assert.Equal(t, false, c.Requested())
	assert.Equal(t, 0, len(rec.lines))

	assert.Equal(t, PolicyLatest, c.ServerOptions(true, 1))
}

func TestNothingBeforeRegistration(t *testing.T) {
	c, _, rec := setup()
	assert.Equal(t, PolicyNone, c.ServerOptions(true, 0))
	assert.Equal(t, 0, len(rec.lines))
}
