package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matt0x6f/ircsync/internal/config"
	"github.com/matt0x6f/ircsync/internal/modes"
	"github.com/matt0x6f/ircsync/internal/state"
)

type fakeSender struct {
	lines []string
}

func (f *fakeSender) Raw(command string, params ...string) {
	f.lines = append(f.lines, strings.TrimSpace(command+" "+strings.Join(params, " ")))
}
func (f *fakeSender) Join(channel, key string) {
	f.lines = append(f.lines, strings.TrimSpace("JOIN "+channel+" "+key))
}
func (f *fakeSender) Who(target string)      { f.lines = append(f.lines, "WHO "+target) }
func (f *fakeSender) ChangeNick(nick string) { f.lines = append(f.lines, "NICK "+nick) }
func (f *fakeSender) CtcpResponse(nick, ctcpType, body string) {
	f.lines = append(f.lines, "CTCP "+nick+" "+ctcpType+" "+body)
}
func (f *fakeSender) Say(target, text string) {
	f.lines = append(f.lines, "PRIVMSG "+target+" :"+text)
}

func (f *fakeSender) withPrefix(prefix string) []string {
	var out []string
	for _, l := range f.lines {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

type fakeInfo struct {
	supports    map[string]bool
	networkName string
	prefixes    modes.PrefixTable
	chanTypes   string
	casemapping string
	nick        string
}

func (f *fakeInfo) Supports(feature string) bool { return f.supports[feature] }
func (f *fakeInfo) NetworkName() string          { return f.networkName }
func (f *fakeInfo) Prefixes() modes.PrefixTable  { return f.prefixes }
func (f *fakeInfo) ChanTypes() string            { return f.chanTypes }
func (f *fakeInfo) Casemapping() string          { return f.casemapping }
func (f *fakeInfo) CurrentNick() string          { return f.nick }

type fakeActive struct {
	networkID int64
	name      string
}

func (a *fakeActive) ActiveBuffer() (int64, string, bool) { return a.networkID, a.name, a.name != "" }

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	engine  *Engine
	network *state.Network
	sender  *fakeSender
	info    *fakeInfo
	active  *fakeActive
	global  *config.GlobalConfig
}

type harnessSettings struct {
	global *config.GlobalConfig
}

func (s harnessSettings) Global() config.GlobalConfig { return *s.global }
func (s harnessSettings) Network(int64) (state.NetworkConfig, bool) {
	return state.NetworkConfig{}, false
}

func newHarness(t *testing.T, cfg state.NetworkConfig) *harness {
	h := &harness{
		t:       t,
		network: state.NewNetwork(1, "testnet", "me", cfg, nil),
		sender:  &fakeSender{},
		info: &fakeInfo{
			supports:  map[string]bool{},
			prefixes:  modes.DefaultPrefixTable(),
			chanTypes: "#&",
			nick:      "me",
		},
		active: &fakeActive{},
		global: &config.GlobalConfig{},
	}
	h.engine = NewEngine(h.network, h.sender, h.info, Options{
		Settings: harnessSettings{global: h.global},
		Active:   h.active,
		Now:      func() time.Time { return testNow },
	})
	return h
}

func (h *harness) handle(evs ...Event) {
	h.t.Helper()
	for _, ev := range evs {
		if err := h.engine.Handle(context.Background(), ev); err != nil {
			h.t.Fatalf("handle %T: %v", ev, err)
		}
	}
}

func (h *harness) buffer(name string) *state.Buffer {
	h.t.Helper()
	b, err := h.network.BufferByName(name)
	if err != nil {
		h.t.Fatalf("buffer %s: %v", name, err)
	}
	return b
}

func (h *harness) last(name string) state.Message {
	h.t.Helper()
	b := h.buffer(name)
	if len(b.Messages) == 0 {
		h.t.Fatalf("buffer %s has no messages", name)
	}
	return b.Messages[len(b.Messages)-1]
}

// joinedChannel puts us in channel with the given other members
func (h *harness) joinedChannel(channel string, nicks ...string) *state.Buffer {
	h.t.Helper()
	h.handle(Join{Nick: "me", Channel: channel})
	for _, nick := range nicks {
		h.handle(Join{Nick: nick, Channel: channel})
	}
	return h.buffer(channel)
}

func totalMessages(n *state.Network) int {
	total := 0
	for _, b := range n.Buffers() {
		total += len(b.Messages)
	}
	return total
}
