package modes

import (
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/matt0x6f/ircsync/internal/state"
)

func TestParsePrefix(t *testing.T) {
	table, err := ParsePrefix("(qaohv)~&@%+")
	assert.Equal(t, nil, err)
	assert.Equal(t, []rune("qaohv"), table.Modes)

	sym, ok := table.Symbol('h')
	assert.Equal(t, true, ok)
	assert.Equal(t, '%', sym)

	mode, ok := table.ModeForSymbol('~')
	assert.Equal(t, true, ok)
	assert.Equal(t, 'q', mode)

	assert.Equal(t, false, table.IsPrivilege('b'))
	assert.Equal(t, "(qaohv)~&@%+", table.String())

	_, err = ParsePrefix("ov)@+")
	assert.NotEqual(t, nil, err)
}

func TestParseNamesEntry(t *testing.T) {
	table := DefaultPrefixTable()

	nick, modes := table.ParseNamesEntry("@+alice")
	assert.Equal(t, "alice", nick)
	assert.Equal(t, []rune{'o', 'v'}, modes)

	nick, modes = table.ParseNamesEntry("bob")
	assert.Equal(t, "bob", nick)
	assert.Equal(t, 0, len(modes))
}

func TestParseModeString(t *testing.T) {
	deltas := ParseModeString("+ovl-k+b", []string{"alice", "bob", "10", "key", "*!*@bad"}, DefaultChanModes, DefaultPrefixTable())

	assert.Equal(t, []Delta{
		{Adding: true, Mode: 'o', Param: "alice"},
		{Adding: true, Mode: 'v', Param: "bob"},
		{Adding: true, Mode: 'l', Param: "10"},
		{Adding: false, Mode: 'k', Param: "key"},
		{Adding: true, Mode: 'b', Param: "*!*@bad"},
	}, deltas)

	deltas = ParseModeString("-l+n", nil, DefaultChanModes, DefaultPrefixTable())
	assert.Equal(t, []Delta{{Mode: 'l'}, {Adding: true, Mode: 'n'}}, deltas)
}

func TestParseChanModes(t *testing.T) {
	cm := ParseChanModes("beIq,k,flj,CFLMPQScgimnprstz,extra")
	assert.Equal(t, "beIq", cm[0])
	assert.Equal(t, "CFLMPQScgimnprstz", cm[3])
}

func TestApplyPrivilegeIsIdempotent(t *testing.T) {
	n := state.NewNetwork(1, "net", "me", state.NetworkConfig{}, nil)
	b := n.GetOrAddBuffer("#a")
	n.AddUserToBuffer(b, state.UserUpdate{Nick: "alice"}, nil)
	table := DefaultPrefixTable()

	op := []Delta{{Adding: true, Mode: 'o', Param: "alice"}}
	Apply(n, b, op, table)
	Apply(n, b, op, table)

	u, _ := n.User("alice")
	assert.Equal(t, []rune{'o'}, u.Buffers[b.ID])

	deop := []Delta{{Adding: false, Mode: 'o', Param: "alice"}}
	Apply(n, b, deop, table)
	Apply(n, b, deop, table)
	u, _ = n.User("alice")
	assert.Equal(t, 0, len(u.Buffers[b.ID]))
}

func TestApplyChannelModes(t *testing.T) {
	n := state.NewNetwork(1, "net", "me", state.NetworkConfig{}, nil)
	b := n.GetOrAddBuffer("#a")
	table := DefaultPrefixTable()

	Apply(n, b, []Delta{{Adding: true, Mode: 'k', Param: "secret"}, {Adding: true, Mode: 'n'}}, table)
	assert.Equal(t, map[rune]string{'k': "secret", 'n': ""}, b.Modes)

	Apply(n, b, []Delta{{Adding: false, Mode: 'k', Param: "secret"}}, table)
	assert.Equal(t, map[rune]string{'n': ""}, b.Modes)
}

func TestAggregateGroupsByModeString(t *testing.T) {
	deltas := []Delta{
		{Adding: true, Mode: 'o', Param: "alice"},
		{Adding: true, Mode: 'v', Param: "carol"},
		{Adding: true, Mode: 'o', Param: "bob"},
		{Adding: true, Mode: 'n'},
	}

	groups := Aggregate(deltas, DefaultPrefixTable(), "#a")

	assert.Equal(t, 3, len(groups))
	assert.Equal(t, "+o", groups[0].Mode)
	assert.Equal(t, []Target{{Name: "alice"}, {Name: "bob"}}, groups[0].Targets)
	assert.Equal(t, "+v", groups[1].Mode)
	assert.Equal(t, []Target{{Name: "#a"}}, groups[2].Targets)

	assert.Equal(t, "op gives channel operator status to alice, bob", Describe(groups[0], "op"))
	assert.Equal(t, "op sets +n on #a", Describe(groups[2], "op"))
}

func TestDescribeBanUsesMask(t *testing.T) {
	groups := Aggregate([]Delta{{Adding: true, Mode: 'b', Param: "*!*@spam"}}, DefaultPrefixTable(), "#a")

	assert.Equal(t, "op bans *!*@spam", Describe(groups[0], "op"))
	assert.Equal(t, "modes_gives_ban", PhraseKey(groups[0].Mode))
}

func TestDescribeOtherWithParam(t *testing.T) {
	groups := Aggregate([]Delta{{Adding: true, Mode: 'l', Param: "25"}}, DefaultPrefixTable(), "#a")
	assert.Equal(t, "op sets +l 25 on #a", Describe(groups[0], "op"))
}

func TestDump(t *testing.T) {
	assert.Equal(t, "#a +n, +k key", Dump("#a", []Delta{{Adding: true, Mode: 'n'}, {Adding: true, Mode: 'k', Param: "key"}}))
}
