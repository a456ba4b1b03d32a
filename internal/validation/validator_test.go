package validation

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestValidateNick(t *testing.T) {
	for _, nick := range []string{"alice", "[bot]", "a_b-c", "x^"} {
		assert.Equal(t, nil, ValidateNick(nick))
	}
	for _, nick := range []string{"", " ", "#chan", "1abc", "a b", "a,b", "@op"} {
		assert.NotEqual(t, nil, ValidateNick(nick))
	}
}

func TestValidateChannelName(t *testing.T) {
	assert.Equal(t, nil, ValidateChannelName("#go"))
	assert.Equal(t, nil, ValidateChannelName("&local"))
	assert.NotEqual(t, nil, ValidateChannelName("go"))
	assert.NotEqual(t, nil, ValidateChannelName("#a,b"))
}

func TestValidateServerAddress(t *testing.T) {
	assert.Equal(t, nil, ValidateServerAddress("irc.libera.chat", 6697))
	assert.NotEqual(t, nil, ValidateServerAddress("", 6697))
	assert.NotEqual(t, nil, ValidateServerAddress("irc.libera.chat", 0))
}

func TestValidateNetworkName(t *testing.T) {
	assert.Equal(t, nil, ValidateNetworkName("libera"))
	assert.NotEqual(t, nil, ValidateNetworkName(""))
	assert.NotEqual(t, nil, ValidateNetworkName("a/b"))
}
