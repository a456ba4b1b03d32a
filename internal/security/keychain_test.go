package security

import (
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/zalando/go-keyring"
)

func TestKeychainLifecycle(t *testing.T) {
	keyring.MockInit()
	k := NewKeychain()

	password, err := k.GetPassword("network:libera")
	assert.Equal(t, nil, err)
	assert.Equal(t, "", password)

	assert.Equal(t, nil, k.StorePassword("network:libera", "hunter2"))
	password, err = k.GetPassword("network:libera")
	assert.Equal(t, nil, err)
	assert.Equal(t, "hunter2", password)

	// Storing an empty password removes the entry
	assert.Equal(t, nil, k.StorePassword("network:libera", ""))
	password, err = k.GetPassword("network:libera")
	assert.Equal(t, nil, err)
	assert.Equal(t, "", password)

	assert.Equal(t, nil, k.DeletePassword("network:libera"))
}
