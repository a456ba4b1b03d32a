package security

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeychainService is the service name passwords are stored under
	KeychainService = "ircsync"
)

// Keychain stores passwords in the OS keychain. Accounts are names such as
// "bnc" or "network:<name>".
type Keychain struct {
	service string
}

// NewKeychain creates a keychain using the default service name
func NewKeychain() *Keychain {
	return &Keychain{service: KeychainService}
}

// StorePassword stores the password of account. An empty password deletes it.
func (k *Keychain) StorePassword(account string, password string) error {
	if password == "" {
		return k.DeletePassword(account)
	}
	if err := keyring.Set(k.service, account, password); err != nil {
		return fmt.Errorf("failed to store password in keychain: %w", err)
	}
	return nil
}

// GetPassword returns the password of account, or "" when none is stored
func (k *Keychain) GetPassword(account string) (string, error) {
	password, err := keyring.Get(k.service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get password from keychain: %w", err)
	}
	return password, nil
}

// DeletePassword removes the password of account. A missing entry is not an error.
func (k *Keychain) DeletePassword(account string) error {
	if err := keyring.Delete(k.service, account); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete password from keychain: %w", err)
	}
	return nil
}
