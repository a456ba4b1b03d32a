package config

import (
	"fmt"
	"sync"

	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/matt0x6f/ircsync/internal/state"
)

// Provider supplies current settings. Callers ask again on every use so that
// edits made between a disconnect and the next connect take effect.
type Provider interface {
	Global() GlobalConfig
	Network(id int64) (state.NetworkConfig, bool)
}

// SecretSource looks up passwords kept outside the config file
type SecretSource interface {
	GetPassword(user string) (string, error)
}

// Static is a Provider over a fixed configuration
type Static struct {
	Config Config
}

// Global returns the global settings
func (s Static) Global() GlobalConfig {
	return s.Config.Global
}

// Network returns the state configuration of network id
func (s Static) Network(id int64) (state.NetworkConfig, bool) {
	for _, n := range s.Config.Networks {
		if n.ID == id {
			return n.StateConfig(), true
		}
	}
	return state.NetworkConfig{}, false
}

// StateConfig converts the file form into the state form
func (n NetworkConfig) StateConfig() state.NetworkConfig {
	cfg := state.NetworkConfig{
		Server:       n.Server,
		Port:         n.Port,
		TLS:          n.TLS,
		Path:         n.Path,
		Password:     n.Password,
		Username:     n.Username,
		Realname:     n.Realname,
		BncName:      n.BncName,
		ShowRaw:      n.ShowRaw,
		AutoCommands: n.AutoCommands,
	}
	if n.NickServ != nil {
		cfg.NickServ = &state.NickServ{Account: n.NickServ.Account, Password: n.NickServ.Password}
	}
	if n.SASL != nil {
		cfg.SASL = &state.SASL{Account: n.SASL.Account, Password: n.SASL.Password}
	}
	return cfg
}

// Store is a Provider backed by a config file that can be reloaded
type Store struct {
	path    string
	secrets SecretSource
	mu      sync.RWMutex
	cfg     *Config
}

// NewStore loads path and resolves missing passwords from secrets, which may be nil
func NewStore(path string, secrets SecretSource) (*Store, error) {
	s := &Store{path: path, secrets: secrets}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the config file
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	if err := s.resolveSecrets(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	logger.Log.Debug().Str("path", s.path).Int("networks", len(cfg.Networks)).Msg("Configuration loaded")
	return nil
}

// Config returns a copy of the current configuration
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// Global returns the global settings
func (s *Store) Global() GlobalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Global
}

// Network returns the state configuration of network id
func (s *Store) Network(id int64) (state.NetworkConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Static{Config: *s.cfg}.Network(id)
}

// Keychain accounts used for passwords missing from the file
const (
	BouncerAccount = "bnc"
)

// NetworkAccount is the keychain account of a network's server password
func NetworkAccount(name string) string {
	return "network:" + name
}

// NickServAccount is the keychain account of a network's services password
func NickServAccount(name string) string {
	return "nickserv:" + name
}

// SASLAccount is the keychain account of a network's SASL password
func SASLAccount(name string) string {
	return "sasl:" + name
}

func (s *Store) resolveSecrets(cfg *Config) error {
	if s.secrets == nil {
		return nil
	}

	lookup := func(dst *string, account string) error {
		if *dst != "" {
			return nil
		}
		password, err := s.secrets.GetPassword(account)
		if err != nil {
			return fmt.Errorf("failed to resolve password for %s: %w", account, err)
		}
		*dst = password
		return nil
	}

	if cfg.Global.Bnc.Active {
		if err := lookup(&cfg.Global.Bnc.Password, BouncerAccount); err != nil {
			return err
		}
	}
	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		if err := lookup(&n.Password, NetworkAccount(n.Name)); err != nil {
			return err
		}
		if n.NickServ != nil {
			if err := lookup(&n.NickServ.Password, NickServAccount(n.Name)); err != nil {
				return err
			}
		}
		if n.SASL != nil {
			if err := lookup(&n.SASL.Password, SASLAccount(n.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}
