package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/matt0x6f/ircsync/internal/config"
	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/dispatch"
	"github.com/matt0x6f/ircsync/internal/events"
	"github.com/matt0x6f/ircsync/internal/irc"
	"github.com/matt0x6f/ircsync/internal/lifecycle"
	"github.com/matt0x6f/ircsync/internal/logger"
	"github.com/matt0x6f/ircsync/internal/notify"
	"github.com/matt0x6f/ircsync/internal/security"
	"github.com/matt0x6f/ircsync/internal/state"
	"github.com/matt0x6f/ircsync/internal/storage"
	"github.com/rs/zerolog"
)

// Version information - set at build time via ldflags
var version = "dev"

const quitMessage = "Shutting down"

func main() {
	configPath := flag.String("config", "./ircsync.yaml", "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	setPassword := flag.String("set-password", "", "store a password read from stdin in the OS keychain under `account` (e.g. bnc, network:<name>)")
	showVersion := flag.Bool("version", false, "show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ircsync version %s\n", version)
		return
	}

	keychain := security.NewKeychain()
	if *setPassword != "" {
		if err := storePassword(keychain, *setPassword); err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to store password")
		}
		return
	}

	if err := run(*configPath, *debug, keychain); err != nil {
		logger.Log.Fatal().Err(err).Msg("ircsync stopped")
	}
}

func storePassword(keychain *security.Keychain, account string) error {
	fmt.Fprintf(os.Stderr, "Password for %s: ", account)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read password: %w", err)
	}
	return keychain.StorePassword(account, strings.TrimRight(line, "\r\n"))
}

func logNetworkState(ev events.Event) {
	name, _ := ev.Data[events.KeyNetwork].(string)
	st, _ := ev.Data[events.KeyState].(string)
	e := logger.Log.Debug().Str("network", name).Str("state", st)
	if msg, _ := ev.Data[events.KeyError].(string); msg != "" {
		e = e.Str("error", msg)
	}
	e.Msg("Network state")
}

func run(configPath string, debug bool, keychain *security.Keychain) error {
	if !filepath.IsAbs(configPath) {
		wd, _ := os.Getwd()
		configPath = filepath.Join(wd, configPath)
	}

	settings, err := config.NewStore(configPath, keychain)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := settings.Config()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	if debug {
		level = zerolog.DebugLevel
	}
	logger.SetLevel(level)

	if dir := filepath.Dir(cfg.Database); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	stor, err := storage.NewStorage(cfg.Database, constants.StorageBufferSize, constants.StorageFlushInterval)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer stor.Close()

	bus := events.NewEventBus()
	store := state.NewStore(bus)

	type session struct {
		network *state.Network
		client  *irc.Client
		engine  *dispatch.Engine
	}
	var sessions []session

	for _, nc := range cfg.Networks {
		n, err := store.AddNetwork(nc.ID, nc.Name, nc.Nick, nc.StateConfig())
		if err != nil {
			return err
		}
		if err := stor.UpsertNetwork(&storage.Network{ID: nc.ID, Name: nc.Name, Nick: nc.Nick}); err != nil {
			return err
		}
		if err := storage.Restore(n, stor, constants.RestoreMessageLimit); err != nil {
			return err
		}
		for _, ch := range nc.Channels {
			b := n.GetOrAddBuffer(ch.Name)
			n.UpdateBuffer(b, func(b *state.Buffer) {
				b.Enabled = true
				if ch.Key != "" {
					b.Key = ch.Key
				}
			})
		}
		if nc.Captcha != "" {
			n.Update(func(n *state.Network) { n.CaptchaResponse = nc.Captcha })
		}

		client := irc.NewClient(n.ID, n.Name)
		engine := dispatch.NewEngine(n, client, client, dispatch.Options{
			Settings: settings,
			Active:   store,
		})
		sessions = append(sessions, session{network: n, client: client, engine: engine})
	}

	// Restored state is in place; persist and notify from here on
	storage.NewRecorder(stor).Subscribe(bus)
	bus.Subscribe(events.EventNetworkState, events.SubscriberFunc(logNetworkState))
	notifier := notify.NewNotifier(store, settings, nil)
	notifier.Subscribe(bus)
	defer notifier.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i, s := range sessions {
		s := s
		delay := time.Duration(i) * constants.ConnectionStaggerDelay
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			log := logger.ForNetwork(s.network.ID, s.network.Name)
			err := s.client.Supervise(ctx, s.engine.Lifecycle().ConnectParams, s.engine, constants.ReconnectDelay)
			switch {
			case errors.Is(err, lifecycle.ErrNickRetriesExhausted):
				log.Error().Err(err).Msg("Giving up on network")
			case err != nil && !errors.Is(err, context.Canceled):
				log.Error().Err(err).Msg("Network stopped")
			}
		}()
	}

	logger.Log.Info().Int("networks", len(sessions)).Str("version", version).Msg("ircsync started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			// Changes apply on the next connection attempt
			if err := settings.Reload(); err != nil {
				logger.Log.Warn().Err(err).Msg("Failed to reload configuration")
			} else {
				logger.Log.Info().Msg("Configuration reloaded")
			}
			continue
		}
		logger.Log.Info().Str("signal", sig.String()).Msg("Shutting down")
		break
	}
	signal.Stop(sigChan)

	for _, s := range sessions {
		s.client.Quit(quitMessage)
	}
	// Give the writers a moment to send QUIT
	time.Sleep(constants.QuitGracePeriod)
	cancel()
	wg.Wait()
	return nil
}
