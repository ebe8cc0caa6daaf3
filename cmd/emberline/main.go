// Emberline - Minecraft-compatible connection protocol server.
//
// Emberline speaks the Java Edition wire protocol: framed packets with
// optional zlib compression, AES/CFB8 transport encryption negotiated
// during login, and the Handshaking/Status/Login/Play state machine.
// It exposes a REST API for remote management and publishes telemetry
// via MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/emberline-project/emberline/internal/api"
	"github.com/emberline-project/emberline/internal/auth"
	"github.com/emberline-project/emberline/internal/cli"
	"github.com/emberline-project/emberline/internal/config"
	"github.com/emberline-project/emberline/internal/crypto"
	"github.com/emberline-project/emberline/internal/db"
	"github.com/emberline-project/emberline/internal/events"
	"github.com/emberline-project/emberline/internal/network"
	"github.com/emberline-project/emberline/internal/play"
	"github.com/emberline-project/emberline/internal/protocol"
	"github.com/emberline-project/emberline/internal/session"
	"github.com/emberline-project/emberline/internal/status"
	"github.com/emberline-project/emberline/internal/telemetry"
	"github.com/emberline-project/emberline/internal/util"
)

const (
	AppName    = "Emberline"
	AppVersion = "1.0.0"
	Banner     = `
  ______           _               _ _
 |  ____|         | |             | (_)
 | |__   _ __ ___ | |__   ___ _ __| |_ _ __   ___
 |  __| | '_ ' _ \| '_ \ / _ \ '__| | | '_ \ / _ \
 | |____| | | | | | |_) |  __/ |  | | | | | |  __/
 |______|_| |_| |_|_.__/ \___|_|  |_|_|_| |_|\___|
                                         v%s
 Connection Protocol Server
`
)

func main() {
	// Print banner
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Emberline")

	// Load configuration
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:     cfg.Logging.Level,
		Directory: cfg.Logging.Directory,
		Console:   true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("configuration validation failed")
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Key material; generated on first run
	keys, err := crypto.LoadOrGenerateKeys(cfg.Security.PrivateKeyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RSA key material")
	}

	// Persistence: ban list and login audit log
	database, err := db.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	banStore, err := db.NewBanStore(database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize ban store")
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core components
	eventBus := events.NewBus()
	registry := network.NewRegistry(cfg.Game.MaxPlayers, eventBus)
	statusProvider := status.NewProvider(cfg.Game, registry)
	playHandler := play.NewHandler()

	var verifier auth.Verifier
	if cfg.Security.OnlineMode {
		verifier = auth.NewSessionVerifier(
			cfg.Security.SessionServerURL,
			time.Duration(cfg.Security.AuthTimeoutSec)*time.Second,
		)
		log.Info().Msg("online mode: session verification enabled")
	} else {
		log.Warn().Msg("offline mode: player identities are not verified")
	}

	sessionDeps := session.Deps{
		Config:    cfg,
		Keys:      keys,
		Status:    statusProvider,
		Verifier:  verifier,
		Play:      playHandler,
		Registrar: registry,
		Bans:      banStore,
		Events:    eventBus,
	}

	// Record joins and quits in the audit log
	eventBus.Subscribe(events.EventPlayerJoin, "db.loginLog", func(ctx context.Context, ev events.Event) error {
		if p, ok := ev.Payload.(events.PlayerPayload); ok {
			return banStore.RecordLogin(p.Name, p.UUID, p.RemoteAddr, "join")
		}
		return nil
	})
	eventBus.Subscribe(events.EventPlayerQuit, "db.loginLog", func(ctx context.Context, ev events.Event) error {
		if p, ok := ev.Payload.(events.PlayerPayload); ok {
			return banStore.RecordLogin(p.Name, p.UUID, p.RemoteAddr, "quit")
		}
		return nil
	})

	// Network listener
	tcpListener := network.NewTCPListener(cfg, registry, sessionDeps)

	// REST API
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, registry, statusProvider, banStore, playHandler)
	}

	// MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// Interactive CLI
	cliHandler := cli.NewCLI(cfg, eventBus, registry, banStore)

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: game protocol listener. A failure here is fatal; without it
	// the process serves nothing.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().
			Int("port", cfg.Network.Port).
			Int32("protocol", protocol.VersionNumber).
			Str("version", protocol.VersionName).
			Msg("starting protocol listener")
		if err := startWithRetry(ctx, "protocol listener", tcpListener.Start, 15); err != nil {
			log.Error().Err(err).Msg("protocol listener failed after retries")
			errCh <- fmt.Errorf("protocol listener: %w", err)
		}
	}()

	// Task 2: REST API server
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 4: interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownCh := make(chan struct{})
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, ev events.Event) error {
		select {
		case <-shutdownCh:
		default:
			close(shutdownCh)
		}
		return nil
	})

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested via CLI")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Cancel the root context, then drop every live connection so the
	// session goroutines unwind.
	cancel()
	registry.CloseAll()

	// Wait for all goroutines with timeout. The CLI goroutine blocks on
	// stdin and is abandoned if it never returns.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timed out, forcing exit")
	}

	// Stop the event bus last
	eventBus.Stop()

	log.Info().Msg("Emberline stopped")
}

// startWithRetry retries a component's Start on failure, mostly to ride
// out TIME_WAIT port rebinding after a restart.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
