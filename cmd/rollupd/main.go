// Package main provides rollupd, the rollup coordinator daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/klingon-exchange/brollup/internal/config"
	"github.com/klingon-exchange/brollup/internal/coordinator"
	"github.com/klingon-exchange/brollup/internal/dkg"
	"github.com/klingon-exchange/brollup/internal/peer"
	"github.com/klingon-exchange/brollup/internal/store"
	"github.com/klingon-exchange/brollup/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", config.DefaultRollupConfig().DataDir, "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		listenAddr  = flag.String("listen", "", "WebSocket listen address, overrides config")
		network     = flag.String("network", "", "Network (mainnet, testnet, regtest), overrides config")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("rollupd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := expandPath(*dataDir)

	path := *configFile
	if path == "" {
		path = filepath.Join(effectiveDataDir, "config.yaml")
	}
	cfg, err := config.LoadRollupConfig(path)
	if err != nil {
		log.Warn("No config file found, using defaults", "path", path, "error", err)
		cfg = config.DefaultRollupConfig()
	}
	cfg.DataDir = effectiveDataDir
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *network != "" {
		cfg.Network = config.NetworkType(*network)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	st, err := store.Open(store.Config{DataDir: cfg.DataDir})
	if err != nil {
		log.Fatal("Failed to open store", "error", err)
	}
	defer st.Close()
	log.Info("Store initialized", "path", cfg.DataDir)

	dirs := dkg.NewManager()
	accounts := coordinator.NewAccountRegistry(st)
	contracts := coordinator.NewContractRegistry(st)
	state := coordinator.NewStateHolder(st)
	blacklist := coordinator.NewBlacklist(st)
	allowance := coordinator.NewEpochAllowance(config.AllowancePerWindow, int64(config.AllowanceWindow.Seconds()))

	sessionCfg := coordinator.Config{
		UpholdTimeout: config.UpholdTimeout,
		Backoff:       config.CommitPhaseTimeout,
	}
	session := coordinator.NewSessionCtx(dirs, accounts, contracts, state, blacklist, allowance, sessionCfg)

	peers := peer.NewManager()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		p, err := peer.Accept(w, r)
		if err != nil {
			log.Error("Failed to accept peer connection", "error", err)
			return
		}
		id := r.RemoteAddr
		if err := peers.Register(id, p); err != nil {
			log.Error("Failed to register peer", "peer", id, "error", err)
			p.Close()
			return
		}
		log.Info("Peer connected", "peer", id, "total", len(peers.IDs()))
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Info("Listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	if err := session.Open(time.Now()); err != nil {
		log.Error("Failed to open initial session", "error", err)
	} else {
		log.Info("Coordinator session opened", "stage", session.Stage().String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	go runSessionLifecycle(ctx, log, session)

	printBanner(log, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	cancel()
	if err := server.Close(); err != nil {
		log.Error("Error closing HTTP server", "error", err)
	}
	log.Info("Goodbye!")
}

// runSessionLifecycle drives the coordinator session's stage machine
// past Locked: once the upheld gate is met it finalizes the session,
// persisting its passed commits, then reopens once the backoff (if
// any) has elapsed. Grounded on the teacher's status-ticker goroutine
// in cmd/klingond/main.go.
func runSessionLifecycle(ctx context.Context, log *logging.Logger, session *coordinator.SessionCtx) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			switch session.Stage() {
			case coordinator.StageLocked:
				met, err := session.CheckUpheldGate(now)
				if err != nil {
					if _, ok := err.(coordinator.Nack); !ok {
						log.Error("CheckUpheldGate failed", "error", err)
					}
					continue
				}
				if met {
					log.Info("Coordinator session upheld", "stage", session.Stage().String())
				}
			case coordinator.StageUpheld:
				if err := session.Finalize(persistFinalizedCommits(log)); err != nil {
					log.Error("Finalize failed", "error", err)
					continue
				}
				log.Info("Coordinator session finalized", "stage", session.Stage().String())
			case coordinator.StageOff:
				if err := session.Open(now); err != nil {
					continue
				}
				log.Info("Coordinator session reopened", "stage", session.Stage().String())
			}
		}
	}
}

// persistFinalizedCommits builds the Finalize persist callback: the
// session's own Finalize call already wrote the account/contract
// registries and state tree before invoking it (spec.md §5), so this
// seam only needs to record the finalized commit set.
func persistFinalizedCommits(log *logging.Logger) func([]coordinator.Commit) error {
	return func(passed []coordinator.Commit) error {
		for _, c := range passed {
			log.Info("Commit finalized", "account", fmt.Sprintf("%x", c.Account.XOnly()))
		}
		return nil
	}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, cfg *config.RollupConfig) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  rollupd (%s)", cfg.Network)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Listening on: %s", cfg.ListenAddr)
	log.Infof("  Data dir: %s", cfg.DataDir)
	log.Infof("  Uphold timeout: %s", cfg.UpholdTimeout)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
