// Package main provides locktxd, a demo host for the LockTx state machine:
// it wires a SQLite parameter store, an in-process or websocket Gateway,
// and a MemWallet together, then drives one side of a two-party swap to
// completion against a peer running the same binary.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/klingon-exchange/locktx-core/internal/chainoracle"
	"github.com/klingon-exchange/locktx-core/internal/gateway"
	"github.com/klingon-exchange/locktx-core/internal/lockconfig"
	"github.com/klingon-exchange/locktx-core/internal/locktx"
	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/internal/txbuilder"
	"github.com/klingon-exchange/locktx-core/internal/walletkit"
	"github.com/klingon-exchange/locktx-core/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.locktx-core", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		listenAddr  = flag.String("listen", "127.0.0.1:9090", "Gateway listen address (this host's side of the websocket relay)")
		peerAddr    = flag.String("peer", "", "Peer gateway URL to dial (ws://host:port/locktx), empty to only listen")
		role        = flag.String("role", "sender", "Role for a fresh transaction: sender or responder")
		amount      = flag.Uint64("amount", 0, "LockTx amount, sender role only")
		fee         = flag.Uint64("fee", 0, "LockTx fee, sender role only")
		seedHex     = flag.String("seed", "", "Hex-encoded wallet seed (random if empty)")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("locktxd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	var cfg *lockconfig.Config
	var err error
	if *configFile != "" {
		cfg, err = lockconfig.Load(filepath.Dir(*configFile))
	} else {
		cfg, err = lockconfig.Load(*dataDir)
	}
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	cfg.Logging.Level = *logLevel

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", lockconfig.ConfigPath(*dataDir))

	rawStore, err := params.NewSQLiteStore(params.SQLiteConfig{DataDir: expandPath(cfg.Storage.DataDir)})
	if err != nil {
		log.Fatal("failed to open parameter store", "error", err)
	}
	defer rawStore.Close()
	store := params.Wrap(rawStore)
	log.Info("parameter store opened", "dir", cfg.Storage.DataDir)

	var seed []byte
	if *seedHex != "" {
		decoded, decodeErr := hex.DecodeString(*seedHex)
		if decodeErr != nil {
			log.Fatal("invalid -seed value", "error", decodeErr)
		}
		seed = decoded
	} else {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			log.Fatal("failed to generate wallet seed", "error", err)
		}
	}
	wallet, err := walletkit.NewMemWallet(seed, 0, nil)
	if err != nil {
		log.Fatal("failed to initialize wallet", "error", err)
	}
	if *role == "sender" {
		wallet.Fund(txbuilder.Coin{Value: *amount + *fee + 10_000_000})
	}

	gw, err := acquireGateway(*peerAddr, *listenAddr, log)
	if err != nil {
		log.Fatal("failed to establish gateway connection", "error", err)
	}

	counterChainBackend, ok := cfg.CounterChainBackend()
	if !ok {
		log.Warn("no counter-chain backend configured for symbol, falling back to height-less oracle", "symbol", cfg.CounterChain.Symbol)
	} else if err := counterChainBackend.Connect(context.Background()); err != nil {
		log.Warn("counter-chain backend connect failed, continuing disconnected", "symbol", cfg.CounterChain.Symbol, "error", err)
	}
	oracle := chainoracle.NewPolling(counterChainBackend)

	manager := locktx.NewManager(store, gw, log, oracle, lockconfig.ToMachineConfig(cfg))
	manager.OnEvent(func(ev locktx.Event) {
		log.Info("swap event", "tx", ev.TxID, "type", ev.EventType, "state", ev.State.String())
	})
	if mr, ok := gw.(messageReceiver); ok {
		mr.OnMessage(manager.Deliver)
	}

	txID := params.NewTxID()
	if *role == "sender" {
		if _, err := manager.Register(txID, wallet, wallet, *amount, *fee, 0, 0, 0); err != nil {
			log.Fatal("failed to register transaction", "error", err)
		}
		log.Info("lock tx registered", "tx", txID)
	} else {
		if _, err := manager.RegisterResponder(txID, wallet, wallet); err != nil {
			log.Fatal("failed to register responder", "error", err)
		}
		log.Info("awaiting invitation", "tx", txID)
	}

	manager.StartTicker(time.Duration(cfg.Swap.TickIntervalSeconds) * time.Second)
	defer manager.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// messageReceiver is implemented by Gateways that read inbound frames off
// a connection (WebSocket) rather than taking a direct call (InProcess,
// which is wired through gateway.Link instead).
type messageReceiver interface {
	OnMessage(handler func(msg locktx.Message) error)
}

// acquireGateway either dials peerAddr directly, or listens on listenAddr
// and blocks until the peer connects, whichever the caller asked for. A
// LockTx Gateway is always a single point-to-point connection, so unlike
// the teacher's long-lived WSHub there is exactly one handshake to wait
// for before the Manager can be constructed.
func acquireGateway(peerAddr, listenAddr string, log *logging.Logger) (locktx.Gateway, error) {
	if peerAddr != "" {
		return gateway.Dial(peerAddr, log)
	}

	connCh := make(chan *gateway.WebSocket, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/locktx", func(w http.ResponseWriter, r *http.Request) {
		conn, upErr := gateway.Upgrade(w, r, log)
		if upErr != nil {
			log.Error("gateway upgrade failed", "error", upErr)
			return
		}
		select {
		case connCh <- conn:
		default:
			conn.Close()
		}
	})
	server := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Error("gateway listener stopped", "error", serveErr)
		}
	}()
	log.Info("gateway listening, waiting for peer", "addr", listenAddr)
	return <-connCh, nil
}
