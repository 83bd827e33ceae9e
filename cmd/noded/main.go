// Command noded runs one delegated Proof-of-Stake consensus node: the DHT
// overlay, gossip dissemination, peer RPC surface, and the consensus state
// machine driving per-slot proposal/vote rounds. It replaces the teacher's
// split p2pd/consensusd binaries with a single process, since this node's
// consensus engine and P2P substrate are tightly coupled (spec §2).
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"solidus/cmd/internal/passphrase"
	"solidus/config"
	"solidus/consensus"
	"solidus/crypto"
	"solidus/delegate"
	"solidus/observability"
	"solidus/observability/logging"
	telemetry "solidus/observability/otel"
	"solidus/p2p/dht"
	"solidus/p2p/gossip"
	"solidus/p2p/rpcclient"
	"solidus/p2p/rpcserver"
	peerversion "solidus/p2p/version"
	"solidus/propcodec"
	"solidus/slot"
	"solidus/storage"
)

const validatorPassEnv = "SOLIDUS_VALIDATOR_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SOLIDUS_ENV"))
	logger := logging.Setup("noded", env)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "noded",
		Environment: env,
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:    true,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	validatorKey, err := loadValidatorKey(cfg)
	if err != nil {
		logger.Error("failed to load validator key", slog.Any("error", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to prepare data directory", slog.Any("error", err))
		os.Exit(1)
	}

	delegateDB, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "delegate"))
	if err != nil {
		logger.Error("failed to open delegate store", slog.Any("error", err))
		os.Exit(1)
	}
	defer delegateDB.Close()

	delegateIndex, err := delegate.LoadIndex(delegateDB)
	if err != nil {
		logger.Error("failed to load delegate ring", slog.Any("error", err))
		os.Exit(1)
	}
	if delegateIndex.Size() == 0 {
		// No ring persisted yet and no external scheduler wired up: seed a
		// single-delegate ring from the local validator so the node can
		// produce blocks standalone (devnet convenience).
		delegateIndex = delegate.NewIndex(0, [][]byte{validatorKey.PubKey().Bytes()})
		if err := delegate.Persist(delegateDB, delegateIndex); err != nil {
			logger.Warn("failed to persist seed delegate ring", slog.Any("error", err))
		}
	}

	bootstrap := resolveBootstrap(cfg, logger)

	dhtStore, err := dht.OpenStore(filepath.Join(cfg.DataDir, "dht"))
	if err != nil {
		logger.Error("failed to open dht store", slog.Any("error", err))
		os.Exit(1)
	}
	defer dhtStore.Close()

	host, portStr, err := splitListenAddress(cfg.ListenAddress, cfg.PeerPort)
	if err != nil {
		logger.Error("invalid ListenAddress", slog.Any("error", err))
		os.Exit(1)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		logger.Error("invalid ListenAddress port", slog.Any("error", err))
		os.Exit(1)
	}

	overlay := dht.NewOverlay(dht.Config{
		SelfHost:     host,
		SelfPort:     uint16(port),
		Bootstrap:    bootstrap,
		BlackList:    cfg.PeersBlackList,
		Persistent:   cfg.PeersPersistent,
		Store:        dhtStore,
		IngestRateHz: 200,
		Logger:       logger.With(slog.String("component", "dht")),
	})
	overlay.OnNodeAdded(func(dht.Node) {
		observability.OverlayMetrics().SetTableSize(len(overlay.HealthyNodes()))
	})
	overlay.OnNodeRemoved(func([20]byte, string) {
		observability.OverlayMetrics().SetTableSize(len(overlay.HealthyNodes()))
	})

	gossipLayer := gossip.New(overlay, logger.With(slog.String("component", "gossip")))

	slotClock := slot.New(slot.Config{
		Epoch:      cfg.SlotEpoch(),
		SlotLength: cfg.SlotLength(),
		Delegates:  cfg.Delegates,
		Leading:    cfg.Leading,
		PowTimeout: cfg.PowTimeout(),
	})

	engine := consensus.NewEngine(slotClock, delegateIndex, propcodec.EnvContext{EnableLongID: cfg.EnableLongID})

	minimum := peerversion.MinimumMainnet
	if cfg.NetVersion == "testnet" {
		minimum = peerversion.MinimumTestnet
	}
	rpcSrv := rpcserver.New(overlay, cfg.Magic, rpcserver.VersionInfo{
		Version: cfg.NetVersion,
		Build:   "dev",
		Net:     cfg.NetVersion,
	}, minimum, logger.With(slog.String("component", "rpcserver")))
	rpcSrv.RegisterMethod("ping", func(_ json.RawMessage) (any, error) {
		self := overlay.Self()
		return map[string]string{"id": hex.EncodeToString(self.ID[:]), "addr": self.Addr()}, nil
	})
	rpcCli := rpcclient.New(cfg.Magic, cfg.NetVersion, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node := &nodeRuntime{
		logger:        logger,
		cfg:           cfg,
		overlay:       overlay,
		gossip:        gossipLayer,
		engine:        engine,
		slotClock:     slotClock,
		delegateIndex: delegateIndex,
		validatorKey:  validatorKey,
		rpcClient:     rpcCli,
	}
	node.subscribe()
	go node.runPeerHealthLoop(ctx)

	go func() {
		if err := overlay.Run(ctx); err != nil {
			logger.Error("overlay stopped", slog.Any("error", err))
		}
	}()

	go func() {
		addr := cfg.RPCAddress
		logger.Info("peer rpc listening", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, rpcSrv.Handler()); err != nil && err != http.ErrServerClosed {
			logger.Error("rpc server stopped", slog.Any("error", err))
		}
	}()

	go node.runSlotLoop(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	cancel()
	overlay.Close()
}

// loadValidatorKey resolves the node's signing key: an encrypted keystore
// if KeystorePath is set (passphrase from env or an interactive terminal
// prompt), otherwise the plaintext hex seed stored in ValidatorKey.
func loadValidatorKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(cfg.KeystorePath) != "" {
		source := passphrase.NewSource(validatorPassEnv)
		pass, err := source.Get()
		if err != nil {
			return nil, err
		}
		return crypto.LoadFromKeystore(cfg.KeystorePath, pass)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(cfg.ValidatorKey))
	if err != nil {
		return nil, fmt.Errorf("decode ValidatorKey: %w", err)
	}
	return crypto.PrivateKeyFromBytes(raw)
}

func splitListenAddress(addr string, fallbackPort uint16) (host, port string, err error) {
	h, p, found := strings.Cut(addr, ":")
	if !found {
		return "", "", fmt.Errorf("listen address %q must be host:port", addr)
	}
	if h == "" {
		h = "0.0.0.0"
	}
	if p == "" {
		p = strconv.Itoa(int(fallbackPort))
	}
	return h, p, nil
}

func resolveBootstrap(cfg *config.Config, logger *slog.Logger) []string {
	out := append([]string(nil), cfg.BootstrapPeers...)
	if strings.TrimSpace(cfg.SeedsFile) != "" {
		seeds, err := loadSeedsFile(cfg.SeedsFile)
		if err != nil {
			logger.Warn("failed to load seeds file", slog.Any("error", err))
		} else {
			out = append(out, seeds...)
		}
	}
	for _, peer := range out {
		logger.Debug("bootstrap peer resolved", logging.MaskField("seed", peer))
	}
	return out
}
