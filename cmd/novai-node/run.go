package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	lcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/NOVAInetwork/NOVAI-node/internal/config"
	"github.com/NOVAInetwork/NOVAI-node/internal/keys"
	"github.com/NOVAInetwork/NOVAI-node/internal/logger"
	"github.com/NOVAInetwork/NOVAI-node/internal/network"
	"github.com/NOVAInetwork/NOVAI-node/internal/storage"
	"github.com/NOVAInetwork/NOVAI-node/internal/types"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/integration"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/metrics"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/pacemaker"
	ctypes "github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

const inboundBuffer = 1024

func runCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the validator until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNode(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the node configuration")
	return cmd
}

func runNode(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Node.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := logger.Init(logger.FromLoggingConfig(cfg.Logging, cfg.Node.DataDir)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.Global()

	roster, err := storage.NewFileRoster(cfg.Validators.RosterFile)
	if err != nil {
		return err
	}
	entries := roster.GetValidators()
	validators, err := storage.ValidatorSet(entries)
	if err != nil {
		return fmt.Errorf("invalid roster %s: %w", cfg.Validators.RosterFile, err)
	}

	self := ctypes.NodeID(cfg.Node.ID)
	km := keys.NewKeyManager()
	scheme := crypto.Scheme(cfg.Node.SignatureScheme)
	rawKey, err := km.DecodePrivateKey(scheme, cfg.Node.PrivateKey)
	if err != nil {
		return err
	}
	signer, err := crypto.New(scheme, rawKey, self, validators)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	identity, deriveFromKey, err := networkIdentity(km, cfg)
	if err != nil {
		return err
	}
	hw, err := network.NewHostWrapper(&cfg.Network, identity, log)
	if err != nil {
		return err
	}
	defer hw.Close()

	peers, err := network.PeerBookFromRoster(entries, deriveFromKey)
	if err != nil {
		return err
	}
	transport := network.NewTransport(hw.Host(), self, peers, inboundBuffer, log)
	defer transport.Close()

	store, err := storage.OpenBadgerStore(filepath.Join(cfg.Node.DataDir, "blocks"), cfg.Storage.CacheSize, log)
	if err != nil {
		return err
	}
	defer store.Close()

	var opts []integration.Option
	if cfg.Metrics.Address != "" {
		registry := prometheus.NewRegistry()
		opts = append(opts, integration.WithMetrics(metrics.NewCollector(registry)))

		server := metrics.NewServer(log, cfg.Metrics.Address, registry)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	node, err := integration.NewNode(nodeConfig(cfg, self, validators), signer, store, transport, log, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return err
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	if failed := hw.DialPeers(dialCtx, peers); failed > 0 {
		log.Warn().Int("unreachable", failed).Msg("Some validators are not reachable yet")
	}
	cancelDial()
	log.Info().
		Uint16("node_id", cfg.Node.ID).
		Int("validators", validators.TotalNodes()).
		Str("peer_id", hw.Host().ID().String()).
		Msg("Validator started")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case <-node.Done():
	}
	return node.Stop()
}

// networkIdentity picks the libp2p key and reports whether peer IDs of
// other validators may be derived from their roster keys.
func networkIdentity(km *keys.KeyManager, cfg *types.Config) (lcrypto.PrivKey, bool, error) {
	if cfg.Network.NetworkKey != "" {
		identity, err := km.NetworkIdentity(cfg.Network.NetworkKey)
		return identity, false, err
	}
	identity, err := km.IdentityFromSigningKey(crypto.Scheme(cfg.Node.SignatureScheme), cfg.Node.PrivateKey)
	return identity, true, err
}

func nodeConfig(cfg *types.Config, self ctypes.NodeID, validators *ctypes.ValidatorSet) integration.NodeConfig {
	nc := integration.DefaultNodeConfig(self, validators)
	nc.Consensus.Pacemaker = pacemaker.Config{
		BaseTimeout: cfg.Consensus.BaseTimeout,
		Multiplier:  cfg.Consensus.TimeoutMultiplier,
		MaxTimeout:  cfg.Consensus.MaxTimeout,
	}
	nc.Consensus.Retry = integration.RetryConfig{
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
		MaxRetries: cfg.Retry.MaxRetries,
	}
	nc.MempoolSize = cfg.Consensus.MempoolSize
	nc.MaxPayloadItems = cfg.Consensus.MaxPayloadItems
	return nc
}
