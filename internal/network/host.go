package network

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"github.com/NOVAInetwork/NOVAI-node/internal/types"
)

// Connection limits for a validator mesh. A peer may briefly hold two
// connections when both ends dial at once.
const (
	connLow         = 600
	connHigh        = 700
	systemConns     = 1024
	systemConnsHalf = 768
	peerConns       = 4
	peerConnsHalf   = 2
)

// HostWrapper owns the node's libp2p host.
type HostWrapper struct {
	host host.Host
	log  zerolog.Logger
}

// NewHostWrapper starts a libp2p host on the configured TCP addresses. A nil
// identity makes libp2p generate an ephemeral one.
func NewHostWrapper(config *types.NetworkConfig, identity crypto.PrivKey, log zerolog.Logger) (*HostWrapper, error) {
	listen, err := parseListenAddrs(config.Addresses)
	if err != nil {
		return nil, err
	}
	limits, err := hostLimits()
	if err != nil {
		return nil, err
	}

	opts := append(limits,
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
	)
	if identity != nil {
		opts = append(opts, libp2p.Identity(identity))
	}
	if len(listen) > 0 {
		opts = append(opts, libp2p.ListenAddrs(listen...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start libp2p host: %w", err)
	}

	hw := &HostWrapper{
		host: h,
		log:  log.With().Str("component", "host").Logger(),
	}
	hw.log.Info().
		Str("peer_id", h.ID().String()).
		Interface("listen_addrs", h.Addrs()).
		Msg("libp2p host started")
	return hw, nil
}

func parseListenAddrs(addrs []string) ([]multiaddr.Multiaddr, error) {
	out := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, s := range addrs {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func hostLimits() ([]libp2p.Option, error) {
	cm, err := connmgr.NewConnManager(connLow, connHigh,
		connmgr.WithGracePeriod(30*time.Second),
		connmgr.WithSilencePeriod(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	partial := rcmgr.PartialLimitConfig{
		System: rcmgr.ResourceLimits{
			Conns:         rcmgr.LimitVal(systemConns),
			ConnsInbound:  rcmgr.LimitVal(systemConnsHalf),
			ConnsOutbound: rcmgr.LimitVal(systemConnsHalf),
		},
		PeerDefault: rcmgr.ResourceLimits{
			Conns:         rcmgr.LimitVal(peerConns),
			ConnsInbound:  rcmgr.LimitVal(peerConnsHalf),
			ConnsOutbound: rcmgr.LimitVal(peerConnsHalf),
		},
	}
	rm, err := rcmgr.NewResourceManager(rcmgr.NewFixedLimiter(partial.Build(rcmgr.DefaultLimits.AutoScale())))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager: %w", err)
	}

	return []libp2p.Option{libp2p.ConnectionManager(cm), libp2p.ResourceManager(rm)}, nil
}

// Host returns the underlying libp2p host.
func (hw *HostWrapper) Host() host.Host {
	return hw.host
}

// Close shuts the host down.
func (hw *HostWrapper) Close() error {
	return hw.host.Close()
}

// DialPeers opens connections to every validator in peers that has a known
// address. Failures are logged and counted; streams redial on demand later.
func (hw *HostWrapper) DialPeers(ctx context.Context, peers *PeerBook) int {
	failed := 0
	for _, node := range peers.Nodes() {
		info, ok := peers.Lookup(node)
		if !ok || info.ID == hw.host.ID() || len(info.Addrs) == 0 {
			continue
		}
		if err := hw.host.Connect(ctx, info); err != nil {
			failed++
			hw.log.Debug().
				Err(err).
				Uint16("node_id", uint16(node)).
				Str("peer_id", info.ID.String()).
				Msg("initial dial failed")
		}
	}
	return failed
}

// PeerIDFromEd25519 derives the libp2p peer ID of a raw ed25519 public key.
func PeerIDFromEd25519(publicKey []byte) (peer.ID, error) {
	pub, err := crypto.UnmarshalEd25519PublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal Ed25519 public key: %w", err)
	}
	return peer.IDFromPublicKey(pub)
}
