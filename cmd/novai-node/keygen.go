package main

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/NOVAInetwork/NOVAI-node/internal/keys"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
)

// generatedKeys is printed as YAML so it can be pasted into config and roster files.
type generatedKeys struct {
	SignatureScheme string `yaml:"signature_scheme"`
	PrivateKey      string `yaml:"private_key"`
	PublicKey       string `yaml:"public_key"`
	NetworkKey      string `yaml:"network_key,omitempty"`
	PeerID          string `yaml:"peer_id"`
}

func keygenCommand() *cobra.Command {
	var scheme string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generates a validator signing key and its network identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := generateKeys(keys.NewKeyManager(), crypto.Scheme(scheme))
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(out)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", string(crypto.SchemeEd25519), "signature scheme: ed25519 or schnorr")
	return cmd
}

func generateKeys(km *keys.KeyManager, scheme crypto.Scheme) (*generatedKeys, error) {
	priv, err := km.GeneratePrivateKey(scheme)
	if err != nil {
		return nil, err
	}
	pub, err := km.GetPublicKey(scheme, priv)
	if err != nil {
		return nil, err
	}
	out := &generatedKeys{
		SignatureScheme: string(scheme),
		PrivateKey:      priv,
		PublicKey:       pub,
	}

	if scheme == crypto.SchemeEd25519 {
		identity, err := km.IdentityFromSigningKey(scheme, priv)
		if err != nil {
			return nil, err
		}
		pid, err := peer.IDFromPrivateKey(identity)
		if err != nil {
			return nil, fmt.Errorf("failed to derive peer ID: %w", err)
		}
		out.PeerID = pid.String()
		return out, nil
	}

	out.NetworkKey, err = km.GenerateNetworkKey()
	if err != nil {
		return nil, err
	}
	pid, err := km.PeerID(out.NetworkKey)
	if err != nil {
		return nil, err
	}
	out.PeerID = pid.String()
	return out, nil
}
