// Package keys generates and checks the keys a node keeps in its config: the
// consensus signing key of the configured scheme and the libp2p network key.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	lcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
)

// KeyManager handles cryptographic key operations
type KeyManager struct{}

// NewKeyManager creates a new KeyManager instance
func NewKeyManager() *KeyManager {
	return &KeyManager{}
}

// GeneratePrivateKey generates a signing key for scheme and returns it as base64.
func (km *KeyManager) GeneratePrivateKey(scheme crypto.Scheme) (string, error) {
	switch scheme {
	case crypto.SchemeEd25519:
		_, privateKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return "", fmt.Errorf("failed to generate Ed25519 key: %w", err)
		}
		return base64.StdEncoding.EncodeToString(privateKey), nil
	case crypto.SchemeSchnorr:
		privateKey, err := btcec.NewPrivateKey()
		if err != nil {
			return "", fmt.Errorf("failed to generate secp256k1 key: %w", err)
		}
		return base64.StdEncoding.EncodeToString(privateKey.Serialize()), nil
	default:
		return "", fmt.Errorf("unsupported signature scheme %q", scheme)
	}
}

// ValidatePrivateKey checks that a base64 key has the size scheme requires.
// An empty key is valid: it is generated on first start.
func (km *KeyManager) ValidatePrivateKey(scheme crypto.Scheme, privateKeyBase64 string) error {
	if privateKeyBase64 == "" {
		return nil
	}
	_, err := km.DecodePrivateKey(scheme, privateKeyBase64)
	return err
}

// DecodePrivateKey returns the raw key bytes accepted by crypto.New.
func (km *KeyManager) DecodePrivateKey(scheme crypto.Scheme, privateKeyBase64 string) ([]byte, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("private key must be valid base64: %w", err)
	}

	switch scheme {
	case crypto.SchemeEd25519:
		if len(keyBytes) != ed25519.PrivateKeySize && len(keyBytes) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 private key must be %d or %d bytes, got %d",
				ed25519.SeedSize, ed25519.PrivateKeySize, len(keyBytes))
		}
	case crypto.SchemeSchnorr:
		if len(keyBytes) != btcec.PrivKeyBytesLen {
			return nil, fmt.Errorf("schnorr private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(keyBytes))
		}
	default:
		return nil, fmt.Errorf("unsupported signature scheme %q", scheme)
	}
	return keyBytes, nil
}

// GetPublicKey derives the base64 public key that goes into the roster.
func (km *KeyManager) GetPublicKey(scheme crypto.Scheme, privateKeyBase64 string) (string, error) {
	keyBytes, err := km.DecodePrivateKey(scheme, privateKeyBase64)
	if err != nil {
		return "", err
	}

	var publicKey []byte
	switch scheme {
	case crypto.SchemeEd25519:
		if len(keyBytes) == ed25519.SeedSize {
			keyBytes = ed25519.NewKeyFromSeed(keyBytes)
		}
		publicKey = ed25519.PrivateKey(keyBytes).Public().(ed25519.PublicKey)
	case crypto.SchemeSchnorr:
		priv, _ := btcec.PrivKeyFromBytes(keyBytes)
		publicKey = schnorr.SerializePubKey(priv.PubKey())
	}

	return base64.StdEncoding.EncodeToString(publicKey), nil
}

// GenerateNetworkKey creates a libp2p ed25519 identity and returns its raw
// private key as base64.
func (km *KeyManager) GenerateNetworkKey() (string, error) {
	priv, _, err := lcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate network key: %w", err)
	}
	raw, err := priv.Raw()
	if err != nil {
		return "", fmt.Errorf("failed to encode network key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// NetworkIdentity decodes a base64 network key into a libp2p key.
func (km *KeyManager) NetworkIdentity(networkKeyBase64 string) (lcrypto.PrivKey, error) {
	raw, err := base64.StdEncoding.DecodeString(networkKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("network key must be valid base64: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("network key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return lcrypto.UnmarshalEd25519PrivateKey(raw)
}

// IdentityFromSigningKey reuses an ed25519 consensus key as the libp2p
// identity, so peers can derive the node's peer ID from its roster key.
func (km *KeyManager) IdentityFromSigningKey(scheme crypto.Scheme, privateKeyBase64 string) (lcrypto.PrivKey, error) {
	if scheme != crypto.SchemeEd25519 {
		return nil, fmt.Errorf("%s keys cannot serve as a network identity", scheme)
	}
	keyBytes, err := km.DecodePrivateKey(scheme, privateKeyBase64)
	if err != nil {
		return nil, err
	}
	if len(keyBytes) == ed25519.SeedSize {
		keyBytes = ed25519.NewKeyFromSeed(keyBytes)
	}
	return lcrypto.UnmarshalEd25519PrivateKey(keyBytes)
}

// PeerID returns the libp2p peer ID of a base64 network key.
func (km *KeyManager) PeerID(networkKeyBase64 string) (peer.ID, error) {
	priv, err := km.NetworkIdentity(networkKeyBase64)
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(priv)
}
