package crypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// Ed25519Crypto signs with a local ed25519 key and verifies against the public
// keys of the validator set. Hashing is blake3.
type Ed25519Crypto struct {
	nodeID     types.NodeID
	privateKey ed25519.PrivateKey
	validators *types.ValidatorSet
}

// NewEd25519Crypto accepts either a 32-byte seed or a 64-byte private key.
func NewEd25519Crypto(privateKey []byte, nodeID types.NodeID, validators *types.ValidatorSet) (*Ed25519Crypto, error) {
	var priv ed25519.PrivateKey
	switch len(privateKey) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(privateKey)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(append([]byte(nil), privateKey...))
	default:
		return nil, NewCryptoError(ErrorTypeInvalidKey,
			fmt.Sprintf("ed25519 private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(privateKey)))
	}
	if validators == nil {
		return nil, NewCryptoError(ErrorTypeInvalidKey, "validator set cannot be nil")
	}
	return &Ed25519Crypto{
		nodeID:     nodeID,
		privateKey: priv,
		validators: validators,
	}, nil
}

// PublicKey returns the public half of the local key.
func (c *Ed25519Crypto) PublicKey() types.PublicKey {
	return types.PublicKey(c.privateKey.Public().(ed25519.PublicKey))
}

// Sign signs data. ed25519 signatures are deterministic.
func (c *Ed25519Crypto) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(c.privateKey, data), nil
}

// Verify checks signature against nodeID's registered public key.
func (c *Ed25519Crypto) Verify(data []byte, signature []byte, nodeID types.NodeID) error {
	pub, err := c.validators.PublicKey(nodeID)
	if err != nil {
		return NewCryptoErrorWithCause(ErrorTypeUnknownSigner, fmt.Sprintf("no key for node %d", nodeID), err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return NewCryptoError(ErrorTypeInvalidKey, fmt.Sprintf("node %d has a malformed ed25519 key", nodeID))
	}
	if len(signature) != ed25519.SignatureSize {
		return NewCryptoError(ErrorTypeVerification, fmt.Sprintf("signature from node %d has length %d", nodeID, len(signature)))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, signature) {
		return NewCryptoError(ErrorTypeVerification, fmt.Sprintf("bad signature from node %d", nodeID))
	}
	return nil
}

// Hash returns the blake3 digest of data.
func (c *Ed25519Crypto) Hash(data []byte) types.BlockHash {
	return Blake3Hash(data)
}
