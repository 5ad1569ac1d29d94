package crypto

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// SchnorrCrypto signs BIP-340 Schnorr signatures over secp256k1. The message
// signed is the blake3 digest of the data, so arbitrary-length payloads fit the
// 32-byte message the scheme expects.
type SchnorrCrypto struct {
	nodeID     types.NodeID
	privateKey *btcec.PrivateKey
	validators *types.ValidatorSet
}

// NewSchnorrCrypto builds a signer from a 32-byte secp256k1 scalar.
func NewSchnorrCrypto(privateKey []byte, nodeID types.NodeID, validators *types.ValidatorSet) (*SchnorrCrypto, error) {
	if len(privateKey) != btcec.PrivKeyBytesLen {
		return nil, NewCryptoError(ErrorTypeInvalidKey,
			fmt.Sprintf("schnorr private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(privateKey)))
	}
	if validators == nil {
		return nil, NewCryptoError(ErrorTypeInvalidKey, "validator set cannot be nil")
	}
	priv, _ := btcec.PrivKeyFromBytes(privateKey)
	return &SchnorrCrypto{
		nodeID:     nodeID,
		privateKey: priv,
		validators: validators,
	}, nil
}

// PublicKey returns the 32-byte x-only public key.
func (c *SchnorrCrypto) PublicKey() types.PublicKey {
	return types.PublicKey(schnorr.SerializePubKey(c.privateKey.PubKey()))
}

// Sign signs blake3(data).
func (c *SchnorrCrypto) Sign(data []byte) ([]byte, error) {
	digest := Blake3Hash(data)
	sig, err := schnorr.Sign(c.privateKey, digest[:])
	if err != nil {
		return nil, NewCryptoErrorWithCause(ErrorTypeSignature, "schnorr signing failed", err)
	}
	return sig.Serialize(), nil
}

// Verify checks signature against nodeID's x-only public key.
func (c *SchnorrCrypto) Verify(data []byte, signature []byte, nodeID types.NodeID) error {
	pubBytes, err := c.validators.PublicKey(nodeID)
	if err != nil {
		return NewCryptoErrorWithCause(ErrorTypeUnknownSigner, fmt.Sprintf("no key for node %d", nodeID), err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return NewCryptoErrorWithCause(ErrorTypeInvalidKey, fmt.Sprintf("node %d has a malformed schnorr key", nodeID), err)
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return NewCryptoErrorWithCause(ErrorTypeVerification, fmt.Sprintf("unparseable signature from node %d", nodeID), err)
	}
	digest := Blake3Hash(data)
	if !sig.Verify(digest[:], pub) {
		return NewCryptoError(ErrorTypeVerification, fmt.Sprintf("bad signature from node %d", nodeID))
	}
	return nil
}

// Hash returns the blake3 digest of data.
func (c *SchnorrCrypto) Hash(data []byte) types.BlockHash {
	return Blake3Hash(data)
}
