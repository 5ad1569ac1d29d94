// Package crypto defines the cryptographic capability the consensus core calls
// without implementing: signing, verification and hashing of byte payloads.
package crypto

import (
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// CryptoInterface provides cryptographic operations for consensus.
// All three operations must be deterministic over the bytes they receive.
type CryptoInterface interface {
	// Sign signs data with the local validator's key.
	Sign(data []byte) ([]byte, error)
	// Verify checks that signature over data was produced by nodeID.
	Verify(data []byte, signature []byte, nodeID types.NodeID) error
	// Hash returns the 32-byte digest of data.
	Hash(data []byte) types.BlockHash
}

// Scheme names a signature scheme selectable from configuration.
type Scheme string

const (
	SchemeEd25519 Scheme = "ed25519"
	SchemeSchnorr Scheme = "schnorr"
)

// New builds the CryptoInterface for scheme from a raw private key.
func New(scheme Scheme, privateKey []byte, nodeID types.NodeID, validators *types.ValidatorSet) (CryptoInterface, error) {
	switch scheme {
	case SchemeEd25519:
		return NewEd25519Crypto(privateKey, nodeID, validators)
	case SchemeSchnorr:
		return NewSchnorrCrypto(privateKey, nodeID, validators)
	default:
		return nil, NewCryptoError(ErrorTypeInvalidKey, "unsupported signature scheme: "+string(scheme))
	}
}
