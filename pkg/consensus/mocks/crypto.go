package mocks

import (
	"crypto/ed25519"
	"sync"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// CryptoFailureConfig contains failure injection parameters for crypto operations.
type CryptoFailureConfig struct {
	// FailSigns makes the next FailSigns Sign calls fail
	FailSigns int
	// RejectFrom makes Verify reject every signature from these nodes
	RejectFrom map[types.NodeID]bool
}

// DefaultCryptoFailureConfig returns a failure configuration with no failures.
func DefaultCryptoFailureConfig() CryptoFailureConfig {
	return CryptoFailureConfig{RejectFrom: make(map[types.NodeID]bool)}
}

// MockCrypto wraps a real ed25519 signer and adds failure injection and
// operation counters.
type MockCrypto struct {
	inner    crypto.CryptoInterface
	nodeID   types.NodeID
	failures CryptoFailureConfig
	mu       sync.Mutex

	signCount   uint64
	verifyCount uint64
}

var _ crypto.CryptoInterface = (*MockCrypto)(nil)

// NewMockCrypto creates a MockCrypto over inner.
func NewMockCrypto(inner crypto.CryptoInterface, nodeID types.NodeID, failures CryptoFailureConfig) *MockCrypto {
	if failures.RejectFrom == nil {
		failures.RejectFrom = make(map[types.NodeID]bool)
	}
	return &MockCrypto{inner: inner, nodeID: nodeID, failures: failures}
}

// Sign signs data unless a failure is pending.
func (mc *MockCrypto) Sign(data []byte) ([]byte, error) {
	mc.mu.Lock()
	mc.signCount++
	if mc.failures.FailSigns > 0 {
		mc.failures.FailSigns--
		mc.mu.Unlock()
		return nil, crypto.NewCryptoError(crypto.ErrorTypeSignature, "simulated signing failure")
	}
	mc.mu.Unlock()
	return mc.inner.Sign(data)
}

// Verify verifies with the wrapped signer unless nodeID is being rejected.
func (mc *MockCrypto) Verify(data []byte, signature []byte, nodeID types.NodeID) error {
	mc.mu.Lock()
	mc.verifyCount++
	reject := mc.failures.RejectFrom[nodeID]
	mc.mu.Unlock()

	if reject {
		return crypto.NewCryptoError(crypto.ErrorTypeVerification, "simulated verification rejection")
	}
	return mc.inner.Verify(data, signature, nodeID)
}

// Hash delegates to the wrapped signer.
func (mc *MockCrypto) Hash(data []byte) types.BlockHash {
	return mc.inner.Hash(data)
}

// UpdateFailures updates the failure configuration.
func (mc *MockCrypto) UpdateFailures(failures CryptoFailureConfig) {
	if failures.RejectFrom == nil {
		failures.RejectFrom = make(map[types.NodeID]bool)
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.failures = failures
}

// GetStats returns crypto operation statistics.
func (mc *MockCrypto) GetStats() CryptoStats {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return CryptoStats{NodeID: mc.nodeID, SignCount: mc.signCount, VerifyCount: mc.verifyCount}
}

// CryptoStats contains runtime statistics for MockCrypto.
type CryptoStats struct {
	NodeID      types.NodeID
	SignCount   uint64
	VerifyCount uint64
}

// Keyring holds deterministic ed25519 keys for an n-validator test network.
type Keyring struct {
	Validators *types.ValidatorSet
	Seeds      [][]byte
}

// NewKeyring derives n validators from fixed seeds.
func NewKeyring(n int) (*Keyring, error) {
	seeds := make([][]byte, n)
	keys := make([]types.PublicKey, n)
	for i := 0; i < n; i++ {
		seed := make([]byte, ed25519.SeedSize)
		for j := range seed {
			seed[j] = byte(i*31 + j + 1)
		}
		seeds[i] = seed
		keys[i] = types.PublicKey(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
	}
	vs, err := types.NewValidatorSet(keys)
	if err != nil {
		return nil, err
	}
	return &Keyring{Validators: vs, Seeds: seeds}, nil
}

// Signer returns the real ed25519 signer of validator id.
func (k *Keyring) Signer(id types.NodeID) *crypto.Ed25519Crypto {
	c, err := crypto.NewEd25519Crypto(k.Seeds[id], id, k.Validators)
	if err != nil {
		panic(err)
	}
	return c
}

// MockSigner wraps Signer(id) with failure injection.
func (k *Keyring) MockSigner(id types.NodeID) *MockCrypto {
	return NewMockCrypto(k.Signer(id), id, DefaultCryptoFailureConfig())
}
