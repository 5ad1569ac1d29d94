package types

import (
	"encoding/base64"
	"fmt"

	"github.com/multiformats/go-multiaddr"
)

// Constants for validation
const (
	// MaxAddresses defines the maximum number of addresses per validator
	MaxAddresses = 10
	// MinPublicKeyLength and MaxPublicKeyLength bound decoded key sizes across
	// the supported signature schemes.
	MinPublicKeyLength = 32
	MaxPublicKeyLength = 33
)

// ValidatorEntry is one roster line: a consensus identity and where to reach it.
type ValidatorEntry struct {
	ID        uint16   `yaml:"id" json:"id"`
	PublicKey string   `yaml:"public_key" json:"public_key"`
	PeerID    string   `yaml:"peer_id,omitempty" json:"peer_id,omitempty"`
	Addresses []string `yaml:"addresses" json:"addresses"`
}

// Roster represents the root structure of the validators file.
type Roster struct {
	Validators []ValidatorEntry `yaml:"validators" json:"validators"`
}

// Validate validates the entry format and constraints
func (v *ValidatorEntry) Validate() error {
	if _, err := v.DecodePublicKey(); err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}

	if len(v.Addresses) > MaxAddresses {
		return fmt.Errorf("validator cannot have more than %d addresses", MaxAddresses)
	}

	for i, addr := range v.Addresses {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("address %d is invalid: %w", i, err)
		}
	}

	return nil
}

// DecodePublicKey returns the raw public key bytes.
func (v *ValidatorEntry) DecodePublicKey() ([]byte, error) {
	if v.PublicKey == "" {
		return nil, fmt.Errorf("public key cannot be empty")
	}

	decoded, err := base64.StdEncoding.DecodeString(v.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("public key must be valid base64: %w", err)
	}

	if len(decoded) < MinPublicKeyLength || len(decoded) > MaxPublicKeyLength {
		return nil, fmt.Errorf("public key must be %d-%d bytes when decoded, got %d bytes",
			MinPublicKeyLength, MaxPublicKeyLength, len(decoded))
	}

	return decoded, nil
}

// Multiaddrs parses the entry's addresses.
func (v *ValidatorEntry) Multiaddrs() ([]multiaddr.Multiaddr, error) {
	out := make([]multiaddr.Multiaddr, 0, len(v.Addresses))
	for _, addr := range v.Addresses {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, ma)
	}
	return out, nil
}

// String returns a string representation of the entry
func (v *ValidatorEntry) String() string {
	key := v.PublicKey
	if len(key) > 8 {
		key = key[:8]
	}
	return fmt.Sprintf("Validator{ID: %d, PublicKey: %s..., Addresses: %v}", v.ID, key, v.Addresses)
}
