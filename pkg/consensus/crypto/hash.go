package crypto

import (
	"lukechampine.com/blake3"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// Blake3Hash is the digest used for block hashes, payload hashes and signing digests.
func Blake3Hash(data []byte) types.BlockHash {
	return types.BlockHash(blake3.Sum256(data))
}

// Address derives the 32-byte account address of a public key.
func Address(publicKey []byte) [32]byte {
	return blake3.Sum256(publicKey)
}
