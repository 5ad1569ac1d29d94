package keys

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

func TestKeyManager_GeneratePrivateKey(t *testing.T) {
	km := NewKeyManager()

	for _, tt := range []struct {
		scheme crypto.Scheme
		size   int
	}{
		{crypto.SchemeEd25519, 64},
		{crypto.SchemeSchnorr, 32},
	} {
		t.Run(string(tt.scheme), func(t *testing.T) {
			first, err := km.GeneratePrivateKey(tt.scheme)
			require.NoError(t, err)
			second, err := km.GeneratePrivateKey(tt.scheme)
			require.NoError(t, err)
			assert.NotEqual(t, first, second)

			raw, err := base64.StdEncoding.DecodeString(first)
			require.NoError(t, err)
			assert.Len(t, raw, tt.size)
			assert.NoError(t, km.ValidatePrivateKey(tt.scheme, first))
		})
	}

	_, err := km.GeneratePrivateKey("rsa")
	assert.Error(t, err)
}

func TestKeyManager_ValidatePrivateKey(t *testing.T) {
	km := NewKeyManager()

	assert.NoError(t, km.ValidatePrivateKey(crypto.SchemeEd25519, ""), "empty keys are generated later")
	assert.Error(t, km.ValidatePrivateKey(crypto.SchemeEd25519, "not base64!"))
	assert.Error(t, km.ValidatePrivateKey(crypto.SchemeEd25519, base64.StdEncoding.EncodeToString(make([]byte, 16))))

	schnorrKey, err := km.GeneratePrivateKey(crypto.SchemeSchnorr)
	require.NoError(t, err)
	assert.NoError(t, km.ValidatePrivateKey(crypto.SchemeEd25519, schnorrKey), "32 bytes is a valid ed25519 seed")

	edKey, err := km.GeneratePrivateKey(crypto.SchemeEd25519)
	require.NoError(t, err)
	assert.Error(t, km.ValidatePrivateKey(crypto.SchemeSchnorr, edKey))
}

// A generated key must produce a signer whose signatures verify under the
// public key written into the roster.
func TestKeyManager_KeysSignAndVerify(t *testing.T) {
	km := NewKeyManager()

	for _, scheme := range []crypto.Scheme{crypto.SchemeEd25519, crypto.SchemeSchnorr} {
		t.Run(string(scheme), func(t *testing.T) {
			priv, err := km.GeneratePrivateKey(scheme)
			require.NoError(t, err)
			pub, err := km.GetPublicKey(scheme, priv)
			require.NoError(t, err)
			pubBytes, err := base64.StdEncoding.DecodeString(pub)
			require.NoError(t, err)

			roster := []types.PublicKey{pubBytes}
			for len(roster) < types.MinValidators {
				roster = append(roster, make(types.PublicKey, 32))
			}
			vs, err := types.NewValidatorSet(roster)
			require.NoError(t, err)
			raw, err := km.DecodePrivateKey(scheme, priv)
			require.NoError(t, err)
			signer, err := crypto.New(scheme, raw, 0, vs)
			require.NoError(t, err)

			sig, err := signer.Sign([]byte("payload"))
			require.NoError(t, err)
			assert.NoError(t, signer.Verify([]byte("payload"), sig, 0))
		})
	}
}

func TestKeyManager_NetworkKey(t *testing.T) {
	km := NewKeyManager()

	key, err := km.GenerateNetworkKey()
	require.NoError(t, err)

	id, err := km.PeerID(key)
	require.NoError(t, err)
	again, err := km.PeerID(key)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := km.GenerateNetworkKey()
	require.NoError(t, err)
	otherID, err := km.PeerID(other)
	require.NoError(t, err)
	assert.NotEqual(t, id, otherID)

	_, err = km.PeerID("AAAA")
	assert.Error(t, err)
}

func TestKeyManager_IdentityFromSigningKey(t *testing.T) {
	km := NewKeyManager()

	priv, err := km.GeneratePrivateKey(crypto.SchemeEd25519)
	require.NoError(t, err)
	pub, err := km.GetPublicKey(crypto.SchemeEd25519, priv)
	require.NoError(t, err)

	identity, err := km.IdentityFromSigningKey(crypto.SchemeEd25519, priv)
	require.NoError(t, err)
	raw, err := identity.GetPublic().Raw()
	require.NoError(t, err)
	assert.Equal(t, pub, base64.StdEncoding.EncodeToString(raw))

	schnorrKey, err := km.GeneratePrivateKey(crypto.SchemeSchnorr)
	require.NoError(t, err)
	_, err = km.IdentityFromSigningKey(crypto.SchemeSchnorr, schnorrKey)
	assert.Error(t, err)
}
