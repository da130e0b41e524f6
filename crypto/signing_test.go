package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRawECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	digest := sha512.Sum384([]byte("cose payload"))
	sig, err := SignRawECDSA(key, digest[:])
	require.NoError(t, err)
	require.Len(t, sig, 96)

	t.Run("valid signature", func(t *testing.T) {
		assert.True(t, VerifyRawECDSA(&key.PublicKey, digest[:], sig))
	})

	t.Run("wrong digest", func(t *testing.T) {
		other := sha512.Sum384([]byte("other"))
		assert.False(t, VerifyRawECDSA(&key.PublicKey, other[:], sig))
	})

	t.Run("wrong key", func(t *testing.T) {
		otherKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		require.NoError(t, err)
		assert.False(t, VerifyRawECDSA(&otherKey.PublicKey, digest[:], sig))
	})

	t.Run("corrupted signature", func(t *testing.T) {
		bad := append([]byte(nil), sig...)
		bad[0] ^= 0xFF
		assert.False(t, VerifyRawECDSA(&key.PublicKey, digest[:], bad))
	})

	t.Run("wrong signature length", func(t *testing.T) {
		assert.False(t, VerifyRawECDSA(&key.PublicKey, digest[:], sig[:64]))
		assert.False(t, VerifyRawECDSA(&key.PublicKey, digest[:], []byte("short")))
	})

	t.Run("nil public key", func(t *testing.T) {
		assert.False(t, VerifyRawECDSA(nil, digest[:], sig))
	})

	t.Run("p256", func(t *testing.T) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		digest := sha256.Sum256([]byte("test data"))
		sig, err := SignRawECDSA(key, digest[:])
		require.NoError(t, err)
		assert.Len(t, sig, 64)
		assert.True(t, VerifyRawECDSA(&key.PublicKey, digest[:], sig))
	})
}
