package cmd

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/selfprove-teeclient/crypto"
	"github.com/anchorageoss/selfprove-teeclient/keys"
)

func TestKeygenCommand(t *testing.T) {
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "secret.hex")

	out, errOut, err := run(t, "--key-name", "alice", "keygen", "--key-dir", dir, "--secret-file", secretPath)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Client key written")

	key, err := keys.LoadKeyFromFile(filepath.Join(dir, "alice.private"))
	require.NoError(t, err)
	pub, err := crypto.MarshalPublicKey(&key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(pub), strings.TrimSpace(out))

	raw, err := os.ReadFile(secretPath)
	require.NoError(t, err)
	_, err = keys.ParseSecret(string(raw))
	require.NoError(t, err)

	t.Run("refuses to overwrite", func(t *testing.T) {
		_, _, err := run(t, "--key-name", "alice", "keygen", "--key-dir", dir)
		assert.ErrorContains(t, err, "already exists")

		_, _, err = run(t, "--key-name", "alice", "keygen", "--key-dir", dir, "--force")
		require.NoError(t, err)
	})
}
