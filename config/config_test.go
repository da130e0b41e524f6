package config

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/selfprove-teeclient/attestation"
	"github.com/anchorageoss/selfprove-teeclient/circuits"
)

const testFingerprint = "641a0321a3e244efe456463195d606317ed7cdcc3c1756e09893f3c68f79bb5b"

func TestDefault(t *testing.T) {
	for _, env := range []circuits.Environment{circuits.Prod, circuits.Staging} {
		t.Run(string(env), func(t *testing.T) {
			cfg := Default(env)
			require.NoError(t, cfg.Validate())
			assert.Equal(t, env, cfg.Env)
			assert.Len(t, cfg.TEEURLs, 3)
		})
	}

	assert.Equal(t, uint64(42220), Default(circuits.Prod).ChainID)
	assert.False(t, Default(circuits.Prod).DevMode)
	assert.True(t, Default(circuits.Staging).DevMode)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown env", func(c *Config) { c.Env = "dev" }, "unsupported environment"},
		{"tree server scheme", func(c *Config) { c.TreeServerURL = "ftp://tree.example" }, "tree server"},
		{"missing TEE url", func(c *Config) { delete(c.TEEURLs, circuits.DSC) }, "dsc TEE URL is required"},
		{"https TEE url", func(c *Config) { c.TEEURLs[circuits.Register] = "https://tee.example" }, "register TEE"},
		{"hub address", func(c *Config) { c.HubAddress = "0x1234" }, "invalid hub address"},
		{"pcr0 manager", func(c *Config) { c.PCR0ManagerAddress = "nope" }, "invalid PCR0 manager"},
		{"format", func(c *Config) { c.AttestationFormat = "tpm" }, "invalid attestation format"},
		{"fingerprint hex", func(c *Config) { c.RootFingerprint = "zz" }, "invalid root fingerprint"},
		{"fingerprint length", func(c *Config) { c.RootFingerprint = "abcd" }, "invalid root fingerprint length"},
		{"image rules", func(c *Config) { c.AllowedImages = "0:xyz" }, "invalid PCR hex value"},
		{"negative delay", func(c *Config) { c.RegisterDelay = -1 }, "register delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(circuits.Staging)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestImageRules(t *testing.T) {
	cfg := Default(circuits.Prod)
	pcr0 := strings.Repeat("ab", 48)
	cfg.AllowedImages = "0:" + pcr0 + ", 1:" + strings.Repeat("cd", 48)

	rules, err := cfg.ImageRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, uint(0), rules[0].Index)

	allowed, err := attestation.NewStaticAllowList(rules).IsAllowed(t.Context(), pcr0)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestVerifier(t *testing.T) {
	t.Run("jwt requires a fingerprint", func(t *testing.T) {
		cfg := Default(circuits.Prod)
		_, err := cfg.Verifier()
		assert.ErrorContains(t, err, "requires a root fingerprint")

		cfg.RootFingerprint = testFingerprint
		v, err := cfg.Verifier()
		require.NoError(t, err)
		assert.IsType(t, &attestation.JWTVerifier{}, v)
	})

	t.Run("nitro", func(t *testing.T) {
		cfg := Default(circuits.Prod)
		cfg.AttestationFormat = FormatNitro
		v, err := cfg.Verifier()
		require.NoError(t, err)
		nitro, ok := v.(*attestation.NitroVerifier)
		require.True(t, ok)
		assert.Equal(t, attestation.AWSNitroRootFingerprint, hex.EncodeToString(nitro.RootFingerprint))

		cfg.RootFingerprint = "0x" + strings.Repeat("ab", 32)
		v, err = cfg.Verifier()
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{0xab}, 32), v.(*attestation.NitroVerifier).RootFingerprint)
	})

	t.Run("validator carries dev mode", func(t *testing.T) {
		cfg := Default(circuits.Staging)
		cfg.RootFingerprint = testFingerprint
		validator, err := cfg.Validator(nil)
		require.NoError(t, err)
		assert.True(t, validator.DevMode)
	})
}

func TestEndpointTable(t *testing.T) {
	cfg := Default(circuits.Staging)
	table := cfg.EndpointTable()

	u, err := table.URL(circuits.Disclose, "vc_and_disclose")
	require.NoError(t, err)
	assert.Equal(t, "wss://websocket.staging.self.xyz/disclose", u)

	cfg.TEEURLs[circuits.Disclose] = "wss://changed.example"
	u, err = table.URL(circuits.Disclose, "vc_and_disclose")
	require.NoError(t, err)
	assert.Equal(t, "wss://websocket.staging.self.xyz/disclose", u, "the table is a copy")
}

func TestDocumentStorePath(t *testing.T) {
	cfg := Default(circuits.Prod)
	cfg.StorePath = "/tmp/catalog.bin"
	path, err := cfg.DocumentStorePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/catalog.bin", path)

	t.Setenv("HOME", t.TempDir())
	cfg.StorePath = ""
	path, err = cfg.DocumentStorePath()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "selfprove/documents.bin"))
}
