package attestation

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePCRs(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"single", "0:" + strings.Repeat("ab", 48), 1, false},
		{"multiple with spaces", "0:aa, 1:bb ,2:0xcc", 3, false},
		{"missing colon", "0aa", 0, true},
		{"bad index", "x:aa", 0, true},
		{"bad hex", "0:zz", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := ParsePCRs(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, rules, tt.want)
		})
	}
}

func TestStaticAllowList(t *testing.T) {
	image := strings.Repeat("ab", 48)
	rules, err := ParsePCRs("0:" + image + ",1:" + strings.Repeat("cd", 48))
	require.NoError(t, err)

	list := NewStaticAllowList(rules)
	ctx := context.Background()

	ok, err := list.IsAllowed(ctx, image)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = list.IsAllowed(ctx, strings.Repeat("cd", 48))
	require.NoError(t, err)
	assert.False(t, ok, "only PCR0 identifies an image")

	_, err = list.IsAllowed(ctx, "not-hex")
	assert.Error(t, err)
}

func TestValidator(t *testing.T) {
	c := newJWTChain(t)
	verifier := &JWTVerifier{RootFingerprint: c.fingerprint(), Now: func() time.Time { return testNow }}

	fields := defaultTokenFields()
	token := []byte(c.token(t, fields))
	image := strings.TrimPrefix(fields.imageDigest, "sha256:")
	ctx := context.Background()

	t.Run("allowed image", func(t *testing.T) {
		rules, err := ParsePCRs("0:" + image)
		require.NoError(t, err)

		v := &Validator{Verifier: verifier, Images: NewStaticAllowList(rules)}
		res, err := v.Validate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, image, res.ImageHash)
	})

	t.Run("unknown image", func(t *testing.T) {
		rules, err := ParsePCRs("0:" + hex.EncodeToString([]byte("something else entirely, 32 b!!")))
		require.NoError(t, err)

		v := &Validator{Verifier: verifier, Images: NewStaticAllowList(rules)}
		_, err = v.Validate(ctx, token)
		assert.ErrorIs(t, err, ErrImageNotAllowed)
	})

	t.Run("no allow-list outside dev mode", func(t *testing.T) {
		v := &Validator{Verifier: verifier}
		_, err := v.Validate(ctx, token)
		assert.ErrorIs(t, err, ErrImageNotAllowed)

		v.DevMode = true
		_, err = v.Validate(ctx, token)
		assert.NoError(t, err)
	})
}
