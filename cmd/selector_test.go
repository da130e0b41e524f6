package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorCommand(t *testing.T) {
	t.Run("pack selfrica fields", func(t *testing.T) {
		out, _, err := run(t, "selector", "pack", "country")
		require.NoError(t, err)

		v := decodeOutput(t, out)
		assert.Equal(t, "selfrica", v["category"])
		assert.Equal(t, []any{"0", "7"}, v["selector"])
	})

	t.Run("pack MRZ fields", func(t *testing.T) {
		out, _, err := run(t, "selector", "pack", "--category", "passport", "nationality")
		require.NoError(t, err)

		bits, ok := decodeOutput(t, out)["selector"].([]any)
		require.True(t, ok)
		require.Len(t, bits, 88)
		assert.Equal(t, "1", bits[54])
		assert.Equal(t, "0", bits[0])
	})

	t.Run("unknown field", func(t *testing.T) {
		_, _, err := run(t, "selector", "pack", "nickname")
		require.Error(t, err)
	})

	t.Run("unpack", func(t *testing.T) {
		out, _, err := run(t, "selector", "unpack", "0", "7")
		require.NoError(t, err)
		assert.Equal(t, []any{"country"}, decodeOutput(t, out)["fields"])
	})

	t.Run("unpack arguments", func(t *testing.T) {
		_, _, err := run(t, "selector", "unpack", "7")
		assert.ErrorContains(t, err, "expected <high> <low>")

		_, _, err = run(t, "selector", "unpack", "x", "7")
		assert.ErrorContains(t, err, "invalid high half")
	})
}
