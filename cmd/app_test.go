package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

// run executes the app with captured output
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(context.Background(), append([]string{"selfprove"}, args...))
	return out.String(), errOut.String(), err
}

func decodeOutput(t *testing.T, out string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestApp(t *testing.T) {
	t.Run("app structure", func(t *testing.T) {
		app := App()
		require.Equal(t, "selfprove", app.Name)

		names := make([]string, 0, len(app.Commands))
		for _, c := range app.Commands {
			names = append(names, c.Name)
			require.NotEmpty(t, c.Usage, c.Name)
		}
		require.ElementsMatch(t, []string{
			"prove", "document", "keygen", "selector", "attestation", "ofac", "verify", "serve",
		}, names)
	})

	t.Run("help command", func(t *testing.T) {
		out, _, err := run(t, "--help")
		require.NoError(t, err)
		require.Contains(t, out, "selfprove")
		require.Contains(t, out, "COMMANDS:")
		require.Contains(t, out, "--tree-server")
	})

	t.Run("prove asks before proving by default", func(t *testing.T) {
		var confirm *cli.BoolFlag
		for _, f := range ProveCommand().Flags {
			if b, ok := f.(*cli.BoolFlag); ok && b.Name == "confirm" {
				confirm = b
			}
		}
		require.NotNil(t, confirm)
		require.False(t, confirm.Value)
	})

	t.Run("subcommands", func(t *testing.T) {
		for _, c := range App().Commands {
			switch c.Name {
			case "document":
				require.Len(t, c.Commands, 4)
			case "selector":
				require.Len(t, c.Commands, 2)
			case "attestation", "ofac":
				require.Len(t, c.Commands, 1)
			}
		}
	})
}
