package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/selfprove-teeclient/crypto"
	"github.com/anchorageoss/selfprove-teeclient/keys"
)

// KeygenCommand creates the keygen command
func KeygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a client key and a user secret",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "key-dir",
				Usage: "Key directory (defaults to ~/.config/selfprove/keys)",
			},
			&cli.StringFlag{
				Name:  "secret-file",
				Usage: "Also write a new user secret to this file",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite existing files",
			},
		},
		Action: runKeygenCommand,
	}
}

func runKeygenCommand(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.String("key-dir")
	if dir == "" {
		var err error
		if dir, err = keys.DefaultDir(); err != nil {
			return err
		}
	}
	keyPath := filepath.Join(dir, cmd.String("key-name")+".private")
	if err := checkOverwrite(keyPath, cmd.Bool("force")); err != nil {
		return err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	if err := keys.WriteKeyFile(keyPath, key); err != nil {
		return err
	}
	pub, err := crypto.MarshalPublicKey(&key.PublicKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr(cmd), "✓ Client key written to %s\n", keyPath)
	fmt.Fprintf(stdout(cmd), "%x\n", pub)

	if path := cmd.String("secret-file"); path != "" {
		if err := checkOverwrite(path, cmd.Bool("force")); err != nil {
			return err
		}
		secret, err := keys.GenerateSecret()
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(fmt.Sprintf("%064x\n", secret)), 0o600); err != nil {
			return fmt.Errorf("failed to write secret file: %w", err)
		}
		fmt.Fprintf(stderr(cmd), "✓ User secret written to %s\n", path)
	}
	return nil
}

func checkOverwrite(path string, force bool) error {
	if force {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	return nil
}
