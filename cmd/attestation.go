package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/selfprove-teeclient/chain"
	"github.com/anchorageoss/selfprove-teeclient/config"
)

// AttestationCommand creates the attestation command
func AttestationCommand() *cli.Command {
	return &cli.Command{
		Name:  "attestation",
		Usage: "Inspect TEE attestation documents",
		Commands: []*cli.Command{
			verifyAttestationCommand(),
		},
	}
}

func verifyAttestationCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Verify an attestation document against the pinned root and the image allow-list",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Attestation document (JWT text or COSE/CBOR binary)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "user-pubkey",
				Usage: "Expected client public key (hex) bound into the document",
			},
		},
		Action: runVerifyAttestationCommand,
	}
}

func runVerifyAttestationCommand(ctx context.Context, cmd *cli.Command) error {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return err
	}
	doc, err := os.ReadFile(cmd.String("file"))
	if err != nil {
		return fmt.Errorf("failed to read attestation: %w", err)
	}
	expected, err := decodeHex(cmd.String("user-pubkey"))
	if err != nil {
		return fmt.Errorf("invalid --user-pubkey: %w", err)
	}

	var chainClient *chain.Client
	if cfg.AllowedImages == "" && cfg.RPCURL != "" && cfg.PCR0ManagerAddress != "" {
		chainClient, err = chain.Dial(ctx, cfg.RPCURL, common.HexToAddress(cfg.HubAddress), common.HexToAddress(cfg.PCR0ManagerAddress))
		if err != nil {
			return err
		}
	}
	validator, err := cfg.Validator(imageAllowList(cfg, chainClient))
	if err != nil {
		return err
	}

	errOut := stderr(cmd)
	fmt.Fprintf(errOut, "\n=== STEP 1: Verify Attestation Document ===\n")
	if cfg.AttestationFormat == config.FormatJWT {
		doc = bytes.TrimSpace(doc)
	}
	result, err := validator.Validate(ctx, doc)
	if err != nil {
		return fmt.Errorf("attestation verification failed: %w", err)
	}
	fmt.Fprintf(errOut, "✓ Certificate chain verified against the pinned root (%s)\n", cfg.AttestationFormat)
	fmt.Fprintf(errOut, "✓ Image hash: %s\n", result.ImageHash)
	if validator.Images == nil {
		fmt.Fprintf(errOut, "ℹ️  INFO: no image allow-list configured (dev mode)\n")
	} else {
		fmt.Fprintf(errOut, "✓ Image is on the allow-list\n")
	}

	if expected != nil {
		fmt.Fprintf(errOut, "\n=== STEP 2: Check Key Binding ===\n")
		if !bytes.Equal(expected, result.UserPubkey) {
			return fmt.Errorf("attestation is bound to %x, expected %x", result.UserPubkey, expected)
		}
		fmt.Fprintf(errOut, "✓ Client public key matches\n")
	}

	fmt.Fprintf(errOut, "\n=== VERIFICATION COMPLETE ===\n")
	return writeJSON(stdout(cmd), map[string]any{
		"verified":     result.Verified,
		"imageHash":    result.ImageHash,
		"userPubkey":   hex.EncodeToString(result.UserPubkey),
		"serverPubkey": hex.EncodeToString(result.ServerPubkey),
	})
}
