package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/selfprove-teeclient/api"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/ofac"
)

// OFACCommand creates the ofac command
func OFACCommand() *cli.Command {
	return &cli.Command{
		Name:  "ofac",
		Usage: "Sanctions-list tree tools",
		Commands: []*cli.Command{
			ofacProofCommand(),
		},
	}
}

func ofacProofCommand() *cli.Command {
	return &cli.Command{
		Name:  "proof",
		Usage: "Build a sanctions-list non-membership witness for a name and date of birth",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "name",
				Usage:    "Holder name",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "dob",
				Usage:    "Date of birth (YYYYMMDD)",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "level",
				Usage: "Proof level (2 = name and DOB, 1 = name and year of birth)",
				Value: ofac.LevelNameDob,
			},
			&cli.StringFlag{
				Name:  "entries",
				Usage: "Local sanctions list as JSON [{name, dob}] instead of the tree server",
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "Document category whose published tree is fetched",
				Value: document.Passport.String(),
			},
		},
		Action: runOFACProofCommand,
	}
}

func runOFACProofCommand(ctx context.Context, cmd *cli.Command) error {
	level := cmd.Int("level")
	if level != ofac.LevelNameDob && level != ofac.LevelNameYob {
		return ofac.ErrInvalidLevel
	}

	t, err := loadOFACTree(ctx, cmd, level)
	if err != nil {
		return err
	}
	proof, leaf, err := ofac.ProofForLevel(ctx, t, level, cmd.String("name"), cmd.String("dob"))
	if err != nil {
		return err
	}
	result, err := ofac.Evaluate(proof, leaf)
	if err != nil {
		return err
	}

	if result == 1 {
		fmt.Fprintf(stderr(cmd), "✓ Not on the sanctions list (level %d)\n", level)
	} else {
		fmt.Fprintf(stderr(cmd), "✗ Match on the sanctions list (level %d)\n", level)
	}
	return writeJSON(stdout(cmd), map[string]any{
		"level":  level,
		"leaf":   leaf.String(),
		"proof":  proof,
		"result": result,
	})
}

func loadOFACTree(ctx context.Context, cmd *cli.Command, level int) (*ofac.Tree, error) {
	if path := cmd.String("entries"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read entries: %w", err)
		}
		var entries []ofac.Entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("failed to decode entries: %w", err)
		}
		return ofac.FromEntries(ctx, ofac.DefaultDepth, level, entries)
	}

	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	category, err := document.ParseCategory(cmd.String("category"))
	if err != nil {
		return nil, err
	}
	list := api.OFACNameDob
	if level == ofac.LevelNameYob {
		list = api.OFACNameYob
	}

	client := api.NewClient(cfg.TreeServerURL, &http.Client{Timeout: 30 * time.Second})
	leaves, err := client.OFACLeaves(ctx, category, list)
	if err != nil {
		return nil, err
	}
	return ofac.FromLeaves(ctx, ofac.DefaultDepth, leaves)
}
