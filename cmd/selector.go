package cmd

import (
	"context"
	"fmt"
	"math/big"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/selfprove-teeclient/disclose"
	"github.com/anchorageoss/selfprove-teeclient/document"
)

// SelectorCommand creates the selector command
func SelectorCommand() *cli.Command {
	return &cli.Command{
		Name:  "selector",
		Usage: "Pack and unpack selective-disclosure selectors",
		Commands: []*cli.Command{
			packSelectorCommand(),
			unpackSelectorCommand(),
		},
	}
}

func packSelectorCommand() *cli.Command {
	return &cli.Command{
		Name:      "pack",
		Usage:     "Pack field names into a disclosure selector",
		ArgsUsage: "<field>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "category",
				Usage: "Document category (selfrica, passport or id_card)",
				Value: document.Selfrica.String(),
			},
		},
		Action: runPackSelectorCommand,
	}
}

func runPackSelectorCommand(ctx context.Context, cmd *cli.Command) error {
	category, err := document.ParseCategory(cmd.String("category"))
	if err != nil {
		return err
	}
	names := cmd.Args().Slice()

	if category != document.Selfrica {
		fields := make([]document.MRZField, len(names))
		for i, n := range names {
			fields[i] = document.MRZField(n)
		}
		bits, err := disclose.MRZSelector(category, fields)
		if err != nil {
			return err
		}
		return writeJSON(stdout(cmd), map[string]any{
			"category": category.String(),
			"selector": bits,
		})
	}

	fields := make([]document.Field, len(names))
	for i, n := range names {
		fields[i] = document.Field(n)
	}
	sel, err := disclose.SelectorFromFields(fields)
	if err != nil {
		return err
	}
	return writeJSON(stdout(cmd), map[string]any{
		"category": category.String(),
		"selector": sel.Strings(),
	})
}

func unpackSelectorCommand() *cli.Command {
	return &cli.Command{
		Name:      "unpack",
		Usage:     "List the Selfrica fields a packed selector reveals",
		ArgsUsage: "<high> <low>",
		Action:    runUnpackSelectorCommand,
	}
}

func runUnpackSelectorCommand(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("expected <high> <low>")
	}
	high, ok := new(big.Int).SetString(cmd.Args().Get(0), 10)
	if !ok {
		return fmt.Errorf("invalid high half %q", cmd.Args().Get(0))
	}
	low, ok := new(big.Int).SetString(cmd.Args().Get(1), 10)
	if !ok {
		return fmt.Errorf("invalid low half %q", cmd.Args().Get(1))
	}

	fields, err := disclose.FieldsFromSelector(disclose.Selector{High: high, Low: low})
	if err != nil {
		return err
	}
	return writeJSON(stdout(cmd), map[string]any{"fields": fields})
}
