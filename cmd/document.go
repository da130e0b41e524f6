package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/store"
)

// DocumentCommand creates the document catalog command
func DocumentCommand() *cli.Command {
	return &cli.Command{
		Name:  "document",
		Usage: "Manage the local document catalog",
		Commands: []*cli.Command{
			importDocumentCommand(),
			listDocumentsCommand(),
			selectDocumentCommand(),
			deleteDocumentCommand(),
		},
	}
}

func importDocumentCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Validate a scanned document envelope and store it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Scanned document envelope (JSON)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "roots",
				Usage:    "PEM bundle of trusted document signing roots",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "select",
				Usage: "Select the document for proving",
				Value: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := LoadConfig(cmd)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(cmd.String("file"))
			if err != nil {
				return fmt.Errorf("failed to read document: %w", err)
			}
			roots, err := loadRoots(cmd.String("roots"))
			if err != nil {
				return err
			}
			data, err := document.Parse(raw, roots)
			if err != nil {
				return fmt.Errorf("invalid document: %w", err)
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			id, err := st.Put(ctx, raw, data.Category, data.DocumentType)
			if err != nil {
				return err
			}
			if cmd.Bool("select") {
				if err := st.Select(ctx, id); err != nil {
					return err
				}
			}

			fmt.Fprintf(stderr(cmd), "✓ Stored %s document (%s)\n", data.Category, data.DocumentType)
			fmt.Fprintln(stdout(cmd), id)
			return nil
		},
	}
}

type documentListing struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	DocumentType string `json:"documentType"`
	Registered   bool   `json:"registered"`
	CreatedAt    string `json:"createdAt"`
}

func listDocumentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored documents",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := LoadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			docs, err := st.List(ctx)
			if err != nil {
				return err
			}

			out := make([]documentListing, 0, len(docs))
			for _, d := range docs {
				category := "unknown"
				if c, err := d.DocumentCategory(); err == nil {
					category = c.String()
				}
				out = append(out, documentListing{
					ID:           d.ID,
					Category:     category,
					DocumentType: d.DocumentType,
					Registered:   d.Registered,
					CreatedAt:    time.Unix(d.CreatedAt, 0).UTC().Format(time.RFC3339),
				})
			}
			return writeJSON(stdout(cmd), out)
		},
	}
}

func selectDocumentCommand() *cli.Command {
	return &cli.Command{
		Name:      "select",
		Usage:     "Select the document used by prove",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, st, err := documentArg(cmd)
			if err != nil {
				return err
			}
			return st.Select(ctx, id)
		},
	}
}

func deleteDocumentCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Remove a stored document",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, st, err := documentArg(cmd)
			if err != nil {
				return err
			}
			return st.Delete(ctx, id)
		},
	}
}

func documentArg(cmd *cli.Command) (string, *store.FileStore, error) {
	if cmd.Args().Len() != 1 {
		return "", nil, fmt.Errorf("expected exactly one document id")
	}
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return "", nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return "", nil, err
	}
	return cmd.Args().First(), st, nil
}
