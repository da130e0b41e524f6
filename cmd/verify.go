package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/selfprove-teeclient/api"
	"github.com/anchorageoss/selfprove-teeclient/chain"
	"github.com/anchorageoss/selfprove-teeclient/config"
	"github.com/anchorageoss/selfprove-teeclient/verify"
)

// Root sources for the identity commitment tree
const (
	rootSourceTree  = "tree"
	rootSourceChain = "chain"
)

// verifierFlags are shared by verify and serve
func verifierFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "vkey",
			Usage: "Disclosure verifying key as <attestation id>=<verification_key.json> (repeatable)",
		},
		&cli.StringFlag{
			Name:  "scope",
			Usage: "Application scope the proof must be bound to",
		},
		&cli.StringFlag{
			Name:  "app-endpoint",
			Usage: "Application endpoint the scope is hashed with",
		},
		&cli.Uint64Flag{
			Name:  "dest-chain-id",
			Usage: "Expected destination chain id (0 accepts any)",
		},
		&cli.IntFlag{
			Name:  "older-than",
			Usage: "Minimum age the proof must attest",
		},
		&cli.StringSliceFlag{
			Name:  "forbidden-country",
			Usage: "Three-letter country code the proof must exclude (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "ofac",
			Usage: "Require the sanctions-list checks",
		},
		&cli.StringFlag{
			Name:  "identity-root",
			Usage: "Source of the identity commitment root (tree or chain)",
			Value: rootSourceTree,
		},
	}
}

// VerifyCommand creates the verify command
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Verify a disclosure proof off-chain with the hub's checks",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "request",
				Usage:    "Verification request JSON {attestationId, proof, publicSignals, userContextData}",
				Required: true,
			},
		}, verifierFlags()...),
		Action: runVerifyCommand,
	}
}

func runVerifyCommand(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	raw, err := os.ReadFile(cmd.String("request"))
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	var body verify.RequestJSON
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}
	req, err := body.Decode()
	if err != nil {
		return err
	}

	service, err := newVerifyService(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	if service == nil {
		return fmt.Errorf("--vkey, --scope and --app-endpoint are required")
	}

	errOut := stderr(cmd)
	fmt.Fprintf(errOut, "\n=== STEP 1: Verify Disclosure Proof ===\n")
	fmt.Fprintf(errOut, "✓ Attestation id: %d\n", req.AttestationID)
	fmt.Fprintf(errOut, "✓ Public signals: %d\n", len(req.PublicSignals))

	result, err := service.Verify(ctx, req)
	if err != nil {
		if verify.IsRevert(err) {
			return fmt.Errorf("proof rejected: %w", err)
		}
		return fmt.Errorf("verification failed: %w", err)
	}

	fmt.Fprintf(errOut, "✓ Scope, user identifier, date, Groth16 and root checks passed\n")
	if result.Disclosure != nil {
		fmt.Fprint(errOut, verify.NewFormatter().FormatDisclosure(result.Disclosure, "  "))
	}
	fmt.Fprintf(errOut, "\n=== VERIFICATION COMPLETE ===\n")

	return writeJSON(stdout(cmd), verify.NewFormatter().FormatVerificationResult(result))
}

// newVerifyService builds the verification service from the verifier flags.
// It returns nil when no verifying key is configured.
func newVerifyService(ctx context.Context, cmd *cli.Command, cfg *config.Config) (*verify.Service, error) {
	specs := cmd.StringSlice("vkey")
	if len(specs) == 0 {
		return nil, nil
	}
	keys, err := loadVerifyingKeys(specs)
	if err != nil {
		return nil, err
	}

	vcfg, err := verify.NewConfig(cmd.String("app-endpoint"), cmd.String("scope"))
	if err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	vcfg.ChainID = cmd.Uint64("dest-chain-id")
	vcfg.OlderThan = cmd.Int("older-than")
	vcfg.ForbiddenCountries = cmd.StringSlice("forbidden-country")
	vcfg.OFAC = cmd.Bool("ofac")

	trees := &verify.TreeRoots{Client: api.NewClient(cfg.TreeServerURL, &http.Client{Timeout: 30 * time.Second})}
	var identityRoots verify.IdentityRootSource = trees
	switch cmd.String("identity-root") {
	case rootSourceTree:
	case rootSourceChain:
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("--identity-root=chain requires --rpc-url")
		}
		client, err := chain.Dial(ctx, cfg.RPCURL, common.HexToAddress(cfg.HubAddress), common.HexToAddress(cfg.PCR0ManagerAddress))
		if err != nil {
			return nil, err
		}
		identityRoots = client
	default:
		return nil, fmt.Errorf("invalid identity root source %q", cmd.String("identity-root"))
	}

	return verify.NewService(vcfg, keys, identityRoots, trees), nil
}

func loadVerifyingKeys(specs []string) (map[uint64]*verify.VerifyingKey, error) {
	keys := make(map[uint64]*verify.VerifyingKey, len(specs))
	for _, spec := range specs {
		idStr, path, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --vkey %q: expected <attestation id>=<path>", spec)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid attestation id in --vkey %q: %w", spec, err)
		}
		data, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read verifying key: %w", err)
		}
		vk, err := verify.ParseVerifyingKey(data)
		if err != nil {
			return nil, fmt.Errorf("invalid verifying key %s: %w", path, err)
		}
		keys[id] = vk
	}
	return keys, nil
}
