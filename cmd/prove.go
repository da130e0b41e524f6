package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/anchorageoss/selfprove-teeclient/api"
	"github.com/anchorageoss/selfprove-teeclient/attestation"
	"github.com/anchorageoss/selfprove-teeclient/chain"
	"github.com/anchorageoss/selfprove-teeclient/circuits"
	"github.com/anchorageoss/selfprove-teeclient/config"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/keys"
	"github.com/anchorageoss/selfprove-teeclient/prover"
	"github.com/anchorageoss/selfprove-teeclient/store"
	"github.com/anchorageoss/selfprove-teeclient/tee"
)

// ProveCommand creates the prove command
func ProveCommand() *cli.Command {
	return &cli.Command{
		Name:  "prove",
		Usage: "Run a proving session for a stored document inside an attested TEE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "circuit",
				Usage:    "Circuit type (register, dsc or disclose)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "document",
				Usage: "Stored document id (defaults to the selected document)",
			},
			&cli.StringFlag{
				Name:     "roots",
				Usage:    "PEM bundle of trusted document signing roots",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "secret-file",
				Usage:    "File holding the hex user secret",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "confirm",
				Usage: "Start proving without asking once the TEE is attested",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall session timeout",
				Value: 10 * time.Minute,
			},
			&cli.StringFlag{
				Name:  "app-name",
				Usage: "Relying application name (disclose)",
			},
			&cli.StringFlag{
				Name:  "scope",
				Usage: "Application scope (disclose)",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Application endpoint URL or contract address (disclose)",
			},
			&cli.StringFlag{
				Name:  "endpoint-type",
				Usage: "Endpoint type (https, celo, staging_https, staging_celo)",
				Value: string(circuits.EndpointHTTPS),
			},
			&cli.StringFlag{
				Name:  "user-id",
				Usage: "User id bound into the proof (uuid or hex address)",
			},
			&cli.Uint64Flag{
				Name:  "dest-chain-id",
				Usage: "Destination chain id bound into the user context",
			},
			&cli.StringFlag{
				Name:  "user-data",
				Usage: "Hex user-defined data bound into the user context",
			},
			&cli.StringSliceFlag{
				Name:  "reveal",
				Usage: "Fields to reveal (MRZ fields for passports and ID cards, record fields for Selfrica)",
			},
			&cli.IntFlag{
				Name:  "minimum-age",
				Usage: "Prove the holder is at least this old",
			},
			&cli.StringSliceFlag{
				Name:  "exclude-country",
				Usage: "Three-letter country codes the holder must not belong to",
			},
			&cli.BoolFlag{
				Name:  "ofac",
				Usage: "Prove the holder is not on the sanctions lists",
			},
		},
		Action: runProveCommand,
	}
}

func runProveCommand(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	ct, err := circuits.ParseCircuitType(cmd.String("circuit"))
	if err != nil {
		return err
	}
	roots, err := loadRoots(cmd.String("roots"))
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	// Step 1: chain gateway and enclave allow-list
	var chainClient *chain.Client
	if cfg.RPCURL != "" {
		chainClient, err = chain.Dial(ctx, cfg.RPCURL, common.HexToAddress(cfg.HubAddress), common.HexToAddress(cfg.PCR0ManagerAddress))
		if err != nil {
			return err
		}
	}
	validator, err := cfg.Validator(imageAllowList(cfg, chainClient))
	if err != nil {
		return err
	}

	// Step 2: machine
	deps := prover.Deps{
		Store:         st,
		Trees:         api.NewClient(cfg.TreeServerURL, &http.Client{Timeout: 30 * time.Second}),
		Roots:         roots,
		Keys:          &keys.FileKeyProvider{KeyName: cfg.KeyName},
		Secrets:       &keys.FileSecretProvider{Path: cmd.String("secret-file")},
		Attestation:   validator,
		Dialer:        &tee.WSDialer{},
		Status:        &tee.SocketIODialer{MaxReconnects: 3, ReconnectDelay: 2 * time.Second, Logger: logger},
		Endpoints:     cfg.EndpointTable(),
		StatusURL:     cfg.StatusURL,
		Env:           cfg.Env,
		HubAddress:    cfg.HubAddress,
		RegisterDelay: cfg.RegisterDelay,
		Logger:        logger,
		Tracker:       &prover.ZapTracker{Logger: logger.Named("analytics")},
	}
	if chainClient != nil {
		deps.Chain = chainClient
	}
	m := prover.NewMachine(deps)
	defer m.Close()

	errOut := stderr(cmd)
	unsubscribe := m.Subscribe(func(from, to prover.State) {
		fmt.Fprintf(errOut, "%s -> %s\n", from, to)
	})
	defer unsubscribe()

	opts := prover.Options{
		CircuitType:   ct,
		DocumentID:    cmd.String("document"),
		UserConfirmed: cmd.Bool("confirm"),
		OnDisclosureResult: func(success bool, code, reason string) {
			if success {
				fmt.Fprintf(errOut, "✓ Disclosure proof generated\n")
				return
			}
			fmt.Fprintf(errOut, "✗ Disclosure failed: %s %s\n", code, reason)
		},
		OnRegistrationFailure: func(hasOtherRegistered bool) {
			if hasOtherRegistered {
				fmt.Fprintf(errOut, "ℹ️  Another stored document is registered; it can be used to recover the account\n")
			}
		},
	}
	if ct == circuits.Disclose {
		if opts.App, err = appFromFlags(cmd, cfg); err != nil {
			return err
		}
	}

	sessionCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	// Step 3: run
	if err := m.Init(sessionCtx, opts); err != nil {
		return err
	}
	if !opts.UserConfirmed {
		if err := confirm(sessionCtx, cmd, m); err != nil {
			return err
		}
	}
	state, err := m.Wait(sessionCtx)
	if err != nil {
		return fmt.Errorf("proving session did not finish: %w", err)
	}

	session, err := m.Session()
	if err != nil {
		return err
	}
	if err := writeJSON(stdout(cmd), sessionOutput(state, session)); err != nil {
		return err
	}
	if state != prover.Completed {
		logger.Warn("proving session ended", zap.String("state", string(state)), zap.String("session", session.ID))
		return fmt.Errorf("proving session ended in state %s", state)
	}
	return nil
}

// confirm waits for an attested TEE and asks before proving
func confirm(ctx context.Context, cmd *cli.Command, m *prover.Machine) error {
	state, err := m.WaitFor(ctx, prover.ReadyToProve,
		prover.Completed, prover.Error, prover.Failure, prover.PassportNotSupported,
		prover.AccountRecoveryChoice, prover.PassportDataNotFound)
	if err != nil {
		return err
	}
	if state != prover.ReadyToProve {
		return nil
	}

	session, err := m.Session()
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr(cmd), "TEE attested: circuit %s, image %s\nProceed with proving? [y/N] ", session.CircuitName, session.ImageHash)
	answer, err := bufio.NewReader(cmd.Root().Reader).ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
		return fmt.Errorf("proving cancelled")
	}
	return m.SetUserConfirmed()
}

func appFromFlags(cmd *cli.Command, cfg *config.Config) (*circuits.App, error) {
	for _, name := range []string{"scope", "endpoint", "user-id"} {
		if cmd.String(name) == "" {
			return nil, fmt.Errorf("--%s is required for disclose", name)
		}
	}
	userData, err := decodeHex(cmd.String("user-data"))
	if err != nil {
		return nil, fmt.Errorf("invalid --user-data: %w", err)
	}
	chainID := cfg.ChainID
	if cmd.IsSet("dest-chain-id") {
		chainID = cmd.Uint64("dest-chain-id")
	}

	app := &circuits.App{
		Name:            cmd.String("app-name"),
		Scope:           cmd.String("scope"),
		Endpoint:        cmd.String("endpoint"),
		EndpointType:    circuits.EndpointType(cmd.String("endpoint-type")),
		UserID:          cmd.String("user-id"),
		ChainID:         chainID,
		UserDefinedData: userData,
		Disclosures: circuits.Disclosures{
			MinimumAge:        cmd.Int("minimum-age"),
			ExcludedCountries: cmd.StringSlice("exclude-country"),
			OFAC:              cmd.Bool("ofac"),
		},
	}
	switch app.EndpointType {
	case circuits.EndpointHTTPS, circuits.EndpointCelo, circuits.EndpointStagingHTTPS, circuits.EndpointStagingCelo:
	default:
		return nil, fmt.Errorf("invalid endpoint type %q", app.EndpointType)
	}

	for _, f := range cmd.StringSlice("reveal") {
		if isRecordField(f) {
			app.Disclosures.RecordFields = append(app.Disclosures.RecordFields, document.Field(f))
		} else {
			app.Disclosures.MRZFields = append(app.Disclosures.MRZFields, document.MRZField(f))
		}
	}
	return app, nil
}

func isRecordField(name string) bool {
	for _, f := range document.SelfricaFields() {
		if string(f) == name {
			return true
		}
	}
	return false
}

// imageAllowList prefers the configured PCR rules over the on-chain registry
func imageAllowList(cfg *config.Config, chainClient *chain.Client) attestation.ImageAllowList {
	if cfg.AllowedImages != "" {
		rules, err := cfg.ImageRules()
		if err == nil {
			return attestation.NewStaticAllowList(rules)
		}
	}
	if chainClient != nil && cfg.PCR0ManagerAddress != "" {
		return &chain.PCR0AllowList{Client: chainClient}
	}
	return nil
}

func loadRoots(path string) (*document.Roots, error) {
	bundle, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roots bundle: %w", err)
	}
	return document.LoadRoots(bundle)
}

func openStore(cfg *config.Config) (*store.FileStore, error) {
	path, err := cfg.DocumentStorePath()
	if err != nil {
		return nil, err
	}
	return store.NewFileStore(path), nil
}

type sessionResult struct {
	Session     string `json:"session"`
	Circuit     string `json:"circuit"`
	State       string `json:"state"`
	DocumentID  string `json:"documentId,omitempty"`
	CircuitName string `json:"circuitName,omitempty"`
	ImageHash   string `json:"imageHash,omitempty"`
	Status      int    `json:"status,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

func sessionOutput(state prover.State, s *prover.Session) sessionResult {
	out := sessionResult{
		Session:     s.ID,
		Circuit:     s.CircuitType.String(),
		State:       string(state),
		DocumentID:  s.DocumentID,
		CircuitName: s.CircuitName,
		ImageHash:   s.ImageHash,
		Status:      s.Status,
		ErrorCode:   s.ErrorCode,
		Reason:      s.Reason,
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return out
}
