package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/anchorageoss/selfprove-teeclient/circuits"
	"github.com/anchorageoss/selfprove-teeclient/config"
	"github.com/anchorageoss/selfprove-teeclient/logging"
)

const envPrefix = "SELFPROVE_"

func envVars(name string) cli.ValueSourceChain {
	return cli.EnvVars(envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
}

// GlobalFlags returns the flags shared by every command. Each flag also reads
// SELFPROVE_<NAME>.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "env",
			Usage:   "Deployment environment (prod or stg)",
			Value:   string(circuits.Prod),
			Sources: envVars("env"),
		},
		&cli.StringFlag{
			Name:    "tree-server",
			Usage:   "Tree server base URL (defaults to the environment's)",
			Sources: envVars("tree-server"),
		},
		&cli.StringFlag{
			Name:    "tee-register-url",
			Usage:   "Register TEE WebSocket URL",
			Sources: envVars("tee-register-url"),
		},
		&cli.StringFlag{
			Name:    "tee-dsc-url",
			Usage:   "DSC TEE WebSocket URL",
			Sources: envVars("tee-dsc-url"),
		},
		&cli.StringFlag{
			Name:    "tee-disclose-url",
			Usage:   "Disclose TEE WebSocket URL",
			Sources: envVars("tee-disclose-url"),
		},
		&cli.StringFlag{
			Name:    "status-url",
			Usage:   "Socket.IO status channel URL",
			Sources: envVars("status-url"),
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "EVM RPC URL",
			Sources: envVars("rpc-url"),
		},
		&cli.StringFlag{
			Name:    "hub-address",
			Usage:   "Identity hub contract address",
			Sources: envVars("hub-address"),
		},
		&cli.StringFlag{
			Name:    "pcr0-manager",
			Usage:   "PCR0 registry contract address",
			Sources: envVars("pcr0-manager"),
		},
		&cli.Uint64Flag{
			Name:    "chain-id",
			Usage:   "EVM chain id",
			Sources: envVars("chain-id"),
		},
		&cli.StringFlag{
			Name:    "attestation-format",
			Usage:   "TEE attestation format (jwt or nitro)",
			Sources: envVars("attestation-format"),
		},
		&cli.StringFlag{
			Name:    "root-fingerprint",
			Usage:   "Hex SHA-256 fingerprint of the pinned attestation root certificate",
			Sources: envVars("root-fingerprint"),
		},
		&cli.StringFlag{
			Name:    "allowed-images",
			Usage:   "Allowed enclave images as PCR rules (e.g., '0:abc123,1:def456')",
			Sources: envVars("allowed-images"),
		},
		&cli.BoolFlag{
			Name:    "dev-mode",
			Usage:   "Accept debug enclaves and skip the image allow-list when none is configured",
			Sources: envVars("dev-mode"),
		},
		&cli.DurationFlag{
			Name:    "register-delay",
			Usage:   "Delay between a DSC proof and the register session that follows it",
			Sources: envVars("register-delay"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: envVars("log-level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (json or console)",
			Value:   logging.FormatJSON,
			Sources: envVars("log-format"),
		},
		&cli.StringFlag{
			Name:    "store",
			Usage:   "Path of the document catalog",
			Sources: envVars("store"),
		},
		&cli.StringFlag{
			Name:    "key-name",
			Usage:   "Client key name under the key directory",
			Value:   "default",
			Sources: envVars("key-name"),
		},
	}
}

// LoadConfig builds the configuration from the environment defaults and the
// flags that were set
func LoadConfig(cmd *cli.Command) (*config.Config, error) {
	env, err := circuits.ParseEnvironment(cmd.String("env"))
	if err != nil {
		return nil, err
	}
	cfg := config.Default(env)

	setString := func(flag string, dst *string) {
		if cmd.IsSet(flag) {
			*dst = cmd.String(flag)
		}
	}
	setString("tree-server", &cfg.TreeServerURL)
	setString("status-url", &cfg.StatusURL)
	setString("rpc-url", &cfg.RPCURL)
	setString("hub-address", &cfg.HubAddress)
	setString("pcr0-manager", &cfg.PCR0ManagerAddress)
	setString("attestation-format", &cfg.AttestationFormat)
	setString("root-fingerprint", &cfg.RootFingerprint)
	setString("allowed-images", &cfg.AllowedImages)
	setString("store", &cfg.StorePath)

	for flag, ct := range map[string]circuits.CircuitType{
		"tee-register-url": circuits.Register,
		"tee-dsc-url":      circuits.DSC,
		"tee-disclose-url": circuits.Disclose,
	} {
		if cmd.IsSet(flag) {
			cfg.TEEURLs[ct] = cmd.String(flag)
		}
	}

	if cmd.IsSet("chain-id") {
		cfg.ChainID = cmd.Uint64("chain-id")
	}
	if cmd.IsSet("dev-mode") {
		cfg.DevMode = cmd.Bool("dev-mode")
	}
	if cmd.IsSet("register-delay") {
		cfg.RegisterDelay = cmd.Duration("register-delay")
	}
	cfg.LogLevel = cmd.String("log-level")
	cfg.LogFormat = cmd.String("log-format")
	cfg.KeyName = cmd.String("key-name")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the logger of a command run
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// setup loads the configuration and logger shared by the network commands
func setup(cmd *cli.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func stdout(cmd *cli.Command) io.Writer {
	return cmd.Root().Writer
}

func stderr(cmd *cli.Command) io.Writer {
	return cmd.Root().ErrWriter
}

// syncLogger flushes buffered entries; stderr sync errors are ignored
func syncLogger(logger *zap.Logger) {
	_ = logger.Sync()
}
