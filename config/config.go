// Package config holds the settings a proving client needs for one
// deployment environment.
//
// # Defaults
//
// Default returns the published endpoints of an environment:
//
//	cfg := config.Default(circuits.Staging)
//	cfg.LogLevel = "debug"
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// The CLI overrides individual fields from flags and SELFPROVE_* variables.
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	nitroverifier "github.com/anchorageoss/awsnitroverifier"
	"github.com/ethereum/go-ethereum/common"

	"github.com/anchorageoss/selfprove-teeclient/attestation"
	"github.com/anchorageoss/selfprove-teeclient/circuits"
)

// Attestation document formats
const (
	FormatJWT   = "jwt"
	FormatNitro = "nitro"
)

// Config is the client configuration of one environment
type Config struct {
	Env           circuits.Environment
	TreeServerURL string
	TEEURLs       map[circuits.CircuitType]string
	StatusURL     string

	RPCURL             string
	HubAddress         string
	PCR0ManagerAddress string
	ChainID            uint64

	AttestationFormat string
	// RootFingerprint is the hex SHA-256 of the pinned attestation root
	RootFingerprint string
	// AllowedImages lists PCR rules as "index:hex,..."
	AllowedImages string
	DevMode       bool

	RegisterDelay time.Duration
	LogLevel      string
	LogFormat     string
	StorePath     string
	KeyName       string
}

// Default returns the configuration of env
func Default(env circuits.Environment) *Config {
	cfg := &Config{
		Env:               env,
		AttestationFormat: FormatJWT,
		RegisterDelay:     5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
		KeyName:           "default",
	}

	if env == circuits.Staging {
		cfg.TreeServerURL = "https://tree.staging.self.xyz"
		cfg.TEEURLs = map[circuits.CircuitType]string{
			circuits.Register: "wss://websocket.staging.self.xyz/register",
			circuits.DSC:      "wss://websocket.staging.self.xyz/dsc",
			circuits.Disclose: "wss://websocket.staging.self.xyz/disclose",
		}
		cfg.StatusURL = "https://websocket.staging.self.xyz"
		cfg.RPCURL = "https://alfajores-forno.celo-testnet.org"
		cfg.HubAddress = "0x68c931C9a534D37aa78094877F46fE46a49F1A51"
		cfg.ChainID = 44787
		cfg.DevMode = true
		return cfg
	}

	cfg.TreeServerURL = "https://tree.self.xyz"
	cfg.TEEURLs = map[circuits.CircuitType]string{
		circuits.Register: "wss://websocket.self.xyz/register",
		circuits.DSC:      "wss://websocket.self.xyz/dsc",
		circuits.Disclose: "wss://websocket.self.xyz/disclose",
	}
	cfg.StatusURL = "https://websocket.self.xyz"
	cfg.RPCURL = "https://forno.celo.org"
	cfg.HubAddress = "0xe57F4773bd9c9d8b6Cd70431117d353298B9f5BF"
	cfg.ChainID = 42220
	return cfg
}

// Validate rejects unusable settings
func (c *Config) Validate() error {
	if _, err := circuits.ParseEnvironment(string(c.Env)); err != nil {
		return err
	}

	if err := checkURL("tree server", c.TreeServerURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("status", c.StatusURL, "http", "https", "ws", "wss"); err != nil {
		return err
	}
	for _, ct := range []circuits.CircuitType{circuits.Register, circuits.DSC, circuits.Disclose} {
		if err := checkURL(ct.String()+" TEE", c.TEEURLs[ct], "ws", "wss"); err != nil {
			return err
		}
	}
	if c.RPCURL != "" {
		if err := checkURL("RPC", c.RPCURL, "http", "https", "ws", "wss"); err != nil {
			return err
		}
	}

	if !common.IsHexAddress(c.HubAddress) {
		return fmt.Errorf("invalid hub address %q", c.HubAddress)
	}
	if c.PCR0ManagerAddress != "" && !common.IsHexAddress(c.PCR0ManagerAddress) {
		return fmt.Errorf("invalid PCR0 manager address %q", c.PCR0ManagerAddress)
	}

	switch c.AttestationFormat {
	case FormatJWT, FormatNitro:
	default:
		return fmt.Errorf("invalid attestation format %q: expected jwt or nitro", c.AttestationFormat)
	}
	if _, err := c.Fingerprint(); err != nil {
		return err
	}
	if _, err := c.ImageRules(); err != nil {
		return err
	}

	if c.RegisterDelay < 0 {
		return fmt.Errorf("register delay must not be negative")
	}
	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s URL is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s URL: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s URL %q: expected scheme %s", name, raw, strings.Join(schemes, "|"))
}

// Fingerprint decodes the pinned root fingerprint, nil when unset
func (c *Config) Fingerprint() ([]byte, error) {
	if c.RootFingerprint == "" {
		return nil, nil
	}
	fp, err := hex.DecodeString(strings.TrimPrefix(c.RootFingerprint, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid root fingerprint: %w", err)
	}
	if len(fp) != 32 {
		return nil, fmt.Errorf("invalid root fingerprint length %d", len(fp))
	}
	return fp, nil
}

// ImageRules parses the allowed enclave images
func (c *Config) ImageRules() ([]nitroverifier.PCRRule, error) {
	return attestation.ParsePCRs(c.AllowedImages)
}

// EndpointTable returns the TEE endpoints by circuit type
func (c *Config) EndpointTable() *circuits.EndpointTable {
	urls := make(map[circuits.CircuitType]string, len(c.TEEURLs))
	for k, v := range c.TEEURLs {
		urls[k] = v
	}
	return &circuits.EndpointTable{URLs: urls}
}

// DocumentStorePath returns StorePath, or the catalog under the user config
// directory when unset
func (c *Config) DocumentStorePath() (string, error) {
	if c.StorePath != "" {
		return c.StorePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "selfprove", "documents.bin"), nil
}

// Verifier returns the attestation verifier for the configured format
func (c *Config) Verifier() (attestation.Verifier, error) {
	fp, err := c.Fingerprint()
	if err != nil {
		return nil, err
	}
	switch c.AttestationFormat {
	case FormatNitro:
		return attestation.NewNitroVerifier(fp), nil
	case FormatJWT:
		if fp == nil {
			return nil, fmt.Errorf("jwt attestation requires a root fingerprint")
		}
		return attestation.NewJWTVerifier(fp), nil
	default:
		return nil, fmt.Errorf("invalid attestation format %q", c.AttestationFormat)
	}
}

// Validator combines the verifier with images as the allow-list
func (c *Config) Validator(images attestation.ImageAllowList) (*attestation.Validator, error) {
	v, err := c.Verifier()
	if err != nil {
		return nil, err
	}
	return &attestation.Validator{Verifier: v, Images: images, DevMode: c.DevMode}, nil
}
