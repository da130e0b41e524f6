// Package circuits assembles the named-signal input objects consumed by the
// register, dsc and disclose proving circuits.
//
// # Circuit Names
//
// Circuit names are derived from the document category and signature scheme:
//
//	register_sha256_rsa_65537_2048      passport registration
//	register_id_sha256_rsa_65537_2048   ID card registration
//	register_aadhaar                    Aadhaar registration
//	dsc_sha256_ecdsa_secp256r1_256      DSC proof against the CSCA tree
//	vc_and_disclose_id                  ID card disclosure
//
// # Identity Hashes
//
// The commitment registered on-chain binds the user secret to the document
// data hash and the document signer:
//
//	commitment = poseidon(secret, attestationId, dataHash, signerHash)
//
// The nullifier is the packed hash of the document signature, so one physical
// document can back a single commitment.
package circuits

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/ofac"
	"github.com/anchorageoss/selfprove-teeclient/tree"
)

// Tree depths the circuits are compiled for
const (
	CommitmentTreeDepth = 33
	DSCTreeDepth        = 21
	CSCATreeDepth       = 12
	MaxForbidden        = 40
)

var (
	// ErrNoApp is returned when a disclose request carries no application
	ErrNoApp = errors.New("no application attached to the session")

	// ErrNoDSCStep is returned for categories that are not PKI chained
	ErrNoDSCStep = errors.New("document category has no DSC step")

	// ErrMissingTree is returned when a required tree was not fetched
	ErrMissingTree = errors.New("required tree is missing")

	// ErrNotRegistered is returned when the commitment is not in the tree
	ErrNotRegistered = errors.New("document is not registered")
)

// CircuitType selects the proving step
type CircuitType uint8

const (
	Register CircuitType = iota + 1
	DSC
	Disclose
)

// String returns the wire name of the circuit type
func (c CircuitType) String() string {
	switch c {
	case Register:
		return "register"
	case DSC:
		return "dsc"
	case Disclose:
		return "disclose"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCircuitType parses a wire circuit type
func ParseCircuitType(s string) (CircuitType, error) {
	switch s {
	case "register":
		return Register, nil
	case "dsc":
		return DSC, nil
	case "disclose":
		return Disclose, nil
	default:
		return 0, fmt.Errorf("unsupported circuit type %q", s)
	}
}

// EndpointType tells the prover where the proof is verified
type EndpointType string

const (
	EndpointHTTPS        EndpointType = "https"
	EndpointCelo         EndpointType = "celo"
	EndpointStagingHTTPS EndpointType = "staging_https"
	EndpointStagingCelo  EndpointType = "staging_celo"
)

// Onchain reports whether the endpoint is a contract
func (e EndpointType) Onchain() bool {
	return e == EndpointCelo || e == EndpointStagingCelo
}

// Environment is the deployment the session targets
type Environment string

const (
	Prod    Environment = "prod"
	Staging Environment = "stg"
)

// ParseEnvironment parses prod or stg
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case Prod, Staging:
		return Environment(s), nil
	default:
		return "", fmt.Errorf("unsupported environment %q", s)
	}
}

// RegistryEndpointType is the endpoint type of register and dsc proofs
func (e Environment) RegistryEndpointType() EndpointType {
	if e == Staging {
		return EndpointStagingCelo
	}
	return EndpointCelo
}

// OFACTrees holds the sanctions-list SMTs for one category
type OFACTrees struct {
	NameDob    *ofac.Tree
	NameYob    *ofac.Tree
	PassportNo *ofac.Tree
}

// Trees is the public state fetched for a proving session
type Trees struct {
	Commitment  *tree.LeanIMT
	DSC         *tree.LeanIMT
	CSCA        *tree.LeanIMT
	OFAC        OFACTrees
	AadhaarKeys []string
}

// Disclosures is the application's disclosure configuration
type Disclosures struct {
	// MRZFields are revealed for passports and ID cards
	MRZFields []document.MRZField
	// RecordFields are revealed for Selfrica documents
	RecordFields []document.Field
	// MinimumAge enables the older-than check when non-zero
	MinimumAge int
	// ExcludedCountries are three-letter codes the holder must not belong to
	ExcludedCountries []string
	// OFAC enables the sanctions-list checks
	OFAC bool
}

// App is the relying application attached to a disclose session
type App struct {
	Name            string
	Scope           string
	Endpoint        string
	EndpointType    EndpointType
	UserID          string
	ChainID         uint64
	UserDefinedData []byte
	Disclosures     Disclosures
}

// Result is an assembled circuit input with its routing
type Result struct {
	Inputs       map[string]any
	CircuitName  string
	EndpointType EndpointType
	Endpoint     string
}

func bigInt(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
