// Package api provides a client for the tree server that publishes the
// public state a proving session needs.
//
// The client handles:
// - Commitment, DSC and CSCA Merkle tree snapshots per document category
// - OFAC sanctions-list leaves per list and category
// - Aadhaar signer public keys
// - The deployed-circuit allow-list
//
// # Usage
//
// Create a client using NewClient with the environment's tree server URL:
//
//	client := api.NewClient("https://tree.staging.example.org", http.DefaultClient)
//
// Fetch the trees a registration needs:
//
//	dscTree, err := client.DSCTree(ctx, document.Passport)
//	if err != nil {
//		log.Fatal(err)
//	}
package api

import (
	"encoding/json"
	"slices"
)

// OFACList names one of the published sanctions lists
type OFACList string

const (
	// OFACNameDob holds poseidon(name, date of birth) leaves
	OFACNameDob OFACList = "name-dob"
	// OFACNameYob holds poseidon(name, year of birth) leaves
	OFACNameYob OFACList = "name-yob"
	// OFACPassportNo holds poseidon(document number, nationality) leaves
	OFACPassportNo OFACList = "passport-no"
)

// CircuitKind groups deployed circuits by proving step
type CircuitKind string

const (
	KindRegister         CircuitKind = "register"
	KindRegisterID       CircuitKind = "register_id"
	KindRegisterAadhaar  CircuitKind = "register_aadhaar"
	KindRegisterSelfrica CircuitKind = "register_selfrica"
	KindDSC              CircuitKind = "dsc"
	KindDSCID            CircuitKind = "dsc_id"
)

// Envelope is the response wrapper used by every tree server endpoint
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// DeployedCircuits lists the circuit names that currently have a proving
// backend, keyed by circuit kind
type DeployedCircuits map[CircuitKind][]string

// Supports reports whether the named circuit is deployed for kind
func (d DeployedCircuits) Supports(kind CircuitKind, name string) bool {
	return slices.Contains(d[kind], name)
}

// AadhaarKeys is the set of UIDAI signing keys, PEM encoded
type AadhaarKeys struct {
	PublicKeys []string `json:"public_keys"`
}
