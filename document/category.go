// Package document models the identity documents the prover understands and
// the fixed-width layouts their disclosed fields are serialized into.
//
// # Categories
//
// Every document belongs to exactly one Category. Dispatch on categories is
// done with exhaustive switches; an unknown category is always an error.
//
// # Layouts
//
// Selfrica records are serialized into a SelfricaMaxLength byte string whose
// field offsets are the running sums of the declared field lengths. Passport
// and ID card disclosure works on MRZ byte positions instead.
package document

import (
	"fmt"
	"strings"
)

// Category is the closed set of supported document families.
type Category uint8

const (
	Passport Category = iota + 1
	IDCard
	Aadhaar
	Selfrica
)

// Categories lists every supported category.
func Categories() []Category {
	return []Category{Passport, IDCard, Aadhaar, Selfrica}
}

// String returns the wire name of the category.
func (c Category) String() string {
	switch c {
	case Passport:
		return "passport"
	case IDCard:
		return "id_card"
	case Aadhaar:
		return "aadhaar"
	case Selfrica:
		return "selfrica"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCategory parses a wire name into a Category.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passport":
		return Passport, nil
	case "id_card", "idcard", "id":
		return IDCard, nil
	case "aadhaar":
		return Aadhaar, nil
	case "selfrica":
		return Selfrica, nil
	default:
		return 0, fmt.Errorf("unsupported document category %q", s)
	}
}

// AttestationID returns the on-chain attestation id for the category.
func (c Category) AttestationID() (uint64, error) {
	switch c {
	case Passport:
		return 1, nil
	case IDCard:
		return 2, nil
	case Aadhaar:
		return 3, nil
	case Selfrica:
		return 4, nil
	default:
		return 0, fmt.Errorf("unsupported document category %s", c)
	}
}

// CircuitSuffix is appended to circuit names built for the category.
func (c Category) CircuitSuffix() (string, error) {
	switch c {
	case Passport:
		return "", nil
	case IDCard:
		return "_id", nil
	case Aadhaar:
		return "_aadhaar", nil
	case Selfrica:
		return "_selfrica", nil
	default:
		return "", fmt.Errorf("unsupported document category %s", c)
	}
}

// IsPKI reports whether the category is signed through a CSCA/DSC chain.
func (c Category) IsPKI() bool {
	return c == Passport || c == IDCard
}
