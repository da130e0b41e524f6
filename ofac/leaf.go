package ofac

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/anchorageoss/selfprove-teeclient/field"
)

// NormalizeName upper-cases a name and collapses MRZ fillers and whitespace
// into single spaces.
func NormalizeName(name string) string {
	name = strings.ReplaceAll(strings.ToUpper(name), "<", " ")
	return strings.Join(strings.Fields(name), " ")
}

// NameDobLeaf hashes a name and a YYYYMMDD date of birth.
func NameDobLeaf(name, dob string) (*big.Int, error) {
	if len(dob) != 8 {
		return nil, fmt.Errorf("invalid date of birth %q: expected YYYYMMDD", dob)
	}
	return pairLeaf(name, dob)
}

// NameYobLeaf hashes a name and a YYYY year of birth.
func NameYobLeaf(name, yob string) (*big.Int, error) {
	if len(yob) != 4 {
		return nil, fmt.Errorf("invalid year of birth %q: expected YYYY", yob)
	}
	return pairLeaf(name, yob)
}

// PassportNoLeaf hashes a passport number with its issuing nationality.
func PassportNoLeaf(number, nationality string) (*big.Int, error) {
	number = strings.TrimRight(strings.ToUpper(number), "<")
	if number == "" {
		return nil, fmt.Errorf("empty passport number")
	}
	n, err := packedHash(number)
	if err != nil {
		return nil, err
	}
	c, err := packedHash(strings.ToUpper(nationality))
	if err != nil {
		return nil, err
	}
	return poseidon.Hash([]*big.Int{n, c})
}

func pairLeaf(name, date string) (*big.Int, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("empty name")
	}

	nameHash, err := packedHash(name)
	if err != nil {
		return nil, err
	}
	dateHash, err := packedHash(date)
	if err != nil {
		return nil, err
	}
	return poseidon.Hash([]*big.Int{dateHash, nameHash})
}

func packedHash(s string) (*big.Int, error) {
	elems := field.PackBytes([]byte(s))
	if len(elems) == 0 || len(elems) > 16 {
		return nil, fmt.Errorf("cannot hash %d packed elements", len(elems))
	}
	h, err := poseidon.Hash(elems)
	if err != nil {
		return nil, fmt.Errorf("failed to hash packed bytes: %w", err)
	}
	return h, nil
}
