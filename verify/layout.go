package verify

import (
	"fmt"

	"github.com/anchorageoss/selfprove-teeclient/api"
	"github.com/anchorageoss/selfprove-teeclient/chain"
	"github.com/anchorageoss/selfprove-teeclient/disclose"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/field"
)

// forbiddenElements is the number of field elements of the packed
// forbidden-countries list
var forbiddenElements = (disclose.MaxForbiddenCountries*3 + field.BytesPerElement - 1) / field.BytesPerElement

// Layout locates the public signals of a disclosure proof
type Layout struct {
	Category document.Category
	Count    int

	Revealed           int
	RevealedElements   int
	ForbiddenCountries int
	Nullifier          int
	AttestationID      int
	MerkleRoot         int
	CurrentDate        int
	// OFACRoots follows OFACLists
	OFACRoots      []int
	Scope          int
	UserIdentifier int

	// Byte offsets inside the unpacked revealed data
	DocumentLength  int
	OlderThanOffset int
	OFACOffset      int
	OFACLists       []api.OFACList
}

// RevealedLength is the number of meaningful revealed bytes
func (l *Layout) RevealedLength() int {
	return l.OFACOffset + len(l.OFACLists)
}

func newLayout(c document.Category, documentLength int, lists []api.OFACList) *Layout {
	l := &Layout{
		Category:        c,
		DocumentLength:  documentLength,
		OlderThanOffset: documentLength,
		OFACOffset:      documentLength + 2,
		OFACLists:       lists,
	}
	l.RevealedElements = (l.RevealedLength() + field.BytesPerElement - 1) / field.BytesPerElement

	next := 0
	take := func(n int) int {
		i := next
		next += n
		return i
	}
	l.Revealed = take(l.RevealedElements)
	l.ForbiddenCountries = take(forbiddenElements)
	l.Nullifier = take(1)
	l.AttestationID = take(1)
	l.MerkleRoot = take(1)
	l.CurrentDate = take(6)
	for range lists {
		l.OFACRoots = append(l.OFACRoots, take(1))
	}
	l.Scope = take(1)
	l.UserIdentifier = take(1)
	l.Count = next
	return l
}

var layouts = map[uint64]*Layout{
	1: newLayout(document.Passport, document.PassportMRZLength,
		[]api.OFACList{api.OFACPassportNo, api.OFACNameDob, api.OFACNameYob}),
	2: newLayout(document.IDCard, document.IDCardMRZLength,
		[]api.OFACList{api.OFACNameDob, api.OFACNameYob}),
	4: newLayout(document.Selfrica, document.SelfricaMaxLength,
		[]api.OFACList{api.OFACNameDob, api.OFACNameYob}),
}

// LayoutFor returns the public-signal layout of an attestation id
func LayoutFor(attestationID uint64) (*Layout, error) {
	l, ok := layouts[attestationID]
	if !ok {
		return nil, fmt.Errorf("%w: no disclosure layout for attestation id %d", chain.ErrInvalidAttestationId, attestationID)
	}
	return l, nil
}
