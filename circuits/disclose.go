package circuits

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/anchorageoss/selfprove-teeclient/disclose"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/ofac"
)

// Holder is the name and date of birth the OFAC checks run against
type Holder struct {
	Name string
	// DOB is YYYYMMDD
	DOB            string
	DocumentNumber string
	Nationality    string
}

// HolderOf extracts the OFAC holder fields of a document
func HolderOf(d *document.Data, now time.Time) (*Holder, error) {
	switch d.Category {
	case document.Passport, document.IDCard:
		h := &Holder{}
		values := map[document.MRZField]*string{
			document.MRZName:           &h.Name,
			document.MRZDocumentNumber: &h.DocumentNumber,
			document.MRZNationality:    &h.Nationality,
		}
		for f, dst := range values {
			v, err := document.MRZValue(d.Category, d.MRZ, f)
			if err != nil {
				return nil, err
			}
			*dst = v
		}
		dob, err := document.MRZValue(d.Category, d.MRZ, document.MRZDateOfBirth)
		if err != nil {
			return nil, err
		}
		if h.DOB, err = document.ExpandMRZDate(dob, now); err != nil {
			return nil, err
		}
		return h, nil
	case document.Selfrica:
		if d.Record == nil {
			return nil, fmt.Errorf("missing selfrica record")
		}
		return &Holder{Name: d.Record.FullName, DOB: d.Record.DOB, DocumentNumber: d.Record.IDNumber}, nil
	default:
		return nil, fmt.Errorf("no OFAC holder data for %s documents", d.Category)
	}
}

func assembleDisclose(ctx context.Context, req *Request) (*Result, error) {
	d := req.Document
	app := req.App
	if app == nil {
		return nil, ErrNoApp
	}
	if req.Trees.Commitment == nil {
		return nil, fmt.Errorf("%w: commitment tree", ErrMissingTree)
	}

	name, err := DiscloseCircuitName(d)
	if err != nil {
		return nil, err
	}

	id, err := NewIdentity(d, req.Trees.AadhaarKeys)
	if err != nil {
		return nil, err
	}
	commitment, err := id.Commitment(req.Secret)
	if err != nil {
		return nil, err
	}

	in := newInputs()
	in.scalar("secret", req.Secret)
	in.scalar("attestation_id", id.AttestationID)
	in.scalar("signer_hash", id.SignerHash)
	if err := in.merkle("", req.Trees.Commitment, commitment, CommitmentTreeDepth); err != nil {
		if isLeafMissing(err) {
			return nil, ErrNotRegistered
		}
		return nil, err
	}

	// Step 1: revealed data and its selector
	switch d.Category {
	case document.Passport, document.IDCard:
		sel, err := disclose.MRZSelector(d.Category, app.Disclosures.MRZFields)
		if err != nil {
			return nil, err
		}
		in.array("dg1", []byte(d.MRZ))
		in.raw("selector_dg1", sel)
	case document.Selfrica:
		serialized, err := document.Serialize(d.Record)
		if err != nil {
			return nil, err
		}
		sel, err := disclose.SelectorFromFields(app.Disclosures.RecordFields)
		if err != nil {
			return nil, err
		}
		in.array("SmileID_data", []byte(serialized))
		in.raw("selector_disclose", sel.Strings())
	}

	// Step 2: scope and user binding
	scope, err := ScopeHash(app.Endpoint, app.Scope)
	if err != nil {
		return nil, err
	}
	userID, err := ParseUserID(app.UserID)
	if err != nil {
		return nil, err
	}
	in.scalar("scope", scope)
	in.scalar("user_identifier", UserIdentifier(UserContextData(app.ChainID, userID, app.UserDefinedData)))
	in.array("current_date", DateDigits(req.now()))

	// Step 3: age and country checks
	majority, err := majorityDigits(app.Disclosures.MinimumAge)
	if err != nil {
		return nil, err
	}
	in.scalar("selector_older_than", app.Disclosures.MinimumAge > 0)
	in.array("majority", majority)

	forbidden, err := disclose.ForbiddenCountriesBytes(app.Disclosures.ExcludedCountries)
	if err != nil {
		return nil, err
	}
	in.array("forbidden_countries_list", forbidden)

	// Step 4: sanctions lists
	in.scalar("selector_ofac", app.Disclosures.OFAC)
	if err := ofacInputs(ctx, in, req); err != nil {
		return nil, err
	}

	m, err := in.done()
	if err != nil {
		return nil, err
	}
	return &Result{
		Inputs:       m,
		CircuitName:  name,
		EndpointType: app.EndpointType,
		Endpoint:     app.Endpoint,
	}, nil
}

func majorityDigits(age int) ([]byte, error) {
	if age < 0 || age > 99 {
		return nil, fmt.Errorf("invalid minimum age %d", age)
	}
	return []byte(fmt.Sprintf("%02d", age)), nil
}

func ofacInputs(ctx context.Context, in *inputs, req *Request) error {
	d := req.Document
	trees := req.Trees.OFAC
	enabled := req.App.Disclosures.OFAC

	type check struct {
		prefix string
		tree   *ofac.Tree
		leaf   func(h *Holder) (*big.Int, error)
	}
	checks := []check{
		{"ofac_name_dob_smt_", trees.NameDob, func(h *Holder) (*big.Int, error) { return ofac.NameDobLeaf(h.Name, h.DOB) }},
		{"ofac_name_yob_smt_", trees.NameYob, func(h *Holder) (*big.Int, error) {
			if len(h.DOB) != 8 {
				return nil, fmt.Errorf("invalid date of birth %q", h.DOB)
			}
			return ofac.NameYobLeaf(h.Name, h.DOB[:4])
		}},
	}
	if d.Category == document.Passport {
		checks = append(checks, check{"ofac_passportno_smt_", trees.PassportNo, func(h *Holder) (*big.Int, error) {
			return ofac.PassportNoLeaf(h.DocumentNumber, h.Nationality)
		}})
	}

	var holder *Holder
	if enabled {
		var err error
		if holder, err = HolderOf(d, req.now()); err != nil {
			return err
		}
	}

	for _, c := range checks {
		if !enabled {
			in.scalar(c.prefix+"leaf_key", 0)
			in.scalar(c.prefix+"root", 0)
			in.array(c.prefix+"siblings", make([]int, ofac.DefaultDepth))
			continue
		}
		if c.tree == nil {
			return fmt.Errorf("%w: %sroot", ErrMissingTree, c.prefix)
		}
		leaf, err := c.leaf(holder)
		if err != nil {
			return err
		}
		proof, err := ofac.GenerateProof(ctx, c.tree, leaf)
		if err != nil {
			return err
		}
		in.raw(c.prefix+"leaf_key", proof.ClosestLeafKey)
		in.raw(c.prefix+"root", proof.Root)
		in.raw(c.prefix+"siblings", proof.Siblings)
	}
	return nil
}
