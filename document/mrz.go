package document

import (
	"fmt"
	"strconv"
	"time"
)

// MRZField names a machine-readable-zone field.
type MRZField string

const (
	MRZIssuingState   MRZField = "issuing_state"
	MRZName           MRZField = "name"
	MRZDocumentNumber MRZField = "document_number"
	MRZNationality    MRZField = "nationality"
	MRZDateOfBirth    MRZField = "date_of_birth"
	MRZGender         MRZField = "gender"
	MRZExpiryDate     MRZField = "expiry_date"
)

// MRZ lengths as fed to the circuits.
const (
	PassportMRZLength = 88
	IDCardMRZLength   = 90
)

// TD3 layout: two lines of 44 characters.
var passportMRZ = map[MRZField]Range{
	MRZIssuingState:   {2, 5},
	MRZName:           {5, 44},
	MRZDocumentNumber: {44, 53},
	MRZNationality:    {54, 57},
	MRZDateOfBirth:    {57, 63},
	MRZGender:         {64, 65},
	MRZExpiryDate:     {65, 71},
}

// TD1 layout: three lines of 30 characters.
var idCardMRZ = map[MRZField]Range{
	MRZIssuingState:   {2, 5},
	MRZDocumentNumber: {5, 14},
	MRZDateOfBirth:    {30, 36},
	MRZGender:         {37, 38},
	MRZExpiryDate:     {38, 44},
	MRZNationality:    {45, 48},
	MRZName:           {60, 90},
}

// MRZFields returns the disclosable MRZ fields in a stable order.
func MRZFields() []MRZField {
	return []MRZField{
		MRZIssuingState,
		MRZName,
		MRZDocumentNumber,
		MRZNationality,
		MRZDateOfBirth,
		MRZGender,
		MRZExpiryDate,
	}
}

// MRZLength returns the MRZ length for a PKI document category.
func MRZLength(c Category) (int, error) {
	switch c {
	case Passport:
		return PassportMRZLength, nil
	case IDCard:
		return IDCardMRZLength, nil
	case Aadhaar, Selfrica:
		return 0, fmt.Errorf("%s documents have no MRZ", c)
	default:
		return 0, fmt.Errorf("unsupported document category %s", c)
	}
}

// MRZRange returns the character range of a field in the category's MRZ.
func MRZRange(c Category, f MRZField) (Range, error) {
	var table map[MRZField]Range
	switch c {
	case Passport:
		table = passportMRZ
	case IDCard:
		table = idCardMRZ
	case Aadhaar, Selfrica:
		return Range{}, fmt.Errorf("%s documents have no MRZ", c)
	default:
		return Range{}, fmt.Errorf("unsupported document category %s", c)
	}

	r, ok := table[f]
	if !ok {
		return Range{}, fmt.Errorf("unknown MRZ field %q", f)
	}
	return r, nil
}

// MRZValue extracts a field from an MRZ string.
func MRZValue(c Category, mrz string, f MRZField) (string, error) {
	want, err := MRZLength(c)
	if err != nil {
		return "", err
	}
	if len(mrz) != want {
		return "", fmt.Errorf("invalid MRZ length: expected %d, got %d", want, len(mrz))
	}

	r, err := MRZRange(c, f)
	if err != nil {
		return "", err
	}
	return mrz[r.Start:r.End], nil
}

// ExpandMRZDate turns a YYMMDD MRZ date of birth into YYYYMMDD. Years after
// the current two-digit year belong to the previous century.
func ExpandMRZDate(yymmdd string, now time.Time) (string, error) {
	if len(yymmdd) != 6 {
		return "", fmt.Errorf("invalid MRZ date %q: expected YYMMDD", yymmdd)
	}
	yy, err := strconv.Atoi(yymmdd[:2])
	if err != nil {
		return "", fmt.Errorf("invalid MRZ date %q: %w", yymmdd, err)
	}
	if _, err := strconv.Atoi(yymmdd[2:]); err != nil {
		return "", fmt.Errorf("invalid MRZ date %q: %w", yymmdd, err)
	}

	century := now.Year() / 100 * 100
	if yy > now.Year()%100 {
		century -= 100
	}
	return fmt.Sprintf("%04d%s", century+yy, yymmdd[2:]), nil
}
