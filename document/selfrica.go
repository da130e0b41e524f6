package document

import (
	"fmt"
	"strings"
)

// Field names a Selfrica record field.
type Field string

const (
	FieldCountry      Field = "country"
	FieldIDType       Field = "idType"
	FieldIDNumber     Field = "idNumber"
	FieldIssuanceDate Field = "issuanceDate"
	FieldExpiryDate   Field = "expiryDate"
	FieldFullName     Field = "fullName"
	FieldDOB          Field = "dob"
	FieldPhotoHash    Field = "photoHash"
	FieldPhoneNumber  Field = "phoneNumber"
	FieldDocument     Field = "document"
	FieldGender       Field = "gender"
	FieldAddress      Field = "address"
)

// Declared Selfrica field lengths in bytes.
const (
	CountryLength      = 3
	IDTypeLength       = 27
	IDNumberLength     = 32
	IssuanceDateLength = 8
	ExpiryDateLength   = 8
	FullNameLength     = 64
	DOBLength          = 8
	PhotoHashLength    = 32
	PhoneNumberLength  = 12
	DocumentLength     = 2
	GenderLength       = 6
	AddressLength      = 64
)

const (
	// SelfricaMaxLength is the width of a serialized record and of the
	// disclosure selector.
	SelfricaMaxLength = 266

	// SelfricaSplitIndex is the bit index at which the selector is split
	// into two field elements.
	SelfricaSplitIndex = 133

	// Sentinel pads every field to its declared length.
	Sentinel = "\x00"
)

type fieldSpec struct {
	field  Field
	length int
}

// Concatenation order of a serialized record.
var selfricaLayout = []fieldSpec{
	{FieldCountry, CountryLength},
	{FieldIDType, IDTypeLength},
	{FieldIDNumber, IDNumberLength},
	{FieldIssuanceDate, IssuanceDateLength},
	{FieldExpiryDate, ExpiryDateLength},
	{FieldFullName, FullNameLength},
	{FieldDOB, DOBLength},
	{FieldPhotoHash, PhotoHashLength},
	{FieldPhoneNumber, PhoneNumberLength},
	{FieldDocument, DocumentLength},
	{FieldGender, GenderLength},
	{FieldAddress, AddressLength},
}

// Range is a half-open byte (or bit) range [Start, End).
type Range struct {
	Start int
	End   int
}

// Len returns the number of positions covered by the range.
func (r Range) Len() int {
	return r.End - r.Start
}

var selfricaRanges = buildSelfricaRanges()

func buildSelfricaRanges() map[Field]Range {
	ranges := make(map[Field]Range, len(selfricaLayout))
	offset := 0
	for _, entry := range selfricaLayout {
		ranges[entry.field] = Range{Start: offset, End: offset + entry.length}
		offset += entry.length
	}
	if offset != SelfricaMaxLength {
		panic(fmt.Sprintf("selfrica layout covers %d bytes, want %d", offset, SelfricaMaxLength))
	}
	return ranges
}

// SelfricaFields returns the record fields in serialization order.
func SelfricaFields() []Field {
	fields := make([]Field, len(selfricaLayout))
	for i, entry := range selfricaLayout {
		fields[i] = entry.field
	}
	return fields
}

// FieldRange returns the byte range of a field within a serialized record.
func FieldRange(f Field) (Range, error) {
	r, ok := selfricaRanges[f]
	if !ok {
		return Range{}, fmt.Errorf("unknown selfrica field %q", f)
	}
	return r, nil
}

// Record is a Selfrica (Smile ID) identity record.
type Record struct {
	Country      string `json:"country"`
	IDType       string `json:"idType"`
	IDNumber     string `json:"idNumber"`
	IssuanceDate string `json:"issuanceDate"`
	ExpiryDate   string `json:"expiryDate"`
	FullName     string `json:"fullName"`
	DOB          string `json:"dob"`
	PhotoHash    string `json:"photoHash"`
	PhoneNumber  string `json:"phoneNumber"`
	Document     string `json:"document"`
	Gender       string `json:"gender"`
	Address      string `json:"address"`
}

// Value returns the raw value of a field.
func (r *Record) Value(f Field) (string, error) {
	switch f {
	case FieldCountry:
		return r.Country, nil
	case FieldIDType:
		return r.IDType, nil
	case FieldIDNumber:
		return r.IDNumber, nil
	case FieldIssuanceDate:
		return r.IssuanceDate, nil
	case FieldExpiryDate:
		return r.ExpiryDate, nil
	case FieldFullName:
		return r.FullName, nil
	case FieldDOB:
		return r.DOB, nil
	case FieldPhotoHash:
		return r.PhotoHash, nil
	case FieldPhoneNumber:
		return r.PhoneNumber, nil
	case FieldDocument:
		return r.Document, nil
	case FieldGender:
		return r.Gender, nil
	case FieldAddress:
		return r.Address, nil
	default:
		return "", fmt.Errorf("unknown selfrica field %q", f)
	}
}

func (r *Record) set(f Field, v string) {
	switch f {
	case FieldCountry:
		r.Country = v
	case FieldIDType:
		r.IDType = v
	case FieldIDNumber:
		r.IDNumber = v
	case FieldIssuanceDate:
		r.IssuanceDate = v
	case FieldExpiryDate:
		r.ExpiryDate = v
	case FieldFullName:
		r.FullName = v
	case FieldDOB:
		r.DOB = v
	case FieldPhotoHash:
		r.PhotoHash = v
	case FieldPhoneNumber:
		r.PhoneNumber = v
	case FieldDocument:
		r.Document = v
	case FieldGender:
		r.Gender = v
	case FieldAddress:
		r.Address = v
	}
}

// FieldLengthError reports a field whose padded value does not match its
// declared length.
type FieldLengthError struct {
	Field Field
	Want  int
	Got   int
}

func (e *FieldLengthError) Error() string {
	return fmt.Sprintf("invalid %s length: expected %d bytes, got %d", e.Field, e.Want, e.Got)
}

// Serialize normalizes the record into its fixed-width representation.
func Serialize(r *Record) (string, error) {
	if r == nil {
		return "", fmt.Errorf("nil selfrica record")
	}

	var sb strings.Builder
	sb.Grow(SelfricaMaxLength)

	for _, entry := range selfricaLayout {
		value, err := r.Value(entry.field)
		if err != nil {
			return "", err
		}

		if entry.field == FieldCountry || entry.field == FieldIDType {
			value = strings.ToUpper(value)
		}

		if pad := entry.length - len(value); pad > 0 {
			value += strings.Repeat(Sentinel, pad)
		}
		if len(value) != entry.length {
			return "", &FieldLengthError{Field: entry.field, Want: entry.length, Got: len(value)}
		}

		sb.WriteString(value)
	}

	out := sb.String()
	if len(out) != SelfricaMaxLength {
		return "", fmt.Errorf("serialized record is %d bytes, want %d", len(out), SelfricaMaxLength)
	}
	return out, nil
}

// Deserialize parses a fixed-width record, stripping sentinel padding.
func Deserialize(s string) (*Record, error) {
	if len(s) != SelfricaMaxLength {
		return nil, fmt.Errorf("serialized record is %d bytes, want %d", len(s), SelfricaMaxLength)
	}

	r := &Record{}
	for _, entry := range selfricaLayout {
		rng := selfricaRanges[entry.field]
		r.set(entry.field, strings.TrimRight(s[rng.Start:rng.End], Sentinel))
	}
	return r, nil
}
