package document_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/document/doctest"
)

func TestCategory(t *testing.T) {
	tests := []struct {
		name     string
		category document.Category
		wire     string
		id       uint64
		suffix   string
		pki      bool
	}{
		{"passport", document.Passport, "passport", 1, "", true},
		{"id card", document.IDCard, "id_card", 2, "_id", true},
		{"aadhaar", document.Aadhaar, "aadhaar", 3, "_aadhaar", false},
		{"selfrica", document.Selfrica, "selfrica", 4, "_selfrica", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, tt.category.String())

			parsed, err := document.ParseCategory(tt.wire)
			require.NoError(t, err)
			assert.Equal(t, tt.category, parsed)

			id, err := tt.category.AttestationID()
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)

			suffix, err := tt.category.CircuitSuffix()
			require.NoError(t, err)
			assert.Equal(t, tt.suffix, suffix)

			assert.Equal(t, tt.pki, tt.category.IsPKI())
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := document.ParseCategory("drivers_license")
		assert.Error(t, err)

		_, err = document.Category(9).AttestationID()
		assert.Error(t, err)
	})
}

func TestFieldRanges(t *testing.T) {
	t.Run("offsets are cumulative", func(t *testing.T) {
		offset := 0
		for _, f := range document.SelfricaFields() {
			r, err := document.FieldRange(f)
			require.NoError(t, err)
			assert.Equal(t, offset, r.Start, "field %s", f)
			offset = r.End
		}
		assert.Equal(t, document.SelfricaMaxLength, offset)
	})

	t.Run("known offsets", func(t *testing.T) {
		r, err := document.FieldRange(document.FieldFullName)
		require.NoError(t, err)
		assert.Equal(t, document.Range{Start: 78, End: 142}, r)

		r, err = document.FieldRange(document.FieldAddress)
		require.NoError(t, err)
		assert.Equal(t, document.Range{Start: 202, End: 266}, r)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := document.FieldRange("nickname")
		assert.Error(t, err)
	})
}

func TestSerialize(t *testing.T) {
	t.Run("pads and uppercases", func(t *testing.T) {
		out, err := document.Serialize(doctest.SampleRecord())
		require.NoError(t, err)
		require.Len(t, out, document.SelfricaMaxLength)

		assert.Equal(t, "NGA", out[0:3])
		assert.Equal(t, "NATIONAL_ID"+strings.Repeat("\x00", 16), out[3:30])

		r, err := document.FieldRange(document.FieldDOB)
		require.NoError(t, err)
		assert.Equal(t, "19900101", out[r.Start:r.End])
	})

	t.Run("empty fields are all sentinel", func(t *testing.T) {
		out, err := document.Serialize(&document.Record{})
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("\x00", document.SelfricaMaxLength), out)
	})

	t.Run("overlong field", func(t *testing.T) {
		rec := doctest.SampleRecord()
		rec.Country = "NIGERIA"

		_, err := document.Serialize(rec)
		require.Error(t, err)

		var lenErr *document.FieldLengthError
		require.ErrorAs(t, err, &lenErr)
		assert.Equal(t, document.FieldCountry, lenErr.Field)
		assert.Equal(t, 3, lenErr.Want)
		assert.Equal(t, 7, lenErr.Got)
	})

	t.Run("round trip", func(t *testing.T) {
		rec := doctest.SampleRecord()
		out, err := document.Serialize(rec)
		require.NoError(t, err)

		back, err := document.Deserialize(out)
		require.NoError(t, err)
		assert.Equal(t, "NGA", back.Country)
		assert.Equal(t, rec.FullName, back.FullName)
		assert.Equal(t, rec.Address, back.Address)
	})
}

func TestMRZ(t *testing.T) {
	tests := []struct {
		name     string
		category document.Category
		mrz      string
		field    document.MRZField
		want     string
	}{
		{"passport issuing state", document.Passport, doctest.PassportMRZ, document.MRZIssuingState, "UTO"},
		{"passport number", document.Passport, doctest.PassportMRZ, document.MRZDocumentNumber, "L898902C3"},
		{"passport dob", document.Passport, doctest.PassportMRZ, document.MRZDateOfBirth, "740812"},
		{"passport gender", document.Passport, doctest.PassportMRZ, document.MRZGender, "F"},
		{"passport expiry", document.Passport, doctest.PassportMRZ, document.MRZExpiryDate, "120415"},
		{"id card number", document.IDCard, doctest.IDCardMRZ, document.MRZDocumentNumber, "D23145890"},
		{"id card nationality", document.IDCard, doctest.IDCardMRZ, document.MRZNationality, "UTO"},
		{"id card dob", document.IDCard, doctest.IDCardMRZ, document.MRZDateOfBirth, "740812"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := document.MRZValue(tt.category, tt.mrz, tt.field)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("no MRZ for aadhaar", func(t *testing.T) {
		_, err := document.MRZRange(document.Aadhaar, document.MRZName)
		assert.Error(t, err)
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := document.MRZValue(document.Passport, doctest.IDCardMRZ, document.MRZName)
		assert.Error(t, err)
	})
}

func TestParse(t *testing.T) {
	pki := doctest.NewPKI(t)

	t.Run("passport", func(t *testing.T) {
		data, err := document.Parse(pki.PassportEnvelope(t), pki.Roots)
		require.NoError(t, err)

		assert.Equal(t, document.Passport, data.Category)
		assert.Equal(t, doctest.PassportMRZ, data.MRZ)
		assert.Equal(t, "sha256_rsa_65537_2048", data.DocumentType)
		assert.Equal(t, "sha256_ecdsa_secp256r1_256", data.CSCAType)
		assert.Equal(t, pki.CSCA.Raw, data.CSCA.Raw)
	})

	t.Run("id card", func(t *testing.T) {
		data, err := document.Parse(pki.IDCardEnvelope(t), pki.Roots)
		require.NoError(t, err)
		assert.Equal(t, document.IDCard, data.Category)
	})

	t.Run("issuer not allowed", func(t *testing.T) {
		other := doctest.NewPKI(t)
		_, err := document.Parse(pki.PassportEnvelope(t), other.Roots)
		assert.ErrorIs(t, err, document.ErrUnknownIssuer)
	})

	t.Run("bad MRZ length", func(t *testing.T) {
		var env document.Envelope
		require.NoError(t, json.Unmarshal(pki.PassportEnvelope(t), &env))
		env.MRZ = env.MRZ[:80]
		raw, err := json.Marshal(env)
		require.NoError(t, err)

		_, err = document.Parse(raw, pki.Roots)
		assert.ErrorContains(t, err, "invalid MRZ length")
	})

	t.Run("selfrica", func(t *testing.T) {
		data, err := document.Parse(doctest.SelfricaEnvelope(t), nil)
		require.NoError(t, err)
		assert.Equal(t, document.Selfrica, data.Category)
		assert.Equal(t, "selfrica", data.DocumentType)
	})

	t.Run("aadhaar", func(t *testing.T) {
		data, err := document.Parse(doctest.AadhaarEnvelope(t), nil)
		require.NoError(t, err)
		assert.Equal(t, document.Aadhaar, data.Category)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := document.Parse([]byte("{"), pki.Roots)
		assert.Error(t, err)

		_, err = document.Parse([]byte(`{"category":"visa"}`), pki.Roots)
		assert.Error(t, err)
	})
}

func TestExpandMRZDate(t *testing.T) {
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want string
	}{
		{"740812", "19740812"},
		{"010203", "20010203"},
		{"261017", "20261017"},
		{"270101", "19270101"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := document.ExpandMRZDate(tt.in, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := document.ExpandMRZDate("7408", now)
	assert.Error(t, err)
	_, err = document.ExpandMRZDate("74AB12", now)
	assert.Error(t, err)
}

func TestRootsIssuers(t *testing.T) {
	pki := doctest.NewPKI(t)
	other := doctest.NewPKI(t)

	roots := document.NewRoots(other.CSCA, pki.CSCA, pki.CSCA)
	issuers := roots.Issuers(pki.DSC)
	require.Len(t, issuers, 2)

	issuer, err := roots.Issuer(pki.DSC)
	require.NoError(t, err)
	assert.Equal(t, pki.CSCA.Raw, issuer.Raw)

	var nilRoots *document.Roots
	assert.Empty(t, nilRoots.Issuers(pki.DSC))
}
