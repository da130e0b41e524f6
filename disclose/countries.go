package disclose

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/anchorageoss/selfprove-teeclient/field"
)

// MaxForbiddenCountries is the length of the forbidden-countries list.
const MaxForbiddenCountries = 40

const countryCodeLength = 3

// ForbiddenCountriesBytes lays ISO 3166 alpha-3 codes out as the circuit's
// forbidden-countries list, zero-padded to MaxForbiddenCountries entries.
func ForbiddenCountriesBytes(countries []string) ([]byte, error) {
	if len(countries) > MaxForbiddenCountries {
		return nil, fmt.Errorf("too many forbidden countries: %d > %d", len(countries), MaxForbiddenCountries)
	}

	buf := make([]byte, MaxForbiddenCountries*countryCodeLength)
	for i, c := range countries {
		c = strings.ToUpper(strings.TrimSpace(c))
		if len(c) != countryCodeLength {
			return nil, fmt.Errorf("invalid country code %q", c)
		}
		copy(buf[i*countryCodeLength:], c)
	}
	return buf, nil
}

// PackForbiddenCountries packs the forbidden-countries list into field
// elements.
func PackForbiddenCountries(countries []string) ([]*big.Int, error) {
	buf, err := ForbiddenCountriesBytes(countries)
	if err != nil {
		return nil, err
	}
	return field.PackBytes(buf), nil
}

// UnpackForbiddenCountries reverses PackForbiddenCountries, dropping padding.
func UnpackForbiddenCountries(elems []*big.Int) []string {
	buf := field.UnpackBytes(elems, MaxForbiddenCountries*countryCodeLength)

	var out []string
	for i := 0; i+countryCodeLength <= len(buf); i += countryCodeLength {
		code := strings.TrimRight(string(buf[i:i+countryCodeLength]), "\x00")
		if code == "" {
			continue
		}
		out = append(out, code)
	}
	return out
}
