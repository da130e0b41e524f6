package verify

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/anchorageoss/selfprove-teeclient/disclose"
	"github.com/anchorageoss/selfprove-teeclient/document"
)

// Formatter turns revealed public signals into named attributes
type Formatter struct{}

// NewFormatter creates a new formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Disclosure decodes the revealed data, age check, sanctions checks and
// forbidden-countries list of a proof
func (f *Formatter) Disclosure(layout *Layout, signals []*big.Int) (*Disclosure, error) {
	if len(signals) != layout.Count {
		return nil, fmt.Errorf("expected %d public signals, got %d", layout.Count, len(signals))
	}

	revealed := RevealedBytes(layout, signals)
	d := &Disclosure{
		Attributes: map[string]string{},
		OlderThan:  strings.TrimRight(string(revealed[layout.OlderThanOffset:layout.OlderThanOffset+2]), "\x00"),
		OFAC:       make([]bool, len(layout.OFACLists)),
	}
	for i := range d.OFAC {
		d.OFAC[i] = revealed[layout.OFACOffset+i] == 1
	}

	doc := revealed[:layout.DocumentLength]
	switch layout.Category {
	case document.Passport, document.IDCard:
		for _, field := range document.MRZFields() {
			r, err := document.MRZRange(layout.Category, field)
			if err != nil {
				return nil, err
			}
			if v := cleanMRZ(doc[r.Start:r.End], field); v != "" {
				d.Attributes[string(field)] = v
			}
		}
	case document.Selfrica:
		for _, field := range document.SelfricaFields() {
			r, err := document.FieldRange(field)
			if err != nil {
				return nil, err
			}
			if v := strings.TrimRight(string(doc[r.Start:r.End]), "\x00"); v != "" {
				d.Attributes[string(field)] = v
			}
		}
	default:
		return nil, fmt.Errorf("no disclosure format for %s", layout.Category)
	}

	d.ForbiddenCountries = disclose.UnpackForbiddenCountries(signals[layout.ForbiddenCountries : layout.ForbiddenCountries+forbiddenElements])
	return d, nil
}

// cleanMRZ drops unrevealed bytes and filler characters
func cleanMRZ(b []byte, field document.MRZField) string {
	s := strings.Trim(string(b), "\x00")
	if field == document.MRZName {
		parts := strings.SplitN(s, "<<", 2)
		for i := range parts {
			parts[i] = strings.TrimSpace(strings.ReplaceAll(parts[i], "<", " "))
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	return strings.Trim(s, "<")
}

// FormatDisclosure formats a disclosure for display
func (f *Formatter) FormatDisclosure(d *Disclosure, indent string) string {
	var sb strings.Builder

	keys := make([]string, 0, len(d.Attributes))
	for k := range d.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString(fmt.Sprintf("%sRevealed attributes:\n", indent))
	if len(keys) == 0 {
		sb.WriteString(fmt.Sprintf("%s    (none)\n", indent))
	}
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("%s    %s: %s\n", indent, k, d.Attributes[k]))
	}

	if d.OlderThan != "" && d.OlderThan != "00" {
		sb.WriteString(fmt.Sprintf("%sOlder than: %s\n", indent, d.OlderThan))
	}
	for i, ok := range d.OFAC {
		sb.WriteString(fmt.Sprintf("%sOFAC check %d: %s\n", indent, i+1, passFail(ok)))
	}
	if len(d.ForbiddenCountries) > 0 {
		sb.WriteString(fmt.Sprintf("%sForbidden countries: %s\n", indent, strings.Join(d.ForbiddenCountries, ", ")))
	}
	return sb.String()
}

func passFail(ok bool) string {
	if ok {
		return "passed"
	}
	return "not passed"
}

// FormatVerificationResult formats a verification result for JSON output
func (f *Formatter) FormatVerificationResult(result *Result) map[string]interface{} {
	output := map[string]interface{}{
		"valid":         result.Valid,
		"attestationId": result.AttestationID,
		"destChainId":   result.DestChainID,
		"userId":        fmt.Sprintf("0x%x", result.UserID),
	}

	if result.Nullifier != nil {
		output["nullifier"] = result.Nullifier.String()
	}
	if result.UserIdentifier != nil {
		output["userIdentifier"] = result.UserIdentifier.String()
	}
	if len(result.UserDefinedData) > 0 {
		output["userDefinedData"] = fmt.Sprintf("0x%x", result.UserDefinedData)
	}
	if result.Disclosure != nil {
		output["disclosure"] = result.Disclosure
	}

	return output
}
