// Package disclose packs selective-disclosure selections into the field
// elements the disclosure circuits take as input, and unpacks them again.
package disclose

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/anchorageoss/selfprove-teeclient/document"
)

// ErrInvalidSelectorLength is returned when a selector array does not have
// exactly SelfricaMaxLength entries.
var ErrInvalidSelectorLength = errors.New("invalid disclose selector length")

// Selector is a disclosure mask split into two field elements. High holds
// bits [SelfricaSplitIndex, SelfricaMaxLength), Low holds [0, SelfricaSplitIndex).
type Selector struct {
	High *big.Int
	Low  *big.Int
}

// Strings returns the selector as [high, low] decimal strings.
func (s Selector) Strings() [2]string {
	return [2]string{s.High.String(), s.Low.String()}
}

// SelectorFromFields sets every bit covered by the named fields.
func SelectorFromFields(fields []document.Field) (Selector, error) {
	bits := make([]bool, document.SelfricaMaxLength)
	for _, f := range fields {
		r, err := document.FieldRange(f)
		if err != nil {
			return Selector{}, err
		}
		for i := r.Start; i < r.End; i++ {
			bits[i] = true
		}
	}
	return split(bits), nil
}

// SplitDiscloseSel converts an array of "1"/"0" strings into a selector.
// The array must be exactly SelfricaMaxLength long.
func SplitDiscloseSel(sel []string) (Selector, error) {
	if len(sel) != document.SelfricaMaxLength {
		return Selector{}, fmt.Errorf("%w: expected %d, got %d", ErrInvalidSelectorLength, document.SelfricaMaxLength, len(sel))
	}

	bits := make([]bool, len(sel))
	for i, s := range sel {
		switch s {
		case "1":
			bits[i] = true
		case "0":
		default:
			return Selector{}, fmt.Errorf("invalid disclose selector bit %d: %q", i, s)
		}
	}
	return split(bits), nil
}

// FieldsFromSelector returns the fields whose byte ranges are fully selected,
// in serialization order. A partially selected field is an error.
func FieldsFromSelector(s Selector) ([]document.Field, error) {
	bits, err := Bits(s)
	if err != nil {
		return nil, err
	}

	var fields []document.Field
	for _, f := range document.SelfricaFields() {
		r, err := document.FieldRange(f)
		if err != nil {
			return nil, err
		}

		set := 0
		for i := r.Start; i < r.End; i++ {
			if bits[i] {
				set++
			}
		}
		switch set {
		case 0:
		case r.Len():
			fields = append(fields, f)
		default:
			return nil, fmt.Errorf("field %s is partially selected", f)
		}
	}
	return fields, nil
}

// Bits expands a selector back into SelfricaMaxLength bits.
func Bits(s Selector) ([]bool, error) {
	lowWidth := document.SelfricaSplitIndex
	highWidth := document.SelfricaMaxLength - document.SelfricaSplitIndex

	if s.Low == nil || s.High == nil {
		return nil, fmt.Errorf("selector halves must be set")
	}
	if s.Low.Sign() < 0 || s.Low.BitLen() > lowWidth {
		return nil, fmt.Errorf("selector low half exceeds %d bits", lowWidth)
	}
	if s.High.Sign() < 0 || s.High.BitLen() > highWidth {
		return nil, fmt.Errorf("selector high half exceeds %d bits", highWidth)
	}

	bits := make([]bool, document.SelfricaMaxLength)
	for i := 0; i < lowWidth; i++ {
		bits[i] = s.Low.Bit(i) == 1
	}
	for i := 0; i < highWidth; i++ {
		bits[lowWidth+i] = s.High.Bit(i) == 1
	}
	return bits, nil
}

// BitStrings renders a selector as the "1"/"0" array SplitDiscloseSel takes.
func BitStrings(s Selector) ([]string, error) {
	bits, err := Bits(s)
	if err != nil {
		return nil, err
	}
	return boolStrings(bits), nil
}

func split(bits []bool) Selector {
	low := new(big.Int)
	high := new(big.Int)
	for i, set := range bits {
		if !set {
			continue
		}
		if i < document.SelfricaSplitIndex {
			low.SetBit(low, i, 1)
		} else {
			high.SetBit(high, i-document.SelfricaSplitIndex, 1)
		}
	}
	return Selector{High: high, Low: low}
}

func boolStrings(bits []bool) []string {
	out := make([]string, len(bits))
	for i, b := range bits {
		if b {
			out[i] = "1"
		} else {
			out[i] = "0"
		}
	}
	return out
}
