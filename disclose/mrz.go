package disclose

import (
	"github.com/anchorageoss/selfprove-teeclient/document"
)

// MRZSelector returns the per-character selector for a passport or ID card
// MRZ, with every character of the named fields set.
func MRZSelector(c document.Category, fields []document.MRZField) ([]string, error) {
	length, err := document.MRZLength(c)
	if err != nil {
		return nil, err
	}

	bits := make([]bool, length)
	for _, f := range fields {
		r, err := document.MRZRange(c, f)
		if err != nil {
			return nil, err
		}
		for i := r.Start; i < r.End; i++ {
			bits[i] = true
		}
	}
	return boolStrings(bits), nil
}
