// Package field provides helpers for encoding values as BN254 scalar field
// elements, the representation every circuit input and public signal uses.
//
// Circuit inputs are exchanged as decimal strings. FormatInput converts the
// Go values produced by the assembler into that form and rejects anything
// that does not fit below the scalar field modulus.
package field

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// BytesPerElement is the number of bytes packed into a single field element.
const BytesPerElement = 31

// Modulus returns the BN254 scalar field modulus.
func Modulus() *big.Int {
	return fr.Modulus()
}

// InField reports whether v is a canonical field element.
func InField(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(fr.Modulus()) < 0
}

// ToDecimal converts a single value into its decimal string scalar.
func ToDecimal(v any) (string, error) {
	var n *big.Int

	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return "", fmt.Errorf("nil big integer")
		}
		n = x
	case string:
		parsed, ok := new(big.Int).SetString(x, 0)
		if !ok {
			return "", fmt.Errorf("invalid numeric string %q", x)
		}
		n = parsed
	case int:
		n = big.NewInt(int64(x))
	case int64:
		n = big.NewInt(x)
	case uint64:
		n = new(big.Int).SetUint64(x)
	case uint8:
		n = big.NewInt(int64(x))
	case bool:
		if x {
			n = big.NewInt(1)
		} else {
			n = big.NewInt(0)
		}
	case fr.Element:
		n = new(big.Int)
		x.BigInt(n)
	default:
		return "", fmt.Errorf("unsupported input type %T", v)
	}

	if !InField(n) {
		return "", fmt.Errorf("value %s is outside the scalar field", n.String())
	}
	return n.String(), nil
}

// FormatInput converts a value or a slice of values into decimal string
// scalars. Byte slices are expanded element-wise.
func FormatInput(v any) ([]string, error) {
	switch x := v.(type) {
	case []*big.Int:
		out := make([]string, len(x))
		for i, e := range x {
			s, err := ToDecimal(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	case []string:
		out := make([]string, len(x))
		for i, e := range x {
			s, err := ToDecimal(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	case []byte:
		out := make([]string, len(x))
		for i, b := range x {
			out[i] = big.NewInt(int64(b)).String()
		}
		return out, nil
	case []int:
		out := make([]string, len(x))
		for i, e := range x {
			s, err := ToDecimal(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	default:
		s, err := ToDecimal(v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

// PackBytes packs b into little-endian field elements of BytesPerElement
// bytes each. The returned slice always has ceil(len(b)/31) elements.
func PackBytes(b []byte) []*big.Int {
	count := (len(b) + BytesPerElement - 1) / BytesPerElement
	out := make([]*big.Int, count)
	for i := 0; i < count; i++ {
		end := (i + 1) * BytesPerElement
		if end > len(b) {
			end = len(b)
		}
		out[i] = fromLittleEndian(b[i*BytesPerElement : end])
	}
	return out
}

// UnpackBytes reverses PackBytes, returning exactly length bytes.
func UnpackBytes(elems []*big.Int, length int) []byte {
	out := make([]byte, 0, len(elems)*BytesPerElement)
	for _, e := range elems {
		chunk := make([]byte, BytesPerElement)
		be := e.Bytes()
		// big.Int bytes are big-endian; reverse into the little-endian chunk
		for i := 0; i < len(be) && i < BytesPerElement; i++ {
			chunk[i] = be[len(be)-1-i]
		}
		out = append(out, chunk...)
	}
	if length < len(out) {
		out = out[:length]
	}
	return out
}

func fromLittleEndian(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	return new(big.Int).SetBytes(be)
}
