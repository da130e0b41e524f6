package attestation

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	nitroverifier "github.com/anchorageoss/awsnitroverifier"
)

// ParsePCRs parses PCR specification string in format "0:<hex>,1:<hex>,..."
// and returns a slice of PCRRule
//
// Example input: "0:f2479c809cbfa117cfa3f9a91c12faf602a8d8f5c06afd8d3c7d9f48c49fe048385802da593e6cc7c70c0b8c519625de"
func ParsePCRs(pcrSpec string) ([]nitroverifier.PCRRule, error) {
	if pcrSpec == "" {
		return nil, nil
	}

	pcrSpecs := strings.Split(pcrSpec, ",")
	rules := make([]nitroverifier.PCRRule, 0, len(pcrSpecs))

	for _, spec := range pcrSpecs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid PCR specification '%s': expected format 'index:hex_value'", spec)
		}

		index, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid PCR index '%s': %w", parts[0], err)
		}

		hexValue := strings.TrimPrefix(strings.TrimSpace(parts[1]), "0x")
		value, err := hex.DecodeString(hexValue)
		if err != nil {
			return nil, fmt.Errorf("invalid PCR hex value '%s' for index %d: %w", hexValue, index, err)
		}

		rules = append(rules, nitroverifier.PCRRule{
			Index: uint(index),
			Value: value,
		})
	}

	return rules, nil
}

// StaticAllowList allows the image hashes carried by PCR0 rules.
type StaticAllowList struct {
	images [][]byte
}

// NewStaticAllowList keeps the PCR0 values of rules; other indices do not
// identify an image and are ignored.
func NewStaticAllowList(rules []nitroverifier.PCRRule) *StaticAllowList {
	l := &StaticAllowList{}
	for _, r := range rules {
		if r.Index == 0 {
			l.images = append(l.images, r.Value)
		}
	}
	return l
}

// IsAllowed reports whether imageHash (hex) is one of the allowed images.
func (l *StaticAllowList) IsAllowed(_ context.Context, imageHash string) (bool, error) {
	hash, err := hex.DecodeString(strings.TrimPrefix(imageHash, "0x"))
	if err != nil {
		return false, fmt.Errorf("invalid image hash %q: %w", imageHash, err)
	}
	for _, img := range l.images {
		if bytes.Equal(img, hash) {
			return true, nil
		}
	}
	return false, nil
}
