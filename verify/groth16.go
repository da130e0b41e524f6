package verify

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/anchorageoss/selfprove-teeclient/chain"
)

// VerifyingKey is a Groth16 verifying key over BN254
type VerifyingKey struct {
	Alpha bn254.G1Affine
	Beta  bn254.G2Affine
	Gamma bn254.G2Affine
	Delta bn254.G2Affine
	IC    []bn254.G1Affine
}

// Proof is a Groth16 proof over BN254
type Proof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

// snarkjs JSON encodings
type vkJSON struct {
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
	NPublic  int        `json:"nPublic"`
	Alpha1   []string   `json:"vk_alpha_1"`
	Beta2    [][]string `json:"vk_beta_2"`
	Gamma2   [][]string `json:"vk_gamma_2"`
	Delta2   [][]string `json:"vk_delta_2"`
	IC       [][]string `json:"IC"`
}

type proofJSON struct {
	A        []string   `json:"pi_a"`
	B        [][]string `json:"pi_b"`
	C        []string   `json:"pi_c"`
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
}

// ParseVerifyingKey decodes a snarkjs verification_key.json
func ParseVerifyingKey(data []byte) (*VerifyingKey, error) {
	var raw vkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode verifying key: %w", err)
	}
	if raw.Protocol != "" && raw.Protocol != "groth16" {
		return nil, fmt.Errorf("unsupported protocol %q", raw.Protocol)
	}
	if raw.NPublic != 0 && len(raw.IC) != raw.NPublic+1 {
		return nil, fmt.Errorf("verifying key has %d IC points for %d public inputs", len(raw.IC), raw.NPublic)
	}

	vk := &VerifyingKey{}
	var err error
	if vk.Alpha, err = g1FromStrings(raw.Alpha1); err != nil {
		return nil, fmt.Errorf("invalid vk_alpha_1: %w", err)
	}
	if vk.Beta, err = g2FromStrings(raw.Beta2); err != nil {
		return nil, fmt.Errorf("invalid vk_beta_2: %w", err)
	}
	if vk.Gamma, err = g2FromStrings(raw.Gamma2); err != nil {
		return nil, fmt.Errorf("invalid vk_gamma_2: %w", err)
	}
	if vk.Delta, err = g2FromStrings(raw.Delta2); err != nil {
		return nil, fmt.Errorf("invalid vk_delta_2: %w", err)
	}
	if len(raw.IC) == 0 {
		return nil, fmt.Errorf("verifying key has no IC points")
	}
	vk.IC = make([]bn254.G1Affine, len(raw.IC))
	for i, p := range raw.IC {
		if vk.IC[i], err = g1FromStrings(p); err != nil {
			return nil, fmt.Errorf("invalid IC[%d]: %w", i, err)
		}
	}
	return vk, nil
}

// MarshalJSON encodes the key in snarkjs format
func (vk *VerifyingKey) MarshalJSON() ([]byte, error) {
	raw := vkJSON{
		Protocol: "groth16",
		Curve:    "bn128",
		NPublic:  len(vk.IC) - 1,
		Alpha1:   g1Strings(&vk.Alpha),
		Beta2:    g2Strings(&vk.Beta),
		Gamma2:   g2Strings(&vk.Gamma),
		Delta2:   g2Strings(&vk.Delta),
	}
	for i := range vk.IC {
		raw.IC = append(raw.IC, g1Strings(&vk.IC[i]))
	}
	return json.Marshal(raw)
}

// ParseProof decodes a snarkjs proof.json
func ParseProof(data []byte) (*Proof, error) {
	var raw proofJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode proof: %w", err)
	}

	p := &Proof{}
	var err error
	if p.A, err = g1FromStrings(raw.A); err != nil {
		return nil, fmt.Errorf("invalid pi_a: %w", err)
	}
	if p.B, err = g2FromStrings(raw.B); err != nil {
		return nil, fmt.Errorf("invalid pi_b: %w", err)
	}
	if p.C, err = g1FromStrings(raw.C); err != nil {
		return nil, fmt.Errorf("invalid pi_c: %w", err)
	}
	return p, nil
}

// MarshalJSON encodes the proof in snarkjs format
func (p *Proof) MarshalJSON() ([]byte, error) {
	return json.Marshal(proofJSON{
		A:        g1Strings(&p.A),
		B:        g2Strings(&p.B),
		C:        g1Strings(&p.C),
		Protocol: "groth16",
		Curve:    "bn128",
	})
}

// VerifyGroth16 checks e(A, B) = e(alpha, beta) · e(vk_x, gamma) · e(C, delta)
func VerifyGroth16(vk *VerifyingKey, proof *Proof, public []*big.Int) error {
	if len(public)+1 != len(vk.IC) {
		return fmt.Errorf("%w: expected %d public signals, got %d", chain.ErrInvalidVcAndDiscloseProof, len(vk.IC)-1, len(public))
	}
	if !proof.A.IsInSubGroup() || !proof.B.IsInSubGroup() || !proof.C.IsInSubGroup() {
		return fmt.Errorf("%w: proof point not in subgroup", chain.ErrInvalidVcAndDiscloseProof)
	}

	// Step 1: vk_x = IC[0] + sum(public[i] * IC[i+1])
	modulus := fr.Modulus()
	vkX := vk.IC[0]
	for i, s := range public {
		if s.Sign() < 0 || s.Cmp(modulus) >= 0 {
			return fmt.Errorf("%w: public signal %d is not a field element", chain.ErrInvalidVcAndDiscloseProof, i)
		}
		var term bn254.G1Affine
		term.ScalarMultiplication(&vk.IC[i+1], s)
		vkX.Add(&vkX, &term)
	}

	// Step 2: pairing product equals one
	var negA bn254.G1Affine
	negA.Neg(&proof.A)
	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{negA, vk.Alpha, vkX, proof.C},
		[]bn254.G2Affine{proof.B, vk.Beta, vk.Gamma, vk.Delta},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", chain.ErrInvalidVcAndDiscloseProof, err)
	}
	if !ok {
		return chain.ErrInvalidVcAndDiscloseProof
	}
	return nil
}

// ChainProof converts a proof to the hub's calldata layout, which orders
// each G2 coordinate as (imaginary, real)
func ChainProof(p *Proof, public []*big.Int) *chain.Proof {
	return &chain.Proof{
		A: [2]*big.Int{elementInt(&p.A.X), elementInt(&p.A.Y)},
		B: [2][2]*big.Int{
			{elementInt(&p.B.X.A1), elementInt(&p.B.X.A0)},
			{elementInt(&p.B.Y.A1), elementInt(&p.B.Y.A0)},
		},
		C:          [2]*big.Int{elementInt(&p.C.X), elementInt(&p.C.Y)},
		PubSignals: public,
	}
}

func elementInt(e *fp.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

func setElement(e *fp.Element, s string) error {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid coordinate %q", s)
	}
	if v.Sign() < 0 || v.Cmp(fp.Modulus()) >= 0 {
		return fmt.Errorf("coordinate out of range")
	}
	e.SetBigInt(v)
	return nil
}

// g1FromStrings decodes projective [x, y, z] with z in {0, 1}
func g1FromStrings(s []string) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if len(s) != 3 {
		return p, fmt.Errorf("expected 3 coordinates, got %d", len(s))
	}
	if s[2] == "0" {
		return p, nil
	}
	if err := setElement(&p.X, s[0]); err != nil {
		return p, err
	}
	if err := setElement(&p.Y, s[1]); err != nil {
		return p, err
	}
	if !p.IsOnCurve() {
		return p, fmt.Errorf("point is not on the curve")
	}
	return p, nil
}

func g2FromStrings(s [][]string) (bn254.G2Affine, error) {
	var p bn254.G2Affine
	if len(s) != 3 || len(s[0]) != 2 || len(s[1]) != 2 || len(s[2]) != 2 {
		return p, fmt.Errorf("expected 3x2 coordinates")
	}
	if s[2][0] == "0" && s[2][1] == "0" {
		return p, nil
	}
	for _, c := range []struct {
		e *fp.Element
		s string
	}{
		{&p.X.A0, s[0][0]}, {&p.X.A1, s[0][1]},
		{&p.Y.A0, s[1][0]}, {&p.Y.A1, s[1][1]},
	} {
		if err := setElement(c.e, c.s); err != nil {
			return p, err
		}
	}
	if !p.IsOnCurve() {
		return p, fmt.Errorf("point is not on the curve")
	}
	return p, nil
}

func g1Strings(p *bn254.G1Affine) []string {
	if p.IsInfinity() {
		return []string{"0", "1", "0"}
	}
	return []string{p.X.String(), p.Y.String(), "1"}
}

func g2Strings(p *bn254.G2Affine) [][]string {
	if p.IsInfinity() {
		return [][]string{{"0", "0"}, {"1", "0"}, {"0", "0"}}
	}
	return [][]string{
		{p.X.A0.String(), p.X.A1.String()},
		{p.Y.A0.String(), p.Y.A1.String()},
		{"1", "0"},
	}
}
