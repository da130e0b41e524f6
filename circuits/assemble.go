package circuits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/field"
	"github.com/anchorageoss/selfprove-teeclient/tee"
	"github.com/anchorageoss/selfprove-teeclient/tree"
)

// Request is everything the assembler needs for one proof
type Request struct {
	CircuitType CircuitType
	Document    *document.Data
	Secret      *big.Int
	Trees       *Trees
	App         *App
	Env         Environment
	// HubAddress is the registry contract register and dsc proofs target
	HubAddress string
	// Now overrides the clock used for the current date signal
	Now time.Time
}

func (r *Request) now() time.Time {
	if r.Now.IsZero() {
		return time.Now()
	}
	return r.Now
}

// Assemble produces the circuit input object for req
func Assemble(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Document == nil {
		return nil, fmt.Errorf("missing document data")
	}
	if req.Trees == nil {
		return nil, fmt.Errorf("%w: no trees fetched", ErrMissingTree)
	}

	switch req.CircuitType {
	case Register:
		return assembleRegister(req)
	case DSC:
		return assembleDSC(req)
	case Disclose:
		return assembleDisclose(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported circuit type %s", req.CircuitType)
	}
}

// RegisterCircuitName returns the register circuit for a document
func RegisterCircuitName(d *document.Data) (string, error) {
	suffix, err := d.Category.CircuitSuffix()
	if err != nil {
		return "", err
	}
	switch d.Category {
	case document.Passport, document.IDCard:
		if d.DocumentType == "" {
			return "", fmt.Errorf("document type is unknown")
		}
		return "register" + suffix + "_" + d.DocumentType, nil
	case document.Aadhaar, document.Selfrica:
		return "register" + suffix, nil
	default:
		return "", fmt.Errorf("unsupported document category %s", d.Category)
	}
}

// DSCCircuitName returns the dsc circuit for a document
func DSCCircuitName(d *document.Data) (string, error) {
	if !d.Category.IsPKI() {
		return "", fmt.Errorf("%w: %s", ErrNoDSCStep, d.Category)
	}
	if d.CSCAType == "" {
		return "", fmt.Errorf("CSCA type is unknown")
	}
	return "dsc_" + d.CSCAType, nil
}

// DiscloseCircuitName returns the disclose circuit for a document
func DiscloseCircuitName(d *document.Data) (string, error) {
	if d.Category == document.Aadhaar {
		return "", fmt.Errorf("disclosure is not supported for %s documents", d.Category)
	}
	suffix, err := d.Category.CircuitSuffix()
	if err != nil {
		return "", err
	}
	return "vc_and_disclose" + suffix, nil
}

// CircuitName returns the circuit a request type runs for a document
func CircuitName(ct CircuitType, d *document.Data) (string, error) {
	switch ct {
	case Register:
		return RegisterCircuitName(d)
	case DSC:
		return DSCCircuitName(d)
	case Disclose:
		return DiscloseCircuitName(d)
	default:
		return "", fmt.Errorf("unsupported circuit type %s", ct)
	}
}

// PayloadType is the TEE payload type of a circuit for a category
func PayloadType(ct CircuitType, c document.Category) string {
	if ct != Disclose && c == document.IDCard {
		return ct.String() + "_id"
	}
	return ct.String()
}

// Payload wraps an assembled result into the plaintext sent to the TEE
func Payload(ct CircuitType, c document.Category, res *Result) (*tee.Payload, error) {
	inputs, err := json.Marshal(res.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal circuit inputs: %w", err)
	}
	return &tee.Payload{
		Type:         PayloadType(ct, c),
		Onchain:      res.EndpointType.Onchain(),
		EndpointType: string(res.EndpointType),
		Endpoint:     res.Endpoint,
		Circuit: tee.PayloadCircuit{
			Name:   res.CircuitName,
			Inputs: string(inputs),
		},
	}, nil
}

// inputs collects named signals, formatting each value as decimal scalars
type inputs struct {
	m   map[string]any
	err error
}

func newInputs() *inputs {
	return &inputs{m: make(map[string]any)}
}

// scalar stores a single scalar signal
func (in *inputs) scalar(name string, v any) {
	if in.err != nil {
		return
	}
	s, err := field.ToDecimal(v)
	if err != nil {
		in.err = fmt.Errorf("signal %s: %w", name, err)
		return
	}
	in.m[name] = s
}

// array stores an array signal
func (in *inputs) array(name string, v any) {
	if in.err != nil {
		return
	}
	s, err := field.FormatInput(v)
	if err != nil {
		in.err = fmt.Errorf("signal %s: %w", name, err)
		return
	}
	in.m[name] = s
}

// raw stores already formatted values
func (in *inputs) raw(name string, v any) {
	if in.err == nil {
		in.m[name] = v
	}
}

// merkle stores a tree membership proof padded to depth
func (in *inputs) merkle(prefix string, t *tree.LeanIMT, leaf *big.Int, depth int) error {
	index, err := t.IndexOf(leaf)
	if err != nil {
		return err
	}
	proof, err := t.GenerateProof(index)
	if err != nil {
		return fmt.Errorf("failed to generate %s proof: %w", prefix, err)
	}
	siblings, path, err := proof.Padded(depth)
	if err != nil {
		return fmt.Errorf("failed to pad %s proof: %w", prefix, err)
	}

	in.scalar(prefix+"root", proof.Root)
	in.scalar(prefix+"leaf_depth", proof.Depth())
	in.array(prefix+"path", path)
	in.array(prefix+"siblings", siblings)
	return nil
}

func (in *inputs) done() (map[string]any, error) {
	if in.err != nil {
		return nil, in.err
	}
	return in.m, nil
}

func isLeafMissing(err error) bool {
	return errors.Is(err, tree.ErrLeafNotFound)
}
