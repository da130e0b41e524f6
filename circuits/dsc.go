package circuits

import (
	"fmt"
)

func assembleDSC(req *Request) (*Result, error) {
	d := req.Document
	name, err := DSCCircuitName(d)
	if err != nil {
		return nil, err
	}
	if req.Trees.CSCA == nil {
		return nil, fmt.Errorf("%w: CSCA tree", ErrMissingTree)
	}

	leaf, err := CSCALeaf(d.CSCA)
	if err != nil {
		return nil, err
	}

	in := newInputs()
	in.array("raw_csca", d.CSCA.Raw)
	in.scalar("raw_csca_actual_length", len(d.CSCA.Raw))
	in.array("raw_dsc", d.DSC.Raw)
	in.scalar("raw_dsc_actual_length", len(d.DSC.Raw))
	if err := in.merkle("csca_tree_", req.Trees.CSCA, leaf, CSCATreeDepth); err != nil {
		if isLeafMissing(err) {
			return nil, fmt.Errorf("CSCA is not in the CSCA tree: %w", err)
		}
		return nil, err
	}

	m, err := in.done()
	if err != nil {
		return nil, err
	}
	return &Result{
		Inputs:       m,
		CircuitName:  name,
		EndpointType: req.Env.RegistryEndpointType(),
		Endpoint:     req.HubAddress,
	}, nil
}
