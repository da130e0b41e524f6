package circuits

import (
	"crypto/x509"
	"fmt"

	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/field"
)

func assembleRegister(req *Request) (*Result, error) {
	d := req.Document
	if !field.InField(req.Secret) {
		return nil, fmt.Errorf("secret is missing or not a field element")
	}

	name, err := RegisterCircuitName(d)
	if err != nil {
		return nil, err
	}

	in := newInputs()
	switch d.Category {
	case document.Passport, document.IDCard:
		err = registerPKI(in, req)
	case document.Aadhaar:
		err = registerAadhaar(in, req)
	case document.Selfrica:
		err = registerSelfrica(in, req)
	default:
		err = fmt.Errorf("unsupported document category %s", d.Category)
	}
	if err != nil {
		return nil, err
	}

	in.scalar("secret", req.Secret)
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

func registerPKI(in *inputs, req *Request) error {
	d := req.Document
	if req.Trees.DSC == nil {
		return fmt.Errorf("%w: DSC tree", ErrMissingTree)
	}

	leaf, err := DSCLeaf(d.DSC, d.CSCA)
	if err != nil {
		return err
	}

	in.array("dg1", []byte(d.MRZ))
	in.array("eContent", d.EContent)
	in.array("signed_attr", d.SignedAttr)
	in.array("signature", field.PackBytes(d.EncryptedDigest))
	in.array("pubKey_dsc", field.PackBytes(d.DSC.RawSubjectPublicKeyInfo))
	in.array("raw_dsc", d.DSC.Raw)
	in.scalar("raw_dsc_actual_length", len(d.DSC.Raw))

	cscaLeaf, err := CSCALeaf(d.CSCA)
	if err != nil {
		return err
	}
	in.scalar("csca_tree_leaf", cscaLeaf)

	if err := in.merkle("dsc_tree_", req.Trees.DSC, leaf, DSCTreeDepth); err != nil {
		if isLeafMissing(err) {
			return fmt.Errorf("DSC is not registered in the DSC tree: %w", err)
		}
		return err
	}
	return nil
}

func registerAadhaar(in *inputs, req *Request) error {
	d := req.Document
	key, err := AadhaarSigner(d, req.Trees.AadhaarKeys)
	if err != nil {
		return err
	}

	in.array("qrDataPadded", d.QRData)
	in.scalar("qrDataPaddedLength", len(d.QRData))
	in.array("signature", field.PackBytes(d.Signature))
	in.array("pubKey", field.PackBytes(key.N.Bytes()))
	return nil
}

func registerSelfrica(in *inputs, req *Request) error {
	d := req.Document
	serialized, err := document.Serialize(d.Record)
	if err != nil {
		return err
	}

	in.array("SmileID_data_padded", []byte(serialized))
	in.array("signature", field.PackBytes(d.Signature))
	if d.SignerKey != nil {
		der, err := x509.MarshalPKIXPublicKey(d.SignerKey)
		if err != nil {
			return fmt.Errorf("failed to marshal signer key: %w", err)
		}
		in.array("pubKey", field.PackBytes(der))
	} else {
		in.array("pubKey", []int{0})
	}
	return nil
}
