package document

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownIssuer is returned when a DSC does not chain to any allowed root.
var ErrUnknownIssuer = errors.New("document signer is not issued by an allowed root")

// Envelope is the scanned-document payload handed to the prover.
type Envelope struct {
	Category string `json:"category"`

	// Passport and ID card
	MRZ             string `json:"mrz,omitempty"`
	HashAlgorithm   string `json:"hashAlgorithm,omitempty"`
	EContent        []byte `json:"eContent,omitempty"`
	SignedAttr      []byte `json:"signedAttr,omitempty"`
	EncryptedDigest []byte `json:"encryptedDigest,omitempty"`
	DSC             string `json:"dsc,omitempty"`

	// Aadhaar
	QRData []byte `json:"qrData,omitempty"`

	// Selfrica
	Record *Record `json:"record,omitempty"`

	// Aadhaar and Selfrica
	Signature []byte `json:"signature,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
}

// Data is a parsed and structurally validated document.
type Data struct {
	Category Category
	Raw      []byte

	MRZ             string
	EContent        []byte
	SignedAttr      []byte
	EncryptedDigest []byte
	DSC             *x509.Certificate
	CSCA            *x509.Certificate

	QRData    []byte
	Record    *Record
	Signature []byte
	SignerKey any

	// DocumentType keys the register circuit, CSCAType the dsc circuit.
	DocumentType string
	CSCAType     string
}

// Roots is the allow-list of CSCA certificates accepted as DSC issuers.
type Roots struct {
	certs []*x509.Certificate
}

// NewRoots builds an allow-list from certificates.
func NewRoots(certs ...*x509.Certificate) *Roots {
	return &Roots{certs: certs}
}

// LoadRoots parses a PEM bundle of CSCA certificates.
func LoadRoots(bundle []byte) (*Roots, error) {
	roots := &Roots{}
	for {
		var block *pem.Block
		block, bundle = pem.Decode(bundle)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse root certificate: %w", err)
		}
		roots.certs = append(roots.certs, cert)
	}
	return roots, nil
}

// Len returns the number of allowed roots.
func (r *Roots) Len() int {
	if r == nil {
		return 0
	}
	return len(r.certs)
}

// Issuer returns the first allowed root that signed the DSC.
func (r *Roots) Issuer(dsc *x509.Certificate) (*x509.Certificate, error) {
	issuers := r.Issuers(dsc)
	if len(issuers) == 0 {
		return nil, ErrUnknownIssuer
	}
	return issuers[0], nil
}

// Issuers returns every allowed root that signed the DSC. A DSC can chain to
// more than one root when a country re-issues its CSCA with the same key.
func (r *Roots) Issuers(dsc *x509.Certificate) []*x509.Certificate {
	if r == nil {
		return nil
	}
	var out []*x509.Certificate
	for _, root := range r.certs {
		byKeyID := len(dsc.AuthorityKeyId) > 0 && bytes.Equal(root.SubjectKeyId, dsc.AuthorityKeyId)
		byName := bytes.Equal(root.RawSubject, dsc.RawIssuer)
		if !byKeyID && !byName {
			continue
		}
		if err := dsc.CheckSignatureFrom(root); err != nil {
			continue
		}
		out = append(out, root)
	}
	return out
}

// Parse decodes a scanned-document envelope and validates it against the
// root allow-list.
func Parse(raw []byte, roots *Roots) (*Data, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode document envelope: %w", err)
	}

	category, err := ParseCategory(env.Category)
	if err != nil {
		return nil, err
	}

	data := &Data{Category: category, Raw: raw}

	switch category {
	case Passport, IDCard:
		err = parsePKI(&env, data, roots)
	case Aadhaar:
		err = parseAadhaar(&env, data)
	case Selfrica:
		err = parseSelfrica(&env, data)
	default:
		err = fmt.Errorf("unsupported document category %s", category)
	}
	if err != nil {
		return nil, err
	}

	return data, nil
}

func parsePKI(env *Envelope, data *Data, roots *Roots) error {
	wantLen, err := MRZLength(data.Category)
	if err != nil {
		return err
	}
	if len(env.MRZ) != wantLen {
		return fmt.Errorf("invalid MRZ length: expected %d, got %d", wantLen, len(env.MRZ))
	}
	if len(env.EContent) == 0 || len(env.SignedAttr) == 0 || len(env.EncryptedDigest) == 0 {
		return fmt.Errorf("missing signed document data")
	}

	dsc, err := parseCertificate(env.DSC)
	if err != nil {
		return fmt.Errorf("failed to parse DSC: %w", err)
	}

	csca, err := roots.Issuer(dsc)
	if err != nil {
		return err
	}

	hash := strings.ToLower(env.HashAlgorithm)
	if hash == "" {
		hash = "sha256"
	}
	docType, err := documentType(hash, dsc.PublicKey, false)
	if err != nil {
		return fmt.Errorf("failed to derive document type: %w", err)
	}

	cscaHash, pss, err := signatureHash(dsc.SignatureAlgorithm)
	if err != nil {
		return err
	}
	cscaType, err := documentType(cscaHash, csca.PublicKey, pss)
	if err != nil {
		return fmt.Errorf("failed to derive CSCA type: %w", err)
	}

	data.MRZ = env.MRZ
	data.EContent = env.EContent
	data.SignedAttr = env.SignedAttr
	data.EncryptedDigest = env.EncryptedDigest
	data.DSC = dsc
	data.CSCA = csca
	data.DocumentType = docType
	data.CSCAType = cscaType
	return nil
}

func parseAadhaar(env *Envelope, data *Data) error {
	if len(env.QRData) == 0 {
		return fmt.Errorf("missing aadhaar QR data")
	}
	if len(env.Signature) == 0 {
		return fmt.Errorf("missing aadhaar signature")
	}

	data.QRData = env.QRData
	data.Signature = env.Signature
	data.DocumentType = "aadhaar"

	if env.PublicKey != "" {
		key, err := parsePublicKey(env.PublicKey)
		if err != nil {
			return fmt.Errorf("failed to parse aadhaar public key: %w", err)
		}
		data.SignerKey = key
	}
	return nil
}

func parseSelfrica(env *Envelope, data *Data) error {
	if env.Record == nil {
		return fmt.Errorf("missing selfrica record")
	}
	if _, err := Serialize(env.Record); err != nil {
		return err
	}
	if len(env.Signature) == 0 {
		return fmt.Errorf("missing selfrica signature")
	}

	data.Record = env.Record
	data.Signature = env.Signature
	data.DocumentType = "selfrica"

	if env.PublicKey != "" {
		key, err := parsePublicKey(env.PublicKey)
		if err != nil {
			return fmt.Errorf("failed to parse selfrica public key: %w", err)
		}
		data.SignerKey = key
	}
	return nil
}

func parseCertificate(s string) (*x509.Certificate, error) {
	if s == "" {
		return nil, fmt.Errorf("certificate is empty")
	}
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("certificate is not PEM encoded")
	}
	return x509.ParseCertificate(block.Bytes)
}

func parsePublicKey(s string) (any, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("public key is not PEM encoded")
	}
	return x509.ParsePKIXPublicKey(block.Bytes)
}

// ParsePublicKeyPEM parses a PEM encoded PKIX public key.
func ParsePublicKeyPEM(s string) (any, error) {
	return parsePublicKey(s)
}

func signatureHash(alg x509.SignatureAlgorithm) (hash string, pss bool, err error) {
	switch alg {
	case x509.SHA1WithRSA, x509.ECDSAWithSHA1:
		return "sha1", false, nil
	case x509.SHA256WithRSA, x509.ECDSAWithSHA256:
		return "sha256", false, nil
	case x509.SHA384WithRSA, x509.ECDSAWithSHA384:
		return "sha384", false, nil
	case x509.SHA512WithRSA, x509.ECDSAWithSHA512:
		return "sha512", false, nil
	case x509.SHA256WithRSAPSS:
		return "sha256", true, nil
	case x509.SHA384WithRSAPSS:
		return "sha384", true, nil
	case x509.SHA512WithRSAPSS:
		return "sha512", true, nil
	default:
		return "", false, fmt.Errorf("unsupported signature algorithm %s", alg)
	}
}

// documentType renders the <hash>_<sig>_<param>_<bits> circuit key.
func documentType(hash string, pub any, pss bool) (string, error) {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		sig := "rsa"
		if pss {
			sig = "rsapss"
		}
		return fmt.Sprintf("%s_%s_%s_%d", hash, sig, strconv.Itoa(key.E), key.N.BitLen()), nil
	case *ecdsa.PublicKey:
		var curve string
		switch key.Curve.Params().Name {
		case "P-256":
			curve = "secp256r1"
		case "P-384":
			curve = "secp384r1"
		case "P-521":
			curve = "secp521r1"
		default:
			return "", fmt.Errorf("unsupported curve %s", key.Curve.Params().Name)
		}
		return fmt.Sprintf("%s_ecdsa_%s_%d", hash, curve, key.Curve.Params().BitSize), nil
	default:
		return "", fmt.Errorf("unsupported public key type %T", pub)
	}
}
