// Package prover drives a proving session from a stored document to a
// proof generated inside an attested TEE.
//
// # States
//
// A session walks through
//
//	idle -> parsing_id_document -> fetching_data -> validating_document
//	     -> init_tee_connexion -> ready_to_prove -> proving -> post_proving
//	     -> completed
//
// and may stop early in error, failure, passport_not_supported,
// account_recovery_choice or passport_data_not_found.
//
// # Usage
//
//	m := prover.NewMachine(deps)
//	if err := m.Init(ctx, prover.Options{CircuitType: circuits.DSC}); err != nil {
//		return err
//	}
//	if _, err := m.WaitFor(ctx, prover.ReadyToProve); err != nil {
//		return err
//	}
//	m.SetUserConfirmed()
//	state, err := m.Wait(ctx)
//
// A dsc session that completes re-initializes itself as a register session
// after Deps.RegisterDelay.
package prover

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/anchorageoss/selfprove-teeclient/api"
	"github.com/anchorageoss/selfprove-teeclient/attestation"
	"github.com/anchorageoss/selfprove-teeclient/circuits"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/store"
	"github.com/anchorageoss/selfprove-teeclient/tee"
	"github.com/anchorageoss/selfprove-teeclient/tree"
)

// DefaultRegisterDelay is the pause between a dsc proof and the register
// session that follows it
const DefaultRegisterDelay = 5 * time.Second

var (
	// ErrNotInitialized is returned by every session method before Init
	ErrNotInitialized = errors.New("State machine not initialized")

	// ErrKeyMismatch is returned when an attestation is bound to another client key
	ErrKeyMismatch = errors.New("attestation is bound to another client key")

	// ErrUnexpectedAck is returned when the TEE acknowledges another session
	ErrUnexpectedAck = errors.New("submission acknowledged for another session")

	// ErrUnexpectedAttestation is returned when the attestation answers
	// another session's hello
	ErrUnexpectedAttestation = errors.New("attestation issued for another session")
)

// KeyProvider supplies the client key used for the TEE handshake
type KeyProvider interface {
	ClientKey(ctx context.Context) (*ecdsa.PrivateKey, error)
}

// SecretProvider supplies the user secret bound into commitments
type SecretProvider interface {
	Secret(ctx context.Context) (*big.Int, error)
}

// DocumentStore is the document catalog a session reads and updates
type DocumentStore interface {
	Put(ctx context.Context, raw []byte, category document.Category, documentType string) (string, error)
	Select(ctx context.Context, id string) error
	Selected(ctx context.Context) (*store.Entry, error)
	Load(ctx context.Context, id string) (*store.Entry, error)
	Delete(ctx context.Context, id string) error
	MarkRegistered(ctx context.Context, id string) error
	HasOtherRegistered(ctx context.Context, excludeID string) (bool, error)
}

// TreeSource publishes the trees and circuit list a session needs
type TreeSource interface {
	CommitmentTree(ctx context.Context, category document.Category) (*tree.LeanIMT, error)
	DSCTree(ctx context.Context, category document.Category) (*tree.LeanIMT, error)
	CSCATree(ctx context.Context, category document.Category) (*tree.LeanIMT, error)
	OFACLeaves(ctx context.Context, category document.Category, list api.OFACList) ([]*big.Int, error)
	AadhaarPublicKeys(ctx context.Context) ([]string, error)
	DeployedCircuits(ctx context.Context) (api.DeployedCircuits, error)
}

// NullifierChecker reports whether a document nullifier is already spent on-chain
type NullifierChecker interface {
	IsNullifierUsed(ctx context.Context, attestationID uint64, nullifier *big.Int) (bool, error)
}

// AttestationValidator validates TEE attestation documents
type AttestationValidator interface {
	Validate(ctx context.Context, doc []byte) (*attestation.Result, error)
}

// Deps are the collaborators shared by every session of a machine
type Deps struct {
	Store       DocumentStore
	Trees       TreeSource
	Roots       *document.Roots
	Keys        KeyProvider
	Secrets     SecretProvider
	Attestation AttestationValidator
	Dialer      tee.Dialer
	Status      tee.StatusDialer
	Endpoints   *circuits.EndpointTable
	StatusURL   string
	Env         circuits.Environment
	HubAddress  string

	// Chain is optional; without it the nullifier check is skipped
	Chain NullifierChecker

	RegisterDelay time.Duration
	Logger        *zap.Logger
	Tracker       Tracker
	Now           func() time.Time
}

// Options configures one session
type Options struct {
	CircuitType circuits.CircuitType
	// DocumentID selects a stored document, the catalog selection otherwise
	DocumentID string
	App        *circuits.App
	// UserConfirmed starts proving as soon as the TEE is ready
	UserConfirmed bool

	// OnDisclosureResult receives the outcome of a disclose session
	OnDisclosureResult func(success bool, code, reason string)
	// OnRegistrationFailure receives whether another stored document is
	// registered after a register session failed
	OnRegistrationFailure func(hasOtherRegistered bool)
}

// Session is the data a session accumulates. Effects only see copies.
type Session struct {
	ID          string
	CircuitType circuits.CircuitType
	DocumentID  string
	App         *circuits.App

	Document *document.Data
	Secret   *big.Int
	Trees    *circuits.Trees
	Deployed api.DeployedCircuits

	CircuitName string
	Endpoint    string
	ImageHash   string
	SharedKey   []byte

	UserConfirmed bool
	Acked         bool
	Status        int
	ErrorCode     string
	Reason        string
	Err           error

	opts Options
}

func (s *Session) clone() *Session {
	c := *s
	if s.SharedKey != nil {
		c.SharedKey = append([]byte(nil), s.SharedKey...)
	}
	return &c
}
