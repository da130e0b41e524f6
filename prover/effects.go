package prover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anchorageoss/selfprove-teeclient/api"
	"github.com/anchorageoss/selfprove-teeclient/circuits"
	"github.com/anchorageoss/selfprove-teeclient/crypto"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/ofac"
	"github.com/anchorageoss/selfprove-teeclient/store"
	"github.com/anchorageoss/selfprove-teeclient/tee"
	"github.com/anchorageoss/selfprove-teeclient/tree"
)

// enter starts the effect of state s. Effects never block the dispatch loop.
func (m *Machine) enter(ctx context.Context, gen uint64, s State, snap *Session) {
	switch s {
	case ParsingIDDocument:
		go m.capture(ctx, gen, snap, "parse", EventParseError, m.parseDocument(snap))
	case FetchingData:
		go m.capture(ctx, gen, snap, "fetch", EventFetchError, m.fetchData(snap))
	case ValidatingDocument:
		go m.capture(ctx, gen, snap, "validate", EventValidationError, m.validateDocument(snap))
	case InitTEEConnexion:
		go m.capture(ctx, gen, snap, "connect", EventConnectError, m.connect(gen, snap))
	case ReadyToProve:
		if snap.UserConfirmed {
			go m.send(gen, event{Type: EventStartProving})
		}
	case Proving:
		go m.capture(ctx, gen, snap, "prove", EventProveError, m.submit(gen, snap))
	case PostProving:
		m.postProving(ctx, gen, snap)
	case Completed:
		m.completed(snap)
	case Error, Failure:
		m.failed(snap)
	}
}

// parseDocument loads the session document from the store and parses it
func (m *Machine) parseDocument(snap *Session) effect {
	return func(ctx context.Context) (*event, error) {
		var entry *store.Entry
		var err error
		if snap.DocumentID != "" {
			entry, err = m.deps.Store.Load(ctx, snap.DocumentID)
		} else {
			entry, err = m.deps.Store.Selected(ctx)
		}
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNoSelection) {
			return &event{Type: EventPassportDataNotFound}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load document: %w", err)
		}

		data, err := document.Parse(entry.Raw, m.deps.Roots)
		if err != nil {
			return nil, err
		}

		id := entry.Meta.ID
		return &event{
			Type: EventParseSuccess,
			Apply: func(s *Session) {
				s.Document = data
				s.DocumentID = id
			},
		}, nil
	}
}

// fetchData loads the user secret and the public trees the circuit needs
func (m *Machine) fetchData(snap *Session) effect {
	return func(ctx context.Context) (*event, error) {
		d := snap.Document
		trees := &circuits.Trees{}

		// Step 1: Secret and deployed circuits
		secret, err := m.deps.Secrets.Secret(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load secret: %w", err)
		}
		deployed, err := m.deps.Trees.DeployedCircuits(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch deployed circuits: %w", err)
		}

		// Step 2: Identity trees
		if trees.Commitment, err = m.deps.Trees.CommitmentTree(ctx, d.Category); err != nil {
			return nil, fmt.Errorf("failed to fetch commitment tree: %w", err)
		}
		if d.Category.IsPKI() {
			if trees.DSC, err = m.deps.Trees.DSCTree(ctx, d.Category); err != nil {
				return nil, fmt.Errorf("failed to fetch DSC tree: %w", err)
			}
			if snap.CircuitType == circuits.DSC {
				if trees.CSCA, err = m.deps.Trees.CSCATree(ctx, d.Category); err != nil {
					return nil, fmt.Errorf("failed to fetch CSCA tree: %w", err)
				}
			}
		}
		if d.Category == document.Aadhaar {
			if trees.AadhaarKeys, err = m.deps.Trees.AadhaarPublicKeys(ctx); err != nil {
				return nil, fmt.Errorf("failed to fetch aadhaar keys: %w", err)
			}
		}

		// Step 3: Sanctions lists
		if snap.CircuitType == circuits.Disclose && snap.App != nil && snap.App.Disclosures.OFAC {
			if trees.OFAC, err = m.fetchOFAC(ctx, d.Category); err != nil {
				return nil, err
			}
		}

		return &event{
			Type: EventFetchSuccess,
			Apply: func(s *Session) {
				s.Secret = secret
				s.Trees = trees
				s.Deployed = deployed
			},
		}, nil
	}
}

func (m *Machine) fetchOFAC(ctx context.Context, category document.Category) (circuits.OFACTrees, error) {
	var out circuits.OFACTrees
	lists := map[api.OFACList]**ofac.Tree{
		api.OFACNameDob: &out.NameDob,
		api.OFACNameYob: &out.NameYob,
	}
	if category == document.Passport {
		lists[api.OFACPassportNo] = &out.PassportNo
	}

	for list, dst := range lists {
		leaves, err := m.deps.Trees.OFACLeaves(ctx, category, list)
		if err != nil {
			return out, fmt.Errorf("failed to fetch %s list: %w", list, err)
		}
		t, err := ofac.FromLeaves(ctx, ofac.DefaultDepth, leaves)
		if err != nil {
			return out, fmt.Errorf("failed to build %s tree: %w", list, err)
		}
		*dst = t
	}
	return out, nil
}

// circuitKind is the deployed-circuit group checked for a session
func circuitKind(ct circuits.CircuitType, c document.Category) (api.CircuitKind, error) {
	if ct == circuits.DSC {
		switch c {
		case document.Passport:
			return api.KindDSC, nil
		case document.IDCard:
			return api.KindDSCID, nil
		default:
			return "", fmt.Errorf("%w: %s", circuits.ErrNoDSCStep, c)
		}
	}
	switch c {
	case document.Passport:
		return api.KindRegister, nil
	case document.IDCard:
		return api.KindRegisterID, nil
	case document.Aadhaar:
		return api.KindRegisterAadhaar, nil
	case document.Selfrica:
		return api.KindRegisterSelfrica, nil
	default:
		return "", fmt.Errorf("unsupported document category %s", c)
	}
}

// validateDocument checks circuit support and the document's registration
// status
func (m *Machine) validateDocument(snap *Session) effect {
	return func(ctx context.Context) (*event, error) {
		d := snap.Document

		// Step 1: Deployed circuit support
		kind, err := circuitKind(snap.CircuitType, d.Category)
		if err != nil {
			return nil, err
		}
		name, err := circuits.RegisterCircuitName(d)
		if snap.CircuitType == circuits.DSC {
			name, err = circuits.DSCCircuitName(d)
		}
		if err != nil {
			return nil, err
		}
		if !snap.Deployed.Supports(kind, name) {
			m.logger.Warn("document not supported, removing it",
				zap.String("session", snap.ID),
				zap.String("circuit_name", name),
			)
			if err := m.deps.Store.Delete(ctx, snap.DocumentID); err != nil {
				return nil, fmt.Errorf("failed to delete unsupported document: %w", err)
			}
			return &event{Type: EventPassportNotSupported}, nil
		}

		if snap.CircuitType == circuits.Disclose {
			return m.validateDisclose(snap)
		}
		return m.validateRegistration(ctx, snap)
	}
}

func (m *Machine) validateDisclose(snap *Session) (*event, error) {
	id, err := circuits.NewIdentity(snap.Document, snap.Trees.AadhaarKeys)
	if err != nil {
		return nil, err
	}
	commitment, err := id.Commitment(snap.Secret)
	if err != nil {
		return nil, err
	}
	if _, err := snap.Trees.Commitment.IndexOf(commitment); err != nil {
		if errors.Is(err, tree.ErrLeafNotFound) {
			return nil, circuits.ErrNotRegistered
		}
		return nil, err
	}
	return &event{Type: EventValidationSuccess}, nil
}

func (m *Machine) validateRegistration(ctx context.Context, snap *Session) (*event, error) {
	d := snap.Document

	// Step 1: Already registered under any allowed issuer
	registered, err := m.isRegistered(snap)
	if err != nil {
		return nil, err
	}
	if registered {
		id, err := m.deps.Store.Put(ctx, d.Raw, d.Category, d.DocumentType)
		if err != nil {
			return nil, fmt.Errorf("failed to store registered document: %w", err)
		}
		return &event{
			Type: EventAlreadyRegistered,
			Apply: func(s *Session) {
				s.DocumentID = id
				s.CircuitType = circuits.Register
			},
		}, nil
	}

	// Step 2: Nullifier already spent by another commitment
	if m.deps.Chain != nil {
		id, err := circuits.NewIdentity(d, snap.Trees.AadhaarKeys)
		if err != nil {
			return nil, err
		}
		used, err := m.deps.Chain.IsNullifierUsed(ctx, id.AttestationID, id.Nullifier)
		if err != nil {
			return nil, fmt.Errorf("failed to check nullifier: %w", err)
		}
		if used {
			return &event{Type: EventAccountRecoveryChoice}, nil
		}
	}

	// Step 3: A registered DSC skips the dsc proof
	if snap.CircuitType == circuits.DSC {
		leaf, err := circuits.DSCLeaf(d.DSC, d.CSCA)
		if err != nil {
			return nil, err
		}
		if _, err := snap.Trees.DSC.IndexOf(leaf); err == nil {
			m.logger.Info("DSC already registered, proving registration",
				zap.String("session", snap.ID),
			)
			return &event{
				Type:  EventValidationSuccess,
				Apply: func(s *Session) { s.CircuitType = circuits.Register },
			}, nil
		}
	}

	return &event{Type: EventValidationSuccess}, nil
}

// isRegistered reports whether the document's commitment is in the tree for
// any issuer the roots accept
func (m *Machine) isRegistered(snap *Session) (bool, error) {
	d := snap.Document

	var ids []*circuits.Identity
	if d.Category.IsPKI() {
		for _, csca := range m.deps.Roots.Issuers(d.DSC) {
			id, err := circuits.NewIdentityWithCSCA(d, csca)
			if err != nil {
				return false, err
			}
			ids = append(ids, id)
		}
	} else {
		id, err := circuits.NewIdentity(d, snap.Trees.AadhaarKeys)
		if err != nil {
			return false, err
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		commitment, err := id.Commitment(snap.Secret)
		if err != nil {
			return false, err
		}
		if _, err := snap.Trees.Commitment.IndexOf(commitment); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// connect opens the request channel and sends hello. The watcher emits the
// connect event once the attestation arrives.
func (m *Machine) connect(gen uint64, snap *Session) effect {
	return func(ctx context.Context) (*event, error) {
		key, err := m.deps.Keys.ClientKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load client key: %w", err)
		}
		pub, err := crypto.MarshalPublicKey(&key.PublicKey)
		if err != nil {
			return nil, err
		}

		name, err := circuits.CircuitName(snap.CircuitType, snap.Document)
		if err != nil {
			return nil, err
		}
		url, err := m.deps.Endpoints.URL(snap.CircuitType, name)
		if err != nil {
			return nil, err
		}

		conn, err := m.deps.Dialer.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		if !m.setConn(gen, conn) {
			return nil, nil
		}
		if err := conn.Send(ctx, tee.NewHello(pub, snap.ID)); err != nil {
			return nil, fmt.Errorf("failed to send hello: %w", err)
		}

		w := &watcher{
			m:        m,
			gen:      gen,
			snap:     snap,
			conn:     conn,
			key:      key,
			pub:      pub,
			name:     name,
			endpoint: url,
		}
		go w.run(ctx)
		return nil, nil
	}
}

// submit assembles, encrypts and sends the circuit inputs
func (m *Machine) submit(gen uint64, snap *Session) effect {
	return func(ctx context.Context) (*event, error) {
		d := snap.Document

		// Step 1: Assemble the circuit inputs
		res, err := circuits.Assemble(ctx, &circuits.Request{
			CircuitType: snap.CircuitType,
			Document:    d,
			Secret:      snap.Secret,
			Trees:       snap.Trees,
			App:         snap.App,
			Env:         m.deps.Env,
			HubAddress:  m.deps.HubAddress,
			Now:         m.deps.Now(),
		})
		if err != nil {
			return nil, err
		}
		payload, err := circuits.Payload(snap.CircuitType, d.Category, res)
		if err != nil {
			return nil, err
		}

		// Step 2: Seal it with the channel key
		plaintext, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		sealed, err := crypto.Encrypt(plaintext, snap.SharedKey)
		if err != nil {
			return nil, err
		}

		// Step 3: Submit on the request channel
		conn := m.currentConn(gen)
		if conn == nil {
			return nil, tee.ErrClosed
		}
		if err := conn.Send(ctx, tee.NewSubmit(snap.ID, sealed)); err != nil {
			return nil, fmt.Errorf("failed to submit proof request: %w", err)
		}
		return nil, nil
	}
}

// postProving chains a dsc proof into registration and completes the rest
func (m *Machine) postProving(ctx context.Context, gen uint64, snap *Session) {
	if snap.CircuitType != circuits.DSC {
		go m.send(gen, event{Type: EventCompleted})
		return
	}

	opts := snap.opts
	opts.CircuitType = circuits.Register
	opts.DocumentID = snap.DocumentID
	opts.UserConfirmed = true
	delay := m.deps.RegisterDelay

	m.logger.Info("DSC proof done, registering",
		zap.String("session", snap.ID),
		zap.Duration("delay", delay),
	)
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			m.reinit(gen, opts)
		case <-ctx.Done():
		}
	}()
}

// completed runs the terminal success side effects
func (m *Machine) completed(snap *Session) {
	m.logger.Info("proving session completed",
		zap.String("session", snap.ID),
		zap.String("circuit", snap.CircuitType.String()),
	)

	switch snap.CircuitType {
	case circuits.Register:
		go func() {
			if err := m.deps.Store.MarkRegistered(context.Background(), snap.DocumentID); err != nil {
				m.logger.Warn("failed to mark document registered",
					zap.String("session", snap.ID),
					zap.Error(err),
				)
			}
		}()
	case circuits.Disclose:
		if cb := snap.opts.OnDisclosureResult; cb != nil {
			go cb(true, "", "")
		}
	}
}

// failed reports a terminal error or proof failure to the application
func (m *Machine) failed(snap *Session) {
	opts := snap.opts

	switch snap.CircuitType {
	case circuits.Disclose:
		if opts.OnDisclosureResult == nil {
			return
		}
		code, reason := snap.ErrorCode, snap.Reason
		if code == "" {
			code = string(Classify(snap.Err))
		}
		if reason == "" && snap.Err != nil {
			reason = snap.Err.Error()
		}
		go opts.OnDisclosureResult(false, code, reason)
	case circuits.Register, circuits.DSC:
		if opts.OnRegistrationFailure == nil || snap.DocumentID == "" {
			return
		}
		go func() {
			other, err := m.deps.Store.HasOtherRegistered(context.Background(), snap.DocumentID)
			if err != nil {
				m.logger.Warn("failed to check other registered documents",
					zap.String("session", snap.ID),
					zap.Error(err),
				)
				return
			}
			opts.OnRegistrationFailure(other)
		}()
	}
}
