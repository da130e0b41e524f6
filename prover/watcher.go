package prover

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anchorageoss/selfprove-teeclient/crypto"
	"github.com/anchorageoss/selfprove-teeclient/tee"
)

// errStatusClosed is reported when the status channel ends without a
// terminal status
var errStatusClosed = errors.New("status channel closed before the proof finished")

// watcher consumes the request channel of one session
type watcher struct {
	m        *Machine
	gen      uint64
	snap     *Session
	conn     tee.Conn
	key      *ecdsa.PrivateKey
	pub      []byte
	name     string
	endpoint string

	attested bool
	acked    bool
}

func (w *watcher) run(ctx context.Context) {
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.conn.Messages():
			if !ok {
				w.closed(start)
				return
			}
			if err := w.handle(ctx, msg); err != nil {
				w.m.fail(w.gen, w.snap, w.stage(), start, w.failure(), err, nil)
				return
			}
		}
	}
}

// stage names the handshake before attestation and the submission after
func (w *watcher) stage() string {
	if w.attested {
		return "submit"
	}
	return "attestation"
}

func (w *watcher) failure() EventType {
	if w.attested {
		return EventProveError
	}
	return EventConnectError
}

// closed reports a dropped request channel. After the ack the status
// channel owns the session.
func (w *watcher) closed(start time.Time) {
	if w.acked {
		return
	}
	err := w.conn.Err()
	if err == nil {
		err = tee.ErrClosed
	}
	w.m.fail(w.gen, w.snap, w.stage(), start, w.failure(), fmt.Errorf("request channel closed: %w", err), nil)
}

func (w *watcher) handle(ctx context.Context, data []byte) error {
	msg, err := tee.ParseMessage(data)
	if err != nil {
		return err
	}

	switch msg.Kind {
	case tee.KindAttestation:
		if w.attested {
			return nil
		}
		ev, err := w.attest(ctx, msg.Attestation)
		if err != nil {
			return err
		}
		w.attested = true
		w.m.send(w.gen, *ev)
	case tee.KindAck:
		if msg.AckUUID != w.snap.ID {
			return fmt.Errorf("%w: %s", ErrUnexpectedAck, msg.AckUUID)
		}
		w.acked = true
		w.m.send(w.gen, event{
			Type:  EventSubmitAck,
			Apply: func(s *Session) { s.Acked = true },
		})
		go w.m.capture(ctx, w.gen, w.snap, "status", EventProveError, w.subscribe)
	case tee.KindError:
		return fmt.Errorf("TEE returned an error: %s", msg.Error)
	default:
		w.m.logger.Debug("ignoring request channel message", zap.String("session", w.snap.ID))
	}
	return nil
}

// attest validates the attestation and derives the channel key
func (w *watcher) attest(ctx context.Context, att *tee.AttestationResult) (*event, error) {
	// Step 1: The attestation must answer this session's hello
	if att.UUID != w.snap.ID {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedAttestation, att.UUID)
	}

	// Step 2: Validate the document
	result, err := w.m.deps.Attestation.Validate(ctx, att.Attestation)
	if err != nil {
		return nil, err
	}

	// Step 3: The enclave must have answered our hello
	if !bytes.Equal(result.UserPubkey, w.pub) {
		return nil, ErrKeyMismatch
	}

	// Step 4: Derive the channel key
	shared, err := crypto.SharedKey(w.key, result.ServerPubkey)
	if err != nil {
		return nil, err
	}

	w.m.logger.Info("TEE attested",
		zap.String("session", w.snap.ID),
		zap.String("image_hash", result.ImageHash),
	)

	name, endpoint, image := w.name, w.endpoint, result.ImageHash
	return &event{
		Type: EventConnectSuccess,
		Apply: func(s *Session) {
			s.CircuitName = name
			s.Endpoint = endpoint
			s.ImageHash = image
			s.SharedKey = shared
		},
	}, nil
}

// subscribe opens the status channel once the submission is acknowledged
func (w *watcher) subscribe(ctx context.Context) (*event, error) {
	stream, err := w.m.deps.Status.Subscribe(ctx, w.m.deps.StatusURL, w.snap.ID)
	if err != nil {
		return nil, err
	}
	if !w.m.setStream(w.gen, stream) {
		return nil, nil
	}
	go w.watchStatus(ctx, stream)
	return nil, nil
}

func (w *watcher) watchStatus(ctx context.Context, stream tee.StatusStream) {
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-stream.Updates():
			if !ok {
				err := stream.Err()
				if err == nil {
					err = errStatusClosed
				}
				w.m.fail(w.gen, w.snap, "status", start, EventProveError, err, nil)
				return
			}

			w.m.logger.Debug("proof status",
				zap.String("session", w.snap.ID),
				zap.Int("status", st.Status),
			)
			status := st
			w.m.send(w.gen, event{
				Type: EventStatusUpdate,
				Apply: func(s *Session) {
					s.Status = status.Status
					if status.ErrorCode != "" {
						s.ErrorCode = status.ErrorCode
					}
					if status.Reason != "" {
						s.Reason = status.Reason
					}
				},
			})

			switch {
			case st.Succeeded():
				w.m.tracker.Track("proving_status_success", w.m.props(w.snap, start))
				w.m.send(w.gen, event{Type: EventProveSuccess})
				return
			case st.Failed():
				err := fmt.Errorf("proof failed with status %d: %s", st.Status, st.Reason)
				w.m.fail(w.gen, w.snap, "status", start, EventProveFailure, err, func(s *Session) {
					s.ErrorCode = status.ErrorCode
					s.Reason = status.Reason
				})
				return
			}
		}
	}
}
