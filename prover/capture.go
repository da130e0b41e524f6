package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anchorageoss/selfprove-teeclient/attestation"
	"github.com/anchorageoss/selfprove-teeclient/circuits"
	"github.com/anchorageoss/selfprove-teeclient/disclose"
	"github.com/anchorageoss/selfprove-teeclient/document"
	"github.com/anchorageoss/selfprove-teeclient/tee"
)

// Category groups stage failures for logs and analytics
type Category string

const (
	CategoryMalformedInput Category = "malformed_input"
	CategoryCrypto         Category = "crypto_verification"
	CategoryProtocol       Category = "protocol"
	CategoryRemote         Category = "remote"
)

// Classify maps a stage error to its category
func Classify(err error) Category {
	var lenErr *document.FieldLengthError
	switch {
	case errors.As(err, &lenErr),
		errors.Is(err, disclose.ErrInvalidSelectorLength):
		return CategoryMalformedInput
	case errors.Is(err, attestation.ErrMalformed),
		errors.Is(err, attestation.ErrRootFingerprint),
		errors.Is(err, attestation.ErrChain),
		errors.Is(err, attestation.ErrSignature),
		errors.Is(err, attestation.ErrDebugMode),
		errors.Is(err, attestation.ErrImageNotAllowed),
		errors.Is(err, document.ErrUnknownIssuer),
		errors.Is(err, ErrKeyMismatch):
		return CategoryCrypto
	case errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrUnexpectedAck),
		errors.Is(err, ErrUnexpectedAttestation),
		errors.Is(err, circuits.ErrNoApp),
		errors.Is(err, circuits.ErrNoDSCStep),
		errors.Is(err, circuits.ErrMissingTree),
		errors.Is(err, circuits.ErrNotRegistered),
		errors.Is(err, tee.ErrClosed):
		return CategoryProtocol
	default:
		return CategoryRemote
	}
}

// Tracker receives analytics events for every stage outcome
type Tracker interface {
	Track(event string, props map[string]any)
}

// NopTracker drops every event
type NopTracker struct{}

// Track implements Tracker
func (NopTracker) Track(string, map[string]any) {}

// ZapTracker writes events to a logger
type ZapTracker struct {
	Logger *zap.Logger
}

// Track implements Tracker
func (t *ZapTracker) Track(event string, props map[string]any) {
	fields := make([]zap.Field, 0, len(props)+1)
	fields = append(fields, zap.String("event", event))
	for k, v := range props {
		fields = append(fields, zap.Any(k, v))
	}
	t.Logger.Info("analytics", fields...)
}

// effect is the body of a stage. It returns the event to dispatch, or nil
// when a watcher emits it later.
type effect func(ctx context.Context) (*event, error)

// capture runs a stage, logs and tracks its outcome and converts errors and
// panics into the failure event
func (m *Machine) capture(ctx context.Context, gen uint64, snap *Session, stage string, failure EventType, fn effect) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.fail(gen, snap, stage, start, failure, fmt.Errorf("panic in %s: %v", stage, r), nil)
		}
	}()

	ev, err := fn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.fail(gen, snap, stage, start, failure, err, nil)
		return
	}

	m.tracker.Track("proving_"+stage+"_success", m.props(snap, start))
	if ev != nil {
		m.send(gen, *ev)
	}
}

// fail logs a stage failure and dispatches the failure event
func (m *Machine) fail(gen uint64, snap *Session, stage string, start time.Time, failure EventType, err error, apply func(*Session)) {
	if !m.live(gen) {
		return
	}
	category := Classify(err)
	m.logger.Error("proving stage failed",
		zap.String("stage", stage),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.String("category", string(category)),
		zap.String("session", snap.ID),
		zap.String("circuit", snap.CircuitType.String()),
		zap.Error(err),
	)

	props := m.props(snap, start)
	props["category"] = string(category)
	props["error"] = err.Error()
	m.tracker.Track("proving_"+stage+"_failed", props)

	m.send(gen, event{
		Type: failure,
		Apply: func(s *Session) {
			s.Err = err
			if apply != nil {
				apply(s)
			}
		},
	})
}

func (m *Machine) props(snap *Session, start time.Time) map[string]any {
	return map[string]any{
		"session":     snap.ID,
		"circuit":     snap.CircuitType.String(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
}
