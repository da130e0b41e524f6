package tee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
	"go.uber.org/zap"
)

// Status is a proof status update.
type Status struct {
	Status             int    `json:"status"`
	RequestID          string `json:"request_id,omitempty"`
	CreatedAt          string `json:"created_at,omitempty"`
	WitnessGeneratedAt string `json:"witness_generated_at,omitempty"`
	ProofGeneratedAt   string `json:"proof_generated_at,omitempty"`
	ErrorCode          string `json:"error_code,omitempty"`
	Reason             string `json:"reason,omitempty"`
}

// Status codes with a terminal meaning.
const (
	StatusFailed       = 3
	StatusSuccess      = 4
	StatusVerifyFailed = 5
)

// Failed reports whether the status is a terminal failure.
func (s Status) Failed() bool {
	return s.Status == StatusFailed || s.Status == StatusVerifyFailed
}

// Succeeded reports whether the proof was generated and verified.
func (s Status) Succeeded() bool {
	return s.Status == StatusSuccess
}

// StatusStream is an open status subscription.
type StatusStream interface {
	Updates() <-chan Status
	Done() <-chan struct{}
	Err() error
	Close() error
}

// StatusDialer opens status subscriptions.
type StatusDialer interface {
	Subscribe(ctx context.Context, url, uuid string) (StatusStream, error)
}

// SocketIODialer subscribes to status updates over a Socket.IO v4 client
// restricted to the websocket transport.
type SocketIODialer struct {
	// MaxReconnects bounds reconnection after a dropped connection. Zero
	// disables reconnection.
	MaxReconnects  int
	ReconnectDelay time.Duration
	Logger         *zap.Logger
}

// Subscribe connects, emits subscribe(uuid) and streams status events. Every
// reconnection emits subscribe(uuid) again.
func (d *SocketIODialer) Subscribe(ctx context.Context, rawURL, uuid string) (StatusStream, error) {
	endpoint, path, err := statusEndpoint(rawURL)
	if err != nil {
		return nil, err
	}

	opts := socket.DefaultOptions()
	opts.SetTransports(types.NewSet(socket.WebSocket))
	opts.SetPath(path)
	opts.SetForceNew(true)
	opts.SetMultiplex(false)
	opts.SetAutoConnect(false)
	opts.SetReconnection(d.MaxReconnects > 0)
	opts.SetReconnectionAttempts(float64(d.MaxReconnects))
	delay := float64(d.ReconnectDelay.Milliseconds())
	opts.SetReconnectionDelay(delay)
	opts.SetReconnectionDelayMax(delay)
	opts.SetRandomizationFactor(0)
	if deadline, ok := ctx.Deadline(); ok {
		opts.SetTimeout(time.Until(deadline))
	}

	manager := socket.NewManager(endpoint, opts)
	s := &statusStream{
		io:      manager.Socket("/", opts),
		uuid:    uuid,
		logger:  d.logger().With(zap.String("uuid", uuid)),
		updates: make(chan Status, 16),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		ready:   make(chan error, 1),
	}
	s.listen(manager)
	s.io.Connect()

	select {
	case err := <-s.ready:
		if err != nil {
			s.finish(err)
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		s.finish(ctx.Err())
		return nil, fmt.Errorf("failed to connect to status channel: %w", ctx.Err())
	}
}

func (d *SocketIODialer) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// statusEndpoint splits a status URL into the server origin and the
// Socket.IO path, /socket.io by default.
func statusEndpoint(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid status url %q: %w", raw, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "http"
	case "https", "wss":
		u.Scheme = "https"
	default:
		return "", "", fmt.Errorf("unsupported status url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("status url %q has no host", raw)
	}

	path := u.Path
	if path == "" || path == "/" {
		path = "/socket.io"
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String(), path, nil
}

type statusStream struct {
	io     *socket.Socket
	uuid   string
	logger *zap.Logger

	updates chan Status
	done    chan struct{}
	stop    chan struct{}
	ready   chan error

	mu        sync.Mutex
	wg        sync.WaitGroup
	connected bool
	finished  bool
	err       error
}

// listen wires the client events. Listeners run on the client's goroutines,
// so anything that tears the stream down is handed to its own goroutine.
func (s *statusStream) listen(manager *socket.Manager) {
	s.io.On("connect", func(...any) {
		if err := s.io.Emit("subscribe", s.uuid); err != nil {
			s.logger.Warn("failed to subscribe", zap.Error(err))
			return
		}
		s.mu.Lock()
		first := !s.connected
		s.connected = true
		s.mu.Unlock()
		if first {
			s.ready <- nil
		}
	})

	s.io.On("connect_error", func(args ...any) {
		err := eventError(args, "connect refused")
		s.mu.Lock()
		first := !s.connected
		s.mu.Unlock()
		if first {
			select {
			case s.ready <- fmt.Errorf("failed to connect to status channel: %w", err):
			default:
			}
			return
		}
		s.logger.Debug("status channel connect error", zap.Error(err))
	})

	s.io.On("disconnect", func(args ...any) {
		reason, _ := firstArg[string](args)
		if reason == "io server disconnect" {
			go s.finish(fmt.Errorf("status channel lost: server closed the session"))
			return
		}
		if reason != "io client disconnect" && s.io.Io().Reconnection() {
			s.logger.Warn("status channel dropped, reconnecting", zap.String("reason", reason))
			return
		}
		go s.finish(fmt.Errorf("status channel lost: %s", reason))
	})

	manager.On("reconnect_attempt", func(args ...any) {
		attempt, _ := firstArg[uint64](args)
		s.logger.Debug("reconnecting status channel", zap.Uint64("attempt", attempt+1))
	})

	manager.On("reconnect_failed", func(...any) {
		go s.finish(fmt.Errorf("status channel lost: no reconnect succeeded"))
	})

	s.io.On("status", func(args ...any) {
		status, err := statusArg(args)
		if err != nil {
			s.logger.Debug("ignoring malformed status", zap.Error(err))
			return
		}

		s.mu.Lock()
		if s.finished {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		select {
		case s.updates <- status:
		case <-s.stop:
		}
	})
}

// finish records err, disconnects and closes the stream once.
func (s *statusStream) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	s.mu.Unlock()

	close(s.stop)
	s.io.Disconnect()
	s.wg.Wait()
	close(s.updates)
	close(s.done)
}

func (s *statusStream) Updates() <-chan Status { return s.updates }

func (s *statusStream) Done() <-chan struct{} { return s.done }

func (s *statusStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *statusStream) Close() error {
	s.finish(ErrClosed)
	return nil
}

func firstArg[T any](args []any) (T, bool) {
	var zero T
	if len(args) == 0 {
		return zero, false
	}
	v, ok := args[0].(T)
	return v, ok
}

func eventError(args []any, fallback string) error {
	if err, ok := firstArg[error](args); ok && err != nil {
		return err
	}
	if len(args) > 0 && args[0] != nil {
		return fmt.Errorf("%v", args[0])
	}
	return errors.New(fallback)
}

// statusArg re-encodes the decoded event argument as JSON.
func statusArg(args []any) (Status, error) {
	if len(args) == 0 {
		return Status{}, fmt.Errorf("missing status payload")
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return Status{}, fmt.Errorf("invalid status payload: %w", err)
	}
	return decodeStatus(raw)
}

// decodeStatus accepts the status either as an object or as a JSON string.
func decodeStatus(raw json.RawMessage) (Status, error) {
	var status Status
	if len(raw) == 0 {
		return status, fmt.Errorf("missing status payload")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return status, err
		}
		raw = json.RawMessage(s)
	}

	if err := json.Unmarshal(raw, &status); err != nil {
		return status, fmt.Errorf("invalid status: %w", err)
	}
	return status, nil
}
