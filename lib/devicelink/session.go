// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultClientName is the client identifier sent in the handshake
// when SessionConfig.ClientName is empty.
const DefaultClientName = "bureau-acquire"

// SessionConfig holds configuration for establishing a Session.
type SessionConfig struct {
	// ClientName identifies this client to the device during the
	// handshake. Defaults to DefaultClientName.
	ClientName string

	// Logger is used for structured logging. If nil, logs are
	// discarded.
	Logger *slog.Logger
}

// Session is an established connection to a paired device. It owns
// the control connection and every service channel opened from it.
// Sessions are not safe for concurrent use; the acquisition pipeline
// runs strictly sequentially.
type Session struct {
	connector Connector
	logger    *slog.Logger

	mu       sync.Mutex
	control  io.ReadWriteCloser
	identity Identity
	channels []*serviceChannel
	closed   bool
}

// Connect establishes a session: the connector locates the device and
// opens the control connection, then a hello exchange retrieves the
// device identity. Failures report the stage that failed via
// *ConnectError (discover, handshake, identity); no resources are held
// when an error returns.
func Connect(ctx context.Context, connector Connector, config SessionConfig) (*Session, error) {
	clientName := config.ClientName
	if clientName == "" {
		clientName = DefaultClientName
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := connector.Dial(ctx)
	if err != nil {
		return nil, &ConnectError{Stage: StageDiscover, Err: err}
	}

	clearDeadline := applyDeadline(conn, ctx)
	var hello HelloResponse
	request := &Request{Action: ActionHello, Client: clientName, Protocol: ProtocolVersion}
	if err := roundTrip(conn, request, &hello); err != nil {
		clearDeadline()
		conn.Close()
		return nil, &ConnectError{Stage: StageHandshake, Err: err}
	}
	clearDeadline()

	if err := hello.Err(); err != nil {
		conn.Close()
		return nil, &ConnectError{Stage: StageHandshake, Err: err}
	}
	if hello.Protocol != ProtocolVersion {
		conn.Close()
		return nil, &ConnectError{
			Stage: StageHandshake,
			Err:   fmt.Errorf("device speaks protocol %d, want %d", hello.Protocol, ProtocolVersion),
		}
	}

	identity := Identity{
		UDID:           hello.UDID,
		DeviceName:     hello.DeviceName,
		ProductVersion: hello.ProductVersion,
	}
	if err := identity.Validate(); err != nil {
		conn.Close()
		return nil, &ConnectError{Stage: StageIdentity, Err: err}
	}

	logger.Info("connected to device",
		"udid", identity.UDID,
		"device_name", identity.DeviceName,
		"product_version", identity.ProductVersion,
	)

	return &Session{
		connector: connector,
		logger:    logger,
		control:   conn,
		identity:  identity,
	}, nil
}

// Identity returns the device identity retrieved during the handshake.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// DeviceID returns the device UDID. Never empty on a connected
// session.
func (s *Session) DeviceID() string {
	return s.Identity().UDID
}

// OpenFileTransfer opens a file transfer channel.
func (s *Session) OpenFileTransfer(ctx context.Context) (*FileChannel, error) {
	channel, err := s.openChannel(ctx, ServiceFileTransfer)
	if err != nil {
		return nil, err
	}
	return &FileChannel{serviceChannel: channel}, nil
}

// OpenInventory opens an application inventory channel.
func (s *Session) OpenInventory(ctx context.Context) (*InventoryChannel, error) {
	channel, err := s.openChannel(ctx, ServiceInventory)
	if err != nil {
		return nil, err
	}
	return &InventoryChannel{serviceChannel: channel}, nil
}

// OpenService opens a channel of the given kind without a typed
// wrapper. File transfer and inventory callers normally use the typed
// variants; this path exists for the reserved record-query kind and
// for probing service availability.
func (s *Session) OpenService(ctx context.Context, kind ServiceKind) (Channel, error) {
	switch kind {
	case ServiceFileTransfer:
		return s.OpenFileTransfer(ctx)
	case ServiceInventory:
		return s.OpenInventory(ctx)
	default:
		return s.openChannel(ctx, kind)
	}
}

// openChannel negotiates a service on the control connection, dials a
// fresh connection for it, and registers the resulting channel with
// the session.
func (s *Session) openChannel(ctx context.Context, kind ServiceKind) (*serviceChannel, error) {
	service := kind.ServiceName()
	if service == "" {
		return nil, &ServiceError{Service: kind.String(), Err: fmt.Errorf("unknown service kind")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &ServiceError{Service: service, Err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ServiceError{Service: service, Err: err}
	}

	// Negotiate on the control connection. The mutex keeps the
	// lockstep intact if a caller ever overlaps opens.
	clearDeadline := applyDeadline(s.control, ctx)
	var open OpenResponse
	if err := roundTrip(s.control, &Request{Action: ActionOpen, Service: service}, &open); err != nil {
		clearDeadline()
		return nil, &ServiceError{Service: service, Err: err}
	}
	clearDeadline()
	if err := open.Err(); err != nil {
		return nil, &ServiceError{Service: service, Err: err}
	}

	// The service gets its own connection, authorized by the ticket
	// from the open response.
	conn, err := s.connector.Dial(ctx)
	if err != nil {
		return nil, &ServiceError{Service: service, Err: fmt.Errorf("dialing service connection: %w", err)}
	}

	clearDeadline = applyDeadline(conn, ctx)
	var attach AttachResponse
	attachRequest := &Request{Action: ActionAttach, Service: service, Ticket: open.Ticket}
	if err := roundTrip(conn, attachRequest, &attach); err != nil {
		clearDeadline()
		conn.Close()
		return nil, &ServiceError{Service: service, Err: err}
	}
	clearDeadline()
	if err := attach.Err(); err != nil {
		conn.Close()
		return nil, &ServiceError{Service: service, Err: err}
	}

	channel := &serviceChannel{
		kind:   kind,
		logger: s.logger,
		conn:   conn,
		state:  StateOpen,
	}
	s.channels = append(s.channels, channel)

	s.logger.Info("opened service channel",
		"kind", kind.String(),
		"service", service,
	)
	return channel, nil
}

// Channels returns every channel opened on this session, in open
// order, including ones since closed. Primarily for teardown
// verification.
func (s *Session) Channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := make([]Channel, len(s.channels))
	for i, channel := range s.channels {
		channels[i] = channel
	}
	return channels
}

// Close closes every open channel and then the control connection.
// Channel close failures are logged, not propagated, so teardown always
// runs to completion. Close is idempotent and safe after a partial
// connect.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, channel := range s.channels {
		if err := channel.Close(); err != nil {
			s.logger.Warn("closing service channel",
				"kind", channel.kind.String(),
				"error", err,
			)
		}
	}

	if s.control == nil {
		return nil
	}
	if err := s.control.Close(); err != nil {
		return fmt.Errorf("closing control connection: %w", err)
	}
	s.logger.Info("disconnected from device", "udid", s.identity.UDID)
	return nil
}

// applyDeadline propagates a context deadline to connections that
// support one (net.Conn does; the returned function clears it).
// Connections without deadline support are returned untouched, and
// cancellation is then only checked between operations.
func applyDeadline(conn io.ReadWriteCloser, ctx context.Context) func() {
	deadliner, ok := conn.(interface{ SetDeadline(time.Time) error })
	if !ok {
		return func() {}
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return func() {}
	}
	if err := deadliner.SetDeadline(deadline); err != nil {
		return func() {}
	}
	return func() { deadliner.SetDeadline(time.Time{}) }
}
