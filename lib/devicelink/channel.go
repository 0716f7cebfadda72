// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ServiceKind identifies a device service capability.
type ServiceKind int

const (
	// ServiceFileTransfer is remote file access: stat, list, and
	// chunked reads.
	ServiceFileTransfer ServiceKind = iota
	// ServiceRecordQuery is the reserved on-device record query
	// capability. The kind is routable but no operations are defined
	// for it yet; stock devices refuse to start it.
	ServiceRecordQuery
	// ServiceInventory is installed application browsing.
	ServiceInventory
)

// String returns the kind's short name for logs and CLI output.
func (k ServiceKind) String() string {
	switch k {
	case ServiceFileTransfer:
		return "file-transfer"
	case ServiceRecordQuery:
		return "record-query"
	case ServiceInventory:
		return "inventory"
	default:
		return fmt.Sprintf("ServiceKind(%d)", int(k))
	}
}

// ServiceName returns the on-device service identifier requested when
// a channel of this kind is opened.
func (k ServiceKind) ServiceName() string {
	switch k {
	case ServiceFileTransfer:
		return "com.apple.afc"
	case ServiceRecordQuery:
		return "com.apple.mobile.record_query"
	case ServiceInventory:
		return "com.apple.mobile.installation_proxy"
	default:
		return ""
	}
}

// ChannelState reports whether a channel is usable.
type ChannelState int

const (
	// StateOpen means the channel accepts operations.
	StateOpen ChannelState = iota
	// StateClosed means the channel has been closed, by its own Close
	// or by the owning session's.
	StateClosed
)

// String returns the state name.
func (s ChannelState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ChannelState(%d)", int(s))
	}
}

// Channel is the lifecycle surface common to every service channel.
type Channel interface {
	// Kind returns the capability this channel carries.
	Kind() ServiceKind
	// State reports whether the channel is open or closed.
	State() ChannelState
	// Close releases the channel. Closing twice is a no-op.
	Close() error
}

// FileConn is the file transfer capability. Extractors and the
// filesystem mount accept this interface rather than the concrete
// channel.
type FileConn interface {
	// Stat returns metadata for a remote path.
	Stat(ctx context.Context, path string) (FileInfo, error)
	// List returns the entries of a remote directory.
	List(ctx context.Context, path string) ([]FileInfo, error)
	// Open returns a reader over a remote file's content. The reader
	// issues bounded chunk reads; Close releases only the reader, not
	// the channel.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// ReadChunk reads up to length bytes of a remote file at offset,
	// reporting whether the chunk reaches end of file. Random access
	// for callers that cannot read sequentially.
	ReadChunk(ctx context.Context, path string, offset int64, length int) ([]byte, bool, error)
}

// InventoryConn is the application inventory capability.
type InventoryConn interface {
	// Browse returns raw descriptors for installed applications
	// matching the filter, in device-reported order.
	Browse(ctx context.Context, filter BrowseFilter) ([]AppDescriptor, error)
}

// BrowseFilter narrows a Browse enumeration.
type BrowseFilter struct {
	// ApplicationType selects the install class, "User" for
	// user-installed applications. Empty means no filter.
	ApplicationType string
}

// Compile-time interface checks.
var (
	_ Channel       = (*serviceChannel)(nil)
	_ FileConn      = (*FileChannel)(nil)
	_ InventoryConn = (*InventoryChannel)(nil)
)

// serviceChannel is the shared implementation of a service channel:
// one dedicated connection in strict lockstep.
type serviceChannel struct {
	kind   ServiceKind
	logger *slog.Logger

	mu    sync.Mutex
	conn  io.ReadWriteCloser
	state ChannelState
}

func (c *serviceChannel) Kind() ServiceKind { return c.kind }

func (c *serviceChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close sends the polite close and releases the connection. Safe to
// call any number of times; only the first does work.
func (c *serviceChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed

	// Best-effort polite close so the device can release the service
	// end. The connection close below is what actually frees us.
	var response CloseResponse
	if err := roundTrip(c.conn, &Request{Action: ActionClose}, &response); err != nil {
		c.logger.Debug("polite channel close failed",
			"kind", c.kind.String(),
			"error", err,
		)
	}

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("closing %s channel: %w", c.kind, err)
	}
	return nil
}

// do performs one lockstep request/response on the channel.
func (c *serviceChannel) do(ctx context.Context, request *Request, response any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return fmt.Errorf("%s %s: %w", request.Action, c.kind, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	clearDeadline := applyDeadline(c.conn, ctx)
	defer clearDeadline()

	if err := roundTrip(c.conn, request, response); err != nil {
		return &ServiceError{Service: c.kind.ServiceName(), Err: err}
	}
	return nil
}

// FileChannel is the concrete file transfer channel.
type FileChannel struct {
	*serviceChannel
}

// Stat returns metadata for a remote path. A missing path unwraps to
// ErrNotFound, a denied one to ErrPermission.
func (c *FileChannel) Stat(ctx context.Context, path string) (FileInfo, error) {
	var response StatResponse
	if err := c.do(ctx, &Request{Action: ActionStat, Path: path}, &response); err != nil {
		return FileInfo{}, err
	}
	if err := response.Err(); err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return response.Entry, nil
}

// List returns the entries of a remote directory.
func (c *FileChannel) List(ctx context.Context, path string) ([]FileInfo, error) {
	var response ListResponse
	if err := c.do(ctx, &Request{Action: ActionList, Path: path}, &response); err != nil {
		return nil, err
	}
	if err := response.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	return response.Entries, nil
}

// Open verifies the remote path and returns a reader over its content.
// The existence check happens here, so callers learn about a missing
// or denied path before a single content byte moves.
func (c *FileChannel) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	entry, err := c.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if entry.Dir {
		return nil, fmt.Errorf("open %s: is a directory", path)
	}
	return &remoteFileReader{
		channel: c,
		ctx:     ctx,
		path:    path,
	}, nil
}

// ReadChunk reads up to length bytes of a remote file at offset.
// length is capped at MaxReadLength. The second result reports end of
// file; reading at or past the end returns an empty chunk with it set.
func (c *FileChannel) ReadChunk(ctx context.Context, path string, offset int64, length int) ([]byte, bool, error) {
	if length > MaxReadLength {
		length = MaxReadLength
	}
	var response ReadResponse
	request := &Request{Action: ActionRead, Path: path, Offset: offset, Length: length}
	if err := c.do(ctx, request, &response); err != nil {
		return nil, false, err
	}
	if err := response.Err(); err != nil {
		return nil, false, fmt.Errorf("read %s at %d: %w", path, offset, err)
	}
	if len(response.Data) > length {
		return nil, false, fmt.Errorf("read %s: device sent %d bytes for a %d byte request", path, len(response.Data), length)
	}
	return response.Data, response.EOF, nil
}

// remoteFileReader streams a remote file through bounded chunk reads.
// It holds the Open context for the lifetime of the reader, since
// io.Reader has no per-call context.
type remoteFileReader struct {
	channel *FileChannel
	ctx     context.Context
	path    string
	offset  int64
	eof     bool
	closed  bool
}

// Read requests the next chunk. Chunk size follows the caller's
// buffer, capped at MaxReadLength.
func (r *remoteFileReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.eof {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	data, eof, err := r.channel.ReadChunk(r.ctx, r.path, r.offset, len(p))
	if err != nil {
		return 0, err
	}

	copied := copy(p, data)
	r.offset += int64(copied)

	if eof {
		r.eof = true
		if copied == 0 {
			return 0, io.EOF
		}
		return copied, nil
	}
	if copied == 0 {
		return 0, fmt.Errorf("read %s: empty chunk without EOF", r.path)
	}
	return copied, nil
}

// Close releases the reader. The channel remains open for further
// operations.
func (r *remoteFileReader) Close() error {
	r.closed = true
	return nil
}

// InventoryChannel is the concrete application inventory channel.
type InventoryChannel struct {
	*serviceChannel
}

// Browse returns raw descriptors for installed applications matching
// the filter, in the order the device reports them.
func (c *InventoryChannel) Browse(ctx context.Context, filter BrowseFilter) ([]AppDescriptor, error) {
	var response BrowseResponse
	request := &Request{Action: ActionBrowse, AppType: filter.ApplicationType}
	if err := c.do(ctx, request, &response); err != nil {
		return nil, err
	}
	if err := response.Err(); err != nil {
		return nil, fmt.Errorf("browse: %w", err)
	}
	return response.Apps, nil
}
