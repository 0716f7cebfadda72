// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelink

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/bureau-foundation/acquire/lib/codec"
)

// Wire protocol constants.
const (
	// ProtocolVersion is sent in the hello request. The device rejects
	// versions it does not speak.
	ProtocolVersion = 1

	// MaxMessageSize caps a single length-prefixed CBOR message.
	// Messages are prefixed with a 4-byte uint32, so the theoretical
	// limit is ~4GB; 1MB keeps memory bounded and comfortably fits
	// the largest realistic message (a browse response listing every
	// installed application).
	MaxMessageSize = 1024 * 1024

	// MaxReadLength caps the payload of a single read request. Larger
	// requests are clamped by the device, so a transfer loop can ask
	// for whatever its buffer holds.
	MaxReadLength = 512 * 1024
)

// Request actions. Every client-to-device message is a Request; the
// device dispatches on the action and answers with the matching
// response type in lockstep.
const (
	ActionHello  = "hello"
	ActionOpen   = "open"
	ActionAttach = "attach"
	ActionStat   = "stat"
	ActionList   = "list"
	ActionRead   = "read"
	ActionBrowse = "browse"
	ActionClose  = "close"
)

// Wire error codes carried in Status.Code. The client maps these to
// sentinel errors; anything else surfaces as an opaque device error.
const (
	CodeNotFound    = "not-found"
	CodePermission  = "permission"
	CodeUnavailable = "service-unavailable"
	CodeProtocol    = "protocol"
	CodeIO          = "io"
)

// Request is the single client-to-device message shape. Only the
// fields relevant to the action are populated; the rest are omitted
// from the encoding.
type Request struct {
	Action string `cbor:"action"`

	// Hello fields.
	Client   string `cbor:"client,omitempty"`
	Protocol int    `cbor:"protocol,omitempty"`

	// Open and attach fields. Open names the service to start; the
	// device answers with a ticket that attach presents on the new
	// service connection.
	Service string `cbor:"service,omitempty"`
	Ticket  string `cbor:"ticket,omitempty"`

	// File operation fields (stat, list, read).
	Path   string `cbor:"path,omitempty"`
	Offset int64  `cbor:"offset,omitempty"`
	Length int    `cbor:"length,omitempty"`

	// Browse fields. AppType filters the descriptor enumeration
	// ("User" for user-installed applications).
	AppType string `cbor:"app_type,omitempty"`
}

// Status is the error portion embedded in every response. A zero
// Status means success.
type Status struct {
	// Code classifies the failure for programmatic handling. Empty on
	// success.
	Code string `cbor:"code,omitempty"`
	// Error is the device's human-readable failure description.
	Error string `cbor:"error,omitempty"`
}

// Err converts the status to a sentinel-wrapped error, or nil if the
// status reports success.
func (s Status) Err() error {
	if s.Code == "" && s.Error == "" {
		return nil
	}
	return remoteError(s.Code, s.Error)
}

// HelloResponse answers ActionHello with the device identity.
type HelloResponse struct {
	Status
	Protocol       int    `cbor:"protocol,omitempty"`
	UDID           string `cbor:"udid,omitempty"`
	DeviceName     string `cbor:"device_name,omitempty"`
	ProductVersion string `cbor:"product_version,omitempty"`
}

// OpenResponse answers ActionOpen. On success the ticket authorizes
// one attach on a fresh connection.
type OpenResponse struct {
	Status
	Ticket string `cbor:"ticket,omitempty"`
}

// AttachResponse answers ActionAttach on a service connection.
type AttachResponse struct {
	Status
}

// StatResponse answers ActionStat.
type StatResponse struct {
	Status
	Entry FileInfo `cbor:"entry,omitempty"`
}

// ListResponse answers ActionList with the directory's entries.
type ListResponse struct {
	Status
	Entries []FileInfo `cbor:"entries,omitempty"`
}

// ReadResponse answers ActionRead with one chunk of file content. EOF
// is set on the chunk that reaches the end of the file; a response may
// carry both data and EOF.
type ReadResponse struct {
	Status
	Data []byte `cbor:"data,omitempty"`
	EOF  bool   `cbor:"eof,omitempty"`
}

// BrowseResponse answers ActionBrowse with raw application
// descriptors. Descriptors are string-keyed maps exactly as the device
// reports them; interpretation (required keys, type checks) is the
// caller's concern.
type BrowseResponse struct {
	Status
	Apps []AppDescriptor `cbor:"apps,omitempty"`
}

// CloseResponse answers ActionClose.
type CloseResponse struct {
	Status
}

// AppDescriptor is one installed application's attribute map as
// reported by the device.
type AppDescriptor = map[string]any

// FileInfo describes a remote file or directory. MTime is Unix
// seconds, matching what the device's filesystem reports.
type FileInfo struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Dir   bool   `json:"dir,omitempty"`
	MTime int64  `json:"mtime"`
}

// ModTime returns the modification time as a UTC time.Time.
func (fi FileInfo) ModTime() time.Time {
	return time.Unix(fi.MTime, 0).UTC()
}

// WriteMessage encodes v as CBOR and writes it with a 4-byte
// big-endian length prefix. Both ends of the protocol use this for
// every message.
func WriteMessage(w io.Writer, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(data)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("writing message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed CBOR message and decodes it into
// v. Rejects messages larger than MaxMessageSize. Returns io.EOF
// unwrapped when the connection closes cleanly between messages, so
// serve loops can distinguish a hangup from a protocol error.
func ReadMessage(r io.Reader, v any) error {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("reading message length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("reading message body: %w", err)
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// roundTrip writes a request and reads the response into response.
// The protocol is strict lockstep: one outstanding request per
// connection.
func roundTrip(conn io.ReadWriter, request *Request, response any) error {
	if err := WriteMessage(conn, request); err != nil {
		return fmt.Errorf("sending %s: %w", request.Action, err)
	}
	if err := ReadMessage(conn, response); err != nil {
		return fmt.Errorf("awaiting %s response: %w", request.Action, err)
	}
	return nil
}
