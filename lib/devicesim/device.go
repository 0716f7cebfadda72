// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicesim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/acquire/lib/clock"
	"github.com/bureau-foundation/acquire/lib/devicelink"
)

// Config configures a simulated device.
type Config struct {
	// Profile is the device to present.
	Profile Profile

	// Clock drives injected latency. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives per-connection debug logs. Defaults to a
	// discard logger.
	Logger *slog.Logger
}

// Device is an in-process device serving the devicelink wire
// protocol. Each Dial produces an independent connection with its own
// serve goroutine; the goroutine exits when the peer closes the
// connection.
type Device struct {
	profile    Profile
	files      map[string]simFile
	denyPaths  []string
	readAborts map[string]int64
	clock      clock.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	tickets map[string]string
}

var _ devicelink.Connector = (*Device)(nil)

// simFile is a profile file with its content resolved.
type simFile struct {
	data  []byte
	mtime int64
}

// New builds a device from the profile, resolving fixture file
// content and normalizing fault paths.
func New(config Config) (*Device, error) {
	device := &Device{
		profile:    config.Profile,
		files:      make(map[string]simFile, len(config.Profile.Files)),
		readAborts: make(map[string]int64, len(config.Profile.Faults.ReadAbortAfter)),
		clock:      config.Clock,
		logger:     config.Logger,
		tickets:    make(map[string]string),
	}
	if device.clock == nil {
		device.clock = clock.Real()
	}
	if device.logger == nil {
		device.logger = slog.New(slog.DiscardHandler)
	}

	for rawPath, file := range config.Profile.Files {
		content, err := file.content()
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", rawPath, err)
		}
		device.files[normalizePath(rawPath)] = simFile{data: content, mtime: file.MTime}
	}
	for _, deny := range config.Profile.Faults.DenyPaths {
		device.denyPaths = append(device.denyPaths, normalizePath(deny))
	}
	for abortPath, limit := range config.Profile.Faults.ReadAbortAfter {
		device.readAborts[normalizePath(abortPath)] = limit
	}

	return device, nil
}

// Dial opens a new connection to the device. The returned end is the
// client's; the device serves the other end until the client hangs
// up.
func (d *Device) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, server := net.Pipe()
	go d.serve(server)
	return client, nil
}

// connState is the per-connection protocol state. A connection starts
// unestablished, becomes the control connection after hello, or a
// service connection after attach.
type connState struct {
	control bool
	service string

	// served counts content bytes delivered per path on this
	// connection, for the read-abort fault.
	served map[string]int64
}

// serve runs the device side of one connection: read a request,
// answer it, repeat until the peer hangs up or sends close.
func (d *Device) serve(conn net.Conn) {
	defer conn.Close()

	state := &connState{}
	for {
		var request devicelink.Request
		if err := devicelink.ReadMessage(conn, &request); err != nil {
			if !errors.Is(err, io.EOF) {
				d.logger.Debug("connection read failed", "error", err)
			}
			return
		}
		if !d.handle(conn, state, &request) {
			return
		}
	}
}

// handle dispatches one request. Returns false when the connection is
// done.
func (d *Device) handle(conn net.Conn, state *connState, request *devicelink.Request) bool {
	switch request.Action {
	case devicelink.ActionHello:
		return d.handleHello(conn, state, request)
	case devicelink.ActionOpen:
		return d.handleOpen(conn, state, request)
	case devicelink.ActionAttach:
		return d.handleAttach(conn, state, request)
	case devicelink.ActionStat:
		return d.handleStat(conn, state, request)
	case devicelink.ActionList:
		return d.handleList(conn, state, request)
	case devicelink.ActionRead:
		return d.handleRead(conn, state, request)
	case devicelink.ActionBrowse:
		return d.handleBrowse(conn, state, request)
	case devicelink.ActionClose:
		d.write(conn, &devicelink.CloseResponse{})
		return false
	default:
		return d.fail(conn, devicelink.CodeProtocol, fmt.Sprintf("unknown action %q", request.Action))
	}
}

func (d *Device) handleHello(conn net.Conn, state *connState, request *devicelink.Request) bool {
	if state.control || state.service != "" {
		return d.fail(conn, devicelink.CodeProtocol, "hello on an established connection")
	}
	if d.profile.Faults.RefuseHandshake {
		return d.fail(conn, devicelink.CodePermission, "pairing rejected")
	}
	if request.Protocol != devicelink.ProtocolVersion {
		return d.fail(conn, devicelink.CodeProtocol, fmt.Sprintf("unsupported protocol version %d", request.Protocol))
	}
	state.control = true
	d.logger.Debug("handshake complete", "client", request.Client)
	return d.write(conn, &devicelink.HelloResponse{
		Protocol:       devicelink.ProtocolVersion,
		UDID:           d.profile.Identity.UDID,
		DeviceName:     d.profile.Identity.DeviceName,
		ProductVersion: d.profile.Identity.ProductVersion,
	})
}

func (d *Device) handleOpen(conn net.Conn, state *connState, request *devicelink.Request) bool {
	if !state.control {
		return d.fail(conn, devicelink.CodeProtocol, "open before hello")
	}
	if request.Service == "" {
		return d.fail(conn, devicelink.CodeProtocol, "missing required field: service")
	}
	if !d.advertises(request.Service) || d.profile.Faults.refusesService(request.Service) {
		d.logger.Debug("service refused", "service", request.Service)
		return d.fail(conn, devicelink.CodeUnavailable, fmt.Sprintf("service %s is not available", request.Service))
	}

	ticket := uuid.NewString()
	d.mu.Lock()
	d.tickets[ticket] = request.Service
	d.mu.Unlock()

	d.logger.Debug("service opened", "service", request.Service)
	return d.write(conn, &devicelink.OpenResponse{Ticket: ticket})
}

func (d *Device) handleAttach(conn net.Conn, state *connState, request *devicelink.Request) bool {
	if state.control || state.service != "" {
		return d.fail(conn, devicelink.CodeProtocol, "attach on an established connection")
	}

	// Tickets are single use: look up and burn in one step.
	d.mu.Lock()
	service, ok := d.tickets[request.Ticket]
	if ok {
		delete(d.tickets, request.Ticket)
	}
	d.mu.Unlock()

	if !ok || service != request.Service {
		return d.fail(conn, devicelink.CodePermission, "invalid service ticket")
	}
	state.service = service
	return d.write(conn, &devicelink.AttachResponse{})
}

func (d *Device) handleStat(conn net.Conn, state *connState, request *devicelink.Request) bool {
	if state.service != devicelink.ServiceFileTransfer.ServiceName() {
		return d.fail(conn, devicelink.CodeProtocol, "stat requires a file transfer connection")
	}
	target := normalizePath(request.Path)
	if d.denied(target) {
		return d.fail(conn, devicelink.CodePermission, fmt.Sprintf("%s: access denied", request.Path))
	}
	entry, ok := d.statPath(target)
	if !ok {
		return d.fail(conn, devicelink.CodeNotFound, fmt.Sprintf("%s: no such file or directory", request.Path))
	}
	return d.write(conn, &devicelink.StatResponse{Entry: entry})
}

func (d *Device) handleList(conn net.Conn, state *connState, request *devicelink.Request) bool {
	if state.service != devicelink.ServiceFileTransfer.ServiceName() {
		return d.fail(conn, devicelink.CodeProtocol, "list requires a file transfer connection")
	}
	target := normalizePath(request.Path)
	if d.denied(target) {
		return d.fail(conn, devicelink.CodePermission, fmt.Sprintf("%s: access denied", request.Path))
	}
	if !d.isDir(target) {
		if _, ok := d.files[target]; ok {
			return d.fail(conn, devicelink.CodeIO, fmt.Sprintf("%s: not a directory", request.Path))
		}
		return d.fail(conn, devicelink.CodeNotFound, fmt.Sprintf("%s: no such file or directory", request.Path))
	}
	return d.write(conn, &devicelink.ListResponse{Entries: d.listDir(target)})
}

func (d *Device) handleRead(conn net.Conn, state *connState, request *devicelink.Request) bool {
	if state.service != devicelink.ServiceFileTransfer.ServiceName() {
		return d.fail(conn, devicelink.CodeProtocol, "read requires a file transfer connection")
	}
	if request.Length <= 0 {
		return d.fail(conn, devicelink.CodeProtocol, "read length must be positive")
	}
	if request.Offset < 0 {
		return d.fail(conn, devicelink.CodeProtocol, "read offset must be non-negative")
	}

	target := normalizePath(request.Path)
	if d.denied(target) {
		return d.fail(conn, devicelink.CodePermission, fmt.Sprintf("%s: access denied", request.Path))
	}
	file, ok := d.files[target]
	if !ok {
		if d.isDir(target) {
			return d.fail(conn, devicelink.CodeIO, fmt.Sprintf("%s: is a directory", request.Path))
		}
		return d.fail(conn, devicelink.CodeNotFound, fmt.Sprintf("%s: no such file or directory", request.Path))
	}

	if d.profile.Faults.ChunkDelayMS > 0 {
		d.clock.Sleep(time.Duration(d.profile.Faults.ChunkDelayMS) * time.Millisecond)
	}

	served := state.served[target]
	limit, aborting := d.readAborts[target]
	if aborting && served >= limit {
		return d.fail(conn, devicelink.CodeIO, fmt.Sprintf("%s: read failed: device I/O error", request.Path))
	}

	length := request.Length
	if length > devicelink.MaxReadLength {
		length = devicelink.MaxReadLength
	}
	size := int64(len(file.data))
	if request.Offset >= size {
		return d.write(conn, &devicelink.ReadResponse{EOF: true})
	}
	end := request.Offset + int64(length)
	if end > size {
		end = size
	}
	if aborting {
		if remaining := limit - served; end-request.Offset > remaining {
			end = request.Offset + remaining
		}
	}

	chunk := file.data[request.Offset:end]
	if state.served == nil {
		state.served = make(map[string]int64)
	}
	state.served[target] += int64(len(chunk))
	return d.write(conn, &devicelink.ReadResponse{Data: chunk, EOF: end == size})
}

func (d *Device) handleBrowse(conn net.Conn, state *connState, request *devicelink.Request) bool {
	if state.service != devicelink.ServiceInventory.ServiceName() {
		return d.fail(conn, devicelink.CodeProtocol, "browse requires an installation proxy connection")
	}

	apps := make([]devicelink.AppDescriptor, 0, len(d.profile.Apps))
	for _, app := range d.profile.Apps {
		if request.AppType != "" {
			applicationType, _ := app["ApplicationType"].(string)
			if applicationType != request.AppType {
				continue
			}
		}
		apps = append(apps, app)
	}
	return d.write(conn, &devicelink.BrowseResponse{Apps: apps})
}

// write sends a response. Returns false when the connection is broken
// and serving should stop.
func (d *Device) write(conn net.Conn, response any) bool {
	if err := devicelink.WriteMessage(conn, response); err != nil {
		d.logger.Debug("writing response", "error", err)
		return false
	}
	return true
}

// fail sends an error status. The status marshals to the code and
// error fields every response type embeds, so the client decodes it
// regardless of which response it expects.
func (d *Device) fail(conn net.Conn, code, message string) bool {
	return d.write(conn, devicelink.Status{Code: code, Error: message})
}

// advertises reports whether the device runs the named service. An
// empty service list means the stock set: file transfer and
// application inventory. Record query is never stock; a profile must
// list it explicitly.
func (d *Device) advertises(name string) bool {
	if len(d.profile.Services) == 0 {
		return name == devicelink.ServiceFileTransfer.ServiceName() ||
			name == devicelink.ServiceInventory.ServiceName()
	}
	return slices.Contains(d.profile.Services, name)
}

// denied reports whether the path or any of its ancestors is in the
// profile's deny list.
func (d *Device) denied(target string) bool {
	for _, deny := range d.denyPaths {
		if target == deny || strings.HasPrefix(target, deny+"/") {
			return true
		}
	}
	return false
}

// statPath resolves a normalized path to its FileInfo. Directories
// are implied by the file map keys and report zero size and mtime.
func (d *Device) statPath(target string) (devicelink.FileInfo, bool) {
	if file, ok := d.files[target]; ok {
		return devicelink.FileInfo{
			Name:  path.Base(target),
			Size:  int64(len(file.data)),
			MTime: file.mtime,
		}, true
	}
	if d.isDir(target) {
		return devicelink.FileInfo{Name: path.Base(target), Dir: true}, true
	}
	return devicelink.FileInfo{}, false
}

// isDir reports whether any file lives beneath the path. The root is
// always a directory, even on an empty device.
func (d *Device) isDir(target string) bool {
	if target == "/" {
		return true
	}
	prefix := target + "/"
	for filePath := range d.files {
		if strings.HasPrefix(filePath, prefix) {
			return true
		}
	}
	return false
}

// listDir returns the immediate children of a normalized directory
// path, sorted by name.
func (d *Device) listDir(target string) []devicelink.FileInfo {
	prefix := target + "/"
	if target == "/" {
		prefix = "/"
	}

	seen := make(map[string]devicelink.FileInfo)
	for filePath, file := range d.files {
		if !strings.HasPrefix(filePath, prefix) {
			continue
		}
		name, _, nested := strings.Cut(filePath[len(prefix):], "/")
		if name == "" {
			continue
		}
		if nested {
			seen[name] = devicelink.FileInfo{Name: name, Dir: true}
		} else {
			seen[name] = devicelink.FileInfo{
				Name:  name,
				Size:  int64(len(file.data)),
				MTime: file.mtime,
			}
		}
	}

	entries := make([]devicelink.FileInfo, 0, len(seen))
	for _, entry := range seen {
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b devicelink.FileInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return entries
}

// normalizePath cleans a device path into the canonical absolute form
// used as the file map key. Relative paths are taken from the root;
// traversal above the root clamps to it.
func normalizePath(raw string) string {
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return path.Clean(raw)
}
