// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicesim

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/acquire/lib/clock"
	"github.com/bureau-foundation/acquire/lib/devicelink"
	"github.com/bureau-foundation/acquire/lib/testutil"
)

// baselineProfile is a healthy two-service device with a small file
// tree, built programmatically so individual tests can mutate it.
func baselineProfile() Profile {
	return Profile{
		Identity: devicelink.Identity{
			UDID:           "00008030-000A1DE40C29802E",
			DeviceName:     "Research iPhone",
			ProductVersion: "17.5.1",
		},
		Files: map[string]*File{
			"/Library/SMS/sms.db":             {Data: []byte("SQLite format 3"), MTime: 1700000000},
			"/Library/Preferences/device.txt": {Text: "ready\n", MTime: 1699990000},
			"/DCIM/100APPLE/IMG_0001.HEIC":    {Data: []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}, MTime: 1699999999},
		},
		Apps: []devicelink.AppDescriptor{
			{
				"CFBundleName":       "Notes",
				"CFBundleIdentifier": "com.example.notes",
				"CFBundleVersion":    "1.2",
				"ApplicationType":    "User",
			},
			{
				"CFBundleName":       "Preferences",
				"CFBundleIdentifier": "com.apple.Preferences",
				"CFBundleVersion":    "1.0",
				"ApplicationType":    "System",
			},
		},
	}
}

func newDevice(t *testing.T, profile Profile) *Device {
	t.Helper()
	device, err := New(Config{Profile: profile})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return device
}

func connect(t *testing.T, device *Device) *devicelink.Session {
	t.Helper()
	session, err := devicelink.Connect(t.Context(), device, devicelink.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// pattern produces deterministic non-repeating-ish content for
// transfer comparisons.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	return data
}

func TestConnectReportsIdentity(t *testing.T) {
	session := connect(t, newDevice(t, baselineProfile()))

	identity := session.Identity()
	if identity.UDID != "00008030-000A1DE40C29802E" {
		t.Errorf("UDID = %q", identity.UDID)
	}
	if identity.DeviceName != "Research iPhone" {
		t.Errorf("DeviceName = %q", identity.DeviceName)
	}
	if identity.ProductVersion != "17.5.1" {
		t.Errorf("ProductVersion = %q", identity.ProductVersion)
	}
}

func TestFileTransferRoundTrip(t *testing.T) {
	profile := baselineProfile()
	content := pattern(64 * 1024)
	profile.Files["/Media/capture.bin"] = &File{Data: content, MTime: 1700000100}

	session := connect(t, newDevice(t, profile))
	files, err := session.OpenFileTransfer(t.Context())
	if err != nil {
		t.Fatalf("OpenFileTransfer: %v", err)
	}

	entry, err := files.Stat(t.Context(), "/Media/capture.bin")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if entry.Name != "capture.bin" || entry.Size != int64(len(content)) || entry.Dir {
		t.Errorf("entry = %+v", entry)
	}
	if got := entry.ModTime(); !got.Equal(time.Unix(1700000100, 0)) {
		t.Errorf("ModTime = %v", got)
	}

	reader, err := files.Open(t.Context(), "/Media/capture.bin")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	reader.Close()
	if !bytes.Equal(got, content) {
		t.Fatalf("transferred %d bytes, want %d, content mismatch", len(got), len(content))
	}

	text, err := files.Open(t.Context(), "/Library/Preferences/device.txt")
	if err != nil {
		t.Fatalf("Open text file: %v", err)
	}
	defer text.Close()
	small, err := io.ReadAll(text)
	if err != nil {
		t.Fatalf("ReadAll text file: %v", err)
	}
	if string(small) != "ready\n" {
		t.Errorf("text content = %q", small)
	}
}

func TestStatDirectory(t *testing.T) {
	session := connect(t, newDevice(t, baselineProfile()))
	files, err := session.OpenFileTransfer(t.Context())
	if err != nil {
		t.Fatalf("OpenFileTransfer: %v", err)
	}

	entry, err := files.Stat(t.Context(), "/Library/SMS")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !entry.Dir || entry.Name != "SMS" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestListDirectory(t *testing.T) {
	session := connect(t, newDevice(t, baselineProfile()))
	files, err := session.OpenFileTransfer(t.Context())
	if err != nil {
		t.Fatalf("OpenFileTransfer: %v", err)
	}

	root, err := files.List(t.Context(), "/")
	if err != nil {
		t.Fatalf("List /: %v", err)
	}
	if len(root) != 2 || root[0].Name != "DCIM" || root[1].Name != "Library" {
		t.Fatalf("root entries = %+v", root)
	}
	for _, entry := range root {
		if !entry.Dir {
			t.Errorf("%s should be a directory", entry.Name)
		}
	}

	library, err := files.List(t.Context(), "/Library")
	if err != nil {
		t.Fatalf("List /Library: %v", err)
	}
	if len(library) != 2 || library[0].Name != "Preferences" || library[1].Name != "SMS" {
		t.Fatalf("library entries = %+v", library)
	}

	sms, err := files.List(t.Context(), "/Library/SMS")
	if err != nil {
		t.Fatalf("List /Library/SMS: %v", err)
	}
	if len(sms) != 1 || sms[0].Name != "sms.db" || sms[0].Dir || sms[0].Size != 15 {
		t.Fatalf("sms entries = %+v", sms)
	}
}

func TestListFileIsError(t *testing.T) {
	session := connect(t, newDevice(t, baselineProfile()))
	files, err := session.OpenFileTransfer(t.Context())
	if err != nil {
		t.Fatalf("OpenFileTransfer: %v", err)
	}

	_, err = files.List(t.Context(), "/Library/SMS/sms.db")
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Fatalf("List on a file = %v", err)
	}
}

func TestMissingPath(t *testing.T) {
	session := connect(t, newDevice(t, baselineProfile()))
	files, err := session.OpenFileTransfer(t.Context())
	if err != nil {
		t.Fatalf("OpenFileTransfer: %v", err)
	}

	if _, err := files.Stat(t.Context(), "/Library/SMS/wal.db"); !errors.Is(err, devicelink.ErrNotFound) {
		t.Errorf("Stat missing = %v, want ErrNotFound", err)
	}
	if _, err := files.Open(t.Context(), "/no/such/file"); !errors.Is(err, devicelink.ErrNotFound) {
		t.Errorf("Open missing = %v, want ErrNotFound", err)
	}
}

func TestDeniedPath(t *testing.T) {
	profile := baselineProfile()
	profile.Faults.DenyPaths = []string{"/Library/SMS"}

	session := connect(t, newDevice(t, profile))
	files, err := session.OpenFileTransfer(t.Context())
	if err != nil {
		t.Fatalf("OpenFileTransfer: %v", err)
	}

	// The deny covers the directory itself and everything beneath it.
	if _, err := files.Stat(t.Context(), "/Library/SMS"); !errors.Is(err, devicelink.ErrPermission) {
		t.Errorf("Stat denied dir = %v, want ErrPermission", err)
	}
	if _, err := files.Open(t.Context(), "/Library/SMS/sms.db"); !errors.Is(err, devicelink.ErrPermission) {
		t.Errorf("Open denied file = %v, want ErrPermission", err)
	}

	// Sibling paths are unaffected.
	if _, err := files.Stat(t.Context(), "/Library/Preferences/device.txt"); err != nil {
		t.Errorf("Stat sibling: %v", err)
	}
}

func TestRefusedServiceLeavesOthersWorking(t *testing.T) {
	profile := baselineProfile()
	profile.Faults.RefuseServices = []string{devicelink.ServiceFileTransfer.ServiceName()}

	session := connect(t, newDevice(t, profile))

	_, err := session.OpenFileTransfer(t.Context())
	if !errors.Is(err, devicelink.ErrServiceUnavailable) {
		t.Fatalf("OpenFileTransfer = %v, want ErrServiceUnavailable", err)
	}
	var serviceErr *devicelink.ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Service != "com.apple.afc" {
		t.Fatalf("error = %v, want ServiceError for com.apple.afc", err)
	}

	// The session survives the refusal; other services still open.
	inventory, err := session.OpenInventory(t.Context())
	if err != nil {
		t.Fatalf("OpenInventory after refusal: %v", err)
	}
	if _, err := inventory.Browse(t.Context(), devicelink.BrowseFilter{}); err != nil {
		t.Fatalf("Browse after refusal: %v", err)
	}
}

func TestRecordQueryNotStock(t *testing.T) {
	// The default service set refuses record query.
	session := connect(t, newDevice(t, baselineProfile()))
	if _, err := session.OpenService(t.Context(), devicelink.ServiceRecordQuery); !errors.Is(err, devicelink.ErrServiceUnavailable) {
		t.Fatalf("OpenService(record query) = %v, want ErrServiceUnavailable", err)
	}

	// A profile that advertises it explicitly serves it.
	profile := baselineProfile()
	profile.Services = []string{
		devicelink.ServiceFileTransfer.ServiceName(),
		devicelink.ServiceRecordQuery.ServiceName(),
		devicelink.ServiceInventory.ServiceName(),
	}
	session = connect(t, newDevice(t, profile))
	channel, err := session.OpenService(t.Context(), devicelink.ServiceRecordQuery)
	if err != nil {
		t.Fatalf("OpenService(record query) on advertising device: %v", err)
	}
	if channel.Kind() != devicelink.ServiceRecordQuery {
		t.Errorf("Kind = %v", channel.Kind())
	}
}

func TestRefusedHandshake(t *testing.T) {
	profile := baselineProfile()
	profile.Faults.RefuseHandshake = true

	_, err := devicelink.Connect(t.Context(), newDevice(t, profile), devicelink.SessionConfig{})
	var connectErr *devicelink.ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("Connect = %v, want ConnectError", err)
	}
	if connectErr.Stage != devicelink.StageHandshake {
		t.Errorf("Stage = %q, want handshake", connectErr.Stage)
	}
	if !errors.Is(err, devicelink.ErrPermission) {
		t.Errorf("error = %v, want ErrPermission in chain", err)
	}
}

func TestIdentityStageFailure(t *testing.T) {
	profile := baselineProfile()
	profile.Identity.UDID = ""

	_, err := devicelink.Connect(t.Context(), newDevice(t, profile), devicelink.SessionConfig{})
	var connectErr *devicelink.ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("Connect = %v, want ConnectError", err)
	}
	if connectErr.Stage != devicelink.StageIdentity {
		t.Errorf("Stage = %q, want identity", connectErr.Stage)
	}
}

func TestReadAbortFault(t *testing.T) {
	content := pattern(8192)
	profile := baselineProfile()
	profile.Files["/Library/SMS/sms.db"] = &File{Data: content, MTime: 1700000000}
	// 5000 does not land on a chunk boundary, so the device has to
	// clamp a chunk before it aborts.
	profile.Faults.ReadAbortAfter = map[string]int64{"/Library/SMS/sms.db": 5000}

	session := connect(t, newDevice(t, profile))
	files, err := session.OpenFileTransfer(t.Context())
	if err != nil {
		t.Fatalf("OpenFileTransfer: %v", err)
	}

	reader, err := files.Open(t.Context(), "/Library/SMS/sms.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	got, err := io.ReadAll(reader)
	if err == nil {
		t.Fatal("ReadAll succeeded past the abort limit")
	}
	if !strings.Contains(err.Error(), "device I/O error") {
		t.Errorf("error = %v", err)
	}
	if int64(len(got)) != 5000 {
		t.Errorf("received %d bytes before the abort, want 5000", len(got))
	}
	if !bytes.Equal(got, content[:5000]) {
		t.Error("bytes before the abort do not match the file content")
	}
}

func TestChunkDelayGoesThroughClock(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	content := pattern(1024)
	profile := baselineProfile()
	profile.Files["/Media/slow.bin"] = &File{Data: content}
	profile.Faults.ChunkDelayMS = 50

	device, err := New(Config{Profile: profile, Clock: fakeClock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	session := connect(t, device)
	files, err := session.OpenFileTransfer(t.Context())
	if err != nil {
		t.Fatalf("OpenFileTransfer: %v", err)
	}
	reader, err := files.Open(t.Context(), "/Media/slow.bin")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// A single Read with a buffer larger than the file is exactly one
	// chunk, so the device sleeps exactly once.
	buffer := make([]byte, 2048)
	type transferResult struct {
		n   int
		err error
	}
	results := make(chan transferResult, 1)
	go func() {
		n, err := reader.Read(buffer)
		results <- transferResult{n, err}
	}()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(50 * time.Millisecond)

	result := testutil.RequireReceive(t, results, 5*time.Second, "delayed chunk")
	if result.err != nil {
		t.Fatalf("Read: %v", result.err)
	}
	if result.n != len(content) {
		t.Fatalf("read %d bytes, want %d", result.n, len(content))
	}
	if !bytes.Equal(buffer[:result.n], content) {
		t.Error("chunk content does not match the file")
	}
}

func TestBrowseFiltersByApplicationType(t *testing.T) {
	session := connect(t, newDevice(t, baselineProfile()))
	inventory, err := session.OpenInventory(t.Context())
	if err != nil {
		t.Fatalf("OpenInventory: %v", err)
	}

	user, err := inventory.Browse(t.Context(), devicelink.BrowseFilter{ApplicationType: "User"})
	if err != nil {
		t.Fatalf("Browse(User): %v", err)
	}
	if len(user) != 1 {
		t.Fatalf("user apps = %d, want 1", len(user))
	}
	if user[0]["CFBundleIdentifier"] != "com.example.notes" {
		t.Errorf("user app = %v", user[0])
	}

	all, err := inventory.Browse(t.Context(), devicelink.BrowseFilter{})
	if err != nil {
		t.Fatalf("Browse(all): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all apps = %d, want 2", len(all))
	}
}

// rawRequest drives the wire protocol directly, bypassing Session, for
// tests of the device's protocol enforcement.
func rawRequest(t *testing.T, conn io.ReadWriter, request *devicelink.Request, response any) {
	t.Helper()
	if err := devicelink.WriteMessage(conn, request); err != nil {
		t.Fatalf("writing %s request: %v", request.Action, err)
	}
	if err := devicelink.ReadMessage(conn, response); err != nil {
		t.Fatalf("reading %s response: %v", request.Action, err)
	}
}

func TestAttachTicketIsSingleUse(t *testing.T) {
	device := newDevice(t, baselineProfile())
	service := devicelink.ServiceFileTransfer.ServiceName()

	control, err := device.Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer control.Close()

	var hello devicelink.HelloResponse
	rawRequest(t, control, &devicelink.Request{
		Action:   devicelink.ActionHello,
		Client:   "raw-test",
		Protocol: devicelink.ProtocolVersion,
	}, &hello)
	if hello.Code != "" {
		t.Fatalf("hello refused: %s", hello.Error)
	}

	var open devicelink.OpenResponse
	rawRequest(t, control, &devicelink.Request{Action: devicelink.ActionOpen, Service: service}, &open)
	if open.Code != "" || open.Ticket == "" {
		t.Fatalf("open response = %+v", open)
	}

	// First attach with the ticket succeeds.
	first, err := device.Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer first.Close()
	var attach devicelink.AttachResponse
	rawRequest(t, first, &devicelink.Request{Action: devicelink.ActionAttach, Service: service, Ticket: open.Ticket}, &attach)
	if attach.Code != "" {
		t.Fatalf("first attach refused: %s", attach.Error)
	}

	// Reusing the ticket fails; it was burned by the first attach.
	second, err := device.Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer second.Close()
	var reuse devicelink.AttachResponse
	rawRequest(t, second, &devicelink.Request{Action: devicelink.ActionAttach, Service: service, Ticket: open.Ticket}, &reuse)
	if reuse.Code != devicelink.CodePermission {
		t.Errorf("reused ticket: code = %q, want permission", reuse.Code)
	}

	// A ticket the device never issued fails the same way.
	third, err := device.Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer third.Close()
	var forged devicelink.AttachResponse
	rawRequest(t, third, &devicelink.Request{Action: devicelink.ActionAttach, Service: service, Ticket: "not-a-ticket"}, &forged)
	if forged.Code != devicelink.CodePermission {
		t.Errorf("forged ticket: code = %q, want permission", forged.Code)
	}
}

func TestAttachServiceMustMatchTicket(t *testing.T) {
	device := newDevice(t, baselineProfile())

	control, err := device.Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer control.Close()

	var hello devicelink.HelloResponse
	rawRequest(t, control, &devicelink.Request{
		Action:   devicelink.ActionHello,
		Client:   "raw-test",
		Protocol: devicelink.ProtocolVersion,
	}, &hello)

	var open devicelink.OpenResponse
	rawRequest(t, control, &devicelink.Request{
		Action:  devicelink.ActionOpen,
		Service: devicelink.ServiceFileTransfer.ServiceName(),
	}, &open)
	if open.Ticket == "" {
		t.Fatal("no ticket issued")
	}

	conn, err := device.Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	var attach devicelink.AttachResponse
	rawRequest(t, conn, &devicelink.Request{
		Action:  devicelink.ActionAttach,
		Service: devicelink.ServiceInventory.ServiceName(),
		Ticket:  open.Ticket,
	}, &attach)
	if attach.Code != devicelink.CodePermission {
		t.Errorf("mismatched attach: code = %q, want permission", attach.Code)
	}
}

func TestProtocolStateEnforcement(t *testing.T) {
	device := newDevice(t, baselineProfile())

	// File operations need an attached service connection.
	conn, err := device.Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	var stat devicelink.StatResponse
	rawRequest(t, conn, &devicelink.Request{Action: devicelink.ActionStat, Path: "/"}, &stat)
	if stat.Code != devicelink.CodeProtocol {
		t.Errorf("stat without attach: code = %q, want protocol", stat.Code)
	}

	// Opens need a completed handshake.
	fresh, err := device.Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer fresh.Close()
	var open devicelink.OpenResponse
	rawRequest(t, fresh, &devicelink.Request{
		Action:  devicelink.ActionOpen,
		Service: devicelink.ServiceFileTransfer.ServiceName(),
	}, &open)
	if open.Code != devicelink.CodeProtocol {
		t.Errorf("open without hello: code = %q, want protocol", open.Code)
	}

	// An unsupported protocol version is rejected at hello.
	outdated, err := device.Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer outdated.Close()
	var hello devicelink.HelloResponse
	rawRequest(t, outdated, &devicelink.Request{Action: devicelink.ActionHello, Client: "old", Protocol: 99}, &hello)
	if hello.Code != devicelink.CodeProtocol {
		t.Errorf("future protocol: code = %q, want protocol", hello.Code)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"Library", "/Library"},
		{"/Library/", "/Library"},
		{"/Library//SMS/../SMS/sms.db", "/Library/SMS/sms.db"},
		{"/..", "/"},
		{"..", "/"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.in); got != tc.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
