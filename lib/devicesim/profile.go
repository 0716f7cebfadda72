// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicesim

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/acquire/lib/devicelink"
)

// Profile describes the device a simulator presents: who it claims to
// be, which services it runs, what its filesystem holds, and which
// applications are installed.
type Profile struct {
	// Identity is reported in the hello response. A profile with an
	// empty UDID produces an identity-stage connect failure, which is
	// occasionally the point.
	Identity devicelink.Identity `json:"identity"`

	// Services lists the service names the device will open. Empty
	// means every service devicelink knows about.
	Services []string `json:"services,omitempty"`

	// Files is the device filesystem, keyed by absolute path.
	// Directories are implied by the paths; they need no entries of
	// their own.
	Files map[string]*File `json:"files,omitempty"`

	// Apps are the installed application descriptors returned by
	// browse, in report order.
	Apps []devicelink.AppDescriptor `json:"apps,omitempty"`

	// Faults injects failures. The zero value is a healthy device.
	Faults Faults `json:"faults,omitempty"`
}

// File is one regular file on the simulated device. Content comes
// from exactly one of Data (programmatic profiles), Text, or Base64
// (fixture files).
type File struct {
	// Data is the raw content. Set directly when building a profile
	// in code; fixture files populate Text or Base64 instead.
	Data []byte `json:"-"`

	// Text is inline UTF-8 content for fixture files.
	Text string `json:"text,omitempty"`

	// Base64 is standard-encoded binary content for fixture files.
	Base64 string `json:"base64,omitempty"`

	// MTime is the modification time in Unix seconds.
	MTime int64 `json:"mtime,omitempty"`
}

// content resolves the file's bytes. Fixture fields are decoded here
// rather than at load time so programmatic and loaded profiles go
// through the same path.
func (f *File) content() ([]byte, error) {
	switch {
	case f.Data != nil:
		return f.Data, nil
	case f.Base64 != "":
		if f.Text != "" {
			return nil, fmt.Errorf("both text and base64 set")
		}
		decoded, err := base64.StdEncoding.DecodeString(f.Base64)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 content: %w", err)
		}
		return decoded, nil
	default:
		return []byte(f.Text), nil
	}
}

// Faults configures failure injection. Every field is independent;
// combine them as the test demands.
type Faults struct {
	// RefuseHandshake makes the device reject the hello exchange, so
	// connects fail at the handshake stage.
	RefuseHandshake bool `json:"refuse_handshake,omitempty"`

	// RefuseServices lists service names the device refuses to open
	// even when advertised. Opens fail with a service-unavailable
	// status; everything else keeps working.
	RefuseServices []string `json:"refuse_services,omitempty"`

	// DenyPaths lists paths that fail with a permission status. A
	// listed path denies itself and everything beneath it.
	DenyPaths []string `json:"deny_paths,omitempty"`

	// ReadAbortAfter maps a path to the number of content bytes a
	// connection may read from it before further reads fail with an
	// I/O status. Files shorter than their limit transfer normally.
	ReadAbortAfter map[string]int64 `json:"read_abort_after,omitempty"`

	// ChunkDelayMS pauses the device for this many milliseconds
	// before serving each read chunk. The pause goes through the
	// device's clock.
	ChunkDelayMS int64 `json:"chunk_delay_ms,omitempty"`
}

// refusesService reports whether the fault set refuses the named
// service.
func (f Faults) refusesService(name string) bool {
	for _, refused := range f.RefuseServices {
		if refused == name {
			return true
		}
	}
	return false
}

// ParseProfile strips JSONC comments and trailing commas from data,
// then unmarshals the result into a Profile.
func ParseProfile(data []byte) (*Profile, error) {
	stripped := jsonc.ToJSON(data)

	var profile Profile
	if err := json.Unmarshal(stripped, &profile); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	return &profile, nil
}

// LoadProfile reads a JSONC profile fixture from disk.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	profile, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return profile, nil
}
