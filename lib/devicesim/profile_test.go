// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicesim

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadProfileFixture(t *testing.T) {
	profile, err := LoadProfile(filepath.Join("testdata", "profile.jsonc"))
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}

	if profile.Identity.UDID != "00008030-000A1DE40C29802E" {
		t.Errorf("UDID = %q", profile.Identity.UDID)
	}
	if profile.Identity.DeviceName != "Research iPhone" {
		t.Errorf("DeviceName = %q", profile.Identity.DeviceName)
	}
	if profile.Identity.ProductVersion != "17.5.1" {
		t.Errorf("ProductVersion = %q", profile.Identity.ProductVersion)
	}

	if len(profile.Files) != 3 {
		t.Fatalf("files = %d, want 3", len(profile.Files))
	}
	database := profile.Files["/Library/SMS/sms.db"]
	if database == nil {
		t.Fatal("fixture is missing /Library/SMS/sms.db")
	}
	content, err := database.content()
	if err != nil {
		t.Fatalf("resolving base64 content: %v", err)
	}
	if string(content) != "SQLite format 3" {
		t.Errorf("decoded content = %q", content)
	}
	if database.MTime != 1700000000 {
		t.Errorf("mtime = %d", database.MTime)
	}

	text := profile.Files["/Library/Preferences/device.txt"]
	if text == nil {
		t.Fatal("fixture is missing /Library/Preferences/device.txt")
	}
	textContent, err := text.content()
	if err != nil {
		t.Fatalf("resolving text content: %v", err)
	}
	if string(textContent) != "ready\n" {
		t.Errorf("text content = %q", textContent)
	}

	if len(profile.Apps) != 3 {
		t.Fatalf("apps = %d, want 3", len(profile.Apps))
	}
	if profile.Apps[0]["CFBundleName"] != "Notes" {
		t.Errorf("first app = %v", profile.Apps[0])
	}
}

func TestParseProfileJSONC(t *testing.T) {
	source := `{
		// A device that refuses its record query service.
		"identity": {"udid": "test-udid"},
		"faults": {
			"refuse_handshake": false,
			"refuse_services": ["com.apple.mobile.record_query"],
			"deny_paths": ["/private"],
			"read_abort_after": {"/Library/SMS/sms.db": 4096},
			"chunk_delay_ms": 25,
		},
	}`

	profile, err := ParseProfile([]byte(source))
	if err != nil {
		t.Fatalf("ParseProfile: %v", err)
	}
	if profile.Identity.UDID != "test-udid" {
		t.Errorf("UDID = %q", profile.Identity.UDID)
	}
	if !profile.Faults.refusesService("com.apple.mobile.record_query") {
		t.Error("record query refusal not parsed")
	}
	if profile.Faults.refusesService("com.apple.afc") {
		t.Error("afc should not be refused")
	}
	if len(profile.Faults.DenyPaths) != 1 || profile.Faults.DenyPaths[0] != "/private" {
		t.Errorf("DenyPaths = %v", profile.Faults.DenyPaths)
	}
	if profile.Faults.ReadAbortAfter["/Library/SMS/sms.db"] != 4096 {
		t.Errorf("ReadAbortAfter = %v", profile.Faults.ReadAbortAfter)
	}
	if profile.Faults.ChunkDelayMS != 25 {
		t.Errorf("ChunkDelayMS = %d", profile.Faults.ChunkDelayMS)
	}
}

func TestParseProfileMalformed(t *testing.T) {
	_, err := ParseProfile([]byte(`{"identity": `))
	if err == nil || !strings.Contains(err.Error(), "parsing profile") {
		t.Fatalf("ParseProfile = %v", err)
	}
}

func TestLoadProfileMissingFile(t *testing.T) {
	if _, err := LoadProfile(filepath.Join("testdata", "absent.jsonc")); err == nil {
		t.Fatal("LoadProfile succeeded on a missing file")
	}
}

func TestNewRejectsConflictingContent(t *testing.T) {
	_, err := New(Config{Profile: Profile{
		Files: map[string]*File{
			"/conflict.txt": {Text: "x", Base64: "eA=="},
		},
	}})
	if err == nil || !strings.Contains(err.Error(), "both text and base64") {
		t.Fatalf("New = %v", err)
	}
}

func TestNewRejectsBadBase64(t *testing.T) {
	_, err := New(Config{Profile: Profile{
		Files: map[string]*File{
			"/broken.bin": {Base64: "%%not-base64%%"},
		},
	}})
	if err == nil || !strings.Contains(err.Error(), "base64") {
		t.Fatalf("New = %v", err)
	}
}
