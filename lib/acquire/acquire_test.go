// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acquire

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/acquire/lib/bundle"
	"github.com/bureau-foundation/acquire/lib/devicelink"
	"github.com/bureau-foundation/acquire/lib/devicesim"
	"github.com/bureau-foundation/acquire/lib/digest"
	"github.com/bureau-foundation/acquire/lib/manifest"
	"github.com/bureau-foundation/acquire/lib/seal"
	"github.com/bureau-foundation/acquire/lib/sealkey"
)

// Canonical exports for the fixture device. Timestamps are the UTC
// renderings of the fixture's Unix seconds, newest first; the system
// application never appears in the inventory.
const (
	wantMessagesCSV = "Date,Phone Number,Message\n" +
		"2023-11-14 22:15:00,+15550000002,on my way\n" +
		"2023-11-14 22:13:20,+15550000001,hello\n"

	wantInventoryCSV = "App Name,Bundle ID,Version\n" +
		"Signal,org.whispersystems.signal,7.2.1\n" +
		"Chess Clock,com.example.chessclock,1.0.3\n"
)

// messageStoreBytes builds a two-message store fixture and returns
// its raw bytes for a simulated device filesystem.
func messageStoreBytes(t *testing.T) []byte {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "sms.db")
	conn, err := sqlite.OpenConn(databasePath, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		t.Fatalf("creating fixture store: %v", err)
	}
	script := `
		CREATE TABLE handle (id TEXT);
		CREATE TABLE message (date INTEGER, handle_id INTEGER, text TEXT);
		INSERT INTO handle (ROWID, id) VALUES (1, '+15550000001');
		INSERT INTO handle (ROWID, id) VALUES (2, '+15550000002');
		INSERT INTO message (date, handle_id, text) VALUES (1700000000, 1, 'hello');
		INSERT INTO message (date, handle_id, text) VALUES (1700000100, 2, 'on my way');
	`
	if err := sqlitex.ExecuteScript(conn, script, nil); err != nil {
		conn.Close()
		t.Fatalf("populating fixture store: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("closing fixture store: %v", err)
	}
	data, err := os.ReadFile(databasePath)
	if err != nil {
		t.Fatalf("reading fixture store: %v", err)
	}
	return data
}

func simProfile(t *testing.T) devicesim.Profile {
	t.Helper()
	return devicesim.Profile{
		Identity: devicelink.Identity{
			UDID:           "00008030-001A2B3C4D5E6F70",
			DeviceName:     "Evidence iPhone",
			ProductVersion: "17.4.1",
		},
		Files: map[string]*devicesim.File{
			DefaultMessageStore: {Data: messageStoreBytes(t), MTime: 1700000200},
		},
		Apps: []devicelink.AppDescriptor{
			{
				"CFBundleName":       "Signal",
				"CFBundleIdentifier": "org.whispersystems.signal",
				"CFBundleVersion":    "7.2.1",
				"ApplicationType":    "User",
			},
			{
				"CFBundleName":       "Chess Clock",
				"CFBundleIdentifier": "com.example.chessclock",
				"CFBundleVersion":    "1.0.3",
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

func simDevice(t *testing.T, profile devicesim.Profile) *devicesim.Device {
	t.Helper()
	device, err := devicesim.New(devicesim.Config{Profile: profile})
	if err != nil {
		t.Fatalf("building simulated device: %v", err)
	}
	return device
}

func testKey(t *testing.T) *sealkey.Material {
	t.Helper()
	material, err := sealkey.Random()
	if err != nil {
		t.Fatalf("provisioning key material: %v", err)
	}
	t.Cleanup(func() { material.Close() })
	return material
}

// runConfig assembles a Config against the given device, pinning the
// case directory so tests know where outputs land.
func runConfig(t *testing.T, device *devicesim.Device, key *sealkey.Material) (Config, string) {
	t.Helper()
	caseDir := filepath.Join(t.TempDir(), "case")
	cfg := Config{
		Connector:  device,
		CasePath:   func(string, time.Time) string { return caseDir },
		StagingDir: t.TempDir(),
		Key:        key,
	}
	return cfg, caseDir
}

func TestRunFullAcquisition(t *testing.T) {
	key := testKey(t)
	cfg, caseDir := runConfig(t, simDevice(t, simProfile(t)), key)
	cfg.HTMLReport = true

	result, err := Run(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.CaseDir != caseDir {
		t.Errorf("CaseDir = %q, want %q", result.CaseDir, caseDir)
	}

	m := result.Manifest
	if len(m.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(m.Artifacts))
	}
	messages, inventory := m.Artifacts[0], m.Artifacts[1]
	if messages.Name != MessagesArtifact || inventory.Name != InventoryArtifact {
		t.Fatalf("artifact order = %s, %s", messages.Name, inventory.Name)
	}
	if messages.Status != manifest.StatusProduced {
		t.Fatalf("messages status = %s (%s)", messages.Status, messages.Reason)
	}
	if inventory.Status != manifest.StatusProduced {
		t.Fatalf("inventory status = %s (%s)", inventory.Status, inventory.Reason)
	}

	// Only the sealed export remains on disk.
	sealedPath := filepath.Join(caseDir, MessagesFileName+SealedSuffix)
	if messages.Path != sealedPath {
		t.Errorf("messages path = %q, want %q", messages.Path, sealedPath)
	}
	if _, err := os.Stat(filepath.Join(caseDir, MessagesFileName)); !os.IsNotExist(err) {
		t.Errorf("plaintext export still present (stat err %v)", err)
	}

	// A key derived from the same material recovers the canonical
	// export, and the manifest digest matches the plaintext.
	unsealKey, err := key.Derive(MessagesArtifact)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	defer unsealKey.Close()
	recoveredPath := filepath.Join(t.TempDir(), "recovered.csv")
	if _, err := seal.New(seal.Config{}).Unseal(sealedPath, recoveredPath, unsealKey); err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	recovered, err := os.ReadFile(recoveredPath)
	if err != nil {
		t.Fatalf("reading recovered export: %v", err)
	}
	if string(recovered) != wantMessagesCSV {
		t.Errorf("recovered export:\n%swant:\n%s", recovered, wantMessagesCSV)
	}
	if messages.Digest == nil || *messages.Digest != digest.Bytes(recovered) {
		t.Error("messages digest does not match recovered plaintext")
	}
	if messages.Size != int64(len(wantMessagesCSV)) {
		t.Errorf("messages size = %d, want %d", messages.Size, len(wantMessagesCSV))
	}
	if messages.SkippedRecords != 0 {
		t.Errorf("messages skipped records = %d", messages.SkippedRecords)
	}

	inventoryData, err := os.ReadFile(filepath.Join(caseDir, InventoryFileName))
	if err != nil {
		t.Fatalf("reading inventory: %v", err)
	}
	if string(inventoryData) != wantInventoryCSV {
		t.Errorf("inventory export:\n%swant:\n%s", inventoryData, wantInventoryCSV)
	}

	// The manifest on disk matches the returned record.
	onDisk, err := manifest.Read(result.ManifestPath)
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	if onDisk.RunID != m.RunID {
		t.Errorf("manifest run ID = %q, want %q", onDisk.RunID, m.RunID)
	}
	if onDisk.Device.UDID != "00008030-001A2B3C4D5E6F70" {
		t.Errorf("manifest device = %q", onDisk.Device.UDID)
	}
	if onDisk.Seal == nil {
		t.Fatal("manifest has no seal parameters")
	}
	if onDisk.Seal.KeySource != string(sealkey.SourceRandom) {
		t.Errorf("seal key source = %q", onDisk.Seal.KeySource)
	}
	if onDisk.Seal.Derivation != MessagesArtifact {
		t.Errorf("seal derivation = %q", onDisk.Seal.Derivation)
	}
	if onDisk.FinishedAt.Before(onDisk.StartedAt) {
		t.Errorf("finished %v before started %v", onDisk.FinishedAt, onDisk.StartedAt)
	}

	reportText, err := os.ReadFile(result.ReportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	for _, want := range []string{"# Acquisition Report", "| messages | produced |", "| inventory | produced |"} {
		if !strings.Contains(string(reportText), want) {
			t.Errorf("report missing %q:\n%s", want, reportText)
		}
	}
	htmlData, err := os.ReadFile(result.HTMLReportPath)
	if err != nil {
		t.Fatalf("reading HTML report: %v", err)
	}
	if !strings.Contains(string(htmlData), "<h1>Acquisition Report</h1>") {
		t.Error("HTML report missing heading")
	}

	// The per-run staging directory is gone.
	entries, err := os.ReadDir(cfg.StagingDir)
	if err != nil {
		t.Fatalf("reading staging root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging root holds %d entries after the run", len(entries))
	}
}

func TestRunFileServiceRefused(t *testing.T) {
	profile := simProfile(t)
	profile.Faults.RefuseServices = []string{"com.apple.afc"}

	cfg, caseDir := runConfig(t, simDevice(t, profile), testKey(t))
	result, err := Run(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	messages := result.Manifest.Artifact(MessagesArtifact)
	if messages.Status != manifest.StatusSkipped {
		t.Fatalf("messages status = %s", messages.Status)
	}
	if !strings.Contains(messages.Reason, "com.apple.afc") {
		t.Errorf("messages reason = %q", messages.Reason)
	}
	inventory := result.Manifest.Artifact(InventoryArtifact)
	if inventory.Status != manifest.StatusProduced {
		t.Errorf("inventory status = %s (%s)", inventory.Status, inventory.Reason)
	}

	for _, name := range []string{MessagesFileName, MessagesFileName + SealedSuffix} {
		if _, err := os.Stat(filepath.Join(caseDir, name)); !os.IsNotExist(err) {
			t.Errorf("unexpected %s after refused transfer", name)
		}
	}

	reportText, err := os.ReadFile(result.ReportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if !strings.Contains(string(reportText), "| messages | skipped |") {
		t.Errorf("report does not record the skip:\n%s", reportText)
	}
}

func TestRunInventoryServiceRefused(t *testing.T) {
	profile := simProfile(t)
	profile.Faults.RefuseServices = []string{"com.apple.mobile.installation_proxy"}

	cfg, caseDir := runConfig(t, simDevice(t, profile), testKey(t))
	result, err := Run(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if messages := result.Manifest.Artifact(MessagesArtifact); messages.Status != manifest.StatusProduced {
		t.Errorf("messages status = %s (%s)", messages.Status, messages.Reason)
	}
	inventory := result.Manifest.Artifact(InventoryArtifact)
	if inventory.Status != manifest.StatusSkipped {
		t.Fatalf("inventory status = %s", inventory.Status)
	}
	if !strings.Contains(inventory.Reason, "com.apple.mobile.installation_proxy") {
		t.Errorf("inventory reason = %q", inventory.Reason)
	}
	if _, err := os.Stat(filepath.Join(caseDir, InventoryFileName)); !os.IsNotExist(err) {
		t.Errorf("unexpected inventory export after refused browse")
	}
}

func TestRunMissingStoreSkipsMessages(t *testing.T) {
	profile := simProfile(t)
	delete(profile.Files, DefaultMessageStore)

	cfg, _ := runConfig(t, simDevice(t, profile), testKey(t))
	result, err := Run(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	messages := result.Manifest.Artifact(MessagesArtifact)
	if messages.Status != manifest.StatusSkipped {
		t.Fatalf("messages status = %s", messages.Status)
	}
	if !strings.Contains(messages.Reason, "staging message store") ||
		!strings.Contains(messages.Reason, "sms.db") {
		t.Errorf("messages reason = %q", messages.Reason)
	}
	if inventory := result.Manifest.Artifact(InventoryArtifact); inventory.Status != manifest.StatusProduced {
		t.Errorf("inventory status = %s (%s)", inventory.Status, inventory.Reason)
	}
}

func TestRunCorruptStoreSkipsMessages(t *testing.T) {
	profile := simProfile(t)
	profile.Files[DefaultMessageStore] = &devicesim.File{Data: []byte("this is not a database")}

	cfg, _ := runConfig(t, simDevice(t, profile), testKey(t))
	result, err := Run(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	messages := result.Manifest.Artifact(MessagesArtifact)
	if messages.Status != manifest.StatusSkipped {
		t.Fatalf("messages status = %s", messages.Status)
	}
	if !strings.Contains(messages.Reason, "querying message store") {
		t.Errorf("messages reason = %q", messages.Reason)
	}
	if inventory := result.Manifest.Artifact(InventoryArtifact); inventory.Status != manifest.StatusProduced {
		t.Errorf("inventory status = %s (%s)", inventory.Status, inventory.Reason)
	}
}

func TestRunSealFailureRetainsPlaintext(t *testing.T) {
	cfg, caseDir := runConfig(t, simDevice(t, simProfile(t)), testKey(t))

	// A directory where the sealed file must go makes the sealer
	// fail after a successful export.
	if err := os.MkdirAll(filepath.Join(caseDir, MessagesFileName+SealedSuffix), 0o755); err != nil {
		t.Fatalf("planting seal obstruction: %v", err)
	}

	result, err := Run(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	messages := result.Manifest.Artifact(MessagesArtifact)
	if messages.Status != manifest.StatusProduced {
		t.Fatalf("messages status = %s", messages.Status)
	}
	plaintextPath := filepath.Join(caseDir, MessagesFileName)
	if messages.Path != plaintextPath {
		t.Errorf("messages path = %q, want plaintext %q", messages.Path, plaintextPath)
	}
	if !strings.Contains(messages.Reason, "plaintext retained") {
		t.Errorf("messages reason = %q", messages.Reason)
	}

	data, err := os.ReadFile(plaintextPath)
	if err != nil {
		t.Fatalf("reading retained plaintext: %v", err)
	}
	if string(data) != wantMessagesCSV {
		t.Errorf("retained plaintext:\n%s", data)
	}
	if messages.Digest == nil || *messages.Digest != digest.Bytes(data) {
		t.Error("retained plaintext digest mismatch")
	}
	if messages.Size != int64(len(data)) {
		t.Errorf("messages size = %d, want %d", messages.Size, len(data))
	}

	reportText, err := os.ReadFile(result.ReportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if !strings.Contains(string(reportText), "plaintext retained") {
		t.Errorf("report does not flag the retained plaintext:\n%s", reportText)
	}
}

func TestRunConnectFailure(t *testing.T) {
	profile := simProfile(t)
	profile.Faults.RefuseHandshake = true

	cfg, _ := runConfig(t, simDevice(t, profile), testKey(t))
	casePathCalled := false
	inner := cfg.CasePath
	cfg.CasePath = func(udid string, startedAt time.Time) string {
		casePathCalled = true
		return inner(udid, startedAt)
	}

	result, err := Run(t.Context(), cfg)
	if err == nil {
		t.Fatal("Run succeeded against a device refusing the handshake")
	}
	var connectErr *devicelink.ConnectError
	if !errors.As(err, &connectErr) {
		t.Errorf("error %v is not a ConnectError", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
	if casePathCalled {
		t.Error("case directory chosen despite connect failure")
	}
}

func TestRunEscrowsKey(t *testing.T) {
	keypair, err := sealkey.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	key := testKey(t)
	cfg, caseDir := runConfig(t, simDevice(t, simProfile(t)), key)
	cfg.EscrowRecipients = []string{keypair.Recipient}

	result, err := Run(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	escrowPath := filepath.Join(caseDir, EscrowFileName)
	if result.Manifest.Seal.EscrowPath != escrowPath {
		t.Errorf("escrow path = %q, want %q", result.Manifest.Seal.EscrowPath, escrowPath)
	}

	// The escrowed material derives the same per-artifact key.
	recovered, err := sealkey.FromEscrow(escrowPath, keypair.Identity)
	if err != nil {
		t.Fatalf("FromEscrow: %v", err)
	}
	defer recovered.Close()

	wantKey, err := key.Derive(MessagesArtifact)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	defer wantKey.Close()
	gotKey, err := recovered.Derive(MessagesArtifact)
	if err != nil {
		t.Fatalf("Derive from escrow: %v", err)
	}
	defer gotKey.Close()
	if !wantKey.Equal(gotKey.Bytes()) {
		t.Error("escrowed material derives a different key")
	}
}

func TestRunBundlesCaseDirectory(t *testing.T) {
	cfg, caseDir := runConfig(t, simDevice(t, simProfile(t)), testKey(t))
	cfg.Bundle = true
	cfg.BundleCompression = bundle.CompressionZstd

	result, err := Run(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantPath := caseDir + ".tar.zst"
	if result.BundlePath != wantPath {
		t.Fatalf("BundlePath = %q, want %q", result.BundlePath, wantPath)
	}

	extracted := t.TempDir()
	if err := bundle.Extract(result.BundlePath, extracted, nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, name := range []string{
		MessagesFileName + SealedSuffix,
		InventoryFileName,
		ManifestFileName,
		ReportFileName,
	} {
		if _, err := os.Stat(filepath.Join(extracted, name)); err != nil {
			t.Errorf("bundle missing %s: %v", name, err)
		}
	}
}

func TestRunValidation(t *testing.T) {
	key := testKey(t)
	if _, err := Run(t.Context(), Config{Key: key}); err == nil {
		t.Error("Run accepted a nil connector")
	}
	device := simDevice(t, simProfile(t))
	if _, err := Run(t.Context(), Config{Connector: device}); err == nil {
		t.Error("Run accepted nil key material")
	}
}

func TestDefaultCasePath(t *testing.T) {
	startedAt := time.Date(2026, 3, 14, 9, 29, 18, 0, time.UTC)
	got := defaultCasePath("00008030-001A2B3C4D5E6F70", startedAt)
	if got != "00008030-001A2B3C4D5E6F70-20260314-092918" {
		t.Errorf("defaultCasePath = %q", got)
	}
}
