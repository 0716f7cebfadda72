// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/acquire/cmd/bureau-acquire/cli"
	"github.com/bureau-foundation/acquire/lib/acquire"
	"github.com/bureau-foundation/acquire/lib/config"
	"github.com/bureau-foundation/acquire/lib/devicelink"
	"github.com/bureau-foundation/acquire/lib/devicesim"
	"github.com/bureau-foundation/acquire/lib/digest"
	"github.com/bureau-foundation/acquire/lib/manifest"
	"github.com/bureau-foundation/acquire/lib/seal"
	"github.com/bureau-foundation/acquire/lib/sealkey"
)

// wantMessagesCSV is the canonical export of the fixture store,
// newest first.
const wantMessagesCSV = "Date,Phone Number,Message\n" +
	"2023-11-14 22:15:00,+15550000002,on my way\n" +
	"2023-11-14 22:13:20,+15550000001,hello\n"

// messageStoreBytes builds a two-message store fixture and returns
// its raw bytes.
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

// writeSimProfile writes a JSONC device profile with the fixture
// store and one installed application, returning its path.
func writeSimProfile(t *testing.T) string {
	t.Helper()
	profile := devicesim.Profile{
		Identity: devicelink.Identity{
			UDID:           "00008030-001A2B3C4D5E6F70",
			DeviceName:     "Evidence iPhone",
			ProductVersion: "17.4.1",
		},
		Files: map[string]*devicesim.File{
			acquire.DefaultMessageStore: {
				Base64: base64.StdEncoding.EncodeToString(messageStoreBytes(t)),
				MTime:  1700000200,
			},
		},
		Apps: []devicelink.AppDescriptor{
			{
				"CFBundleName":       "Signal",
				"CFBundleIdentifier": "org.whispersystems.signal",
				"CFBundleVersion":    "7.2.1",
				"ApplicationType":    "User",
			},
		},
	}
	data, err := json.Marshal(profile)
	if err != nil {
		t.Fatalf("marshaling profile: %v", err)
	}
	path := filepath.Join(t.TempDir(), "handset.jsonc")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing profile: %v", err)
	}
	return path
}

// writeKeyfile writes a raw 32-byte master key and returns its path.
func writeKeyfile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "master.key")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x5a}, sealkey.KeySize), 0o600); err != nil {
		t.Fatalf("writing keyfile: %v", err)
	}
	return path
}

// writeQuietConfig writes a config file that silences run logging so
// test output stays readable, returning its path.
func writeQuietConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acquire.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// findCaseDir returns the single case directory created under
// outputDir.
func findCaseDir(t *testing.T, outputDir string) string {
	t.Helper()
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("reading output dir: %v", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		t.Fatalf("output dir holds %d entries, want one case directory", len(entries))
	}
	return filepath.Join(outputDir, entries[0].Name())
}

func TestRoot_CommandNames(t *testing.T) {
	root := Root()
	want := []string{"run", "unseal", "view", "manifest", "ls", "mount", "keygen", "version"}

	seen := make(map[string]bool)
	for _, sub := range root.Subcommands {
		if seen[sub.Name] {
			t.Errorf("duplicate subcommand %q", sub.Name)
		}
		seen[sub.Name] = true
	}
	for _, name := range want {
		if !seen[name] {
			t.Errorf("subcommand %q missing from the tree", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	if err := Root().Execute(t.Context(), []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
}

func TestRunCommand_EndToEnd(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	profilePath := writeSimProfile(t)
	keyfilePath := writeKeyfile(t)
	outputDir := t.TempDir()

	err := Root().Execute(t.Context(), []string{
		"run",
		"--config", writeQuietConfig(t),
		"--simulate", profilePath,
		"--key-file", keyfilePath,
		"--output-dir", outputDir,
		"--staging-dir", t.TempDir(),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	caseDir := findCaseDir(t, outputDir)
	sealedPath := filepath.Join(caseDir, acquire.MessagesFileName+acquire.SealedSuffix)
	for _, name := range []string{acquire.ManifestFileName, acquire.ReportFileName, acquire.InventoryFileName} {
		if _, err := os.Stat(filepath.Join(caseDir, name)); err != nil {
			t.Errorf("case file %s: %v", name, err)
		}
	}
	if _, err := os.Stat(sealedPath); err != nil {
		t.Fatalf("sealed export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(caseDir, acquire.MessagesFileName)); !os.IsNotExist(err) {
		t.Error("plaintext message export survived sealing")
	}

	m, err := manifest.Read(filepath.Join(caseDir, acquire.ManifestFileName))
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	for _, name := range []string{acquire.MessagesArtifact, acquire.InventoryArtifact} {
		artifact := m.Artifact(name)
		if artifact == nil {
			t.Fatalf("manifest has no %s artifact", name)
		}
		if artifact.Status != manifest.StatusProduced {
			t.Errorf("%s status = %q, want produced (%s)", name, artifact.Status, artifact.Reason)
		}
	}

	// Unseal through the CLI and compare the plaintext.
	err = Root().Execute(t.Context(), []string{
		"unseal", sealedPath, "--key-file", keyfilePath,
	})
	if err != nil {
		t.Fatalf("unseal: %v", err)
	}
	plaintext, err := os.ReadFile(filepath.Join(caseDir, acquire.MessagesFileName))
	if err != nil {
		t.Fatalf("reading unsealed export: %v", err)
	}
	if string(plaintext) != wantMessagesCSV {
		t.Errorf("unsealed export = %q, want %q", plaintext, wantMessagesCSV)
	}
}

func TestRunCommand_RejectsPositionalArgs(t *testing.T) {
	err := Root().Execute(t.Context(), []string{"run", "bogus"})
	if err == nil || !strings.Contains(err.Error(), "no positional") {
		t.Fatalf("err = %v, want positional argument rejection", err)
	}
}

func TestRunCommand_NoDeviceConfigured(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	err := Root().Execute(t.Context(), []string{
		"run", "--key-file", writeKeyfile(t), "--output-dir", t.TempDir(),
	})
	if err == nil || !strings.Contains(err.Error(), "no device") {
		t.Fatalf("err = %v, want a no-device error", err)
	}
}

func TestUnsealCommand_DigestMismatch(t *testing.T) {
	caseDir := t.TempDir()
	keyfilePath := writeKeyfile(t)

	material, err := sealkey.FromKeyfile(keyfilePath)
	if err != nil {
		t.Fatalf("FromKeyfile: %v", err)
	}
	defer material.Close()
	key, err := material.Derive(acquire.MessagesArtifact)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	defer key.Close()

	plainPath := filepath.Join(caseDir, acquire.MessagesFileName)
	if err := os.WriteFile(plainPath, []byte(wantMessagesCSV), 0o644); err != nil {
		t.Fatalf("writing export: %v", err)
	}
	sealedPath := plainPath + acquire.SealedSuffix
	if _, err := seal.New(seal.Config{}).Seal(plainPath, sealedPath, key); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Record a digest that cannot match the plaintext.
	wrong := digest.Digest{}
	m := manifest.New(manifest.Device{UDID: "00008030-TAMPERED"}, time.Now().UTC())
	m.Add(manifest.Artifact{
		Name:   acquire.MessagesArtifact,
		Status: manifest.StatusProduced,
		Path:   filepath.Base(sealedPath),
		Size:   int64(len(wantMessagesCSV)),
		Digest: &wrong,
	})
	m.Seal = &manifest.SealParameters{
		Algorithm:  acquire.SealAlgorithm,
		KeySource:  string(sealkey.SourceKeyfile),
		Derivation: acquire.MessagesArtifact,
	}
	if err := manifest.Write(filepath.Join(caseDir, acquire.ManifestFileName), m); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}

	err = Root().Execute(t.Context(), []string{"unseal", sealedPath, "--key-file", keyfilePath})
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *cli.ExitError", err)
	}
	if exitErr.Code != 1 {
		t.Errorf("exit code = %d, want 1", exitErr.Code)
	}
	if _, err := os.Stat(plainPath); err != nil {
		t.Error("mismatched plaintext was not left in place for inspection")
	}
}

func TestUnsealCommand_EscrowRecovery(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	identityPath := filepath.Join(t.TempDir(), "examiner.key")
	if err := Root().Execute(t.Context(), []string{"keygen", "-o", identityPath}); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	// The recipient rides in the identity file's comment header.
	content, err := os.ReadFile(identityPath)
	if err != nil {
		t.Fatalf("reading identity file: %v", err)
	}
	recipient := ""
	for _, line := range strings.Split(string(content), "\n") {
		if rest, ok := strings.CutPrefix(line, "# public key: "); ok {
			recipient = rest
		}
	}
	if recipient == "" {
		t.Fatal("identity file has no public key header")
	}

	outputDir := t.TempDir()
	err = Root().Execute(t.Context(), []string{
		"run",
		"--config", writeQuietConfig(t),
		"--simulate", writeSimProfile(t),
		"--random-key",
		"--escrow-recipient", recipient,
		"--output-dir", outputDir,
		"--staging-dir", t.TempDir(),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	caseDir := findCaseDir(t, outputDir)
	if _, err := os.Stat(filepath.Join(caseDir, acquire.EscrowFileName)); err != nil {
		t.Fatalf("escrow file: %v", err)
	}

	sealedPath := filepath.Join(caseDir, acquire.MessagesFileName+acquire.SealedSuffix)
	err = Root().Execute(t.Context(), []string{
		"unseal", sealedPath, "--escrow-identity", identityPath,
	})
	if err != nil {
		t.Fatalf("unseal via escrow: %v", err)
	}
	plaintext, err := os.ReadFile(filepath.Join(caseDir, acquire.MessagesFileName))
	if err != nil {
		t.Fatalf("reading unsealed export: %v", err)
	}
	if string(plaintext) != wantMessagesCSV {
		t.Errorf("unsealed export = %q, want %q", plaintext, wantMessagesCSV)
	}
}

func TestKeygenCommand_WritesIdentityFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examiner.key")
	if err := Root().Execute(t.Context(), []string{"keygen", "-o", path}); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("identity file: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("identity file mode = %o, want 0600", mode)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading identity file: %v", err)
	}
	if !strings.Contains(string(content), "AGE-SECRET-KEY-1") {
		t.Error("identity file holds no age secret key")
	}

	// The written file must round-trip through escrow recovery.
	identity, err := sealkey.IdentityFromFile(path)
	if err != nil {
		t.Fatalf("IdentityFromFile: %v", err)
	}
	identity.Close()
}

func TestManifestCommand_PathForms(t *testing.T) {
	caseDir := t.TempDir()
	m := manifest.New(manifest.Device{UDID: "00008030-MANIFEST01"}, time.Now().UTC())
	m.Add(manifest.Artifact{Name: acquire.MessagesArtifact, Status: manifest.StatusSkipped, Reason: "test"})
	manifestPath := filepath.Join(caseDir, acquire.ManifestFileName)
	if err := manifest.Write(manifestPath, m); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}

	if err := Root().Execute(t.Context(), []string{"manifest", caseDir}); err != nil {
		t.Errorf("manifest on case dir: %v", err)
	}
	if err := Root().Execute(t.Context(), []string{"manifest", manifestPath}); err != nil {
		t.Errorf("manifest on file: %v", err)
	}
	if err := Root().Execute(t.Context(), []string{"manifest", filepath.Join(caseDir, "absent")}); err == nil {
		t.Error("manifest accepted a missing path")
	}
}

func TestLsCommand_SimulatedDevice(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	profilePath := writeSimProfile(t)

	err := Root().Execute(t.Context(), []string{
		"ls", "--simulate", profilePath, "-l", "/var/mobile/Library/SMS",
	})
	if err != nil {
		t.Fatalf("ls: %v", err)
	}

	err = Root().Execute(t.Context(), []string{
		"ls", "--simulate", profilePath, "/no/such/path",
	})
	if err == nil {
		t.Error("ls succeeded on a missing device path")
	}
}
