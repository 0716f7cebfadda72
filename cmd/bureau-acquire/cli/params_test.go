// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

type keyFlags struct {
	KeyFile        string `flag:"key-file" desc:"file holding the sealing key"`
	PassphraseFile string `flag:"passphrase-file" desc:"file holding the passphrase"`
}

type testParams struct {
	keyFlags

	Config    string        `flag:"config,c" desc:"config file path"`
	Verbose   bool          `flag:"verbose,v" desc:"verbose output"`
	Retries   int           `flag:"retries" desc:"retry count" default:"3"`
	ChunkSize int64         `flag:"chunk-size" desc:"copy chunk size" default:"65536"`
	Timeout   time.Duration `flag:"timeout" desc:"connect timeout" default:"30s"`
	Escrow    []string      `flag:"escrow" desc:"escrow recipients"`
}

func TestBindFlagsDefaults(t *testing.T) {
	var params testParams
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&params, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if params.Retries != 3 {
		t.Errorf("Retries = %d, want 3", params.Retries)
	}
	if params.ChunkSize != 65536 {
		t.Errorf("ChunkSize = %d, want 65536", params.ChunkSize)
	}
	if params.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", params.Timeout)
	}
	if params.Verbose {
		t.Error("Verbose should default to false")
	}
}

func TestBindFlagsParsesValues(t *testing.T) {
	var params testParams
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&params, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	args := []string{
		"--config", "acquire.yaml",
		"--verbose",
		"--retries", "5",
		"--chunk-size", "1048576",
		"--timeout", "2m",
		"--escrow", "age1aaa,age1bbb",
		"--key-file", "seal.key",
	}
	if err := flagSet.Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if params.Config != "acquire.yaml" {
		t.Errorf("Config = %q", params.Config)
	}
	if !params.Verbose {
		t.Error("Verbose not set")
	}
	if params.Retries != 5 {
		t.Errorf("Retries = %d, want 5", params.Retries)
	}
	if params.ChunkSize != 1048576 {
		t.Errorf("ChunkSize = %d, want 1048576", params.ChunkSize)
	}
	if params.Timeout != 2*time.Minute {
		t.Errorf("Timeout = %v, want 2m", params.Timeout)
	}
	if len(params.Escrow) != 2 || params.Escrow[0] != "age1aaa" || params.Escrow[1] != "age1bbb" {
		t.Errorf("Escrow = %v", params.Escrow)
	}
	// The embedded key source flags are bound alongside the command's own.
	if params.KeyFile != "seal.key" {
		t.Errorf("KeyFile = %q", params.KeyFile)
	}
}

func TestBindFlagsShorthand(t *testing.T) {
	var params testParams
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&params, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	if err := flagSet.Parse([]string{"-c", "conf.yaml", "-v"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.Config != "conf.yaml" {
		t.Errorf("Config = %q", params.Config)
	}
	if !params.Verbose {
		t.Error("Verbose not set via shorthand")
	}
}

func TestBindFlagsSkipsUntaggedFields(t *testing.T) {
	var params struct {
		Tagged   string `flag:"tagged"`
		Untagged string
	}
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&params, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	if flagSet.Lookup("tagged") == nil {
		t.Error("tagged field not bound")
	}
	count := 0
	flagSet.VisitAll(func(*pflag.Flag) { count++ })
	if count != 1 {
		t.Errorf("bound %d flags, want 1", count)
	}
}

func TestBindFlagsRejectsNonStruct(t *testing.T) {
	value := 42
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&value, flagSet); err == nil {
		t.Error("BindFlags accepted a non-struct")
	}
	if err := BindFlags(testParams{}, flagSet); err == nil {
		t.Error("BindFlags accepted a non-pointer")
	}
}

func TestBindFlagsRejectsUnsupportedType(t *testing.T) {
	var params struct {
		Bad map[string]string `flag:"bad"`
	}
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	err := BindFlags(&params, flagSet)
	if err == nil {
		t.Fatal("BindFlags accepted a map field")
	}
	if !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("error = %v", err)
	}
}

func TestBindFlagsBadDefault(t *testing.T) {
	var params struct {
		Timeout time.Duration `flag:"timeout" default:"not-a-duration"`
	}
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&params, flagSet); err == nil {
		t.Error("BindFlags accepted an unparseable default")
	}
}

func TestFlagsFromParamsPanicsOnBadInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("FlagsFromParams did not panic on non-struct params")
		}
	}()
	FlagsFromParams("test", 42)
}
