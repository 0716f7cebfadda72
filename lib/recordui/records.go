// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordui

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/bureau-foundation/acquire/lib/seal"
	"github.com/bureau-foundation/acquire/lib/secret"
)

// Record is one message row from an acquisition export.
type Record struct {
	// Date is the message timestamp as exported: "2006-01-02 15:04:05"
	// in UTC. Kept as a string; the viewer displays, it never
	// recomputes.
	Date string

	// Phone is the counterparty phone number.
	Phone string

	// Message is the message body. May span multiple lines.
	Message string
}

// exportHeader is the header row the message export writes. Parsing
// rejects anything else so the viewer cannot silently misread an
// unrelated CSV.
var exportHeader = []string{"Date", "Phone Number", "Message"}

// ParseRecords reads a message export: the canonical header row
// followed by one row per message, in export order (newest first).
func ParseRecords(data []byte) ([]Record, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = 3

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("export is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("reading export header: %w", err)
	}
	if !slices.Equal(header, exportHeader) {
		return nil, fmt.Errorf("unexpected export header %q", header)
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading export row %d: %w", len(records)+1, err)
		}
		records = append(records, Record{Date: row[0], Phone: row[1], Message: row[2]})
	}
	return records, nil
}

// LoadCSV reads a plaintext message export from disk.
func LoadCSV(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	records, err := ParseRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// LoadSealed unseals a sealed message export entirely in memory and
// parses the records. No recovered plaintext touches disk.
func LoadSealed(path string, key *secret.Buffer) ([]Record, error) {
	data, err := seal.New(seal.Config{}).UnsealBytes(path, key)
	if err != nil {
		return nil, fmt.Errorf("unsealing %s: %w", path, err)
	}
	records, err := ParseRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
