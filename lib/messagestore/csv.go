// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messagestore

import (
	"encoding/csv"
	"fmt"
	"io"
)

// TimestampLayout is the calendar/clock rendering used in the message
// export, always in UTC.
const TimestampLayout = "2006-01-02 15:04:05"

// exportHeader is the canonical message export header row.
var exportHeader = []string{"Date", "Phone Number", "Message"}

// WriteCSV drains the record sequence into w as the canonical message
// export. Fields are CSV-quoted, so bodies with embedded commas,
// quotes, or newlines survive a round trip. Returns the number of
// data rows written.
//
// An iteration error surfaces after the rows that preceded it were
// written; the caller decides whether a truncated export is worth
// keeping.
func WriteCSV(w io.Writer, records *Records) (int, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("writing export header: %w", err)
	}

	rows := 0
	for records.Next() {
		record := records.Record()
		row := []string{
			record.Time.UTC().Format(TimestampLayout),
			record.Counterparty,
			record.Body,
		}
		if err := writer.Write(row); err != nil {
			return rows, fmt.Errorf("writing export row: %w", err)
		}
		rows++
	}
	if err := records.Err(); err != nil {
		return rows, err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return rows, fmt.Errorf("flushing export: %w", err)
	}
	return rows, nil
}
