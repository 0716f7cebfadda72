// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messagestore extracts message records from a staged copy of
// a device message database.
//
// The store is a SQLite file with the message-store schema: a message
// table carrying a numeric Unix-epoch date, a foreign key into the
// handle table, and a text body. Extraction opens the staged copy
// strictly read-only, streams rows newest first as a lazy one-shot
// sequence, and treats the data as possibly inconsistent: a malformed
// row is skipped and counted, never fatal. An unresolved counterparty
// (no matching handle) is an empty Counterparty, not a malformed row.
//
// WriteCSV renders the sequence as the canonical export: header
// "Date,Phone Number,Message", one row per record, timestamps in UTC.
package messagestore
