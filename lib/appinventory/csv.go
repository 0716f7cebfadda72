// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package appinventory

import (
	"encoding/csv"
	"fmt"
	"io"
)

// exportHeader is the first row of every inventory export.
var exportHeader = []string{"App Name", "Bundle ID", "Version"}

// WriteCSV renders the listing in canonical export form and returns
// the number of data rows written.
func WriteCSV(w io.Writer, listing *Listing) (int, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("appinventory: writing export header: %w", err)
	}
	for _, app := range listing.Apps {
		if err := writer.Write([]string{app.Name, app.BundleID, app.Version}); err != nil {
			return 0, fmt.Errorf("appinventory: writing export row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return 0, fmt.Errorf("appinventory: flushing export: %w", err)
	}
	return len(listing.Apps), nil
}
