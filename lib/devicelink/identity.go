// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelink

import "fmt"

// Identity describes the connected device as reported during the
// handshake. Only the UDID is mandatory; devices may omit the friendly
// name and OS version, in which case the fields are empty.
type Identity struct {
	// UDID is the unique device identifier. Never empty on a
	// connected session.
	UDID string `json:"udid"`

	// DeviceName is the user-assigned device name, if reported.
	DeviceName string `json:"device_name,omitempty"`

	// ProductVersion is the device OS version, if reported.
	ProductVersion string `json:"product_version,omitempty"`
}

// Validate checks that the identity satisfies the session contract.
func (id Identity) Validate() error {
	if id.UDID == "" {
		return fmt.Errorf("device reported empty UDID")
	}
	return nil
}

// String returns the UDID, with the device name appended when known.
func (id Identity) String() string {
	if id.DeviceName == "" {
		return id.UDID
	}
	return fmt.Sprintf("%s (%s)", id.UDID, id.DeviceName)
}
