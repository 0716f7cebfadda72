// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelink

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks. Structured errors in this
// package wrap these, so callers can branch on the category without
// caring which operation produced it.
var (
	// ErrNoDevice indicates no paired device was found at the
	// connector's endpoint.
	ErrNoDevice = errors.New("devicelink: no device present")

	// ErrServiceUnavailable indicates the device refused to start a
	// requested service.
	ErrServiceUnavailable = errors.New("devicelink: service unavailable")

	// ErrNotFound indicates a remote path does not exist.
	ErrNotFound = errors.New("devicelink: remote path not found")

	// ErrPermission indicates the device denied access to a remote
	// path.
	ErrPermission = errors.New("devicelink: remote access denied")

	// ErrClosed indicates an operation on a closed session or channel.
	ErrClosed = errors.New("devicelink: closed")
)

// ConnectStage identifies which phase of session establishment failed.
type ConnectStage string

const (
	// StageDiscover covers locating the device and opening the
	// control connection.
	StageDiscover ConnectStage = "discover"
	// StageHandshake covers the hello exchange on the control
	// connection.
	StageHandshake ConnectStage = "handshake"
	// StageIdentity covers retrieval and validation of the device
	// identifier.
	StageIdentity ConnectStage = "identity"
)

// ConnectError reports a session establishment failure with the stage
// that failed. Callers can use errors.As to branch on the stage:
//
//	var connectErr *devicelink.ConnectError
//	if errors.As(err, &connectErr) && connectErr.Stage == devicelink.StageDiscover { ... }
type ConnectError struct {
	// Stage is the establishment phase that failed.
	Stage ConnectStage
	// Err is the underlying cause.
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("devicelink: connect failed at %s: %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ServiceError reports a failure to open or operate a service channel.
type ServiceError struct {
	// Service is the device service name (e.g., "com.apple.afc").
	Service string
	// Err is the underlying cause.
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("devicelink: service %s: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// remoteError converts a wire error code and message into the matching
// sentinel-wrapped error. Unknown codes produce a plain error with the
// device's message.
func remoteError(code, message string) error {
	switch code {
	case CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	case CodePermission:
		return fmt.Errorf("%w: %s", ErrPermission, message)
	case CodeUnavailable:
		return fmt.Errorf("%w: %s", ErrServiceUnavailable, message)
	default:
		return fmt.Errorf("device error %s: %s", code, message)
	}
}
