// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, or time.Sleep directly. In production, Real()
// provides the standard library behavior. In tests, Fake() provides a
// deterministic clock that advances only when Advance is called, so
// manifest and report timestamps are stable across runs.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Pipeline struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	p := &Pipeline{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	p := &Pipeline{clock: c}
//
// # FakeClock Synchronization
//
// When a goroutine calls Sleep or After on a FakeClock, it registers a
// pending waiter. Use WaitForTimers to block until a specific number
// of waiters are registered before calling Advance. This eliminates
// the race between waiter registration and time advancement that
// plagues tests using time.Sleep for synchronization.
package clock
