// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package appinventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/acquire/lib/devicelink"
)

// Bundle attribute keys consulted for each descriptor. Every other
// attribute the device reports is ignored.
const (
	keyName     = "CFBundleName"
	keyBundleID = "CFBundleIdentifier"
	keyVersion  = "CFBundleVersion"
)

// App is one installed application with its identifying attributes
// resolved.
type App struct {
	Name     string
	BundleID string
	Version  string
}

// Listing is the outcome of one inventory enumeration: the apps that
// carried all identifying attributes, in device-reported order, plus
// the count of descriptors dropped for missing or malformed ones.
type Listing struct {
	Apps    []App
	Dropped int
}

// Config configures an Extractor.
type Config struct {
	// Logger receives per-descriptor drop warnings. Defaults to a
	// discard logger.
	Logger *slog.Logger
}

// Extractor resolves device application inventories.
type Extractor struct {
	logger *slog.Logger
}

// New constructs an Extractor.
func New(config Config) *Extractor {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{logger: logger}
}

// List enumerates installed applications over an open inventory
// channel. The filter is forwarded to the device; the acquisition
// pipeline lists user applications only.
func (e *Extractor) List(ctx context.Context, conn devicelink.InventoryConn, filter devicelink.BrowseFilter) (*Listing, error) {
	descriptors, err := conn.Browse(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("appinventory: browsing installed applications: %w", err)
	}

	listing := &Listing{}
	for i, descriptor := range descriptors {
		app, problem := appFromDescriptor(descriptor)
		if problem != "" {
			listing.Dropped++
			e.logger.Warn("dropping partial app descriptor",
				"index", i,
				"bundle_id", stringAttribute(descriptor, keyBundleID),
				"problem", problem,
			)
			continue
		}
		listing.Apps = append(listing.Apps, app)
	}

	e.logger.Info("listed installed applications",
		"apps", len(listing.Apps),
		"dropped", listing.Dropped,
	)
	return listing, nil
}

// appFromDescriptor resolves one descriptor. A non-empty problem
// string marks the descriptor partial: every identifying attribute
// must be present, string-typed, and non-empty.
func appFromDescriptor(descriptor devicelink.AppDescriptor) (App, string) {
	var app App
	for _, attribute := range []struct {
		key  string
		dest *string
	}{
		{keyName, &app.Name},
		{keyBundleID, &app.BundleID},
		{keyVersion, &app.Version},
	} {
		value, ok := descriptor[attribute.key]
		if !ok {
			return App{}, "missing " + attribute.key
		}
		text, ok := value.(string)
		if !ok {
			return App{}, "non-string " + attribute.key
		}
		if text == "" {
			return App{}, "empty " + attribute.key
		}
		*attribute.dest = text
	}
	return app, ""
}

// stringAttribute returns the attribute as a string for logging, or
// empty when absent or not a string.
func stringAttribute(descriptor devicelink.AppDescriptor, key string) string {
	value, _ := descriptor[key].(string)
	return value
}
