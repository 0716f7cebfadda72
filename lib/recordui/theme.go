// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordui

import "github.com/charmbracelet/lipgloss"

// Theme defines the color palette for the record viewer. All colors
// use lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Table columns.
	DateForeground  lipgloss.Color
	PhoneForeground lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Background tint for characters matched by the fuzzy filter.
	MatchBackground lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal color scheme. Designed
// for 256-color terminals with a dark background.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	DateForeground:  lipgloss.Color("114"), // green
	PhoneForeground: lipgloss.Color("75"),  // blue

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	MatchBackground: lipgloss.Color("58"), // dark amber
}
