// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all key bindings for the record viewer.
type KeyMap struct {
	// Navigation (context-sensitive: list movement or detail scrolling
	// depending on current focus).
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Home     key.Binding
	End      key.Binding

	// Focus switching.
	FocusToggle key.Binding

	// Filter.
	FilterActivate key.Binding // Enter filter mode.
	FilterClear    key.Binding // Clear filter and exit filter mode.

	Quit key.Binding
}

// DefaultKeyMap is the built-in key binding set. Vim-style navigation
// (j/k) alongside standard arrow keys and page up/down.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("ctrl+u", "pgup"),
		key.WithHelp("C-u", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("ctrl+d", "pgdown"),
		key.WithHelp("C-d", "page down"),
	),
	Home: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "top"),
	),
	End: key.NewBinding(
		key.WithKeys("G", "end"),
		key.WithHelp("G", "bottom"),
	),
	FocusToggle: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("Tab", "switch pane"),
	),
	FilterActivate: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "filter"),
	),
	FilterClear: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("Esc", "clear filter"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
