// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordui

import (
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
)

// detailPane wraps a bubbles viewport for the full text of the
// selected record. The list flattens messages to a single line; the
// pane is where multi-line bodies are actually readable.
type detailPane struct {
	viewport viewport.Model
	theme    Theme
	width    int
	height   int

	// Retained for re-rendering on resize, so word wrap adapts when
	// the terminal changes width.
	hasRecord bool
	record    Record
}

func newDetailPane(theme Theme) detailPane {
	return detailPane{theme: theme}
}

// SetSize updates the pane dimensions. If the width changed and a
// record is displayed, the content is re-rendered so wrapping stays
// correct.
func (pane *detailPane) SetSize(width, height int) {
	previousWidth := pane.width
	pane.width = width
	pane.height = height
	pane.viewport.Width = width
	pane.viewport.Height = height

	if pane.hasRecord && width != previousWidth {
		pane.render()
	}
}

// SetRecord replaces the pane content with the given record and
// scrolls back to the top.
func (pane *detailPane) SetRecord(record Record) {
	pane.hasRecord = true
	pane.record = record
	pane.render()
	pane.viewport.GotoTop()
}

// Clear removes the pane content.
func (pane *detailPane) Clear() {
	pane.hasRecord = false
	pane.record = Record{}
	pane.viewport.SetContent("")
}

func (pane *detailPane) render() {
	phoneStyle := lipgloss.NewStyle().
		Foreground(pane.theme.HeaderForeground).
		Bold(true)
	dateStyle := lipgloss.NewStyle().
		Foreground(pane.theme.FaintText)
	bodyStyle := lipgloss.NewStyle().
		Foreground(pane.theme.NormalText).
		Width(pane.width).
		PaddingLeft(1)

	content := " " + phoneStyle.Render(pane.record.Phone) +
		dateStyle.Render("  "+pane.record.Date) + "\n\n" +
		bodyStyle.Render(pane.record.Message)
	pane.viewport.SetContent(content)
}

// View renders the pane at its configured size.
func (pane *detailPane) View() string {
	return lipgloss.NewStyle().
		Width(pane.width).
		Height(pane.height).
		MaxHeight(pane.height).
		Render(pane.viewport.View())
}

// LineUp scrolls the body up one line.
func (pane *detailPane) LineUp() { pane.viewport.LineUp(1) }

// LineDown scrolls the body down one line.
func (pane *detailPane) LineDown() { pane.viewport.LineDown(1) }

// HalfPageUp scrolls the body up half the pane height.
func (pane *detailPane) HalfPageUp() { pane.viewport.HalfViewUp() }

// HalfPageDown scrolls the body down half the pane height.
func (pane *detailPane) HalfPageDown() { pane.viewport.HalfViewDown() }

// GotoTop jumps to the start of the body.
func (pane *detailPane) GotoTop() { pane.viewport.GotoTop() }

// GotoBottom jumps to the end of the body.
func (pane *detailPane) GotoBottom() { pane.viewport.GotoBottom() }
