// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Column widths for the record table. The message column fills
// remaining space; the others are fixed.
const (
	columnWidthDate  = 19 // "2023-11-14 22:13:20"
	columnWidthPhone = 16
)

// listRenderer handles the table-style rendering of record rows
// within a given width.
type listRenderer struct {
	theme Theme
	width int
}

func newListRenderer(theme Theme, width int) listRenderer {
	return listRenderer{theme: theme, width: width}
}

// renderRow renders a single record as a formatted table row: date,
// phone number, then the message flattened to one line and truncated
// to fit. Characters at the fuzzy match positions are highlighted.
//
//	2023-11-14 22:15:00  +15550000002     on my way
func (renderer listRenderer) renderRow(entry ScoredRecord, selected bool) string {
	messageWidth := renderer.width - 1 - columnWidthDate - 2 - columnWidthPhone - 2
	if messageWidth < 10 {
		messageWidth = 10
	}

	message := flattenMessage(entry.Record.Message)
	if lipgloss.Width(message) > messageWidth {
		message = truncateString(message, messageWidth-1) + "…"
	}

	phone := entry.Record.Phone
	if lipgloss.Width(phone) > columnWidthPhone {
		phone = truncateString(phone, columnWidthPhone-1) + "…"
	}
	// Pad manually rather than with a Width style: the row is built
	// from several Render calls and a style width would pad each one.
	phone += strings.Repeat(" ", columnWidthPhone-lipgloss.Width(phone))

	if selected {
		baseStyle := lipgloss.NewStyle().
			Background(renderer.theme.SelectedBackground).
			Foreground(renderer.theme.SelectedForeground)
		// On a selected row the background is already the selection
		// color; bold+underline makes matches pop against it.
		highlightStyle := baseStyle.Bold(true).Underline(true)

		row := " " + baseStyle.Render(entry.Record.Date) + "  " +
			baseStyle.Render(phone) + "  " +
			highlightRunes(message, entry.MessagePositions, baseStyle, highlightStyle)
		return baseStyle.Width(renderer.width).MaxWidth(renderer.width).Render(row)
	}

	dateStyle := lipgloss.NewStyle().Foreground(renderer.theme.DateForeground)
	phoneStyle := lipgloss.NewStyle().Foreground(renderer.theme.PhoneForeground)
	messageStyle := lipgloss.NewStyle().Foreground(renderer.theme.NormalText)
	highlightStyle := lipgloss.NewStyle().
		Foreground(renderer.theme.NormalText).
		Background(renderer.theme.MatchBackground)

	row := " " + dateStyle.Render(entry.Record.Date) + "  " +
		phoneStyle.Render(phone) + "  " +
		highlightRunes(message, entry.MessagePositions, messageStyle, highlightStyle)
	return lipgloss.NewStyle().Width(renderer.width).MaxWidth(renderer.width).Render(row)
}

// highlightRunes renders text with the runes at matched positions in
// highlightStyle and everything else in baseStyle. Positions index
// into the original text; positions past the truncated text are
// ignored. Consecutive runs of same-style characters are batched into
// a single Render call to keep ANSI output compact.
func highlightRunes(text string, positions []int, baseStyle, highlightStyle lipgloss.Style) string {
	if len(positions) == 0 {
		return baseStyle.Render(text)
	}

	positionSet := make(map[int]bool, len(positions))
	for _, position := range positions {
		positionSet[position] = true
	}

	runes := []rune(text)
	var result strings.Builder
	runStart := 0
	isHighlighted := len(runes) > 0 && positionSet[0]

	for index := 1; index <= len(runes); index++ {
		currentHighlighted := index < len(runes) && positionSet[index]
		if currentHighlighted != isHighlighted || index == len(runes) {
			chunk := string(runes[runStart:index])
			if isHighlighted {
				result.WriteString(highlightStyle.Render(chunk))
			} else {
				result.WriteString(baseStyle.Render(chunk))
			}
			runStart = index
			isHighlighted = currentHighlighted
		}
	}

	return result.String()
}

// truncateString truncates a string to maxWidth visual characters.
// Handles multi-byte characters correctly via lipgloss width
// measurement.
func truncateString(text string, maxWidth int) string {
	if lipgloss.Width(text) <= maxWidth {
		return text
	}
	runes := []rune(text)
	for length := len(runes) - 1; length >= 0; length-- {
		candidate := string(runes[:length])
		if lipgloss.Width(candidate) <= maxWidth {
			return candidate
		}
	}
	return ""
}
