// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordui

import (
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/junegunn/fzf/src/util"
)

// Slab dimensions for the fzf matcher scratch space, shared across
// every record scored by one ApplyFuzzy pass.
const (
	slabSize16 = 100 * 1024
	slabSize32 = 2048
)

// FilterModel implements fzf-style fuzzy matching across the record
// fields: date, phone number, and message body. The filter narrows
// the loaded export client-side; nothing round-trips to disk.
type FilterModel struct {
	// Input is the current filter query text.
	Input string

	// Active is true when the filter input has keyboard focus
	// (the user pressed / to start typing).
	Active bool
}

// ScoredRecord pairs a record with its fuzzy match state. Score is
// the best score across the searchable fields; MessagePositions holds
// the matched rune positions in the body when the body was the field
// that matched.
type ScoredRecord struct {
	Record Record

	// Index is the record's position in the original export order.
	Index int

	Score            int
	MessagePositions []int
}

// ApplyFuzzy scores every record against the current filter and
// returns the matches sorted by score, best first. Ties keep export
// order (newest first). An empty filter returns every record with a
// zero score.
func (filter *FilterModel) ApplyFuzzy(records []Record) []ScoredRecord {
	if filter.Input == "" {
		results := make([]ScoredRecord, len(records))
		for index, record := range records {
			results[index] = ScoredRecord{Record: record, Index: index}
		}
		return results
	}

	pattern := []rune(filter.Input)
	slab := util.MakeSlab(slabSize16, slabSize32)

	var results []ScoredRecord
	for index, record := range records {
		message := fuzzyMatch(record.Message, pattern, slab)
		phone := fuzzyMatch(record.Phone, pattern, slab)
		date := fuzzyMatch(record.Date, pattern, slab)

		best := message.Score
		if phone.Score > best {
			best = phone.Score
		}
		if date.Score > best {
			best = date.Score
		}
		if best <= 0 {
			continue
		}

		results = append(results, ScoredRecord{
			Record:           record,
			Index:            index,
			Score:            best,
			MessagePositions: message.Positions,
		})
	}

	slices.SortStableFunc(results, func(a, b ScoredRecord) int {
		return b.Score - a.Score
	})
	return results
}

// HandleRune processes a character typed while the filter is active.
// Returns true if the input changed.
func (filter *FilterModel) HandleRune(character rune) bool {
	filter.Input += string(character)
	return true
}

// HandleBackspace removes the last character from the filter input.
// Returns true if the input changed.
func (filter *FilterModel) HandleBackspace() bool {
	if len(filter.Input) == 0 {
		return false
	}
	runes := []rune(filter.Input)
	filter.Input = string(runes[:len(runes)-1])
	return true
}

// Clear resets the filter input and deactivates it.
func (filter *FilterModel) Clear() {
	filter.Input = ""
	filter.Active = false
}

// View renders the filter bar. When active, shows the input with a
// cursor. When inactive with text, shows the filter text. When
// inactive with no text, returns empty string (hidden).
func (filter *FilterModel) View(theme Theme, width int) string {
	if !filter.Active && filter.Input == "" {
		return ""
	}

	style := lipgloss.NewStyle().
		Foreground(theme.NormalText).
		Width(width)

	if filter.Active {
		cursor := lipgloss.NewStyle().
			Foreground(theme.HeaderForeground).
			Bold(true).
			Render("▎")
		return style.Render(" / " + filter.Input + cursor)
	}

	dimStyle := lipgloss.NewStyle().
		Foreground(theme.FaintText).
		Width(width)
	return dimStyle.Render(" filter: " + filter.Input)
}

// flattenMessage collapses a multi-line message body to one line for
// list display. Rune count is preserved so fuzzy match positions
// computed against the original text still line up.
func flattenMessage(message string) string {
	message = strings.ReplaceAll(message, "\r", " ")
	return strings.ReplaceAll(message, "\n", " ")
}
