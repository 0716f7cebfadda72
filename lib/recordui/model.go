// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// FocusRegion identifies which pane has keyboard focus.
type FocusRegion int

const (
	// FocusList means navigation keys move the record list cursor.
	FocusList FocusRegion = iota
	// FocusDetail means navigation keys scroll the detail pane.
	FocusDetail
	// FocusFilter means keystrokes go to the filter input.
	FocusFilter
)

// chromeLines is the fixed vertical chrome around the content panes:
// the header (or filter bar), two separators, and the help bar.
const chromeLines = 4

// Model is the top-level bubbletea model for the record viewer.
type Model struct {
	all    []Record
	source string
	theme  Theme
	keys   KeyMap

	// Terminal dimensions (set by WindowSizeMsg).
	width  int
	height int
	ready  bool

	// Filtered view of the records, in display order.
	filter       FilterModel
	visible      []ScoredRecord
	cursor       int
	scrollOffset int

	// Two-pane layout: record list above, detail pane below.
	focusRegion FocusRegion
	priorFocus  FocusRegion // Saved focus when entering filter mode.
	detail      detailPane
}

// NewModel creates a Model over a loaded export. The source string is
// displayed in the header, typically the path the records came from.
func NewModel(records []Record, source string) Model {
	model := Model{
		all:    records,
		source: source,
		theme:  DefaultTheme,
		keys:   DefaultKeyMap,
		detail: newDetailPane(DefaultTheme),
	}
	model.visible = model.filter.ApplyFuzzy(model.all)
	model.syncDetail()
	return model
}

// Init implements tea.Model. The viewer has no asynchronous sources.
func (model Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model. Routes keyboard events based on the
// current focus region and handles layout changes.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		// When the filter is active, route all input to it first.
		if model.focusRegion == FocusFilter {
			return model.handleFilterKeys(message)
		}

		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit

		case key.Matches(message, model.keys.FocusToggle):
			if model.focusRegion == FocusList {
				model.focusRegion = FocusDetail
			} else {
				model.focusRegion = FocusList
			}

		case key.Matches(message, model.keys.FilterActivate):
			model.priorFocus = model.focusRegion
			model.focusRegion = FocusFilter
			model.filter.Active = true
			// Reset list position to the top so the user sees results
			// from the beginning as they type.
			model.cursor = 0
			model.scrollOffset = 0

		case key.Matches(message, model.keys.FilterClear):
			if model.filter.Input != "" {
				model.filter.Clear()
				model.applyFilter()
			}

		default:
			if model.focusRegion == FocusList {
				model.handleListKeys(message)
			} else {
				model.handleDetailKeys(message)
			}
		}

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.updatePaneSizes()
	}

	return model, nil
}

// handleFilterKeys processes keystrokes when the filter input has focus.
func (model Model) handleFilterKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		// ctrl+c always quits, even in filter mode.
		if message.Type == tea.KeyCtrlC {
			return model, tea.Quit
		}
		// 'q' is a regular character in filter mode.
		model.filter.HandleRune('q')
		model.applyFilter()
		return model, nil

	case key.Matches(message, model.keys.FilterClear):
		// Esc: if there's filter text, clear it; if already empty,
		// exit filter mode.
		if model.filter.Input != "" {
			model.filter.Clear()
			model.applyFilter()
		} else {
			model.filter.Active = false
			model.focusRegion = model.priorFocus
		}
		return model, nil

	case message.Type == tea.KeyEnter:
		// Confirm filter and return focus to the list.
		model.filter.Active = false
		model.focusRegion = FocusList
		return model, nil

	case message.Type == tea.KeyBackspace:
		if model.filter.HandleBackspace() {
			model.applyFilter()
		}
		return model, nil

	case message.Type == tea.KeyRunes || message.Type == tea.KeySpace:
		for _, r := range message.Runes {
			model.filter.HandleRune(r)
		}
		model.applyFilter()
		return model, nil
	}

	return model, nil
}

// handleListKeys processes navigation keys when the list has focus.
func (model *Model) handleListKeys(message tea.KeyMsg) {
	previousCursor := model.cursor

	switch {
	case key.Matches(message, model.keys.Up):
		if model.cursor > 0 {
			model.cursor--
		}

	case key.Matches(message, model.keys.Down):
		if model.cursor < len(model.visible)-1 {
			model.cursor++
		}

	case key.Matches(message, model.keys.PageUp):
		model.cursor = clampIndex(model.cursor-model.listHeight(), len(model.visible))

	case key.Matches(message, model.keys.PageDown):
		model.cursor = clampIndex(model.cursor+model.listHeight(), len(model.visible))

	case key.Matches(message, model.keys.Home):
		model.cursor = 0

	case key.Matches(message, model.keys.End):
		if len(model.visible) > 0 {
			model.cursor = len(model.visible) - 1
		}
	}

	model.ensureCursorVisible()
	if model.cursor != previousCursor {
		model.syncDetail()
	}
}

// handleDetailKeys processes navigation keys when the detail pane has
// focus.
func (model *Model) handleDetailKeys(message tea.KeyMsg) {
	switch {
	case key.Matches(message, model.keys.Up):
		model.detail.LineUp()
	case key.Matches(message, model.keys.Down):
		model.detail.LineDown()
	case key.Matches(message, model.keys.PageUp):
		model.detail.HalfPageUp()
	case key.Matches(message, model.keys.PageDown):
		model.detail.HalfPageDown()
	case key.Matches(message, model.keys.Home):
		model.detail.GotoTop()
	case key.Matches(message, model.keys.End):
		model.detail.GotoBottom()
	}
}

// applyFilter re-scores the records against the current filter text
// and snaps the list to the top so the best matches are visible.
func (model *Model) applyFilter() {
	model.visible = model.filter.ApplyFuzzy(model.all)
	model.cursor = 0
	model.scrollOffset = 0
	model.ensureCursorVisible()
	model.syncDetail()
}

// syncDetail points the detail pane at the record under the cursor.
func (model *Model) syncDetail() {
	if len(model.visible) == 0 || model.cursor >= len(model.visible) {
		model.detail.Clear()
		return
	}
	model.detail.SetRecord(model.visible[model.cursor].Record)
}

// detailHeight returns the height of the detail pane: a third of the
// content area, never squeezing the list below a few rows.
func (model Model) detailHeight() int {
	content := model.height - chromeLines
	height := content / 3
	if height < 3 {
		height = 3
	}
	if height > content-3 {
		height = content - 3
	}
	if height < 1 {
		height = 1
	}
	return height
}

// listHeight returns the number of record rows that fit between the
// chrome elements and the detail pane.
func (model Model) listHeight() int {
	height := model.height - chromeLines - model.detailHeight()
	if height < 1 {
		height = 1
	}
	return height
}

// updatePaneSizes propagates the current layout to the detail pane.
func (model *Model) updatePaneSizes() {
	model.detail.SetSize(model.width, model.detailHeight())
}

// ensureCursorVisible adjusts scrollOffset so the cursor stays within
// the visible window.
func (model *Model) ensureCursorVisible() {
	visible := model.listHeight()
	if visible <= 0 {
		return
	}

	maxOffset := len(model.visible) - visible
	if maxOffset < 0 {
		maxOffset = 0
	}
	if model.scrollOffset > maxOffset {
		model.scrollOffset = maxOffset
	}

	if model.cursor < model.scrollOffset {
		model.scrollOffset = model.cursor
	}
	if model.cursor >= model.scrollOffset+visible {
		model.scrollOffset = model.cursor - visible + 1
	}
}

// clampIndex returns position clamped to [0, length).
func clampIndex(position, length int) int {
	if length == 0 {
		return 0
	}
	if position < 0 {
		return 0
	}
	if position >= length {
		return length - 1
	}
	return position
}

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return "Loading..."
	}

	if len(model.all) == 0 {
		return model.renderEmpty()
	}

	var sections []string

	// Top chrome line: either the header or the filter bar. The
	// filter bar replaces the header so the layout doesn't shift.
	filterView := model.filter.View(model.theme, model.width)
	if filterView != "" {
		sections = append(sections, filterView)
	} else {
		sections = append(sections, model.renderHeader())
	}

	sections = append(sections, model.renderList())

	separator := lipgloss.NewStyle().
		Foreground(model.theme.BorderColor).
		Render(strings.Repeat("─", model.width))
	sections = append(sections, separator)

	sections = append(sections, model.detail.View())
	sections = append(sections, separator)
	sections = append(sections, model.renderHelp())

	return strings.Join(sections, "\n")
}

// renderHeader renders the top line: the export source on the left
// and the record count on the right.
func (model Model) renderHeader() string {
	titleStyle := lipgloss.NewStyle().
		Foreground(model.theme.HeaderForeground).
		Bold(true)
	countStyle := lipgloss.NewStyle().
		Foreground(model.theme.FaintText)

	left := titleStyle.Render(" " + model.source)
	count := fmt.Sprintf("%d records", len(model.all))
	if len(model.visible) != len(model.all) {
		count = fmt.Sprintf("%d/%d records", len(model.visible), len(model.all))
	}
	right := countStyle.Render(count + " ")

	gap := model.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return lipgloss.NewStyle().MaxWidth(model.width).Render(left)
	}
	return left + strings.Repeat(" ", gap) + right
}

// renderList renders the visible window of record rows, padded to the
// full list height so the layout stays stable.
func (model Model) renderList() string {
	renderer := newListRenderer(model.theme, model.width)
	visible := model.listHeight()

	var rows []string
	for index := model.scrollOffset; index < model.scrollOffset+visible && index < len(model.visible); index++ {
		rows = append(rows, renderer.renderRow(model.visible[index], index == model.cursor))
	}

	emptyStyle := lipgloss.NewStyle().Width(model.width)
	for len(rows) < visible {
		rows = append(rows, emptyStyle.Render(""))
	}

	return strings.Join(rows, "\n")
}

// renderHelp renders the bottom help bar with the cursor position on
// the right.
func (model Model) renderHelp() string {
	helpStyle := lipgloss.NewStyle().Foreground(model.theme.HelpText)

	left := helpStyle.Render(" j/k move  C-u/C-d page  / filter  tab detail  q quit")
	position := ""
	if len(model.visible) > 0 {
		position = fmt.Sprintf("%d/%d ", model.cursor+1, len(model.visible))
	}
	right := helpStyle.Render(position)

	gap := model.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + right
}

// renderEmpty renders the empty state for an export with no records.
func (model Model) renderEmpty() string {
	messageStyle := lipgloss.NewStyle().
		Foreground(model.theme.FaintText)

	return lipgloss.Place(
		model.width, model.height,
		lipgloss.Center, lipgloss.Center,
		messageStyle.Render("No records."),
	)
}
