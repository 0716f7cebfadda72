// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordui

import (
	"sort"
	"unicode"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

func init() {
	// The fzf scoring tables are built by Init; the algorithm assumes
	// it has run once before any match call.
	algo.Init("default")
}

// FuzzyResult is a single fuzzy match: a relevance score and the rune
// positions in the text that matched. A zero Score means no match.
type FuzzyResult struct {
	Score     int
	Positions []int
}

// fuzzyMatch scores text against a pattern using fzf's V2 algorithm.
// Matching is case-insensitive; the returned positions index runes in
// the original text, sorted ascending. The slab is optional scratch
// space reused across calls; nil allocates per call.
func fuzzyMatch(text string, pattern []rune, slab *util.Slab) FuzzyResult {
	if len(pattern) == 0 {
		return FuzzyResult{}
	}

	// fzf's case-insensitive mode expects the pattern pre-lowercased.
	lowered := make([]rune, len(pattern))
	for index, r := range pattern {
		lowered[index] = unicode.ToLower(r)
	}

	chars := util.ToChars([]byte(text))
	result, positions := algo.FuzzyMatchV2(false, false, true, &chars, lowered, true, slab)
	if result.Score <= 0 || result.Start < 0 {
		return FuzzyResult{}
	}

	var matched []int
	if positions != nil && len(*positions) > 0 {
		matched = *positions
		sort.Ints(matched)
	}
	return FuzzyResult{Score: result.Score, Positions: matched}
}
