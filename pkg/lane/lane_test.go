// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package lane

import (
	"reflect"
	"testing"
)

func TestParseIndex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		index int
		ok    bool
	}{
		{"simple", "lane0", 0, true},
		{"multi digit", "lane42", 42, true},
		{"leading zero", "lane007", 7, true},
		{"empty suffix", "lane", 0, false},
		{"non-digit suffix", "lanes", 0, false},
		{"trailing garbage", "lane1x", 0, false},
		{"embedded space", "lane 1", 0, false},
		{"wrong prefix", "gate3", 0, false},
		{"empty string", "", 0, false},
		{"negative not allowed", "lane-1", 0, false},
		{"prefix only uppercase", "LANE1", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, ok := ParseIndex(tt.input)
			if ok != tt.ok || index != tt.index {
				t.Errorf("ParseIndex(%q) = (%d, %v), want (%d, %v)",
					tt.input, index, ok, tt.index, tt.ok)
			}
		})
	}
}

func TestSortAndDedupe(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "numeric before lexicographic",
			input: []string{"lane10", "lane2", "lanes", "lane1"},
			want:  []string{"lane1", "lane2", "lane10", "lanes"},
		},
		{
			name:  "duplicates collapse",
			input: []string{"lane1", "lane0", "lane1", "lane0", "lane1"},
			want:  []string{"lane0", "lane1"},
		},
		{
			name:  "all unindexed",
			input: []string{"bypass", "aux", "bypass"},
			want:  []string{"aux", "bypass"},
		},
		{
			name:  "empty input",
			input: nil,
			want:  []string{},
		},
		{
			name:  "mixed with malformed",
			input: []string{"lane3", "lane", "lane1x", "lane0"},
			want:  []string{"lane0", "lane3", "lane", "lane1x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SortAndDedupe(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SortAndDedupe(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSortAndDedupeIdempotent(t *testing.T) {
	input := []string{"lane5", "lane5", "aux", "lane02", "lane2", "lane10"}
	once := SortAndDedupe(input)
	twice := SortAndDedupe(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second pass changed result: %v != %v", once, twice)
	}
}

func TestSortAndDedupeDoesNotMutateInput(t *testing.T) {
	input := []string{"lane2", "lane1"}
	SortAndDedupe(input)
	if input[0] != "lane2" || input[1] != "lane1" {
		t.Errorf("input mutated: %v", input)
	}
}
