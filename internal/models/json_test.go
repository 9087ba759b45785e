package models

import (
	"testing"
)

func TestMergeStats(t *testing.T) {
	tests := []struct {
		name     string
		existing JSONMap
		incoming JSONMap
		expected JSONMap
	}{
		{
			name:     "second save keeps fields from first",
			existing: JSONMap{"views": float64(10)},
			incoming: JSONMap{"likes": float64(5)},
			expected: JSONMap{"views": float64(10), "likes": float64(5)},
		},
		{
			name:     "incoming value wins on conflict",
			existing: JSONMap{"views": float64(10), "likes": float64(3)},
			incoming: JSONMap{"views": float64(12)},
			expected: JSONMap{"views": float64(12), "likes": float64(3)},
		},
		{
			name:     "nil existing",
			existing: nil,
			incoming: JSONMap{"reach": float64(7)},
			expected: JSONMap{"reach": float64(7)},
		},
		{
			name:     "empty incoming is a no-op",
			existing: JSONMap{"saved": float64(2)},
			incoming: JSONMap{},
			expected: JSONMap{"saved": float64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeStats(tt.existing, tt.incoming)
			if len(got) != len(tt.expected) {
				t.Fatalf("merged map has %d keys, want %d", len(got), len(tt.expected))
			}
			for k, want := range tt.expected {
				if got[k] != want {
					t.Errorf("merged[%q] = %v, want %v", k, got[k], want)
				}
			}
		})
	}
}

func TestMergeStatsDoesNotMutateInputs(t *testing.T) {
	existing := JSONMap{"views": float64(10)}
	incoming := JSONMap{"views": float64(20)}

	MergeStats(existing, incoming)

	if existing["views"] != float64(10) {
		t.Errorf("existing map was mutated: %v", existing["views"])
	}
}

func TestNumberAt(t *testing.T) {
	m := JSONMap{
		"views":     float64(42),
		"breakdown": map[string]interface{}{"city": 1},
	}

	if v, ok := NumberAt(m, "views"); !ok || v != 42 {
		t.Errorf("NumberAt(views) = %v, %v; want 42, true", v, ok)
	}
	if _, ok := NumberAt(m, "missing"); ok {
		t.Error("NumberAt(missing) should report not found")
	}
	if _, ok := NumberAt(m, "breakdown"); ok {
		t.Error("NumberAt(breakdown) should report non-numeric")
	}
}
