package ai

import "testing"

func TestDecodePreferences(t *testing.T) {
	prefs, err := DecodePreferences(map[string]any{
		"weights": map[string]any{
			"skills":     0.6,
			"experience": "0.3",
		},
		"locations":  []any{"Berlin", "Remote"},
		"min_salary": "5000",
		"unknown":    true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if prefs.Weights.Skills != 0.6 || prefs.Weights.Experience != 0.3 {
		t.Fatalf("unexpected weights: %+v", prefs.Weights)
	}
	if len(prefs.Locations) != 2 || prefs.Locations[1] != "Remote" {
		t.Fatalf("unexpected locations: %v", prefs.Locations)
	}
	if prefs.MinSalary != 5000 {
		t.Fatalf("expected weakly typed salary, got %d", prefs.MinSalary)
	}
}

func TestDecodePreferencesEmpty(t *testing.T) {
	prefs, err := DecodePreferences(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prefs.Weights != (Weights{}) {
		t.Fatalf("expected zero weights, got %+v", prefs.Weights)
	}
}

func TestDecodePreferencesRejectsBadType(t *testing.T) {
	if _, err := DecodePreferences(map[string]any{"weights": "heavy"}); err == nil {
		t.Fatal("expected error for non-map weights")
	}
}
