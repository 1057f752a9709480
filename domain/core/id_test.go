package core

import (
	"errors"
	"fmt"
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

// TestIDIsEmpty tests ID emptiness check
func TestIDIsEmpty(t *testing.T) {
	if !ID("").IsEmpty() {
		t.Error("Expected empty ID to be empty")
	}
	if ID("not-empty").IsEmpty() {
		t.Error("Expected non-empty ID to not be empty")
	}
}

// TestParseAnalysisID tests analysis ID parsing
func TestParseAnalysisID(t *testing.T) {
	valid := NewAnalysisID()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"generated id", valid.String(), false},
		{"padded id", "  " + valid.String() + " ", false},
		{"empty", "", true},
		{"whitespace", "   ", true},
		{"not a uuid", "analysis-1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseAnalysisID(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q, got id %s", tt.input, id)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if id != valid {
				t.Errorf("Expected %s, got %s", valid, id)
			}
		})
	}
}

// TestErrorClassification tests the sentinel helpers survive wrapping
func TestErrorClassification(t *testing.T) {
	validation := fmt.Errorf("run: %w", NewValidationError("observations", "need at least 3"))
	if !IsValidationError(validation) {
		t.Error("Expected wrapped validation error to be classified")
	}
	if IsDataQualityError(validation) {
		t.Error("Validation error must not be a data quality error")
	}

	for _, err := range []error{
		NewDegenerateGeometryError("1 distinct coordinate"),
		fmt.Errorf("global: %w", ErrNoNeighbors),
		NewInsufficientPermutationsError(10, 199),
	} {
		if !IsDataQualityError(err) {
			t.Errorf("Expected %v to be a data quality error", err)
		}
	}

	if !errors.Is(NewInsufficientPermutationsError(1, 4), ErrInsufficientPermutations) {
		t.Error("Expected errors.Is to match ErrInsufficientPermutations")
	}
}
