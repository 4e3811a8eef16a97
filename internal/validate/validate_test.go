package validate

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func validInput() MarketInput {
	return MarketInput{
		Title:       "Who wins the cup final?",
		Category:    "sports",
		Description: "Final at the weekend.",
		ClosesAt:    testNow.Add(48 * time.Hour),
		OptionNames: []string{"Home", "Away", "Draw"},
	}
}

func TestMarket_Valid(t *testing.T) {
	in, err := Market(validInput(), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(in.OptionNames) != 3 {
		t.Errorf("expected 3 option names, got %d", len(in.OptionNames))
	}
}

func TestMarket_NormalizesCategory(t *testing.T) {
	input := validInput()
	input.Category = "  Sports "
	in, err := Market(input, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Category != CategorySports {
		t.Errorf("expected normalized category %q, got %q", CategorySports, in.Category)
	}
}

func TestMarket_EmptyTitle(t *testing.T) {
	input := validInput()
	input.Title = "   "
	if _, err := Market(input, testNow); !errors.Is(err, ErrInvalidTitle) {
		t.Errorf("expected ErrInvalidTitle, got %v", err)
	}
}

func TestMarket_UnknownCategory(t *testing.T) {
	input := validInput()
	input.Category = "astrology"
	if _, err := Market(input, testNow); !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestMarket_CloseTimeInPast(t *testing.T) {
	input := validInput()
	input.ClosesAt = testNow.Add(-time.Hour)
	if _, err := Market(input, testNow); !errors.Is(err, ErrInvalidCloseTime) {
		t.Errorf("expected ErrInvalidCloseTime, got %v", err)
	}
}

func TestMarket_CloseTimeExactlyNow(t *testing.T) {
	input := validInput()
	input.ClosesAt = testNow
	if _, err := Market(input, testNow); !errors.Is(err, ErrInvalidCloseTime) {
		t.Errorf("expected ErrInvalidCloseTime for closesAt == now, got %v", err)
	}
}

func TestOptionNames_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		names []string
	}{
		{"none", nil},
		{"single option", []string{"Yes"}},
		{"duplicate", []string{"Yes", "No", "yes"}},
		{"blank entry", []string{"Yes", "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := OptionNames(tt.names); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}

func TestOptionNames_TrimsWhitespace(t *testing.T) {
	names, err := OptionNames([]string{" Yes ", "No"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names[0] != "Yes" {
		t.Errorf("expected trimmed name %q, got %q", "Yes", names[0])
	}
}

func TestCategories_Closed(t *testing.T) {
	for _, c := range Categories() {
		input := validInput()
		input.Category = c
		if _, err := Market(input, testNow); err != nil {
			t.Errorf("category %q should be accepted: %v", c, err)
		}
	}
}
