// Package validate checks market creation input at the boundary: closed
// category enumeration, title/description limits, close time, and option
// name rules. Malformed input is rejected before it reaches the engine.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported market categories.
const (
	CategorySports        = "sports"
	CategoryPolitics      = "politics"
	CategoryEntertainment = "entertainment"
	CategoryCrypto        = "crypto"
	CategoryWeather       = "weather"
	CategoryOther         = "other"
)

var validCategories = map[string]bool{
	CategorySports:        true,
	CategoryPolitics:      true,
	CategoryEntertainment: true,
	CategoryCrypto:        true,
	CategoryWeather:       true,
	CategoryOther:         true,
}

// Input limits.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 2000
	MaxOptionNameLen  = 100
	MinOptions        = 2
	MaxOptions        = 20
)

var (
	ErrInvalidTitle     = errors.New("validate: title must be non-empty and at most 200 characters")
	ErrInvalidCategory  = errors.New("validate: unknown category")
	ErrInvalidCloseTime = errors.New("validate: close time must be in the future")
	ErrInvalidOptions   = errors.New("validate: between 2 and 20 distinct non-empty option names required")
	ErrDescriptionLen   = errors.New("validate: description exceeds 2000 characters")
)

// MarketInput is the validated shape of a market creation request.
type MarketInput struct {
	Title       string
	Category    string
	Description string
	ImageRef    string
	ClosesAt    time.Time
	OptionNames []string
}

// Market validates the input against the given clock instant. Option names
// are trimmed; the normalized input is returned on success.
func Market(in MarketInput, now time.Time) (MarketInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || len(in.Title) > MaxTitleLen {
		return in, ErrInvalidTitle
	}

	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if !validCategories[in.Category] {
		return in, fmt.Errorf("%w: %q", ErrInvalidCategory, in.Category)
	}

	if len(in.Description) > MaxDescriptionLen {
		return in, ErrDescriptionLen
	}

	if !in.ClosesAt.After(now) {
		return in, ErrInvalidCloseTime
	}

	names, err := OptionNames(in.OptionNames)
	if err != nil {
		return in, err
	}
	in.OptionNames = names

	return in, nil
}

// OptionNames validates and normalizes a list of option names: trimmed,
// non-empty, distinct (case-insensitive), within count and length limits.
func OptionNames(names []string) ([]string, error) {
	if len(names) < MinOptions || len(names) > MaxOptions {
		return nil, fmt.Errorf("%w: got %d names", ErrInvalidOptions, len(names))
	}

	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || len(name) > MaxOptionNameLen {
			return nil, fmt.Errorf("%w: invalid name %q", ErrInvalidOptions, name)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidOptions, name)
		}
		seen[key] = true
		out = append(out, name)
	}
	return out, nil
}

// Categories returns the closed set of accepted category values.
func Categories() []string {
	return []string{
		CategorySports,
		CategoryPolitics,
		CategoryEntertainment,
		CategoryCrypto,
		CategoryWeather,
		CategoryOther,
	}
}
