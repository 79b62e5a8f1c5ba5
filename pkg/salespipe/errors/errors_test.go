package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"source error", &SourceError{Source: "exports/day1.csv", Err: errors.New("locked")}, CategoryTransient},
		{"schema error", &SchemaError{Column: "price"}, CategoryPermanent},
		{"validation error", &ValidationError{Field: "quantity", Message: "not a number"}, CategoryPermanent},
		{"categorized transient", &CategorizedError{Err: errors.New("x"), Category: CategoryTransient}, CategoryTransient},
		{"categorized permanent", &CategorizedError{Err: errors.New("x"), Category: CategoryPermanent}, CategoryPermanent},
		{"wrapped source error", fmt.Errorf("open: %w", &SourceError{Source: "s", Err: errors.New("eof")}), CategoryTransient},
		{"unknown error", errors.New("unknown"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Transient(errors.New("flaky"), "read source")) {
		t.Error("transient error should be retryable")
	}
	if IsRetryable(Permanent(errors.New("bad config"), "parse mapping")) {
		t.Error("permanent error should not be retryable")
	}
}

func TestCategorizedErrorUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := Transient(inner, "save batch")

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
}

func TestSourceErrorUnwrap(t *testing.T) {
	inner := errors.New("permission denied")
	err := &SourceError{Source: "exports/day1.csv", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}
}
