// Package validation provides configuration validation utilities.
package validation

import (
	"fmt"

	"github.com/iwvelando/implied-vol/pkg/mathutil"
)

// QuoteConfig carries the fields of a quote that validation inspects.
type QuoteConfig struct {
	Name        string
	Spot        float64
	Strike      float64
	Expiry      float64
	Volatility  float64
	MarketPrice float64
}

// ValidateQuote returns warnings for a quote that will fail or behave
// unexpectedly when evaluated.
func ValidateQuote(quote QuoteConfig) []string {
	var warnings []string

	label := quote.Name
	if label == "" {
		label = "<unnamed>"
	}

	if quote.Volatility != 0 && quote.MarketPrice != 0 {
		warnings = append(warnings, fmt.Sprintf("Quote '%s' sets both volatility and marketPrice - volatility is used only as the initial estimate", label))
	}
	if quote.Volatility == 0 && quote.MarketPrice == 0 {
		warnings = append(warnings, fmt.Sprintf("Quote '%s' sets neither volatility nor marketPrice - it cannot be evaluated", label))
	}
	if !mathutil.IsPositive(quote.Spot) {
		warnings = append(warnings, fmt.Sprintf("Quote '%s' has non-positive spot %v", label, quote.Spot))
	}
	if !mathutil.IsPositive(quote.Strike) {
		warnings = append(warnings, fmt.Sprintf("Quote '%s' has non-positive strike %v", label, quote.Strike))
	}
	if !mathutil.IsPositive(quote.Expiry) {
		warnings = append(warnings, fmt.Sprintf("Quote '%s' has non-positive expiry %v", label, quote.Expiry))
	}
	if quote.MarketPrice != 0 && quote.Spot > 0 && quote.MarketPrice > quote.Spot {
		warnings = append(warnings, fmt.Sprintf("Quote '%s' market price %v exceeds spot %v", label, quote.MarketPrice, quote.Spot))
	}

	return warnings
}

// ConfigValidator validates a full set of quotes.
type ConfigValidator struct {
	Quotes []QuoteConfig
}

// ValidateAll validates every quote and returns warnings
func (cv *ConfigValidator) ValidateAll() []string {
	var warnings []string

	if len(cv.Quotes) == 0 {
		warnings = append(warnings, "No quotes configured")
	}

	seen := make(map[string]bool)
	for _, quote := range cv.Quotes {
		if quote.Name == "" {
			warnings = append(warnings, "Quote without a name")
		} else if seen[quote.Name] {
			warnings = append(warnings, fmt.Sprintf("Duplicate quote name '%s'", quote.Name))
		}
		seen[quote.Name] = true

		warnings = append(warnings, ValidateQuote(quote)...)
	}

	return warnings
}

// ValidateSolverSettings reports settings that cannot configure a solver.
// Zero values are allowed and select defaults.
func ValidateSolverSettings(maxIterations int, tolerance, vegaEpsilon, initialEstimate float64) error {
	if maxIterations < 0 {
		return fmt.Errorf("solver maxIterations must not be negative, got %d", maxIterations)
	}
	if tolerance < 0 || !mathutil.IsFinite(tolerance) {
		return fmt.Errorf("solver tolerance must be a non-negative number, got %v", tolerance)
	}
	if vegaEpsilon < 0 || !mathutil.IsFinite(vegaEpsilon) {
		return fmt.Errorf("solver vegaEpsilon must be a non-negative number, got %v", vegaEpsilon)
	}
	if initialEstimate < 0 || !mathutil.IsFinite(initialEstimate) {
		return fmt.Errorf("solver initialEstimate must be a non-negative number, got %v", initialEstimate)
	}
	return nil
}
