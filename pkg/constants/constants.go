// Package constants provides shared constants for the implied-vol application.
package constants

// Solver defaults
const (
	// DefaultMaxIterations is the Newton-Raphson iteration budget
	DefaultMaxIterations = 100

	// DefaultTolerance is the absolute price error at which the solver stops
	DefaultTolerance = 1e-6

	// DefaultVegaEpsilon is the smallest vega the solver will divide by
	DefaultVegaEpsilon = 1e-8

	// DefaultInitialEstimate is the seed volatility when none is configured
	DefaultInitialEstimate = 0.2

	// MaxVolatility is the upper end of the solver's volatility bracket
	MaxVolatility = 100.0
)

// Display constants
const (
	// PriceDecimals is the number of decimals shown for prices and vega
	PriceDecimals = 4

	// VolatilityDecimals is the number of decimals shown for volatilities
	VolatilityDecimals = 6
)

// Quote modes
const (
	// ModePrice values a quote from a known volatility
	ModePrice = "price"

	// ModeImpliedVolatility inverts a quote from an observed market price
	ModeImpliedVolatility = "implied-volatility"
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// ExampleConfigFile is the example configuration file name
	ExampleConfigFile = "config.yaml.example"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the API
	DefaultServerAddress = ":8080"

	// DefaultMaxBodySizeBytes is the default maximum request body size (256 KB)
	DefaultMaxBodySizeBytes int64 = 256 * 1024

	// DefaultBatchConcurrency bounds how many quotes are evaluated at once
	DefaultBatchConcurrency = 8
)
