// Package config defines the data structures related to configuration and
// includes functions for loading and validating the config.
package config

import (
	"bytes"
	"fmt"

	"github.com/iwvelando/implied-vol/pkg/bsm"
	"github.com/iwvelando/implied-vol/pkg/constants"
	"github.com/iwvelando/implied-vol/pkg/validation"
	"github.com/spf13/viper"
)

// Configuration holds all configuration for implied-vol.
type Configuration struct {
	Common  Common        `yaml:"common"`
	Quotes  []Quote       `yaml:"quotes"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Output  OutputConfig  `yaml:"output,omitempty"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string `yaml:"format,omitempty"`     // json, console
	OutputFile string `yaml:"outputFile,omitempty"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `yaml:"format,omitempty"` // pretty, csv
}

// Common holds the parameters shared by every quote.
type Common struct {
	RiskFreeRate float64      `yaml:"riskFreeRate"`
	Solver       SolverConfig `yaml:"solver,omitempty"`
}

// SolverConfig tunes the implied volatility solver. Zero values select
// defaults.
type SolverConfig struct {
	MaxIterations   int     `yaml:"maxIterations,omitempty"`
	Tolerance       float64 `yaml:"tolerance,omitempty"`
	VegaEpsilon     float64 `yaml:"vegaEpsilon,omitempty"`
	InitialEstimate float64 `yaml:"initialEstimate,omitempty"`
}

// Quote is one option to value. Setting MarketPrice requests an implied
// volatility; otherwise Volatility is used to price the option.
type Quote struct {
	Name            string   `yaml:"name"`
	Spot            float64  `yaml:"spot"`
	Strike          float64  `yaml:"strike"`
	Expiry          float64  `yaml:"expiry"` // years
	Rate            *float64 `yaml:"rate,omitempty"`
	Volatility      float64  `yaml:"volatility,omitempty"`
	MarketPrice     float64  `yaml:"marketPrice,omitempty"`
	InitialEstimate float64  `yaml:"initialEstimate,omitempty"`
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()

	v.SetConfigType("yml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %s", err)
	}

	return decode(v)
}

// LoadConfigurationFromBytes parses a YAML configuration held in memory.
func LoadConfigurationFromBytes(data []byte) (*Configuration, error) {
	v := viper.New()
	v.SetConfigType("yml")

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("error reading config data, %s", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Configuration, error) {
	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}

	s := configuration.Common.Solver
	if err := validation.ValidateSolverSettings(s.MaxIterations, s.Tolerance, s.VegaEpsilon, s.InitialEstimate); err != nil {
		return nil, err
	}

	configuration.ApplyDefaults()
	return &configuration, nil
}

// ApplyDefaults fills unset solver settings.
func (c *Configuration) ApplyDefaults() {
	if c.Common.Solver.MaxIterations == 0 {
		c.Common.Solver.MaxIterations = constants.DefaultMaxIterations
	}
	if c.Common.Solver.Tolerance == 0 {
		c.Common.Solver.Tolerance = constants.DefaultTolerance
	}
	if c.Common.Solver.VegaEpsilon == 0 {
		c.Common.Solver.VegaEpsilon = constants.DefaultVegaEpsilon
	}
	if c.Common.Solver.InitialEstimate == 0 {
		c.Common.Solver.InitialEstimate = constants.DefaultInitialEstimate
	}
}

// SolverSettings converts the solver configuration for pkg/bsm.
func (s SolverConfig) SolverSettings() bsm.SolverSettings {
	return bsm.SolverSettings{
		MaxIterations: s.MaxIterations,
		Tolerance:     s.Tolerance,
		VegaEpsilon:   s.VegaEpsilon,
	}
}

// Mode reports whether the quote is priced or inverted.
func (q Quote) Mode() string {
	if q.MarketPrice != 0 {
		return constants.ModeImpliedVolatility
	}
	return constants.ModePrice
}

// EffectiveRate returns the quote's rate, falling back to the common rate.
func (q Quote) EffectiveRate(common Common) float64 {
	if q.Rate != nil {
		return *q.Rate
	}
	return common.RiskFreeRate
}

// Seed returns the starting volatility for an implied volatility solve:
// the quote's initial estimate, then its volatility, then the common
// estimate.
func (q Quote) Seed(common Common) float64 {
	if q.InitialEstimate != 0 {
		return q.InitialEstimate
	}
	if q.Volatility != 0 {
		return q.Volatility
	}
	if common.Solver.InitialEstimate != 0 {
		return common.Solver.InitialEstimate
	}
	return constants.DefaultInitialEstimate
}

// Params builds the model inputs for the quote. For implied volatility
// quotes the volatility is the solver seed.
func (q Quote) Params(common Common) bsm.Params {
	sigma := q.Volatility
	if q.Mode() == constants.ModeImpliedVolatility {
		sigma = q.Seed(common)
	}
	return bsm.Params{
		Spot:       q.Spot,
		Strike:     q.Strike,
		Expiry:     q.Expiry,
		Rate:       q.EffectiveRate(common),
		Volatility: sigma,
	}
}

// ValidateConfiguration performs general validation of the configuration and returns warnings
func (c *Configuration) ValidateConfiguration() []string {
	var quotes []validation.QuoteConfig
	for _, quote := range c.Quotes {
		quotes = append(quotes, validation.QuoteConfig{
			Name:        quote.Name,
			Spot:        quote.Spot,
			Strike:      quote.Strike,
			Expiry:      quote.Expiry,
			Volatility:  quote.Volatility,
			MarketPrice: quote.MarketPrice,
		})
	}

	validator := validation.ConfigValidator{Quotes: quotes}
	return validator.ValidateAll()
}
