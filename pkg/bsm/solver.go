package bsm

import (
	"fmt"
	"math"

	"github.com/iwvelando/implied-vol/pkg/constants"
	"github.com/iwvelando/implied-vol/pkg/mathutil"
	"go.uber.org/zap"
)

// SolverSettings bounds the Newton-Raphson iteration.
type SolverSettings struct {
	MaxIterations int     // iteration budget, default 100
	Tolerance     float64 // absolute price error accepted as converged
	VegaEpsilon   float64 // smallest vega divided by
}

// DefaultSolverSettings returns the settings used when none are configured.
func DefaultSolverSettings() SolverSettings {
	return SolverSettings{
		MaxIterations: constants.DefaultMaxIterations,
		Tolerance:     constants.DefaultTolerance,
		VegaEpsilon:   constants.DefaultVegaEpsilon,
	}
}

// normalize replaces zero values with defaults and rejects the rest of the
// invalid settings.
func (s SolverSettings) normalize() (SolverSettings, error) {
	defaults := DefaultSolverSettings()
	if s.MaxIterations == 0 {
		s.MaxIterations = defaults.MaxIterations
	}
	if s.Tolerance == 0 {
		s.Tolerance = defaults.Tolerance
	}
	if s.VegaEpsilon == 0 {
		s.VegaEpsilon = defaults.VegaEpsilon
	}
	if s.MaxIterations < 0 {
		return s, invalidParameter("max iterations must be positive, got %d", s.MaxIterations)
	}
	if !mathutil.IsPositive(s.Tolerance) {
		return s, invalidParameter("tolerance must be positive and finite, got %v", s.Tolerance)
	}
	if !mathutil.IsPositive(s.VegaEpsilon) {
		return s, invalidParameter("vega epsilon must be positive and finite, got %v", s.VegaEpsilon)
	}
	return s, nil
}

// Result is a converged implied volatility.
type Result struct {
	Volatility float64
	Iterations int     // Newton steps taken
	PriceError float64 // model price minus market price at Volatility
}

// Solver inverts Price for the volatility by Newton-Raphson iteration.
type Solver struct {
	logger   *zap.Logger
	settings SolverSettings
}

// NewSolver validates settings and returns a Solver. A nil logger disables
// iteration logging.
func NewSolver(logger *zap.Logger, settings SolverSettings) (*Solver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized, err := settings.normalize()
	if err != nil {
		return nil, err
	}
	return &Solver{logger: logger, settings: normalized}, nil
}

// Settings returns the effective settings after defaults were applied.
func (s *Solver) Settings() SolverSettings {
	return s.settings
}

// Solve finds sigma such that Price(sigma) reproduces marketPrice, starting
// from p.Volatility. The market price must lie within CallBounds.
//
// Newton steps are kept inside a bracket [lo, hi] that starts at
// (0, constants.MaxVolatility] and narrows on the sign of each price error.
// A step that leaves the bracket, or a vega below VegaEpsilon, bisects it
// instead. ErrDegenerateVega is returned only when vega is below VegaEpsilon
// and the bracket does not contain the root.
//
// The call price saturates at the spot, so a marketPrice equal to p.Spot
// resolves to whichever large volatility first reprices within Tolerance.
func (s *Solver) Solve(p Params, marketPrice float64) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, fmt.Errorf("initial estimate: %w", err)
	}
	lower, upper, err := p.CallBounds()
	if err != nil {
		return Result{}, err
	}
	if !mathutil.IsPositive(marketPrice) {
		return Result{}, invalidParameter("market price must be positive and finite, got %v", marketPrice)
	}
	if marketPrice < lower || marketPrice > upper {
		return Result{}, invalidParameter("market price %v outside no-arbitrage bounds [%v, %v]", marketPrice, lower, upper)
	}

	lo, hi := 0.0, constants.MaxVolatility
	bracketed := p.bracketsRoot(hi, marketPrice)

	sigma := p.Volatility
	for i := 0; ; i++ {
		current := p.WithVolatility(sigma)
		d1, d2, ok := current.d1d2()
		if !ok {
			return Result{}, &SolverError{Kind: ErrDegenerateVega, Volatility: sigma, Iterations: i}
		}
		diff := current.price(d1, d2) - marketPrice
		vega := current.vega(d1)

		s.logger.Debug("newton step",
			zap.String("op", "bsm.Solve"),
			zap.Int("iteration", i),
			zap.Float64("sigma", sigma),
			zap.Float64("priceError", diff),
			zap.Float64("vega", vega),
			zap.Float64("lo", lo),
			zap.Float64("hi", hi),
		)

		if math.Abs(diff) < s.settings.Tolerance {
			return Result{Volatility: sigma, Iterations: i, PriceError: diff}, nil
		}
		if i == s.settings.MaxIterations {
			return Result{}, &SolverError{Kind: ErrNonConvergence, Volatility: sigma, Iterations: i, PriceError: diff, Vega: vega}
		}

		// Price is increasing in sigma.
		if diff < 0 {
			lo = math.Max(lo, sigma)
		} else {
			hi = math.Min(hi, sigma)
			bracketed = true
		}

		if math.Abs(vega) < s.settings.VegaEpsilon {
			if !bracketed {
				return Result{}, &SolverError{Kind: ErrDegenerateVega, Volatility: sigma, Iterations: i, PriceError: diff, Vega: vega}
			}
			sigma = (lo + hi) / 2
			continue
		}

		next := sigma - diff/vega
		if !mathutil.IsFinite(next) || next <= lo || next >= hi {
			next = (lo + hi) / 2
		}
		sigma = next
	}
}

// bracketsRoot reports whether pricing at sigma reaches marketPrice.
func (p Params) bracketsRoot(sigma, marketPrice float64) bool {
	at := p.WithVolatility(sigma)
	d1, d2, ok := at.d1d2()
	if !ok {
		return false
	}
	return at.price(d1, d2) >= marketPrice
}

// ImpliedVolatility is the flat-argument form of Solver.Solve. A zero
// maxIterations or tolerance selects the default.
func ImpliedVolatility(spot, strike, expiry, rate, marketPrice, sigmaEstimate float64, maxIterations int, tolerance float64) (float64, error) {
	solver, err := NewSolver(nil, SolverSettings{MaxIterations: maxIterations, Tolerance: tolerance})
	if err != nil {
		return 0, err
	}
	p := Params{Spot: spot, Strike: strike, Expiry: expiry, Rate: rate, Volatility: sigmaEstimate}
	result, err := solver.Solve(p, marketPrice)
	if err != nil {
		return 0, err
	}
	return result.Volatility, nil
}
