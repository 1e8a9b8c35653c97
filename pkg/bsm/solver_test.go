package bsm

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/iwvelando/implied-vol/pkg/constants"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/floats/scalar"
)

func TestImpliedVolatilityReferenceCase(t *testing.T) {
	solver, err := NewSolver(zap.NewNop(), SolverSettings{Tolerance: 1e-6})
	if err != nil {
		t.Fatalf("NewSolver returned error: %v", err)
	}

	p := Params{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Volatility: 0.1}
	result, err := solver.Solve(p, 10.4506)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if !scalar.EqualWithinAbs(result.Volatility, 0.2, 1e-4) {
		t.Errorf("Volatility = %v, expected ~0.2", result.Volatility)
	}
	if result.Iterations > 10 {
		t.Errorf("Iterations = %d, expected at most 10", result.Iterations)
	}
	if math.Abs(result.PriceError) >= 1e-6 {
		t.Errorf("PriceError = %v, expected below tolerance", result.PriceError)
	}
}

func TestImpliedVolatilityRoundTrip(t *testing.T) {
	const tolerance = 1e-6

	tests := []struct {
		name   string
		strike float64
		expiry float64
	}{
		{"Deep in the money short expiry", 50, 0.02},
		{"Deep in the money", 50, 1},
		{"Deep in the money long expiry", 50, 5},
		{"At the money short expiry", 100, 0.02},
		{"At the money quarter", 100, 0.25},
		{"At the money", 100, 1},
		{"At the money long expiry", 100, 5},
		{"Out of the money short expiry", 150, 0.02},
		{"Out of the money quarter", 150, 0.25},
		{"Out of the money", 150, 1},
		{"Out of the money long expiry", 150, 5},
		{"Deep out of the money quarter", 200, 0.25},
		{"Deep out of the money", 200, 1},
		{"Deep out of the money long expiry", 200, 5},
	}
	sigmas := []float64{0.05, 0.1, 0.2, 0.5, 0.7, 1.0, 1.2, 1.5, 2.0}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lower, _, err := CallBounds(100, tt.strike, tt.expiry, 0.05)
			if err != nil {
				t.Fatalf("CallBounds returned error: %v", err)
			}

			for _, sigma := range sigmas {
				price, err := Price(100, tt.strike, tt.expiry, 0.05, sigma)
				if err != nil {
					t.Fatalf("Price returned error: %v", err)
				}
				vega, err := Vega(100, tt.strike, tt.expiry, 0.05, sigma)
				if err != nil {
					t.Fatalf("Vega returned error: %v", err)
				}
				// No volatility information survives at this price precision.
				if price-lower < tolerance || vega < 1e-2 {
					continue
				}

				got, err := ImpliedVolatility(100, tt.strike, tt.expiry, 0.05, price, 0.2, 100, tolerance)
				if err != nil {
					t.Fatalf("ImpliedVolatility(sigma=%v) returned error: %v", sigma, err)
				}
				repriced, err := Price(100, tt.strike, tt.expiry, 0.05, got)
				if err != nil {
					t.Fatalf("Price at recovered volatility returned error: %v", err)
				}
				if math.Abs(repriced-price) >= tolerance {
					t.Errorf("sigma=%v: repriced %v, expected %v", sigma, repriced, price)
				}
				if !scalar.EqualWithinAbs(got, sigma, math.Max(tolerance, 10*tolerance/vega)) {
					t.Errorf("ImpliedVolatility recovered %v, expected %v", got, sigma)
				}
			}
		})
	}
}

func TestImpliedVolatilityRecoversFromOvershoot(t *testing.T) {
	tests := []struct {
		name   string
		strike float64
		expiry float64
		sigma  float64
	}{
		{"Out of the money quarter", 150, 0.25, 0.7},
		{"Deep in the money", 50, 1, 0.7},
		{"Deep out of the money", 200, 1, 1.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Params{Spot: 100, Strike: tt.strike, Expiry: tt.expiry, Rate: 0.05, Volatility: 0.2}

			// The plain Newton step from the seed lands far above the target.
			d1, d2, ok := p.d1d2()
			if !ok {
				t.Fatal("d1d2 failed at the seed")
			}
			price, err := p.WithVolatility(tt.sigma).Price()
			if err != nil {
				t.Fatalf("Price returned error: %v", err)
			}
			if step := p.Volatility - (p.price(d1, d2)-price)/p.vega(d1); step < 10*tt.sigma {
				t.Fatalf("expected the first Newton step to overshoot, got %v", step)
			}

			solver, err := NewSolver(nil, DefaultSolverSettings())
			if err != nil {
				t.Fatalf("NewSolver returned error: %v", err)
			}
			result, err := solver.Solve(p, price)
			if err != nil {
				t.Fatalf("Solve returned error: %v", err)
			}
			if !scalar.EqualWithinAbs(result.Volatility, tt.sigma, 1e-5) {
				t.Errorf("Volatility = %v, expected %v", result.Volatility, tt.sigma)
			}
		})
	}
}

func TestImpliedVolatilityMarketPriceAtSpot(t *testing.T) {
	solver, err := NewSolver(nil, DefaultSolverSettings())
	if err != nil {
		t.Fatalf("NewSolver returned error: %v", err)
	}

	p := Params{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Volatility: 0.2}
	result, err := solver.Solve(p, 100)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if result.Volatility <= 1 || result.Volatility > constants.MaxVolatility {
		t.Errorf("Volatility = %v, expected a large volatility within the bracket", result.Volatility)
	}
	if math.Abs(result.PriceError) >= DefaultSolverSettings().Tolerance {
		t.Errorf("PriceError = %v, expected below tolerance", result.PriceError)
	}
}

func TestImpliedVolatilityHighSeedStaysPositive(t *testing.T) {
	price, err := Price(100, 100, 1, 0.05, 0.2)
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	got, err := ImpliedVolatility(100, 100, 1, 0.05, price, 5.0, 0, 0)
	if err != nil {
		t.Fatalf("ImpliedVolatility returned error: %v", err)
	}
	if !scalar.EqualWithinAbs(got, 0.2, 1e-6) {
		t.Errorf("ImpliedVolatility = %v, expected 0.2", got)
	}
}

func TestImpliedVolatilityInvalidParameters(t *testing.T) {
	tests := []struct {
		name        string
		params      Params
		marketPrice float64
	}{
		{"Market price above spot", Params{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Volatility: 0.2}, 100.01},
		{"Market price below intrinsic", Params{Spot: 100, Strike: 80, Expiry: 1, Rate: 0.05, Volatility: 0.2}, 20},
		{"Zero market price", Params{Spot: 100, Strike: 120, Expiry: 1, Rate: 0.05, Volatility: 0.2}, 0},
		{"NaN market price", Params{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Volatility: 0.2}, math.NaN()},
		{"Zero expiry", Params{Spot: 100, Strike: 100, Expiry: 0, Rate: 0.05, Volatility: 0.2}, 10},
		{"Negative seed", Params{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Volatility: -0.2}, 10},
		{"Zero spot", Params{Spot: 0, Strike: 100, Expiry: 1, Rate: 0.05, Volatility: 0.2}, 10},
	}

	solver, err := NewSolver(nil, DefaultSolverSettings())
	if err != nil {
		t.Fatalf("NewSolver returned error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := solver.Solve(tt.params, tt.marketPrice); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("Solve error = %v, expected ErrInvalidParameter", err)
			}
		})
	}
}

func TestImpliedVolatilityNearExpiryFailsFast(t *testing.T) {
	tests := []struct {
		name   string
		strike float64
	}{
		{"Out of the money", 120},
		{"At the money", 100},
	}

	solver, err := NewSolver(nil, DefaultSolverSettings())
	if err != nil {
		t.Fatalf("NewSolver returned error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Params{Spot: 100, Strike: tt.strike, Expiry: 1e-300, Rate: 0.05, Volatility: 0.2}
			_, err := solver.Solve(p, 1)
			if !errors.Is(err, ErrDegenerateVega) {
				t.Fatalf("Solve error = %v, expected ErrDegenerateVega", err)
			}
			var solverErr *SolverError
			if !errors.As(err, &solverErr) {
				t.Fatalf("expected *SolverError, got %T", err)
			}
			if solverErr.Iterations != 0 {
				t.Errorf("Iterations = %d, expected failure on the first step", solverErr.Iterations)
			}
		})
	}
}

func TestImpliedVolatilityNonConvergence(t *testing.T) {
	solver, err := NewSolver(nil, SolverSettings{MaxIterations: 1, Tolerance: 1e-6})
	if err != nil {
		t.Fatalf("NewSolver returned error: %v", err)
	}

	p := Params{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Volatility: 0.1}
	_, err = solver.Solve(p, 10.4506)
	if !errors.Is(err, ErrNonConvergence) {
		t.Fatalf("Solve error = %v, expected ErrNonConvergence", err)
	}

	var solverErr *SolverError
	if !errors.As(err, &solverErr) {
		t.Fatalf("expected *SolverError, got %T", err)
	}
	if solverErr.Iterations != 1 {
		t.Errorf("Iterations = %d, expected 1", solverErr.Iterations)
	}
	if solverErr.Volatility <= 0 {
		t.Errorf("Volatility = %v, expected a positive last estimate", solverErr.Volatility)
	}
}

func TestImpliedVolatilityBisectsBelowVegaEpsilon(t *testing.T) {
	solver, err := NewSolver(nil, SolverSettings{VegaEpsilon: 1000})
	if err != nil {
		t.Fatalf("NewSolver returned error: %v", err)
	}

	p := Params{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Volatility: 0.1}
	result, err := solver.Solve(p, 10.4506)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if !scalar.EqualWithinAbs(result.Volatility, 0.2, 1e-4) {
		t.Errorf("Volatility = %v, expected ~0.2", result.Volatility)
	}
}

func TestImpliedVolatilityDegenerateVegaOutsideBracket(t *testing.T) {
	solver, err := NewSolver(nil, DefaultSolverSettings())
	if err != nil {
		t.Fatalf("NewSolver returned error: %v", err)
	}

	// Even the top of the bracket prices far below the quote.
	p := Params{Spot: 100, Strike: 100, Expiry: 1e-20, Rate: 0, Volatility: 0.2}
	_, err = solver.Solve(p, 50)
	if !errors.Is(err, ErrDegenerateVega) {
		t.Fatalf("Solve error = %v, expected ErrDegenerateVega", err)
	}
}

func TestNewSolverSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings SolverSettings
		wantErr  bool
	}{
		{"Zero values use defaults", SolverSettings{}, false},
		{"Explicit values", SolverSettings{MaxIterations: 5, Tolerance: 1e-4, VegaEpsilon: 1e-6}, false},
		{"Negative iterations", SolverSettings{MaxIterations: -1}, true},
		{"Negative tolerance", SolverSettings{Tolerance: -1e-6}, true},
		{"NaN tolerance", SolverSettings{Tolerance: math.NaN()}, true},
		{"Negative vega epsilon", SolverSettings{VegaEpsilon: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			solver, err := NewSolver(nil, tt.settings)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidParameter) {
					t.Errorf("NewSolver error = %v, expected ErrInvalidParameter", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSolver returned error: %v", err)
			}
			settings := solver.Settings()
			if settings.MaxIterations <= 0 || settings.Tolerance <= 0 || settings.VegaEpsilon <= 0 {
				t.Errorf("Settings() = %+v, expected all positive", settings)
			}
		})
	}

	solver, _ := NewSolver(nil, SolverSettings{})
	if solver.Settings() != DefaultSolverSettings() {
		t.Errorf("Settings() = %+v, expected defaults %+v", solver.Settings(), DefaultSolverSettings())
	}
}

func TestSolveLogsIterations(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	solver, err := NewSolver(zap.New(core), DefaultSolverSettings())
	if err != nil {
		t.Fatalf("NewSolver returned error: %v", err)
	}

	p := Params{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Volatility: 0.1}
	result, err := solver.Solve(p, 10.4506)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}

	entries := logs.FilterMessage("newton step").All()
	if len(entries) != result.Iterations+1 {
		t.Errorf("logged %d steps, expected %d", len(entries), result.Iterations+1)
	}
	for _, entry := range entries {
		if entry.ContextMap()["op"] != "bsm.Solve" {
			t.Errorf("entry op = %v, expected bsm.Solve", entry.ContextMap()["op"])
		}
	}
}

func TestSolveConcurrentUse(t *testing.T) {
	solver, err := NewSolver(nil, DefaultSolverSettings())
	if err != nil {
		t.Fatalf("NewSolver returned error: %v", err)
	}
	p := Params{Spot: 100, Strike: 105, Expiry: 0.75, Rate: 0.02, Volatility: 0.3}
	price, err := p.WithVolatility(0.45).Price()
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}

	expected, err := solver.Solve(p, price)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]Result, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = solver.Solve(p, price)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: Solve returned error: %v", i, errs[i])
		}
		if results[i] != expected {
			t.Errorf("goroutine %d: result %+v differs from %+v", i, results[i], expected)
		}
	}
}
