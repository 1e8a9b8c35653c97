// Package bsm prices European call options under the Black-Scholes-Merton
// model, computes vega, and inverts the pricing formula to recover implied
// volatility.
//
// All functions are pure and safe for concurrent use.
package bsm

import (
	"math"

	"github.com/iwvelando/implied-vol/pkg/mathutil"
	"gonum.org/v1/gonum/stat/distuv"
)

// unitNormal supplies Φ and φ for every operation in the package.
var unitNormal = distuv.UnitNormal

// Params holds the market and contract inputs of a single valuation.
type Params struct {
	Spot       float64 // S0, current underlying price
	Strike     float64 // K
	Expiry     float64 // T, years to expiry
	Rate       float64 // r, continuously compounded risk-free rate
	Volatility float64 // sigma, annualized
}

// Validate checks the model's preconditions: S0, K, T and sigma strictly
// positive and finite, r finite.
func (p Params) Validate() error {
	if err := p.validateMarket(); err != nil {
		return err
	}
	if !mathutil.IsPositive(p.Volatility) {
		return invalidParameter("volatility must be positive and finite, got %v", p.Volatility)
	}
	return nil
}

// validateMarket checks every input except the volatility.
func (p Params) validateMarket() error {
	if !mathutil.IsPositive(p.Spot) {
		return invalidParameter("spot must be positive and finite, got %v", p.Spot)
	}
	if !mathutil.IsPositive(p.Strike) {
		return invalidParameter("strike must be positive and finite, got %v", p.Strike)
	}
	if !mathutil.IsPositive(p.Expiry) {
		return invalidParameter("expiry must be positive and finite, got %v", p.Expiry)
	}
	if !mathutil.IsFinite(p.Rate) {
		return invalidParameter("rate must be finite, got %v", p.Rate)
	}
	return nil
}

// WithVolatility returns a copy of p using sigma.
func (p Params) WithVolatility(sigma float64) Params {
	p.Volatility = sigma
	return p
}

// D1D2 returns the two standardized terms of the pricing formula.
func (p Params) D1D2() (d1, d2 float64, err error) {
	if err := p.Validate(); err != nil {
		return 0, 0, err
	}
	d1, d2, ok := p.d1d2()
	if !ok {
		return 0, 0, invalidParameter("volatility %v and expiry %v are too small to standardize", p.Volatility, p.Expiry)
	}
	return d1, d2, nil
}

// d1d2 assumes validated inputs. d2 is always derived from d1.
func (p Params) d1d2() (d1, d2 float64, ok bool) {
	volSqrtT := p.Volatility * math.Sqrt(p.Expiry)
	if volSqrtT == 0 || !mathutil.IsFinite(volSqrtT) {
		return 0, 0, false
	}
	d1 = (math.Log(p.Spot/p.Strike) + (p.Rate+0.5*p.Volatility*p.Volatility)*p.Expiry) / volSqrtT
	if math.IsNaN(d1) {
		return 0, 0, false
	}
	d2 = d1 - volSqrtT
	return d1, d2, true
}

// discountedStrike returns K·e^(-rT).
func (p Params) discountedStrike() float64 {
	return p.Strike * math.Exp(-p.Rate*p.Expiry)
}

// D1D2 is the flat-argument form of Params.D1D2.
func D1D2(spot, strike, expiry, rate, sigma float64) (d1, d2 float64, err error) {
	return Params{Spot: spot, Strike: strike, Expiry: expiry, Rate: rate, Volatility: sigma}.D1D2()
}
