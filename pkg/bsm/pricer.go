package bsm

import (
	"fmt"
	"math"

	"github.com/iwvelando/implied-vol/pkg/mathutil"
)

// boundsSlack is the relative rounding noise tolerated outside [0, S0]
// before a debug build treats the price as wrong.
const boundsSlack = 1e-9

// Price returns the Black-Scholes-Merton value of a European call.
func (p Params) Price() (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	d1, d2, ok := p.d1d2()
	if !ok {
		return 0, invalidParameter("volatility %v and expiry %v are too small to standardize", p.Volatility, p.Expiry)
	}
	return p.price(d1, d2), nil
}

// Vega returns the derivative of Price with respect to the volatility.
func (p Params) Vega() (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	d1, _, ok := p.d1d2()
	if !ok {
		return 0, invalidParameter("volatility %v and expiry %v are too small to standardize", p.Volatility, p.Expiry)
	}
	return p.vega(d1), nil
}

// price is S0·Φ(d1) - K·e^(-rT)·Φ(d2), clamped into the no-arbitrage
// interval [0, S0].
func (p Params) price(d1, d2 float64) float64 {
	value := p.Spot*unitNormal.CDF(d1) - p.discountedStrike()*unitNormal.CDF(d2)
	clamped := mathutil.Clamp(value, 0, p.Spot)
	if debugChecks {
		slack := boundsSlack * math.Max(1, p.Spot)
		if math.IsNaN(value) || !mathutil.WithinTolerance(value, clamped, slack) {
			panic(fmt.Sprintf("bsm: call price %v outside [0, %v] for %+v", value, p.Spot, p))
		}
	}
	return clamped
}

// vega is S0·φ(d1)·√T.
func (p Params) vega(d1 float64) float64 {
	return p.Spot * unitNormal.Prob(d1) * math.Sqrt(p.Expiry)
}

// CallBounds returns the no-arbitrage interval [max(0, S0 - K·e^(-rT)), S0]
// for a European call price.
func (p Params) CallBounds() (lower, upper float64, err error) {
	if err := p.validateMarket(); err != nil {
		return 0, 0, err
	}
	return math.Max(0, p.Spot-p.discountedStrike()), p.Spot, nil
}

// Price is the flat-argument form of Params.Price.
func Price(spot, strike, expiry, rate, sigma float64) (float64, error) {
	return Params{Spot: spot, Strike: strike, Expiry: expiry, Rate: rate, Volatility: sigma}.Price()
}

// Vega is the flat-argument form of Params.Vega.
func Vega(spot, strike, expiry, rate, sigma float64) (float64, error) {
	return Params{Spot: spot, Strike: strike, Expiry: expiry, Rate: rate, Volatility: sigma}.Vega()
}

// CallBounds is the flat-argument form of Params.CallBounds.
func CallBounds(spot, strike, expiry, rate float64) (lower, upper float64, err error) {
	return Params{Spot: spot, Strike: strike, Expiry: expiry, Rate: rate}.CallBounds()
}
