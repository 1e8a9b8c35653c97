package bsm

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter indicates an input outside the model's domain.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDegenerateVega indicates the sensitivity became too small to divide by.
	ErrDegenerateVega = errors.New("degenerate vega")

	// ErrNonConvergence indicates the iteration budget ran out before the
	// price error fell below the tolerance.
	ErrNonConvergence = errors.New("implied volatility did not converge")
)

// SolverError describes where the implied volatility solver stopped. It
// unwraps to ErrDegenerateVega or ErrNonConvergence.
type SolverError struct {
	Kind       error
	Volatility float64 // last estimate before stopping
	Iterations int
	PriceError float64
	Vega       float64
}

func (e *SolverError) Error() string {
	switch e.Kind {
	case ErrDegenerateVega:
		return fmt.Sprintf("%v: vega %.3g at sigma %.6g after %d iterations",
			e.Kind, e.Vega, e.Volatility, e.Iterations)
	default:
		return fmt.Sprintf("%v: price error %.3g at sigma %.6g after %d iterations",
			e.Kind, e.PriceError, e.Volatility, e.Iterations)
	}
}

func (e *SolverError) Unwrap() error {
	return e.Kind
}

func invalidParameter(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// Kind returns a stable identifier for the error category of err, or an
// empty string when err is not one of this package's errors.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrDegenerateVega):
		return "degenerate_vega"
	case errors.Is(err, ErrNonConvergence):
		return "non_convergence"
	default:
		return ""
	}
}
