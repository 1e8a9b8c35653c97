// Package valuation evaluates the configured quotes, pricing some and
// inverting others for their implied volatility.
package valuation

import (
	"context"
	"fmt"

	"github.com/iwvelando/implied-vol/internal/config"
	"github.com/iwvelando/implied-vol/pkg/bsm"
	"github.com/iwvelando/implied-vol/pkg/constants"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Valuation holds the outcome of evaluating one quote.
type Valuation struct {
	Name        string
	Mode        string
	Params      bsm.Params // Volatility is the seed for implied volatility quotes
	MarketPrice float64

	Price             float64
	Vega              float64
	ImpliedVolatility float64
	Iterations        int

	Err error
}

// Failed reports whether the quote could not be evaluated.
func (v Valuation) Failed() bool {
	return v.Err != nil
}

// Volatility returns the volatility the price and vega were computed at.
func (v Valuation) Volatility() float64 {
	if v.Mode == constants.ModeImpliedVolatility {
		return v.ImpliedVolatility
	}
	return v.Params.Volatility
}

// GetValuations evaluates every quote in the configuration.
func GetValuations(ctx context.Context, logger *zap.Logger, conf config.Configuration) ([]Valuation, error) {
	return GetValuationsWithLimit(ctx, logger, conf, constants.DefaultBatchConcurrency)
}

// GetValuationsWithLimit evaluates the quotes with at most limit running at
// once. Results keep the configured order. A failing quote is recorded on
// its Valuation; only invalid solver settings or a cancelled context abort
// the batch.
func GetValuationsWithLimit(ctx context.Context, logger *zap.Logger, conf config.Configuration, limit int) ([]Valuation, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = constants.DefaultBatchConcurrency
	}

	solver, err := bsm.NewSolver(logger, conf.Common.Solver.SolverSettings())
	if err != nil {
		return nil, fmt.Errorf("invalid solver settings: %w", err)
	}

	results := make([]Valuation, len(conf.Quotes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, quote := range conf.Quotes {
		if gctx.Err() != nil {
			break
		}
		i, quote := i, quote
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = EvaluateQuote(logger, solver, quote, conf.Common)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// EvaluateQuote prices a quote or solves it for implied volatility.
func EvaluateQuote(logger *zap.Logger, solver *bsm.Solver, quote config.Quote, common config.Common) Valuation {
	if logger == nil {
		logger = zap.NewNop()
	}

	result := Valuation{
		Name:        quote.Name,
		Mode:        quote.Mode(),
		Params:      quote.Params(common),
		MarketPrice: quote.MarketPrice,
	}

	switch result.Mode {
	case constants.ModeImpliedVolatility:
		solved, err := solver.Solve(result.Params, quote.MarketPrice)
		if err != nil {
			result.Err = err
			break
		}
		result.ImpliedVolatility = solved.Volatility
		result.Iterations = solved.Iterations
		result.Price, result.Err = result.Params.WithVolatility(solved.Volatility).Price()
		if result.Err == nil {
			result.Vega, result.Err = result.Params.WithVolatility(solved.Volatility).Vega()
		}
	default:
		result.Price, result.Err = result.Params.Price()
		if result.Err == nil {
			result.Vega, result.Err = result.Params.Vega()
		}
	}

	if result.Err != nil {
		logger.Warn(fmt.Sprintf("failed to evaluate quote %s", quote.Name),
			zap.String("op", "valuation.EvaluateQuote"),
			zap.String("mode", result.Mode),
			zap.String("kind", bsm.Kind(result.Err)),
			zap.Error(result.Err),
		)
		return result
	}

	logger.Debug(fmt.Sprintf("evaluated quote %s", quote.Name),
		zap.String("op", "valuation.EvaluateQuote"),
		zap.String("mode", result.Mode),
		zap.Float64("price", result.Price),
		zap.Float64("vega", result.Vega),
		zap.Float64("volatility", result.Volatility()),
		zap.Int("iterations", result.Iterations),
	)
	return result
}
