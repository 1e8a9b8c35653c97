// Package output provides utilities for formatting and displaying valuation results.
package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iwvelando/implied-vol/internal/valuation"
	"github.com/iwvelando/implied-vol/pkg/constants"
	"github.com/iwvelando/implied-vol/pkg/mathutil"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Fixed renders val with exactly places decimals. Non-finite values are
// rendered by strconv since they have no decimal form.
func Fixed(val float64, places int) string {
	if !mathutil.IsFinite(val) {
		return strconv.FormatFloat(val, 'g', -1, 64)
	}
	return decimal.NewFromFloat(val).StringFixed(int32(places))
}

// PrettyFormat writes a human-readable rather than machine-readable table.
func PrettyFormat(w io.Writer, results []valuation.Valuation) {
	p := message.NewPrinter(language.English)
	_, _ = fmt.Fprintf(w, "--- Valuations ---\n")
	_, _ = fmt.Fprintf(w, "Name | Mode | Spot | Strike | Expiry | Rate | Volatility | Market Price | Price | Vega | Iterations | Notes\n")
	_, _ = fmt.Fprintf(w, "____ | ____ | ____ | ______ | ______ | ____ | __________ | ____________ | _____ | ____ | __________ | _____\n")
	for _, result := range results {
		market := "-"
		if result.Mode == constants.ModeImpliedVolatility {
			market = "$" + Fixed(result.MarketPrice, constants.PriceDecimals)
		}

		if result.Failed() {
			_, _ = p.Fprintf(w, "%s | %s | $%.2f | $%.2f | %s | %s | - | %s | - | - | - | %s\n",
				result.Name, result.Mode, result.Params.Spot, result.Params.Strike,
				Fixed(result.Params.Expiry, constants.PriceDecimals), Fixed(result.Params.Rate, constants.PriceDecimals),
				market, result.Err.Error())
			continue
		}

		_, _ = p.Fprintf(w, "%s | %s | $%.2f | $%.2f | %s | %s | %s | %s | $%s | %s | %d | %s\n",
			result.Name, result.Mode, result.Params.Spot, result.Params.Strike,
			Fixed(result.Params.Expiry, constants.PriceDecimals), Fixed(result.Params.Rate, constants.PriceDecimals),
			Fixed(result.Volatility(), constants.VolatilityDecimals), market,
			Fixed(result.Price, constants.PriceDecimals), Fixed(result.Vega, constants.PriceDecimals),
			result.Iterations, notes(result))
	}
}

// CsvFormat writes the results in comma-separated value format.
func CsvFormat(w io.Writer, results []valuation.Valuation) {
	_, _ = fmt.Fprintf(w, `"name","mode","spot","strike","expiry","rate","volatility","market price","price","vega","iterations","error"`)
	_, _ = fmt.Fprintf(w, "\n")
	for _, result := range results {
		fields := []string{
			result.Name,
			result.Mode,
			Fixed(result.Params.Spot, constants.PriceDecimals),
			Fixed(result.Params.Strike, constants.PriceDecimals),
			Fixed(result.Params.Expiry, constants.PriceDecimals),
			Fixed(result.Params.Rate, constants.PriceDecimals),
			"", "", "", "", "", "",
		}
		if result.Mode == constants.ModeImpliedVolatility {
			fields[7] = Fixed(result.MarketPrice, constants.PriceDecimals)
		}
		if result.Failed() {
			fields[11] = result.Err.Error()
		} else {
			fields[6] = Fixed(result.Volatility(), constants.VolatilityDecimals)
			fields[8] = Fixed(result.Price, constants.PriceDecimals)
			fields[9] = Fixed(result.Vega, constants.PriceDecimals)
			fields[10] = strconv.Itoa(result.Iterations)
		}

		for i, field := range fields {
			if i > 0 {
				_, _ = fmt.Fprintf(w, ",")
			}
			_, _ = fmt.Fprintf(w, `"%s"`, strings.ReplaceAll(field, `"`, `""`))
		}
		_, _ = fmt.Fprintf(w, "\n")
	}
}

func notes(result valuation.Valuation) string {
	if result.Mode == constants.ModeImpliedVolatility {
		return "seed " + Fixed(result.Params.Volatility, constants.VolatilityDecimals)
	}
	return ""
}
