package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/iwvelando/implied-vol/internal/config"
	"github.com/iwvelando/implied-vol/internal/valuation"
	"github.com/iwvelando/implied-vol/pkg/bsm"
	"go.uber.org/zap"
)

func largeConfiguration(n int) config.Configuration {
	conf := config.Configuration{Common: config.Common{RiskFreeRate: 0.04}}
	for i := 0; i < n; i++ {
		strike := 80 + float64(i%41)
		sigma := 0.1 + float64(i%10)*0.05
		price, err := bsm.Price(100, strike, 0.5, 0.04, sigma)
		if err != nil {
			panic(err)
		}
		conf.Quotes = append(conf.Quotes, config.Quote{
			Name:        fmt.Sprintf("q%d", i),
			Spot:        100,
			Strike:      strike,
			Expiry:      0.5,
			MarketPrice: price,
		})
	}
	conf.ApplyDefaults()
	return conf
}

// TestPerformance checks a large batch of solves finishes promptly.
func TestPerformance(t *testing.T) {
	conf := largeConfiguration(5000)

	start := time.Now()
	results, err := valuation.GetValuations(context.Background(), zap.NewNop(), conf)
	if err != nil {
		t.Fatalf("GetValuations failed: %v", err)
	}
	elapsed := time.Since(start)

	t.Logf("Performance metrics:")
	t.Logf("  Quotes: %d", len(results))
	t.Logf("  Total time: %v", elapsed)

	if elapsed > 10*time.Second {
		t.Errorf("Total processing time %v exceeds 10 second threshold", elapsed)
	}

	for _, result := range results {
		if result.Failed() {
			t.Fatalf("quote %s failed: %v", result.Name, result.Err)
		}
	}
}

func TestDataConsistency(t *testing.T) {
	conf := largeConfiguration(200)

	first, err := valuation.GetValuationsWithLimit(context.Background(), zap.NewNop(), conf, 1)
	if err != nil {
		t.Fatalf("GetValuationsWithLimit failed: %v", err)
	}
	second, err := valuation.GetValuationsWithLimit(context.Background(), zap.NewNop(), conf, 16)
	if err != nil {
		t.Fatalf("GetValuationsWithLimit failed: %v", err)
	}

	for i := range first {
		if first[i].ImpliedVolatility != second[i].ImpliedVolatility || first[i].Iterations != second[i].Iterations {
			t.Errorf("quote %s differs between sequential and concurrent runs: %v vs %v",
				first[i].Name, first[i].ImpliedVolatility, second[i].ImpliedVolatility)
		}
	}
}

func BenchmarkPrice(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = bsm.Price(100, 105, 0.5, 0.04, 0.25)
	}
}

func BenchmarkImpliedVolatility(b *testing.B) {
	price, err := bsm.Price(100, 105, 0.5, 0.04, 0.25)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = bsm.ImpliedVolatility(100, 105, 0.5, 0.04, price, 0.2, 100, 1e-6)
	}
}
