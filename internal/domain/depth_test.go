package domain

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
)

func lvl(price, size string) Level {
	return Level{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func TestAggregateDepth_Spread(t *testing.T) {
	book := OrderBookSnapshot{
		Bids: []Level{lvl("49900", "1.5"), lvl("49800", "2.0")},
		Asks: []Level{lvl("50100", "1.0"), lvl("50200", "2.0")},
	}

	depth := AggregateDepth(book)

	if depth.Spread == nil || !depth.Spread.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("Expected spread 200, got %v", depth.Spread)
	}
	if depth.SpreadPct == nil || !depth.SpreadPct.Round(4).Equal(decimal.RequireFromString("0.3992")) {
		t.Errorf("Expected spreadPct ~0.3992, got %v", depth.SpreadPct)
	}

	// scale is the larger side: 3.5 on bids vs 3.0 on asks
	if !depth.Bids[1].Total.Equal(decimal.RequireFromString("3.5")) || !depth.Bids[1].Percentage.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Unexpected last bid level: %+v", depth.Bids[1])
	}
	if !depth.Asks[1].Total.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected ask total 3, got %s", depth.Asks[1].Total)
	}
	if depth.Asks[1].Percentage.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		t.Errorf("Smaller side should stay below 100%%, got %s", depth.Asks[1].Percentage)
	}
}

func TestAggregateDepth_EmptySides(t *testing.T) {
	t.Run("both empty", func(t *testing.T) {
		depth := AggregateDepth(OrderBookSnapshot{})
		if depth.Spread != nil || depth.SpreadPct != nil {
			t.Error("Empty book has no spread")
		}
		if len(depth.Bids) != 0 || len(depth.Asks) != 0 {
			t.Error("Empty book has no levels")
		}
	})

	t.Run("one side", func(t *testing.T) {
		depth := AggregateDepth(OrderBookSnapshot{Bids: []Level{lvl("100", "1")}})
		if depth.Spread != nil {
			t.Error("One-sided book has no spread")
		}
		if !depth.Bids[0].Percentage.Equal(decimal.NewFromInt(100)) {
			t.Errorf("Expected 100%%, got %s", depth.Bids[0].Percentage)
		}
	})

	t.Run("zero sizes", func(t *testing.T) {
		depth := AggregateDepth(OrderBookSnapshot{
			Bids: []Level{lvl("100", "0")},
			Asks: []Level{lvl("101", "0")},
		})
		if !depth.Bids[0].Percentage.IsZero() || !depth.Asks[0].Percentage.IsZero() {
			t.Error("Zero scale should give zero percentages")
		}
	})
}

func TestAggregateDepth_TotalsNonDecreasing(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for round := 0; round < 50; round++ {
		bids := randomLevels(rng, 100, false)
		asks := randomLevels(rng, 101, true)
		depth := AggregateDepth(OrderBookSnapshot{Bids: bids, Asks: asks})

		for _, side := range [][]DepthLevel{depth.Bids, depth.Asks} {
			for i := 1; i < len(side); i++ {
				if side[i].Total.LessThan(side[i-1].Total) {
					t.Fatalf("round %d: total decreased at level %d: %s < %s", round, i, side[i].Total, side[i-1].Total)
				}
				if side[i].Percentage.GreaterThan(decimal.NewFromInt(100)) {
					t.Fatalf("round %d: percentage above 100 at level %d", round, i)
				}
			}
		}
	}
}

func randomLevels(rng *rand.Rand, start int64, ascending bool) []Level {
	n := rng.IntN(20)
	prices := make([]int64, 0, n)
	seen := make(map[int64]bool)
	for len(prices) < n {
		offset := rng.Int64N(500)
		if seen[offset] {
			continue
		}
		seen[offset] = true
		prices = append(prices, offset)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })

	levels := make([]Level, n)
	for i, off := range prices {
		price := start - off
		if ascending {
			price = start + off
		}
		size := decimal.NewFromInt(rng.Int64N(1000)).Div(decimal.NewFromInt(100))
		levels[i] = Level{Price: decimal.NewFromInt(price), Size: size}
	}
	return levels
}
