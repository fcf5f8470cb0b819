package grid

import (
	"fmt"

	"github.com/krobus00/grid-bot/internal/entity"
	"github.com/shopspring/decimal"
)

var (
	decHundred     = decimal.NewFromInt(100)
	decThousand    = decimal.NewFromInt(1000)
	decTenThousand = decimal.NewFromInt(10000)
	decTwo         = decimal.NewFromInt(2)
)

// Grid holds the evenly spaced price levels between the lower and upper
// bound, inclusive on both ends.
type Grid struct {
	Low    decimal.Decimal
	High   decimal.Decimal
	Levels []decimal.Decimal
}

// BuildGrid splits [low, high] into grids intervals and returns grids+1
// price levels. Levels are rounded relative to the span so wide ranges do
// not end up with sub-cent precision.
func BuildGrid(low, high decimal.Decimal, grids int) (*Grid, error) {
	if grids < 2 {
		return nil, fmt.Errorf("grid count must be at least 2, got %d", grids)
	}
	if !high.GreaterThan(low) {
		return nil, fmt.Errorf("upper bound %s must be greater than lower bound %s", high, low)
	}

	span := high.Sub(low)
	places := levelPrecision(span)
	step := span.Div(decimal.NewFromInt(int64(grids)))

	levels := make([]decimal.Decimal, 0, grids+1)
	for i := 0; i <= grids; i++ {
		level := low.Add(step.Mul(decimal.NewFromInt(int64(i)))).Round(places)
		levels = append(levels, level)
	}
	// rounding can drift the last level, pin it to the bound
	levels[grids] = high.Round(places)

	return &Grid{
		Low:    low,
		High:   high,
		Levels: levels,
	}, nil
}

// levelPrecision picks how many decimal places grid levels keep based on
// the size of the price span.
func levelPrecision(span decimal.Decimal) int32 {
	switch {
	case span.GreaterThan(decTenThousand):
		return 0
	case span.GreaterThan(decThousand):
		return 1
	case span.GreaterThan(decHundred):
		return 2
	default:
		return 4
	}
}

// InitialOrders returns the opening order book for a fresh grid: buys on
// every level below the mid price and sells on every level above it.
// Levels equal to the mid price are skipped.
func (g *Grid) InitialOrders(midPrice decimal.Decimal) []entity.OrderRequest {
	orders := make([]entity.OrderRequest, 0, len(g.Levels))
	for _, level := range g.Levels {
		switch {
		case level.LessThan(midPrice):
			orders = append(orders, entity.OrderRequest{
				Side:  entity.OrderSideBuy,
				Type:  entity.OrderTypeLimit,
				Price: level,
			})
		case level.GreaterThan(midPrice):
			orders = append(orders, entity.OrderRequest{
				Side:  entity.OrderSideSell,
				Type:  entity.OrderTypeLimit,
				Price: level,
			})
		}
	}

	return orders
}

// NearestLevel returns the index of the grid level closest to price.
func (g *Grid) NearestLevel(price decimal.Decimal) int {
	best := 0
	bestDist := price.Sub(g.Levels[0]).Abs()
	for i := 1; i < len(g.Levels); i++ {
		dist := price.Sub(g.Levels[i]).Abs()
		if dist.LessThan(bestDist) {
			best = i
			bestDist = dist
		}
	}

	return best
}

// MirrorOrder returns the counter order for a filled grid order: a filled
// buy spawns a sell one level up, a filled sell spawns a buy one level
// down. Fills at the grid edges have no mirror and return nil.
func (g *Grid) MirrorOrder(side entity.OrderSide, fillPrice decimal.Decimal) *entity.OrderRequest {
	idx := g.NearestLevel(fillPrice)

	switch side {
	case entity.OrderSideBuy:
		if idx+1 >= len(g.Levels) {
			return nil
		}
		return &entity.OrderRequest{
			Side:  entity.OrderSideSell,
			Type:  entity.OrderTypeLimit,
			Price: g.Levels[idx+1],
		}
	case entity.OrderSideSell:
		if idx-1 < 0 {
			return nil
		}
		return &entity.OrderRequest{
			Side:  entity.OrderSideBuy,
			Type:  entity.OrderTypeLimit,
			Price: g.Levels[idx-1],
		}
	default:
		return nil
	}
}

// AutoRange derives grid bounds from the last traded price and a 24h
// volatility estimate. The half range is at least 0.5% of price and
// defaults to 2% when no volatility data is available. Bounds are rounded
// to a step that matches the price magnitude.
func AutoRange(ticker entity.Ticker) (low, high decimal.Decimal) {
	price := ticker.LastPrice

	rangePct := decimal.NewFromFloat(0.02)
	if ticker.HighPrice24h.IsPositive() && ticker.LowPrice24h.IsPositive() && price.IsPositive() {
		vol := ticker.HighPrice24h.Sub(ticker.LowPrice24h).Div(price)
		half := vol.Div(decTwo)
		floor := decimal.NewFromFloat(0.005)
		if half.GreaterThan(floor) {
			rangePct = half
		} else {
			rangePct = floor
		}
	}

	delta := price.Mul(rangePct)
	low = roundBound(price.Sub(delta))
	high = roundBound(price.Add(delta))

	return low, high
}

// roundBound snaps a bound to a readable step: hundreds above 10000, tens
// above 1000, whole units above 100, two decimal places otherwise.
func roundBound(v decimal.Decimal) decimal.Decimal {
	switch {
	case v.GreaterThan(decTenThousand):
		return v.Div(decHundred).Round(0).Mul(decHundred)
	case v.GreaterThan(decThousand):
		ten := decimal.NewFromInt(10)
		return v.Div(ten).Round(0).Mul(ten)
	case v.GreaterThan(decHundred):
		return v.Round(0)
	default:
		return v.Round(2)
	}
}
