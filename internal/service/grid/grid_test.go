package grid

import (
	"testing"

	"github.com/krobus00/grid-bot/internal/entity"
	"github.com/shopspring/decimal"
)

func dec(t *testing.T, raw string) decimal.Decimal {
	t.Helper()

	value, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", raw, err)
	}

	return value
}

func TestBuildGrid(t *testing.T) {
	g, err := BuildGrid(dec(t, "28000"), dec(t, "32000"), 20)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	if got, want := len(g.Levels), 21; got != want {
		t.Fatalf("got %d levels, want %d", got, want)
	}

	if got, want := g.Levels[0].String(), "28000"; got != want {
		t.Errorf("first level = %s, want %s", got, want)
	}
	if got, want := g.Levels[20].String(), "32000"; got != want {
		t.Errorf("last level = %s, want %s", got, want)
	}
	if got, want := g.Levels[1].String(), "28200"; got != want {
		t.Errorf("second level = %s, want %s", got, want)
	}
}

func TestBuildGridRounding(t *testing.T) {
	tests := []struct {
		name  string
		low   string
		high  string
		grids int
		want  string // second level
	}{
		{name: "wide span keeps whole numbers", low: "10000", high: "30000", grids: 3, want: "16667"},
		{name: "mid span keeps one decimal", low: "1000", high: "4000", grids: 7, want: "1428.6"},
		{name: "narrow span keeps four decimals", low: "1", high: "2", grids: 3, want: "1.3333"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := BuildGrid(dec(t, tt.low), dec(t, tt.high), tt.grids)
			if err != nil {
				t.Fatalf("BuildGrid returned error: %v", err)
			}

			if got := g.Levels[1].String(); got != tt.want {
				t.Errorf("second level = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuildGridInvalidInput(t *testing.T) {
	if _, err := BuildGrid(dec(t, "100"), dec(t, "100"), 10); err == nil {
		t.Error("expected error for equal bounds")
	}
	if _, err := BuildGrid(dec(t, "200"), dec(t, "100"), 10); err == nil {
		t.Error("expected error for inverted bounds")
	}
	if _, err := BuildGrid(dec(t, "100"), dec(t, "200"), 0); err == nil {
		t.Error("expected error for zero grid count")
	}
	if _, err := BuildGrid(dec(t, "100"), dec(t, "200"), 1); err == nil {
		t.Error("expected error for a single-interval grid")
	}
}

func TestInitialOrders(t *testing.T) {
	g, err := BuildGrid(dec(t, "28000"), dec(t, "32000"), 20)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	orders := g.InitialOrders(dec(t, "30000"))

	// level 30000 sits exactly on the mid price and is skipped
	if got, want := len(orders), 20; got != want {
		t.Fatalf("got %d orders, want %d", got, want)
	}

	buys, sells := 0, 0
	for _, order := range orders {
		switch order.Side {
		case entity.OrderSideBuy:
			buys++
			if !order.Price.LessThan(dec(t, "30000")) {
				t.Errorf("buy order at %s is not below mid price", order.Price)
			}
		case entity.OrderSideSell:
			sells++
			if !order.Price.GreaterThan(dec(t, "30000")) {
				t.Errorf("sell order at %s is not above mid price", order.Price)
			}
		}
	}

	if buys != 10 || sells != 10 {
		t.Errorf("got %d buys and %d sells, want 10 and 10", buys, sells)
	}
}

func TestInitialOrdersMidOffLevel(t *testing.T) {
	g, err := BuildGrid(dec(t, "28000"), dec(t, "32000"), 20)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	// 30100 sits between levels, so no level is skipped
	orders := g.InitialOrders(dec(t, "30100"))
	if got, want := len(orders), 21; got != want {
		t.Fatalf("got %d orders, want %d", got, want)
	}
}

func TestNearestLevel(t *testing.T) {
	g, err := BuildGrid(dec(t, "28000"), dec(t, "32000"), 20)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	tests := []struct {
		price string
		want  int
	}{
		{price: "28000", want: 0},
		{price: "28050", want: 0},
		{price: "28150", want: 1},
		{price: "30000", want: 10},
		{price: "32000", want: 20},
		{price: "35000", want: 20},
		{price: "20000", want: 0},
	}

	for _, tt := range tests {
		if got := g.NearestLevel(dec(t, tt.price)); got != tt.want {
			t.Errorf("NearestLevel(%s) = %d, want %d", tt.price, got, tt.want)
		}
	}
}

func TestMirrorOrder(t *testing.T) {
	g, err := BuildGrid(dec(t, "28000"), dec(t, "32000"), 20)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	mirror := g.MirrorOrder(entity.OrderSideBuy, dec(t, "29000"))
	if mirror == nil {
		t.Fatal("expected mirror order for filled buy")
	}
	if mirror.Side != entity.OrderSideSell {
		t.Errorf("mirror side = %s, want %s", mirror.Side, entity.OrderSideSell)
	}
	if got, want := mirror.Price.String(), "29200"; got != want {
		t.Errorf("mirror price = %s, want %s", got, want)
	}

	mirror = g.MirrorOrder(entity.OrderSideSell, dec(t, "31000"))
	if mirror == nil {
		t.Fatal("expected mirror order for filled sell")
	}
	if mirror.Side != entity.OrderSideBuy {
		t.Errorf("mirror side = %s, want %s", mirror.Side, entity.OrderSideBuy)
	}
	if got, want := mirror.Price.String(), "30800"; got != want {
		t.Errorf("mirror price = %s, want %s", got, want)
	}
}

func TestMirrorOrderEdges(t *testing.T) {
	g, err := BuildGrid(dec(t, "28000"), dec(t, "32000"), 20)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	if mirror := g.MirrorOrder(entity.OrderSideBuy, dec(t, "32000")); mirror != nil {
		t.Errorf("expected no mirror for buy filled at the top edge, got %s@%s", mirror.Side, mirror.Price)
	}
	if mirror := g.MirrorOrder(entity.OrderSideSell, dec(t, "28000")); mirror != nil {
		t.Errorf("expected no mirror for sell filled at the bottom edge, got %s@%s", mirror.Side, mirror.Price)
	}
}

func TestAutoRange(t *testing.T) {
	// 30000 last price with a 3000 daily range: half range 5% beats the floor
	low, high := AutoRange(entity.Ticker{
		LastPrice:    dec(t, "30000"),
		HighPrice24h: dec(t, "31500"),
		LowPrice24h:  dec(t, "28500"),
	})

	if got, want := low.String(), "28500"; got != want {
		t.Errorf("low = %s, want %s", got, want)
	}
	if got, want := high.String(), "31500"; got != want {
		t.Errorf("high = %s, want %s", got, want)
	}
}

func TestAutoRangeFloor(t *testing.T) {
	// a nearly flat day still yields at least a 0.5% half range
	low, high := AutoRange(entity.Ticker{
		LastPrice:    dec(t, "30000"),
		HighPrice24h: dec(t, "30010"),
		LowPrice24h:  dec(t, "29990"),
	})

	if got, want := low.String(), "29900"; got != want {
		t.Errorf("low = %s, want %s", got, want)
	}
	if got, want := high.String(), "30200"; got != want {
		t.Errorf("high = %s, want %s", got, want)
	}
}

func TestAutoRangeNoVolatilityData(t *testing.T) {
	// without 24h data the default 2% range applies
	low, high := AutoRange(entity.Ticker{LastPrice: dec(t, "30000")})

	if got, want := low.String(), "29400"; got != want {
		t.Errorf("low = %s, want %s", got, want)
	}
	if got, want := high.String(), "30600"; got != want {
		t.Errorf("high = %s, want %s", got, want)
	}
}

func TestRoundBound(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "29432.7", want: "29400"},
		{in: "2943.27", want: "2940"},
		{in: "294.32", want: "294"},
		{in: "29.4327", want: "29.43"},
	}

	for _, tt := range tests {
		if got := roundBound(dec(t, tt.in)).String(); got != tt.want {
			t.Errorf("roundBound(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
