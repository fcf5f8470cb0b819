package grid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/krobus00/grid-bot/internal/entity"
	"github.com/shopspring/decimal"
)

type fakeExchange struct {
	mu            sync.Mutex
	ticker        *entity.Ticker
	tickerErr     error
	placedOrders  []entity.OrderRequest
	cancelAllHits int
	nextOrderID   int
}

func (f *fakeExchange) GetTicker(ctx context.Context, symbol string) (*entity.Ticker, error) {
	if f.tickerErr != nil {
		return nil, f.tickerErr
	}

	return f.ticker, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, order entity.OrderRequest) (*entity.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextOrderID++
	f.placedOrders = append(f.placedOrders, order)

	return &entity.PlacedOrder{
		OrderID:     decimal.NewFromInt(int64(f.nextOrderID)).String(),
		OrderLinkID: order.OrderLinkID,
	}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (f *fakeExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelAllHits++
	return nil
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]entity.OrderUpdate, error) {
	return nil, nil
}

func (f *fakeExchange) SubscribeOrderUpdates(ctx context.Context, handler func(ctx context.Context, update entity.OrderUpdate)) error {
	<-ctx.Done()
	return nil
}

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]GridState
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[string]GridState)}
}

func (s *memoryStateStore) Load(ctx context.Context, key string) (GridState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[key]
	return state, ok, nil
}

func (s *memoryStateStore) Save(ctx context.Context, key string, state GridState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[key] = state
	return nil
}

func newTestEngine(t *testing.T, testMode bool) (*Engine, *fakeExchange) {
	t.Helper()

	fake := &fakeExchange{
		ticker: &entity.Ticker{
			Symbol:       "BTCUSDT",
			LastPrice:    decimal.NewFromInt(30000),
			HighPrice24h: decimal.NewFromInt(31000),
			LowPrice24h:  decimal.NewFromInt(29000),
		},
	}

	engine, err := NewEngine(EngineConfig{
		Symbol:   "BTCUSDT",
		Low:      decimal.NewFromInt(28000),
		High:     decimal.NewFromInt(32000),
		Grids:    20,
		Qty:      decimal.NewFromFloat(0.001),
		TestMode: testMode,
	}, fake, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	return engine, fake
}

func TestNewEngineRequiresExchange(t *testing.T) {
	_, err := NewEngine(EngineConfig{}, nil, nil, nil, nil, nil, nil)
	if err != ErrExchangeNotSet {
		t.Fatalf("got %v, want %v", err, ErrExchangeNotSet)
	}
}

func TestEngineTestRun(t *testing.T) {
	engine, fake := newTestEngine(t, true)

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// test mode never touches the exchange order endpoints
	if len(fake.placedOrders) != 0 {
		t.Errorf("test mode placed %d real orders", len(fake.placedOrders))
	}
	if fake.cancelAllHits != 0 {
		t.Errorf("test mode cancelled real orders %d times", fake.cancelAllHits)
	}

	// 20 initial orders (mid price 30000 sits on a level), half of them
	// simulated as filled; mirrors only land on free levels
	got := engine.ActiveOrderCount()
	if got < 10 || got > 20 {
		t.Errorf("active orders = %d, want between 10 and 20", got)
	}
}

func TestEngineStartPlacesInitialOrders(t *testing.T) {
	engine, fake := newTestEngine(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- engine.Start(ctx)
	}()

	// Start blocks on the order stream, wait for the opening book
	for i := 0; i < 100; i++ {
		if engine.ActiveOrderCount() == 20 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	fake.mu.Lock()
	placed := len(fake.placedOrders)
	cancelAll := fake.cancelAllHits
	fake.mu.Unlock()

	if got, want := placed, 20; got != want {
		t.Errorf("placed %d orders, want %d", got, want)
	}
	if cancelAll == 0 {
		t.Error("expected stale orders to be cancelled on start")
	}

	for _, order := range fake.placedOrders {
		if order.Symbol != "BTCUSDT" {
			t.Errorf("order symbol = %s, want BTCUSDT", order.Symbol)
		}
		if !order.Qty.Equal(decimal.NewFromFloat(0.001)) {
			t.Errorf("order qty = %s, want 0.001", order.Qty)
		}
		if order.OrderLinkID == "" {
			t.Error("order link id is empty")
		}
	}
}

func TestEngineMirrorOnFill(t *testing.T) {
	engine, fake := newTestEngine(t, false)
	ctx := context.Background()

	var err error
	engine.grid, err = BuildGrid(engine.config.Low, engine.config.High, engine.config.Grids)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	engine.track(ctx, TrackedOrder{
		OrderID: "buy-1",
		Side:    string(entity.OrderSideBuy),
		Price:   decimal.NewFromInt(29000),
		Qty:     decimal.NewFromFloat(0.001),
		Level:   5,
	})

	engine.handleOrderUpdate(ctx, entity.OrderUpdate{
		Symbol:      "BTCUSDT",
		OrderID:     "buy-1",
		Side:        string(entity.OrderSideBuy),
		OrderStatus: string(entity.OrderStatusFilled),
		AvgPrice:    "29000",
		Qty:         "0.001",
	})

	fake.mu.Lock()
	defer fake.mu.Unlock()

	if got, want := len(fake.placedOrders), 1; got != want {
		t.Fatalf("placed %d mirror orders, want %d", got, want)
	}

	mirror := fake.placedOrders[0]
	if mirror.Side != entity.OrderSideSell {
		t.Errorf("mirror side = %s, want %s", mirror.Side, entity.OrderSideSell)
	}
	if got, want := mirror.Price.String(), "29200"; got != want {
		t.Errorf("mirror price = %s, want %s", got, want)
	}
}

func TestEngineIgnoresOtherSymbols(t *testing.T) {
	engine, fake := newTestEngine(t, false)
	ctx := context.Background()

	var err error
	engine.grid, err = BuildGrid(engine.config.Low, engine.config.High, engine.config.Grids)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	engine.handleOrderUpdate(ctx, entity.OrderUpdate{
		Symbol:      "ETHUSDT",
		OrderID:     "other-1",
		Side:        string(entity.OrderSideBuy),
		OrderStatus: string(entity.OrderStatusFilled),
		AvgPrice:    "1500",
	})

	fake.mu.Lock()
	defer fake.mu.Unlock()

	if len(fake.placedOrders) != 0 {
		t.Errorf("placed %d orders for a foreign symbol", len(fake.placedOrders))
	}
}

func TestEngineIgnoresUntrackedFills(t *testing.T) {
	engine, fake := newTestEngine(t, false)
	ctx := context.Background()

	var err error
	engine.grid, err = BuildGrid(engine.config.Low, engine.config.High, engine.config.Grids)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	// a manual trade on the same account and symbol
	engine.handleOrderUpdate(ctx, entity.OrderUpdate{
		Symbol:      "BTCUSDT",
		OrderID:     "manual-1",
		Side:        string(entity.OrderSideBuy),
		OrderStatus: string(entity.OrderStatusFilled),
		AvgPrice:    "29000",
		Qty:         "0.5",
	})

	fake.mu.Lock()
	defer fake.mu.Unlock()

	if len(fake.placedOrders) != 0 {
		t.Errorf("placed %d mirror orders for an order the engine never placed", len(fake.placedOrders))
	}
	if got := engine.ActiveOrderCount(); got != 0 {
		t.Errorf("active orders = %d, want 0", got)
	}
}

func TestEngineSkipsOccupiedMirrorLevel(t *testing.T) {
	engine, fake := newTestEngine(t, false)
	ctx := context.Background()

	var err error
	engine.grid, err = BuildGrid(engine.config.Low, engine.config.High, engine.config.Grids)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	engine.track(ctx, TrackedOrder{
		OrderID: "buy-1",
		Side:    string(entity.OrderSideBuy),
		Price:   decimal.NewFromInt(29000),
	})
	// the mirror target level already carries a sell
	engine.track(ctx, TrackedOrder{
		OrderID: "sell-1",
		Side:    string(entity.OrderSideSell),
		Price:   decimal.NewFromInt(29200),
	})

	engine.handleOrderUpdate(ctx, entity.OrderUpdate{
		Symbol:      "BTCUSDT",
		OrderID:     "buy-1",
		Side:        string(entity.OrderSideBuy),
		OrderStatus: string(entity.OrderStatusFilled),
		AvgPrice:    "29000",
	})

	fake.mu.Lock()
	defer fake.mu.Unlock()

	if len(fake.placedOrders) != 0 {
		t.Errorf("placed %d orders onto an occupied level", len(fake.placedOrders))
	}
}

func TestEngineMirrorsPastOppositeSideOrder(t *testing.T) {
	engine, fake := newTestEngine(t, false)
	ctx := context.Background()

	var err error
	engine.grid, err = BuildGrid(engine.config.Low, engine.config.High, engine.config.Grids)
	if err != nil {
		t.Fatalf("BuildGrid returned error: %v", err)
	}

	engine.track(ctx, TrackedOrder{
		OrderID: "buy-1",
		Side:    string(entity.OrderSideBuy),
		Price:   decimal.NewFromInt(29000),
	})
	// a buy on the mirror level must not block the sell mirror
	engine.track(ctx, TrackedOrder{
		OrderID: "buy-2",
		Side:    string(entity.OrderSideBuy),
		Price:   decimal.NewFromInt(29200),
	})

	engine.handleOrderUpdate(ctx, entity.OrderUpdate{
		Symbol:      "BTCUSDT",
		OrderID:     "buy-1",
		Side:        string(entity.OrderSideBuy),
		OrderStatus: string(entity.OrderStatusFilled),
		AvgPrice:    "29000",
	})

	fake.mu.Lock()
	defer fake.mu.Unlock()

	if got, want := len(fake.placedOrders), 1; got != want {
		t.Fatalf("placed %d mirror orders, want %d", got, want)
	}
	if fake.placedOrders[0].Side != entity.OrderSideSell {
		t.Errorf("mirror side = %s, want %s", fake.placedOrders[0].Side, entity.OrderSideSell)
	}
}

func TestEngineUntracksCancelledOrders(t *testing.T) {
	engine, _ := newTestEngine(t, false)
	ctx := context.Background()

	engine.track(ctx, TrackedOrder{OrderID: "buy-1", Side: string(entity.OrderSideBuy), Price: decimal.NewFromInt(29000)})

	engine.handleOrderUpdate(ctx, entity.OrderUpdate{
		Symbol:      "BTCUSDT",
		OrderID:     "buy-1",
		OrderStatus: string(entity.OrderStatusCanceled),
	})

	if got := engine.ActiveOrderCount(); got != 0 {
		t.Errorf("active orders = %d, want 0", got)
	}
}

func TestEngineRestoresRangeFromCheckpoint(t *testing.T) {
	fake := &fakeExchange{
		ticker: &entity.Ticker{
			Symbol:    "BTCUSDT",
			LastPrice: decimal.NewFromInt(30000),
		},
	}

	store := newMemoryStateStore()
	if err := store.Save(context.Background(), GridStateKey("BTCUSDT"), GridState{
		Symbol: "BTCUSDT",
		Low:    decimal.NewFromInt(27000),
		High:   decimal.NewFromInt(33000),
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	// zero bounds would normally trigger the auto range
	engine, err := NewEngine(EngineConfig{
		Symbol:   "BTCUSDT",
		Grids:    20,
		Qty:      decimal.NewFromFloat(0.001),
		TestMode: true,
	}, fake, nil, nil, nil, nil, store)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if got, want := engine.config.Low.String(), "27000"; got != want {
		t.Errorf("restored low = %s, want %s", got, want)
	}
	if got, want := engine.config.High.String(), "33000"; got != want {
		t.Errorf("restored high = %s, want %s", got, want)
	}

	// the run checkpoints back into the store
	state, found, err := store.Load(context.Background(), GridStateKey("BTCUSDT"))
	if err != nil || !found {
		t.Fatalf("checkpoint missing: found=%v err=%v", found, err)
	}
	if len(state.Levels) != 21 {
		t.Errorf("checkpointed %d levels, want 21", len(state.Levels))
	}
	if len(state.ActiveOrders) == 0 {
		t.Error("checkpoint holds no active orders")
	}
}

func TestEngineStopCancelsOrders(t *testing.T) {
	engine, fake := newTestEngine(t, false)
	ctx := context.Background()

	engine.grid, _ = BuildGrid(engine.config.Low, engine.config.High, engine.config.Grids)
	engine.track(ctx, TrackedOrder{OrderID: "buy-1", Side: string(entity.OrderSideBuy), Price: decimal.NewFromInt(29000)})

	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	fake.mu.Lock()
	cancelAll := fake.cancelAllHits
	fake.mu.Unlock()

	if cancelAll != 1 {
		t.Errorf("cancel-all called %d times, want 1", cancelAll)
	}
	if got := engine.ActiveOrderCount(); got != 0 {
		t.Errorf("active orders = %d, want 0", got)
	}

	if err := engine.Stop(ctx); err != ErrEngineStopped {
		t.Errorf("second Stop returned %v, want %v", err, ErrEngineStopped)
	}
}
