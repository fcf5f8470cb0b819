package grid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/krobus00/grid-bot/internal/constant"
	"github.com/krobus00/grid-bot/internal/entity"
	"github.com/krobus00/grid-bot/internal/repository"
	"github.com/krobus00/grid-bot/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrExchangeNotSet = errors.New("exchange not set")
	ErrInvalidRange   = errors.New("invalid grid range")
	ErrEngineStopped  = errors.New("engine already stopped")
)

type EngineConfig struct {
	Symbol        string
	Low           decimal.Decimal
	High          decimal.Decimal
	Grids         int
	Qty           decimal.Decimal
	TestMode      bool
	StatsInterval time.Duration
	StateKey      string
}

// Engine runs one grid over one symbol: it lays out the opening orders,
// listens to the private order stream, and replaces every fill with its
// mirror order on the neighbouring level.
type Engine struct {
	mu       sync.Mutex
	config   EngineConfig
	exchange entity.Exchange
	js       nats.JetStreamContext

	activeOrderRepo *repository.ActiveOrderRepository
	botLogRepo      *repository.BotLogRepository
	fillRepo        *repository.FillRepository
	stateStore      GridStateStore

	grid         *Grid
	activeOrders map[string]TrackedOrder
	stopped      bool
}

func NewEngine(
	config EngineConfig,
	exchange entity.Exchange,
	js nats.JetStreamContext,
	activeOrderRepo *repository.ActiveOrderRepository,
	botLogRepo *repository.BotLogRepository,
	fillRepo *repository.FillRepository,
	stateStore GridStateStore,
) (*Engine, error) {
	if exchange == nil {
		return nil, ErrExchangeNotSet
	}
	if config.Symbol == "" {
		config.Symbol = "BTCUSDT"
	}
	if config.Grids < 2 {
		config.Grids = 20
	}
	if config.Qty.LessThanOrEqual(decimal.Zero) {
		config.Qty = decimal.NewFromFloat(0.001)
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = time.Minute
	}
	if config.StateKey == "" {
		config.StateKey = GridStateKey(config.Symbol)
	}

	return &Engine{
		config:          config,
		exchange:        exchange,
		js:              js,
		activeOrderRepo: activeOrderRepo,
		botLogRepo:      botLogRepo,
		fillRepo:        fillRepo,
		stateStore:      stateStore,
		activeOrders:    make(map[string]TrackedOrder),
	}, nil
}

func (e *Engine) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.FillStreamName,
		Subjects:  []string{constant.FillStreamSubjectAll},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	}

	stream, err := e.js.StreamInfo(constant.FillStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.FillStreamName)
		_, err = e.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.FillStreamName)
	_, err = e.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

// Start resolves the grid range, clears stale exchange orders, places the
// opening orders, and blocks consuming the private order stream until ctx
// is canceled. In test mode it simulates a fill on every other order and
// returns without connecting to the stream.
func (e *Engine) Start(ctx context.Context) error {
	midPrice, err := e.resolveStartPrice(ctx)
	if err != nil {
		return err
	}

	if err := e.resolveRange(ctx, midPrice); err != nil {
		return err
	}

	g, err := BuildGrid(e.config.Low, e.config.High, e.config.Grids)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	e.grid = g

	logrus.WithFields(logrus.Fields{
		"symbol": e.config.Symbol,
		"low":    e.config.Low,
		"high":   e.config.High,
		"grids":  e.config.Grids,
		"qty":    e.config.Qty,
		"mid":    midPrice,
	}).Info("starting grid")

	if e.js != nil {
		if err := e.JetstreamEventInit(ctx); err != nil {
			return err
		}
	}

	if !e.config.TestMode {
		if open, err := e.exchange.GetOpenOrders(ctx, e.config.Symbol); err != nil {
			logrus.Warnf("list open orders failed: %v", err)
		} else if len(open) > 0 {
			logrus.Infof("cancelling %d stale open orders", len(open))
		}

		if err := e.exchange.CancelAllOrders(ctx, e.config.Symbol); err != nil {
			logrus.Warnf("cancel stale orders failed: %v", err)
		}
	}

	if err := e.placeInitialOrders(ctx, midPrice); err != nil {
		return err
	}

	e.checkpoint(ctx)
	e.logEvent(ctx, "grid_started", fmt.Sprintf("grid started with %d active orders", len(e.activeOrders)))

	if e.config.TestMode {
		return e.simulateFills(ctx)
	}

	go e.statsLoop(ctx)

	return e.exchange.SubscribeOrderUpdates(ctx, e.handleOrderUpdate)
}

// Stop cancels every open grid order and checkpoints the final state.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	e.stopped = true
	e.mu.Unlock()

	if !e.config.TestMode {
		if err := e.exchange.CancelAllOrders(ctx, e.config.Symbol); err != nil {
			logrus.Error(err)
			return err
		}
	}

	e.mu.Lock()
	e.activeOrders = make(map[string]TrackedOrder)
	e.mu.Unlock()

	e.checkpoint(ctx)
	e.logEvent(ctx, "grid_stopped", "grid stopped, open orders cancelled")

	return nil
}

// ProfitStats reports the realized numbers for the engine's symbol.
func (e *Engine) ProfitStats(ctx context.Context) (*entity.ProfitStats, error) {
	if e.fillRepo == nil {
		return nil, fmt.Errorf("fill repository not set")
	}

	return e.fillRepo.GetProfitStats(ctx, e.config.Symbol)
}

// ActiveOrderCount returns how many grid orders the engine is tracking.
func (e *Engine) ActiveOrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.activeOrders)
}

func (e *Engine) resolveStartPrice(ctx context.Context) (decimal.Decimal, error) {
	ticker, err := e.exchange.GetTicker(ctx, e.config.Symbol)
	if err != nil {
		// fall back to the midpoint of the configured bounds
		if e.config.Low.IsPositive() && e.config.High.GreaterThan(e.config.Low) {
			mid := e.config.Low.Add(e.config.High).Div(decTwo)
			logrus.Warnf("ticker unavailable, using configured midpoint %s: %v", mid, err)
			return mid, nil
		}
		return decimal.Zero, err
	}

	return ticker.LastPrice, nil
}

// resolveRange keeps the configured bounds when both are set. Otherwise a
// checkpointed range from a previous run wins, and only then are bounds
// derived from 24h volatility around the current price.
func (e *Engine) resolveRange(ctx context.Context, midPrice decimal.Decimal) error {
	if e.config.Low.IsPositive() && e.config.High.GreaterThan(e.config.Low) {
		return nil
	}

	if e.stateStore != nil {
		state, found, err := e.stateStore.Load(ctx, e.config.StateKey)
		if err != nil {
			logrus.Errorf("load grid state failed: %v", err)
		}
		if found && state.Symbol == e.config.Symbol &&
			state.Low.IsPositive() && state.High.GreaterThan(state.Low) &&
			midPrice.GreaterThan(state.Low) && midPrice.LessThan(state.High) {
			logrus.WithFields(logrus.Fields{
				"symbol": e.config.Symbol,
				"low":    state.Low,
				"high":   state.High,
			}).Info("grid range restored from checkpoint")

			e.config.Low = state.Low
			e.config.High = state.High

			return nil
		}
	}

	ticker, err := e.exchange.GetTicker(ctx, e.config.Symbol)
	if err != nil {
		return fmt.Errorf("%w: bounds not configured and ticker unavailable: %v", ErrInvalidRange, err)
	}

	low, high := AutoRange(*ticker)
	if !high.GreaterThan(low) {
		return fmt.Errorf("%w: auto range produced %s..%s", ErrInvalidRange, low, high)
	}

	logrus.WithFields(logrus.Fields{
		"symbol": e.config.Symbol,
		"low":    low,
		"high":   high,
		"mid":    midPrice,
	}).Info("auto range resolved from 24h volatility")

	e.config.Low = low
	e.config.High = high

	return nil
}

func (e *Engine) placeInitialOrders(ctx context.Context, midPrice decimal.Decimal) error {
	requests := e.grid.InitialOrders(midPrice)

	placed := 0
	for _, req := range requests {
		req.Symbol = e.config.Symbol
		req.Qty = e.config.Qty
		req.OrderLinkID = newOrderLinkID()

		tracked, err := e.submitOrder(ctx, req)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"side":  req.Side,
				"price": req.Price,
			}).Errorf("initial order failed: %v", err)
			continue
		}

		placed++
		e.track(ctx, *tracked)
	}

	if placed == 0 {
		return fmt.Errorf("no initial orders placed for %s", e.config.Symbol)
	}

	logrus.Infof("placed %d/%d initial orders", placed, len(requests))

	return nil
}

func (e *Engine) submitOrder(ctx context.Context, req entity.OrderRequest) (*TrackedOrder, error) {
	level := e.grid.NearestLevel(req.Price)

	if e.config.TestMode {
		return &TrackedOrder{
			OrderID:     newOrderLinkID(),
			OrderLinkID: req.OrderLinkID,
			Side:        string(req.Side),
			Price:       req.Price,
			Qty:         req.Qty,
			Level:       level,
		}, nil
	}

	placed, err := e.exchange.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	return &TrackedOrder{
		OrderID:     placed.OrderID,
		OrderLinkID: placed.OrderLinkID,
		Side:        string(req.Side),
		Price:       req.Price,
		Qty:         req.Qty,
		Level:       level,
	}, nil
}

func (e *Engine) track(ctx context.Context, order TrackedOrder) {
	e.mu.Lock()
	e.activeOrders[order.OrderID] = order
	e.mu.Unlock()

	if e.activeOrderRepo == nil {
		return
	}

	now := time.Now().UTC()
	err := e.activeOrderRepo.Upsert(ctx, &entity.ActiveOrder{
		OrderID:     order.OrderID,
		OrderLinkID: sqlNullString(order.OrderLinkID),
		Symbol:      e.config.Symbol,
		Side:        entity.OrderSide(order.Side),
		Price:       order.Price,
		Qty:         order.Qty,
		GridLevel:   sqlNullInt64(int64(order.Level)),
		Status:      entity.OrderStatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		logrus.Errorf("persist active order failed: %v", err)
	}
}

func (e *Engine) untrack(ctx context.Context, orderID string) {
	e.mu.Lock()
	delete(e.activeOrders, orderID)
	e.mu.Unlock()

	if e.activeOrderRepo == nil {
		return
	}

	if err := e.activeOrderRepo.Delete(ctx, orderID); err != nil {
		logrus.Errorf("delete active order failed: %v", err)
	}
}

// handleOrderUpdate reacts to private stream events. Only terminal fills
// trigger work: the fill is published for the writer worker and the mirror
// order for the neighbouring level is placed.
func (e *Engine) handleOrderUpdate(ctx context.Context, update entity.OrderUpdate) {
	if update.Symbol != "" && !strings.EqualFold(update.Symbol, e.config.Symbol) {
		return
	}

	switch entity.OrderStatus(update.OrderStatus) {
	case entity.OrderStatusFilled:
		// only react to our own orders, the account may carry manual
		// trades or orders from another bot
		if !e.isTracked(update.OrderID) {
			logrus.Warnf("ignoring fill for untracked order %s", update.OrderID)
			return
		}
		e.onFill(ctx, update)
	case entity.OrderStatusCanceled:
		e.untrack(ctx, update.OrderID)
	default:
	}
}

func (e *Engine) onFill(ctx context.Context, update entity.OrderUpdate) {
	fillPrice := decimalOrZero(update.AvgPrice)
	if fillPrice.IsZero() {
		fillPrice = decimalOrZero(update.Price)
	}

	logger := logrus.WithFields(logrus.Fields{
		"symbol":  e.config.Symbol,
		"orderID": update.OrderID,
		"side":    update.Side,
		"price":   fillPrice,
	})
	logger.Info("order filled")

	e.untrack(ctx, update.OrderID)

	fill := entity.Fill{
		OrderID:     update.OrderID,
		OrderLinkID: sqlNullString(update.OrderLinkID),
		Symbol:      e.config.Symbol,
		Side:        entity.OrderSide(update.Side),
		Price:       fillPrice,
		Qty:         decimalOrZero(update.Qty),
		Fee:         decimalOrZero(update.ExecFee),
		FeeCurrency: sqlNullString(update.FeeCurrency),
		Timestamp:   time.Now().UTC().Unix(),
		CreatedAt:   time.Now().UTC(),
	}

	e.publishFill(logger, fill)

	mirror := e.grid.MirrorOrder(entity.OrderSide(update.Side), fillPrice)
	if mirror == nil {
		logger.Warn("fill at grid edge, no mirror order")
		e.checkpoint(ctx)
		return
	}

	if e.hasOrderAt(mirror.Side, mirror.Price) {
		logger.Warnf("mirror level %s already occupied", mirror.Price)
		e.checkpoint(ctx)
		return
	}

	mirror.Symbol = e.config.Symbol
	mirror.Qty = e.config.Qty
	mirror.OrderLinkID = newOrderLinkID()

	tracked, err := e.submitOrder(ctx, *mirror)
	if err != nil {
		logger.Errorf("mirror order failed: %v", err)
		e.logEvent(ctx, "mirror_order_failed", err.Error())
		e.checkpoint(ctx)
		return
	}

	e.track(ctx, *tracked)
	logger.WithFields(logrus.Fields{
		"mirrorSide":  mirror.Side,
		"mirrorPrice": mirror.Price,
	}).Info("mirror order placed")

	e.checkpoint(ctx)
}

func (e *Engine) publishFill(logger *logrus.Entry, fill entity.Fill) {
	if e.js == nil {
		// no broker wired, write synchronously as a fallback
		if e.fillRepo != nil {
			if err := e.fillRepo.Create(context.Background(), &fill); err != nil {
				logger.Errorf("record fill failed: %v", err)
			}
		}
		return
	}

	err := util.PublishEvent(e.js, constant.FillStreamSubjectData, entity.FillEvent{Data: fill})
	if err != nil {
		logger.Errorf("publish fill event failed: %v", err)
	}
}

func (e *Engine) isTracked(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.activeOrders[orderID]
	return ok
}

// hasOrderAt reports whether an active order with the same side already
// sits on the given price level.
func (e *Engine) hasOrderAt(side entity.OrderSide, price decimal.Decimal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, order := range e.activeOrders {
		if entity.OrderSide(order.Side) == side && order.Price.Equal(price) {
			return true
		}
	}

	return false
}

// simulateFills walks the opening orders and fakes a fill on every other
// one, exercising the full fill path without an exchange round trip.
func (e *Engine) simulateFills(ctx context.Context) error {
	e.mu.Lock()
	orders := make([]TrackedOrder, 0, len(e.activeOrders))
	for _, order := range e.activeOrders {
		orders = append(orders, order)
	}
	e.mu.Unlock()

	for i, order := range orders {
		if i%2 != 0 {
			continue
		}

		e.handleOrderUpdate(ctx, entity.OrderUpdate{
			Symbol:      e.config.Symbol,
			OrderID:     order.OrderID,
			OrderLinkID: order.OrderLinkID,
			Side:        order.Side,
			OrderStatus: string(entity.OrderStatusFilled),
			Price:       order.Price.String(),
			AvgPrice:    order.Price.String(),
			Qty:         order.Qty.String(),
		})
	}

	logrus.Infof("test run complete, %d orders remain active", e.ActiveOrderCount())

	return nil
}

func (e *Engine) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := e.ProfitStats(ctx)
			if err != nil {
				logrus.Errorf("profit stats failed: %v", err)
				continue
			}

			logrus.WithFields(logrus.Fields{
				"symbol":          stats.Symbol,
				"totalFills":      stats.TotalFills,
				"buys":            stats.BuyCount,
				"sells":           stats.SellCount,
				"fees":            stats.TotalFees,
				"estimatedProfit": stats.EstimatedProfit,
				"activeOrders":    e.ActiveOrderCount(),
			}).Info("grid stats")
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) checkpoint(ctx context.Context) {
	if e.stateStore == nil {
		return
	}

	e.mu.Lock()
	orders := make([]TrackedOrder, 0, len(e.activeOrders))
	for _, order := range e.activeOrders {
		orders = append(orders, order)
	}
	e.mu.Unlock()

	state := GridState{
		Symbol:       e.config.Symbol,
		Low:          e.config.Low,
		High:         e.config.High,
		Levels:       e.grid.Levels,
		ActiveOrders: orders,
	}

	if err := e.stateStore.Save(ctx, e.config.StateKey, state); err != nil {
		logrus.Errorf("checkpoint grid state failed: %v", err)
	}
}

func (e *Engine) logEvent(ctx context.Context, eventType, message string) {
	if e.botLogRepo == nil {
		return
	}

	details, _ := json.Marshal(map[string]any{
		"low":   e.config.Low,
		"high":  e.config.High,
		"grids": e.config.Grids,
		"qty":   e.config.Qty,
	})

	err := e.botLogRepo.Create(ctx, &entity.BotLog{
		EventType: eventType,
		Symbol:    sqlNullString(e.config.Symbol),
		Message:   message,
		Details:   string(details),
		Timestamp: time.Now().UTC().Unix(),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		logrus.Errorf("write bot log failed: %v", err)
	}
}

func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func sqlNullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

func newOrderLinkID() string {
	return "grid-" + uuid.NewString()
}

func decimalOrZero(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}

	return value
}
