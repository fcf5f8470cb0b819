package bootstrap

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/krobus00/grid-bot/internal/config"
	"github.com/krobus00/grid-bot/internal/infrastructure"
	"github.com/krobus00/grid-bot/internal/repository"
	"github.com/krobus00/grid-bot/internal/service/exchange"
	"github.com/krobus00/grid-bot/internal/service/grid"
	"github.com/krobus00/grid-bot/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartGridBot wires the trading process: postgres, jetstream, redis, the
// exchange client, one grid engine, and a small HTTP surface for health
// and stats.
func StartGridBot(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	overrideEngineFlags(cmd)

	testMode, _ := cmd.Flags().GetBool("test")

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database)
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, config.Env.Database.PingInterval)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	stateStore, err := grid.NewRedisGridStateStore(config.Env.RedisDSN)
	util.ContinueOrFatal(err)

	fillRepo := repository.NewFillRepository(db)
	activeOrderRepo := repository.NewActiveOrderRepository(db)
	botLogRepo := repository.NewBotLogRepository(db)

	bybit := exchange.InitBybitExchange(config.Env)

	engine, err := grid.NewEngine(grid.EngineConfig{
		Symbol:        config.Env.Symbol,
		Low:           config.Env.Low,
		High:          config.Env.High,
		Grids:         config.Env.Grids,
		Qty:           config.Env.Qty,
		TestMode:      testMode,
		StatsInterval: config.Env.StatsInterval,
	}, bybit, js, activeOrderRepo, botLogRepo, fillRepo, stateStore)
	util.ContinueOrFatal(err)

	httpServer := infrastructure.NewHTTPServer(newBotMux(engine))
	go func() {
		err := httpServer.Start()
		util.ContinueOrFatal(err)
	}()

	engineCtx, engineCancel := context.WithCancel(ctx)
	go func() {
		err := engine.Start(engineCtx)
		util.ContinueOrFatal(err)
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"grid engine": func(ctx context.Context) error {
			engineCancel()
			return engine.Stop(ctx)
		},
		"http server": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"database": func(ctx context.Context) error {
			cancel()
			return db.Close()
		},
		"redis cache": func(ctx context.Context) error {
			return stateStore.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}

// overrideEngineFlags lets run flags win over the environment config.
func overrideEngineFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("symbol") {
		config.Env.Symbol, _ = cmd.Flags().GetString("symbol")
	}
	if cmd.Flags().Changed("low") {
		raw, _ := cmd.Flags().GetString("low")
		util.ContinueOrFatal(config.Env.Low.UnmarshalText([]byte(raw)))
	}
	if cmd.Flags().Changed("high") {
		raw, _ := cmd.Flags().GetString("high")
		util.ContinueOrFatal(config.Env.High.UnmarshalText([]byte(raw)))
	}
	if cmd.Flags().Changed("grids") {
		config.Env.Grids, _ = cmd.Flags().GetInt("grids")
	}
	if cmd.Flags().Changed("qty") {
		raw, _ := cmd.Flags().GetString("qty")
		util.ContinueOrFatal(config.Env.Qty.UnmarshalText([]byte(raw)))
	}
}

func newBotMux(engine *grid.Engine) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := engine.ProfitStats(r.Context())
		if err != nil {
			logrus.Error(err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]any{
			"stats":         stats,
			"active_orders": engine.ActiveOrderCount(),
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.Error(err)
	}
}
