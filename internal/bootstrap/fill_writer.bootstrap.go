package bootstrap

import (
	"context"

	"github.com/krobus00/grid-bot/internal/config"
	"github.com/krobus00/grid-bot/internal/entity"
	"github.com/krobus00/grid-bot/internal/infrastructure"
	"github.com/krobus00/grid-bot/internal/repository"
	"github.com/krobus00/grid-bot/internal/service/fillwriter"
	"github.com/krobus00/grid-bot/internal/util"
	"github.com/spf13/cobra"
)

// StartFillWriter runs the worker that drains fill events from jetstream
// into postgres.
func StartFillWriter(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database)
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, config.Env.Database.PingInterval)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	fillRepo := repository.NewFillRepository(db)
	activeOrderRepo := repository.NewActiveOrderRepository(db)

	fillWriterService := fillwriter.NewFillWriterService(js, fillRepo, activeOrderRepo)

	subscribers := make([]entity.Subscriber, 0)
	subscribers = append(subscribers, fillWriterService)
	for _, v := range subscribers {
		err = v.JetstreamEventSubscribe(ctx)
		util.ContinueOrFatal(err)
	}

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"database": func(ctx context.Context) error {
			cancel()
			return db.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}
