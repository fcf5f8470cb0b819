package fillwriter

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/krobus00/grid-bot/internal/config"
	"github.com/krobus00/grid-bot/internal/constant"
	"github.com/krobus00/grid-bot/internal/entity"
	"github.com/krobus00/grid-bot/internal/repository"
	"github.com/krobus00/grid-bot/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// FillWriterService drains the fill stream into postgres so the trading
// loop never blocks on the database.
type FillWriterService struct {
	js              nats.JetStreamContext
	fillRepo        *repository.FillRepository
	activeOrderRepo *repository.ActiveOrderRepository
}

func NewFillWriterService(
	js nats.JetStreamContext,
	fillRepo *repository.FillRepository,
	activeOrderRepo *repository.ActiveOrderRepository,
) *FillWriterService {
	return &FillWriterService{
		js:              js,
		fillRepo:        fillRepo,
		activeOrderRepo: activeOrderRepo,
	}
}

func (s *FillWriterService) JetstreamEventSubscribe(ctx context.Context) error {
	_, err := s.js.QueueSubscribe(
		constant.FillStreamSubjectData,
		constant.FillQueueName,
		func(msg *nats.Msg) {
			err := util.ProcessWithTimeout(config.Env.Nats.HandlerTimeout, msg, s.handleFillEvent)
			if err != nil {
				logrus.Errorf("error processing message: %v", err)
				return
			}

			err = msg.Ack()
			if err != nil {
				logrus.Errorf("failed to acknowledge message: %v", err)
				return
			}
		},
		nats.ManualAck(),
		nats.Durable(constant.FillQueueGroup),
	)
	util.ContinueOrFatal(err)

	return nil
}

func (s *FillWriterService) handleFillEvent(ctx context.Context, msg *nats.Msg) (err error) {
	logger := logrus.WithFields(logrus.Fields{
		"req": string(msg.Data),
	})

	var event *entity.FillEvent
	err = json.Unmarshal(msg.Data, &event)
	if err != nil {
		logger.Error(err)
		return err
	}

	defer func() {
		if err != nil {
			logger.Error(err)
			event.RetryCount++
			if event.RetryCount >= config.Env.Nats.MaxRetries {
				return
			}

			err := util.PublishEvent(s.js, constant.FillStreamSubjectData, event)
			if err != nil {
				logger.Error(err)
				return
			}
		}
	}()

	err = s.fillRepo.Create(ctx, &event.Data)
	if err != nil {
		return err
	}

	// the filled order is no longer open, drop it from the active set
	if event.Data.OrderID != "" {
		err = s.activeOrderRepo.Delete(ctx, event.Data.OrderID)
		if err != nil {
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"symbol": event.Data.Symbol,
		"side":   event.Data.Side,
		"price":  event.Data.Price,
	}).Info("fill recorded")

	return nil
}
