package app

import (
	"context"
	"time"

	"braibit-api/internal/models"

	"go.uber.org/zap"
)

// BlockProducer is the part of the ledger driven by the confirmation simulator.
type BlockProducer interface {
	Tick(ctx context.Context) (models.Block, int)
}

// ConfirmationTask produces one cosmetic block per interval and advances
// pending transactions by one confirmation each time.
func ConfirmationTask(producer BlockProducer, interval time.Duration, logger *zap.Logger) Task {
	return Task{
		Name:     "confirmations",
		Interval: interval,
		Run: func(ctx context.Context) {
			block, confirmed := producer.Tick(ctx)
			if confirmed > 0 {
				logger.Info("Transactions confirmed",
					zap.Int64("block", block.Number),
					zap.Int("confirmed", confirmed),
				)
			}
		},
	}
}
