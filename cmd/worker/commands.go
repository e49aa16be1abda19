package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/isp-billing/internal/kafka"
	"github.com/jmehdipour/isp-billing/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "Consume pass commands from Kafka and run them",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, log, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.Cfg
		consumer := kafka.NewConsumerFromConfig(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.CommandsTopic,
			GroupID:        cfg.Kafka.GroupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		w := worker.NewCommandWorker(consumer, a.Runner(), log)

		// graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		serveMetrics(ctx, log)

		log.Info("command worker started",
			zap.String("topic", cfg.Kafka.CommandsTopic), zap.String("group", cfg.Kafka.GroupID))
		return w.Run(ctx)
	},
}
