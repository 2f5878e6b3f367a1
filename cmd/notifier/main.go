package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-checkout-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/logging"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/notify"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/redisx"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.ServiceName+"-notifier", cfg.LogLevel, cfg.LogPretty)

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	c := &notify.Consumer{
		Dedup:       redisx.NewDedup(rdb),
		Mailer:      notify.LogMailer{Log: log},
		ServiceName: cfg.ServiceName + "-notifier",
		Log:         log,
	}

	// SQS deployments run as a Lambda subscribed to the queue.
	if cfg.NotifyBackend == config.NotifySQS {
		lambda.Start(c.HandleSQS)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topics := []string{orders.TopicOrderPlaced, orders.TopicOrderPaid, orders.TopicOrderStatusChanged}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, topics, cfg.NotifyWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info().Str("group", cfg.KafkaGroupID).Strs("topics", topics).Int("workers", cfg.NotifyWorkers).Msg("notifier consumer started")
		if err := cons.Start(ctx, c.HandleMessage); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down consumer")
	cancel()
	<-done
}
