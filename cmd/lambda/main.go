package main

import (
	"context"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/app"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/config"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/logging"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/tracing"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	zlog "github.com/rs/zerolog/log"
)

// The Lambda build serves the same router behind API Gateway. Pair it with
// STORE_BACKEND=dynamo and NOTIFY_BACKEND=sqs.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel, false)

	if _, err := tracing.Init(cfg.ServiceName, cfg.JaegerEndpoint); err != nil {
		log.Fatal().Err(err).Msg("tracing init")
	}

	a, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build")
	}

	adapter := httpadapter.New(a.Handler)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
