package main

import (
	"context"
	"errors"
	"os"

	"frota/internal/amqp"
	"frota/internal/backend"
	"frota/internal/cli"
	"frota/internal/config"
	"frota/internal/log"
	"frota/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting frota-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	ledger, err := backend.NewFactory(logger).OpenLedger(ctx, backend.Config{GoogleSpreadsheetID: cfg.GoogleSpreadsheetID})
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err)
		os.Exit(1)
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	exporter := worker.NewExportWorker(ledger, logger)
	if err := exporter.EnsureHeaders(ctx); err != nil {
		// Headers are retried lazily per sheet on the first row.
		logger.Error("Failed to write ledger headers", log.FieldError, err)
	}

	logger.Info("Consuming lifecycle events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	if err := client.ConsumeEvents(ctx, exporter.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Event consumption failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete", log.FieldOperation, log.OpShutdown)
}
