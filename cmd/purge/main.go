// Command purge deletes blocklist rows whose access tokens have expired.
// It is meant to be run from cron or a scheduled job.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/Skotchmaster/dailyquiz/internal/config"
	"github.com/Skotchmaster/dailyquiz/internal/db"
	"github.com/Skotchmaster/dailyquiz/internal/events"
	"github.com/Skotchmaster/dailyquiz/internal/logging"
	"github.com/Skotchmaster/dailyquiz/internal/repo"
	"github.com/Skotchmaster/dailyquiz/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel).With("cmd", "purge")

	if err := run(logging.IntoContext(context.Background(), logger), cfg); err != nil {
		logger.Error("purge failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	gdb, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	_, err = service.New(repo.New(gdb, nil), nil, nil, publisher).PurgeExpiredBlocklist(ctx)
	return err
}
