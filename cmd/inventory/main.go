package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-realtime-cart/internal/cart"
	"github.com/ariefcatur/go-realtime-cart/internal/config"
	"github.com/ariefcatur/go-realtime-cart/internal/inventory"
	kafkax "github.com/ariefcatur/go-realtime-cart/internal/kafka"
	"github.com/ariefcatur/go-realtime-cart/internal/logx"
	"github.com/ariefcatur/go-realtime-cart/internal/postgres"
	"github.com/ariefcatur/go-realtime-cart/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logx.New(cfg.ServiceName+"-inventory", cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("db")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &inventory.Service{
		Repo:        &inventory.StockRepo{DB: db},
		Redis:       rdb,
		ServiceName: "inventory",
		Log:         log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, cart.TopicPaymentProcessed, cfg.InventoryWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.WithFields(logrus.Fields{
			"group":   cfg.InventoryGroup,
			"topic":   cart.TopicPaymentProcessed,
			"workers": cfg.InventoryWorkers,
		}).Info("inventory consumer started")
		if err := cons.Start(ctx, svc.HandlePaymentProcessed); err != nil {
			log.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn("consumer did not stop in time")
	}
}
