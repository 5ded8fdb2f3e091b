package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ariefcatur/go-realtime-cart/internal/cart"
	"github.com/ariefcatur/go-realtime-cart/internal/config"
	"github.com/ariefcatur/go-realtime-cart/internal/httpx"
	kafkax "github.com/ariefcatur/go-realtime-cart/internal/kafka"
	"github.com/ariefcatur/go-realtime-cart/internal/logx"
	"github.com/ariefcatur/go-realtime-cart/internal/postgres"
	"github.com/ariefcatur/go-realtime-cart/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "cart-api",
		Usage: "shopping cart HTTP API",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "down", Usage: "roll back all migrations"},
				},
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}
	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("cart-api exited")
	}
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logx.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	if err := postgres.Migrate(cfg.PostgresDSN, c.Bool("down")); err != nil {
		return err
	}
	log.WithField("down", c.Bool("down")).Info("migrations applied")
	return nil
}

func serve(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logx.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewCache(rdb)

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cart.TopicPaymentProcessed, 1024, log)
	prod.Start(ctx)

	repo := &cart.Repo{DB: db}
	engine := &cart.Engine{Store: repo, Catalog: repo, Cache: cache, Log: log.WithField("component", "engine")}
	h := &httpx.CartHandler{
		Engine: engine,
		Views:  &cart.Presenter{Engine: engine, Cache: cache, Log: log.WithField("component", "presenter")},
		Checkout: &cart.Finalizer{
			Store:     repo,
			Cache:     cache,
			Publisher: prod,
			Service:   cfg.ServiceName,
			Log:       log.WithField("component", "checkout"),
		},
		Products:   repo,
		Categories: repo,
		Identity:   httpx.Identity{Secret: []byte(cfg.JWTSecret)},
		Log:        log,
	}
	router := httpx.NewRouter(log, cfg.RequestTimeout)
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.WithField("signal", s.String()).Info("shutting down")
	case err = <-errCh:
		log.WithError(err).Error("listener failed")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // flush buffered events
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
	return err
}
