package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/npezzotti/go-chatrelay/internal/api"
	"github.com/npezzotti/go-chatrelay/internal/blob"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/events"
	"github.com/npezzotti/go-chatrelay/internal/relay"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/translate"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr              string
	dsn               string
	signingKey        string
	allowedOrigins    stringSliceFlag
	uploadDir         string
	translateURL      string
	amqpURL           string
	amqpExchange      string
	ringTimeout       time.Duration
	retractAuthorOnly bool
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "", "postgres connection string; messages and accounts are kept in memory when empty")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&uploadDir, "upload-dir", config.DefaultUploadDir, "directory uploaded images are stored in")
	flag.StringVar(&translateURL, "translate-url", config.DefaultTranslateURL, "translation service endpoint")
	flag.StringVar(&amqpURL, "amqp-url", "", "AMQP broker URL for the message event feed; disabled when empty")
	flag.StringVar(&amqpExchange, "amqp-exchange", config.DefaultAmqpExchange, "AMQP topic exchange for message events")
	flag.DurationVar(&ringTimeout, "ring-timeout", 0, "end calls still ringing after this long; 0 disables")
	flag.BoolVar(&retractAuthorOnly, "retract-author-only", false, "only allow the sender to retract a message")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-chatrelay] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins,
		config.WithUploadDir(uploadDir),
		config.WithTranslateURL(translateURL),
		config.WithAmqp(amqpURL, amqpExchange),
		config.WithRingTimeout(ringTimeout),
		config.WithRetractAuthorOnly(retractAuthorOnly),
	)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var repo database.Repository
	if cfg.DatabaseDSN != "" {
		pg, err := database.NewPgRepository(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Println("db close:", err)
			}
		}()

		if err := pg.Migrate(); err != nil {
			logger.Fatal("db migrate:", err)
		}
		repo = pg
	} else {
		logger.Println("no -dsn given, using in-memory store")
		repo = database.NewMemoryRepository()
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AmqpURL != "" {
		rp, err := events.NewRabbitPublisher(cfg.AmqpURL, cfg.AmqpExchange, logger)
		if err != nil {
			logger.Fatal("amqp:", err)
		}
		publisher = rp
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Println("amqp close:", err)
		}
	}()

	blobs, err := blob.NewDiskStore(cfg.UploadDir, "/uploads")
	if err != nil {
		logger.Fatal("blob store:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatRelay := relay.NewRelay(logger, repo, publisher, statsUpdater, relay.Options{
		RingTimeout:       cfg.RingTimeout,
		RetractAuthorOnly: cfg.RetractAuthorOnly,
	})

	srv := api.NewRelayApp(mux, logger, chatRelay, repo, blobs,
		translate.NewClient(cfg.TranslateURL, logger), cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down relay...")
	if err := chatRelay.Shutdown(shutDownCtx); err != nil {
		logger.Println("relay shutdown:", err)
	}

	logger.Println("shutdown complete")
}
