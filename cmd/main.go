/**
 * @description
 * This is the main entry point for the pin-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * database connection, the phoenixd node client and its notification feed,
 * the Nostr publisher, the message broker, the subscriber hub, repositories,
 * the core application service, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store, internal/ws: Internal packages.
 * - pkg/phoenixclient, pkg/nostrclient, pkg/rabbitmq: Clients for external collaborators.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/zapin/pin-service/internal/api"
	"github.com/zapin/pin-service/internal/app"
	"github.com/zapin/pin-service/internal/config"
	"github.com/zapin/pin-service/internal/store"
	"github.com/zapin/pin-service/internal/ws"
	"github.com/zapin/pin-service/pkg/nostrclient"
	"github.com/zapin/pin-service/pkg/phoenixclient"
	rmrabbit "github.com/zapin/pin-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.PhoenixAPIURL) == "" || strings.TrimSpace(cfg.PhoenixAPIPassword) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"phoenixd api must be configured\" env=PHOENIX_API_URL,PHOENIX_API_PASSWORD")
	}

	log.Printf("level=info component=bootstrap msg=\"starting pin-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for pin lifecycle events. The broker
	// is optional; without it publishing degrades to a no-op fallback.
	var eventProducer rmrabbit.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; lifecycle events disabled\"")
		eventProducer = &rmrabbit.EventProducerFallback{}
	} else if producer, prodErr := rmrabbit.NewEventProducer(cfg.RabbitMQURL); prodErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
		eventProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer producer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		eventProducer = producer
	}

	// Initialize the client for the phoenixd Lightning node.
	phoenixClient := phoenixclient.NewClient(cfg.PhoenixAPIURL, cfg.PhoenixAPIPassword)

	// Initialize the Nostr publisher. Missing configuration should not
	// prevent the service from booting; note publication will degrade.
	var notePublisher app.NotePublisher
	if strings.TrimSpace(cfg.NostrSecretKey) == "" || len(cfg.NostrRelayList()) == 0 {
		log.Println("level=warn component=bootstrap msg=\"nostr publisher not configured; note publication disabled\"")
	} else {
		nostrClient, nostrErr := nostrclient.NewClient(cfg.NostrSecretKey, cfg.NostrRelayList())
		if nostrErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"nostr client init failed; note publication disabled\" err=%v", nostrErr)
		} else {
			notePublisher = nostrClient
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// The hub is the single owner of subscriber sessions; it is created here
	// and passed down, never shared as package state.
	hub := ws.NewHub()

	// Initialize the core application service with its dependencies.
	pinService := app.NewService(repository, phoenixClient, eventProducer, cfg.PinEventExchange)

	if cfg.NewInvoiceRateLimitPerMin > 0 && cfg.RedisURL != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; invoice rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; invoice rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
				pinService.SetRateLimiter(
					app.NewRedisInvoiceRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
					cfg.NewInvoiceRateLimitPerMin,
				)
			}
		}
	}

	// Wire the settlement pipeline: the node's push feed drives the consumer,
	// one notice at a time in arrival order.
	settlementConsumer := app.NewSettlementConsumer(
		repository,
		phoenixClient,
		notePublisher,
		hub,
		eventProducer,
		cfg.PinEventExchange,
		cfg.PinBaseURL,
		cfg.NjumpBaseURL,
	)

	feed := phoenixclient.NewFeed(cfg.PhoenixAPIURL, cfg.PhoenixAPIPassword, settlementConsumer.HandleRaw)
	go feed.Run()
	defer feed.Close()

	// Start the periodic pin sweep.
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, slogger, time.Duration(cfg.StalePendingTTLMinutes)*time.Minute)
	scheduler := app.NewScheduler(jobs, slogger, cfg.PinSweepSchedule)
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers and router.
	pinHandlers := api.NewPinHandlers(pinService)
	router := api.PinRoutes(pinHandlers, hub)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
