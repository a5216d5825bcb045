package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/app"
	"github.com/dragon-marcel/mat-gwiazda/internal/config"
	"github.com/dragon-marcel/mat-gwiazda/internal/content"
	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/dragon-marcel/mat-gwiazda/internal/infra/memory"
	"github.com/dragon-marcel/mat-gwiazda/internal/infra/postgres"
	"github.com/dragon-marcel/mat-gwiazda/internal/infra/rabbitmq"
	infraredis "github.com/dragon-marcel/mat-gwiazda/internal/infra/redis"
	"github.com/dragon-marcel/mat-gwiazda/internal/metrics"
	"github.com/dragon-marcel/mat-gwiazda/internal/telemetry"
	transport "github.com/dragon-marcel/mat-gwiazda/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the practice server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// practiceStore is what the server needs from a backing store.
type practiceStore interface {
	app.Store
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	Ping(ctx context.Context) error
}

// eventFeed receives and streams lifecycle events and tracks who is connected.
type eventFeed interface {
	app.EventPublisher
	transport.Feed
	transport.Presence
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var store practiceStore = memory.NewStore()
	var loader memory.LevelLoader = memory.NewStaticLevelLoader(defaultLevels())
	if cfg.Postgres.URL != "" {
		db := postgres.Open(cfg.Postgres.URL)
		defer db.Close()
		if err := migrateDB(ctx, db); err != nil {
			return err
		}
		store = postgres.NewStore(db)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewLevelLoader(pool)
	} else {
		log.Printf("postgres url not configured, using in-memory store")
	}

	levelTTL := config.TTLDuration(cfg.Levels.TTL, 10*time.Minute)
	var levels app.LevelRepository
	var feed eventFeed
	if redisClient != nil {
		levels = infraredis.NewLevelRepository(redisClient, loader, levelTTL)
		feed = infraredis.NewFeed(redisClient, redisTTL)
	} else {
		levels = memory.NewLevelRepository(loader, levelTTL)
		feed = memory.NewHub()
	}

	publishers := []app.EventPublisher{feed}
	if cfg.AMQP.URL != "" {
		amqpPublisher, err := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer amqpPublisher.Close()
		publishers = append(publishers, amqpPublisher)
	}

	policy, err := app.ParseDeactivationPolicy(cfg.Progression.DeactivatePolicy)
	if err != nil {
		return err
	}

	contentTimeout := config.TTLDuration(cfg.Content.Timeout, content.DefaultTimeout)
	generator := content.NewClient(content.Config{
		Endpoint: cfg.Content.Endpoint,
		Model:    cfg.Content.Model,
		APIKey:   cfg.Content.APIKey,
		Timeout:  contentTimeout,
		Referer:  cfg.Content.Referer,
		Title:    cfg.Content.Title,
	})

	recorder := metrics.NewRecorder()
	service := app.NewPracticeService(store, levels, generator,
		app.WithRetrier(app.Retrier{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     config.TTLDuration(cfg.Retry.Backoff, app.DefaultBackoff),
		}),
		app.WithDeactivationPolicy(policy),
		app.WithLevelThreshold(cfg.Progression.Threshold),
		app.WithContentTimeout(contentTimeout),
		app.WithEventPublishers(publishers...),
		app.WithMetrics(recorder),
	)
	wsHandler := transport.NewWSHandler(service, feed)

	mux := http.NewServeMux()
	checks := map[string]transport.HealthCheck{"store": store.Ping}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	mux.HandleFunc("/healthz", transport.NewHealthHandler(checks))
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	transport.NewAPI(service, store, feed).Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: contentTimeout + 15*time.Second,
	}

	go func() {
		log.Printf("starting practice service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// defaultLevels mirrors the seeded learning_levels rows for runs without Postgres.
func defaultLevels() map[int]domain.LearningLevel {
	return map[int]domain.LearningLevel{
		1: {Level: 1, Title: "Dodawanie do 10", Description: "Proste dodawanie liczb naturalnych w zakresie do 10."},
		2: {Level: 2, Title: "Odejmowanie do 10", Description: "Proste odejmowanie liczb naturalnych w zakresie do 10."},
		3: {Level: 3, Title: "Dodawanie i odejmowanie do 20", Description: "Dodawanie i odejmowanie z przekroczeniem progu dziesiątkowego w zakresie do 20."},
		4: {Level: 4, Title: "Dodawanie i odejmowanie do 100", Description: "Działania na liczbach dwucyfrowych w zakresie do 100."},
		5: {Level: 5, Title: "Mnożenie", Description: "Tabliczka mnożenia w zakresie do 100."},
		6: {Level: 6, Title: "Dzielenie", Description: "Dzielenie bez reszty w zakresie tabliczki mnożenia."},
		7: {Level: 7, Title: "Zadania tekstowe", Description: "Krótkie zadania tekstowe wymagające jednego działania."},
		8: {Level: 8, Title: "Ułamki", Description: "Proste ułamki zwykłe: połowa, ćwierć, porównywanie ułamków."},
	}
}
