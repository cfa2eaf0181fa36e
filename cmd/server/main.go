package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	billingmod "github.com/parishkit/parishkit/modules/billing"
	"github.com/parishkit/parishkit/pkg/billing"
	"github.com/parishkit/parishkit/pkg/config"
	"github.com/parishkit/parishkit/pkg/gateway"
	"github.com/parishkit/parishkit/pkg/gating"
	"github.com/parishkit/parishkit/pkg/httpserver"
	"github.com/parishkit/parishkit/pkg/logger"
	"github.com/parishkit/parishkit/pkg/pg"
	"github.com/parishkit/parishkit/pkg/redis"
)

type appConfig struct {
	Env            string        `env:"APP_ENV" envDefault:"development"`
	ServiceName    string        `env:"APP_NAME" envDefault:"parishkit"`
	PlansPath      string        `env:"PLANS_PATH" envDefault:"plans.yaml"`
	StatusCacheTTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"1m"`
}

func main() {
	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(
		logger.WithEnvironment(appCfg.Env, appCfg.ServiceName),
		logger.WithContextExtractors(parishIDExtractor),
	)
	logger.SetAsDefault(log)

	ctx := context.Background()

	var pgCfg pg.Config
	config.MustLoad(&pgCfg)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		log.ErrorContext(ctx, "failed to connect to postgres", logger.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		log.ErrorContext(ctx, "failed to apply migrations", logger.Error(err))
		os.Exit(1)
	}

	var redisCfg redis.Config
	config.MustLoad(&redisCfg)

	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		log.ErrorContext(ctx, "failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	var gwCfg gateway.Config
	config.MustLoad(&gwCfg)

	gw, err := gateway.New(gwCfg)
	if err != nil {
		log.ErrorContext(ctx, "failed to create gateway client", logger.Error(err))
		os.Exit(1)
	}

	store := billing.NewPGStore(pool)

	if err := seedPlans(ctx, store, appCfg.PlansPath, log); err != nil {
		log.ErrorContext(ctx, "failed to seed plan catalog", logger.Error(err))
		os.Exit(1)
	}

	service := billing.NewService(store, gw,
		billing.WithServiceLogger(log.With(logger.Component("billing.service"))))
	engine := billing.NewEngine(store, gw,
		billing.WithEngineLogger(log.With(logger.Component("billing.engine"))))

	gate := gating.New(store,
		gating.WithCache(gating.NewRedisCache(redisClient, appCfg.StatusCacheTTL)),
		gating.WithLogger(log.With(logger.Component("gating"))))

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", httpserver.HealthCheckHandler(ctx, log))
	r.Get("/ready", httpserver.HealthCheckHandler(ctx, log,
		pg.Healthcheck(pool), redis.Healthcheck(redisClient)))

	r.Mount("/billing", billingmod.Router(billingmod.RouterOptions{
		Service: service,
		Engine:  engine,
		Store:   store,
		Gating:  gate,
	}))

	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)

	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))
	if err := srv.Run(ctx, r); err != nil {
		log.ErrorContext(ctx, "http server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

// seedPlans upserts the YAML plan catalog into the database so webhook
// processing and gating read plans from the same store as everything
// else. A missing catalog file is not fatal, existing rows stay.
func seedPlans(ctx context.Context, store billing.Store, path string, log *slog.Logger) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.WarnContext(ctx, "plan catalog file not found, skipping seed",
			slog.String("path", path))
		return nil
	}

	plans, err := billing.NewFilePlanSource(path).Load(ctx)
	if err != nil {
		return err
	}
	for i := range plans {
		if err := store.SavePlan(ctx, &plans[i]); err != nil {
			return err
		}
	}

	log.InfoContext(ctx, "plan catalog seeded", slog.Int("plans", len(plans)))
	return nil
}

// parishIDExtractor stamps tenant-scoped log records with the parish ID.
func parishIDExtractor(ctx context.Context) (slog.Attr, bool) {
	if id, ok := gating.ParishIDFromContext(ctx); ok {
		return slog.String("parish_id", id.String()), true
	}
	return slog.Attr{}, false
}
