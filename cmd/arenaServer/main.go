package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"arenaserver/config"
	"arenaserver/internal/betting"
	"arenaserver/internal/db"
	"arenaserver/internal/elimination"
	"arenaserver/internal/finance"
	"arenaserver/internal/jobs"
	"arenaserver/internal/ledger"
	"arenaserver/internal/lifecycle"
	"arenaserver/internal/metrics"
	"arenaserver/internal/nats"
	"arenaserver/internal/notify"
	"arenaserver/internal/progs"
	"arenaserver/internal/rating"
	"arenaserver/internal/server"
	"arenaserver/internal/signup"
	"arenaserver/internal/store"
	temporal "arenaserver/internal/workflow"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file, using environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(&cfg.Log)
	if _, err := cfg.Arena.TakeRate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid arena config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	var st store.Store
	if cfg.Database.Driver == "memory" {
		logger.Warn().Msg("using in-memory store, state is lost on restart")
		st = store.NewMemory()
	} else {
		gdb, err := db.InitDB(&cfg.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := db.Migrate(gdb, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
		st = db.NewStore(gdb)
	}

	bank := ledger.NewMemory()
	m := metrics.New()

	notifiers := notify.Fanout{}
	if cfg.NATS.Enabled {
		nc, js, err := nats.Connect(&cfg.NATS)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		if err := nats.ConfigureStream(js, &cfg.NATS.Stream); err != nil {
			logger.Fatal().Err(err).Msg("failed to configure JetStream")
		}
		notifiers = append(notifiers, nats.NewPublisher(js, logger))
	}

	engine := rating.NewEngine(cfg.Arena.Rating)
	ratings := rating.NewService(engine, clock, logger)
	market, err := betting.NewMarket(cfg.Arena, bank, clock, engine, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid betting config")
	}
	matchmaker := signup.NewMatchmaker(cfg.Arena, clock, progs.AllowAll{}, progs.NoNPCs{}, ratings, m, logger)
	reporter := finance.NewReporter(bank, clock, finance.NoTax{}, logger)

	ctrl := lifecycle.New(cfg.Arena, lifecycle.Deps{
		Store:    st,
		Clock:    clock,
		Signups:  matchmaker,
		Tracker:  elimination.NewTracker(clock, logger),
		Ratings:  ratings,
		Market:   market,
		Finance:  reporter,
		Notifier: notifiers,
		Metrics:  m,
		Log:      logger,
	})

	if cfg.Temporal.Enabled {
		c, err := temporal.Dial(&cfg.Temporal)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create Temporal client")
		}
		defer c.Close()

		w := temporal.NewWorker(c, &cfg.Temporal, ctrl, logger)
		if err := w.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start Temporal worker")
		}
		defer w.Stop()
		ctrl.SetSettler(temporal.NewSettler(c, cfg.Temporal.TaskQueue, logger))
	}

	if err := ctrl.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load events")
	}

	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create scheduler")
	}
	if err := jobs.New(cfg.Arena, st, reporter, ctrl, logger).Register(ctx, sched); err != nil {
		logger.Fatal().Err(err).Msg("failed to register jobs")
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("scheduler shutdown")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error {
		return server.New(ctrl, st, clock, m, logger).Start(gctx, cfg.Server.Port)
	})

	logger.Info().Str("port", cfg.Server.Port).Str("store", cfg.Database.Driver).Msg("arena server started")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("arena server stopped")
		return
	}
	logger.Info().Msg("arena server shut down")
}

func newLogger(cfg *config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
