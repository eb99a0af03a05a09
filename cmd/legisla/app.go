package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	attendancehandler "legisla/internal/attendance/handler"
	attendanceservice "legisla/internal/attendance/service"
	attendancestore "legisla/internal/attendance/store"
	"legisla/internal/events"
	httpapi "legisla/internal/http"
	jwttoken "legisla/internal/jwt_token"
	opinionhandler "legisla/internal/opinion/handler"
	opinionmetrics "legisla/internal/opinion/metrics"
	opinionservice "legisla/internal/opinion/service"
	opinionstore "legisla/internal/opinion/store"
	"legisla/internal/platform/config"
	"legisla/internal/platform/kafka"
	platformmetrics "legisla/internal/platform/metrics"
	"legisla/internal/platform/postgres"
	platformredis "legisla/internal/platform/redis"
	plenaryhandler "legisla/internal/plenary/handler"
	plenarymetrics "legisla/internal/plenary/metrics"
	plenaryservice "legisla/internal/plenary/service"
	plenarystore "legisla/internal/plenary/store"
	propstore "legisla/internal/proposition/store"
	"legisla/internal/roster"
	"legisla/internal/routing"
	"legisla/internal/statesync/cache"
	statesynchandler "legisla/internal/statesync/handler"
	statesyncmetrics "legisla/internal/statesync/metrics"
	statesyncservice "legisla/internal/statesync/service"
	tramitationhandler "legisla/internal/tramitation/handler"
	tramitationmetrics "legisla/internal/tramitation/metrics"
	tramitationservice "legisla/internal/tramitation/service"
	tramitationstore "legisla/internal/tramitation/store"
	"legisla/pkg/platform/audit"
	"legisla/pkg/platform/audit/publishers/compliance"
	auditmemory "legisla/pkg/platform/audit/store/memory"
	auditpostgres "legisla/pkg/platform/audit/store/postgres"
	"legisla/pkg/platform/circuit"
	"legisla/pkg/platform/tx"
)

type rosterStore interface {
	roster.Reader
	roster.Writer
}

// stores is the persistence set shared by every bounded context. All of it
// is either Postgres or in-memory; the two are never mixed.
type stores struct {
	propositions tramitationservice.PropositionStore
	steps        tramitationservice.StepStore
	plenary      plenaryservice.Store
	attendance   attendanceservice.Store
	opinions     opinionservice.Store
	roster       rosterStore
	audit        audit.Store
	tx           tx.Runner
}

func memoryStores() stores {
	return stores{
		propositions: propstore.NewInMemoryStore(),
		steps:        tramitationstore.NewInMemoryStore(),
		plenary:      plenarystore.NewInMemoryStore(),
		attendance:   attendancestore.NewInMemoryStore(),
		opinions:     opinionstore.NewInMemoryStore(),
		roster:       roster.NewInMemoryStore(),
		audit:        auditmemory.NewInMemoryStore(),
		tx:           tx.NewSharded(0),
	}
}

func postgresStores(db *sql.DB, cfg config.TxConfig) stores {
	return stores{
		propositions: propstore.NewPostgres(db),
		steps:        tramitationstore.NewPostgres(db),
		plenary:      plenarystore.NewPostgres(db),
		attendance:   attendancestore.NewPostgres(db),
		opinions:     opinionstore.NewPostgres(db),
		roster:       roster.NewPostgres(db),
		audit:        auditpostgres.New(db),
		tx:           postgres.NewTxRunner(db, cfg.Timeout),
	}
}

// app owns every long-lived resource the server needs.
type app struct {
	handler http.Handler
	closers []func(context.Context)
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()
	health := map[string]httpapi.HealthCheck{}

	var st stores
	if cfg.Postgres.URL != "" {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) { _ = db.Close() })
		if _, err := postgres.Migrate(ctx, db, logger); err != nil {
			return nil, err
		}
		health["postgres"] = db.PingContext
		st = postgresStores(db, cfg.Tx)
		logger.Info("using postgres stores")
	} else {
		st = memoryStores()
		logger.Warn("LEGISLA_DATABASE_URL not set, using in-memory stores")
	}

	if cfg.Roster.SeedFile != "" {
		seats, err := seedRoster(ctx, st.roster, cfg.Roster.SeedFile)
		if err != nil {
			return nil, err
		}
		logger.Info("roster seeded", "file", cfg.Roster.SeedFile, "seats", seats)
	}

	catalog := routing.Default()
	if cfg.Roster.RoutingCatalog != "" {
		if catalog, err = loadCatalog(cfg.Roster.RoutingCatalog); err != nil {
			return nil, err
		}
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := kafka.NewPublisher(ctx, cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kp.Close)
		if err := kp.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return nil, err
		}
		health["kafka"] = kp.Health
		publisher = kp
	}

	var resultCache statesyncservice.Cache = cache.NewMemory()
	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func(context.Context) { _ = rc.Close() })
		health["redis"] = rc.Health
		breaker := circuit.New("redis-sync-cache", circuit.WithFailureThreshold(5), circuit.WithCooldown(5*time.Second))
		resultCache = cache.NewGuarded(cache.NewRedis(rc.Client), breaker, logger)
	}

	auditor := compliance.New(st.audit, compliance.WithLogger(logger), compliance.WithMetrics(compliance.NewMetrics()))
	validator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience))

	tramitation := tramitationservice.New(st.propositions, st.steps, catalog,
		tramitationservice.WithLogger(logger),
		tramitationservice.WithMetrics(tramitationmetrics.New()),
		tramitationservice.WithAuditPublisher(auditor),
		tramitationservice.WithEventPublisher(publisher),
		tramitationservice.WithTx(st.tx),
	)
	attendance := attendanceservice.New(st.attendance, st.plenary,
		attendanceservice.WithLogger(logger),
		attendanceservice.WithQuorumMinimum(cfg.Plenary.QuorumMinimum),
		attendanceservice.WithAuditPublisher(auditor),
		attendanceservice.WithEventPublisher(publisher),
		attendanceservice.WithTx(st.tx),
	)
	plenary := plenaryservice.New(st.plenary, st.propositions, st.attendance,
		plenaryservice.WithLogger(logger),
		plenaryservice.WithMetrics(plenarymetrics.New()),
		plenaryservice.WithQuorumMinimum(cfg.Plenary.QuorumMinimum),
		plenaryservice.WithAuditPublisher(auditor),
		plenaryservice.WithEventPublisher(publisher),
		plenaryservice.WithTx(st.tx),
	)
	opinion := opinionservice.New(st.opinions, st.propositions, st.roster, attendance,
		opinionservice.WithLogger(logger),
		opinionservice.WithMetrics(opinionmetrics.New()),
		opinionservice.WithAuditPublisher(auditor),
		opinionservice.WithEventPublisher(publisher),
		opinionservice.WithTx(st.tx),
	)
	syncMetrics := statesyncmetrics.New()
	statesync := statesyncservice.New(st.plenary, st.attendance, st.propositions,
		statesyncservice.WithCache(resultCache, cfg.Redis.ResultTTL),
		statesyncservice.WithLogger(logger),
		statesyncservice.WithMetrics(syncMetrics),
		statesyncservice.WithTx(st.tx),
	)

	a.handler = httpapi.NewRouter(httpapi.Options{
		Logger:         logger,
		Observer:       platformmetrics.New(),
		RequestTimeout: cfg.Server.RequestTimeout,
		Health:         health,
	},
		tramitationhandler.New(tramitation, logger, validator),
		plenaryhandler.New(plenary, logger, validator),
		attendancehandler.New(attendance, logger, validator),
		opinionhandler.New(opinion, logger, validator),
		statesynchandler.New(statesync, logger, syncMetrics, validator),
	)
	return a, nil
}

func seedRoster(ctx context.Context, w roster.Writer, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open roster seed: %w", err)
	}
	defer f.Close()
	return roster.Seed(ctx, w, f)
}

func loadCatalog(path string) (*routing.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open routing catalog: %w", err)
	}
	defer f.Close()
	return routing.Load(f)
}
