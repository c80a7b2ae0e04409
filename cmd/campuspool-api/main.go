// README: Entry point; loads config, wires services, starts the HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/alecthomas/kong"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"campuspool/internal/config"
	"campuspool/internal/events"
	httptransport "campuspool/internal/http"
	"campuspool/internal/infra"
	"campuspool/internal/logger"
	"campuspool/internal/maps"
	"campuspool/internal/modules/availability"
	"campuspool/internal/modules/matching"
	"campuspool/internal/modules/prebook"
	"campuspool/internal/modules/pricing"
	"campuspool/internal/modules/ride"
	"campuspool/internal/modules/user"
	"campuspool/internal/notify"
	"campuspool/internal/o11y"
)

var cli struct {
	Config string `name:"config" env:"CAMPUSPOOL_CONFIG" help:"Optional YAML config file."`
}

func main() {
	kong.Parse(&cli, kong.Description("CampusPool ride matching API."))

	cfg, err := config.Load(cli.Config)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("init logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("campuspool-api stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	shutdownTracing, err := o11y.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	db, err := infra.NewDB(ctx, cfg.DB.DBConfig)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DB.AutoMigrate {
		if err := infra.ApplyMigrations(ctx, db, cfg.DB.MigrationsDir); err != nil {
			return err
		}
		log.WithField("dir", cfg.DB.MigrationsDir).Info("migrations applied")
	}

	rdb, err := infra.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var app *firebase.App
	if cfg.Auth.Provider == "firebase" {
		app, err = infra.NewFirebaseApp(ctx, cfg.Auth.ProjectID, cfg.Auth.CredentialsFile)
		if err != nil {
			return err
		}
	}
	verifier, err := newVerifier(ctx, cfg.Auth, app)
	if err != nil {
		return err
	}

	publisher := events.Publisher(events.NewLogPublisher(log))
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka, log)
		defer kp.Close()
		publisher = kp
	}

	users := user.NewService(user.NewStore(db), cfg.HTTP.BaseURL, log)
	notifier, err := newNotifier(ctx, cfg.Push, app, users, log)
	if err != nil {
		return err
	}

	pricingSvc := pricing.NewService()
	availabilitySvc := availability.NewService(availability.Deps{
		Store:    availability.NewStore(db),
		Index:    availability.NewRedisGeoIndex(rdb, availability.DefaultGeoKey),
		Profiles: users,
		Log:      log,
	})
	rideSvc := ride.NewService(ride.Deps{
		Store:    ride.NewStore(db),
		Drivers:  availabilitySvc,
		Pricing:  pricingSvc,
		Users:    users,
		Notifier: notifier,
		Events:   publisher,
		Log:      log,
	})
	availabilitySvc.SetPendingCanceller(rideSvc)
	prebookSvc := prebook.NewService(prebook.Deps{
		Store:    prebook.NewStore(db),
		Pricing:  pricingSvc,
		Notifier: notifier,
		Events:   publisher,
		Log:      log,
	})
	matchingSvc := matching.NewService(availabilitySvc, prebookSvc, pricingSvc, log)

	if n, err := availabilitySvc.Reindex(ctx); err != nil {
		log.WithError(err).Warn("rebuild geo index")
	} else {
		log.WithField("drivers", n).Info("geo index rebuilt")
	}

	deps := httptransport.ServerDeps{
		Availability: availabilitySvc,
		Rides:        rideSvc,
		PreBook:      prebookSvc,
		Matching:     matchingSvc,
		Pricing:      pricingSvc,
		Users:        users,
		Verifier:     verifier,
		Ready:        readiness(db, rdb),
		Log:          log,
	}
	if cfg.Maps.APIKey != "" {
		geocoder, err := maps.NewGeocoder(cfg.Maps, log)
		if err != nil {
			return err
		}
		deps.Geocoder = geocoder
	} else {
		log.Warn("maps.api_key not set; maps endpoints disabled")
	}

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: httptransport.NewServer(deps).Routes()}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, app *firebase.App) (infra.TokenVerifier, error) {
	if cfg.Provider == "jwt" {
		return infra.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	}
	return infra.NewFirebaseVerifier(ctx, app)
}

func newNotifier(ctx context.Context, cfg config.PushConfig, app *firebase.App, tokens notify.TokenSource, log logrus.FieldLogger) (ride.Notifier, error) {
	if !cfg.Enabled || app == nil {
		return notify.NewLogNotifier(log), nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, err
	}
	return notify.NewFCMNotifier(client, tokens, log), nil
}

func readiness(db *pgxpool.Pool, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	}
}
