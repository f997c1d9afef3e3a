package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packline-labs/packline-go/internal/inspection/collection"
	"github.com/packline-labs/packline-go/internal/inspection/pipeline"
	"github.com/packline-labs/packline-go/internal/platform/auditlog"
	"github.com/packline-labs/packline-go/internal/platform/auth"
	"github.com/packline-labs/packline-go/internal/platform/env"
	"github.com/packline-labs/packline-go/internal/platform/httpserver"
	"github.com/packline-labs/packline-go/internal/platform/objectstore"
	"github.com/packline-labs/packline-go/internal/platform/postgres"
	repopg "github.com/packline-labs/packline-go/internal/repo/postgres"
	"github.com/packline-labs/packline-go/internal/service/orders"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("INSPECTIONS_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("INSPECTIONS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()
	evidenceStore, err := objectstore.NewMinioStoreWithClient(storeClient)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}

	pipelines := pipeline.NewRegistry()
	if path := env.String("PACKLINE_PIPELINES_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Error("pipeline registry unreadable", "path", path, "error", err)
			os.Exit(2)
		}
		pipelines, err = pipeline.ParseRegistry(raw)
		if err != nil {
			logger.Error("invalid pipeline registry", "path", path, "error", err)
			os.Exit(2)
		}
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeOIDC:
		oidcSvc, err := auth.NewOIDCService(ctx, authCfg)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(2)
		}
		authenticator = oidcSvc
	default:
		logger.Warn("dev auth enabled; all requests act as the configured dev identity")
		authenticator = auth.NewDevAuthenticator(authCfg)
	}

	service := orders.New(repopg.NewCollectionStore(db), pipelines, collection.UUIDSource{})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("inspections"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"inspections",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newInspectionsAPI(logger, db, service, evidenceStore, storeCfg)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "inspections", event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "inspections",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "inspections", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
