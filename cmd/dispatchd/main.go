package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/internal/config"
	"github.com/MarkoPoloResearchLab/dispatchledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/dispatchledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/dispatchledger/internal/natsbus"
	"github.com/MarkoPoloResearchLab/dispatchledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/dispatchledger/internal/sweeper"
	"github.com/MarkoPoloResearchLab/dispatchledger/internal/telemetry"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/events"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/funding"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/orders"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix = "DISPATCH"

	flagDatabaseURL       = "database-url"
	flagHTTPAddr          = "http-addr"
	flagGRPCAddr          = "grpc-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagSessionSigningKey = "jwt-signing-key"
	flagSessionIssuer     = "jwt-issuer"
	flagSessionCookieName = "jwt-cookie-name"
	flagApprovalSecret    = "approval-secret"
	flagNATSURL           = "nats-url"
	flagNATSStream        = "nats-stream"
	flagSweepInterval     = "sweep-interval"
	flagHealthInterval    = "health-interval"
	flagPendingTimeout    = "pending-timeout"
	flagRadiusTiers       = "radius-tiers"
	flagExpansionInterval = "expansion-interval"
	flagFanOut            = "fan-out"
	flagLocationFreshness = "location-freshness"
	flagSpeedKmh          = "speed-kmh"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dispatchd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "dispatchd",
		Short:         "Order dispatch and ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	defaults := dispatch.DefaultPolicy()
	cmd.Flags().String(flagDatabaseURL, "sqlite://dispatchledger.db", "postgres:// URL or sqlite path")
	cmd.Flags().String(flagHTTPAddr, ":8080", "HTTP listen address")
	cmd.Flags().String(flagGRPCAddr, ":7000", "gRPC health listen address")
	cmd.Flags().String(flagAllowedOrigins, "http://localhost:8000", "Comma-separated CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "TAuth JWT signing key")
	cmd.Flags().String(flagSessionIssuer, "tauth", "TAuth JWT issuer")
	cmd.Flags().String(flagSessionCookieName, "app_session", "Session cookie name")
	cmd.Flags().String(flagApprovalSecret, "", "Shared secret reviewers present to resolve funding requests")
	cmd.Flags().String(flagNATSURL, "", "NATS URL; events are dropped when empty")
	cmd.Flags().String(flagNATSStream, "DISPATCH_EVENTS", "JetStream stream name")
	cmd.Flags().Duration(flagSweepInterval, time.Minute, "Interval between background sweeps")
	cmd.Flags().Duration(flagHealthInterval, 10*time.Second, "Interval between storage health checks")
	cmd.Flags().Duration(flagPendingTimeout, orders.DefaultPendingTimeout, "How long an order may wait for the merchant")
	cmd.Flags().String(flagRadiusTiers, "", "Comma-separated search radius tiers in km")
	cmd.Flags().Duration(flagExpansionInterval, defaults.ExpansionInterval, "Time between search radius expansions")
	cmd.Flags().Int(flagFanOut, defaults.FanOut, "Couriers notified per search round")
	cmd.Flags().Duration(flagLocationFreshness, defaults.LocationFreshness, "Maximum age of a courier location")
	cmd.Flags().Float64(flagSpeedKmh, defaults.SpeedKmh, "Courier speed used for ETAs")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	tiers, err := config.ParseRadiusTiers(v.GetString(flagRadiusTiers))
	if err != nil {
		return err
	}
	*cfg = config.Config{
		DatabaseURL:       v.GetString(flagDatabaseURL),
		HTTPAddr:          v.GetString(flagHTTPAddr),
		GRPCAddr:          v.GetString(flagGRPCAddr),
		AllowedOrigins:    config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionSigningKey: v.GetString(flagSessionSigningKey),
		SessionIssuer:     v.GetString(flagSessionIssuer),
		SessionCookieName: v.GetString(flagSessionCookieName),
		ApprovalSecret:    v.GetString(flagApprovalSecret),
		NATSURL:           v.GetString(flagNATSURL),
		NATSStream:        v.GetString(flagNATSStream),
		SweepInterval:     v.GetDuration(flagSweepInterval),
		HealthInterval:    v.GetDuration(flagHealthInterval),
		PendingTimeout:    v.GetDuration(flagPendingTimeout),
		Dispatch: dispatch.Policy{
			RadiusTiersKm:     tiers,
			ExpansionInterval: v.GetDuration(flagExpansionInterval),
			FanOut:            v.GetInt(flagFanOut),
			LocationFreshness: v.GetDuration(flagLocationFreshness),
			SpeedKmh:          v.GetFloat64(flagSpeedKmh),
		},
	}
	return cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	store := gormstore.New(gormDB)
	if err := store.AutoMigrate(ctx); err != nil {
		return err
	}
	logger.Info("database ready", zap.String("driver", driver))

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		natsPublisher, closeNATS, connectErr := natsbus.Connect(ctx, cfg.NATSURL, cfg.NATSStream)
		if connectErr != nil {
			return connectErr
		}
		defer closeNATS()
		publisher = natsPublisher
		logger.Info("publishing events to jetstream", zap.String("stream", cfg.NATSStream))
	} else {
		logger.Warn("nats url not set, realtime events are dropped")
	}

	metrics := telemetry.NewMetrics()
	operationLogger := telemetry.NewOperationLogger(logger, metrics)
	now := func() time.Time { return time.Now().UTC() }

	ledgerService, err := ledger.NewService(store.Ledger(), now,
		ledger.WithOperationLogger(operationLogger),
		ledger.WithPublisher(publisher),
	)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	fundingService, err := funding.NewService(store.Funding(), ledgerService, cfg.ApprovalSecret, now,
		funding.WithOperationLogger(operationLogger),
		funding.WithPublisher(publisher),
	)
	if err != nil {
		return fmt.Errorf("funding service init: %w", err)
	}
	engine, err := dispatch.NewEngine(store.Dispatch(), cfg.Dispatch, now,
		dispatch.WithOperationLogger(operationLogger),
		dispatch.WithPublisher(publisher),
	)
	if err != nil {
		return fmt.Errorf("dispatch engine init: %w", err)
	}
	orderService, err := orders.NewService(store.Orders(), ledgerService, fundingService, engine, now,
		orders.WithOperationLogger(operationLogger),
		orders.WithPublisher(publisher),
		orders.WithPendingTimeout(cfg.PendingTimeout),
	)
	if err != nil {
		return fmt.Errorf("order service init: %w", err)
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	router, err := httpapi.NewRouter(
		httpapi.RouterConfig{AllowedOrigins: cfg.AllowedOrigins},
		httpapi.Services{Orders: orderService, Ledger: ledgerService, Funding: fundingService, Dispatch: engine},
		validator,
		logger,
		metrics,
	)
	if err != nil {
		return err
	}

	background, err := sweeper.New(orderService, engine, cfg.SweepInterval, logger, metrics)
	if err != nil {
		return err
	}
	healthServer, err := grpcserver.New(store, cfg.HealthInterval, logger)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Serve(groupCtx, cfg.HTTPAddr, router, logger)
	})
	group.Go(func() error {
		logger.Info("gRPC health server starting", zap.String("listen_addr", cfg.GRPCAddr))
		return healthServer.Serve(groupCtx, listener)
	})
	group.Go(func() error {
		healthServer.Watch(groupCtx)
		return nil
	})
	group.Go(func() error {
		background.Run(groupCtx)
		return nil
	})

	err = group.Wait()
	logger.Info("shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
