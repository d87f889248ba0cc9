package loansd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tranchor/config"
	"tranchor/native/loans"
	"tranchor/native/oracle"
	"tranchor/observability/logging"
	telemetry "tranchor/observability/otel"
	"tranchor/reporting"
	svcconfig "tranchor/services/loansd/config"
	"tranchor/storage"
)

// Main runs the loan valuation daemon using the provided command line flags.
func Main() error {
	var cfgPath string
	var svcPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to the ledger TOML configuration")
	flag.StringVar(&svcPath, "service-config", "services/loansd/config.yaml", "path to the service YAML configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TRANCHOR_ENV"))
	logger := logging.Setup("loansd", env, os.Getenv("TRANCHOR_LOG_LEVEL"))

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "loansd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ledgerCfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load ledger config: %w", err)
	}
	global := ledgerCfg.Global()

	svcCfg, err := svcconfig.Load(svcPath)
	if err != nil {
		return fmt.Errorf("load service config: %w", err)
	}

	db, err := storage.NewLevelDB(global.Ledger.DataDir)
	if err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	defer db.Close()

	manual := oracle.NewManualSource()
	agg := oracle.NewAggregator(global.Oracle.Priority, global.Oracle.MaxAgeSeconds)
	agg.Register("manual", manual)
	if endpoint := strings.TrimSpace(global.Oracle.Endpoint); endpoint != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		agg.Register("http", oracle.NewHTTPSource(client, endpoint, global.Oracle.APIKey))
	}

	engine := loans.NewEngine()
	engine.SetState(loans.NewStore(db))
	engine.SetCurrency(global.Currency())
	engine.SetPauses(global.PauseView())
	engine.SetPrices(agg)

	reports, err := reporting.Open(global.Reporting.DSN)
	if err != nil {
		return fmt.Errorf("open reporting store: %w", err)
	}
	defer func() { _ = reports.Close() }()

	exporter, err := reporting.NewExporter(global.Reporting.ExportDir)
	if err != nil {
		return fmt.Errorf("prepare export directory: %w", err)
	}

	auth, err := NewAuthenticator(AuthConfig{
		BearerTokens: svcCfg.Auth.BearerTokens,
		JWTSecret:    svcCfg.Auth.JWT.HMACSecret,
		JWTIssuer:    svcCfg.Auth.JWT.Issuer,
		JWTAudience:  svcCfg.Auth.JWT.Audience,
	})
	if err != nil {
		return fmt.Errorf("build authenticator: %w", err)
	}

	var idem *IdempotencyStore
	if svcCfg.Idempotency.Path != "" {
		idem, err = NewIdempotencyStore(svcCfg.Idempotency.Path, nil)
		if err != nil {
			return fmt.Errorf("open idempotency store: %w", err)
		}
		defer func() { _ = idem.Close() }()
	}

	server, err := NewServer(Config{
		Engine:         engine,
		Prices:         manual,
		Reports:        reports,
		Exports:        exporter,
		Idempotency:    idem,
		IdempotencyTTL: time.Duration(svcCfg.Idempotency.TTLSeconds) * time.Second,
		Auth:           auth,
		RateLimit: RateLimit{
			RequestsPerMinute: svcCfg.RateLimit.RequestsPerMinute,
			Burst:             svcCfg.RateLimit.Burst,
		},
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         svcCfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server.Handler(), "loansd"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("loansd listening", "address", svcCfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
