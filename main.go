package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	alerts "ecowatt-cloud/internal/alerts/domain"
	alertsrepo "ecowatt-cloud/internal/alerts/infrastructure/postgres"
	alertsinterfaces "ecowatt-cloud/internal/alerts/interfaces"
	alertsnotify "ecowatt-cloud/internal/alerts/notify"
	apihttp "ecowatt-cloud/internal/api/http"
	"ecowatt-cloud/internal/audit"
	"ecowatt-cloud/internal/auth"
	"ecowatt-cloud/internal/control"
	controlapp "ecowatt-cloud/internal/control/application"
	controlmqtt "ecowatt-cloud/internal/control/mqtt"
	"ecowatt-cloud/internal/detect"
	devices "ecowatt-cloud/internal/devices/domain"
	devicesrepo "ecowatt-cloud/internal/devices/infrastructure/postgres"
	"ecowatt-cloud/internal/energy"
	"ecowatt-cloud/internal/eventbus"
	"ecowatt-cloud/internal/ingest"
	"ecowatt-cloud/internal/observability/metrics"
	"ecowatt-cloud/internal/reports"
	tariffrepo "ecowatt-cloud/internal/tariff/infrastructure/postgres"
	tsredis "ecowatt-cloud/internal/timeseries/infrastructure/redis"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := tsredis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatalf("redis connect error: %v", err)
	}
	defer redisClient.Close()

	metrics.Init()

	store, err := tsredis.NewStore(redisClient, tsredis.WithRetention(cfg.SeriesRetention), tsredis.WithLogger(logger))
	if err != nil {
		logger.Fatalf("series store error: %v", err)
	}
	aggregator, err := energy.NewAggregator(store, energy.WithMaxGap(cfg.MaxSampleGap))
	if err != nil {
		logger.Fatalf("aggregator error: %v", err)
	}

	deviceRepo := devicesrepo.NewDeviceRepository(db)
	tariffRepo := tariffrepo.NewTariffRepository(db)
	alertRepo := alertsrepo.NewAlertRepository(db)
	directory := deviceDirectory{repo: deviceRepo}

	ingestService, err := ingest.NewService(store, directory, logger)
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}

	bus := eventbus.New()
	var notifier alertsnotify.Notifier
	if cfg.AlertWebhookURL != "" {
		notifier, err = alertsnotify.NewWebhookNotifier(cfg.AlertWebhookURL)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
	}
	alertConsumer, err := alertsinterfaces.NewRaisedConsumer(alertRepo, notifier, logger)
	if err != nil {
		logger.Fatalf("alert consumer error: %v", err)
	}
	bus.Subscribe(eventbus.TypeFor[alerts.Raised](), alertConsumer.Handle)

	detectCfg, err := detect.LoadConfig()
	if err != nil {
		logger.Fatalf("detect config error: %v", err)
	}
	detector, err := detect.NewDetector(store, deviceRepo, bus, detectCfg, detect.WithDetectorLogger(logger))
	if err != nil {
		logger.Fatalf("detector error: %v", err)
	}
	go func() {
		ticker := time.NewTicker(cfg.DetectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := detector.Scan(ctx); err != nil {
					logger.Printf("detector scan error: %v", err)
				}
			}
		}
	}()

	transport, err := controlmqtt.NewTransport(cfg.MQTTBrokerURL, cfg.MQTTClientID)
	if err != nil {
		logger.Fatalf("mqtt connect error: %v", err)
	}
	defer transport.Close()
	dispatcher, err := control.NewDispatcher(transport, cfg.MQTTTopicPrefix, control.WithDispatcherLogger(logger))
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}
	if err := dispatcher.Start(); err != nil {
		logger.Fatalf("dispatcher subscribe error: %v", err)
	}
	controlService, err := controlapp.NewService(dispatcher, directory, controlapp.WithTimeout(cfg.CommandTimeout))
	if err != nil {
		logger.Fatalf("control service error: %v", err)
	}

	reportService, err := reports.NewService(aggregator, deviceRepo, tariffRepo, alertRepo,
		reports.WithCarbonFactor(cfg.CarbonFactor), reports.WithLogger(logger))
	if err != nil {
		logger.Fatalf("report service error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/api/v1/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	reportHandler := apihttp.NewReportHandler(reportService)
	commandHandler := apihttp.NewCommandHandler(controlService, audit.NewRepository(db))

	mux := http.NewServeMux()
	mux.Handle("/api/v1/ingest/shelly", ingestAuth.Wrap(ingest.NewShellyHandler(ingestService)))
	mux.Handle("/api/v1/dashboard", apihttp.NewDashboardHandler(reportService))
	mux.Handle("/api/v1/history", apihttp.NewHistoryHandler(aggregator, directory))
	mux.Handle("/api/v1/alerts", apihttp.NewAlertsHandler(alertRepo))
	mux.Handle("/api/v1/report", reportHandler)
	mux.Handle("/api/v1/report/", reportHandler)
	mux.Handle("/api/v1/devices", apihttp.NewDevicesHandler(deviceRepo))
	mux.Handle("/api/v1/devices/", commandHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
}

type config struct {
	DatabaseURL       string
	RedisAddr         string
	HTTPAddr          string
	MQTTBrokerURL     string
	MQTTClientID      string
	MQTTTopicPrefix   string
	SeriesRetention   time.Duration
	MaxSampleGap      time.Duration
	DetectInterval    time.Duration
	CommandTimeout    time.Duration
	CarbonFactor      float64
	AlertWebhookURL   string
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		RedisAddr:         getenvDefault("REDIS_ADDR", "localhost:6379"),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		MQTTBrokerURL:     getenvDefault("MQTT_BROKER_URL", ""),
		MQTTClientID:      getenvDefault("MQTT_CLIENT_ID", "ecowatt-backend"),
		MQTTTopicPrefix:   getenvDefault("MQTT_TOPIC_PREFIX", "ecowatt"),
		SeriesRetention:   getenvDuration("SERIES_RETENTION", 35*24*time.Hour),
		MaxSampleGap:      getenvDuration("MAX_SAMPLE_GAP", 15*time.Minute),
		DetectInterval:    getenvDuration("DETECT_INTERVAL", 30*time.Minute),
		CommandTimeout:    getenvDuration("COMMAND_TIMEOUT", 5*time.Second),
		CarbonFactor:      getenvFloatDefault("CARBON_FACTOR_KG_PER_KWH", 0.435),
		AlertWebhookURL:   getenvDefault("ALERT_WEBHOOK_URL", ""),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.MQTTBrokerURL == "" {
		log.Fatal("MQTT_BROKER_URL is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ---- Adapters ----

// deviceDirectory bridges the pointer-returning repository to the
// value-returning directory interfaces the services consume.
type deviceDirectory struct {
	repo *devicesrepo.DeviceRepository
}

func (d deviceDirectory) ByMAC(ctx context.Context, mac string) (devices.Device, error) {
	dev, err := d.repo.ByMAC(ctx, mac)
	if err != nil {
		return devices.Device{}, err
	}
	return *dev, nil
}

func (d deviceDirectory) ByID(ctx context.Context, id int64) (devices.Device, error) {
	dev, err := d.repo.ByID(ctx, id)
	if err != nil {
		return devices.Device{}, err
	}
	return *dev, nil
}
