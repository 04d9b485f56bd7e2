package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	alarmapp "gasgrid-cloud/internal/alarms/application"
	alarmrepo "gasgrid-cloud/internal/alarms/infrastructure/postgres"
	alarminterfaces "gasgrid-cloud/internal/alarms/interfaces"
	alarmhttp "gasgrid-cloud/internal/alarms/interfaces/http"
	alarmnotify "gasgrid-cloud/internal/alarms/notify"
	dashboardapp "gasgrid-cloud/internal/analytics/application"
	dashboardhttp "gasgrid-cloud/internal/analytics/interfaces/http"
	"gasgrid-cloud/internal/audit"
	"gasgrid-cloud/internal/auth"
	"gasgrid-cloud/internal/cache"
	devapp "gasgrid-cloud/internal/devices/application"
	devicerepo "gasgrid-cloud/internal/devices/infrastructure/postgres"
	devicehttp "gasgrid-cloud/internal/devices/interfaces/http"
	"gasgrid-cloud/internal/eventing"
	"gasgrid-cloud/internal/eventing/eventbus"
	eventingrepo "gasgrid-cloud/internal/eventing/infrastructure/postgres"
	"gasgrid-cloud/internal/notifications/websocket"
	"gasgrid-cloud/internal/observability/metrics"
	reportapp "gasgrid-cloud/internal/reports/application"
	reportinterfaces "gasgrid-cloud/internal/reports/interfaces"
	"gasgrid-cloud/internal/retention"
	telemetryapp "gasgrid-cloud/internal/telemetry/application"
	telemetryevents "gasgrid-cloud/internal/telemetry/application/events"
	telemetryrepo "gasgrid-cloud/internal/telemetry/infrastructure/postgres"
	telemetrymqtt "gasgrid-cloud/internal/telemetry/interfaces/mqtt"
	thresholdrepo "gasgrid-cloud/internal/thresholds/infrastructure/postgres"
	thresholdhttp "gasgrid-cloud/internal/thresholds/interfaces/http"
	userapp "gasgrid-cloud/internal/users/application"
	userrepo "gasgrid-cloud/internal/users/infrastructure/postgres"
	userhttp "gasgrid-cloud/internal/users/interfaces/http"
)

func main() {
	cfg := loadConfig()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("db ping failed")
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	deviceRepo := devicerepo.NewDeviceRepository(db)
	readingRepo := telemetryrepo.NewReadingRepository(db)
	thresholdRepo := thresholdrepo.NewThresholdRepository(db)
	alarmRepo := alarmrepo.NewAlarmRepository(db)
	userRepo := userrepo.NewUserRepository(db)

	// Event plumbing: durable outbox in front of the in-process bus.
	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(telemetryevents.ReadingReceived{})
	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, baseBus)

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	alarmNotifiers := []alarmapp.AlarmNotifier{hub}
	if cfg.AlarmWebhookURL != "" {
		channel, err := alarmnotify.NewWebhookChannel(cfg.AlarmWebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("alarm webhook setup failed")
		}
		tpl, err := alarmnotify.NewTemplate(cfg.AlarmNotifyTemplate)
		if err != nil {
			logger.Fatal().Err(err).Msg("alarm template parse failed")
		}
		webhookNotifier, err := alarmnotify.NewNotifier(alarmRepo, channel, tpl,
			alarmnotify.WithEscalation(cfg.AlarmEscalationAfter),
			alarmnotify.WithCooldown(cfg.AlarmNotifyCooldown),
			alarmnotify.WithDedupeWindow(cfg.AlarmNotifyDedupeWindow),
			alarmnotify.WithRequestTimeout(cfg.AlarmNotifyTimeout),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("alarm notifier setup failed")
		}
		alarmNotifiers = append(alarmNotifiers, webhookNotifier)
	}

	alarmService, err := alarmapp.NewService(alarmRepo, thresholdRepo, logger,
		alarmapp.WithNotifier(alarmnotify.NewMultiNotifier(alarmNotifiers...)))
	if err != nil {
		logger.Fatal().Err(err).Msg("alarm service setup failed")
	}
	alarmConsumer, err := alarminterfaces.NewReadingReceivedConsumer(alarmService)
	if err != nil {
		logger.Fatal().Err(err).Msg("alarm consumer setup failed")
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[telemetryevents.ReadingReceived](), "alarms.readings", func(ctx context.Context, event any) error {
		evt, ok := event.(telemetryevents.ReadingReceived)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return alarmConsumer.Consume(ctx, evt)
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[telemetryevents.ReadingReceived](), "ws.readings", func(ctx context.Context, event any) error {
		evt, ok := event.(telemetryevents.ReadingReceived)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		hub.BroadcastReading(evt)
		return nil
	}, processedStore)

	tracker, err := devapp.NewLivenessTracker(deviceRepo, logger,
		devapp.WithSweepInterval(cfg.LivenessSweepInterval),
		devapp.WithSilenceTimeout(cfg.LivenessSilenceTimeout),
		devapp.WithNotifier(hub),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("liveness tracker setup failed")
	}
	go tracker.Run(ctx)

	ingestor, err := telemetryapp.NewIngestor(deviceRepo, readingRepo, publisher, logger,
		telemetryapp.WithRecoveryNotifier(tracker))
	if err != nil {
		logger.Fatal().Err(err).Msg("ingestor setup failed")
	}
	consumer, err := telemetrymqtt.NewConsumer(telemetrymqtt.ConsumerConfig{
		BrokerURL: cfg.MQTTBrokerURL,
		ClientID:  cfg.MQTTClientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		Topic:     cfg.MQTTTopic,
		QoS:       cfg.MQTTQoS,
	}, ingestor, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("mqtt consumer setup failed")
	}
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("mqtt connect failed")
	}

	dashboard, err := dashboardapp.NewDashboard(deviceRepo, readingRepo, alarmRepo, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("dashboard setup failed")
	}
	var dashboardReader dashboardhttp.DashboardReader = dashboard
	if cfg.RedisAddr != "" {
		redisClient := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := cache.Ping(ctx, redisClient); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping failed")
		}
		defer redisClient.Close()
		cached, err := dashboardapp.NewCachedDashboard(dashboard, cache.NewRedisKV(redisClient), logger,
			dashboardapp.WithCacheTTL(cfg.DashboardCacheTTL))
		if err != nil {
			logger.Fatal().Err(err).Msg("dashboard cache setup failed")
		}
		dashboardReader = cached
	}

	userService, err := userapp.NewService(userRepo, []byte(cfg.JWTSecret), logger,
		userapp.WithTokenTTL(cfg.TokenTTL))
	if err != nil {
		logger.Fatal().Err(err).Msg("user service setup failed")
	}
	reportService, err := reportapp.NewService(deviceRepo, readingRepo, alarmRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("report service setup failed")
	}
	sweeper, err := retention.NewSweeper(readingRepo, alarmRepo, logger,
		retention.WithInterval(cfg.RetentionInterval),
		retention.WithReadingMaxAge(cfg.ReadingMaxAge),
		retention.WithAlarmMaxAge(cfg.AlarmMaxAge),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("retention sweeper setup failed")
	}
	go sweeper.Run(ctx)

	deviceHandler, err := devicehttp.NewHandler(deviceRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("device handler setup failed")
	}
	thresholdHandler, err := thresholdhttp.NewHandler(thresholdRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("threshold handler setup failed")
	}
	alarmHandler, err := alarmhttp.NewHandler(alarmService)
	if err != nil {
		logger.Fatal().Err(err).Msg("alarm handler setup failed")
	}
	dashboardHandler, err := dashboardhttp.NewHandler(dashboardReader)
	if err != nil {
		logger.Fatal().Err(err).Msg("dashboard handler setup failed")
	}
	userHandler, err := userhttp.NewHandler(userService)
	if err != nil {
		logger.Fatal().Err(err).Msg("user handler setup failed")
	}
	reportHandler, err := reportinterfaces.NewHandler(reportService)
	if err != nil {
		logger.Fatal().Err(err).Msg("report handler setup failed")
	}
	retentionHandler, err := retention.NewHandler(sweeper)
	if err != nil {
		logger.Fatal().Err(err).Msg("retention handler setup failed")
	}
	auditHandler, err := audit.NewHandler(auditRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("audit handler setup failed")
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/auth/login", userHandler)
	mux.Handle("/api/v1/users", userHandler)
	mux.Handle("/api/v1/users/", userHandler)
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/api/v1/thresholds", thresholdHandler)
	mux.Handle("/api/v1/thresholds/", thresholdHandler)
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.Handle("/api/v1/dashboard/", dashboardHandler)
	mux.Handle("/api/v1/reports/device", reportHandler)
	mux.Handle("/api/v1/retention/run", retentionHandler)
	mux.Handle("/api/v1/audit", auditHandler)
	mux.Handle("/api/v1/ws", websocket.NewHandler(hub))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: loggingMiddleware(authMiddleware.Wrap(audit.Middleware(auditRepo, mux)), logger),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("http server failed")
	}
	logger.Info().Msg("shutdown complete")
}

type config struct {
	DatabaseURL string
	HTTPAddr    string

	MQTTBrokerURL string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string
	MQTTTopic     string
	MQTTQoS       byte

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DashboardCacheTTL time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	AlarmWebhookURL         string
	AlarmNotifyTemplate     string
	AlarmEscalationAfter    time.Duration
	AlarmNotifyCooldown     time.Duration
	AlarmNotifyDedupeWindow time.Duration
	AlarmNotifyTimeout      time.Duration

	LivenessSweepInterval  time.Duration
	LivenessSilenceTimeout time.Duration

	RetentionInterval time.Duration
	ReadingMaxAge     time.Duration
	AlarmMaxAge       time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:             getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:                getenvDefault("HTTP_ADDR", ":8080"),
		MQTTBrokerURL:           getenvDefault("MQTT_BROKER_URL", ""),
		MQTTClientID:            getenvDefault("MQTT_CLIENT_ID", "gasgrid-ingest"),
		MQTTUsername:            getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword:            getenvDefault("MQTT_PASSWORD", ""),
		MQTTTopic:               getenvDefault("MQTT_TOPIC", "gasgrid/up/#"),
		MQTTQoS:                 byte(getenvIntDefault("MQTT_QOS", 1)),
		RedisAddr:               getenvDefault("REDIS_ADDR", ""),
		RedisPassword:           getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:                 getenvIntDefault("REDIS_DB", 0),
		DashboardCacheTTL:       getenvDuration("DASHBOARD_CACHE_TTL", 15*time.Second),
		JWTSecret:               getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		TokenTTL:                getenvDuration("AUTH_TOKEN_TTL", 24*time.Hour),
		AlarmWebhookURL:         getenvDefault("ALARM_WEBHOOK_URL", ""),
		AlarmNotifyTemplate:     getenvDefault("ALARM_NOTIFY_TEMPLATE", ""),
		AlarmEscalationAfter:    getenvDuration("ALARM_ESCALATION_AFTER", 0),
		AlarmNotifyCooldown:     getenvDuration("ALARM_NOTIFY_COOLDOWN", 0),
		AlarmNotifyDedupeWindow: getenvDuration("ALARM_NOTIFY_DEDUP_WINDOW", 0),
		AlarmNotifyTimeout:      getenvDuration("ALARM_NOTIFY_TIMEOUT", 5*time.Second),
		LivenessSweepInterval:   getenvDuration("LIVENESS_SWEEP_INTERVAL", time.Minute),
		LivenessSilenceTimeout:  getenvDuration("LIVENESS_SILENCE_TIMEOUT", 5*time.Minute),
		RetentionInterval:       getenvDuration("RETENTION_INTERVAL", time.Hour),
		ReadingMaxAge:           getenvDuration("RETENTION_READING_MAX_AGE", 90*24*time.Hour),
		AlarmMaxAge:             getenvDuration("RETENTION_ALARM_MAX_AGE", 30*24*time.Hour),
	}
	fatalLogger := zerolog.New(os.Stderr)
	if cfg.DatabaseURL == "" {
		fatalLogger.Fatal().Msg("DATABASE_URL or PG_DSN is required")
	}
	if cfg.MQTTBrokerURL == "" {
		fatalLogger.Fatal().Msg("MQTT_BROKER_URL is required")
	}
	if cfg.JWTSecret == "" {
		fatalLogger.Fatal().Msg("AUTH_JWT_SECRET is required")
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

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
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

// Hijack keeps WebSocket upgrades working behind the logger.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
