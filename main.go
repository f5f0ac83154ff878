package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"ownerledger/internal/audit"
	"ownerledger/internal/auth"
	"ownerledger/internal/eventing"
	"ownerledger/internal/eventing/eventbus"
	eventingrepo "ownerledger/internal/eventing/infrastructure/postgres"
	"ownerledger/internal/notify"
	"ownerledger/internal/observability/metrics"
	payoutapp "ownerledger/internal/payout/application"
	payoutinterfaces "ownerledger/internal/payout/interfaces"
	payouthttp "ownerledger/internal/payout/interfaces/http"
	"ownerledger/internal/payout/infrastructure/transfer"
	portfoliorepo "ownerledger/internal/portfolio/infrastructure/postgres"
	scheduleapp "ownerledger/internal/schedule/application"
	schedulerepo "ownerledger/internal/schedule/infrastructure/postgres"
	schedulehttp "ownerledger/internal/schedule/interfaces/http"
	stmtapp "ownerledger/internal/statement/application"
	stmtrepo "ownerledger/internal/statement/infrastructure/postgres"
	stmtinterfaces "ownerledger/internal/statement/interfaces"
	stmthttp "ownerledger/internal/statement/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()
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

	metrics.Init(db, logger)
	propertyChecker := auth.NewPropertyChecker(db)
	auditRepo := audit.NewRepository(db)

	propertyReader, err := portfoliorepo.NewPropertyReader(db)
	if err != nil {
		logger.Fatalf("property reader error: %v", err)
	}
	reservationReader, err := portfoliorepo.NewReservationReader(db)
	if err != nil {
		logger.Fatalf("reservation reader error: %v", err)
	}
	ledgerReader, err := portfoliorepo.NewLedgerReader(db)
	if err != nil {
		logger.Fatalf("ledger reader error: %v", err)
	}

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(stmtapp.StatementGenerated{})
	registry.Register(stmtapp.StatementFinalized{})
	registry.Register(payoutapp.PayoutTransferred{})
	registry.Register(payoutapp.PayoutQueued{})
	registry.Register(payoutapp.TopUpSucceeded{})
	registry.Register(payoutapp.TopUpFailed{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, cfg.TenantID, baseBus)

	statementRepo := stmtrepo.NewStatementRepository(db)
	statementPublisher := stmtinterfaces.NewOutboxPublisher(publisher, cfg.TenantID)
	aggregator, err := stmtapp.NewAggregator(
		statementRepo,
		propertyReader,
		reservationReader,
		ledgerReader,
		statementPublisher,
		stmtapp.SystemClock{},
		cfg.TenantID,
		cfg.Currency,
	)
	if err != nil {
		logger.Fatalf("aggregator error: %v", err)
	}

	transferClient, err := transfer.NewClient(cfg.TransferBaseURL, cfg.TransferAPIKey)
	if err != nil {
		logger.Fatalf("transfer client error: %v", err)
	}
	payoutPublisher := payoutinterfaces.NewOutboxPublisher(publisher, cfg.TenantID)
	orchestrator, err := payoutapp.NewOrchestrator(statementRepo, transferClient, propertyReader, payoutPublisher, payoutapp.SystemClock{}, logger)
	if err != nil {
		logger.Fatalf("payout orchestrator error: %v", err)
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[stmtapp.StatementFinalized](), "payout.transfer", orchestrator.HandleStatementFinalized, processedStore)

	if cfg.NotifyWebhookURL != "" {
		notifier := notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
		eventing.Subscribe(baseBus, eventbus.EventTypeOf[stmtapp.StatementFinalized](), "notify.statement", func(ctx context.Context, event any) error {
			evt, ok := event.(stmtapp.StatementFinalized)
			if !ok {
				return eventbus.ErrInvalidEventType
			}
			stmt, err := statementRepo.GetByID(ctx, evt.StatementID)
			if err != nil || stmt == nil {
				return err
			}
			return notifier.Notify(ctx, notify.StatementMessage{
				StatementID: stmt.ID,
				OwnerName:   stmt.OwnerName,
				OwnerEmail:  stmt.OwnerEmail,
				PropertyID:  stmt.PropertyID,
				GroupName:   stmt.GroupName,
				PeriodStart: stmt.PeriodStart,
				PeriodEnd:   stmt.PeriodEnd,
				NetPayout:   stmt.NetPayout,
				Currency:    stmt.Currency,
			})
		}, processedStore)
	}

	statementHandler, err := stmthttp.NewHandler(aggregator, orchestrator, auditRepo, propertyChecker, cfg.GenerateTimeout)
	if err != nil {
		logger.Fatalf("statement handler error: %v", err)
	}

	payoutHandler, err := payouthttp.NewHandler(orchestrator, orchestrator, logger)
	if err != nil {
		logger.Fatalf("payout handler error: %v", err)
	}

	scheduleRepo := schedulerepo.NewScheduleRepository(db)
	reportStore := schedulerepo.NewRunReportStore(db)
	scheduleService, err := scheduleapp.NewService(scheduleRepo, scheduleapp.SystemClock{})
	if err != nil {
		logger.Fatalf("schedule service error: %v", err)
	}
	if cfg.ScheduleSeedPath != "" {
		seed, err := scheduleapp.LoadSeedConfig(cfg.ScheduleSeedPath)
		if err != nil {
			logger.Fatalf("schedule seed error: %v", err)
		}
		if err := scheduleService.Seed(context.Background(), seed); err != nil {
			logger.Fatalf("schedule seed apply error: %v", err)
		}
	}
	scheduleHandler, err := schedulehttp.NewHandler(scheduleService, auditRepo)
	if err != nil {
		logger.Fatalf("schedule handler error: %v", err)
	}
	engine, err := scheduleapp.NewEngine(scheduleRepo, reportStore, aggregator, scheduleapp.SystemClock{}, logger)
	if err != nil {
		logger.Fatalf("schedule engine error: %v", err)
	}
	go engine.Start(context.Background())

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/webhooks/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	webhookAuth := auth.NewWebhookAuthMiddleware([]byte(cfg.WebhookSecret), time.Duration(cfg.WebhookSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/statements", statementHandler)
	mux.Handle("/api/v1/statements/", statementHandler)
	mux.Handle("/api/v1/statements/generate", statementHandler)
	mux.Handle("/api/v1/schedules", scheduleHandler)
	mux.Handle("/api/v1/schedules/", scheduleHandler)
	mux.Handle("/api/v1/payouts/", payoutHandler)
	mux.Handle("/webhooks/payout", webhookAuth.Wrap(payoutHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL        string
	HTTPAddr           string
	TenantID           string
	Currency           string
	JWTSecret          string
	WebhookSecret      string
	WebhookSkewSeconds int
	TransferBaseURL    string
	TransferAPIKey     string
	NotifyWebhookURL   string
	ScheduleSeedPath   string
	GenerateTimeout    time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:        getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:           getenvDefault("TENANT_ID", "tenant-demo"),
		Currency:           getenvDefault("CURRENCY", "USD"),
		JWTSecret:          getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		WebhookSecret:      getenvDefault("PAYOUT_WEBHOOK_SECRET", ""),
		WebhookSkewSeconds: getenvIntDefault("PAYOUT_WEBHOOK_MAX_SKEW_SECONDS", 300),
		TransferBaseURL:    getenvDefault("TRANSFER_BASE_URL", ""),
		TransferAPIKey:     getenvDefault("TRANSFER_API_KEY", ""),
		NotifyWebhookURL:   getenvDefault("NOTIFY_WEBHOOK_URL", ""),
		ScheduleSeedPath:   getenvDefault("SCHEDULE_SEED_PATH", ""),
		GenerateTimeout:    getenvDuration("STATEMENT_GENERATE_TIMEOUT", 30*time.Second),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	if cfg.TransferBaseURL == "" {
		log.Fatal("TRANSFER_BASE_URL is required")
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
