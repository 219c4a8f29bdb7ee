package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/webylead/leadrelay/internal/api"
	"github.com/webylead/leadrelay/internal/auditlog"
	"github.com/webylead/leadrelay/internal/circuitbreaker"
	"github.com/webylead/leadrelay/internal/config"
	"github.com/webylead/leadrelay/internal/dispatcher"
	"github.com/webylead/leadrelay/internal/geo"
	"github.com/webylead/leadrelay/internal/metrics"
	"github.com/webylead/leadrelay/internal/notify"
	"github.com/webylead/leadrelay/internal/queue"
	"github.com/webylead/leadrelay/internal/ratelimit"
	"github.com/webylead/leadrelay/internal/scheduler"
	"github.com/webylead/leadrelay/internal/store/postgres"
	"github.com/webylead/leadrelay/internal/transport"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`leadrelay - lead dispatch and retry relay

Usage:
  leadrelay <command>

Commands:
  serve      Start the relay (HTTP intake, retry scheduler)
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for rate limiting and geo cache (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  DATA_DIR                  Directory for the retry queue and audit log (default: "./data")
  SITE_URL                  Public site URL, sent as the Referer header
  RETRY_SCHEDULE            Cron expression for retry sweeps (default: "*/15 * * * *")

  SMTP_ADDR                 SMTP server address for failure notifications (optional)
  SMTP_FROM                 Notification sender address (required with SMTP_ADDR)
  OPERATOR_EMAIL            Fallback notification recipient
  GEO_BASE_URL              Geocoding service base URL (default: IGN geocodage)

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_ADDR              Metrics server address (default: ":9090")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before an endpoint is paused (default: 0, disabled)
  CIRCUIT_BREAKER_COOLDOWN  Pause duration before probing again (default: "2m")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("leadrelay: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db)

	audit, err := auditlog.New(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open audit log: %v\n", err)
		return exitRuntimeError
	}

	taskStore, err := queue.NewFileStore(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open task store: %v\n", err)
		return exitRuntimeError
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("leadrelay: metrics enabled (addr=%s, path=%s)", cfg.MetricsAddr, cfg.MetricsPath)

		// Start metrics HTTP server on separate address
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("leadrelay: metrics server listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("leadrelay: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("leadrelay: METRICS_ENABLED not set; metrics disabled")
	}

	// Rate limiting and geo caching share the Redis client; both degrade to
	// in-process state when REDIS_ADDR is not set.
	var limiter ratelimit.Limiter
	var geoCache geo.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		limiter = ratelimit.NewRedisLimiter(redisClient)
		geoCache = geo.NewRedisCache(redisClient)
		log.Printf("leadrelay: redis enabled (addr=%s)", cfg.RedisAddr)
	} else {
		limiter = ratelimit.NewMemoryLimiter()
		geoCache = geo.NewMemoryCache()
		log.Println("leadrelay: REDIS_ADDR not set; using in-memory rate limiter and geo cache")
	}

	cities := geo.NewResolver(cfg.GeoBaseURL, geoCache)
	sender := transport.NewSender(version, cfg.SiteURL)

	mailer := notify.NewMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.OperatorEmail, cfg.SiteURL)
	if metricsSink != nil {
		mailer = mailer.WithMetrics(metricsSink)
	}

	retryQueue := queue.New(taskStore, sender, audit, store).WithNotifier(mailer)
	if metricsSink != nil {
		retryQueue = retryQueue.WithMetrics(metricsSink)
	}

	disp := dispatcher.New(store, sender, audit, retryQueue, limiter, cities).
		WithNotifier(mailer)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("leadrelay: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	sched, err := scheduler.New(cfg.RetrySchedule, retryQueue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create scheduler: %v\n", err)
		return exitRuntimeError
	}

	apiHandler := api.NewHandler(disp, retryQueue, audit).
		WithHealthChecker(store).
		WithFormLister(store)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("leadrelay: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("leadrelay: http server error: %v", err)
		}
	}()

	// Separate contexts for the scheduler and mailer enable ordered shutdown:
	// the scheduler stops emitting work before the mailer drains.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	mailerCtx, cancelMailer := context.WithCancel(context.Background())

	var schedulerWg sync.WaitGroup
	var mailerWg sync.WaitGroup

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		sched.Run(schedulerCtx)
	}()

	mailerWg.Add(1)
	go func() {
		defer mailerWg.Done()
		mailer.Run(mailerCtx)
	}()

	log.Printf("leadrelay: started (schedule=%q, http=%s)", cfg.RetrySchedule, cfg.HTTPAddr)

	// SIGUSR1 triggers an immediate retry sweep.
	sweep := make(chan os.Signal, 1)
	signal.Notify(sweep, syscall.SIGUSR1)
	go func() {
		for range sweep {
			log.Println("leadrelay: received SIGUSR1, requesting retry sweep")
			sched.RunNow()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("leadrelay: received signal %v, shutting down", received)

	// Phase 1: Stop the HTTP server so no new submissions arrive
	log.Println("leadrelay: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("leadrelay: http server shutdown error: %v", err)
	}
	log.Println("leadrelay: http server stopped")

	// Phase 2: Stop the scheduler (no new sweeps)
	log.Println("leadrelay: stopping scheduler...")
	cancelScheduler()
	schedulerWg.Wait()
	log.Println("leadrelay: scheduler stopped")

	// Phase 3: Stop the mailer (drains queued notifications before returning)
	log.Println("leadrelay: stopping mailer (draining notifications)...")
	cancelMailer()
	mailerWg.Wait()
	log.Println("leadrelay: mailer stopped")

	// Phase 4: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("leadrelay: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("leadrelay: metrics server shutdown error: %v", err)
		}
		log.Println("leadrelay: metrics server stopped")
	}

	log.Println("leadrelay: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("leadrelay version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
