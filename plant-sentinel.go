package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme/autocert"

	"plant-sentinel/pkg/alerts"
	"plant-sentinel/pkg/archive"
	"plant-sentinel/pkg/dashboard"
	"plant-sentinel/pkg/database"
	"plant-sentinel/pkg/database/drivers"
	"plant-sentinel/pkg/pipeline"
	"plant-sentinel/pkg/plantapi"
)

var domain = flag.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
var dbType = flag.String("db-type", "sqlite", "Type of the database driver: sqlite, duckdb, or pgx (postgresql)")
var dbPath = flag.String("db-path", "", "Path to the database file (defaults to the current folder, applicable for sqlite and duckdb drivers.)")
var dbHost = flag.String("db-host", "127.0.0.1", "Database host (applicable for pgx driver)")
var dbPort = flag.Int("db-port", 5432, "Database port (applicable for pgx driver)")
var dbUser = flag.String("db-user", "postgres", "Database user (applicable for pgx driver)")
var dbPass = flag.String("db-pass", "", "Database password (applicable for pgx driver, $DB_PASSWORD also works)")
var dbName = flag.String("db-name", "PlantSentinel", "Database name (applicable for pgx driver)")
var pgSSLMode = flag.String("pg-ssl-mode", "prefer", "PostgreSQL SSL mode: disable, allow, prefer, require, verify-ca, or verify-full")
var port = flag.Int("port", 8765, "Port for the dashboard server")
var version = flag.Bool("version", false, "Show the application version")

var apiURL = flag.String("api-url", "https://sigma-labs-bot.herokuapp.com/api/plants", "Base URL of the plant readings API")
var firstPlant = flag.Int("first-plant", 0, "First plant id of the sweep (inclusive)")
var lastPlant = flag.Int("last-plant", 50, "Last plant id of the sweep (inclusive)")
var fetchWorkers = flag.Int("fetch-workers", plantapi.DefaultWorkers, "Concurrent API fetches per sweep")
var pipelineSpec = flag.String("pipeline-schedule", "@every 1m", "Cron spec for the fetch-validate-load cycle")
var alertSpec = flag.String("alert-schedule", "@every 1m", "Cron spec for the alert evaluation pass")
var archiveSpec = flag.String("archive-schedule", "5 * * * *", "Cron spec for the hourly archive pass")
var archiveDir = flag.String("archive-dir", "archive", "Local directory for archive exports")
var bucket = flag.String("bucket", "", "S3 bucket for archive uploads ($TARGET_BUCKET_NAME also works, empty keeps archives local)")
var once = flag.String("once", "", "Run one job (pipeline, alerts, archive) and exit instead of scheduling")

var CompileVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("plant-sentinel version %s\n", CompileVersion)
		return
	}

	logf := newLogf()

	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		logf("binding to :80 / :443 requires super-user rights; run with sudo or as root")
	}

	// Secrets may come from the environment so systemd units and containers
	// never put passwords on the command line.
	if *dbPass == "" {
		*dbPass = os.Getenv("DB_PASSWORD")
	}
	if *bucket == "" {
		*bucket = os.Getenv("TARGET_BUCKET_NAME")
	}

	drivers.Ready()
	db, err := database.NewDatabase(database.Config{
		DBType:    *dbType,
		DBPath:    *dbPath,
		DBHost:    *dbHost,
		DBPort:    *dbPort,
		DBUser:    *dbUser,
		DBPass:    *dbPass,
		DBName:    *dbName,
		PGSSLMode: *pgSSLMode,
	}, logf)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		log.Fatalf("schema: %v", err)
	}
	db.EnsureIndexesAsync(context.Background(), logf)

	api := plantapi.NewClient(*apiURL, logf)
	runner := &pipeline.Runner{
		API:        api,
		DB:         db,
		FirstPlant: *firstPlant,
		LastPlant:  *lastPlant,
		Workers:    *fetchWorkers,
		Logf:       logf,
	}
	evaluator := &alerts.Evaluator{DB: db, Logf: logf}
	archiver := &archive.Archiver{
		DB:     db,
		OutDir: *archiveDir,
		Bucket: *bucket,
		Logf:   logf,
	}
	if *bucket != "" {
		up, err := archive.NewS3Uploader()
		if err != nil {
			log.Fatalf("s3 uploader: %v", err)
		}
		archiver.Uploader = up
	}

	if *once != "" {
		if err := runOnce(*once, runner, evaluator, archiver); err != nil {
			log.Fatalf("%s: %v", *once, err)
		}
		return
	}

	// Each job gets its own single-flight guard inside cron: SkipIfStillRunning
	// means an overlong cycle delays the next one instead of overlapping it.
	// That is what keeps the alert probe-then-insert race-free.
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	mustSchedule(scheduler, *pipelineSpec, "pipeline", func() {
		if _, err := runner.Run(context.Background()); err != nil {
			logf("pipeline: %v", err)
		}
	})
	mustSchedule(scheduler, *alertSpec, "alerts", func() {
		if _, err := evaluator.Run(context.Background()); err != nil {
			logf("alerts: %v", err)
		}
	})
	mustSchedule(scheduler, *archiveSpec, "archive", func() {
		if err := archiver.Run(context.Background()); err != nil {
			logf("archive: %v", err)
		}
	})
	scheduler.Start()

	handler := (&dashboard.Handler{DB: db, Logf: logf}).Router()
	if *domain != "" {
		go serveWithDomain(*domain, handler, logf)
	} else {
		go func() {
			addr := fmt.Sprintf(":%d", *port)
			logf("dashboard listening on %s", addr)
			if err := http.ListenAndServe(addr, handler); err != nil {
				log.Fatalf("dashboard server: %v", err)
			}
		}()
	}

	select {}
}

// runOnce executes a single named job, for cron-less deployments and smoke
// tests.
func runOnce(job string, runner *pipeline.Runner, evaluator *alerts.Evaluator, archiver *archive.Archiver) error {
	ctx := context.Background()
	switch job {
	case "pipeline":
		_, err := runner.Run(ctx)
		return err
	case "alerts":
		_, err := evaluator.Run(ctx)
		return err
	case "archive":
		return archiver.Run(ctx)
	default:
		return fmt.Errorf("unknown job %q (want pipeline, alerts, or archive)", job)
	}
}

func mustSchedule(c *cron.Cron, spec, name string, job func()) {
	if _, err := c.AddFunc(spec, job); err != nil {
		log.Fatalf("schedule %s (%q): %v", name, spec, err)
	}
}

// newLogf adapts zerolog's console writer to the printf-style log function
// every package takes. Injecting a function instead of a logger type keeps
// the packages free of any particular logging dependency.
func newLogf() func(string, ...any) {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(writer).With().Timestamp().Logger()
	return func(format string, args ...any) {
		logger.Info().Msgf(format, args...)
	}
}

// certFallback answers TLS handshakes with the manager's certificate and
// keeps the last good one around for hosts the manager refuses (bare IPs,
// unknown SNI). The cache is an atomic pointer because handshakes and the
// warm-up goroutine touch it concurrently.
type certFallback struct {
	lookup func(*tls.ClientHelloInfo) (*tls.Certificate, error)
	cached atomic.Pointer[tls.Certificate]
}

func (f *certFallback) get(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	c, err := f.lookup(hello)
	if err == nil {
		f.cached.Store(c)
		return c, nil
	}
	if cached := f.cached.Load(); cached != nil {
		return cached, nil
	}
	return nil, err
}

// serveWithDomain runs :80 for the ACME challenge plus a redirect and :443
// with automatic Let's Encrypt certificates. IP SNI and unknown hosts fall
// back to the domain's certificate once one has been issued.
func serveWithDomain(domain string, handler http.Handler, logf func(string, ...any)) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			target := "https://" + domain + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})
		logf("http server (acme + redirect) on :80")
		if err := (&http.Server{
			Addr:              ":80",
			Handler:           mux80,
			ReadHeaderTimeout: 10 * time.Second,
		}).ListenAndServe(); err != nil {
			logf("http server error: %v", err)
		}
	}()

	tlsCfg := certMgr.TLSConfig()

	fallback := &certFallback{lookup: certMgr.GetCertificate}
	go func() {
		// Warm the fallback so IP SNI and unknown hosts get served as soon
		// as the domain's certificate has been issued once.
		for fallback.cached.Load() == nil {
			if c, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err == nil {
				fallback.cached.Store(c)
				return
			}
			time.Sleep(time.Minute)
		}
	}()
	tlsCfg.GetCertificate = fallback.get

	server := &http.Server{
		Addr:      ":443",
		Handler:   handler,
		TLSConfig: tlsCfg,
	}
	logf("https server on :443 for %s", domain)
	if err := server.ListenAndServeTLS("", ""); err != nil {
		log.Fatalf("https server error: %v", err)
	}
}
