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

	"crewdesk.io/internal/attendance"
	"crewdesk.io/internal/auth"
	"crewdesk.io/internal/httpapi"
	"crewdesk.io/internal/notify"
	"crewdesk.io/internal/obs"
	"crewdesk.io/internal/qrtoken"
	"crewdesk.io/internal/rotate"
	"crewdesk.io/internal/schedule"
	"crewdesk.io/internal/store/pg"
	"crewdesk.io/internal/stream"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("CREWDESK_COMMIT"))

	loc := time.UTC
	if tz := os.Getenv("CREWDESK_BUSINESS_TZ"); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			log.Fatalf("load business timezone %q: %v", tz, err)
		}
		loc = parsed
	}

	validity := envDuration("CREWDESK_TOKEN_VALIDITY", qrtoken.DefaultValidity)
	interval := envDuration("CREWDESK_ROTATE_INTERVAL", 30*time.Second)
	nightShift := envBool("CREWDESK_NIGHT_SHIFT", false)
	issuerRoles := auth.ParseRoleList(os.Getenv("CREWDESK_ISSUER_ROLES"))

	// Postgres when a DSN is configured, in-memory otherwise (dev mode).
	var (
		db        *sql.DB
		tokens    qrtoken.Service
		logs      attendance.Store
		directory schedule.Directory
	)
	if dsn := os.Getenv("CREWDESK_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		tokens = store.Tokens()
		logs = store.Logs()
		directory = store.Staff()
	} else {
		log.Printf("CREWDESK_PG_DSN not set, using in-memory stores")
		tokens = qrtoken.NewInMemory()
		logs = attendance.NewInMemoryStore()
		directory = schedule.NewStatic()
	}

	recorder := attendance.NewRecorder(tokens, directory, notify.LogNotifier{}, logs,
		attendance.WithBusinessLocation(loc),
		attendance.WithNightShift(nightShift),
	)

	events := stream.New()

	api := httpapi.New(httpapi.Config{
		Ready:         httpapi.ReadyProbe{DB: db},
		Version:       version,
		Tokens:        tokens,
		Recorder:      recorder,
		Stream:        events,
		TokenValidity: validity,
		IssuerRoles:   issuerRoles,
	})

	rotator := rotate.New(tokens, interval, validity)
	rotCtx, rotCancel := context.WithCancel(context.Background())
	rotator.Start(rotCtx)

	addr := os.Getenv("CREWDESK_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting crewdesk-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	rotCancel()
	rotator.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envDuration(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %q", name, raw)
	}
	return d
}

func envBool(name string, def bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Fatalf("invalid %s: %q", name, raw)
	}
	return v
}
