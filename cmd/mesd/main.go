// Command mesd is the MES control plane: it wires the catalog, priority
// engine, status log, telemetry ingest, change detector, scheduler,
// reschedule controller, production log and reporting packages onto the
// HTTP surface in internal/api and serves it. Grounded on the teacher's
// control_plane/main.go startup sequence (env-driven store selection,
// leader election callbacks, emoji-tagged banner) adapted for this
// project's store split: Postgres is the durable primary (spec's system
// of record for orders, routings, downtimes, production), Redis is an
// optional fast path supplying the Coordinator lease and the
// Idempotency-Key backend. A node with no REDIS_ADDR configured runs in
// single-node mode: an in-process MemoryCoordinator stands in for the
// lease and reschedules always run inline, same as the teacher's
// "Redis unavailable. Starting Scheduler in STANDALONE mode" fallback.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shopforge/mes/internal/api"
	"github.com/shopforge/mes/internal/auth"
	"github.com/shopforge/mes/internal/broadcast"
	"github.com/shopforge/mes/internal/catalog"
	"github.com/shopforge/mes/internal/coordination"
	"github.com/shopforge/mes/internal/detect"
	"github.com/shopforge/mes/internal/idempotency"
	"github.com/shopforge/mes/internal/observability"
	"github.com/shopforge/mes/internal/priority"
	"github.com/shopforge/mes/internal/productionlog"
	"github.com/shopforge/mes/internal/reporting"
	"github.com/shopforge/mes/internal/reschedule"
	"github.com/shopforge/mes/internal/scheduler"
	"github.com/shopforge/mes/internal/statuslog"
	"github.com/shopforge/mes/internal/store"
	"github.com/shopforge/mes/internal/telemetry"
)

func generateNodeID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "mesd"
	}
	return hostname
}

func parseShiftHour(env, fallback string) int {
	v := os.Getenv(env)
	if v == "" {
		v = fallback
	}
	hh := v
	if len(v) >= 2 {
		hh = v[:2]
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		log.Printf("⚠️ invalid %s=%q, falling back to %s", env, v, fallback)
		h, _ = strconv.Atoi(fallback[:2])
	}
	return h
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable primary store. Postgres is the system of record for the
	// full order/routing/downtime/production graph (spec §2, §6-§8);
	// unlike the teacher this is never Redis.
	var primary store.Store
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL != "" {
		pg, err := store.NewPostgresStore(ctx, dbURL)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		primary = pg
		log.Println("✅ Connected to Postgres as durable primary store")
	} else {
		log.Println("⚠️ DATABASE_URL unset, falling back to in-memory store (dev mode only)")
		primary = store.NewMemoryStore()
	}

	// Fast path: Redis backs the Coordinator lease and the
	// Idempotency-Key cache when configured; otherwise both fall back
	// to in-process implementations suitable for a single replica.
	var coordinator store.Coordinator
	var idemBackend store.IdempotencyBackend
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr != "" {
		redisStore, err := store.NewRedisStore(redisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			log.Fatalf("failed to connect to Redis at %s: %v", redisAddr, err)
		}
		coordinator = redisStore
		idemBackend = redisStore
		log.Printf("✅ Connected to Redis at %s for coordination and idempotency", redisAddr)
	} else {
		log.Println("⚠️ REDIS_ADDR unset, running single-node: in-memory coordinator, ephemeral idempotency store")
		coordinator = store.NewMemoryCoordinator()
		idemBackend = nil
	}

	shift := store.ShiftCalendar{
		StartHour: parseShiftHour("SHIFT_START", "09:00"),
		EndHour:   parseShiftHour("SHIFT_END", "17:00"),
	}
	cat := catalog.New(primary, shift)
	pr := priority.New(primary, cat)
	sl := statuslog.New(primary)
	tl := telemetry.New(primary)
	pl := productionlog.New(primary)
	rp := reporting.New(primary, cat)
	hub := broadcast.NewHub()
	sched := scheduler.New(primary, cat)
	rs := reschedule.New(primary, sched)

	detector := detect.New(primary, hub)
	go detector.Run(ctx)
	log.Println("✅ Change detector running (status, parameters, shiftwise energy)")

	var lock *coordination.ScheduleLock
	if redisAddr != "" {
		lock = coordination.NewScheduleLock(coordinator, primary, "node-"+generateNodeID(), 30*time.Second)
		janitor := coordination.NewLockJanitor(coordinator, primary, 60*time.Second)
		janitor.Start(ctx)

		lock.SetCallbacks(
			func(heldCtx context.Context) {
				log.Println("✅ Acquired reschedule lock. Running initial admin reschedule...")
				if _, err := rs.Trigger(heldCtx, reschedule.TriggerAdmin, "system-startup"); err != nil {
					log.Printf("⚠️ initial reschedule failed: %v", err)
				}
			},
			func() {
				log.Println("⚠️ Lost reschedule lock")
			},
		)
		lock.Start(ctx)
		log.Println("✅ Distributed reschedule lock started")
	} else {
		log.Println("⚠️ Single-node mode: reschedules run inline, no distributed lock")
		if _, err := rs.Trigger(ctx, reschedule.TriggerAdmin, "system-startup"); err != nil {
			log.Printf("⚠️ initial reschedule failed: %v", err)
		}
	}

	issuer := auth.NewIssuer()
	idem := idempotency.NewStore(idemBackend)

	srv := api.New(primary, cat, pr, sl, tl, pl, rp, hub, rs, lock, issuer, idem)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	observability.LeaderStatus.Set(0)

	fmt.Println("==================================================")
	fmt.Println("🏭 MES CONTROL PLANE")
	fmt.Println("==================================================")
	fmt.Printf("Shift window:       %02d:00-%02d:00\n", shift.StartHour, shift.EndHour)
	fmt.Printf("Distributed mode:   %v\n", redisAddr != "")
	fmt.Printf("Listening on:       :%s\n", port)
	fmt.Println("==================================================")

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: srv.Router(),
	}

	go func() {
		<-ctx.Done()
		log.Println("⚠️ shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️ graceful shutdown error: %v", err)
		}
	}()

	log.Printf("MES Control Plane listening on :%s", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	log.Println("server stopped")
}
