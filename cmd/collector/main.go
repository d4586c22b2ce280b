// Command collector is a reference telemetry publisher: it polls a list
// of machine IDs on an interval and posts simulated parameter readings
// to mesd's energy-monitoring ingest API (SPEC_FULL §0 names this
// "cmd/collector or any conforming publisher hitting the ingest API" —
// the core detector/broadcast pipeline has no opinion on where readings
// come from). Grounded on the teacher's fluxforge/agent heartbeat loop
// (config.go/heartbeat.go: env-derived identity, periodic HTTP POST,
// exponential backoff on failure, signal-driven graceful shutdown) with
// the job-execution agent's responsibilities replaced by telemetry
// simulation and its bespoke HMAC registration replaced by minting a
// JWT the same way internal/auth issues one for any other caller.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopforge/mes/internal/auth"
)

type config struct {
	serverURL  string
	machineIDs []string
	interval   time.Duration
	operator   string
}

func loadConfig() config {
	serverURL := os.Getenv("MES_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	machines := os.Getenv("COLLECTOR_MACHINE_IDS")
	if machines == "" {
		machines = "m1,m2,m3"
	}
	ids := strings.Split(machines, ",")
	for i := range ids {
		ids[i] = strings.TrimSpace(ids[i])
	}

	interval := 5 * time.Second
	if v := os.Getenv("COLLECTOR_INTERVAL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}

	return config{
		serverURL:  serverURL,
		machineIDs: ids,
		interval:   interval,
		operator:   "collector",
	}
}

// reading is a plausible parameter sample for a running CNC/injection
// machine; voltage and current wander around a nominal 415V/3-phase
// supply and power tracks current with a little noise.
type reading struct {
	MachineID string  `json:"machine_id"`
	Voltage   float64 `json:"voltage"`
	Current   float64 `json:"current"`
	PowerKW   float64 `json:"power_kw"`
	OpMode    string  `json:"op_mode"`
	PartCount int     `json:"part_count"`
	JobStatus string  `json:"job_status"`
}

func simulate(machineID string, partCount int) reading {
	voltage := 410 + rand.Float64()*10
	current := 8 + rand.Float64()*4
	return reading{
		MachineID: machineID,
		Voltage:   voltage,
		Current:   current,
		PowerKW:   voltage * current / 1000,
		OpMode:    "AUTO",
		PartCount: partCount,
		JobStatus: "RUNNING",
	}
}

func main() {
	cfg := loadConfig()
	log.Printf("Collector starting. Target: %s, machines: %v, interval: %s", cfg.serverURL, cfg.machineIDs, cfg.interval)

	issuer := auth.NewIssuer()
	token, err := issuer.Generate(cfg.operator, auth.RoleOperator)
	if err != nil {
		log.Fatalf("failed to mint collector token: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	partCounts := make(map[string]int, len(cfg.machineIDs))

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Collector shutting down")
			return
		case <-ticker.C:
			for _, id := range cfg.machineIDs {
				partCounts[id]++
				r := simulate(id, partCounts[id])
				if err := postReading(ctx, client, cfg.serverURL, token, r); err != nil {
					log.Printf("publish failed for %s: %v", id, err)
				}
			}
		}
	}
}

func postReading(ctx context.Context, client *http.Client, serverURL, token string, r reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/energy-monitoring/ingest/parameters", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post reading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
