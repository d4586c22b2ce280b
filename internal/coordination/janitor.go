package coordination

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/shopforge/mes/internal/store"
)

// LockJanitor reclaims the reschedule-serialization lock when it is
// fenced (a newer epoch has been minted, meaning the holder partitioned
// away and came back) or stale (its lease outlived its own TTL by a
// safety margin). Adapted from the teacher's LockJanitor.
type LockJanitor struct {
	coordinator store.Coordinator
	epochs      store.Store
	interval    time.Duration
}

func NewLockJanitor(c store.Coordinator, epochs store.Store, interval time.Duration) *LockJanitor {
	return &LockJanitor{coordinator: c, epochs: epochs, interval: interval}
}

func (j *LockJanitor) Start(ctx context.Context) { go j.loop(ctx) }

func (j *LockJanitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.clean(ctx)
		}
	}
}

func (j *LockJanitor) clean(ctx context.Context) {
	currentEpoch, err := j.epochs.GetDurableEpoch(ctx, "reschedule_lock")
	if err != nil {
		log.Printf("LockJanitor: get durable epoch: %v", err)
		return
	}

	keys, err := j.coordinator.ScanLocks(ctx, "mes:lock:*")
	if err != nil {
		log.Printf("LockJanitor: scan: %v", err)
		return
	}

	for _, key := range keys {
		val, err := j.coordinator.GetLockOwner(ctx, key)
		if err != nil || val == "" {
			continue
		}

		var meta LeaseMetadata
		if err := json.Unmarshal([]byte(val), &meta); err != nil {
			continue
		}

		if meta.Epoch < currentEpoch {
			log.Printf("LockJanitor: fencing %s (epoch %d < %d)", key, meta.Epoch, currentEpoch)
			_ = j.coordinator.ReleaseLease(ctx, key, val)
			continue
		}

		if time.Now().After(meta.ExpiresAt.Add(5 * time.Second)) {
			log.Printf("LockJanitor: reclaiming stale lease %s (expired %s)", key, meta.ExpiresAt)
			_ = j.coordinator.ReleaseLease(ctx, key, val)
		}
	}
}
