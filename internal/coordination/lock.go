// Package coordination serializes the Reschedule Controller across
// replicas of the control plane. Spec §5: "Two scheduling runs never
// execute concurrently; the Reschedule Controller serializes them behind
// a single lock." This is a direct adaptation of the teacher's
// LeaderElector: a durable Postgres epoch fences stale lease holders,
// and a Redis lease provides the fast distributed mutex.
package coordination

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopforge/mes/internal/observability"
	"github.com/shopforge/mes/internal/store"
)

// LeaseMetadata is the JSON payload stored as the lease value, used by
// the Janitor to detect stale or fenced holders.
type LeaseMetadata struct {
	OwnerNode string    `json:"owner_node"`
	Epoch     int64     `json:"epoch"`
	ReqID     string    `json:"req_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ScheduleLock grants at most one node the right to run the Reschedule
// Controller at a time (spec §5). Hold it is required before calling
// scheduler.Run; losing it must abort any in-flight run via the context
// returned by HeldContext.
type ScheduleLock struct {
	coordinator store.Coordinator
	epochs      store.Store // durable epoch counter (Postgres)
	nodeID      string
	lockKey     string
	ttl         time.Duration

	mu           sync.RWMutex
	held         bool
	heldCtx      context.Context
	heldCancel   context.CancelFunc
	currentValue string
	currentEpoch int64
	transitions  int64
	lostAt       time.Time

	onAcquired func(context.Context)
	onLost     func()

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduleLock(c store.Coordinator, epochs store.Store, nodeID string, ttl time.Duration) *ScheduleLock {
	ctx, cancel := context.WithCancel(context.Background())
	return &ScheduleLock{
		coordinator: c,
		epochs:      epochs,
		nodeID:      nodeID,
		lockKey:     "mes:lock:reschedule",
		ttl:         ttl,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetCallbacks registers the functions to run when this node acquires or
// loses the lock. onAcquired receives a context cancelled the instant
// the lock is lost, so an in-flight scheduling run can bail out.
func (l *ScheduleLock) SetCallbacks(onAcquired func(context.Context), onLost func()) {
	l.onAcquired = onAcquired
	l.onLost = onLost
}

// Start begins the acquire/renew loop in the background.
func (l *ScheduleLock) Start(ctx context.Context) { go l.loop(ctx) }

// Stop releases the lock (if held) and ends the loop.
func (l *ScheduleLock) Stop() {
	l.cancel()
	if l.Held() {
		l.release()
	}
}

func (l *ScheduleLock) Held() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.held
}

// HeldContext returns the context valid only while this node holds the
// lock; its cancellation is the abort signal described in spec §5.
func (l *ScheduleLock) HeldContext() context.Context {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.heldCtx
}

func (l *ScheduleLock) loop(ctx context.Context) {
	interval := l.ttl / 3
	minInterval := l.ttl / 3
	maxInterval := 10 * l.ttl
	failures := 0
	const maxFailures = 3

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.Held() {
				l.release()
			}
			return
		case <-timer.C:
			var err error
			if l.Held() {
				renewed, rerr := l.renew(ctx)
				err = rerr
				if err == nil && !renewed {
					l.stepDown()
				}
			} else {
				acquired, aerr := l.acquire(ctx)
				err = aerr
				if err == nil && acquired {
					l.becomeHolder()
				}
			}

			if err != nil {
				failures++
				log.Printf("ScheduleLock: error (%d/%d): %v", failures, maxFailures, err)
				if failures >= maxFailures && l.Held() {
					l.stepDown()
					failures = 0
				}
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
			} else {
				failures = 0
				interval = minInterval
			}
			timer.Reset(interval)
		}
	}
}

func (l *ScheduleLock) acquire(ctx context.Context) (bool, error) {
	epoch, err := l.epochs.IncrementDurableEpoch(ctx, "reschedule_lock")
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	l.currentEpoch = epoch
	l.mu.Unlock()

	meta := LeaseMetadata{
		OwnerNode: l.nodeID,
		Epoch:     epoch,
		ReqID:     uuid.NewString(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(l.ttl),
	}
	valBytes, _ := json.Marshal(meta)
	val := string(valBytes)

	acquired, err := l.coordinator.AcquireLease(ctx, l.lockKey, val, l.ttl)
	if err != nil {
		return false, err
	}
	if acquired {
		l.mu.Lock()
		l.currentValue = val
		l.mu.Unlock()
	}
	return acquired, nil
}

func (l *ScheduleLock) renew(ctx context.Context) (bool, error) {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return false, nil
	}
	return l.coordinator.RenewLease(ctx, l.lockKey, val, l.ttl)
}

func (l *ScheduleLock) release() {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = l.coordinator.ReleaseLease(ctx, l.lockKey, val)
}

func (l *ScheduleLock) becomeHolder() {
	l.mu.Lock()
	l.held = true
	ctx, cancel := context.WithCancel(context.Background())
	l.heldCtx = ctx
	l.heldCancel = cancel
	l.transitions++
	epoch := l.currentEpoch
	l.mu.Unlock()

	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "acquired").Inc()
	observability.LeadershipEpoch.WithLabelValues(l.nodeID).Set(float64(epoch))
	observability.LeaderStatus.Set(1)
	log.Printf("ScheduleLock: acquired (node=%s epoch=%d)", l.nodeID, epoch)

	if l.onAcquired != nil {
		go l.onAcquired(ctx)
	}
}

func (l *ScheduleLock) stepDown() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	l.held = false
	l.transitions++
	l.lostAt = time.Now()
	if l.heldCancel != nil {
		l.heldCancel()
	}
	l.mu.Unlock()

	observability.LeaderStatus.Set(0)
	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "lost").Inc()
	log.Printf("ScheduleLock: lost (node=%s)", l.nodeID)
	if l.onLost != nil {
		l.onLost()
	}
}
