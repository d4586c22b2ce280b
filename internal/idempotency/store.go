// Package idempotency lets mutating REST handlers (downtime creation,
// priority updates) safely retry under the External-error backoff policy
// of spec §7 without double-applying a mutation. Adapted from the
// teacher's idempotency.Store, backed by store.IdempotencyBackend
// (Redis in production) with an in-memory fallback for single-node mode.
package idempotency

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/shopforge/mes/internal/observability"
	"github.com/shopforge/mes/internal/store"
)

// Response is the cached HTTP response replayed for a repeated request.
type Response struct {
	StatusCode int
	Body       []byte
}

type entry struct {
	Resp      Response
	Timestamp time.Time
}

// Store caches responses keyed by an idempotency key (e.g. the
// `Idempotency-Key` header on POST /maintainance/downtimes/).
type Store struct {
	backend store.IdempotencyBackend
	cache   sync.Map // memory fallback
}

func NewStore(backend store.IdempotencyBackend) *Store {
	return &Store{backend: backend}
}

const ttl = 24 * time.Hour

// Get returns a previously cached response for key, if any.
func (s *Store) Get(ctx context.Context, key string) (Response, bool) {
	if s.backend != nil {
		val, err := s.backend.GetIdempotencyRecord(ctx, key)
		if err != nil {
			log.Printf("idempotency: backend get %s: %v", key, err)
			return Response{}, false
		}
		if val == "" {
			return Response{}, false
		}
		var e entry
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			return Response{}, false
		}
		observability.IdempotencyHitsTotal.Inc()
		return e.Resp, true
	}

	v, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := v.(entry)
	if time.Since(e.Timestamp) > ttl {
		s.cache.Delete(key)
		return Response{}, false
	}
	observability.IdempotencyHitsTotal.Inc()
	return e.Resp, true
}

// Reserve atomically claims key for an in-flight request, returning
// false if another request already holds it (prevents a thundering-herd
// double-apply while the first request is still executing).
func (s *Store) Reserve(ctx context.Context, key string) bool {
	if s.backend == nil {
		_, loaded := s.cache.LoadOrStore(key, entry{Timestamp: time.Now()})
		return !loaded
	}
	ok, err := s.backend.SetIdempotencyRecordNX(ctx, key+":reserve", "1", 30*time.Second)
	if err != nil {
		log.Printf("idempotency: reserve %s: %v", key, err)
		return true // fail open: do not block the request on a Redis hiccup
	}
	return ok
}

// Set stores resp for key.
func (s *Store) Set(ctx context.Context, key string, resp Response) {
	e := entry{Resp: resp, Timestamp: time.Now()}
	if s.backend != nil {
		b, _ := json.Marshal(e)
		if err := s.backend.SetIdempotencyRecord(ctx, key, string(b), ttl); err != nil {
			log.Printf("idempotency: backend set %s: %v", key, err)
		}
		return
	}
	s.cache.Store(key, e)
}
