// Package productionlog is the operator start/stop logging feed that
// drives ScheduleVersion.CompletedQuantity (SPEC_FULL §0 "new" module,
// supplemented from original_source's daily_production endpoints,
// which log operator-reported good/bad quantity against a running
// job). An operator opens a session against an operation's active
// ScheduleVersion, works it, and reports good/bad quantity at stop
// time; the session itself lives in memory the way the teacher tracks
// an in-flight job between dispatch and result (control_plane/jobs.go
// Dispatcher: state held in the process, a single store write commits
// the outcome), rather than persisting a half-open row.
package productionlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopforge/mes/internal/errs"
	"github.com/shopforge/mes/internal/observability"
	"github.com/shopforge/mes/internal/store"
)

// Session is an open operator run against one operation, tracked from
// Start until Stop reports it.
type Session struct {
	ID        string
	PSIID     string
	SVID      string
	Operator  string
	StartedAt time.Time
}

// Log tracks open sessions and commits completed ones to the store.
type Log struct {
	store store.Store
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(s store.Store) *Log {
	return &Log{store: s, now: time.Now, sessions: map[string]*Session{}}
}

// Start opens a session for an operator working the operation's
// current active ScheduleVersion. operationID resolves to a PSI and
// then to that PSI's active SV; there is no in-progress log entry
// without an active SV to report against.
func (l *Log) Start(ctx context.Context, operationID, operator string) (*Session, error) {
	psi, err := l.store.GetPSIForOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	sv, err := l.store.GetActiveScheduleVersion(ctx, psi.ID)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        uuid.NewString(),
		PSIID:     psi.ID,
		SVID:      sv.ID,
		Operator:  operator,
		StartedAt: l.now(),
	}
	l.mu.Lock()
	l.sessions[sess.ID] = sess
	observability.ProductionSessionsOpen.Set(float64(len(l.sessions)))
	l.mu.Unlock()
	return sess, nil
}

// Stop closes an open session, recording good/bad quantity and any
// reason codes, and applies the good quantity to the owning
// ScheduleVersion's progress.
func (l *Log) Stop(ctx context.Context, sessionID string, goodQty, badQty int, reasonCodes []string) (*store.ProductionLog, error) {
	if goodQty < 0 || badQty < 0 {
		return nil, errs.NewInvariantViolation("production log quantities must be non-negative")
	}
	l.mu.Lock()
	sess, ok := l.sessions[sessionID]
	if ok {
		delete(l.sessions, sessionID)
		observability.ProductionSessionsOpen.Set(float64(len(l.sessions)))
	}
	l.mu.Unlock()
	if !ok {
		return nil, errs.NewNotFound("production session %s not found", sessionID)
	}

	stoppedAt := l.now()
	entry := &store.ProductionLog{
		ID:          uuid.NewString(),
		PSIID:       sess.PSIID,
		SVID:        sess.SVID,
		Operator:    sess.Operator,
		StartedAt:   sess.StartedAt,
		StoppedAt:   &stoppedAt,
		GoodQty:     goodQty,
		BadQty:      badQty,
		ReasonCodes: reasonCodes,
	}
	if err := l.store.ApplyProductionLog(ctx, entry); err != nil {
		return nil, err
	}
	observability.ProductionGoodQtyTotal.Add(float64(goodQty))
	observability.ProductionBadQtyTotal.Add(float64(badQty))
	return entry, nil
}

// Abandon discards an open session without logging any quantity
// (operator cancelled, session expired, etc). It is not an error to
// abandon an unknown session id — callers may race a Stop.
func (l *Log) Abandon(sessionID string) {
	l.mu.Lock()
	delete(l.sessions, sessionID)
	observability.ProductionSessionsOpen.Set(float64(len(l.sessions)))
	l.mu.Unlock()
}

// Open returns the currently open session, if any, for inspection
// (e.g. an API handler confirming who has a machine checked out).
func (l *Log) Open(sessionID string) (*Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess, ok := l.sessions[sessionID]
	return sess, ok
}
