package store

import (
	"context"
	"time"
)

// CatalogReader is the read-only surface the scheduler and priority
// engine consume (spec §2: "Consumed read-only by the scheduler").
type CatalogReader interface {
	ListProjects(ctx context.Context) ([]*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	ListActiveParts(ctx context.Context) ([]*PartScheduleStatus, error)
	ListOperations(ctx context.Context, orderID string) ([]*Operation, error)
	ListOrders(ctx context.Context) ([]*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderByProductionOrder(ctx context.Context, po string) (*Order, error)
	GetWorkCenter(ctx context.Context, id string) (*WorkCenter, error)
	GetMachine(ctx context.Context, id string) (*Machine, error)
	GetRawMaterial(ctx context.Context, id string) (*RawMaterial, error)
	GetMachineStatus(ctx context.Context, machineID string) (*MachineStatus, error)
}

// Store is the full persistence surface. PostgresStore and MemoryStore
// implement it in full; RedisStore implements the telemetry/idempotency
// subset and is composed alongside PostgresStore in production (the
// teacher's "Postgres for durable, Redis for fast/ephemeral" split).
type Store interface {
	CatalogReader

	// --- Projects & priority ---
	UpsertProject(ctx context.Context, p *Project) error
	SetProjectPriority(ctx context.Context, id string, priority int) error

	// --- Planning intake (master-data CRUD, spec §1 "conventional REST
	// plumbing" surfaced at §6 so the core has somewhere to take orders
	// in; no scheduling business logic lives here) ---
	CreateOrder(ctx context.Context, o *Order) error
	UpdateOrder(ctx context.Context, o *Order) error
	DeleteOrder(ctx context.Context, id string) error
	UpsertOperation(ctx context.Context, op *Operation) error

	// --- Status & downtime ---
	UpsertMachineStatus(ctx context.Context, s *MachineStatus) error
	OpenDowntime(ctx context.Context, d *Downtime) error
	AcknowledgeDowntime(ctx context.Context, id string, at time.Time) error
	StartDowntime(ctx context.Context, id string, at time.Time) error
	CloseDowntime(ctx context.Context, id string, at time.Time, actionTaken string) error
	GetOpenDowntimeForMachine(ctx context.Context, machineID string) (*Downtime, error)
	ListDowntimes(ctx context.Context, machineID string) ([]*Downtime, error)

	// --- PSI / ScheduleVersion ---
	UpsertPSI(ctx context.Context, psi *PlannedScheduleItem) error
	GetPSIForOperation(ctx context.Context, operationID string) (*PlannedScheduleItem, error)
	GetPSI(ctx context.Context, id string) (*PlannedScheduleItem, error)
	CreateScheduleVersion(ctx context.Context, sv *ScheduleVersion) error
	DeactivateScheduleVersion(ctx context.Context, id string) error
	GetActiveScheduleVersion(ctx context.Context, psiID string) (*ScheduleVersion, error)
	MaxVersionNo(ctx context.Context, psiID string) (int, error)
	ListActiveScheduleVersions(ctx context.Context) ([]*ScheduleVersion, error)
	ApplyProductionLog(ctx context.Context, log *ProductionLog) error
	ListProductionLogs(ctx context.Context, machineID string, since, until time.Time) ([]*ProductionLog, error)

	// --- Reschedule history ---
	RecordReschedule(ctx context.Context, r *RescheduleRecord) error
	ListReschedules(ctx context.Context, limit int) ([]*RescheduleRecord, error)

	// --- Telemetry ---
	UpsertTelemetryLive(ctx context.Context, t *TelemetrySnapshotLive) error
	AppendTelemetryHistory(ctx context.Context, t *TelemetrySnapshotHistory) error
	ListTelemetryLive(ctx context.Context) ([]*TelemetrySnapshotLive, error)
	ListTelemetryHistoryWindow(ctx context.Context, machineID string, since time.Time) ([]*TelemetrySnapshotHistory, error)
	ListTelemetryHistoryRange(ctx context.Context, machineID string, start, end time.Time) ([]*TelemetrySnapshotHistory, error)
	UpsertShiftwiseEnergyLive(ctx context.Context, e *ShiftwiseEnergy) error
	AppendShiftwiseEnergyHistory(ctx context.Context, e *ShiftwiseEnergy) error
	ListShiftwiseEnergyLive(ctx context.Context) ([]*ShiftwiseEnergy, error)

	// --- Coordination durable epoch (leader/lock fencing) ---
	IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error)
	GetDurableEpoch(ctx context.Context, resourceID string) (int64, error)
}

// Coordinator is the lease backend for internal/coordination's
// reschedule-serialization lock (teacher: store.Coordinator backed by
// Redis SET NX / Lua CAS release).
type Coordinator interface {
	AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, value string) error
	GetLockOwner(ctx context.Context, key string) (string, error)
	ScanLocks(ctx context.Context, pattern string) ([]string, error)
}

// IdempotencyBackend is the minimal surface internal/idempotency needs
// from whichever Store backs it (Redis in production).
type IdempotencyBackend interface {
	SetIdempotencyRecordNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	GetIdempotencyRecord(ctx context.Context, key string) (string, error)
	SetIdempotencyRecord(ctx context.Context, key, value string, ttl time.Duration) error
}
