// Package store defines the persistence model for the MES core (spec §3)
// and the Store interface the rest of the system programs against. Three
// implementations are provided: PostgresStore (durable catalog/schedule
// tables), RedisStore (fast live-telemetry cache, idempotency, and the
// reschedule-serialization lease), and MemoryStore (tests, single-node
// dev mode), matching the teacher's Postgres+Redis split.
package store

import "time"

// RawMaterialStatus is the status enum for RawMaterial (§3).
type RawMaterialStatus string

const (
	RawMaterialAvailable   RawMaterialStatus = "Available"
	RawMaterialReserved    RawMaterialStatus = "Reserved"
	RawMaterialUnavailable RawMaterialStatus = "Unavailable"
)

// MachineStatusCode enumerates the Status Catalog values (§2).
type MachineStatusCode string

const (
	MachineON   MachineStatusCode = "ON"
	MachineOFF  MachineStatusCode = "OFF"
	MachineIDLE MachineStatusCode = "IDLE"
)

// PartStatus is the derived status of a part returned by the priority
// engine (§4.1).
type PartStatus string

const (
	PartNotScheduled      PartStatus = "Not Scheduled"
	PartScheduledFuture   PartStatus = "Scheduled Future"
	PartScheduledSoon     PartStatus = "Scheduled Today/Soon"
	PartInProgress        PartStatus = "In Progress"
	PartPastDue           PartStatus = "Past Due"
	PartCompleted         PartStatus = "Completed"
)

// Project is the top-level priority-bearing entity (§3).
type Project struct {
	ID            string
	Name          string
	Priority      int // 1..N dense permutation within live projects
	DeliveryDate  time.Time
}

// RawMaterial (§3).
type RawMaterial struct {
	ID            string
	Part          string
	Qty           float64
	Unit          string
	Status        RawMaterialStatus
	AvailableFrom time.Time
}

// Order (§3).
type Order struct {
	ID              string
	ProductionOrder string // unique
	PartNumber      string
	RequiredQty     int
	LaunchedQty     int
	ProjectID       string
	RawMaterialID   string
	TotalOperations int
}

// WorkCenter (§3).
type WorkCenter struct {
	ID            string
	Code          string
	IsSchedulable bool
}

// Machine (§3).
type Machine struct {
	ID              string
	WorkCenterID    string
	LastCalibration time.Time
	NextCalibration time.Time
}

// MachineStatus (§3). Invariant: at most one effective status per
// machine; enforced by upsert semantics (one row per machine_id).
type MachineStatus struct {
	MachineID     string
	StatusCode    MachineStatusCode
	AvailableFrom time.Time
}

// Downtime (§3). Invariants: OpenAt <= InProgressAt <= ClosedAt when set;
// at most one open downtime per machine (enforced at the store layer).
type Downtime struct {
	ID             string
	MachineID      string
	OpenAt         time.Time
	AcknowledgedAt *time.Time // supplemental (§SPEC_FULL 3)
	InProgressAt   *time.Time
	ClosedAt       *time.Time
	ActionTaken    string
	Priority       int
	ReportedBy     string
}

// IsOpen reports whether the downtime has not yet closed.
func (d *Downtime) IsOpen() bool { return d.ClosedAt == nil }

// PartScheduleStatus (§3).
type PartScheduleStatus struct {
	PartNumber      string
	ProductionOrder string
	Active          bool
}

// Operation (§3). Invariant: (OrderID, OpNumber) unique; operations of one
// order form a strict sequence by OpNumber, enforced by the catalog loader.
type Operation struct {
	ID           string
	OrderID      string
	OpNumber     int
	WorkCenterID string
	MachineID    string // primary machine
	SetupTimeHr  float64
	CycleTimeHr  float64
}

// PlannedScheduleItem (PSI) (§3). One per planned operation.
type PlannedScheduleItem struct {
	ID            string
	OrderID       string
	OperationID   string
	MachineID     string
	TotalQuantity int
}

// ScheduleVersion (SV) (§3). Invariant: at most one active SV per PSI.
type ScheduleVersion struct {
	ID                string
	PSIID             string
	VersionNo         int
	IsActive          bool
	PlannedStart      time.Time
	PlannedEnd        time.Time
	PlannedQuantity   int
	CompletedQuantity int
	RemainingQuantity int
	CreatedAt         time.Time
}

// ProductionLog (§3).
type ProductionLog struct {
	ID          string
	PSIID       string
	SVID        string
	Operator    string
	StartedAt   time.Time
	StoppedAt   *time.Time
	GoodQty     int
	BadQty      int
	ReasonCodes []string
}

// TelemetrySnapshotLive (§3). One row per machine.
type TelemetrySnapshotLive struct {
	MachineID  string
	Timestamp  time.Time
	Voltage    float64
	Current    float64
	PowerKW    float64
	OpMode     string
	ProgStatus string
	PartCount  int
	JobStatus  string
}

// TelemetrySnapshotHistory (§3). Append-only.
type TelemetrySnapshotHistory TelemetrySnapshotLive

// ShiftwiseEnergy (§3 and SPEC_FULL §3): both a live-per-machine row and
// an append-only history entry share this shape.
type ShiftwiseEnergy struct {
	MachineID string
	Timestamp time.Time
	Shift1    float64
	Shift2    float64
	Shift3    float64
	Total     float64
}

// RescheduleRecord captures one Reschedule Controller run (§4.3).
type RescheduleRecord struct {
	ID           string
	Trigger      string // downtime_open, downtime_close, priority_change, raw_material_unlock, admin
	By           string
	Timestamp    time.Time
	Predecessors []string // SV ids deactivated
	Successors   []string // SV ids created
}

// ShiftCalendar is the configurable shift window (§6, SPEC_FULL §1).
type ShiftCalendar struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
}

// DefaultShiftCalendar is the spec's hard-coded default (09:00-17:00).
func DefaultShiftCalendar() ShiftCalendar {
	return ShiftCalendar{StartHour: 9, EndHour: 17}
}
