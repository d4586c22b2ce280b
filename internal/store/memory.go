package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopforge/mes/internal/errs"
)

// MemoryStore is an in-process Store implementation used by tests and
// single-node dev mode, mirroring the teacher's store.MemoryStore role
// (it sits alongside PostgresStore/RedisStore behind the same interface).
type MemoryStore struct {
	mu sync.RWMutex

	projects     map[string]*Project
	orders       map[string]*Order
	ordersByPO   map[string]string
	operations   map[string][]*Operation // by orderID
	workCenters  map[string]*WorkCenter
	machines     map[string]*Machine
	rawMaterials map[string]*RawMaterial
	partStatus   []*PartScheduleStatus

	machineStatus map[string]*MachineStatus
	downtimes     map[string]*Downtime

	psis            map[string]*PlannedScheduleItem
	psiByOp         map[string]string // operationID -> psiID
	scheduleVersions map[string][]*ScheduleVersion // by psiID

	reschedules    []*RescheduleRecord
	productionLogs []*ProductionLog

	telemetryLive    map[string]*TelemetrySnapshotLive
	telemetryHistory map[string][]*TelemetrySnapshotHistory
	energyLive       map[string]*ShiftwiseEnergy
	energyHistory    map[string][]*ShiftwiseEnergy

	epochs map[string]int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:         make(map[string]*Project),
		orders:           make(map[string]*Order),
		ordersByPO:       make(map[string]string),
		operations:       make(map[string][]*Operation),
		workCenters:      make(map[string]*WorkCenter),
		machines:         make(map[string]*Machine),
		rawMaterials:     make(map[string]*RawMaterial),
		machineStatus:    make(map[string]*MachineStatus),
		downtimes:        make(map[string]*Downtime),
		psis:             make(map[string]*PlannedScheduleItem),
		psiByOp:          make(map[string]string),
		scheduleVersions: make(map[string][]*ScheduleVersion),
		telemetryLive:    make(map[string]*TelemetrySnapshotLive),
		telemetryHistory: make(map[string][]*TelemetrySnapshotHistory),
		energyLive:       make(map[string]*ShiftwiseEnergy),
		energyHistory:    make(map[string][]*ShiftwiseEnergy),
		epochs:           make(map[string]int64),
	}
}

// --- Catalog seeding helpers (used by tests and CSV/admin loaders) ---

func (m *MemoryStore) PutWorkCenter(wc *WorkCenter)         { m.mu.Lock(); defer m.mu.Unlock(); m.workCenters[wc.ID] = wc }
func (m *MemoryStore) PutMachine(mc *Machine)               { m.mu.Lock(); defer m.mu.Unlock(); m.machines[mc.ID] = mc }
func (m *MemoryStore) PutRawMaterial(rm *RawMaterial)       { m.mu.Lock(); defer m.mu.Unlock(); m.rawMaterials[rm.ID] = rm }
func (m *MemoryStore) PutOrder(o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	m.ordersByPO[o.ProductionOrder] = o.ID
}
func (m *MemoryStore) PutOperation(op *Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := m.operations[op.OrderID]
	ops = append(ops, op)
	sort.Slice(ops, func(i, j int) bool { return ops[i].OpNumber < ops[j].OpNumber })
	m.operations[op.OrderID] = ops
}
func (m *MemoryStore) PutPartScheduleStatus(p *PartScheduleStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.partStatus {
		if existing.PartNumber == p.PartNumber && existing.ProductionOrder == p.ProductionOrder {
			m.partStatus[i] = p
			return
		}
	}
	m.partStatus = append(m.partStatus, p)
}

// --- CatalogReader ---

func (m *MemoryStore) ListProjects(ctx context.Context) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (m *MemoryStore) GetProject(ctx context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, errs.NewNotFound("project %s not found", id)
	}
	return p, nil
}

func (m *MemoryStore) ListActiveParts(ctx context.Context) ([]*PartScheduleStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PartScheduleStatus, 0)
	for _, p := range m.partStatus {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListOperations(ctx context.Context, orderID string) ([]*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ops := m.operations[orderID]
	out := make([]*Operation, len(ops))
	copy(out, ops)
	return out, nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, errs.NewNotFound("order %s not found", id)
	}
	return o, nil
}

func (m *MemoryStore) GetOrderByProductionOrder(ctx context.Context, po string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ordersByPO[po]
	if !ok {
		return nil, errs.NewNotFound("production order %s not found", po)
	}
	return m.orders[id], nil
}

func (m *MemoryStore) ListOrders(ctx context.Context) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductionOrder < out[j].ProductionOrder })
	return out, nil
}

func (m *MemoryStore) CreateOrder(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.ordersByPO[o.ProductionOrder]; exists {
		return errs.NewConflict("production order %s already exists", o.ProductionOrder)
	}
	m.orders[o.ID] = o
	m.ordersByPO[o.ProductionOrder] = o.ID
	return nil
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.orders[o.ID]
	if !ok {
		return errs.NewNotFound("order %s not found", o.ID)
	}
	if existing.ProductionOrder != o.ProductionOrder {
		delete(m.ordersByPO, existing.ProductionOrder)
		m.ordersByPO[o.ProductionOrder] = o.ID
	}
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStore) DeleteOrder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return errs.NewNotFound("order %s not found", id)
	}
	delete(m.orders, id)
	delete(m.ordersByPO, o.ProductionOrder)
	delete(m.operations, id)
	return nil
}

func (m *MemoryStore) UpsertOperation(ctx context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := m.operations[op.OrderID]
	for i, existing := range ops {
		if existing.OpNumber == op.OpNumber {
			ops[i] = op
			m.operations[op.OrderID] = ops
			return nil
		}
	}
	ops = append(ops, op)
	sort.Slice(ops, func(i, j int) bool { return ops[i].OpNumber < ops[j].OpNumber })
	m.operations[op.OrderID] = ops
	return nil
}

func (m *MemoryStore) GetWorkCenter(ctx context.Context, id string) (*WorkCenter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wc, ok := m.workCenters[id]
	if !ok {
		return nil, errs.NewNotFound("work center %s not found", id)
	}
	return wc, nil
}

func (m *MemoryStore) GetMachine(ctx context.Context, id string) (*Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.machines[id]
	if !ok {
		return nil, errs.NewNotFound("machine %s not found", id)
	}
	return mc, nil
}

func (m *MemoryStore) GetRawMaterial(ctx context.Context, id string) (*RawMaterial, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rm, ok := m.rawMaterials[id]
	if !ok {
		return nil, errs.NewNotFound("raw material %s not found", id)
	}
	return rm, nil
}

func (m *MemoryStore) GetMachineStatus(ctx context.Context, machineID string) (*MachineStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.machineStatus[machineID]
	if !ok {
		return nil, errs.NewNotFound("machine status %s not found", machineID)
	}
	return s, nil
}

// --- Projects & priority ---

func (m *MemoryStore) UpsertProject(ctx context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	return nil
}

func (m *MemoryStore) SetProjectPriority(ctx context.Context, id string, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return errs.NewNotFound("project %s not found", id)
	}
	p.Priority = priority
	return nil
}

// --- Status & downtime ---

func (m *MemoryStore) UpsertMachineStatus(ctx context.Context, s *MachineStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machineStatus[s.MachineID] = s
	return nil
}

func (m *MemoryStore) OpenDowntime(ctx context.Context, d *Downtime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.downtimes {
		if existing.MachineID == d.MachineID && existing.IsOpen() {
			return errs.NewConflict("machine %s already has an open downtime", d.MachineID)
		}
	}
	m.downtimes[d.ID] = d
	return nil
}

func (m *MemoryStore) AcknowledgeDowntime(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downtimes[id]
	if !ok {
		return errs.NewNotFound("downtime %s not found", id)
	}
	t := at
	d.AcknowledgedAt = &t
	return nil
}

func (m *MemoryStore) StartDowntime(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downtimes[id]
	if !ok {
		return errs.NewNotFound("downtime %s not found", id)
	}
	if at.Before(d.OpenAt) {
		return errs.NewInvariantViolation("in_progress_at before open_at for downtime %s", id)
	}
	t := at
	d.InProgressAt = &t
	return nil
}

func (m *MemoryStore) CloseDowntime(ctx context.Context, id string, at time.Time, actionTaken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downtimes[id]
	if !ok {
		return errs.NewNotFound("downtime %s not found", id)
	}
	if d.InProgressAt != nil && at.Before(*d.InProgressAt) {
		return errs.NewInvariantViolation("closed_at before in_progress_at for downtime %s", id)
	}
	t := at
	d.ClosedAt = &t
	d.ActionTaken = actionTaken
	return nil
}

func (m *MemoryStore) GetOpenDowntimeForMachine(ctx context.Context, machineID string) (*Downtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.downtimes {
		if d.MachineID == machineID && d.IsOpen() {
			return d, nil
		}
	}
	return nil, errs.NewNotFound("no open downtime for machine %s", machineID)
}

func (m *MemoryStore) ListDowntimes(ctx context.Context, machineID string) ([]*Downtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Downtime, 0)
	for _, d := range m.downtimes {
		if machineID == "" || d.MachineID == machineID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenAt.Before(out[j].OpenAt) })
	return out, nil
}

// --- PSI / ScheduleVersion ---

func (m *MemoryStore) UpsertPSI(ctx context.Context, psi *PlannedScheduleItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.psis[psi.ID] = psi
	m.psiByOp[psi.OperationID] = psi.ID
	return nil
}

func (m *MemoryStore) GetPSIForOperation(ctx context.Context, operationID string) (*PlannedScheduleItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.psiByOp[operationID]
	if !ok {
		return nil, errs.NewNotFound("no PSI for operation %s", operationID)
	}
	return m.psis[id], nil
}

func (m *MemoryStore) GetPSI(ctx context.Context, id string) (*PlannedScheduleItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	psi, ok := m.psis[id]
	if !ok {
		return nil, errs.NewNotFound("psi %s not found", id)
	}
	return psi, nil
}

func (m *MemoryStore) CreateScheduleVersion(ctx context.Context, sv *ScheduleVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleVersions[sv.PSIID] = append(m.scheduleVersions[sv.PSIID], sv)
	return nil
}

func (m *MemoryStore) DeactivateScheduleVersion(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.scheduleVersions {
		for _, sv := range list {
			if sv.ID == id {
				sv.IsActive = false
				return nil
			}
		}
	}
	return errs.NewNotFound("schedule version %s not found", id)
}

func (m *MemoryStore) GetActiveScheduleVersion(ctx context.Context, psiID string) (*ScheduleVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sv := range m.scheduleVersions[psiID] {
		if sv.IsActive {
			return sv, nil
		}
	}
	return nil, errs.NewNotFound("no active schedule version for PSI %s", psiID)
}

func (m *MemoryStore) MaxVersionNo(ctx context.Context, psiID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := 0
	for _, sv := range m.scheduleVersions[psiID] {
		if sv.VersionNo > max {
			max = sv.VersionNo
		}
	}
	return max, nil
}

func (m *MemoryStore) ListActiveScheduleVersions(ctx context.Context) ([]*ScheduleVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ScheduleVersion, 0)
	for _, list := range m.scheduleVersions {
		for _, sv := range list {
			if sv.IsActive {
				out = append(out, sv)
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) ApplyProductionLog(ctx context.Context, log *ProductionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.GoodQty < 0 || log.BadQty < 0 {
		return errs.NewInvariantViolation("negative quantity in production log %s", log.ID)
	}
	for _, list := range m.scheduleVersions {
		for _, sv := range list {
			if sv.ID == log.SVID {
				sv.CompletedQuantity += log.GoodQty
				if sv.CompletedQuantity > sv.PlannedQuantity {
					sv.CompletedQuantity = sv.PlannedQuantity
				}
				sv.RemainingQuantity = sv.PlannedQuantity - sv.CompletedQuantity
				m.productionLogs = append(m.productionLogs, log)
				return nil
			}
		}
	}
	return errs.NewNotFound("schedule version %s not found", log.SVID)
}

// ListProductionLogs returns logged entries for machineID whose StartedAt
// falls within [since, until), resolved via each log's PSI. Used by
// internal/reporting for OEE good/bad-part counts.
func (m *MemoryStore) ListProductionLogs(ctx context.Context, machineID string, since, until time.Time) ([]*ProductionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ProductionLog
	for _, log := range m.productionLogs {
		psi, ok := m.psis[log.PSIID]
		if !ok || psi.MachineID != machineID {
			continue
		}
		if log.StartedAt.Before(since) || !log.StartedAt.Before(until) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

// --- Reschedule history ---

func (m *MemoryStore) RecordReschedule(ctx context.Context, r *RescheduleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reschedules = append(m.reschedules, r)
	return nil
}

func (m *MemoryStore) ListReschedules(ctx context.Context, limit int) ([]*RescheduleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.reschedules)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*RescheduleRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.reschedules[n-1-i]
	}
	return out, nil
}

// --- Telemetry ---

func (m *MemoryStore) UpsertTelemetryLive(ctx context.Context, t *TelemetrySnapshotLive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetryLive[t.MachineID] = t
	return nil
}

func (m *MemoryStore) AppendTelemetryHistory(ctx context.Context, t *TelemetrySnapshotHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetryHistory[t.MachineID] = append(m.telemetryHistory[t.MachineID], t)
	return nil
}

func (m *MemoryStore) ListTelemetryLive(ctx context.Context) ([]*TelemetrySnapshotLive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TelemetrySnapshotLive, 0, len(m.telemetryLive))
	for _, t := range m.telemetryLive {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out, nil
}

func (m *MemoryStore) ListTelemetryHistoryWindow(ctx context.Context, machineID string, since time.Time) ([]*TelemetrySnapshotHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TelemetrySnapshotHistory, 0)
	for _, h := range m.telemetryHistory[machineID] {
		if !h.Timestamp.Before(since) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListTelemetryHistoryRange(ctx context.Context, machineID string, start, end time.Time) ([]*TelemetrySnapshotHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TelemetrySnapshotHistory, 0)
	for _, h := range m.telemetryHistory[machineID] {
		if !h.Timestamp.Before(start) && !h.Timestamp.After(end) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertShiftwiseEnergyLive(ctx context.Context, e *ShiftwiseEnergy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.energyLive[e.MachineID] = e
	return nil
}

func (m *MemoryStore) AppendShiftwiseEnergyHistory(ctx context.Context, e *ShiftwiseEnergy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.energyHistory[e.MachineID] = append(m.energyHistory[e.MachineID], e)
	return nil
}

func (m *MemoryStore) ListShiftwiseEnergyLive(ctx context.Context) ([]*ShiftwiseEnergy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ShiftwiseEnergy, 0, len(m.energyLive))
	for _, e := range m.energyLive {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out, nil
}

// --- Durable epoch ---

func (m *MemoryStore) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochs[resourceID]++
	return m.epochs[resourceID], nil
}

func (m *MemoryStore) GetDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epochs[resourceID], nil
}

// MemoryCoordinator is an in-process Coordinator for single-node dev/test
// (teacher's "standalone mode" fallback when Redis is unavailable).
type MemoryCoordinator struct {
	mu    sync.Mutex
	locks map[string]string
}

func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{locks: make(map[string]string)}
}

func (c *MemoryCoordinator) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.locks[key]; exists {
		return false, nil
	}
	c.locks[key] = value
	return true, nil
}

func (c *MemoryCoordinator) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks[key] == value, nil
}

func (c *MemoryCoordinator) ReleaseLease(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] == value {
		delete(c.locks, key)
	}
	return nil
}

func (c *MemoryCoordinator) GetLockOwner(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks[key], nil
}

func (c *MemoryCoordinator) ScanLocks(ctx context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.locks))
	for k := range c.locks {
		out = append(out, k)
	}
	return out, nil
}
