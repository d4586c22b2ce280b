package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopforge/mes/internal/errs"
)

// PostgresStore implements Store over PostgreSQL, the durable system of
// record for catalog, schedule, and history tables (spec §3, §6
// "Persisted state layout"). Connection pool sizing mirrors the
// teacher's PostgresStore constructor.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pooled connection and verifies reachability.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errs.WrapExternal(err, "parse postgres dsn")
	}
	cfg.MaxConns = 50
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.WrapExternal(err, "create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, errs.WrapExternal(err, "ping postgres")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), the signal CreateOrder/UpdateOrder map to
// errs.Conflict rather than a bare 500.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// --- CatalogReader ---

func (s *PostgresStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, priority, delivery_date FROM projects ORDER BY priority`)
	if err != nil {
		return nil, errs.WrapExternal(err, "list projects")
	}
	defer rows.Close()
	var out []*Project
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Priority, &p.DeliveryDate); err != nil {
			return nil, errs.WrapExternal(err, "scan project")
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	p := &Project{}
	err := s.pool.QueryRow(ctx, `SELECT id, name, priority, delivery_date FROM projects WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Priority, &p.DeliveryDate)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("project %s not found", id)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get project")
	}
	return p, nil
}

func (s *PostgresStore) ListActiveParts(ctx context.Context) ([]*PartScheduleStatus, error) {
	rows, err := s.pool.Query(ctx, `SELECT part_number, production_order, active FROM part_schedule_status WHERE active`)
	if err != nil {
		return nil, errs.WrapExternal(err, "list active parts")
	}
	defer rows.Close()
	var out []*PartScheduleStatus
	for rows.Next() {
		p := &PartScheduleStatus{}
		if err := rows.Scan(&p.PartNumber, &p.ProductionOrder, &p.Active); err != nil {
			return nil, errs.WrapExternal(err, "scan part status")
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PostgresStore) ListOperations(ctx context.Context, orderID string) ([]*Operation, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, order_id, op_number, work_center_id, machine_id, setup_time_hr, cycle_time_hr
		FROM operations WHERE order_id=$1 ORDER BY op_number`, orderID)
	if err != nil {
		return nil, errs.WrapExternal(err, "list operations")
	}
	defer rows.Close()
	var out []*Operation
	for rows.Next() {
		o := &Operation{}
		if err := rows.Scan(&o.ID, &o.OrderID, &o.OpNumber, &o.WorkCenterID, &o.MachineID, &o.SetupTimeHr, &o.CycleTimeHr); err != nil {
			return nil, errs.WrapExternal(err, "scan operation")
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	o := &Order{}
	err := s.pool.QueryRow(ctx, `SELECT id, production_order, part_number, required_qty, launched_qty, project_id, raw_material_id, total_operations
		FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.ProductionOrder, &o.PartNumber, &o.RequiredQty, &o.LaunchedQty, &o.ProjectID, &o.RawMaterialID, &o.TotalOperations)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("order %s not found", id)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get order")
	}
	return o, nil
}

func (s *PostgresStore) GetOrderByProductionOrder(ctx context.Context, po string) (*Order, error) {
	o := &Order{}
	err := s.pool.QueryRow(ctx, `SELECT id, production_order, part_number, required_qty, launched_qty, project_id, raw_material_id, total_operations
		FROM orders WHERE production_order=$1`, po).
		Scan(&o.ID, &o.ProductionOrder, &o.PartNumber, &o.RequiredQty, &o.LaunchedQty, &o.ProjectID, &o.RawMaterialID, &o.TotalOperations)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("production order %s not found", po)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get order by production order")
	}
	return o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]*Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, production_order, part_number, required_qty, launched_qty, project_id, raw_material_id, total_operations
		FROM orders ORDER BY production_order`)
	if err != nil {
		return nil, errs.WrapExternal(err, "list orders")
	}
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o := &Order{}
		if err := rows.Scan(&o.ID, &o.ProductionOrder, &o.PartNumber, &o.RequiredQty, &o.LaunchedQty, &o.ProjectID, &o.RawMaterialID, &o.TotalOperations); err != nil {
			return nil, errs.WrapExternal(err, "scan order")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, production_order, part_number, required_qty, launched_qty, project_id, raw_material_id, total_operations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.ProductionOrder, o.PartNumber, o.RequiredQty, o.LaunchedQty, o.ProjectID, o.RawMaterialID, o.TotalOperations)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.NewConflict("production order %s already exists", o.ProductionOrder)
		}
		return errs.WrapExternal(err, "create order")
	}
	return nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *Order) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET production_order=$2, part_number=$3, required_qty=$4, launched_qty=$5,
			project_id=$6, raw_material_id=$7, total_operations=$8
		WHERE id=$1
	`, o.ID, o.ProductionOrder, o.PartNumber, o.RequiredQty, o.LaunchedQty, o.ProjectID, o.RawMaterialID, o.TotalOperations)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.NewConflict("production order %s already exists", o.ProductionOrder)
		}
		return errs.WrapExternal(err, "update order")
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFound("order %s not found", o.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteOrder(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return errs.WrapExternal(err, "delete order")
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFound("order %s not found", id)
	}
	return nil
}

func (s *PostgresStore) UpsertOperation(ctx context.Context, op *Operation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO operations (id, order_id, op_number, work_center_id, machine_id, setup_time_hr, cycle_time_hr)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id, op_number) DO UPDATE SET
			work_center_id=EXCLUDED.work_center_id, machine_id=EXCLUDED.machine_id,
			setup_time_hr=EXCLUDED.setup_time_hr, cycle_time_hr=EXCLUDED.cycle_time_hr
	`, op.ID, op.OrderID, op.OpNumber, op.WorkCenterID, op.MachineID, op.SetupTimeHr, op.CycleTimeHr)
	if err != nil {
		return errs.WrapExternal(err, "upsert operation")
	}
	return nil
}

func (s *PostgresStore) GetWorkCenter(ctx context.Context, id string) (*WorkCenter, error) {
	wc := &WorkCenter{}
	err := s.pool.QueryRow(ctx, `SELECT id, code, is_schedulable FROM work_centers WHERE id=$1`, id).
		Scan(&wc.ID, &wc.Code, &wc.IsSchedulable)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("work center %s not found", id)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get work center")
	}
	return wc, nil
}

func (s *PostgresStore) GetMachine(ctx context.Context, id string) (*Machine, error) {
	mc := &Machine{}
	err := s.pool.QueryRow(ctx, `SELECT id, work_center_id, last_calibration, next_calibration FROM machines WHERE id=$1`, id).
		Scan(&mc.ID, &mc.WorkCenterID, &mc.LastCalibration, &mc.NextCalibration)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("machine %s not found", id)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get machine")
	}
	return mc, nil
}

func (s *PostgresStore) GetRawMaterial(ctx context.Context, id string) (*RawMaterial, error) {
	rm := &RawMaterial{}
	err := s.pool.QueryRow(ctx, `SELECT id, part, qty, unit, status, available_from FROM raw_materials WHERE id=$1`, id).
		Scan(&rm.ID, &rm.Part, &rm.Qty, &rm.Unit, &rm.Status, &rm.AvailableFrom)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("raw material %s not found", id)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get raw material")
	}
	return rm, nil
}

func (s *PostgresStore) GetMachineStatus(ctx context.Context, machineID string) (*MachineStatus, error) {
	ms := &MachineStatus{}
	err := s.pool.QueryRow(ctx, `SELECT machine_id, status_code, available_from FROM machine_status WHERE machine_id=$1`, machineID).
		Scan(&ms.MachineID, &ms.StatusCode, &ms.AvailableFrom)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("machine status %s not found", machineID)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get machine status")
	}
	return ms, nil
}

// --- Projects & priority ---

func (s *PostgresStore) UpsertProject(ctx context.Context, p *Project) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, name, priority, delivery_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, priority=EXCLUDED.priority, delivery_date=EXCLUDED.delivery_date
	`, p.ID, p.Name, p.Priority, p.DeliveryDate)
	if err != nil {
		return errs.WrapExternal(err, "upsert project")
	}
	return nil
}

func (s *PostgresStore) SetProjectPriority(ctx context.Context, id string, priority int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE projects SET priority=$2 WHERE id=$1`, id, priority)
	if err != nil {
		return errs.WrapExternal(err, "set project priority")
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFound("project %s not found", id)
	}
	return nil
}

// --- Status & downtime ---

func (s *PostgresStore) UpsertMachineStatus(ctx context.Context, st *MachineStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO machine_status (machine_id, status_code, available_from)
		VALUES ($1, $2, $3)
		ON CONFLICT (machine_id) DO UPDATE SET status_code=EXCLUDED.status_code, available_from=EXCLUDED.available_from
	`, st.MachineID, st.StatusCode, st.AvailableFrom)
	if err != nil {
		return errs.WrapExternal(err, "upsert machine status")
	}
	return nil
}

func (s *PostgresStore) OpenDowntime(ctx context.Context, d *Downtime) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.WrapExternal(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	var existing int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM downtimes WHERE machine_id=$1 AND closed_at IS NULL`, d.MachineID).Scan(&existing); err != nil {
		return errs.WrapExternal(err, "check open downtime")
	}
	if existing > 0 {
		return errs.NewConflict("machine %s already has an open downtime", d.MachineID)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO downtimes (id, machine_id, open_at, priority, reported_by)
		VALUES ($1, $2, $3, $4, $5)
	`, d.ID, d.MachineID, d.OpenAt, d.Priority, d.ReportedBy)
	if err != nil {
		return errs.WrapExternal(err, "insert downtime")
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.WrapExternal(err, "commit tx")
	}
	return nil
}

func (s *PostgresStore) AcknowledgeDowntime(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE downtimes SET acknowledged_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return errs.WrapExternal(err, "acknowledge downtime")
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFound("downtime %s not found", id)
	}
	return nil
}

func (s *PostgresStore) StartDowntime(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE downtimes SET in_progress_at=$2 WHERE id=$1 AND open_at<=$2`, id, at)
	if err != nil {
		return errs.WrapExternal(err, "start downtime")
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFound("downtime %s not found", id)
	}
	return nil
}

func (s *PostgresStore) CloseDowntime(ctx context.Context, id string, at time.Time, actionTaken string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE downtimes SET closed_at=$2, action_taken=$3
		WHERE id=$1 AND (in_progress_at IS NULL OR in_progress_at<=$2)
	`, id, at, actionTaken)
	if err != nil {
		return errs.WrapExternal(err, "close downtime")
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFound("downtime %s not found", id)
	}
	return nil
}

func (s *PostgresStore) GetOpenDowntimeForMachine(ctx context.Context, machineID string) (*Downtime, error) {
	d := &Downtime{MachineID: machineID}
	err := s.pool.QueryRow(ctx, `
		SELECT id, open_at, acknowledged_at, in_progress_at, closed_at, action_taken, priority, reported_by
		FROM downtimes WHERE machine_id=$1 AND closed_at IS NULL
	`, machineID).Scan(&d.ID, &d.OpenAt, &d.AcknowledgedAt, &d.InProgressAt, &d.ClosedAt, &d.ActionTaken, &d.Priority, &d.ReportedBy)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("no open downtime for machine %s", machineID)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get open downtime")
	}
	return d, nil
}

func (s *PostgresStore) ListDowntimes(ctx context.Context, machineID string) ([]*Downtime, error) {
	var rows pgx.Rows
	var err error
	if machineID == "" {
		rows, err = s.pool.Query(ctx, `SELECT id, machine_id, open_at, acknowledged_at, in_progress_at, closed_at, action_taken, priority, reported_by FROM downtimes ORDER BY open_at`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT id, machine_id, open_at, acknowledged_at, in_progress_at, closed_at, action_taken, priority, reported_by FROM downtimes WHERE machine_id=$1 ORDER BY open_at`, machineID)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "list downtimes")
	}
	defer rows.Close()
	var out []*Downtime
	for rows.Next() {
		d := &Downtime{}
		if err := rows.Scan(&d.ID, &d.MachineID, &d.OpenAt, &d.AcknowledgedAt, &d.InProgressAt, &d.ClosedAt, &d.ActionTaken, &d.Priority, &d.ReportedBy); err != nil {
			return nil, errs.WrapExternal(err, "scan downtime")
		}
		out = append(out, d)
	}
	return out, nil
}

// --- PSI / ScheduleVersion ---

func (s *PostgresStore) UpsertPSI(ctx context.Context, psi *PlannedScheduleItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO planned_schedule_items (id, order_id, operation_id, machine_id, total_quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (operation_id) DO UPDATE SET machine_id=EXCLUDED.machine_id, total_quantity=EXCLUDED.total_quantity
	`, psi.ID, psi.OrderID, psi.OperationID, psi.MachineID, psi.TotalQuantity)
	if err != nil {
		return errs.WrapExternal(err, "upsert psi")
	}
	return nil
}

func (s *PostgresStore) GetPSI(ctx context.Context, id string) (*PlannedScheduleItem, error) {
	psi := &PlannedScheduleItem{}
	err := s.pool.QueryRow(ctx, `SELECT id, order_id, operation_id, machine_id, total_quantity FROM planned_schedule_items WHERE id=$1`, id).
		Scan(&psi.ID, &psi.OrderID, &psi.OperationID, &psi.MachineID, &psi.TotalQuantity)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("psi %s not found", id)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get psi")
	}
	return psi, nil
}

func (s *PostgresStore) GetPSIForOperation(ctx context.Context, operationID string) (*PlannedScheduleItem, error) {
	psi := &PlannedScheduleItem{}
	err := s.pool.QueryRow(ctx, `SELECT id, order_id, operation_id, machine_id, total_quantity FROM planned_schedule_items WHERE operation_id=$1`, operationID).
		Scan(&psi.ID, &psi.OrderID, &psi.OperationID, &psi.MachineID, &psi.TotalQuantity)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("no PSI for operation %s", operationID)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get psi")
	}
	return psi, nil
}

// CreateScheduleVersion and DeactivateScheduleVersion are always called
// together by the scheduler within one transaction (spec §5 "SV
// activation is a linearizable single-writer transition"); callers use
// WithActivation below for that. These two remain for direct use in tests
// and simpler call sites.
func (s *PostgresStore) CreateScheduleVersion(ctx context.Context, sv *ScheduleVersion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedule_versions (id, psi_id, version_no, is_active, planned_start, planned_end, planned_quantity, completed_quantity, remaining_quantity, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sv.ID, sv.PSIID, sv.VersionNo, sv.IsActive, sv.PlannedStart, sv.PlannedEnd, sv.PlannedQuantity, sv.CompletedQuantity, sv.RemainingQuantity, sv.CreatedAt)
	if err != nil {
		return errs.WrapExternal(err, "create schedule version")
	}
	return nil
}

func (s *PostgresStore) DeactivateScheduleVersion(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE schedule_versions SET is_active=false WHERE id=$1`, id)
	if err != nil {
		return errs.WrapExternal(err, "deactivate schedule version")
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFound("schedule version %s not found", id)
	}
	return nil
}

// WithActivation performs CreateScheduleVersion(new) + DeactivateScheduleVersion(oldID)
// atomically in one transaction, satisfying the §5 single-writer invariant.
func (s *PostgresStore) WithActivation(ctx context.Context, oldID string, sv *ScheduleVersion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.WrapExternal(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if oldID != "" {
		if _, err := tx.Exec(ctx, `UPDATE schedule_versions SET is_active=false WHERE id=$1`, oldID); err != nil {
			return errs.WrapExternal(err, "deactivate predecessor")
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO schedule_versions (id, psi_id, version_no, is_active, planned_start, planned_end, planned_quantity, completed_quantity, remaining_quantity, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sv.ID, sv.PSIID, sv.VersionNo, true, sv.PlannedStart, sv.PlannedEnd, sv.PlannedQuantity, sv.CompletedQuantity, sv.RemainingQuantity, sv.CreatedAt)
	if err != nil {
		return errs.WrapExternal(err, "insert successor")
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetActiveScheduleVersion(ctx context.Context, psiID string) (*ScheduleVersion, error) {
	sv := &ScheduleVersion{PSIID: psiID, IsActive: true}
	err := s.pool.QueryRow(ctx, `
		SELECT id, version_no, planned_start, planned_end, planned_quantity, completed_quantity, remaining_quantity, created_at
		FROM schedule_versions WHERE psi_id=$1 AND is_active
	`, psiID).Scan(&sv.ID, &sv.VersionNo, &sv.PlannedStart, &sv.PlannedEnd, &sv.PlannedQuantity, &sv.CompletedQuantity, &sv.RemainingQuantity, &sv.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errs.NewNotFound("no active schedule version for PSI %s", psiID)
	}
	if err != nil {
		return nil, errs.WrapExternal(err, "get active schedule version")
	}
	return sv, nil
}

func (s *PostgresStore) MaxVersionNo(ctx context.Context, psiID string) (int, error) {
	var max *int
	err := s.pool.QueryRow(ctx, `SELECT max(version_no) FROM schedule_versions WHERE psi_id=$1`, psiID).Scan(&max)
	if err != nil {
		return 0, errs.WrapExternal(err, "max version no")
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (s *PostgresStore) ListActiveScheduleVersions(ctx context.Context) ([]*ScheduleVersion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, psi_id, version_no, planned_start, planned_end, planned_quantity, completed_quantity, remaining_quantity, created_at
		FROM schedule_versions WHERE is_active
	`)
	if err != nil {
		return nil, errs.WrapExternal(err, "list active schedule versions")
	}
	defer rows.Close()
	var out []*ScheduleVersion
	for rows.Next() {
		sv := &ScheduleVersion{IsActive: true}
		if err := rows.Scan(&sv.ID, &sv.PSIID, &sv.VersionNo, &sv.PlannedStart, &sv.PlannedEnd, &sv.PlannedQuantity, &sv.CompletedQuantity, &sv.RemainingQuantity, &sv.CreatedAt); err != nil {
			return nil, errs.WrapExternal(err, "scan schedule version")
		}
		out = append(out, sv)
	}
	return out, nil
}

func (s *PostgresStore) ApplyProductionLog(ctx context.Context, log *ProductionLog) error {
	if log.GoodQty < 0 || log.BadQty < 0 {
		return errs.NewInvariantViolation("negative quantity in production log %s", log.ID)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.WrapExternal(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO production_logs (id, psi_id, sv_id, operator, started_at, stopped_at, good_qty, bad_qty, reason_codes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, log.ID, log.PSIID, log.SVID, log.Operator, log.StartedAt, log.StoppedAt, log.GoodQty, log.BadQty, log.ReasonCodes)
	if err != nil {
		return errs.WrapExternal(err, "insert production log")
	}

	tag, err := tx.Exec(ctx, `
		UPDATE schedule_versions
		SET completed_quantity = LEAST(planned_quantity, completed_quantity + $2),
		    remaining_quantity = GREATEST(0, planned_quantity - (completed_quantity + $2))
		WHERE id=$1
	`, log.SVID, log.GoodQty)
	if err != nil {
		return errs.WrapExternal(err, "update schedule version progress")
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFound("schedule version %s not found", log.SVID)
	}
	return tx.Commit(ctx)
}

// ListProductionLogs joins production_logs against planned_schedule_items
// to filter by machine, since ProductionLog only carries a PSI id.
func (s *PostgresStore) ListProductionLogs(ctx context.Context, machineID string, since, until time.Time) ([]*ProductionLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pl.id, pl.psi_id, pl.sv_id, pl.operator, pl.started_at, pl.stopped_at, pl.good_qty, pl.bad_qty, pl.reason_codes
		FROM production_logs pl
		JOIN planned_schedule_items psi ON psi.id = pl.psi_id
		WHERE psi.machine_id = $1 AND pl.started_at >= $2 AND pl.started_at < $3
	`, machineID, since, until)
	if err != nil {
		return nil, errs.WrapExternal(err, "list production logs")
	}
	defer rows.Close()

	var out []*ProductionLog
	for rows.Next() {
		log := &ProductionLog{}
		if err := rows.Scan(&log.ID, &log.PSIID, &log.SVID, &log.Operator, &log.StartedAt, &log.StoppedAt, &log.GoodQty, &log.BadQty, &log.ReasonCodes); err != nil {
			return nil, errs.WrapExternal(err, "scan production log")
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

// --- Reschedule history ---

func (s *PostgresStore) RecordReschedule(ctx context.Context, r *RescheduleRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reschedule_records (id, trigger, by, ts, predecessors, successors)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, r.ID, r.Trigger, r.By, r.Timestamp, r.Predecessors, r.Successors)
	if err != nil {
		return errs.WrapExternal(err, "record reschedule")
	}
	return nil
}

func (s *PostgresStore) ListReschedules(ctx context.Context, limit int) ([]*RescheduleRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, trigger, by, ts, predecessors, successors FROM reschedule_records ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errs.WrapExternal(err, "list reschedules")
	}
	defer rows.Close()
	var out []*RescheduleRecord
	for rows.Next() {
		r := &RescheduleRecord{}
		if err := rows.Scan(&r.ID, &r.Trigger, &r.By, &r.Timestamp, &r.Predecessors, &r.Successors); err != nil {
			return nil, errs.WrapExternal(err, "scan reschedule")
		}
		out = append(out, r)
	}
	return out, nil
}

// --- Telemetry ---
// Telemetry is written to Postgres for durability as well as to Redis for
// the fast detector read path (see RedisStore); the ingest layer writes
// both (SPEC_FULL §2 domain stack table).

func (s *PostgresStore) UpsertTelemetryLive(ctx context.Context, t *TelemetrySnapshotLive) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telemetry_live (machine_id, ts, voltage, current, power_kw, op_mode, prog_status, part_count, job_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (machine_id) DO UPDATE SET ts=EXCLUDED.ts, voltage=EXCLUDED.voltage, current=EXCLUDED.current,
			power_kw=EXCLUDED.power_kw, op_mode=EXCLUDED.op_mode, prog_status=EXCLUDED.prog_status,
			part_count=EXCLUDED.part_count, job_status=EXCLUDED.job_status
	`, t.MachineID, t.Timestamp, t.Voltage, t.Current, t.PowerKW, t.OpMode, t.ProgStatus, t.PartCount, t.JobStatus)
	if err != nil {
		return errs.WrapExternal(err, "upsert telemetry live")
	}
	return nil
}

func (s *PostgresStore) AppendTelemetryHistory(ctx context.Context, t *TelemetrySnapshotHistory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telemetry_history (machine_id, ts, voltage, current, power_kw, op_mode, prog_status, part_count, job_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, t.MachineID, t.Timestamp, t.Voltage, t.Current, t.PowerKW, t.OpMode, t.ProgStatus, t.PartCount, t.JobStatus)
	if err != nil {
		return errs.WrapExternal(err, "append telemetry history")
	}
	return nil
}

func (s *PostgresStore) ListTelemetryLive(ctx context.Context) ([]*TelemetrySnapshotLive, error) {
	rows, err := s.pool.Query(ctx, `SELECT machine_id, ts, voltage, current, power_kw, op_mode, prog_status, part_count, job_status FROM telemetry_live`)
	if err != nil {
		return nil, errs.WrapExternal(err, "list telemetry live")
	}
	defer rows.Close()
	var out []*TelemetrySnapshotLive
	for rows.Next() {
		t := &TelemetrySnapshotLive{}
		if err := rows.Scan(&t.MachineID, &t.Timestamp, &t.Voltage, &t.Current, &t.PowerKW, &t.OpMode, &t.ProgStatus, &t.PartCount, &t.JobStatus); err != nil {
			return nil, errs.WrapExternal(err, "scan telemetry live")
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *PostgresStore) ListTelemetryHistoryWindow(ctx context.Context, machineID string, since time.Time) ([]*TelemetrySnapshotHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT machine_id, ts, voltage, current, power_kw, op_mode, prog_status, part_count, job_status
		FROM telemetry_history WHERE machine_id=$1 AND ts >= $2 ORDER BY ts
	`, machineID, since)
	if err != nil {
		return nil, errs.WrapExternal(err, "list telemetry history window")
	}
	defer rows.Close()
	var out []*TelemetrySnapshotHistory
	for rows.Next() {
		t := &TelemetrySnapshotHistory{}
		if err := rows.Scan(&t.MachineID, &t.Timestamp, &t.Voltage, &t.Current, &t.PowerKW, &t.OpMode, &t.ProgStatus, &t.PartCount, &t.JobStatus); err != nil {
			return nil, errs.WrapExternal(err, "scan telemetry history")
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *PostgresStore) ListTelemetryHistoryRange(ctx context.Context, machineID string, start, end time.Time) ([]*TelemetrySnapshotHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT machine_id, ts, voltage, current, power_kw, op_mode, prog_status, part_count, job_status
		FROM telemetry_history WHERE machine_id=$1 AND ts BETWEEN $2 AND $3 ORDER BY ts
	`, machineID, start, end)
	if err != nil {
		return nil, errs.WrapExternal(err, "list telemetry history range")
	}
	defer rows.Close()
	var out []*TelemetrySnapshotHistory
	for rows.Next() {
		t := &TelemetrySnapshotHistory{}
		if err := rows.Scan(&t.MachineID, &t.Timestamp, &t.Voltage, &t.Current, &t.PowerKW, &t.OpMode, &t.ProgStatus, &t.PartCount, &t.JobStatus); err != nil {
			return nil, errs.WrapExternal(err, "scan telemetry history range")
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *PostgresStore) UpsertShiftwiseEnergyLive(ctx context.Context, e *ShiftwiseEnergy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shiftwise_energy_live (machine_id, ts, shift1, shift2, shift3, total)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (machine_id) DO UPDATE SET ts=EXCLUDED.ts, shift1=EXCLUDED.shift1, shift2=EXCLUDED.shift2, shift3=EXCLUDED.shift3, total=EXCLUDED.total
	`, e.MachineID, e.Timestamp, e.Shift1, e.Shift2, e.Shift3, e.Total)
	if err != nil {
		return errs.WrapExternal(err, "upsert shiftwise energy live")
	}
	return nil
}

func (s *PostgresStore) AppendShiftwiseEnergyHistory(ctx context.Context, e *ShiftwiseEnergy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shiftwise_energy_history (machine_id, ts, shift1, shift2, shift3, total)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.MachineID, e.Timestamp, e.Shift1, e.Shift2, e.Shift3, e.Total)
	if err != nil {
		return errs.WrapExternal(err, "append shiftwise energy history")
	}
	return nil
}

func (s *PostgresStore) ListShiftwiseEnergyLive(ctx context.Context) ([]*ShiftwiseEnergy, error) {
	rows, err := s.pool.Query(ctx, `SELECT machine_id, ts, shift1, shift2, shift3, total FROM shiftwise_energy_live`)
	if err != nil {
		return nil, errs.WrapExternal(err, "list shiftwise energy live")
	}
	defer rows.Close()
	var out []*ShiftwiseEnergy
	for rows.Next() {
		e := &ShiftwiseEnergy{}
		if err := rows.Scan(&e.MachineID, &e.Timestamp, &e.Shift1, &e.Shift2, &e.Shift3, &e.Total); err != nil {
			return nil, errs.WrapExternal(err, "scan shiftwise energy")
		}
		out = append(out, e)
	}
	return out, nil
}

// --- Durable epoch (used by internal/coordination for lock fencing) ---

func (s *PostgresStore) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO durable_epochs (resource_id, epoch) VALUES ($1, 1)
		ON CONFLICT (resource_id) DO UPDATE SET epoch = durable_epochs.epoch + 1
		RETURNING epoch
	`, resourceID).Scan(&epoch)
	if err != nil {
		return 0, errs.WrapExternal(err, "increment durable epoch")
	}
	return epoch, nil
}

func (s *PostgresStore) GetDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx, `SELECT epoch FROM durable_epochs WHERE resource_id=$1`, resourceID).Scan(&epoch)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errs.WrapExternal(err, "get durable epoch")
	}
	return epoch, nil
}
