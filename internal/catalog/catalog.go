// Package catalog is the read-only Catalog Store the Scheduler and
// Priority Engine consume (spec §2 "Catalog Store", §3 data model for
// WorkCenter/Machine/RawMaterial/Project/shift calendar). It never
// writes master data itself — master-data CRUD is explicitly out of
// scope (spec §1 non-goals) — it only assembles a consistent read view
// for the core.
package catalog

import (
	"context"

	"github.com/shopforge/mes/internal/errs"
	"github.com/shopforge/mes/internal/store"
)

// Catalog is a thin, composable read view over store.CatalogReader. It
// exists so the scheduler and priority engine depend on one small
// interface instead of the full Store, per the design note in spec §9
// ("a catalog store is a plain value aggregating the reference tables
// the scheduler needs").
type Catalog struct {
	reader store.CatalogReader
	shift  store.ShiftCalendar
}

func New(reader store.CatalogReader, shift store.ShiftCalendar) *Catalog {
	return &Catalog{reader: reader, shift: shift}
}

// ShiftCalendar returns the configured working window (spec §6, default
// 09:00-17:00; SPEC_FULL §1 makes it env-configurable at startup).
func (c *Catalog) ShiftCalendar() store.ShiftCalendar { return c.shift }

// ActivePart bundles everything the scheduler needs for one active part:
// its order, routing, raw material, and project.
type ActivePart struct {
	PartNumber string
	Order      *store.Order
	Project    *store.Project
	Material   *store.RawMaterial
	Operations []*store.Operation
}

// ActiveParts returns every (part_number, production_order) row whose
// PartScheduleStatus is active, joined with its routing, raw material,
// and project (spec §4.2 "Active parts with quantities").
func (c *Catalog) ActiveParts(ctx context.Context) ([]*ActivePart, error) {
	statuses, err := c.reader.ListActiveParts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*ActivePart, 0, len(statuses))
	for _, st := range statuses {
		order, err := c.reader.GetOrderByProductionOrder(ctx, st.ProductionOrder)
		if err != nil {
			if errs.Is(err, errs.NotFound) {
				continue // dangling schedule-status row; skip rather than fail the whole run
			}
			return nil, err
		}
		project, err := c.reader.GetProject(ctx, order.ProjectID)
		if err != nil {
			return nil, err
		}
		material, err := c.reader.GetRawMaterial(ctx, order.RawMaterialID)
		if err != nil {
			return nil, err
		}
		ops, err := c.reader.ListOperations(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &ActivePart{
			PartNumber: st.PartNumber,
			Order:      order,
			Project:    project,
			Material:   material,
			Operations: ops,
		})
	}
	return out, nil
}

// MachineAvailability is the scheduler's view of one machine: whether it
// is schedulable at all (its work center gates this) and when it next
// becomes available.
type MachineAvailability struct {
	Machine       *store.Machine
	WorkCenter    *store.WorkCenter
	Status        *store.MachineStatus
}

// Availability resolves a machine's current status and owning work
// center in one call (spec §4.2 "machine availability gate").
func (c *Catalog) Availability(ctx context.Context, machineID string) (*MachineAvailability, error) {
	m, err := c.reader.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}
	wc, err := c.reader.GetWorkCenter(ctx, m.WorkCenterID)
	if err != nil {
		return nil, err
	}
	status, err := c.reader.GetMachineStatus(ctx, machineID)
	if err != nil {
		return nil, err
	}
	if status.AvailableFrom.IsZero() {
		// no-op; zero value just means "available immediately" upstream
	}
	return &MachineAvailability{Machine: m, WorkCenter: wc, Status: status}, nil
}

// Projects returns the live project set in ascending priority order
// (spec §3 "dense permutation of 1..N").
func (c *Catalog) Projects(ctx context.Context) ([]*store.Project, error) {
	return c.reader.ListProjects(ctx)
}
