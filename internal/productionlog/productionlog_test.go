package productionlog

import (
	"context"
	"testing"
	"time"

	"github.com/shopforge/mes/internal/store"
)

func seedOperationWithActiveSV(t *testing.T) (*store.MemoryStore, string) {
	t.Helper()
	mem := store.NewMemoryStore()
	mem.PutWorkCenter(&store.WorkCenter{ID: "wc1", Code: "WC1", IsSchedulable: true})
	mem.PutMachine(&store.Machine{ID: "M1", WorkCenterID: "wc1"})
	mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO1", PartNumber: "P1", RequiredQty: 10})
	mem.PutOperation(&store.Operation{ID: "op10", OrderID: "o1", OpNumber: 10, WorkCenterID: "wc1", MachineID: "M1"})

	psi := &store.PlannedScheduleItem{ID: "psi1", OrderID: "o1", OperationID: "op10", MachineID: "M1", TotalQuantity: 10}
	if err := mem.UpsertPSI(context.Background(), psi); err != nil {
		t.Fatalf("UpsertPSI: %v", err)
	}
	sv := &store.ScheduleVersion{
		ID: "sv1", PSIID: psi.ID, VersionNo: 1, IsActive: true,
		PlannedStart: time.Now(), PlannedEnd: time.Now().Add(time.Hour),
		PlannedQuantity: 10, RemainingQuantity: 10,
	}
	if err := mem.CreateScheduleVersion(context.Background(), sv); err != nil {
		t.Fatalf("CreateScheduleVersion: %v", err)
	}
	return mem, "op10"
}

func TestStartStop_AppliesGoodQtyToScheduleVersion(t *testing.T) {
	mem, opID := seedOperationWithActiveSV(t)
	log := New(mem)

	sess, err := log.Start(context.Background(), opID, "alice")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := log.Open(sess.ID); !ok {
		t.Fatal("expected session to be open")
	}

	entry, err := log.Stop(context.Background(), sess.ID, 4, 1, []string{"tool_wear"})
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if entry.GoodQty != 4 || entry.BadQty != 1 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if _, ok := log.Open(sess.ID); ok {
		t.Fatal("expected session to be closed after Stop")
	}

	sv, err := mem.GetActiveScheduleVersion(context.Background(), "psi1")
	if err != nil {
		t.Fatalf("GetActiveScheduleVersion: %v", err)
	}
	if sv.CompletedQuantity != 4 {
		t.Fatalf("expected completed quantity 4, got %d", sv.CompletedQuantity)
	}
	if sv.RemainingQuantity != 6 {
		t.Fatalf("expected remaining quantity 6, got %d", sv.RemainingQuantity)
	}
}

func TestStop_UnknownSessionFails(t *testing.T) {
	mem, _ := seedOperationWithActiveSV(t)
	log := New(mem)
	if _, err := log.Stop(context.Background(), "nonexistent", 1, 0, nil); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestStop_NegativeQuantityRejected(t *testing.T) {
	mem, opID := seedOperationWithActiveSV(t)
	log := New(mem)
	sess, err := log.Start(context.Background(), opID, "bob")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := log.Stop(context.Background(), sess.ID, -1, 0, nil); err == nil {
		t.Fatal("expected error for negative quantity")
	}
}

func TestAbandon_DiscardsSessionWithoutApplying(t *testing.T) {
	mem, opID := seedOperationWithActiveSV(t)
	log := New(mem)
	sess, err := log.Start(context.Background(), opID, "carol")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	log.Abandon(sess.ID)
	if _, ok := log.Open(sess.ID); ok {
		t.Fatal("expected session to be gone after Abandon")
	}
	sv, err := mem.GetActiveScheduleVersion(context.Background(), "psi1")
	if err != nil {
		t.Fatalf("GetActiveScheduleVersion: %v", err)
	}
	if sv.CompletedQuantity != 0 {
		t.Fatalf("expected no quantity applied, got %d", sv.CompletedQuantity)
	}
}
