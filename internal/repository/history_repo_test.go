package repository

import (
	"testing"
	"time"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

func entry(seq uint64, rid, action string, ok bool, started time.Time) domain.TraceEntry {
	return domain.TraceEntry{SequenceID: seq, RequestID: rid, Action: action, Attempt: 1, Target: "rin@192.168.5.100:22",
		Command: "vmrun list", OK: ok, StartedAt: started, DurationMs: 12}
}

func TestHistoryRepo_InsertAndFilter(t *testing.T) {
	repo := NewHistoryRepo(openMem(t))
	now := time.Now()
	err := repo.InsertBatch([]domain.TraceEntry{
		entry(1, "r1", "vmware_list_running", true, now),
		entry(2, "r2", "vmware_start_vm", false, now),
		entry(3, "r2", "vmware_start_vm", true, now),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	recent, err := repo.ListRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 || recent[0].SequenceID != 3 {
		t.Fatalf("expected newest first, got %+v", recent)
	}
	if recent[0].StartedAt.IsZero() {
		t.Fatalf("started_at not restored")
	}
	byReq, _ := repo.ListFiltered(10, HistoryFilter{RequestID: "r2"})
	if len(byReq) != 2 {
		t.Fatalf("request filter expected 2 got %d", len(byReq))
	}
	failed, _ := repo.ListFiltered(10, HistoryFilter{FailedOnly: true})
	if len(failed) != 1 || failed[0].SequenceID != 2 {
		t.Fatalf("failed filter unexpected %+v", failed)
	}
	byAction, _ := repo.ListFiltered(10, HistoryFilter{Action: "list"})
	if len(byAction) != 1 {
		t.Fatalf("action filter expected 1 got %d", len(byAction))
	}
}

func TestHistoryRepo_Cleanup(t *testing.T) {
	repo := NewHistoryRepo(openMem(t))
	old := time.Now().AddDate(0, 0, -40)
	var es []domain.TraceEntry
	es = append(es, entry(1, "old", "ssh_exec", true, old))
	for i := 2; i <= 6; i++ {
		es = append(es, entry(uint64(i), "new", "ssh_exec", true, time.Now()))
	}
	if err := repo.InsertBatch(es); err != nil {
		t.Fatal(err)
	}
	if err := repo.Cleanup(30, 0); err != nil {
		t.Fatal(err)
	}
	if n, _ := repo.Count(); n != 5 {
		t.Fatalf("age cleanup expected 5 rows got %d", n)
	}
	if err := repo.Cleanup(0, 3); err != nil {
		t.Fatal(err)
	}
	list, _ := repo.ListRecent(10)
	if len(list) != 3 || list[len(list)-1].SequenceID != 4 {
		t.Fatalf("row cleanup should keep newest 3, got %+v", list)
	}
}
