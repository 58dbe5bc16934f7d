package trace

import (
	"fmt"
	"sync"
	"testing"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

func TestTracer_OrderAndEviction(t *testing.T) {
	tr := New(3)
	for i := 0; i < 5; i++ {
		tr.Record(domain.TraceEntry{RequestID: fmt.Sprintf("r%d", i)})
	}
	list := tr.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	want := []string{"r4", "r3", "r2"}
	for i, e := range list {
		if e.RequestID != want[i] {
			t.Fatalf("pos %d got %s want %s", i, e.RequestID, want[i])
		}
	}
	if list[0].SequenceID != 5 || list[2].SequenceID != 3 {
		t.Fatalf("unexpected sequence ids %d..%d", list[0].SequenceID, list[2].SequenceID)
	}
}

func TestTracer_ClearThenRecord(t *testing.T) {
	tr := New(0)
	tr.Record(domain.TraceEntry{RequestID: "old"})
	tr.Clear()
	if len(tr.List()) != 0 {
		t.Fatalf("expected empty after clear")
	}
	seq := tr.Record(domain.TraceEntry{RequestID: "req-1"})
	list := tr.List()
	if len(list) != 1 || list[0].RequestID != "req-1" || list[0].SequenceID != seq {
		t.Fatalf("unexpected list after clear: %#v", list)
	}
	if seq != 2 {
		t.Fatalf("sequence must not restart after clear, got %d", seq)
	}
}

func TestTracer_ConcurrentRecordStrictlyIncreasing(t *testing.T) {
	tr := New(1000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.Record(domain.TraceEntry{RequestID: fmt.Sprintf("w%d-%d", w, i), Output: "x"})
			}
		}(w)
	}
	wg.Wait()
	list := tr.List()
	if len(list) != 800 {
		t.Fatalf("expected 800 entries, got %d", len(list))
	}
	seen := map[uint64]bool{}
	for i, e := range list {
		if seen[e.SequenceID] {
			t.Fatalf("duplicate sequence id %d", e.SequenceID)
		}
		seen[e.SequenceID] = true
		if i > 0 && list[i-1].SequenceID <= e.SequenceID {
			t.Fatalf("not strictly decreasing at %d", i)
		}
		if e.Output != "x" {
			t.Fatalf("corrupted entry %#v", e)
		}
	}
}

func TestTracer_Amend(t *testing.T) {
	tr := New(2)
	first := tr.Record(domain.TraceEntry{ErrorMessage: "timeout"})
	if !tr.Amend(first, func(e *domain.TraceEntry) { e.Output = "late" }) {
		t.Fatalf("amend of live entry failed")
	}
	if tr.List()[0].Output != "late" {
		t.Fatalf("amend not applied")
	}
	tr.Record(domain.TraceEntry{})
	tr.Record(domain.TraceEntry{})
	if tr.Amend(first, func(e *domain.TraceEntry) {}) {
		t.Fatalf("amend of evicted entry should fail")
	}
}
