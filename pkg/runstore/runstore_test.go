package runstore

import (
	"errors"
	"testing"
	"time"

	"github.com/estalang/estavm/internal/types"
)

// openTestStore opens an in-memory store.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig("")
	cfg.InMemory = true
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testProgramID(b byte) types.ProgramID {
	var id types.ProgramID
	id[0] = b
	return id
}

// TestAppendGet tests the record round trip.
func TestAppendGet(t *testing.T) {
	store := openTestStore(t)

	rec := &Record{
		Program:   testProgramID(1),
		Status:    StatusHalted,
		Steps:     42,
		Stack:     []int64{7, -3},
		MemoryLen: 4,
		StartedAt: time.Now(),
		Duration:  5 * time.Millisecond,
	}

	seq, err := store.Append(rec)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("Append() seq = %d, want 1", seq)
	}

	got, err := store.Get(seq)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Seq != 1 || got.Status != StatusHalted || got.Steps != 42 {
		t.Errorf("Get() = %+v", got)
	}
	if len(got.Stack) != 2 || got.Stack[0] != 7 || got.Stack[1] != -3 {
		t.Errorf("Get() stack = %v, want [7 -3]", got.Stack)
	}
	if !got.Program.Equals(rec.Program) {
		t.Errorf("Get() program = %s, want %s", got.Program, rec.Program)
	}
}

// TestSequenceIsMonotonic tests sequence assignment across appends.
func TestSequenceIsMonotonic(t *testing.T) {
	store := openTestStore(t)

	for i := 1; i <= 5; i++ {
		seq, err := store.Append(&Record{Program: testProgramID(1), Status: StatusHalted})
		if err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
		if seq != uint64(i) {
			t.Errorf("Append() seq = %d, want %d", seq, i)
		}
	}
	if store.Count() != 5 {
		t.Errorf("Count() = %d, want 5", store.Count())
	}
	if store.LastSeq() != 5 {
		t.Errorf("LastSeq() = %d, want 5", store.LastSeq())
	}
}

// TestFaultRecord tests storing a faulted run.
func TestFaultRecord(t *testing.T) {
	store := openTestStore(t)

	seq, err := store.Append(&Record{
		Program: testProgramID(2),
		Status:  StatusFaulted,
		Fault:   "division by zero: pc 3",
		Steps:   4,
	})
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	got, err := store.Get(seq)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != StatusFaulted {
		t.Errorf("Status = %s, want %s", got.Status, StatusFaulted)
	}
	if got.Fault == "" {
		t.Error("Fault is empty")
	}
}

// TestGetNotFound tests the missing-record error.
func TestGetNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get(99); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Get() = %v, want ErrRunNotFound", err)
	}
}

// TestListByProgram tests the program index.
func TestListByProgram(t *testing.T) {
	store := openTestStore(t)
	a, b := testProgramID(0xAA), testProgramID(0xBB)

	for i := 0; i < 3; i++ {
		if _, err := store.Append(&Record{Program: a, Status: StatusHalted}); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}
	if _, err := store.Append(&Record{Program: b, Status: StatusHalted}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	runs, err := store.ListByProgram(a, 0)
	if err != nil {
		t.Fatalf("ListByProgram() failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("ListByProgram() returned %d runs, want 3", len(runs))
	}
	// Most recent first.
	if runs[0].Seq != 3 || runs[1].Seq != 2 || runs[2].Seq != 1 {
		t.Errorf("ListByProgram() order = %d,%d,%d want 3,2,1", runs[0].Seq, runs[1].Seq, runs[2].Seq)
	}

	limited, err := store.ListByProgram(a, 2)
	if err != nil {
		t.Fatalf("ListByProgram() failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListByProgram(limit=2) returned %d runs", len(limited))
	}

	other, err := store.ListByProgram(b, 0)
	if err != nil {
		t.Fatalf("ListByProgram() failed: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("ListByProgram() returned %d runs, want 1", len(other))
	}
}

// TestClosed tests operations on a closed store.
func TestClosed(t *testing.T) {
	store := openTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if _, err := store.Append(&Record{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Append() = %v, want ErrClosed", err)
	}
	if _, err := store.Get(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() = %v, want ErrClosed", err)
	}
}
