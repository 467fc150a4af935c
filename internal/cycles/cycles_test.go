package cycles

import (
	"context"
	"testing"

	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/status"
)

func intp(v int) *int { return &v }

func TestFromPayloadDefaults(t *testing.T) {
	s := FromPayload(&document.Payload{JobID: "j1", UserID: "u1"})
	if s.Requested != 1 || s.Completed != 0 || s.Remaining() != 1 {
		t.Fatalf("defaults: want (1,0,1) got (%d,%d,%d)", s.Requested, s.Completed, s.Remaining())
	}
}

func TestFromPayloadClamps(t *testing.T) {
	p := &document.Payload{Cycles: intp(0), CyclesCompleted: intp(9)}
	s := FromPayload(p)
	if s.Requested != 1 {
		t.Fatalf("requested floor: want=1 got=%d", s.Requested)
	}
	if s.Completed != 1 {
		t.Fatalf("completed clamp: want=1 got=%d", s.Completed)
	}
}

func TestFromPayloadSolvesFromRemaining(t *testing.T) {
	p := &document.Payload{Cycles: intp(3), CyclesRemaining: intp(2)}
	s := FromPayload(p)
	if s.Completed != 1 || s.Remaining() != 2 {
		t.Fatalf("remaining-only payload: want completed=1 remaining=2 got (%d,%d)", s.Completed, s.Remaining())
	}
}

func TestApplyWritesAllFields(t *testing.T) {
	p := &document.Payload{Cycles: intp(3), CyclesCompleted: intp(1)}
	s := FromPayload(p)
	s.Apply(p)
	if *p.Cycles != 3 || *p.ExpectedCycles != 3 || *p.CyclesCompleted != 1 || *p.CyclesRemaining != 2 {
		t.Fatalf("apply: got cycles=%v expected=%v completed=%v remaining=%v",
			*p.Cycles, *p.ExpectedCycles, *p.CyclesCompleted, *p.CyclesRemaining)
	}
	// Invariant: remaining = requested - completed.
	if *p.CyclesRemaining != *p.Cycles-*p.CyclesCompleted {
		t.Fatalf("invariant broken after apply")
	}
}

func TestConsumeRewrite(t *testing.T) {
	s := State{Requested: 2, Completed: 0}
	s = s.ConsumeRewrite()
	if s.Completed != 1 {
		t.Fatalf("first rewrite: want completed=1 got=%d", s.Completed)
	}
	s = s.ConsumeRewrite()
	if s.Completed != 2 || !s.Exhausted() {
		t.Fatalf("second rewrite: want exhausted got (%d,%d)", s.Requested, s.Completed)
	}
	// Consuming past exhaustion is a no-op.
	if again := s.ConsumeRewrite(); again.Completed != 2 {
		t.Fatalf("exhausted state must not advance")
	}
}

func TestCycleIndexCaps(t *testing.T) {
	if got := (State{Requested: 3, Completed: 0}).CycleIndex(); got != 1 {
		t.Fatalf("cycle index: want=1 got=%d", got)
	}
	if got := (State{Requested: 3, Completed: 3}).CycleIndex(); got != 3 {
		t.Fatalf("cycle index at exhaustion: want=3 got=%d", got)
	}
}

func TestHydratorFillsFromLatest(t *testing.T) {
	ctx := context.Background()
	table := status.NewMemoryTable()
	_ = table.Record(ctx, map[string]interface{}{
		"job_id": "j1", "stage": "REVIEW_DONE", "ts": 50.0,
		"cycles": 3, "cycles_completed": 1,
	})

	p := &document.Payload{JobID: "j1", UserID: "u1"}
	s := Hydrator{Table: table}.Ensure(ctx, p)
	if s.Requested != 3 || s.Completed != 1 || s.Remaining() != 2 {
		t.Fatalf("hydrate from latest: want (3,1,2) got (%d,%d,%d)", s.Requested, s.Completed, s.Remaining())
	}
	if *p.CyclesRemaining != 2 {
		t.Fatalf("payload must carry hydrated remaining")
	}
}

func TestHydratorFallsBackToTimelineDetails(t *testing.T) {
	ctx := context.Background()
	table := status.NewMemoryTable()
	// Older event carries cycle info only inside details (stored as a JSON
	// string, as the table coercion does).
	_ = table.Record(ctx, map[string]interface{}{
		"job_id": "j1", "stage": "PLAN_DONE", "ts": 10.0,
		"details": map[string]interface{}{"requested": "x", "cycles": 2, "cycles_completed": 0},
	})
	_ = table.Record(ctx, map[string]interface{}{
		"job_id": "j1", "stage": "WRITE_DONE", "ts": 20.0,
	})

	p := &document.Payload{JobID: "j1", UserID: "u1"}
	s := Hydrator{Table: table}.Ensure(ctx, p)
	if s.Requested != 2 || s.Completed != 0 {
		t.Fatalf("hydrate from timeline details: want (2,0) got (%d,%d)", s.Requested, s.Completed)
	}
}

func TestHydratorDoesNotOverwritePresentFields(t *testing.T) {
	ctx := context.Background()
	table := status.NewMemoryTable()
	_ = table.Record(ctx, map[string]interface{}{
		"job_id": "j1", "stage": "REVIEW_DONE", "ts": 50.0,
		"cycles": 5, "cycles_completed": 4,
	})

	p := &document.Payload{JobID: "j1", UserID: "u1", Cycles: intp(2), CyclesCompleted: intp(1)}
	s := Hydrator{Table: table}.Ensure(ctx, p)
	if s.Requested != 2 || s.Completed != 1 {
		t.Fatalf("present fields must win over the table: got (%d,%d)", s.Requested, s.Completed)
	}
}

func TestEnrichDetails(t *testing.T) {
	p := &document.Payload{JobID: "j1", Cycles: intp(2), CyclesCompleted: intp(1)}
	details := EnrichDetails(map[string]interface{}{"tokens": 7}, p, 2)
	if details["requested_cycles"] != 2 || details["cycles_completed"] != 1 || details["cycles_remaining"] != 1 {
		t.Fatalf("cycle metadata missing: %v", details)
	}
	if details["cycle_index"] != 2 {
		t.Fatalf("cycle_index: want=2 got=%v", details["cycle_index"])
	}
	if details["tokens"] != 7 {
		t.Fatalf("existing keys must be preserved: %v", details)
	}
}
