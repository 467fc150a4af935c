package observability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/yungbote/docwriter-backend/internal/platform/logger"
	"github.com/yungbote/docwriter-backend/internal/storage"
)

func TestStageTimerWritesMetricsSnapshot(t *testing.T) {
	ctx := context.Background()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	store := storage.NewMemoryStore()
	paths := storage.NewJobStoragePaths("u1", "j1")

	ctx, timer := StartStage(ctx, log, store, paths, "write", 0)
	timer.Fields["tokens"] = 123
	timer.End(ctx, nil)

	raw, err := store.GetText(ctx, "jobs/u1/j1/metrics/write_once.json")
	if err != nil {
		t.Fatalf("metrics snapshot missing: %v", err)
	}
	var metrics map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &metrics); err != nil {
		t.Fatalf("metrics decode: %v", err)
	}
	if metrics["stage"] != "write" || metrics["job_id"] != "j1" {
		t.Fatalf("metrics identity: got=%v", metrics)
	}
	if metrics["tokens"] != float64(123) {
		t.Fatalf("extra fields: got=%v", metrics)
	}
	if _, ok := metrics["duration_s"]; !ok {
		t.Fatalf("duration missing: %v", metrics)
	}
}

func TestStageTimerCycleSuffixAndError(t *testing.T) {
	ctx := context.Background()
	log, _ := logger.New("dev")
	store := storage.NewMemoryStore()
	paths := storage.NewJobStoragePaths("u1", "j1")

	ctx, timer := StartStage(ctx, log, store, paths, "review", 2)
	timer.End(ctx, errors.New("boom"))

	raw, err := store.GetText(ctx, "jobs/u1/j1/metrics/review_cycle2.json")
	if err != nil {
		t.Fatalf("cycle metrics missing: %v", err)
	}
	var metrics map[string]interface{}
	_ = json.Unmarshal([]byte(raw), &metrics)
	if metrics["cycle"] != float64(2) {
		t.Fatalf("cycle field: got=%v", metrics)
	}
	if metrics["error"] != "boom" {
		t.Fatalf("error field: got=%v", metrics)
	}
}
