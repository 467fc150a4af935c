package observability

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/docwriter-backend/internal/platform/logger"
	"github.com/yungbote/docwriter-backend/internal/storage"
)

const tracerName = "docwriter"

/*
StageTimer spans one stage handler and, on End, uploads a best-effort
metrics snapshot to metrics/<stage>_{once|cycle<k>}.json under the job root.
*/
type StageTimer struct {
	log   *logger.Logger
	store storage.BlobStore
	paths storage.JobStoragePaths

	jobID string
	stage string
	cycle int

	start time.Time
	span  trace.Span

	// Extra fields folded into the metrics snapshot (tokens, model, ...).
	Fields map[string]interface{}
}

// StartStage opens a span and the timer for one stage run. cycle 0 means the
// stage runs once per job.
func StartStage(ctx context.Context, log *logger.Logger, store storage.BlobStore, paths storage.JobStoragePaths, stage string, cycle int) (context.Context, *StageTimer) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "stage:"+stage)
	span.SetAttributes(attribute.String("job_id", paths.JobID))
	if cycle > 0 {
		span.SetAttributes(attribute.Int("cycle", cycle))
	}
	return ctx, &StageTimer{
		log:    log,
		store:  store,
		paths:  paths,
		jobID:  paths.JobID,
		stage:  stage,
		cycle:  cycle,
		start:  time.Now(),
		span:   span,
		Fields: map[string]interface{}{},
	}
}

// Duration is the elapsed time since the stage started.
func (t *StageTimer) Duration() time.Duration {
	return time.Since(t.start)
}

// End closes the span and persists the metrics snapshot. A handler error is
// recorded on the span; snapshot upload failures are logged and swallowed.
func (t *StageTimer) End(ctx context.Context, handlerErr error) {
	duration := t.Duration()
	t.span.SetAttributes(attribute.Float64("duration_s", duration.Seconds()))
	if handlerErr != nil {
		t.span.RecordError(handlerErr)
		t.span.SetStatus(codes.Error, handlerErr.Error())
	}
	t.span.End()

	if t.store == nil {
		return
	}
	metrics := map[string]interface{}{
		"job_id":     t.jobID,
		"stage":      t.stage,
		"duration_s": duration.Seconds(),
	}
	if t.cycle > 0 {
		metrics["cycle"] = t.cycle
	}
	for k, v := range t.Fields {
		metrics[k] = v
	}
	if handlerErr != nil {
		metrics["error"] = handlerErr.Error()
	}
	raw, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return
	}
	if err := t.store.PutText(ctx, t.paths.Metrics(t.stage, t.cycle), string(raw)); err != nil && t.log != nil {
		t.log.Warn("metrics snapshot upload failed", "job_id", t.jobID, "stage", t.stage, "error", err)
	}
}

// TrackException records a handler exception on the current span.
func TrackException(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
