package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/docwriter-backend/internal/agents"
	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/cycles"
	"github.com/yungbote/docwriter-backend/internal/diagram"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/export"
	"github.com/yungbote/docwriter-backend/internal/messaging"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
	"github.com/yungbote/docwriter-backend/internal/status"
	"github.com/yungbote/docwriter-backend/internal/storage"
)

/*
Pipeline holds every stage processor. One instance serves all queues: the
worker harness binds each queue to the matching method. Processors share the
same structure: hydrate cycle state, open a stage timer, do the work, persist
artifacts, enqueue the successor, publish status.
*/
type Pipeline struct {
	log      *logger.Logger
	cfg      config.Settings
	store    storage.BlobStore
	pub      *messaging.Publisher
	agents   agents.Set
	hydrator cycles.Hydrator
	renderer *diagram.Renderer
	exporter *export.Exporter

	// Reformat, when set, regenerates broken PlantUML between render
	// attempts. Nil disables the reformat pass.
	Reformat diagram.Reformatter
}

func NewPipeline(
	log *logger.Logger,
	cfg config.Settings,
	store storage.BlobStore,
	pub *messaging.Publisher,
	set agents.Set,
	hydrator cycles.Hydrator,
	renderer *diagram.Renderer,
	exporter *export.Exporter,
) *Pipeline {
	return &Pipeline{
		log:      log.With("component", "Pipeline"),
		cfg:      cfg,
		store:    store,
		pub:      pub,
		agents:   set,
		hydrator: hydrator,
		renderer: renderer,
		exporter: exporter,
	}
}

func (p *Pipeline) paths(payload *document.Payload) storage.JobStoragePaths {
	return storage.NewJobStoragePaths(payload.UserID, payload.JobID)
}

// putJSON uploads v pretty-printed. Artifact uploads that the stage can
// survive without go through putJSONBestEffort instead.
func (p *Pipeline) putJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return p.store.PutText(ctx, key, string(raw))
}

func (p *Pipeline) putJSONBestEffort(ctx context.Context, jobID, stage, key string, v interface{}) {
	if err := p.putJSON(ctx, key, v); err != nil {
		observability.TrackException(ctx, err)
		p.log.Warn("artifact upload failed", "job_id", jobID, "stage", stage, "key", key, "error", err)
	}
}

func (p *Pipeline) putTextBestEffort(ctx context.Context, jobID, stage, key, text string) {
	if err := p.store.PutText(ctx, key, text); err != nil {
		observability.TrackException(ctx, err)
		p.log.Warn("artifact upload failed", "job_id", jobID, "stage", stage, "key", key, "error", err)
	}
}

// FormatDuration renders a stage duration for the operator timeline:
// "2 min 5 sec", "2 min", or "5 sec".
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	minutes, seconds := total/60, total%60
	switch {
	case minutes > 0 && seconds > 0:
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%d min", minutes)
	default:
		return fmt.Sprintf("%d sec", seconds)
	}
}

// formatTokens groups thousands: 1234567 -> "1,234,567". Negative means the
// count is unknown.
func formatTokens(tokens int) string {
	if tokens < 0 {
		return "n/a"
	}
	s := fmt.Sprint(tokens)
	out := make([]byte, 0, len(s)+len(s)/3)
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}

/*
BuildStageMessage composes the canonical completion message:

	stage completed: Plan | stage document: jobs/u/j/plan.json | stage time: 1 min 2 sec | stage tokens: 1,234 | stage model: gpt-5.2

with an optional trailing notes segment.
*/
func BuildStageMessage(label, artifact string, d time.Duration, tokens int, model, notes string) string {
	if artifact == "" {
		artifact = "n/a"
	}
	if model == "" {
		model = "n/a"
	}
	parts := []string{
		"stage completed: " + label,
		"stage document: " + artifact,
		"stage time: " + FormatDuration(d),
		"stage tokens: " + formatTokens(tokens),
		"stage model: " + model,
	}
	if notes != "" {
		parts = append(parts, notes)
	}
	return strings.Join(parts, " | ")
}

// stageReport carries everything a *_DONE event needs beyond the payload.
type stageReport struct {
	stage    string // event prefix, e.g. "PLAN" -> PLAN_DONE
	label    string // human label for the message
	cycle    int    // 0 for once-per-job stages
	artifact string
	tokens   int
	model    string
	notes    string
}

// publishStageDone emits the standard completion event with the enriched
// details map and folds the token count into the stage metrics snapshot.
func (p *Pipeline) publishStageDone(ctx context.Context, payload *document.Payload, timer *observability.StageTimer, r stageReport) {
	timer.Fields["tokens"] = r.tokens
	if r.model != "" {
		timer.Fields["model"] = r.model
	}

	duration := timer.Duration()
	details := map[string]interface{}{
		"duration_s": duration.Seconds(),
		"tokens":     r.tokens,
	}
	if r.model != "" {
		details["model"] = r.model
	}
	if r.artifact != "" {
		details["artifact"] = r.artifact
	}
	if r.notes != "" {
		details["notes"] = r.notes
	}
	details = cycles.EnrichDetails(details, payload, r.cycle)

	e := status.NewEvent(payload.JobID, r.stage+"_DONE")
	e.Message = BuildStageMessage(r.label, r.artifact, duration, r.tokens, r.model, r.notes)
	e.Artifact = r.artifact
	if r.cycle > 0 {
		e.Cycle = status.IntPtr(r.cycle)
	}
	e.Extra = map[string]interface{}{"details": details, "user_id": payload.UserID}
	p.pub.PublishStatus(ctx, e)
}

// enqueue sends the payload and announces the hop as a <stage>_QUEUED event.
func (p *Pipeline) enqueue(ctx context.Context, queueName, stage string, payload *document.Payload) error {
	p.pub.PublishStageEvent(ctx, stage, "QUEUED", payload, nil)
	return p.pub.SendQueue(ctx, queueName, payload)
}
