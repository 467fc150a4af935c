package stages

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/storage"
	"github.com/yungbote/docwriter-backend/internal/tokens"
	"github.com/yungbote/docwriter-backend/internal/worker"
)

const minLengthPages = 60

// intakeStyleKeys are the answer fields merged into the plan's global style.
var intakeStyleKeys = []string{"tone", "pov", "structure", "constraints"}

/*
Plan produces the document plan. A prior plan.json (a replayed or resumed
job) wins for title, audience, and length; uploaded intake answers win over
both. The resulting plan is persisted and the job moves to writing with a
fresh dependency-summary map.
*/
func (p *Pipeline) Plan(ctx context.Context, job *worker.Job) error {
	payload := job.Payload
	p.hydrator.Ensure(ctx, payload)
	paths := p.paths(payload)

	ctx, timer := observability.StartStage(ctx, p.log, p.store, paths, "plan", 0)

	title := payload.Title
	audience := payload.Audience
	lengthPages := p.cfg.DefaultLengthPages

	if prior, err := p.loadPriorPlan(ctx, paths); err == nil {
		if prior.Title != "" {
			title = prior.Title
		}
		if prior.Audience != "" {
			audience = prior.Audience
		}
		if prior.LengthPages > 0 {
			lengthPages = prior.LengthPages
		}
	}

	answers := p.loadIntakeAnswers(ctx, paths)
	if v, ok := answers["title"].(string); ok && strings.TrimSpace(v) != "" {
		title = v
	}
	if v, ok := answers["audience"].(string); ok && strings.TrimSpace(v) != "" {
		audience = v
	}
	if n, ok := coercePages(answers["length_pages"]); ok {
		lengthPages = n
	}

	plan, usage, err := p.agents.Planner.Plan(ctx, title, audience, lengthPages)
	if err != nil {
		timer.End(ctx, err)
		return err
	}

	if plan.GlobalStyle == nil {
		plan.GlobalStyle = map[string]interface{}{}
	}
	for _, key := range intakeStyleKeys {
		if v, ok := answers[key]; ok && !emptyValue(v) {
			plan.GlobalStyle[key] = v
		}
	}
	if plan.LengthPages <= 0 {
		plan.LengthPages = p.cfg.DefaultLengthPages
	}
	if plan.LengthPages < minLengthPages {
		plan.LengthPages = minLengthPages
	}

	payload.Plan = &plan
	payload.DependencySummaries = map[string]string{}
	payload.IntakeAnswers = answers

	p.putJSONBestEffort(ctx, payload.JobID, "PLAN", paths.Plan(), plan)

	tokenCount := usage.Total()
	if tokenCount == 0 {
		if raw, err := json.Marshal(plan); err == nil {
			tokenCount = tokens.Estimate(string(raw))
		}
	}
	p.publishStageDone(ctx, payload, timer, stageReport{
		stage:    "PLAN",
		label:    "Plan",
		artifact: paths.Plan(),
		tokens:   tokenCount,
		model:    p.cfg.PlannerModel,
	})

	err = p.enqueue(ctx, p.cfg.QueueWrite, "WRITE", payload)
	timer.End(ctx, err)
	return err
}

func (p *Pipeline) loadPriorPlan(ctx context.Context, paths storage.JobStoragePaths) (document.Plan, error) {
	var plan document.Plan
	raw, err := p.store.GetText(ctx, paths.Plan())
	if err != nil {
		return plan, err
	}
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return document.Plan{}, err
	}
	return plan, nil
}

func (p *Pipeline) loadIntakeAnswers(ctx context.Context, paths storage.JobStoragePaths) map[string]interface{} {
	answers := map[string]interface{}{}
	raw, err := p.store.GetText(ctx, paths.IntakeAnswers())
	if err != nil {
		return answers
	}
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		p.log.Warn("intake answers unparseable, ignoring", "key", paths.IntakeAnswers(), "error", err)
		return map[string]interface{}{}
	}
	return answers
}

func coercePages(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return int(v), true
		}
	case int:
		if v > 0 {
			return v, true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

func emptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}
