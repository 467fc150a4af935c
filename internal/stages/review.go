package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/agents"
	"github.com/yungbote/docwriter-backend/internal/docgraph"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/tokens"
	"github.com/yungbote/docwriter-backend/internal/worker"
)

const reviewProgressFile = "review_progress.json"

// reviewAgentState is one agent's slice of the progress artifact.
type reviewAgentState struct {
	SectionsDone []string               `json:"sections_done"`
	Done         bool                   `json:"done"`
	Accumulated  map[string]interface{} `json:"accumulated"`
}

/*
reviewProgress is persisted at cycle_<k>/review_progress.json after every
incremental batch and reloaded on every review-queue re-entry. The blob is
the sole source of truth; nothing review-related rides on the message.
*/
type reviewProgress struct {
	TokensTotal int              `json:"tokens_total"`
	General     reviewAgentState `json:"general"`
	Style       reviewAgentState `json:"style"`
	Cohesion    reviewAgentState `json:"cohesion"`
	Summary     reviewAgentState `json:"summary"`
}

func (rp *reviewProgress) agent(name string) *reviewAgentState {
	switch name {
	case "style":
		return &rp.Style
	case "cohesion":
		return &rp.Cohesion
	case "summary":
		return &rp.Summary
	default:
		return &rp.General
	}
}

// reviewAgentSpec binds one review queue to its agent, artifact, and successor.
type reviewAgentSpec struct {
	name     string
	artifact string
}

func (p *Pipeline) ReviewGeneral(ctx context.Context, job *worker.Job) error {
	return p.processReview(ctx, job, reviewAgentSpec{name: "general", artifact: "review.json"})
}

func (p *Pipeline) ReviewStyle(ctx context.Context, job *worker.Job) error {
	return p.processReview(ctx, job, reviewAgentSpec{name: "style", artifact: "style.json"})
}

func (p *Pipeline) ReviewCohesion(ctx context.Context, job *worker.Job) error {
	return p.processReview(ctx, job, reviewAgentSpec{name: "cohesion", artifact: "cohesion.json"})
}

func (p *Pipeline) ReviewSummary(ctx context.Context, job *worker.Job) error {
	return p.processReview(ctx, job, reviewAgentSpec{name: "summary", artifact: "executive_summary.json"})
}

func (p *Pipeline) reviewAgentEnabled(name string) bool {
	switch name {
	case "style":
		return p.cfg.ReviewStyleEnabled
	case "cohesion":
		return p.cfg.ReviewCohesionEnabled
	case "summary":
		return p.cfg.ReviewSummaryEnabled
	default:
		return true
	}
}

func (p *Pipeline) reviewBatchSize(name string) int {
	size := 0
	switch name {
	case "style":
		size = p.cfg.ReviewStyleBatchSize
	case "cohesion":
		size = p.cfg.ReviewCohesionBatchSize
	case "summary":
		size = p.cfg.ReviewSummaryBatchSize
	default:
		size = p.cfg.ReviewBatchSize
	}
	if size < 1 {
		size = 1
	}
	return size
}

func (p *Pipeline) reviewQueueFor(name string) string {
	switch name {
	case "style":
		return p.cfg.QueueReviewStyle
	case "cohesion":
		return p.cfg.QueueReviewCohesion
	case "summary":
		return p.cfg.QueueReviewSummary
	default:
		return p.cfg.QueueReviewGeneral
	}
}

// reviewSuccessor is the queue an agent forwards to when finished.
func (p *Pipeline) reviewSuccessor(name string) string {
	switch name {
	case "general":
		return p.cfg.QueueReviewStyle
	case "style":
		return p.cfg.QueueReviewCohesion
	case "cohesion":
		return p.cfg.QueueReviewSummary
	default:
		return "" // summary hands off to verify explicitly
	}
}

func (p *Pipeline) invokeReviewAgent(ctx context.Context, name string, plan *document.Plan, markdown string, sections []agents.BatchSection) (string, agents.Usage, error) {
	switch name {
	case "style":
		return p.agents.Style.ReviewStyleBatch(ctx, plan, markdown, sections)
	case "cohesion":
		return p.agents.Cohesion.ReviewCohesionBatch(ctx, plan, markdown, sections)
	case "summary":
		return p.agents.Summary.ReviewSummaryBatch(ctx, plan, markdown, sections)
	default:
		return p.agents.Reviewer.ReviewBatch(ctx, plan, markdown, sections)
	}
}

func assignReviewArtifact(payload *document.Payload, name, artifactJSON string) {
	switch name {
	case "style":
		payload.StyleJSON = artifactJSON
	case "cohesion":
		payload.CohesionJSON = artifactJSON
	case "summary":
		payload.ExecSummaryJSON = artifactJSON
	default:
		payload.ReviewJSON = artifactJSON
	}
}

/*
processReview is the shared sub-scheduler behind all four review queues. One
dispatch runs at most one section batch for one agent; unfinished agents
re-enqueue their own queue, finished ones forward to the next. The summary
agent's completion closes the whole review pass and hands off to verify.
*/
func (p *Pipeline) processReview(ctx context.Context, job *worker.Job, spec reviewAgentSpec) error {
	payload := job.Payload
	state := p.hydrator.Ensure(ctx, payload)
	paths := p.paths(payload)

	if state.Exhausted() {
		p.log.Info("review cycles exhausted, moving to diagram prep",
			"job_id", payload.JobID, "requested", state.Requested)
		return p.enqueue(ctx, p.cfg.QueueDiagramPrep, "DIAGRAM", payload)
	}
	cycleIdx := state.CycleIndex()

	progressKey, err := paths.Cycle(cycleIdx, reviewProgressFile)
	if err != nil {
		return err
	}
	progress, err := p.loadReviewProgress(ctx, progressKey)
	if err != nil {
		return err
	}
	ag := progress.agent(spec.name)

	if !p.reviewAgentEnabled(spec.name) && !ag.Done {
		ag.Done = true
		if err := p.putJSON(ctx, progressKey, progress); err != nil {
			return err
		}
	}
	if ag.Done {
		return p.forwardReview(ctx, payload, progress, spec, cycleIdx, nil)
	}

	if payload.Plan == nil {
		return fmt.Errorf("plan missing from review payload for job %s", payload.JobID)
	}
	plan := payload.Plan

	ctx, timer := observability.StartStage(ctx, p.log, p.store, paths, "review_"+spec.name, cycleIdx)

	draft, err := p.store.GetText(ctx, payload.Out)
	if err != nil {
		timer.End(ctx, err)
		return err
	}
	segments := document.ExtractSections(draft)
	present := map[string]bool{}
	for sid := range segments {
		present[sid] = true
	}
	order, err := docgraph.Build(plan.Outline).Restrict(present).TopologicalOrder()
	if err != nil {
		timer.End(ctx, err)
		return err
	}

	done := map[string]bool{}
	for _, sid := range ag.SectionsDone {
		done[sid] = true
	}
	remaining := []string{}
	for _, sid := range order {
		if !done[sid] {
			remaining = append(remaining, sid)
		}
	}

	if ag.Accumulated == nil {
		ag.Accumulated = map[string]interface{}{}
	}
	batchTokens := 0
	if len(remaining) > 0 {
		batchIDs, prompt := p.packReviewBatch(plan, segments, payload.DependencySummaries, remaining, p.reviewBatchSize(spec.name))
		batchSections := make([]agents.BatchSection, 0, len(batchIDs))
		for _, sid := range batchIDs {
			title := ""
			if section, ok := plan.SectionByID(sid); ok {
				title = section.Title
			}
			batchSections = append(batchSections, agents.BatchSection{SectionID: sid, Title: title})
		}

		resultJSON, usage, err := p.invokeReviewAgent(ctx, spec.name, plan, prompt, batchSections)
		if err != nil {
			timer.End(ctx, err)
			return err
		}
		batchTokens = usage.Total()
		if batchTokens == 0 {
			batchTokens = tokens.Estimate(resultJSON)
		}
		progress.TokensTotal += batchTokens

		entries := parseBatchEntries(resultJSON)
		if len(entries) == 0 {
			// A malformed response must not wedge the scheduler: give up
			// on this batch rather than re-dispatching it forever.
			p.log.Warn("review batch yielded no entries, skipping batch",
				"job_id", payload.JobID, "agent", spec.name, "sections", batchIDs)
			for _, sid := range batchIDs {
				done[sid] = true
			}
		} else {
			for _, entry := range entries {
				p.accumulateEntry(ag, spec.name, draft, entry)
				if sid, ok := entry["section_id"].(string); ok && sid != "" {
					done[sid] = true
				}
			}
		}
	}
	ag.SectionsDone = orderedSubset(order, done)
	finished := len(ag.SectionsDone) >= len(order)

	var artifactKey string
	if finished {
		ag.Done = true
		artifactKey, err = paths.Cycle(cycleIdx, spec.artifact)
		if err != nil {
			timer.End(ctx, err)
			return err
		}
		artifactRaw, err := json.MarshalIndent(ag.Accumulated, "", "  ")
		if err != nil {
			timer.End(ctx, err)
			return err
		}
		if err := p.store.PutText(ctx, artifactKey, string(artifactRaw)); err != nil {
			timer.End(ctx, err)
			return err
		}
		assignReviewArtifact(payload, spec.name, string(artifactRaw))
	}
	if err := p.putJSON(ctx, progressKey, progress); err != nil {
		timer.End(ctx, err)
		return err
	}
	timer.Fields["tokens"] = batchTokens
	timer.Fields["agent"] = spec.name

	if !finished {
		p.pub.PublishStageEvent(ctx, "REVIEW", "IN_PROGRESS", payload, map[string]interface{}{
			"details": map[string]interface{}{
				"agent":          spec.name,
				"sections_done":  len(ag.SectionsDone),
				"sections_total": len(order),
			},
		})
		if err := p.pub.SendQueue(ctx, p.reviewQueueFor(spec.name), payload); err != nil {
			timer.End(ctx, err)
			return err
		}
		timer.End(ctx, nil)
		return nil
	}

	err = p.forwardReview(ctx, payload, progress, spec, cycleIdx, timer)
	timer.End(ctx, err)
	return err
}

/*
forwardReview routes a finished agent onward: general, style, and cohesion
announce their completion as REVIEW_IN_PROGRESS and post to the next review
queue; summary closes the pass with REVIEW_DONE and posts to verify.
*/
func (p *Pipeline) forwardReview(ctx context.Context, payload *document.Payload, progress *reviewProgress, spec reviewAgentSpec, cycleIdx int, timer *observability.StageTimer) error {
	if spec.name != "summary" {
		if timer != nil {
			p.pub.PublishStageEvent(ctx, "REVIEW", "IN_PROGRESS", payload, map[string]interface{}{
				"details": map[string]interface{}{"agent": spec.name, "completed": true},
			})
		}
		return p.pub.SendQueue(ctx, p.reviewSuccessor(spec.name), payload)
	}

	if timer != nil {
		paths := p.paths(payload)
		artifact, _ := paths.Cycle(cycleIdx, "review.json")
		p.publishStageDone(ctx, payload, timer, stageReport{
			stage:    "REVIEW",
			label:    "Review",
			cycle:    cycleIdx,
			artifact: artifact,
			tokens:   progress.TokensTotal,
			model:    p.cfg.ReviewerModel,
		})
	}
	return p.enqueue(ctx, p.cfg.QueueVerify, "VERIFY", payload)
}

func (p *Pipeline) loadReviewProgress(ctx context.Context, key string) (*reviewProgress, error) {
	progress := &reviewProgress{}
	raw, err := p.store.GetText(ctx, key)
	if err != nil {
		return progress, nil // fresh cycle
	}
	if err := json.Unmarshal([]byte(raw), progress); err != nil {
		return nil, fmt.Errorf("decode review progress %s: %w", key, err)
	}
	return progress, nil
}

const missingSummaryStub = "(no summary available)"

/*
packReviewBatch greedy-packs a prefix of remaining into a batch, stopping at
the agent's batch size or when the composed prompt would exceed the token
ceiling. The first section is always admitted so oversized sections still
make progress.
*/
func (p *Pipeline) packReviewBatch(plan *document.Plan, segments, summaries map[string]string, remaining []string, batchSize int) ([]string, string) {
	batch := []string{}
	for _, sid := range remaining {
		candidate := append(append([]string{}, batch...), sid)
		prompt := composeReviewPrompt(plan, segments, summaries, candidate)
		if len(batch) > 0 && tokens.Estimate(prompt) > p.cfg.ReviewMaxPromptTokens {
			break
		}
		batch = candidate
		if len(batch) >= batchSize {
			break
		}
	}
	return batch, composeReviewPrompt(plan, segments, summaries, batch)
}

// composeReviewPrompt stitches dependency stubs for the batch's external
// dependencies, then the full markdown of each batched section.
func composeReviewPrompt(plan *document.Plan, segments, summaries map[string]string, batch []string) string {
	inBatch := map[string]bool{}
	for _, sid := range batch {
		inBatch[sid] = true
	}
	parts := []string{}
	seenDep := map[string]bool{}
	for _, sid := range batch {
		section, ok := plan.SectionByID(sid)
		if !ok {
			continue
		}
		for _, dep := range section.Dependencies {
			if inBatch[dep] || seenDep[dep] {
				continue
			}
			seenDep[dep] = true
			depTitle := dep
			if depSection, ok := plan.SectionByID(dep); ok && depSection.Title != "" {
				depTitle = depSection.Title
			}
			summary := summaries[dep]
			if summary == "" {
				summary = missingSummaryStub
			}
			parts = append(parts, fmt.Sprintf("Dependency %s (%s) summary: %s", dep, depTitle, summary))
		}
	}
	for _, sid := range batch {
		if segment, ok := segments[sid]; ok {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, "\n\n")
}

// parseBatchEntries extracts result["sections"], tolerating a bare top-level
// array. Malformed input yields nil.
func parseBatchEntries(raw string) []map[string]interface{} {
	var wrapper struct {
		Sections []map[string]interface{} `json:"sections"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapper); err == nil && wrapper.Sections != nil {
		return wrapper.Sections
	}
	var bare []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &bare); err == nil {
		return bare
	}
	return nil
}

// accumulateEntry folds one per-section result into the agent's accumulator.
// The general agent additionally merges any revised markdown.
func (p *Pipeline) accumulateEntry(ag *reviewAgentState, name, draft string, entry map[string]interface{}) {
	list, _ := ag.Accumulated["sections"].([]interface{})
	ag.Accumulated["sections"] = append(list, entry)

	if name != "general" {
		return
	}
	revised, _ := entry["revised_markdown"].(string)
	if strings.TrimSpace(revised) == "" {
		return
	}
	base, _ := ag.Accumulated["revised_markdown"].(string)
	if base == "" {
		base = draft
	}
	ag.Accumulated["revised_markdown"] = document.MergeRevisedMarkdown(base, revised)
}
