package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/docgraph"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/tokens"
	"github.com/yungbote/docwriter-backend/internal/worker"
)

/*
Rewrite regenerates the sections flagged by verify, in batches like the write
stage. Whether or not anything was rewritten, the stage owns the cycle
advance: on completion it bumps cycles_completed and routes back to review or
onward to diagram prep.
*/
func (p *Pipeline) Rewrite(ctx context.Context, job *worker.Job) error {
	payload := job.Payload
	state := p.hydrator.Ensure(ctx, payload)
	cycleIdx := state.CycleIndex()
	paths := p.paths(payload)
	if payload.Plan == nil {
		return fmt.Errorf("plan missing from rewrite payload for job %s", payload.JobID)
	}
	plan := payload.Plan

	ctx, timer := observability.StartStage(ctx, p.log, p.store, paths, "rewrite", cycleIdx)

	text, err := p.store.GetText(ctx, payload.Out)
	if err != nil {
		timer.End(ctx, err)
		return err
	}

	tokensTotal := 0
	if payload.RequiresRewrite {
		contradictions := parseContradictions(payload.VerificationJSON)
		styleGuidance, styleSections := document.ParseReviewGuidance(payload.StyleJSON)
		cohesionGuidance, cohesionSections := document.ParseReviewGuidance(payload.CohesionJSON)
		combined := joinNonEmpty("\n", styleGuidance, cohesionGuidance)

		affected := map[string]bool{}
		for _, c := range contradictions {
			if c.SectionID != "" {
				affected[c.SectionID] = true
			}
		}
		if styleGuidance != "" {
			for sid := range styleSections {
				affected[sid] = true
			}
		}
		if cohesionGuidance != "" {
			for sid := range cohesionSections {
				affected[sid] = true
			}
		}
		if len(affected) == 0 && combined != "" {
			for _, s := range plan.Outline {
				affected[s.ID] = true
			}
		}
		for _, sid := range payload.PlaceholderSections {
			affected[sid] = true
		}

		order, err := docgraph.Build(plan.Outline).Restrict(affected).TopologicalOrder()
		if err != nil {
			timer.End(ctx, err)
			return err
		}

		done := map[string]bool{}
		for _, sid := range payload.RewrittenSections {
			done[sid] = true
		}
		batchSize := p.cfg.WriteBatchSize
		if batchSize < 1 {
			batchSize = 1
		}
		processed := 0
		for _, sid := range order {
			if processed >= batchSize {
				break
			}
			if done[sid] {
				continue
			}
			section, ok := plan.SectionByID(sid)
			if !ok {
				done[sid] = true
				continue
			}
			depContext := dependencyContext(section, payload.DependencySummaries)
			newText, usage, err := p.agents.Writer.WriteSection(ctx, plan, section, depContext, combined, nil)
			if err != nil {
				timer.End(ctx, err)
				return fmt.Errorf("rewrite section %s: %w", sid, err)
			}
			text = document.SpliceSection(text, sid, newText)
			tokensTotal += usage.Total()
			done[sid] = true
			processed++

			if err := job.RenewLock(ctx); err != nil {
				p.log.Warn("lock renewal failed mid-batch", "job_id", payload.JobID, "error", err)
			}
		}

		if processed > 0 {
			if err := p.store.PutText(ctx, payload.Out, text); err != nil {
				timer.End(ctx, err)
				return err
			}
			if key, err := paths.Cycle(cycleIdx, "rewrite.md"); err == nil {
				p.putTextBestEffort(ctx, payload.JobID, "REWRITE", key, text)
			}
		}
		payload.RewrittenSections = orderedSubset(order, done)

		if len(payload.RewrittenSections) < len(order) {
			p.pub.PublishStageEvent(ctx, "REWRITE", "IN_PROGRESS", payload, map[string]interface{}{
				"details": map[string]interface{}{
					"sections_done":  len(payload.RewrittenSections),
					"sections_total": len(order),
				},
			})
			if err := p.pub.SendQueue(ctx, p.cfg.QueueRewrite, payload); err != nil {
				timer.End(ctx, err)
				return err
			}
			timer.Fields["tokens"] = tokensTotal
			timer.End(ctx, nil)
			return nil
		}
	}

	// Cycle advance happens exactly once per pass, here.
	next := state.ConsumeRewrite()
	next.Apply(payload)
	payload.RequiresRewrite = false
	payload.PlaceholderSections = nil
	payload.RewrittenSections = nil

	if tokensTotal == 0 {
		tokensTotal = tokens.Estimate(text)
	}
	p.publishStageDone(ctx, payload, timer, stageReport{
		stage:    "REWRITE",
		label:    "Rewrite",
		cycle:    cycleIdx,
		artifact: payload.Out,
		tokens:   tokensTotal,
		model:    p.cfg.WriterModel,
	})

	if next.Completed < next.Requested {
		err = p.enqueue(ctx, p.cfg.QueueReviewGeneral, "REVIEW", payload)
	} else {
		err = p.enqueue(ctx, p.cfg.QueueDiagramPrep, "DIAGRAM", payload)
	}
	timer.End(ctx, err)
	return err
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := []string{}
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, sep)
}
