package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/docgraph"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/storage"
	"github.com/yungbote/docwriter-backend/internal/tokens"
	"github.com/yungbote/docwriter-backend/internal/worker"
)

/*
Write drafts the document incrementally: one message processes the next batch
of outline sections in topological order, summarizing each finished section so
its dependents can reference it. An unfinished draft re-enqueues the write
queue; the final batch hands the job to review.
*/
func (p *Pipeline) Write(ctx context.Context, job *worker.Job) error {
	payload := job.Payload
	p.hydrator.Ensure(ctx, payload)
	paths := p.paths(payload)
	if payload.Out == "" {
		payload.Out = paths.Draft()
	}
	if payload.Plan == nil {
		return fmt.Errorf("plan missing from write payload for job %s", payload.JobID)
	}
	plan := payload.Plan

	ctx, timer := observability.StartStage(ctx, p.log, p.store, paths, "write", 0)

	order, err := docgraph.Build(plan.Outline).TopologicalOrder()
	if err != nil {
		timer.End(ctx, err)
		return err
	}

	titlePage, body := p.loadDraftParts(ctx, payload)
	if payload.DependencySummaries == nil {
		payload.DependencySummaries = map[string]string{}
	}
	written := map[string]bool{}
	for _, sid := range payload.WrittenSections {
		written[sid] = true
	}

	batchSize := p.cfg.WriteBatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	tokensTotal := 0
	processed := 0
	for _, sid := range order {
		if processed >= batchSize {
			break
		}
		if written[sid] {
			continue
		}
		section, ok := plan.SectionByID(sid)
		if !ok {
			written[sid] = true
			continue
		}
		depContext := dependencyContext(section, payload.DependencySummaries)
		text, usage, err := p.agents.Writer.WriteSection(ctx, plan, section, depContext, "", nil)
		if err != nil {
			timer.End(ctx, err)
			return fmt.Errorf("write section %s: %w", sid, err)
		}
		if body == "" {
			body = text
		} else {
			body = body + "\n\n" + text
		}
		summary, sUsage, err := p.agents.Summarizer.SummarizeSection(ctx, body)
		if err != nil {
			timer.End(ctx, err)
			return fmt.Errorf("summarize section %s: %w", sid, err)
		}
		payload.DependencySummaries[sid] = summary
		written[sid] = true
		tokensTotal += usage.Total() + sUsage.Total()
		processed++

		if err := job.RenewLock(ctx); err != nil {
			p.log.Warn("lock renewal failed mid-batch", "job_id", payload.JobID, "error", err)
		}
	}

	if titlePage == "" {
		titlePage = document.BuildTitlePage(plan, payload)
	}
	docText := titlePage + body
	if err := p.store.PutText(ctx, payload.Out, docText); err != nil {
		timer.End(ctx, err)
		return err
	}
	if payload.Out != paths.Draft() {
		p.putTextBestEffort(ctx, payload.JobID, "WRITE", paths.Draft(), docText)
	}

	payload.WrittenSections = orderedSubset(order, written)

	if len(payload.WrittenSections) < len(order) {
		p.pub.PublishStageEvent(ctx, "WRITE", "IN_PROGRESS", payload, map[string]interface{}{
			"artifact": paths.Draft(),
			"details": map[string]interface{}{
				"sections_done":  len(payload.WrittenSections),
				"sections_total": len(order),
			},
		})
		if err := p.pub.SendQueue(ctx, p.cfg.QueueWrite, payload); err != nil {
			timer.End(ctx, err)
			return err
		}
		timer.Fields["tokens"] = tokensTotal
		timer.End(ctx, nil)
		return nil
	}

	if tokensTotal == 0 {
		tokensTotal = tokens.Estimate(docText)
	}
	p.publishStageDone(ctx, payload, timer, stageReport{
		stage:    "WRITE",
		label:    "Write",
		artifact: paths.Draft(),
		tokens:   tokensTotal,
		model:    p.cfg.WriterModel,
	})

	err = p.enqueue(ctx, p.cfg.QueueReviewGeneral, "REVIEW", payload)
	timer.End(ctx, err)
	return err
}

// loadDraftParts returns the existing draft split into title page and body,
// or empty strings when no draft exists yet.
func (p *Pipeline) loadDraftParts(ctx context.Context, payload *document.Payload) (titlePage, body string) {
	raw, err := p.store.GetText(ctx, payload.Out)
	if err != nil {
		if !storage.IsNotFound(err) {
			p.log.Warn("draft load failed, starting fresh", "job_id", payload.JobID, "error", err)
		}
		return "", ""
	}
	return document.SplitTitlePage(raw)
}

// dependencyContext joins the summaries of a section's satisfied dependencies.
func dependencyContext(section document.Section, summaries map[string]string) string {
	parts := []string{}
	for _, dep := range section.Dependencies {
		if s := summaries[dep]; s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// orderedSubset keeps the topological order for the done-set so progress
// lists stay deterministic across replays.
func orderedSubset(order []string, member map[string]bool) []string {
	out := make([]string, 0, len(member))
	for _, sid := range order {
		if member[sid] {
			out = append(out, sid)
		}
	}
	return out
}
