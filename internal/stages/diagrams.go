package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/diagram"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/status"
	"github.com/yungbote/docwriter-backend/internal/worker"
)

/*
DiagramPrep extracts every PlantUML block from the draft, assigns diagram
ids, sanitizes and validates the sources, and stages them as render requests.
A draft with no diagrams skips straight to finalize. Any invalid block is a
semantic failure: the stage emits DIAGRAM_FAILED and stops without a
successor, leaving the job for operator intervention.
*/
func (p *Pipeline) DiagramPrep(ctx context.Context, job *worker.Job) error {
	payload := job.Payload
	p.hydrator.Ensure(ctx, payload)
	paths := p.paths(payload)

	ctx, timer := observability.StartStage(ctx, p.log, p.store, paths, "diagram_prep", 0)

	draft, err := p.store.GetText(ctx, payload.Out)
	if err != nil {
		timer.End(ctx, err)
		return err
	}

	blocks := diagram.ExtractBlocks(draft)
	if len(blocks) == 0 {
		payload.DiagramResults = []document.DiagramResult{}
		p.pub.PublishStageEvent(ctx, "DIAGRAM", "SKIPPED", payload, nil)
		err := p.enqueue(ctx, p.cfg.QueueFinalizeReady, "FINALIZE", payload)
		timer.End(ctx, err)
		return err
	}

	var specs []document.DiagramSpec
	if payload.Plan != nil {
		specs = payload.Plan.DiagramSpecs
	}

	requests := make([]document.DiagramRequest, 0, len(blocks))
	codeBlocks := map[string]string{}
	sanitized := map[string]string{}
	issues := []string{}
	for i, block := range blocks {
		id := diagram.AssignID(block.Body, specs, i)
		body := diagram.Sanitize(block.Body)
		if problems := diagram.Validate(body); len(problems) > 0 {
			issues = append(issues, fmt.Sprintf("%s: %s", id, strings.Join(problems, ", ")))
			continue
		}
		slug := diagram.Slug(id)
		format := diagram.NormalizeFormat(diagramFormatFor(id, specs))
		requests = append(requests, document.DiagramRequest{
			DiagramID:  id,
			SourcePath: paths.Diagram(slug),
			Format:     format,
			BlobPath:   paths.Image(slug, format),
			AltText:    diagramAltText(id, specs),
		})
		codeBlocks[id] = block.CodeBlock
		sanitized[id] = body
	}

	if len(issues) > 0 {
		message := "invalid PlantUML: " + strings.Join(issues, "; ")
		p.log.Error("diagram validation failed", "job_id", payload.JobID, "issues", issues)
		e := status.NewEvent(payload.JobID, "DIAGRAM_FAILED")
		e.Message = message
		e.Extra = map[string]interface{}{"user_id": payload.UserID, "details": map[string]interface{}{"issues": issues}}
		p.pub.PublishStatus(ctx, e)
		timer.End(ctx, fmt.Errorf("%s", message))
		return nil // terminal: no successor, no redelivery
	}

	for _, req := range requests {
		if err := p.store.PutText(ctx, req.SourcePath, sanitized[req.DiagramID]); err != nil {
			timer.End(ctx, err)
			return err
		}
	}

	payload.DiagramRequests = requests
	payload.DiagramCodeBlocks = codeBlocks
	err = p.enqueue(ctx, p.cfg.QueueDiagramRender, "DIAGRAM", payload)
	timer.End(ctx, err)
	return err
}

/*
DiagramRender renders each staged request through the PlantUML server. A
request that fails after all attempts contributes a result entry carrying an
error instead of failing the batch, so finalize can skip just that
substitution.
*/
func (p *Pipeline) DiagramRender(ctx context.Context, job *worker.Job) error {
	payload := job.Payload
	p.hydrator.Ensure(ctx, payload)
	paths := p.paths(payload)

	ctx, timer := observability.StartStage(ctx, p.log, p.store, paths, "diagram_render", 0)

	results := make([]document.DiagramResult, 0, len(payload.DiagramRequests))
	failed := 0
	for _, req := range payload.DiagramRequests {
		result := document.DiagramResult{
			DiagramID: req.DiagramID,
			Format:    req.Format,
			AltText:   req.AltText,
			CodeBlock: payload.DiagramCodeBlocks[req.DiagramID],
		}
		source, err := p.store.GetText(ctx, req.SourcePath)
		if err != nil {
			result.Error = fmt.Sprintf("load diagram source: %v", err)
			results = append(results, result)
			failed++
			continue
		}
		img, _, err := p.renderer.RenderWithRetries(ctx, source, req.Format, p.Reformat)
		if err != nil {
			observability.TrackException(ctx, err)
			result.Error = err.Error()
			results = append(results, result)
			failed++
			continue
		}
		if err := p.store.PutBytes(ctx, req.BlobPath, img); err != nil {
			result.Error = fmt.Sprintf("upload rendered diagram: %v", err)
			results = append(results, result)
			failed++
			continue
		}
		result.BlobPath = req.BlobPath
		result.RelativePath = strings.TrimPrefix(req.BlobPath, paths.Root()+"/")
		results = append(results, result)

		if err := job.RenewLock(ctx); err != nil {
			p.log.Warn("lock renewal failed mid-batch", "job_id", payload.JobID, "error", err)
		}
	}

	payload.DiagramResults = results
	timer.Fields["diagrams"] = len(results)
	timer.Fields["failed"] = failed
	notes := ""
	if failed > 0 {
		notes = fmt.Sprintf("stage notes: %d of %d diagrams failed to render", failed, len(results))
	}
	p.publishStageDone(ctx, payload, timer, stageReport{
		stage:  "DIAGRAM",
		label:  "Diagram Render",
		tokens: 0,
		notes:  notes,
	})

	err := p.enqueue(ctx, p.cfg.QueueFinalizeReady, "FINALIZE", payload)
	timer.End(ctx, err)
	return err
}

func diagramAltText(id string, specs []document.DiagramSpec) string {
	for _, spec := range specs {
		if spec.ID == id && spec.Title != "" {
			return spec.Title
		}
	}
	return "Diagram " + id
}

// diagramFormatFor honors an explicit per-spec type only when it names an
// image format; diagram kinds like "sequence" fall back to the default.
func diagramFormatFor(id string, specs []document.DiagramSpec) string {
	for _, spec := range specs {
		if spec.ID == id {
			t := strings.ToLower(strings.TrimSpace(spec.Type))
			if t == "png" || t == "svg" {
				return t
			}
		}
	}
	return "png"
}
