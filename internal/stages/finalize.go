package stages

import (
	"context"

	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/worker"
)

/*
Finalize assembles the deliverable: diagram substitutions, numbered headings,
a table of contents, then final.md plus optional PDF/DOCX exports. Export
failures degrade the deliverable but never the job; FINALIZE_DONE is always
published once the markdown exists.
*/
func (p *Pipeline) Finalize(ctx context.Context, job *worker.Job) error {
	payload := job.Payload
	p.hydrator.Ensure(ctx, payload)
	paths := p.paths(payload)

	ctx, timer := observability.StartStage(ctx, p.log, p.store, paths, "finalize", 0)

	text, err := p.store.GetText(ctx, payload.Out)
	if err != nil {
		timer.End(ctx, err)
		return err
	}
	text = document.ApplyDiagramResults(text, payload.DiagramResults, paths.Root())
	text = document.NumberMarkdownHeadings(text)
	text = document.InsertTableOfContents(text)

	if err := p.store.PutText(ctx, paths.Final("md"), text); err != nil {
		timer.End(ctx, err)
		return err
	}

	if p.exporter != nil {
		if pdf, err := p.exporter.ExportPDF(ctx, text); err != nil {
			observability.TrackException(ctx, err)
			p.log.Warn("pdf export failed", "job_id", payload.JobID, "error", err)
		} else if len(pdf) > 0 {
			if err := p.store.PutBytes(ctx, paths.Final("pdf"), pdf); err != nil {
				p.log.Warn("pdf upload failed", "job_id", payload.JobID, "error", err)
			}
		}
		if docx, err := p.exporter.ExportDocx(ctx, text); err != nil {
			observability.TrackException(ctx, err)
			p.log.Warn("docx export failed", "job_id", payload.JobID, "error", err)
		} else if len(docx) > 0 {
			if err := p.store.PutBytes(ctx, paths.Final("docx"), docx); err != nil {
				p.log.Warn("docx upload failed", "job_id", payload.JobID, "error", err)
			}
		}
	}

	p.publishStageDone(ctx, payload, timer, stageReport{
		stage:    "FINALIZE",
		label:    "Finalize",
		artifact: paths.Final("md"),
		tokens:   0,
	})
	timer.End(ctx, nil)
	return nil
}
