package stages

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/cycles"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/status"
	"github.com/yungbote/docwriter-backend/internal/tokens"
	"github.com/yungbote/docwriter-backend/internal/worker"
)

// contradiction is one verifier finding. section_id may be empty for
// document-level contradictions.
type contradiction struct {
	SectionID string `json:"section_id"`
	Detail    string `json:"detail"`
}

/*
Verify closes a review cycle: it folds the general reviewer's revision into
the draft, scans for placeholder stubs, runs the verifier over the dependency
summaries, and decides whether a rewrite is needed. The payload always moves
to rewrite, which owns the cycle-counter advance.
*/
func (p *Pipeline) Verify(ctx context.Context, job *worker.Job) error {
	payload := job.Payload
	state := p.hydrator.Ensure(ctx, payload)
	cycleIdx := state.CycleIndex()
	paths := p.paths(payload)

	ctx, timer := observability.StartStage(ctx, p.log, p.store, paths, "verify", cycleIdx)

	draft, err := p.store.GetText(ctx, payload.Out)
	if err != nil {
		timer.End(ctx, err)
		return err
	}

	if revised := topLevelRevision(payload.ReviewJSON); revised != "" {
		merged := document.MergeRevisedMarkdown(draft, revised)
		if merged != draft {
			draft = merged
			if err := p.store.PutText(ctx, payload.Out, merged); err != nil {
				timer.End(ctx, err)
				return err
			}
			if key, err := paths.Cycle(cycleIdx, "revision.md"); err == nil {
				p.putTextBestEffort(ctx, payload.JobID, "VERIFY", key, merged)
			}
		}
	}

	placeholders := document.FindPlaceholderSections(draft)

	verificationJSON, usage, err := p.agents.Verifier.Verify(ctx, payload.DependencySummaries, draft)
	if err != nil {
		timer.End(ctx, err)
		return err
	}
	payload.VerificationJSON = verificationJSON

	artifactKey, err := paths.Cycle(cycleIdx, "contradictions.json")
	if err != nil {
		timer.End(ctx, err)
		return err
	}
	p.putTextBestEffort(ctx, payload.JobID, "VERIFY", artifactKey, verificationJSON)

	contradictions := parseContradictions(verificationJSON)
	styleGuidance, _ := document.ParseReviewGuidance(payload.StyleJSON)
	cohesionGuidance, _ := document.ParseReviewGuidance(payload.CohesionJSON)

	needsRewrite := len(contradictions) > 0 ||
		styleGuidance != "" ||
		cohesionGuidance != "" ||
		len(placeholders) > 0
	payload.PlaceholderSections = placeholders
	payload.RequiresRewrite = needsRewrite

	tokenCount := usage.Total()
	if tokenCount == 0 {
		tokenCount = tokens.Estimate(verificationJSON)
	}

	notes := []string{}
	if len(contradictions) > 0 {
		notes = append(notes, "stage notes: contradictions detected")
	}
	if styleGuidance != "" {
		notes = append(notes, "stage notes: style revisions pending")
	}
	if cohesionGuidance != "" {
		notes = append(notes, "stage notes: cohesion guidance pending")
	}
	if len(placeholders) > 0 {
		notes = append(notes, "stage notes: placeholders present")
	}
	noteText := strings.Join(notes, "; ")

	timer.Fields["tokens"] = tokenCount
	details := map[string]interface{}{
		"duration_s": timer.Duration().Seconds(),
		"tokens":     tokenCount,
		"model":      p.cfg.ReviewerModel,
		"artifact":   artifactKey,
	}
	if noteText != "" {
		details["notes"] = noteText
	}
	details = cycles.EnrichDetails(details, payload, cycleIdx)

	e := status.NewEvent(payload.JobID, "VERIFY_DONE")
	e.Message = BuildStageMessage("Verify", artifactKey, timer.Duration(), tokenCount, p.cfg.ReviewerModel, noteText)
	e.Artifact = artifactKey
	e.Cycle = status.IntPtr(cycleIdx)
	e.HasContradictions = status.BoolPtr(len(contradictions) > 0)
	e.StyleIssues = status.BoolPtr(styleGuidance != "")
	e.CohesionIssues = status.BoolPtr(cohesionGuidance != "")
	e.PlaceholderSections = status.BoolPtr(len(placeholders) > 0)
	e.Extra = map[string]interface{}{"details": details, "user_id": payload.UserID}
	p.pub.PublishStatus(ctx, e)

	err = p.enqueue(ctx, p.cfg.QueueRewrite, "REWRITE", payload)
	timer.End(ctx, err)
	return err
}

// topLevelRevision pulls revised_markdown out of the general review JSON.
func topLevelRevision(reviewJSON string) string {
	if strings.TrimSpace(reviewJSON) == "" {
		return ""
	}
	var parsed struct {
		RevisedMarkdown string `json:"revised_markdown"`
	}
	if err := json.Unmarshal([]byte(reviewJSON), &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.RevisedMarkdown)
}

func parseContradictions(verificationJSON string) []contradiction {
	var parsed struct {
		Contradictions []contradiction `json:"contradictions"`
	}
	if err := json.Unmarshal([]byte(verificationJSON), &parsed); err != nil {
		return nil
	}
	return parsed.Contradictions
}
