package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

func sectionIDList(sections []BatchSection) string {
	ids := make([]string, 0, len(sections))
	for _, s := range sections {
		ids = append(ids, s.SectionID)
	}
	return strings.Join(ids, ", ")
}

func planSummaryJSON(plan *document.Plan) string {
	summary := map[string]interface{}{
		"title":        plan.Title,
		"audience":     plan.Audience,
		"glossary":     plan.Glossary,
		"global_style": plan.GlobalStyle,
	}
	raw, _ := json.Marshal(summary)
	return string(raw)
}

// ---- general reviewer ----

type reviewer struct {
	log   *logger.Logger
	chat  ChatClient
	model string
}

func NewReviewer(log *logger.Logger, chat ChatClient, cfg config.Settings) Reviewer {
	return &reviewer{
		log:   log.With("service", "ReviewerAgent"),
		chat:  chat,
		model: cfg.ReviewerModel,
	}
}

func (a *reviewer) Review(ctx context.Context, plan *document.Plan, draft string) (string, Usage, error) {
	sys := "You are a critical reviewer. Check for contradictions, inconsistencies, missing definitions," +
		" and propose a revised draft."
	guide := "Return JSON with keys: findings, suggested_changes, revised_markdown." +
		" Keep revised_markdown as a coherent full document." +
		" IMPORTANT: Preserve any section markers of the form '<!-- SECTION:ID:START -->' and '<!-- SECTION:ID:END -->'" +
		" exactly as they are; do not remove, rename, or alter them."
	return a.chat.Chat(ctx, a.model, []Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: "Plan: " + planSummaryJSON(plan)},
		{Role: "user", Content: "Draft Markdown begins:\n" + draft},
		{Role: "user", Content: guide},
	})
}

func (a *reviewer) ReviewBatch(ctx context.Context, plan *document.Plan, markdown string, sections []BatchSection) (string, Usage, error) {
	sys := "You are a critical reviewer. Check the target sections for contradictions, inconsistencies," +
		" and missing definitions; propose revised section text where needed."
	guide := "Return JSON with key 'sections' (array). Each item: {section_id, issues: [], suggestions: [], revised_markdown: string (optional)}." +
		" revised_markdown, when present, must be the full revised section including its" +
		" '<!-- SECTION:ID:START -->' / '<!-- SECTION:ID:END -->' markers, unaltered."
	return a.chat.Chat(ctx, a.model, []Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: "Plan: " + planSummaryJSON(plan)},
		{Role: "user", Content: "Target sections: " + sectionIDList(sections)},
		{Role: "user", Content: markdown},
		{Role: "user", Content: guide},
	})
}

// ---- style reviewer ----

type styleReviewer struct {
	log   *logger.Logger
	chat  ChatClient
	model string
}

func NewStyleReviewer(log *logger.Logger, chat ChatClient, cfg config.Settings) StyleReviewer {
	return &styleReviewer{
		log:   log.With("service", "StyleReviewerAgent"),
		chat:  chat,
		model: cfg.ReviewerModel,
	}
}

func (a *styleReviewer) ReviewStyleBatch(ctx context.Context, plan *document.Plan, markdown string, sections []BatchSection) (string, Usage, error) {
	sys := "You are a style editor. Assess clarity, tone, readability, and consistency for each target section."
	guide := "Return JSON with key 'sections' (array). Each item: {section_id, issues: [], suggestions: []}."
	styleJSON, _ := json.Marshal(plan.GlobalStyle)
	return a.chat.Chat(ctx, a.model, []Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: fmt.Sprintf("Plan style: %s", styleJSON)},
		{Role: "user", Content: "Target sections: " + sectionIDList(sections)},
		{Role: "user", Content: markdown},
		{Role: "user", Content: guide},
	})
}

// ---- cohesion reviewer ----

type cohesionReviewer struct {
	log   *logger.Logger
	chat  ChatClient
	model string
}

func NewCohesionReviewer(log *logger.Logger, chat ChatClient, cfg config.Settings) CohesionReviewer {
	return &cohesionReviewer{
		log:   log.With("service", "CohesionReviewerAgent"),
		chat:  chat,
		model: cfg.ReviewerModel,
	}
}

func (a *cohesionReviewer) ReviewCohesionBatch(ctx context.Context, plan *document.Plan, markdown string, sections []BatchSection) (string, Usage, error) {
	sys := "You are a cohesion editor. Assess flow, transitions, cross-references, and section alignment for each target section."
	guide := "Return JSON with key 'sections' (array). Each item: {section_id, issues: [], suggestions: []}."
	outlineJSON, _ := json.Marshal(plan.Outline)
	return a.chat.Chat(ctx, a.model, []Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: fmt.Sprintf("Outline: %s", outlineJSON)},
		{Role: "user", Content: "Target sections: " + sectionIDList(sections)},
		{Role: "user", Content: markdown},
		{Role: "user", Content: guide},
	})
}

// ---- summary reviewer ----

type summaryReviewer struct {
	log   *logger.Logger
	chat  ChatClient
	model string
}

func NewSummaryReviewer(log *logger.Logger, chat ChatClient, cfg config.Settings) SummaryReviewer {
	return &summaryReviewer{
		log:   log.With("service", "SummaryReviewerAgent"),
		chat:  chat,
		model: cfg.ReviewerModel,
	}
}

func (a *summaryReviewer) ReviewSummaryBatch(ctx context.Context, plan *document.Plan, markdown string, sections []BatchSection) (string, Usage, error) {
	sys := "You are an executive editor. Produce or assess an executive summary for each section and capture per-section issues."
	guide := "Return JSON with key 'sections' (array). Each item: {section_id, summary: string, issues: [], suggestions: []}."
	return a.chat.Chat(ctx, a.model, []Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: fmt.Sprintf("Title: %s Audience: %s", plan.Title, plan.Audience)},
		{Role: "user", Content: "Target sections: " + sectionIDList(sections)},
		{Role: "user", Content: markdown},
		{Role: "user", Content: guide},
	})
}
