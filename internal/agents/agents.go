package agents

import (
	"context"

	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

// Question is one intake questionnaire item shown to the requester.
type Question struct {
	ID     string `json:"id"`
	Q      string `json:"q"`
	Sample string `json:"sample"`
}

// BatchSection identifies one outline section inside a review batch.
type BatchSection struct {
	SectionID string `json:"section_id"`
	Title     string `json:"title,omitempty"`
}

// Interviewer proposes the intake questionnaire for a working title.
// It never fails: on any model error it falls back to the default set.
type Interviewer interface {
	ProposeQuestions(ctx context.Context, title string) ([]Question, Usage)
}

// Planner produces the document plan that drives every later stage.
type Planner interface {
	Plan(ctx context.Context, title, audience string, lengthPages int) (document.Plan, Usage, error)
}

/*
Writer drafts one section of markdown. The returned text is the full section
wrapped in SECTION markers; onDelta (optional) receives raw fragments as they
arrive when the client streams.
*/
type Writer interface {
	WriteSection(ctx context.Context, plan *document.Plan, section document.Section, depContext, extraGuidance string, onDelta func(delta string)) (string, Usage, error)
}

// Reviewer checks the whole draft (or a batch of sections) for
// contradictions and inconsistencies, returning JSON text.
type Reviewer interface {
	Review(ctx context.Context, plan *document.Plan, draft string) (string, Usage, error)
	ReviewBatch(ctx context.Context, plan *document.Plan, markdown string, sections []BatchSection) (string, Usage, error)
}

// StyleReviewer assesses clarity, tone, and readability per section.
type StyleReviewer interface {
	ReviewStyleBatch(ctx context.Context, plan *document.Plan, markdown string, sections []BatchSection) (string, Usage, error)
}

// CohesionReviewer assesses flow, transitions, and cross-references.
type CohesionReviewer interface {
	ReviewCohesionBatch(ctx context.Context, plan *document.Plan, markdown string, sections []BatchSection) (string, Usage, error)
}

// SummaryReviewer produces per-section executive summaries with issues.
type SummaryReviewer interface {
	ReviewSummaryBatch(ctx context.Context, plan *document.Plan, markdown string, sections []BatchSection) (string, Usage, error)
}

// Verifier compares dependency summaries against the final text and reports
// contradictions as JSON.
type Verifier interface {
	Verify(ctx context.Context, depSummaries map[string]string, finalMarkdown string) (string, Usage, error)
}

// Summarizer extracts 5-10 bullet key facts from a section.
type Summarizer interface {
	SummarizeSection(ctx context.Context, markdown string) (string, Usage, error)
}

// Set groups every collaborator the pipeline consumes, for one-shot wiring.
type Set struct {
	Interviewer Interviewer
	Planner     Planner
	Writer      Writer
	Reviewer    Reviewer
	Style       StyleReviewer
	Cohesion    CohesionReviewer
	Summary     SummaryReviewer
	Verifier    Verifier
	Summarizer  Summarizer
}

// NewSet wires the production agents over one shared chat client.
func NewSet(log *logger.Logger, chat ChatClient, cfg config.Settings) Set {
	return Set{
		Interviewer: NewInterviewer(log, chat, cfg),
		Planner:     NewPlanner(log, chat, cfg),
		Writer:      NewWriter(log, chat, cfg),
		Reviewer:    NewReviewer(log, chat, cfg),
		Style:       NewStyleReviewer(log, chat, cfg),
		Cohesion:    NewCohesionReviewer(log, chat, cfg),
		Summary:     NewSummaryReviewer(log, chat, cfg),
		Verifier:    NewVerifier(log, chat, cfg),
		Summarizer:  NewSummarizer(log, chat, cfg),
	}
}
