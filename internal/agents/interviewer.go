package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

// MaxIntakeQuestions caps the questionnaire regardless of what the model
// proposes.
const MaxIntakeQuestions = 12

// DefaultQuestions is the fallback questionnaire used when the model call
// fails or returns nothing usable. Samples double as default answers.
var DefaultQuestions = []Question{
	{ID: "audience", Q: "Who is the primary audience? (roles, seniority, background)", Sample: "Enterprise integration architects and senior platform engineers overseeing cloud integration projects."},
	{ID: "goals", Q: "What are the main goals of this document?", Sample: "Provide integration design patterns, implementation guidance, and governance practices for asynchronous and synchronous workloads."},
	{ID: "non_goals", Q: "What is explicitly out of scope?", Sample: "Detailed language-specific coding tutorials or walkthroughs for on-prem middleware migrations."},
	{ID: "constraints", Q: "Any constraints (tech stack, compliance, budget, timeline)?", Sample: "Must align with the cloud provider's well-architected guidance, support global scale, and meet strict latency/SLA requirements."},
	{ID: "tone", Q: "Preferred tone (formal, pragmatic, tutorial, RFC-like)?", Sample: "Authoritative, pragmatic, and executive-ready."},
	{ID: "pov", Q: "Point of view (1st person plural, neutral, instructive)?", Sample: "Neutral advisory viewpoint with platform-owner recommendations."},
	{ID: "structure", Q: "Any structure preferences (chapters, case studies, appendices)?", Sample: "Executive summary, pattern overview, async patterns, sync patterns, hybrid orchestration, observability, case studies, appendices."},
	{ID: "must_cover", Q: "Mandatory topics/keywords to cover?", Sample: "Message brokers, event routing, API gateways, retry policies, idempotency, back-pressure handling, monitoring."},
	{ID: "must_avoid", Q: "Topics to avoid?", Sample: "Vendor-specific marketing claims or legacy-only middleware deep dives beyond coexistence notes."},
	{ID: "references", Q: "Links or references the doc should align with?", Sample: "Official integration services documentation and published architecture-center integration patterns."},
	{ID: "diagrams", Q: "Which diagrams are needed (types, key entities/flows)?", Sample: "High-level architecture showing async vs sync integrations plus a sequence diagram illustrating request-to-event choreography."},
	{ID: "context", Q: "Company/product context that must be reflected?", Sample: "Global retail enterprise modernizing POS integrations while integrating with ERP, CRM, and analytics systems."},
}

type interviewer struct {
	log   *logger.Logger
	chat  ChatClient
	model string
}

func NewInterviewer(log *logger.Logger, chat ChatClient, cfg config.Settings) Interviewer {
	return &interviewer{
		log:   log.With("service", "InterviewerAgent"),
		chat:  chat,
		model: cfg.PlannerModel,
	}
}

func (a *interviewer) ProposeQuestions(ctx context.Context, title string) ([]Question, Usage) {
	sys := "You are a documentation scoping expert. Given a working title, propose a concise" +
		" questionnaire to collect everything needed to produce a long, high-quality, consistent" +
		" technical document."
	examples, _ := json.Marshal(DefaultQuestions)
	guide := "Return ONLY JSON list of objects {id, q, sample}. Ensure sample is a concise default answer." +
		" Include questions for audience, goals, constraints, tone, pov, structure, must_cover, must_avoid, references, diagrams, context," +
		" and any other key details needed to plan a 60+ page technical document." +
		fmt.Sprintf(" You MUST return maximum %d questions. Prioritize the most critical ones. You MUST be concise and to the point.", MaxIntakeQuestions) +
		fmt.Sprintf(" Below you can find some example questions to help you: %s", examples)

	out, usage, err := a.chat.Chat(ctx, a.model, []Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: "Title of the document: " + title},
		{Role: "user", Content: guide},
	})
	if err != nil {
		a.log.Warn("question proposal failed; using defaults", "title", title, "error", err)
		return NormalizeQuestions(DefaultQuestions), usage
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &raw); err != nil || len(raw) == 0 {
		a.log.Warn("question proposal unparseable; using defaults", "title", title)
		return NormalizeQuestions(DefaultQuestions), usage
	}
	qs := make([]Question, 0, len(raw))
	for i, item := range raw {
		q := Question{}
		if v, ok := item["id"].(string); ok {
			q.ID = v
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("q%d", i+1)
		}
		for _, key := range []string{"q", "question"} {
			if v, ok := item[key].(string); ok && v != "" {
				q.Q = v
				break
			}
		}
		for _, key := range []string{"sample", "sample_answer", "example"} {
			if v, ok := item[key].(string); ok && v != "" {
				q.Sample = v
				break
			}
		}
		qs = append(qs, q)
	}
	normalized := NormalizeQuestions(qs)
	if len(normalized) == 0 {
		return NormalizeQuestions(DefaultQuestions), usage
	}
	return normalized, usage
}

// NormalizeQuestions drops empty entries, backfills ids, and enforces the
// question cap.
func NormalizeQuestions(raw []Question) []Question {
	out := make([]Question, 0, len(raw))
	for i, q := range raw {
		if strings.TrimSpace(q.Q) == "" {
			continue
		}
		if strings.TrimSpace(q.ID) == "" {
			q.ID = fmt.Sprintf("q%d", i+1)
		}
		out = append(out, q)
		if len(out) == MaxIntakeQuestions {
			break
		}
	}
	return out
}
