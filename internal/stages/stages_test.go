package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/yungbote/docwriter-backend/internal/agents"
	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/cycles"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/export"
	"github.com/yungbote/docwriter-backend/internal/messaging"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
	"github.com/yungbote/docwriter-backend/internal/queue"
	"github.com/yungbote/docwriter-backend/internal/status"
	"github.com/yungbote/docwriter-backend/internal/storage"
	"github.com/yungbote/docwriter-backend/internal/worker"
)

// scriptedAgents implements every collaborator with overridable behavior.
type scriptedAgents struct {
	mu sync.Mutex

	plan    document.Plan
	planErr error

	sectionBody  func(section document.Section, extraGuidance string) string
	batchResult  func(agent string, sections []agents.BatchSection) string
	verifyResult func(call int) string

	verifyCalls int
	writeOrder  []string
}

func cleanBatchJSON(sections []agents.BatchSection) string {
	entries := make([]map[string]interface{}, 0, len(sections))
	for _, s := range sections {
		entries = append(entries, map[string]interface{}{
			"section_id":  s.SectionID,
			"issues":      []string{},
			"suggestions": []string{},
		})
	}
	raw, _ := json.Marshal(map[string]interface{}{"sections": entries})
	return string(raw)
}

func (a *scriptedAgents) ProposeQuestions(ctx context.Context, title string) ([]agents.Question, agents.Usage) {
	return []agents.Question{
		{ID: "q1", Q: "Who is the audience?", Sample: "Platform engineers"},
		{ID: "q2", Q: "Preferred tone?", Sample: "Formal"},
	}, agents.Usage{TotalTokens: 40}
}

func (a *scriptedAgents) Plan(ctx context.Context, title, audience string, lengthPages int) (document.Plan, agents.Usage, error) {
	if a.planErr != nil {
		return document.Plan{}, agents.Usage{}, a.planErr
	}
	plan := a.plan
	if plan.Title == "" {
		plan.Title = title
	}
	if plan.Audience == "" {
		plan.Audience = audience
	}
	if plan.LengthPages == 0 {
		plan.LengthPages = lengthPages
	}
	return plan, agents.Usage{TotalTokens: 100}, nil
}

func (a *scriptedAgents) WriteSection(ctx context.Context, plan *document.Plan, section document.Section, depContext, extraGuidance string, onDelta func(string)) (string, agents.Usage, error) {
	a.mu.Lock()
	a.writeOrder = append(a.writeOrder, section.ID)
	a.mu.Unlock()
	body := "# Section " + section.ID + "\n\nBody for " + section.ID
	if a.sectionBody != nil {
		body = a.sectionBody(section, extraGuidance)
	}
	if onDelta != nil {
		onDelta(body)
	}
	return document.WrapSection(section.ID, body), agents.Usage{TotalTokens: 25}, nil
}

func (a *scriptedAgents) batch(agent string, sections []agents.BatchSection) (string, agents.Usage, error) {
	if a.batchResult != nil {
		return a.batchResult(agent, sections), agents.Usage{TotalTokens: 15}, nil
	}
	return cleanBatchJSON(sections), agents.Usage{TotalTokens: 15}, nil
}

func (a *scriptedAgents) Review(ctx context.Context, plan *document.Plan, draft string) (string, agents.Usage, error) {
	return `{"revised_markdown":""}`, agents.Usage{TotalTokens: 15}, nil
}

func (a *scriptedAgents) ReviewBatch(ctx context.Context, plan *document.Plan, markdown string, sections []agents.BatchSection) (string, agents.Usage, error) {
	return a.batch("general", sections)
}

func (a *scriptedAgents) ReviewStyleBatch(ctx context.Context, plan *document.Plan, markdown string, sections []agents.BatchSection) (string, agents.Usage, error) {
	return a.batch("style", sections)
}

func (a *scriptedAgents) ReviewCohesionBatch(ctx context.Context, plan *document.Plan, markdown string, sections []agents.BatchSection) (string, agents.Usage, error) {
	return a.batch("cohesion", sections)
}

func (a *scriptedAgents) ReviewSummaryBatch(ctx context.Context, plan *document.Plan, markdown string, sections []agents.BatchSection) (string, agents.Usage, error) {
	return a.batch("summary", sections)
}

func (a *scriptedAgents) Verify(ctx context.Context, depSummaries map[string]string, finalMarkdown string) (string, agents.Usage, error) {
	a.mu.Lock()
	a.verifyCalls++
	call := a.verifyCalls
	a.mu.Unlock()
	if a.verifyResult != nil {
		return a.verifyResult(call), agents.Usage{TotalTokens: 20}, nil
	}
	return `{"contradictions":[]}`, agents.Usage{TotalTokens: 20}, nil
}

func (a *scriptedAgents) SummarizeSection(ctx context.Context, markdown string) (string, agents.Usage, error) {
	return "- key fact", agents.Usage{TotalTokens: 5}, nil
}

type env struct {
	t      *testing.T
	cfg    config.Settings
	store  *storage.MemoryStore
	broker *queue.MemoryBroker
	topic  *queue.MemoryTopic
	table  *status.MemoryTable
	pub    *messaging.Publisher
	fake   *scriptedAgents
	pipe   *Pipeline
}

func testConfig() config.Settings {
	return config.Settings{
		PlannerModel:       "test-planner",
		ReviewerModel:      "test-reviewer",
		WriterModel:        "test-writer",
		DefaultLengthPages: 80,

		QueuePlanIntake:     "plan_intake",
		QueueIntakeResume:   "intake_resume",
		QueuePlan:           "plan",
		QueueWrite:          "write",
		QueueReviewGeneral:  "review_general",
		QueueReviewStyle:    "review_style",
		QueueReviewCohesion: "review_cohesion",
		QueueReviewSummary:  "review_summary",
		QueueVerify:         "verify",
		QueueRewrite:        "rewrite",
		QueueDiagramPrep:    "diagram_prep",
		QueueDiagramRender:  "diagram_render",
		QueueFinalizeReady:  "finalize_ready",

		WriteBatchSize:          5,
		ReviewBatchSize:         3,
		ReviewStyleBatchSize:    5,
		ReviewCohesionBatchSize: 5,
		ReviewSummaryBatchSize:  5,
		ReviewMaxPromptTokens:   15000,
		ReviewStyleEnabled:      true,
		ReviewCohesionEnabled:   true,
		ReviewSummaryEnabled:    true,
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cfg := testConfig()
	store := storage.NewMemoryStore()
	broker := queue.NewMemoryBroker()
	topic := queue.NewMemoryTopic()
	table := status.NewMemoryTable()
	pub := messaging.NewPublisher(log, broker, topic, table, table)
	fake := &scriptedAgents{}
	set := agents.Set{
		Interviewer: fake,
		Planner:     fake,
		Writer:      fake,
		Reviewer:    fake,
		Style:       fake,
		Cohesion:    fake,
		Summary:     fake,
		Verifier:    fake,
		Summarizer:  fake,
	}
	pipe := NewPipeline(log, cfg, store, pub, set, cycles.Hydrator{Table: table}, nil, export.New(log, "", ""))
	return &env{
		t: t, cfg: cfg, store: store, broker: broker, topic: topic,
		table: table, pub: pub, fake: fake, pipe: pipe,
	}
}

// pipelineQueues in dispatch order for deterministic draining.
func (e *env) handlers() []struct {
	queue   string
	handler worker.Handler
} {
	return []struct {
		queue   string
		handler worker.Handler
	}{
		{"plan_intake", e.pipe.PlanIntake},
		{"intake_resume", e.pipe.IntakeResume},
		{"plan", e.pipe.Plan},
		{"write", e.pipe.Write},
		{"review_general", e.pipe.ReviewGeneral},
		{"review_style", e.pipe.ReviewStyle},
		{"review_cohesion", e.pipe.ReviewCohesion},
		{"review_summary", e.pipe.ReviewSummary},
		{"verify", e.pipe.Verify},
		{"rewrite", e.pipe.Rewrite},
		{"diagram_prep", e.pipe.DiagramPrep},
		{"diagram_render", e.pipe.DiagramRender},
		{"finalize_ready", e.pipe.Finalize},
	}
}

// drain pumps every queue until the pipeline quiesces, failing the test on
// any handler error.
func (e *env) drain() {
	e.t.Helper()
	ctx := context.Background()
	for hop := 0; hop < 500; hop++ {
		progressed := false
		for _, binding := range e.handlers() {
			msgs, err := e.broker.Receive(ctx, binding.queue, 10, 0)
			if err != nil {
				e.t.Fatalf("receive %s: %v", binding.queue, err)
			}
			for _, m := range msgs {
				payload, err := document.DecodePayload(m.Body)
				if err != nil {
					e.t.Fatalf("decode on %s: %v", binding.queue, err)
				}
				if err := binding.handler(ctx, worker.NewJob(payload)); err != nil {
					e.t.Fatalf("handler %s: %v", binding.queue, err)
				}
				if err := e.broker.Complete(ctx, binding.queue, m); err != nil {
					e.t.Fatalf("complete %s: %v", binding.queue, err)
				}
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
	e.t.Fatalf("pipeline did not quiesce")
}

// events decodes everything published on the status topic.
func (e *env) events() []map[string]interface{} {
	e.t.Helper()
	out := []map[string]interface{}{}
	for _, raw := range e.topic.Published() {
		var decoded map[string]interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			e.t.Fatalf("status event decode: %v", err)
		}
		out = append(out, decoded)
	}
	return out
}

func (e *env) stageSequence() []string {
	stages := []string{}
	for _, ev := range e.events() {
		if s, ok := ev["stage"].(string); ok {
			stages = append(stages, s)
		}
	}
	return stages
}

func (e *env) eventsForStage(stage string) []map[string]interface{} {
	out := []map[string]interface{}{}
	for _, ev := range e.events() {
		if ev["stage"] == stage {
			out = append(out, ev)
		}
	}
	return out
}

// assertSubsequence checks that want appears in order within got.
func assertSubsequence(t *testing.T, got, want []string) {
	t.Helper()
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Fatalf("stage sequence: want subsequence %v within %v (matched %d)", want, got, i)
	}
}

func countStage(stages []string, stage string) int {
	n := 0
	for _, s := range stages {
		if s == stage {
			n++
		}
	}
	return n
}

func threeSectionPlan() document.Plan {
	return document.Plan{
		Title:       "Operations Handbook",
		Audience:    "Platform engineers",
		LengthPages: 80,
		Outline: []document.Section{
			{ID: "s1", Title: "Overview"},
			{ID: "s2", Title: "Architecture", Dependencies: []string{"s1"}},
			{ID: "s3", Title: "Operations", Dependencies: []string{"s2"}},
		},
	}
}

func widePlan(n int) document.Plan {
	outline := make([]document.Section, 0, n)
	for i := 1; i <= n; i++ {
		outline = append(outline, document.Section{ID: fmt.Sprintf("s%d", i), Title: fmt.Sprintf("Chapter %d", i)})
	}
	return document.Plan{Title: "Wide Doc", Audience: "Readers", LengthPages: 80, Outline: outline}
}

// seedDraft composes a marked draft for the plan and stores it at the
// payload's out path.
func (e *env) seedDraft(payload *document.Payload) string {
	e.t.Helper()
	plan := payload.Plan
	body := ""
	for _, s := range plan.Outline {
		section := document.WrapSection(s.ID, "# Section "+s.ID+"\n\nBody for "+s.ID)
		if body == "" {
			body = section
		} else {
			body = body + "\n\n" + section
		}
	}
	draft := document.BuildTitlePage(plan, payload) + body
	if err := e.store.PutText(context.Background(), payload.Out, draft); err != nil {
		e.t.Fatalf("seed draft: %v", err)
	}
	return draft
}

func intPtr(v int) *int { return &v }

// midPipelinePayload builds a payload as it would look entering review.
func (e *env) midPipelinePayload(plan document.Plan, requested int) *document.Payload {
	payload := &document.Payload{
		JobID:  "job-1",
		UserID: "user-1",
		Title:  plan.Title,
		Plan:   &plan,
	}
	payload.Out = e.pipe.paths(payload).Draft()
	cycles.State{Requested: requested, Completed: 0}.Apply(payload)
	payload.DependencySummaries = map[string]string{}
	for _, s := range plan.Outline {
		payload.DependencySummaries[s.ID] = "- key fact about " + s.ID
	}
	written := []string{}
	for _, s := range plan.Outline {
		written = append(written, s.ID)
	}
	payload.WrittenSections = written
	return payload
}

func (e *env) send(queueName string, payload *document.Payload) {
	e.t.Helper()
	if err := e.pub.SendQueue(context.Background(), queueName, payload); err != nil {
		e.t.Fatalf("send %s: %v", queueName, err)
	}
}
