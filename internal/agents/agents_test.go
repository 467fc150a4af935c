package agents

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

// fakeChat replays scripted responses and records every prompt it saw.
type fakeChat struct {
	responses []string
	err       error
	usage     Usage
	calls     [][]Message
	deltas    []string
}

func (f *fakeChat) next() string {
	if len(f.responses) == 0 {
		return ""
	}
	out := f.responses[0]
	f.responses = f.responses[1:]
	return out
}

func (f *fakeChat) Chat(ctx context.Context, model string, msgs []Message) (string, Usage, error) {
	f.calls = append(f.calls, msgs)
	if f.err != nil {
		return "", Usage{}, f.err
	}
	return f.next(), f.usage, nil
}

func (f *fakeChat) ChatJSON(ctx context.Context, model string, msgs []Message, schemaName string, schema map[string]interface{}) (map[string]interface{}, Usage, error) {
	f.calls = append(f.calls, msgs)
	if f.err != nil {
		return nil, Usage{}, f.err
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(f.next()), &obj); err != nil {
		return nil, f.usage, err
	}
	return obj, f.usage, nil
}

func (f *fakeChat) ChatStream(ctx context.Context, model string, msgs []Message, onDelta func(string)) (string, Usage, error) {
	f.calls = append(f.calls, msgs)
	if f.err != nil {
		return "", Usage{}, f.err
	}
	out := f.next()
	for _, d := range f.deltas {
		if onDelta != nil {
			onDelta(d)
		}
	}
	if len(f.deltas) == 0 && onDelta != nil {
		onDelta(out)
	}
	return out, f.usage, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testSettings() config.Settings {
	return config.Settings{
		PlannerModel:  "planner-model",
		ReviewerModel: "reviewer-model",
		WriterModel:   "writer-model",
	}
}

func TestInterviewerFallsBackToDefaults(t *testing.T) {
	chat := &fakeChat{responses: []string{"not json"}}
	agent := NewInterviewer(testLogger(t), chat, testSettings())

	qs, _ := agent.ProposeQuestions(context.Background(), "Integration Patterns")
	if len(qs) != len(DefaultQuestions) {
		t.Fatalf("fallback questions: want=%d got=%d", len(DefaultQuestions), len(qs))
	}
	if qs[0].ID != "audience" {
		t.Fatalf("first default question: got=%q", qs[0].ID)
	}
}

func TestInterviewerParsesAndCaps(t *testing.T) {
	items := make([]map[string]string, 0, 15)
	for i := 0; i < 15; i++ {
		items = append(items, map[string]string{"id": "", "q": "question?", "sample": "sample"})
	}
	raw, _ := json.Marshal(items)
	chat := &fakeChat{responses: []string{string(raw)}}
	agent := NewInterviewer(testLogger(t), chat, testSettings())

	qs, _ := agent.ProposeQuestions(context.Background(), "Title")
	if len(qs) != MaxIntakeQuestions {
		t.Fatalf("question cap: want=%d got=%d", MaxIntakeQuestions, len(qs))
	}
	if qs[0].ID != "q1" {
		t.Fatalf("backfilled id: got=%q", qs[0].ID)
	}
}

func TestNormalizeQuestionsDropsEmpty(t *testing.T) {
	got := NormalizeQuestions([]Question{
		{ID: "a", Q: "keep"},
		{ID: "b", Q: "   "},
		{Q: "also keep"},
	})
	if len(got) != 2 {
		t.Fatalf("normalize: want=2 got=%d", len(got))
	}
	if got[1].ID != "q3" {
		t.Fatalf("id backfill keeps position: got=%q", got[1].ID)
	}
}

func TestPlannerDecodesPlan(t *testing.T) {
	planJSON := `{
		"title": "Doc",
		"audience": "Engineers",
		"length_pages": 80,
		"outline": [{"id": "s1", "title": "Intro"}, {"id": "s2", "title": "Body", "dependencies": ["s1"]}],
		"glossary": {"term": "def"},
		"global_style": {"tone": "formal"},
		"diagram_specs": [{"id": "d1", "section_id": "s2", "type": "sequence"}]
	}`
	chat := &fakeChat{responses: []string{planJSON}, usage: Usage{PromptTokens: 10, CompletionTokens: 20}}
	agent := NewPlanner(testLogger(t), chat, testSettings())

	plan, usage, err := agent.Plan(context.Background(), "Doc", "Engineers", 80)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Outline) != 2 || plan.Outline[1].Dependencies[0] != "s1" {
		t.Fatalf("outline decode: got=%+v", plan.Outline)
	}
	if plan.DiagramSpecs[0].SectionID != "s2" {
		t.Fatalf("diagram spec decode: got=%+v", plan.DiagramSpecs)
	}
	if usage.Total() != 30 {
		t.Fatalf("usage: want=30 got=%d", usage.Total())
	}
}

func TestPlannerRejectsEmptyOutline(t *testing.T) {
	chat := &fakeChat{responses: []string{`{"title":"Doc","outline":[]}`}}
	agent := NewPlanner(testLogger(t), chat, testSettings())
	if _, _, err := agent.Plan(context.Background(), "Doc", "Engineers", 80); err == nil {
		t.Fatalf("empty outline must fail")
	}
}

func TestWriterWrapsSectionMarkers(t *testing.T) {
	chat := &fakeChat{responses: []string{"## Intro\n\nBody text."}}
	agent := NewWriter(testLogger(t), chat, testSettings())

	plan := &document.Plan{Title: "Doc", DiagramSpecs: []document.DiagramSpec{{ID: "d1", SectionID: "s1"}}}
	section := document.Section{ID: "s1", Title: "Intro"}

	var streamed strings.Builder
	out, _, err := agent.WriteSection(context.Background(), plan, section, "", "", func(d string) { streamed.WriteString(d) })
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasPrefix(out, document.StartMarker("s1")) || !strings.HasSuffix(out, document.EndMarker("s1")) {
		t.Fatalf("section markers missing: %q", out)
	}
	if streamed.String() == "" {
		t.Fatalf("non-streaming path must still forward the body to onDelta")
	}
	guide := chat.calls[0][1].Content
	if !strings.Contains(guide, `"d1"`) {
		t.Fatalf("section diagram specs must be in the prompt: %s", guide)
	}
}

func TestWriterAppendsRevisionGuidance(t *testing.T) {
	chat := &fakeChat{responses: []string{"text"}}
	agent := NewWriter(testLogger(t), chat, testSettings())

	plan := &document.Plan{Title: "Doc"}
	section := document.Section{ID: "s1", Title: "Intro"}
	if _, _, err := agent.WriteSection(context.Background(), plan, section, "dep facts", "fix the tone", nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	guide := chat.calls[0][1].Content
	if !strings.Contains(guide, "fix the tone") {
		t.Fatalf("revision guidance missing from prompt: %s", guide)
	}
	if !strings.Contains(guide, "dep facts") {
		t.Fatalf("dependency context missing from prompt: %s", guide)
	}
}

func TestBatchReviewersNameTargetSections(t *testing.T) {
	plan := &document.Plan{Title: "Doc", Audience: "Engineers"}
	sections := []BatchSection{{SectionID: "s1"}, {SectionID: "s2"}}
	cfg := testSettings()
	log := testLogger(t)

	cases := []struct {
		name string
		call func(chat *fakeChat) error
	}{
		{"general", func(chat *fakeChat) error {
			_, _, err := NewReviewer(log, chat, cfg).ReviewBatch(context.Background(), plan, "md", sections)
			return err
		}},
		{"style", func(chat *fakeChat) error {
			_, _, err := NewStyleReviewer(log, chat, cfg).ReviewStyleBatch(context.Background(), plan, "md", sections)
			return err
		}},
		{"cohesion", func(chat *fakeChat) error {
			_, _, err := NewCohesionReviewer(log, chat, cfg).ReviewCohesionBatch(context.Background(), plan, "md", sections)
			return err
		}},
		{"summary", func(chat *fakeChat) error {
			_, _, err := NewSummaryReviewer(log, chat, cfg).ReviewSummaryBatch(context.Background(), plan, "md", sections)
			return err
		}},
	}
	for _, tc := range cases {
		chat := &fakeChat{responses: []string{`{"sections":[]}`}}
		if err := tc.call(chat); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		found := false
		for _, msg := range chat.calls[0] {
			if strings.Contains(msg.Content, "Target sections: s1, s2") {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s: target sections missing from prompt", tc.name)
		}
	}
}

func TestVerifierSendsDependencySummaries(t *testing.T) {
	chat := &fakeChat{responses: []string{`{"contradictions":[]}`}}
	agent := NewVerifier(testLogger(t), chat, testSettings())

	out, _, err := agent.Verify(context.Background(), map[string]string{"s1": "- fact"}, "# Doc")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out != `{"contradictions":[]}` {
		t.Fatalf("verifier passthrough: got=%q", out)
	}
	if !strings.Contains(chat.calls[0][1].Content, `"s1":"- fact"`) {
		t.Fatalf("dependency summaries missing: %s", chat.calls[0][1].Content)
	}
}

func TestUsageAccounting(t *testing.T) {
	u := Usage{PromptTokens: 5, CompletionTokens: 7}
	if u.Total() != 12 {
		t.Fatalf("fallback total: want=12 got=%d", u.Total())
	}
	u2 := Usage{TotalTokens: 40}
	sum := u.Add(u2)
	if sum.Total() != 52 {
		t.Fatalf("add: want=52 got=%d", sum.Total())
	}
}
