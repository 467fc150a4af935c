package stages

import (
	"strings"
	"testing"
	"time"

	"github.com/yungbote/docwriter-backend/internal/document"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5 sec"},
		{0, "0 sec"},
		{60 * time.Second, "1 min"},
		{125 * time.Second, "2 min 5 sec"},
		{3661 * time.Second, "61 min 1 sec"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.d); got != tc.want {
			t.Fatalf("FormatDuration(%v): want=%q got=%q", tc.d, tc.want, got)
		}
	}
}

func TestFormatTokens(t *testing.T) {
	cases := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-1, "n/a"},
	}
	for _, tc := range cases {
		if got := formatTokens(tc.in); got != tc.want {
			t.Fatalf("formatTokens(%d): want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

func TestBuildStageMessage(t *testing.T) {
	got := BuildStageMessage("Plan", "jobs/u/j/plan.json", 62*time.Second, 1234, "gpt-5.2", "")
	want := "stage completed: Plan | stage document: jobs/u/j/plan.json | stage time: 1 min 2 sec | stage tokens: 1,234 | stage model: gpt-5.2"
	if got != want {
		t.Fatalf("message:\nwant=%q\ngot =%q", want, got)
	}

	got = BuildStageMessage("Verify", "", 3*time.Second, 0, "", "stage notes: placeholders present")
	want = "stage completed: Verify | stage document: n/a | stage time: 3 sec | stage tokens: 0 | stage model: n/a | stage notes: placeholders present"
	if got != want {
		t.Fatalf("message with notes:\nwant=%q\ngot =%q", want, got)
	}
}

func TestPackReviewBatchRespectsBatchSize(t *testing.T) {
	e := newEnv(t)
	plan := widePlan(5)
	segments := map[string]string{}
	remaining := []string{}
	for _, s := range plan.Outline {
		segments[s.ID] = "markdown for " + s.ID
		remaining = append(remaining, s.ID)
	}

	batch, prompt := e.pipe.packReviewBatch(&plan, segments, nil, remaining, 3)
	if len(batch) != 3 {
		t.Fatalf("batch size: want=3 got=%d (%v)", len(batch), batch)
	}
	for _, sid := range batch {
		if !strings.Contains(prompt, "markdown for "+sid) {
			t.Fatalf("prompt missing segment %s", sid)
		}
	}
	if strings.Contains(prompt, "markdown for s4") {
		t.Fatalf("prompt leaked section beyond the batch")
	}
}

func TestPackReviewBatchHonorsTokenCeiling(t *testing.T) {
	e := newEnv(t)
	e.pipe.cfg.ReviewMaxPromptTokens = 10
	plan := widePlan(3)
	segments := map[string]string{}
	remaining := []string{}
	for _, s := range plan.Outline {
		segments[s.ID] = strings.Repeat("long section text ", 20)
		remaining = append(remaining, s.ID)
	}

	// Each section alone exceeds the ceiling; the first is still admitted.
	batch, _ := e.pipe.packReviewBatch(&plan, segments, nil, remaining, 3)
	if len(batch) != 1 || batch[0] != "s1" {
		t.Fatalf("oversized sections: want batch [s1] got %v", batch)
	}
}

func TestComposeReviewPromptDependencyStubs(t *testing.T) {
	plan := document.Plan{Outline: []document.Section{
		{ID: "s1", Title: "Overview"},
		{ID: "s2", Title: "Details", Dependencies: []string{"s1"}},
		{ID: "s3", Title: "More", Dependencies: []string{"s1"}},
	}}
	segments := map[string]string{
		"s2": "markdown for s2",
		"s3": "markdown for s3",
	}
	summaries := map[string]string{"s1": "- s1 covers the basics"}

	prompt := composeReviewPrompt(&plan, segments, summaries, []string{"s2", "s3"})
	stub := "Dependency s1 (Overview) summary: - s1 covers the basics"
	if n := strings.Count(prompt, stub); n != 1 {
		t.Fatalf("dependency stub count: want=1 got=%d in %q", n, prompt)
	}
	if !strings.Contains(prompt, "markdown for s2") || !strings.Contains(prompt, "markdown for s3") {
		t.Fatalf("prompt missing batched sections: %q", prompt)
	}

	// A dependency inside the batch needs no stub; an unsummarized one
	// gets the placeholder text.
	prompt = composeReviewPrompt(&plan, map[string]string{"s1": "markdown for s1", "s2": "markdown for s2"}, nil, []string{"s1", "s2"})
	if strings.Contains(prompt, "Dependency s1") {
		t.Fatalf("in-batch dependency should not be stubbed: %q", prompt)
	}
	prompt = composeReviewPrompt(&plan, segments, nil, []string{"s2"})
	if !strings.Contains(prompt, "Dependency s1 (Overview) summary: "+missingSummaryStub) {
		t.Fatalf("missing-summary stub absent: %q", prompt)
	}
}

func TestParseBatchEntries(t *testing.T) {
	wrapped := `{"sections":[{"section_id":"s1"},{"section_id":"s2"}]}`
	if got := parseBatchEntries(wrapped); len(got) != 2 {
		t.Fatalf("wrapped: want=2 entries got=%d", len(got))
	}
	bare := `[{"section_id":"s1"}]`
	if got := parseBatchEntries(bare); len(got) != 1 {
		t.Fatalf("bare array: want=1 entry got=%d", len(got))
	}
	if got := parseBatchEntries("not json at all"); got != nil {
		t.Fatalf("malformed: want=nil got=%v", got)
	}
}

func TestJoinNonEmpty(t *testing.T) {
	if got := joinNonEmpty("\n", "", "a", "  ", "b"); got != "a\nb" {
		t.Fatalf("joinNonEmpty: want=%q got=%q", "a\nb", got)
	}
	if got := joinNonEmpty("\n", "", "   "); got != "" {
		t.Fatalf("joinNonEmpty empty: want=\"\" got=%q", got)
	}
}
