package document

import (
	"encoding/json"
	"testing"
)

func TestDecodePayloadRequiresIdentity(t *testing.T) {
	if _, err := DecodePayload([]byte(`{"user_id":"u1"}`)); err == nil {
		t.Fatalf("missing job_id must error")
	}
	if _, err := DecodePayload([]byte(`{"job_id":"j1"}`)); err == nil {
		t.Fatalf("missing user_id must error")
	}
	if _, err := DecodePayload([]byte(`not json`)); err == nil {
		t.Fatalf("malformed JSON must error")
	}
}

func TestPayloadPassthroughFields(t *testing.T) {
	raw := []byte(`{"job_id":"j1","user_id":"u1","title":"Doc","tenant_hint":"acme","trace":{"span":"abc"}}`)
	p, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(p.Extra) != 2 {
		t.Fatalf("extra fields: want=2 got=%v", p.Extra)
	}

	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded := map[string]interface{}{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["tenant_hint"] != "acme" {
		t.Fatalf("passthrough field lost: %v", decoded)
	}
	trace, _ := decoded["trace"].(map[string]interface{})
	if trace["span"] != "abc" {
		t.Fatalf("nested passthrough lost: %v", decoded)
	}
}

func TestPayloadKnownFieldNeverShadowedByExtra(t *testing.T) {
	raw := []byte(`{"job_id":"j1","user_id":"u1","cycles":3}`)
	p, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Cycles == nil || *p.Cycles != 3 {
		t.Fatalf("cycles: want=3 got=%v", p.Cycles)
	}
	if _, ok := p.Extra["cycles"]; ok {
		t.Fatalf("typed field leaked into Extra")
	}

	// Mutate the typed field; the serialized form must reflect it.
	p.Cycles = nil
	p.CyclesCompleted = intp(1)
	out, _ := json.Marshal(p)
	decoded := map[string]interface{}{}
	_ = json.Unmarshal(out, &decoded)
	if _, ok := decoded["cycles"]; ok {
		t.Fatalf("cleared field must not reappear: %v", decoded)
	}
	if decoded["cycles_completed"] != float64(1) {
		t.Fatalf("cycles_completed: want=1 got=%v", decoded["cycles_completed"])
	}
}

func TestPayloadCloneIsDeep(t *testing.T) {
	p := &Payload{
		JobID:               "j1",
		UserID:              "u1",
		DependencySummaries: map[string]string{"s1": "summary"},
		Plan:                &Plan{Title: "Doc", Outline: []Section{{ID: "s1", Title: "Intro"}}},
	}
	cp := p.Clone()
	cp.DependencySummaries["s1"] = "changed"
	cp.Plan.Title = "Changed"
	if p.DependencySummaries["s1"] != "summary" {
		t.Fatalf("clone must not share maps")
	}
	if p.Plan.Title != "Doc" {
		t.Fatalf("clone must not share plan")
	}
}

func intp(v int) *int { return &v }
