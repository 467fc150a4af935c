package status

import (
	"encoding/json"
	"strings"
	"time"
)

/*
Event is one status update on the operator timeline. It is a value type: the
wire payload drops unset fields, so consumers never see nulls.

Extra carries stage-specific additions (e.g. the DONE details map); keys in
Extra never override the named fields.
*/
type Event struct {
	JobID               string
	Stage               string
	TS                  float64
	Message             string
	Artifact            string
	Cycle               *int
	HasContradictions   *bool
	StyleIssues         *bool
	CohesionIssues      *bool
	PlaceholderSections *bool
	Extra               map[string]interface{}
}

func NewEvent(jobID, stage string) Event {
	return Event{JobID: jobID, Stage: stage, TS: Now()}
}

// Now returns the event clock in seconds. Overridable in tests.
var Now = func() float64 {
	return float64(time.Now().UnixMicro()) / 1e6
}

// Payload flattens the event to its wire map, dropping empty fields.
func (e Event) Payload() map[string]interface{} {
	out := map[string]interface{}{
		"job_id": e.JobID,
		"stage":  e.Stage,
		"ts":     e.TS,
	}
	for key, value := range e.Extra {
		if value == nil || key == "job_id" || key == "stage" || key == "ts" {
			continue
		}
		out[key] = value
	}
	if strings.TrimSpace(e.Message) != "" {
		out["message"] = e.Message
	}
	if strings.TrimSpace(e.Artifact) != "" {
		out["artifact"] = e.Artifact
	}
	if e.Cycle != nil {
		out["cycle"] = *e.Cycle
	}
	if e.HasContradictions != nil {
		out["has_contradictions"] = *e.HasContradictions
	}
	if e.StyleIssues != nil {
		out["style_issues"] = *e.StyleIssues
	}
	if e.CohesionIssues != nil {
		out["cohesion_issues"] = *e.CohesionIssues
	}
	if e.PlaceholderSections != nil {
		out["placeholder_sections"] = *e.PlaceholderSections
	}
	return out
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Payload())
}

// IntPtr and BoolPtr build optional fields inline.
func IntPtr(v int) *int    { return &v }
func BoolPtr(v bool) *bool { return &v }
