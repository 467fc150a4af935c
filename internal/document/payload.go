package document

import (
	"encoding/json"
	"fmt"
)

/*
Payload is the job message that travels on every queue. Known fields are
typed; anything else a producer attached rides along in Extra and is
re-emitted verbatim, so third parties can pass fields through the pipeline.

Cycle fields are pointers: absence and zero mean different things to the
hydrator, which only fills fields that are actually missing.
*/
type Payload struct {
	JobID    string `json:"job_id"`
	UserID   string `json:"user_id"`
	Title    string `json:"title,omitempty"`
	Audience string `json:"audience,omitempty"`
	Out      string `json:"out,omitempty"`

	Cycles          *int `json:"cycles,omitempty"`
	ExpectedCycles  *int `json:"expected_cycles,omitempty"`
	CyclesCompleted *int `json:"cycles_completed,omitempty"`
	CyclesRemaining *int `json:"cycles_remaining,omitempty"`

	Plan                *Plan             `json:"plan,omitempty"`
	DependencySummaries map[string]string `json:"dependency_summaries,omitempty"`
	WrittenSections     []string          `json:"written_sections,omitempty"`
	RewrittenSections   []string          `json:"rewritten_sections,omitempty"`

	ReviewJSON       string `json:"review_json,omitempty"`
	StyleJSON        string `json:"style_json,omitempty"`
	CohesionJSON     string `json:"cohesion_json,omitempty"`
	ExecSummaryJSON  string `json:"exec_summary_json,omitempty"`
	VerificationJSON string `json:"verification_json,omitempty"`

	IntakeAnswers map[string]interface{} `json:"intake_answers,omitempty"`

	PlaceholderSections []string `json:"placeholder_sections,omitempty"`
	RequiresRewrite     bool     `json:"requires_rewrite,omitempty"`

	DiagramRequests   []DiagramRequest  `json:"diagram_requests,omitempty"`
	DiagramResults    []DiagramResult   `json:"diagram_results,omitempty"`
	DiagramCodeBlocks map[string]string `json:"diagram_code_blocks,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type Plan struct {
	Title        string                 `json:"title"`
	Audience     string                 `json:"audience,omitempty"`
	LengthPages  int                    `json:"length_pages,omitempty"`
	Outline      []Section              `json:"outline"`
	Glossary     map[string]string      `json:"glossary,omitempty"`
	GlobalStyle  map[string]interface{} `json:"global_style,omitempty"`
	DiagramSpecs []DiagramSpec          `json:"diagram_specs,omitempty"`
}

type Section struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Goals        []string `json:"goals,omitempty"`
	KeyPoints    []string `json:"key_points,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

type DiagramSpec struct {
	ID          string `json:"id"`
	SectionID   string `json:"section_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Prompt      string `json:"plantuml_prompt,omitempty"`
}

// DiagramRequest is one render unit produced by diagram_prep.
type DiagramRequest struct {
	DiagramID  string `json:"diagram_id"`
	SourcePath string `json:"source_path"`
	Format     string `json:"format"`
	BlobPath   string `json:"blob_path"`
	AltText    string `json:"alt_text,omitempty"`
}

// DiagramResult is the render outcome consumed by finalize. A failed render
// carries Error and no BlobPath; finalize skips its substitution.
type DiagramResult struct {
	DiagramID    string `json:"diagram_id"`
	BlobPath     string `json:"blob_path,omitempty"`
	RelativePath string `json:"relative_path,omitempty"`
	CodeBlock    string `json:"code_block,omitempty"`
	Format       string `json:"format,omitempty"`
	AltText      string `json:"alt_text,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SectionByID indexes the outline.
func (p *Plan) SectionByID(id string) (Section, bool) {
	for _, s := range p.Outline {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// payloadAlias avoids Marshal/Unmarshal recursion.
type payloadAlias Payload

func (p *Payload) UnmarshalJSON(raw []byte) error {
	var alias payloadAlias
	if err := json.Unmarshal(raw, &alias); err != nil {
		return err
	}
	all := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &all); err != nil {
		return err
	}
	known, err := json.Marshal(alias)
	if err != nil {
		return err
	}
	knownKeys := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &knownKeys); err != nil {
		return err
	}
	extra := map[string]json.RawMessage{}
	for key, value := range all {
		if _, ok := knownKeys[key]; ok {
			continue
		}
		if isKnownPayloadKey(key) {
			continue
		}
		extra[key] = value
	}
	*p = Payload(alias)
	if len(extra) > 0 {
		p.Extra = extra
	}
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(payloadAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return known, nil
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, value := range p.Extra {
		if _, ok := merged[key]; ok {
			continue
		}
		merged[key] = value
	}
	return json.Marshal(merged)
}

// isKnownPayloadKey covers typed fields that omitempty may have dropped from
// the known-key probe; without this an empty typed field would leak into
// Extra and shadow later values.
func isKnownPayloadKey(key string) bool {
	switch key {
	case "job_id", "user_id", "title", "audience", "out",
		"cycles", "expected_cycles", "cycles_completed", "cycles_remaining",
		"plan", "dependency_summaries", "written_sections", "rewritten_sections",
		"review_json", "style_json", "cohesion_json", "exec_summary_json",
		"verification_json", "intake_answers",
		"placeholder_sections", "requires_rewrite",
		"diagram_requests", "diagram_results", "diagram_code_blocks":
		return true
	default:
		return false
	}
}

// DecodePayload parses a queue message body.
func DecodePayload(raw []byte) (*Payload, error) {
	p := &Payload{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	if p.JobID == "" {
		return nil, fmt.Errorf("job_id missing from stage payload")
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("user_id missing from stage payload for job %s", p.JobID)
	}
	return p, nil
}

// Clone deep-copies the payload through its JSON form.
func (p *Payload) Clone() *Payload {
	raw, err := json.Marshal(p)
	if err != nil {
		cp := *p
		return &cp
	}
	out := &Payload{}
	if err := json.Unmarshal(raw, out); err != nil {
		cp := *p
		return &cp
	}
	return out
}
