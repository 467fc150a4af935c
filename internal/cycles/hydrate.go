package cycles

import (
	"context"
	"encoding/json"

	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/status"
)

var cycleFields = []string{"cycles", "expected_cycles", "cycles_completed", "cycles_remaining"}

/*
Hydrator reconstructs cycle metadata for payloads that arrive without it.
It consults the status table's latest row first, then walks the timeline in
reverse, merging any integer-coercible cycle field, including ones nested in
"details" and "details.parsed_message". A payload field is only filled when
it is currently unset.
*/
type Hydrator struct {
	Table status.Table
}

// Ensure hydrates the payload when needed, then computes the State and
// writes it back. Every stage processor calls this at entry.
func (h Hydrator) Ensure(ctx context.Context, p *document.Payload) State {
	if h.Table != nil && p.JobID != "" && missingAny(p) {
		h.hydrate(ctx, p)
	}
	state := FromPayload(p)
	state.Apply(p)
	return state
}

// Hydrate fills missing cycle fields from the status table without applying
// defaults. Callers that must distinguish "no metadata anywhere" from "defaults
// to one cycle" (resume) use this and inspect the payload afterwards.
func (h Hydrator) Hydrate(ctx context.Context, p *document.Payload) bool {
	if h.Table == nil || p.JobID == "" || !missingAny(p) {
		return false
	}
	return h.hydrate(ctx, p)
}

func missingAny(p *document.Payload) bool {
	return p.Cycles == nil || p.ExpectedCycles == nil || p.CyclesCompleted == nil || p.CyclesRemaining == nil
}

func (h Hydrator) hydrate(ctx context.Context, p *document.Payload) bool {
	populated := false
	ingest := func(entity map[string]interface{}) {
		if mergeCycles(p, entity) {
			populated = true
		}
		for _, source := range detailSources(entity["details"]) {
			if mergeCycles(p, source) {
				populated = true
			}
			if nested, ok := source["parsed_message"].(map[string]interface{}); ok {
				if mergeCycles(p, nested) {
					populated = true
				}
			}
		}
	}

	if latest, err := h.Table.Latest(ctx, p.JobID); err == nil && latest != nil {
		ingest(latest)
		if populated {
			return true
		}
	}
	timeline, err := h.Table.Timeline(ctx, p.JobID)
	if err != nil {
		return populated
	}
	for i := len(timeline) - 1; i >= 0; i-- {
		ingest(timeline[i])
		if populated {
			break
		}
	}
	return populated
}

// detailSources normalizes the "details" field, which the table may hold
// either as a map or as a JSON string.
func detailSources(raw interface{}) []map[string]interface{} {
	switch v := raw.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{v}
	case string:
		parsed := map[string]interface{}{}
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			return []map[string]interface{}{parsed}
		}
	}
	return nil
}

func mergeCycles(p *document.Payload, source map[string]interface{}) bool {
	updated := false
	for _, field := range cycleFields {
		raw, ok := source[field]
		if !ok {
			continue
		}
		value, ok := coerceInt(raw)
		if !ok {
			continue
		}
		if fillField(p, field, value) {
			updated = true
		}
	}
	return updated
}

func fillField(p *document.Payload, field string, value int) bool {
	switch field {
	case "cycles":
		if p.Cycles == nil {
			p.Cycles = &value
			return true
		}
	case "expected_cycles":
		if p.ExpectedCycles == nil {
			p.ExpectedCycles = &value
			return true
		}
	case "cycles_completed":
		if p.CyclesCompleted == nil {
			p.CyclesCompleted = &value
			return true
		}
	case "cycles_remaining":
		if p.CyclesRemaining == nil {
			p.CyclesRemaining = &value
			return true
		}
	}
	return false
}

func coerceInt(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), true
		}
	case string:
		var parsed float64
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			return int(parsed), true
		}
	}
	return 0, false
}
