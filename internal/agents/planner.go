package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

type planner struct {
	log   *logger.Logger
	chat  ChatClient
	model string
}

func NewPlanner(log *logger.Logger, chat ChatClient, cfg config.Settings) Planner {
	return &planner{
		log:   log.With("service", "PlannerAgent"),
		chat:  chat,
		model: cfg.PlannerModel,
	}
}

// planSchema is the structured-output contract for the document plan.
var planSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"title":        map[string]interface{}{"type": "string"},
		"audience":     map[string]interface{}{"type": "string"},
		"length_pages": map[string]interface{}{"type": "integer"},
		"outline": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id":           map[string]interface{}{"type": "string"},
					"title":        map[string]interface{}{"type": "string"},
					"goals":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"key_points":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"dependencies": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				},
				"required": []string{"id", "title"},
			},
		},
		"glossary": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": map[string]interface{}{"type": "string"},
		},
		"global_style": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"tone":             map[string]interface{}{"type": "string"},
				"pov":              map[string]interface{}{"type": "string"},
				"formatting_rules": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			},
		},
		"diagram_specs": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id":              map[string]interface{}{"type": "string"},
					"section_id":      map[string]interface{}{"type": "string"},
					"title":           map[string]interface{}{"type": "string"},
					"type":            map[string]interface{}{"type": "string"},
					"description":     map[string]interface{}{"type": "string"},
					"plantuml_prompt": map[string]interface{}{"type": "string"},
				},
				"required": []string{"id", "section_id", "type"},
			},
		},
	},
	"required": []string{"title", "audience", "length_pages", "outline", "glossary", "global_style", "diagram_specs"},
}

func (a *planner) Plan(ctx context.Context, title, audience string, lengthPages int) (document.Plan, Usage, error) {
	sys := "You are a meticulous planning agent. Produce a JSON plan for a long, consistent," +
		" markdown document with sections, objectives, constraints, glossary, and PlantUML diagram specs." +
		" Keep it compact but complete."
	user := fmt.Sprintf("Title: %s\nAudience: %s\nTarget length pages: %d", title, audience, lengthPages)
	prompt := "Respond ONLY with JSON having keys: title, audience, length_pages, outline, glossary," +
		" global_style, diagram_specs.\n" +
		"- outline: list of sections {id, title, goals, key_points, dependencies}\n" +
		"- glossary: {term: definition}\n" +
		"- global_style: {tone, pov, formatting_rules}\n" +
		"- diagram_specs: list of {id, section_id, type, title, description, plantuml_prompt}\n"

	obj, usage, err := a.chat.ChatJSON(ctx, a.model, []Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: user},
		{Role: "user", Content: prompt},
	}, "DocPlan", planSchema)
	if err != nil {
		a.log.Error("planner call failed", "title", title, "error", err)
		return document.Plan{}, usage, err
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return document.Plan{}, usage, err
	}
	var plan document.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return document.Plan{}, usage, fmt.Errorf("decode plan: %w", err)
	}
	if plan.Title == "" {
		plan.Title = title
	}
	if plan.Audience == "" {
		plan.Audience = audience
	}
	if plan.LengthPages == 0 {
		plan.LengthPages = lengthPages
	}
	if len(plan.Outline) == 0 {
		return document.Plan{}, usage, fmt.Errorf("plan has no outline sections")
	}
	a.log.Debug("planner completed", "title", plan.Title, "outline_sections", len(plan.Outline))
	return plan, usage, nil
}
