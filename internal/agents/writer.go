package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

type writer struct {
	log       *logger.Logger
	chat      ChatClient
	model     string
	streaming bool
}

func NewWriter(log *logger.Logger, chat ChatClient, cfg config.Settings) Writer {
	return &writer{
		log:       log.With("service", "WriterAgent"),
		chat:      chat,
		model:     cfg.WriterModel,
		streaming: cfg.Streaming,
	}
}

func (a *writer) WriteSection(ctx context.Context, plan *document.Plan, section document.Section, depContext, extraGuidance string, onDelta func(delta string)) (string, Usage, error) {
	sys := "You are a disciplined technical writer. Write Markdown that strictly adheres to the provided" +
		" plan, maintains global consistency, and embeds PlantUML diagrams where requested."

	sectionDiagrams := []document.DiagramSpec{}
	for _, d := range plan.DiagramSpecs {
		if d.SectionID == section.ID {
			sectionDiagrams = append(sectionDiagrams, d)
		}
	}

	styleJSON, _ := json.Marshal(plan.GlobalStyle)
	glossaryJSON, _ := json.Marshal(plan.Glossary)
	sectionJSON, _ := json.Marshal(section)
	diagramsJSON, _ := json.Marshal(sectionDiagrams)
	if depContext == "" {
		depContext = "N/A"
	}

	var guide strings.Builder
	fmt.Fprintf(&guide, "Global style: %s\n", styleJSON)
	fmt.Fprintf(&guide, "Glossary: %s\n", glossaryJSON)
	fmt.Fprintf(&guide, "Section: %s\n", sectionJSON)
	fmt.Fprintf(&guide, "Diagrams: %s\n", diagramsJSON)
	fmt.Fprintf(&guide, "Dependency context (key facts to respect): %s\n", depContext)
	guide.WriteString("Rules:\n- Use consistent terminology from the glossary.\n")
	guide.WriteString("- Be concise but thorough; prefer clear subsections and lists.\n")
	guide.WriteString("- For each diagram spec, produce exactly one ```plantuml``` code block.\n")
	guide.WriteString("- The first non-blank line inside every PlantUML block must be a single-quote comment" +
		" containing \"diagram_id: <diagram_id>\" for the matching spec.\n")
	guide.WriteString("- Ensure that labels/fields/descriptions in diagrams have escaped newline characters (\\n).\n")
	guide.WriteString("- Use the plantuml_prompt or description to choose actors, lifelines, and relationships.\n")
	if extraGuidance != "" {
		guide.WriteString("- Apply the following revision guidance (adjust prose accordingly; do not copy these notes verbatim):\n")
		guide.WriteString(extraGuidance)
		guide.WriteString("\n")
	}

	msgs := []Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: guide.String()},
	}

	var (
		body  string
		usage Usage
		err   error
	)
	if a.streaming {
		body, usage, err = a.chat.ChatStream(ctx, a.model, msgs, onDelta)
	} else {
		body, usage, err = a.chat.Chat(ctx, a.model, msgs)
		if err == nil && onDelta != nil {
			onDelta(body)
		}
	}
	if err != nil {
		return "", usage, err
	}
	return document.WrapSection(section.ID, body), usage, nil
}
