package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

/*
NewDiagramReformatter returns the between-attempts PlantUML repair hook for the
diagram renderer: given source that the server rejected and the failure reason,
it asks the writer model for a corrected diagram with the same meaning.
*/
func NewDiagramReformatter(log *logger.Logger, chat ChatClient, cfg config.Settings) func(ctx context.Context, source, reason string) (string, error) {
	rlog := log.With("service", "DiagramReformatter")
	model := cfg.WriterModel
	return func(ctx context.Context, source, reason string) (string, error) {
		sys := "You repair PlantUML diagrams. Return only the corrected PlantUML source," +
			" starting with @startuml and ending with @enduml. No markdown fences, no commentary."
		user := fmt.Sprintf("The PlantUML server rejected this diagram.\nReason: %s\n\nSource:\n%s\n\n"+
			"Fix the syntax while preserving the diagram's meaning.", reason, source)
		body, _, err := chat.Chat(ctx, model, []Message{
			{Role: "system", Content: sys},
			{Role: "user", Content: user},
		})
		if err != nil {
			return "", err
		}
		fixed := strings.TrimSpace(body)
		if fixed == "" {
			return "", fmt.Errorf("reformatter returned empty source")
		}
		rlog.Debug("diagram reformatted", "reason", reason)
		return fixed, nil
	}
}
