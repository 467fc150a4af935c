package agents

import (
	"context"
	"encoding/json"

	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

/*
verifier focuses on contradictions between dependency summaries and the final
text. The response is JSON with a "contradictions" list of
{section_id, summary_bullet, location, snippet, explanation, fix}.
*/
type verifier struct {
	log   *logger.Logger
	chat  ChatClient
	model string
}

func NewVerifier(log *logger.Logger, chat ChatClient, cfg config.Settings) Verifier {
	return &verifier{
		log:   log.With("service", "VerifierAgent"),
		chat:  chat,
		model: cfg.ReviewerModel,
	}
}

func (a *verifier) Verify(ctx context.Context, depSummaries map[string]string, finalMarkdown string) (string, Usage, error) {
	sys := "You are a precise verifier. Compare provided dependency summaries (bullet facts per section)" +
		" against the final Markdown. Identify contradictions or violations of those facts."
	guide := "Respond ONLY with JSON: {\n" +
		"  \"contradictions\": [\n" +
		"    {\n" +
		"      \"section_id\": str,\n" +
		"      \"summary_bullet\": str,\n" +
		"      \"location\": str,\n" +
		"      \"snippet\": str,\n" +
		"      \"explanation\": str,\n" +
		"      \"fix\": str\n" +
		"    }\n" +
		"  ]\n" +
		"}"
	depJSON, _ := json.Marshal(depSummaries)
	return a.chat.Chat(ctx, a.model, []Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: "Dependency summaries per section (JSON):\n" + string(depJSON)},
		{Role: "user", Content: "Final document Markdown begins:\n" + finalMarkdown},
		{Role: "user", Content: guide},
	})
}
