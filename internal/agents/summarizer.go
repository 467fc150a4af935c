package agents

import (
	"context"

	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

type summarizer struct {
	log   *logger.Logger
	chat  ChatClient
	model string
}

func NewSummarizer(log *logger.Logger, chat ChatClient, cfg config.Settings) Summarizer {
	return &summarizer{
		log:   log.With("service", "Summarizer"),
		chat:  chat,
		model: cfg.ReviewerModel,
	}
}

func (a *summarizer) SummarizeSection(ctx context.Context, markdown string) (string, Usage, error) {
	sys := "You are a precise summarizer. Extract 5-10 bullet key facts/definitions from the text." +
		" Be terse and faithful; no new claims. Output plain bullets."
	return a.chat.Chat(ctx, a.model, []Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: markdown},
	})
}
