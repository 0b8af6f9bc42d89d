package conversation

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

const summarySystemPrompt = `Ты готовишь краткое резюме диалога с клиентом Avito для менеджера по продажам.
В 2-4 предложениях опиши: кто клиент, какая у него задача, чем он интересовался. Пиши по-русски, без приветствий.`

const recommendationSystemPrompt = `Ты готовишь рекомендации менеджеру по продажам перед звонком клиенту с Avito.
Дай 2-3 коротких пункта: с чего начать разговор, на что сделать упор, каких тем избегать. Пиши по-русски.`

// Summarizer produces the manager-facing summary and call
// recommendations that go into the CRM note. Both degrade to a plain
// field dump when the model is unavailable.
type Summarizer struct {
	llm    chatClient
	model  string
	logger *logging.Logger
}

func NewSummarizer(llm chatClient, model string, logger *logging.Logger) *Summarizer {
	return &Summarizer{llm: llm, model: model, logger: logger}
}

// Summarize returns a short description of the conversation.
func (s *Summarizer) Summarize(ctx context.Context, c *Context) string {
	if s.llm == nil {
		return fallbackSummary(c)
	}
	out, err := s.complete(ctx, summarySystemPrompt, c.HistoryText(0))
	if err != nil {
		s.logger.Error("conversation summary failed, using fallback",
			"chat_id", c.ChatID, "error", err)
		return fallbackSummary(c)
	}
	return out
}

// Recommend returns talking points for the first call.
func (s *Summarizer) Recommend(ctx context.Context, c *Context) string {
	if s.llm == nil {
		return fallbackRecommendation(c)
	}
	out, err := s.complete(ctx, recommendationSystemPrompt, c.HistoryText(0))
	if err != nil {
		s.logger.Error("call recommendation failed, using fallback",
			"chat_id", c.ChatID, "error", err)
		return fallbackRecommendation(c)
	}
	return out
}

func (s *Summarizer) complete(ctx context.Context, system, history string) (string, error) {
	resp, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: "Диалог:\n" + history},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func fallbackSummary(c *Context) string {
	var b strings.Builder
	b.WriteString("Клиент с Avito")
	if c.UserName != "" {
		b.WriteString(": " + c.UserName)
	}
	b.WriteString(".")
	if c.PainPoint != "" {
		b.WriteString(" Задача: " + c.PainPoint + ".")
	}
	if c.ProductInterest != "" {
		b.WriteString(" Интересует: " + c.ProductInterest + ".")
	}
	fmt.Fprintf(&b, " Сообщений в диалоге: %d.", c.Metadata.MessageCount)
	return b.String()
}

func fallbackRecommendation(c *Context) string {
	if c.PainPoint != "" {
		return "Начните разговор с задачи клиента: " + c.PainPoint + ". Уточните сроки и бюджет."
	}
	return "Уточните задачу клиента, сроки и бюджет."
}
