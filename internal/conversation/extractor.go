package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// chatClient is the slice of the OpenAI client the extractors need.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ExtractionResult is the outcome of one extractor run. A result is
// only applied when Confidence clears the extractor's threshold.
type ExtractionResult struct {
	Value      string
	Extra      string
	Confidence float64
	Reasoning  string
}

const nameSystemPrompt = `Ты извлекаешь имя человека из сообщения в чате на русском языке.
Ответь строго в JSON: {"name": "<имя или пустая строка>", "confidence": <0.0-1.0>, "reasoning": "<одно предложение>"}.
Имя возвращай в именительном падеже с заглавной буквы. Если имени в сообщении нет, верни пустую строку и confidence 0.`

const needSystemPrompt = `Ты анализируешь диалог с клиентом Avito и определяешь его потребность.
Ответь строго в JSON: {"pain_point": "<проблема клиента или пустая строка>", "product_interest": "<интересующий продукт или пустая строка>", "confidence": <0.0-1.0>, "reasoning": "<одно предложение>"}.
Если потребность ещё не ясна, верни пустые строки и confidence 0.`

// NameExtractor pulls the client's name out of a single message with
// a small model call.
type NameExtractor struct {
	llm   chatClient
	model string
}

func NewNameExtractor(llm chatClient, model string) *NameExtractor {
	return &NameExtractor{llm: llm, model: model}
}

func (e *NameExtractor) Extract(ctx context.Context, text string) (ExtractionResult, error) {
	if e.llm == nil {
		return ExtractionResult{}, nil
	}
	out, err := completeJSON(ctx, e.llm, e.model, nameSystemPrompt, "Сообщение: "+text)
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("extract name: %w", err)
	}
	var parsed struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return ExtractionResult{}, fmt.Errorf("extract name: decode %q: %w", out, err)
	}
	return ExtractionResult{
		Value:      strings.TrimSpace(parsed.Name),
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reasoning,
	}, nil
}

// NeedExtractor classifies the client's pain point and product
// interest from recent history. It looks at more than the last message
// because the need often spans several turns.
type NeedExtractor struct {
	llm   chatClient
	model string
}

func NewNeedExtractor(llm chatClient, model string) *NeedExtractor {
	return &NeedExtractor{llm: llm, model: model}
}

func (e *NeedExtractor) Extract(ctx context.Context, history string) (ExtractionResult, error) {
	if e.llm == nil {
		return ExtractionResult{}, nil
	}
	out, err := completeJSON(ctx, e.llm, e.model, needSystemPrompt, "Диалог:\n"+history)
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("extract need: %w", err)
	}
	var parsed struct {
		PainPoint       string  `json:"pain_point"`
		ProductInterest string  `json:"product_interest"`
		Confidence      float64 `json:"confidence"`
		Reasoning       string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return ExtractionResult{}, fmt.Errorf("extract need: decode %q: %w", out, err)
	}
	return ExtractionResult{
		Value:      strings.TrimSpace(parsed.PainPoint),
		Extra:      strings.TrimSpace(parsed.ProductInterest),
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reasoning,
	}, nil
}

var phonePattern = regexp.MustCompile(`(?:\+7|8|7)?[\s\-()]*\d{3}[\s\-()]*\d{3}[\s\-]*\d{2}[\s\-]*\d{2}`)

var digitsOnly = regexp.MustCompile(`\d`)

// PhoneExtractor finds Russian phone numbers deterministically. No
// model call is involved; a match is normalized to +7XXXXXXXXXX and
// reported with fixed confidence 0.9.
type PhoneExtractor struct{}

func NewPhoneExtractor() *PhoneExtractor { return &PhoneExtractor{} }

func (e *PhoneExtractor) Extract(_ context.Context, text string) (ExtractionResult, error) {
	match := phonePattern.FindString(text)
	if match == "" {
		return ExtractionResult{}, nil
	}
	digits := strings.Join(digitsOnly.FindAllString(match, -1), "")
	var normalized string
	switch {
	case len(digits) == 11 && (digits[0] == '7' || digits[0] == '8'):
		normalized = "+7" + digits[1:]
	case len(digits) == 10 && digits[0] == '9':
		normalized = "+7" + digits
	default:
		return ExtractionResult{}, nil
	}
	return ExtractionResult{Value: normalized, Confidence: 0.9}, nil
}

func completeJSON(ctx context.Context, llm chatClient, model, system, user string) (string, error) {
	resp, err := llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion")
	}
	return resp.Choices[0].Message.Content, nil
}
