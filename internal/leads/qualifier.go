package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

// Stage is the sales pipeline stage a conversation maps to.
type Stage string

const (
	StageFirstContact Stage = "first_contact"
	StageNegotiation  Stage = "negotiation"
	StageDecision     Stage = "decision"
	StageContract     Stage = "contract"
)

// Temperature is how ready the client is to buy.
type Temperature string

const (
	TemperatureCold Temperature = "cold"
	TemperatureWarm Temperature = "warm"
	TemperatureHot  Temperature = "hot"
)

// Pipeline status ids in amoCRM for each stage.
var stageStatus = map[Stage]int64{
	StageFirstContact: 80984178,
	StageNegotiation:  80984182,
	StageDecision:     80984186,
	StageContract:     80984190,
}

// Stage order. A lead only ever moves to a higher rank.
var stageRank = map[Stage]int{
	StageFirstContact: 1,
	StageNegotiation:  2,
	StageDecision:     3,
	StageContract:     4,
}

// StatusID maps a stage to its amoCRM pipeline status.
func (s Stage) StatusID() int64 {
	return stageStatus[s]
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// StageForStatus is the reverse mapping, used to rank an existing lead.
func StageForStatus(statusID int64) (Stage, bool) {
	for stage, id := range stageStatus {
		if id == statusID {
			return stage, true
		}
	}
	return "", false
}

// ShouldAdvance reports whether moving a lead from the current status
// to the proposed stage goes strictly forward. An unknown current
// status (a stage managers moved the lead to by hand) is never touched.
func ShouldAdvance(currentStatusID int64, proposed Stage) bool {
	current, ok := StageForStatus(currentStatusID)
	if !ok {
		return false
	}
	return stageRank[proposed] > stageRank[current]
}

// Qualification is the pipeline placement derived from a conversation.
type Qualification struct {
	Stage       Stage       `json:"stage"`
	Temperature Temperature `json:"temperature"`
	Confidence  float64     `json:"confidence"`
	Reason      string      `json:"reason"`
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const qualifySystemPrompt = `Ты оцениваешь диалог с клиентом Avito и определяешь этап сделки.
Этапы: first_contact (первичный интерес), negotiation (обсуждение цены и условий), decision (клиент готов и выбирает сроки), contract (договор и оплата).
Температура: cold, warm, hot.
Ответь строго в JSON: {"stage": "<этап>", "temperature": "<температура>", "confidence": <0.0-1.0>, "reason": "<одно предложение>"}.`

// Qualifier places a conversation on the pipeline. The model does the
// grading; when it is unavailable or answers garbage a keyword
// heuristic takes over so a lead never goes unqualified.
type Qualifier struct {
	llm    chatClient
	model  string
	logger *logging.Logger
}

func NewQualifier(llm chatClient, model string, logger *logging.Logger) *Qualifier {
	return &Qualifier{llm: llm, model: model, logger: logger}
}

// Qualify grades the dialogue history.
func (q *Qualifier) Qualify(ctx context.Context, history string) Qualification {
	if q.llm == nil {
		return heuristicQualification(history)
	}
	resp, err := q.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       q.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: qualifySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Диалог:\n" + history},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		q.logger.Error("lead qualification failed, using heuristic", "error", err)
		return heuristicQualification(history)
	}
	var parsed Qualification
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil || !parsed.Stage.Valid() {
		q.logger.Error("unusable qualification from model, using heuristic",
			"content", resp.Choices[0].Message.Content, "error", err)
		return heuristicQualification(history)
	}
	if parsed.Temperature == "" {
		parsed.Temperature = temperatureFor(parsed.Stage)
	}
	return parsed
}

// heuristicQualification scans the dialogue for stage markers, taking
// the furthest stage mentioned.
func heuristicQualification(history string) Qualification {
	text := strings.ToLower(history)
	stage := StageFirstContact
	temp := TemperatureWarm
	switch {
	case containsAny(text, "договор", "оплат", "счёт", "счет", "реквизит", "предоплат"):
		stage = StageContract
		temp = TemperatureHot
	case HasPurchaseIntent(text) || containsAny(text, "когда можем начать", "давайте начн", "сроки запуска", "как оформ"):
		stage = StageDecision
		temp = TemperatureHot
	case HasPriceQuestion(text):
		stage = StageNegotiation
	}
	return Qualification{
		Stage:       stage,
		Temperature: temp,
		Confidence:  0.5,
		Reason:      fmt.Sprintf("эвристика по ключевым словам: %s", stage),
	}
}

func temperatureFor(stage Stage) Temperature {
	switch stage {
	case StageContract, StageDecision:
		return TemperatureHot
	case StageNegotiation:
		return TemperatureWarm
	default:
		return TemperatureCold
	}
}

func containsAny(text string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}
