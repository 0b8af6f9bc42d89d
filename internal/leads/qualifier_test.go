package leads

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

type scriptedLLM struct {
	content string
	err     error
}

func (s *scriptedLLM) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func TestQualifyParsesModelOutput(t *testing.T) {
	llm := &scriptedLLM{content: `{"stage": "decision", "temperature": "hot", "reason": "клиент выбирает сроки"}`}
	q := NewQualifier(llm, "gpt-4o", logging.Default())

	got := q.Qualify(context.Background(), "Клиент: когда можем начать?")
	if got.Stage != StageDecision || got.Temperature != TemperatureHot {
		t.Fatalf("unexpected qualification: %+v", got)
	}
}

func TestQualifyFallsBackOnModelError(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("model down")}
	q := NewQualifier(llm, "gpt-4o", logging.Default())

	got := q.Qualify(context.Background(), "Клиент: сколько стоит чат-бот?")
	if got.Stage != StageNegotiation {
		t.Fatalf("heuristic stage = %s, want negotiation", got.Stage)
	}
	if got.Temperature != TemperatureWarm {
		t.Fatalf("temperature = %s, want warm", got.Temperature)
	}
}

func TestQualifyRejectsUnknownStage(t *testing.T) {
	llm := &scriptedLLM{content: `{"stage": "closed_won", "temperature": "hot"}`}
	q := NewQualifier(llm, "gpt-4o", logging.Default())

	got := q.Qualify(context.Background(), "Клиент: добрый день")
	if !got.Stage.Valid() {
		t.Fatalf("fallback produced invalid stage: %+v", got)
	}
	if got.Stage != StageFirstContact {
		t.Fatalf("stage = %s, want first_contact", got.Stage)
	}
}

func TestHeuristicPicksFurthestStage(t *testing.T) {
	cases := []struct {
		history  string
		want     Stage
		wantTemp Temperature
	}{
		{"Клиент: добрый день, расскажите про услугу", StageFirstContact, TemperatureWarm},
		{"Клиент: какая цена у чат-бота?", StageNegotiation, TemperatureWarm},
		{"Клиент: хочу заказать, всё устраивает", StageDecision, TemperatureHot},
		{"Клиент: всё устраивает, когда можем начать?", StageDecision, TemperatureHot},
		{"Клиент: отправьте договор и счёт на оплату", StageContract, TemperatureHot},
	}
	for _, tc := range cases {
		got := heuristicQualification(tc.history)
		if got.Stage != tc.want {
			t.Errorf("%q: stage = %s, want %s", tc.history, got.Stage, tc.want)
		}
		if got.Temperature != tc.wantTemp {
			t.Errorf("%q: temperature = %s, want %s", tc.history, got.Temperature, tc.wantTemp)
		}
	}
}

func TestShouldAdvanceIsStrictlyForward(t *testing.T) {
	if !ShouldAdvance(StageFirstContact.StatusID(), StageNegotiation) {
		t.Fatal("first_contact -> negotiation must advance")
	}
	if ShouldAdvance(StageDecision.StatusID(), StageNegotiation) {
		t.Fatal("decision -> negotiation must not regress")
	}
	if ShouldAdvance(StageContract.StatusID(), StageContract) {
		t.Fatal("same stage must not re-update")
	}
	if ShouldAdvance(123456, StageContract) {
		t.Fatal("manually managed statuses must never be touched")
	}
}

func TestStageForStatusRoundTrip(t *testing.T) {
	for _, stage := range []Stage{StageFirstContact, StageNegotiation, StageDecision, StageContract} {
		got, ok := StageForStatus(stage.StatusID())
		if !ok || got != stage {
			t.Errorf("round trip failed for %s", stage)
		}
	}
	if _, ok := StageForStatus(0); ok {
		t.Error("status 0 must not map to a stage")
	}
}

func TestTriggers(t *testing.T) {
	if !HasPurchaseIntent("Хочу заказать бота") {
		t.Error("purchase intent missed")
	}
	if HasPurchaseIntent("просто смотрю") {
		t.Error("false purchase intent")
	}
	if !HasPriceQuestion("Сколько стоит настройка?") {
		t.Error("price question missed")
	}
	if got := DetectProduct("Нужен чат-бот для сообщений"); got != "чат-бот" {
		t.Errorf("DetectProduct = %q", got)
	}
	if got := DetectProduct("продаю гараж"); got != "" {
		t.Errorf("DetectProduct on unrelated text = %q", got)
	}
}
