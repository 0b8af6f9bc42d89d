package conversation

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

type scriptedLLM struct {
	content string
	err     error
	calls   int
	lastReq openai.ChatCompletionRequest
}

func (s *scriptedLLM) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func TestPhoneExtractorNormalizes(t *testing.T) {
	e := NewPhoneExtractor()
	cases := []struct {
		in   string
		want string
	}{
		{"мой номер 89161234567", "+79161234567"},
		{"звоните +7 916 123-45-67", "+79161234567"},
		{"тел: 8 (916) 123 45 67", "+79161234567"},
		{"9161234567", "+79161234567"},
		{"7916-123-45-67", "+79161234567"},
	}
	for _, tc := range cases {
		res, err := e.Extract(context.Background(), tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if res.Value != tc.want {
			t.Errorf("%q: got %q, want %q", tc.in, res.Value, tc.want)
		}
		if res.Confidence != 0.9 {
			t.Errorf("%q: confidence %v, want 0.9", tc.in, res.Confidence)
		}
	}
}

func TestPhoneExtractorRejectsNonNumbers(t *testing.T) {
	e := NewPhoneExtractor()
	for _, in := range []string{"меня зовут Иван", "цена 15000 рублей", "1234567"} {
		res, err := e.Extract(context.Background(), in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if res.Value != "" {
			t.Errorf("%q: unexpected match %q", in, res.Value)
		}
	}
}

func TestNameExtractorParsesModelOutput(t *testing.T) {
	llm := &scriptedLLM{content: `{"name": "Иван", "confidence": 0.92}`}
	e := NewNameExtractor(llm, "gpt-4o-mini")

	res, err := e.Extract(context.Background(), "Добрый день, меня зовут Иван")
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "Иван" || res.Confidence != 0.92 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if llm.lastReq.Model != "gpt-4o-mini" {
		t.Fatalf("wrong model: %s", llm.lastReq.Model)
	}
	if llm.lastReq.ResponseFormat == nil || llm.lastReq.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Fatal("extraction must request JSON output")
	}
}

func TestNameExtractorRejectsGarbage(t *testing.T) {
	llm := &scriptedLLM{content: `not json at all`}
	e := NewNameExtractor(llm, "gpt-4o-mini")
	if _, err := e.Extract(context.Background(), "привет"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNeedExtractorParsesModelOutput(t *testing.T) {
	llm := &scriptedLLM{content: `{"pain_point": "теряем заявки ночью", "product_interest": "чат-бот", "confidence": 0.8}`}
	e := NewNeedExtractor(llm, "gpt-4o-mini")

	res, err := e.Extract(context.Background(), "Клиент: ночью некому отвечать")
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "теряем заявки ночью" || res.Extra != "чат-бот" || res.Confidence != 0.8 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLLMExtractorsDegradeWithoutClient(t *testing.T) {
	name := NewNameExtractor(nil, "gpt-4o-mini")
	res, err := name.Extract(context.Background(), "меня зовут Иван")
	if err != nil || res.Value != "" {
		t.Fatalf("nil client should yield empty result, got %+v, %v", res, err)
	}
}
