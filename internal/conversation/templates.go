package conversation

import (
	"fmt"
	"strings"
	"text/template"
)

// PromptData is what every reply template may reference. Missing
// fields render empty, so templates guard with {{if}} where it matters.
type PromptData struct {
	UserName        string
	UserMessage     string
	History         string
	PainPoint       string
	ProductInterest string
}

// statePrompt pairs the LLM system prompt for a state with the canned
// reply used when the model is unavailable or fails.
type statePrompt struct {
	system   *template.Template
	fallback string
}

// TemplateRegistry holds one prompt per dialogue state, parsed once at
// startup so a broken template fails fast instead of at reply time.
type TemplateRegistry struct {
	prompts map[State]statePrompt
}

var rawPrompts = map[State]struct {
	system   string
	fallback string
}{
	StateGreeting: {
		system: `Ты — дружелюбный ассистент компании, продающей услуги автоматизации на Avito.
Клиент только что написал первое сообщение. Поздоровайся, коротко представься и спроси, как к нему обращаться.
{{if .History}}Диалог:
{{.History}}
{{end}}Сообщение клиента: {{.UserMessage}}
Ответь одним коротким сообщением на русском, без списков.`,
		fallback: "Здравствуйте! 👋 Я помогу вам с подбором решения. Подскажите, как к вам обращаться?",
	},
	StateNameCollected: {
		system: `Ты — ассистент компании, продающей услуги автоматизации на Avito.
Клиента зовут {{.UserName}}. Обратись по имени и выясни, какая задача или проблема его интересует.
Диалог:
{{.History}}
Сообщение клиента: {{.UserMessage}}
Ответь одним коротким сообщением на русском.`,
		fallback: "Приятно познакомиться! Расскажите, какая задача вас интересует — что хотели бы автоматизировать?",
	},
	StateNeedIdentified: {
		system: `Ты — ассистент компании, продающей услуги автоматизации на Avito.
{{if .UserName}}Клиента зовут {{.UserName}}. {{end}}Его интересует: {{.PainPoint}}.
Коротко подтверди, что задача решаема, и попроси номер телефона, чтобы специалист связался и рассказал детали.
Диалог:
{{.History}}
Сообщение клиента: {{.UserMessage}}
Ответь одним коротким сообщением на русском.`,
		fallback: "Отлично, с такой задачей мы работаем! Оставьте, пожалуйста, номер телефона — специалист свяжется с вами и расскажет детали.",
	},
	StateQualified: {
		system: `Ты — ассистент компании, продающей услуги автоматизации на Avito.
{{if .UserName}}Клиента зовут {{.UserName}}. {{end}}Заявка клиента уже передана специалисту.
Ответь на вопрос клиента по существу, коротко и дружелюбно. Если вопрос требует специалиста, скажи, что специалист ответит при звонке.
Диалог:
{{.History}}
Сообщение клиента: {{.UserMessage}}`,
		fallback: "Спасибо за вопрос! Специалист ответит вам подробнее в ближайшее время. 😊",
	},
}

// NewTemplateRegistry parses all state prompts. An error here means a
// template is malformed and the process should not start.
func NewTemplateRegistry() (*TemplateRegistry, error) {
	r := &TemplateRegistry{prompts: make(map[State]statePrompt, len(rawPrompts))}
	for state, raw := range rawPrompts {
		tmpl, err := template.New(string(state)).Parse(raw.system)
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt: %w", state, err)
		}
		r.prompts[state] = statePrompt{system: tmpl, fallback: raw.fallback}
	}
	return r, nil
}

// promptKeyFor maps a dialogue state to the prompt used to answer in
// it. phone_collected shares the qualified prompt because the reply at
// that point is the handoff confirmation.
func promptKeyFor(state State) State {
	switch state {
	case StateStart, StateGreeting:
		return StateGreeting
	case StateNameCollected:
		return StateNameCollected
	case StateNeedIdentified:
		return StateNeedIdentified
	default:
		return StateQualified
	}
}

// Render executes the prompt for the given state.
func (r *TemplateRegistry) Render(state State, data PromptData) (string, error) {
	p, ok := r.prompts[promptKeyFor(state)]
	if !ok {
		return "", fmt.Errorf("no prompt for state %s", state)
	}
	var b strings.Builder
	if err := p.system.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", state, err)
	}
	return b.String(), nil
}

// Fallback returns the canned reply for a state.
func (r *TemplateRegistry) Fallback(state State) string {
	p, ok := r.prompts[promptKeyFor(state)]
	if !ok {
		return r.prompts[StateQualified].fallback
	}
	return p.fallback
}

// ConfirmationReply is sent the moment a chat becomes qualified. It
// always addresses the client by name.
func ConfirmationReply(c *Context) string {
	interest := c.ProductInterest
	if interest == "" {
		interest = "автоматизации"
	}
	thanks := "Спасибо! ✅"
	if c.UserName != "" {
		thanks = fmt.Sprintf("Спасибо, %s! ✅", c.UserName)
	}
	return fmt.Sprintf(
		"%s\n\nЯ передал вашу заявку специалисту по %s, он свяжется с вами в течение часа.\n\nЕсли у вас есть вопросы, могу ответить прямо сейчас! 😊",
		thanks, interest)
}

// ImageReply acknowledges a non-text message without running the
// pipeline.
const ImageReply = "Спасибо за фото! Чтобы я мог помочь, опишите, пожалуйста, вашу задачу текстом. 🙂"
