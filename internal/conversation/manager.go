package conversation

import (
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smmassistant/avito-ai-platform/internal/observability/metrics"
	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

// Extractor pulls one field out of conversation text.
type Extractor interface {
	Extract(ctx context.Context, input string) (ExtractionResult, error)
}

// QualifiedLead is everything the CRM side needs about a freshly
// qualified chat.
type QualifiedLead struct {
	ChatID          string
	UserName        string
	Phone           string
	Email           string
	PainPoint       string
	ProductInterest string
	Summary         string
	Recommendation  string
	History         string
}

// LeadRecorder pushes a qualified lead into the CRM. Implementations
// must be safe to call from a background goroutine.
type LeadRecorder interface {
	RecordQualified(ctx context.Context, lead QualifiedLead) error
}

// Thresholds gate how confident an extraction must be before its value
// is written into the context.
type Thresholds struct {
	Name  float64
	Phone float64
	Need  float64
}

// A failing extractor is retried on later messages, but not forever.
const maxExtractionAttempts = 3

// needHistoryWindow is how many trailing messages the need extractor
// sees. The pain point rarely spans more than a couple of turns.
const needHistoryWindow = 5

const leadCreationTimeout = 60 * time.Second

// Manager drives the dialogue: it runs extraction, advances the state
// machine, generates the reply and hands qualified chats to the CRM.
type Manager struct {
	store      *ContextStore
	name       Extractor
	phone      Extractor
	need       Extractor
	templates  *TemplateRegistry
	llm        chatClient
	model      string
	recorder   LeadRecorder
	summarizer *Summarizer
	thresholds Thresholds
	logger     *logging.Logger
	metrics    *metrics.PipelineMetrics
}

// ManagerParams collects the dependencies of a Manager. All fields are
// required except recorder and llm, which may be nil in degraded mode.
type ManagerParams struct {
	Store      *ContextStore
	Name       Extractor
	Phone      Extractor
	Need       Extractor
	Templates  *TemplateRegistry
	LLM        chatClient
	Model      string
	Recorder   LeadRecorder
	Summarizer *Summarizer
	Thresholds Thresholds
	Logger     *logging.Logger
	Metrics    *metrics.PipelineMetrics
}

func NewManager(p ManagerParams) *Manager {
	return &Manager{
		store:      p.Store,
		name:       p.Name,
		phone:      p.Phone,
		need:       p.Need,
		templates:  p.Templates,
		llm:        p.LLM,
		model:      p.Model,
		recorder:   p.Recorder,
		summarizer: p.Summarizer,
		thresholds: p.Thresholds,
		logger:     p.Logger,
		metrics:    p.Metrics,
	}
}

// HandleMessage processes one inbound text message and returns the
// reply to send. The context is persisted before returning, so a send
// failure never loses extracted data.
func (m *Manager) HandleMessage(ctx context.Context, chatID, text string) (string, error) {
	c, err := m.store.Load(ctx, chatID)
	if err != nil {
		return "", err
	}
	c.AddMessage(RoleUser, text)

	m.runExtraction(ctx, c, text)

	for {
		prev := c.State
		c.Advance()
		if c.State == prev {
			break
		}
	}

	var reply string
	if c.State == StatePhoneCollected && !c.Metadata.LeadCreated {
		reply = ConfirmationReply(c)
		c.State = StateQualified
		c.Metadata.LeadCreated = true
		m.recordLeadAsync(c.clone())
	} else {
		reply = m.generateReply(ctx, c, text)
	}

	c.AddMessage(RoleBot, reply)
	if err := m.store.Save(ctx, c); err != nil {
		return "", err
	}
	return reply, nil
}

type extractionOutcome struct {
	field  string
	result ExtractionResult
	err    error
}

// runExtraction fires every applicable extractor concurrently and
// applies the results that clear their thresholds. Populated fields
// are never re-extracted.
func (m *Manager) runExtraction(ctx context.Context, c *Context, text string) {
	type job struct {
		field     string
		extractor Extractor
		input     string
		attempts  *int
	}
	var jobs []job
	att := &c.Metadata.ExtractionAttempts
	if c.UserName == "" && att.Name < maxExtractionAttempts {
		jobs = append(jobs, job{"name", m.name, text, &att.Name})
	}
	if c.Phone == "" && att.Phone < maxExtractionAttempts {
		jobs = append(jobs, job{"phone", m.phone, text, &att.Phone})
	}
	if c.PainPoint == "" && att.Need < maxExtractionAttempts {
		jobs = append(jobs, job{"need", m.need, c.HistoryText(needHistoryWindow), &att.Need})
	}
	if len(jobs) == 0 {
		return
	}

	results := make(chan extractionOutcome, len(jobs))
	for _, j := range jobs {
		j := j
		go func() {
			res, err := j.extractor.Extract(ctx, j.input)
			results <- extractionOutcome{field: j.field, result: res, err: err}
		}()
	}

	outcomes := make(map[string]extractionOutcome, len(jobs))
	for range jobs {
		o := <-results
		outcomes[o.field] = o
	}
	for _, j := range jobs {
		*j.attempts++
		o := outcomes[j.field]
		m.applyExtraction(c, o)
	}
}

func (m *Manager) applyExtraction(c *Context, o extractionOutcome) {
	if o.err != nil {
		m.logger.Error("extraction failed", "chat_id", c.ChatID, "field", o.field, "error", o.err)
		m.metrics.ObserveExtraction(o.field, "error")
		return
	}
	if o.result.Value == "" && o.result.Extra == "" {
		m.metrics.ObserveExtraction(o.field, "miss")
		return
	}
	var threshold float64
	switch o.field {
	case "name":
		threshold = m.thresholds.Name
	case "phone":
		threshold = m.thresholds.Phone
	case "need":
		threshold = m.thresholds.Need
	}
	if o.result.Confidence < threshold {
		m.logger.Debug("extraction below threshold",
			"chat_id", c.ChatID, "field", o.field,
			"confidence", o.result.Confidence, "reasoning", o.result.Reasoning)
		m.metrics.ObserveExtraction(o.field, "below_threshold")
		return
	}
	applied := false
	switch o.field {
	case "name":
		applied = c.SetUserName(o.result.Value)
	case "phone":
		applied = c.SetPhone(o.result.Value)
	case "need":
		applied = c.SetNeed(o.result.Value, o.result.Extra)
	}
	if applied {
		m.metrics.ObserveExtraction(o.field, "applied")
	}
}

// generateReply asks the model for a state-appropriate answer and
// falls back to the canned reply on any failure.
func (m *Manager) generateReply(ctx context.Context, c *Context, text string) string {
	data := PromptData{
		UserName:        c.UserName,
		UserMessage:     text,
		History:         c.HistoryText(10),
		PainPoint:       c.PainPoint,
		ProductInterest: c.ProductInterest,
	}
	prompt, err := m.templates.Render(c.State, data)
	if err != nil {
		m.logger.Error("prompt render failed", "chat_id", c.ChatID, "state", string(c.State), "error", err)
		return m.templates.Fallback(c.State)
	}
	if m.llm == nil {
		return m.templates.Fallback(c.State)
	}
	resp, err := m.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		m.logger.Error("reply generation failed", "chat_id", c.ChatID, "state", string(c.State), "error", err)
		return m.templates.Fallback(c.State)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return m.templates.Fallback(c.State)
	}
	return reply
}

// recordLeadAsync hands the lead to the CRM off the hot path. The
// goroutine has its own deadline and swallows panics so a CRM bug can
// never take a worker down. Failures are logged and counted only; the
// chat keeps going either way.
func (m *Manager) recordLeadAsync(c *Context) {
	if m.recorder == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("lead recording panicked", "chat_id", c.ChatID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), leadCreationTimeout)
		defer cancel()

		lead := QualifiedLead{
			ChatID:          c.ChatID,
			UserName:        c.UserName,
			Phone:           c.Phone,
			Email:           c.Email,
			PainPoint:       c.PainPoint,
			ProductInterest: c.ProductInterest,
			History:         c.HistoryText(0),
		}
		if m.summarizer != nil {
			lead.Summary = m.summarizer.Summarize(ctx, c)
			lead.Recommendation = m.summarizer.Recommend(ctx, c)
		}
		if err := m.recorder.RecordQualified(ctx, lead); err != nil {
			m.logger.Error("lead recording failed", "chat_id", c.ChatID, "error", err)
		}
	}()
}

// clone copies the context for use outside the worker goroutine.
func (c *Context) clone() *Context {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	return &cp
}
