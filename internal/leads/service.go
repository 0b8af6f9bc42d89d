package leads

import (
	"context"
	"fmt"
	"strings"

	"github.com/smmassistant/avito-ai-platform/internal/amocrm"
	"github.com/smmassistant/avito-ai-platform/internal/conversation"
	"github.com/smmassistant/avito-ai-platform/internal/observability/metrics"
	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

// crmClient is the slice of the amoCRM client the service uses.
type crmClient interface {
	FindContactByPhone(ctx context.Context, phone string) (*amocrm.Contact, error)
	FindLeadsByContact(ctx context.Context, contactID, pipelineID int64) ([]amocrm.Lead, error)
	CreateContact(ctx context.Context, req amocrm.CreateContactRequest) (int64, error)
	CreateLead(ctx context.Context, req amocrm.CreateLeadRequest) (int64, error)
	UpdateLeadStatus(ctx context.Context, leadID, statusID int64) error
	AddNote(ctx context.Context, leadID int64, text string) error
}

// Service turns qualified conversations into amoCRM leads. Upserts
// are idempotent per chat: the dedup cache catches repeats first, and
// a contact search catches chats whose cache entry expired.
type Service struct {
	crm        crmClient
	cache      *Cache
	qualifier  *Qualifier
	pipelineID int64
	logger     *logging.Logger
	metrics    *metrics.PipelineMetrics
}

func NewService(crm crmClient, cache *Cache, qualifier *Qualifier, pipelineID int64, logger *logging.Logger, m *metrics.PipelineMetrics) *Service {
	return &Service{
		crm:        crm,
		cache:      cache,
		qualifier:  qualifier,
		pipelineID: pipelineID,
		logger:     logger,
		metrics:    m,
	}
}

// RecordQualified is called by the conversation layer once per chat
// when it reaches the qualified state.
func (s *Service) RecordQualified(ctx context.Context, lead conversation.QualifiedLead) error {
	result, err := s.upsert(ctx, lead)
	if err != nil {
		s.metrics.ObserveLeadUpsert("error")
		return err
	}
	s.metrics.ObserveLeadUpsert(result)
	return nil
}

func (s *Service) upsert(ctx context.Context, lead conversation.QualifiedLead) (string, error) {
	entry, err := s.cache.Get(ctx, lead.ChatID)
	if err != nil {
		// A broken cache must not block lead creation; the contact
		// search below still prevents duplicates.
		s.logger.Error("lead cache unavailable", "chat_id", lead.ChatID, "error", err)
	}
	if entry != nil {
		s.logger.Debug("lead already recorded",
			"chat_id", lead.ChatID, "lead_id", entry.LeadID)
		return "cache_hit", nil
	}

	qual := s.qualifier.Qualify(ctx, lead.History)

	contact, err := s.crm.FindContactByPhone(ctx, searchQuery(lead))
	if err != nil {
		return "", fmt.Errorf("search contact for chat %s: %w", lead.ChatID, err)
	}
	if contact != nil {
		existing, err := s.crm.FindLeadsByContact(ctx, contact.ID, s.pipelineID)
		if err != nil {
			return "", fmt.Errorf("search leads for contact %d: %w", contact.ID, err)
		}
		if len(existing) > 0 {
			found := existing[0]
			return s.refresh(ctx, lead, CacheEntry{
				LeadID:    found.ID,
				ContactID: contact.ID,
				StatusID:  found.StatusID,
			}, qual)
		}
		return s.create(ctx, lead, qual, contact.ID)
	}

	contactID, err := s.crm.CreateContact(ctx, amocrm.CreateContactRequest{
		Name:  contactName(lead),
		Phone: lead.Phone,
		Email: lead.Email,
	})
	if err != nil {
		return "", fmt.Errorf("create contact for chat %s: %w", lead.ChatID, err)
	}
	return s.create(ctx, lead, qual, contactID)
}

// refresh moves an existing lead forward if the new qualification
// outranks its current status, and always leaves a note about the
// repeat contact.
func (s *Service) refresh(ctx context.Context, lead conversation.QualifiedLead, entry CacheEntry, qual Qualification) (string, error) {
	result := "unchanged"
	if ShouldAdvance(entry.StatusID, qual.Stage) {
		if err := s.crm.UpdateLeadStatus(ctx, entry.LeadID, qual.Stage.StatusID()); err != nil {
			return "", fmt.Errorf("advance lead %d: %w", entry.LeadID, err)
		}
		entry.StatusID = qual.Stage.StatusID()
		result = "updated"
		s.logger.Info("lead advanced",
			"chat_id", lead.ChatID, "lead_id", entry.LeadID, "stage", string(qual.Stage))
	}
	if err := s.crm.AddNote(ctx, entry.LeadID, noteText(lead, qual)); err != nil {
		s.logger.Error("lead note failed", "lead_id", entry.LeadID, "error", err)
	}
	if err := s.cache.Put(ctx, lead.ChatID, entry); err != nil {
		s.logger.Error("lead cache write failed", "chat_id", lead.ChatID, "error", err)
	}
	return result, nil
}

func (s *Service) create(ctx context.Context, lead conversation.QualifiedLead, qual Qualification, contactID int64) (string, error) {
	leadID, err := s.crm.CreateLead(ctx, amocrm.CreateLeadRequest{
		Name:       leadName(lead),
		StatusID:   qual.Stage.StatusID(),
		PipelineID: s.pipelineID,
		ContactID:  contactID,
	})
	if err != nil {
		return "", fmt.Errorf("create lead for chat %s: %w", lead.ChatID, err)
	}
	if err := s.crm.AddNote(ctx, leadID, noteText(lead, qual)); err != nil {
		s.logger.Error("lead note failed", "lead_id", leadID, "error", err)
	}
	if err := s.cache.Put(ctx, lead.ChatID, CacheEntry{
		LeadID:    leadID,
		ContactID: contactID,
		StatusID:  qual.Stage.StatusID(),
	}); err != nil {
		s.logger.Error("lead cache write failed", "chat_id", lead.ChatID, "error", err)
	}
	s.logger.Info("lead created",
		"chat_id", lead.ChatID, "lead_id", leadID, "stage", string(qual.Stage),
		"temperature", string(qual.Temperature))
	return "created", nil
}

// searchQuery dedups by phone when we have one, otherwise by the
// synthetic per-chat marker stored on the contact name.
func searchQuery(lead conversation.QualifiedLead) string {
	if lead.Phone != "" {
		return lead.Phone
	}
	return "avito_user_" + chatTag(lead.ChatID)
}

func contactName(lead conversation.QualifiedLead) string {
	if lead.UserName != "" {
		return lead.UserName
	}
	return "avito_user_" + chatTag(lead.ChatID)
}

func leadName(lead conversation.QualifiedLead) string {
	interest := lead.ProductInterest
	if interest == "" {
		interest = DetectProduct(lead.History)
	}
	if interest == "" {
		interest = "автоматизация"
	}
	return "Заявка с Avito: " + interest
}

func chatTag(chatID string) string {
	if len(chatID) > 8 {
		return chatID[:8]
	}
	return chatID
}

func noteText(lead conversation.QualifiedLead, qual Qualification) string {
	var b strings.Builder
	b.WriteString("Заявка из чата Avito\n")
	fmt.Fprintf(&b, "Этап: %s, температура: %s\n", qual.Stage, qual.Temperature)
	if qual.Reason != "" {
		fmt.Fprintf(&b, "Обоснование: %s\n", qual.Reason)
	}
	if lead.UserName != "" {
		fmt.Fprintf(&b, "Имя: %s\n", lead.UserName)
	}
	if lead.Phone != "" {
		fmt.Fprintf(&b, "Телефон: %s\n", lead.Phone)
	}
	if lead.PainPoint != "" {
		fmt.Fprintf(&b, "Задача: %s\n", lead.PainPoint)
	}
	if lead.Summary != "" {
		fmt.Fprintf(&b, "\nРезюме:\n%s\n", lead.Summary)
	}
	if lead.Recommendation != "" {
		fmt.Fprintf(&b, "\nРекомендации перед звонком:\n%s\n", lead.Recommendation)
	}
	if lead.History != "" {
		fmt.Fprintf(&b, "\nИстория диалога:\n%s", lead.History)
	}
	return b.String()
}
