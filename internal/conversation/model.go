package conversation

import (
	"fmt"
	"strings"
	"time"
)

// State is the qualification stage of a chat. Transitions only move
// forward; a chat never returns to an earlier state.
type State string

const (
	StateStart          State = "start"
	StateGreeting       State = "greeting"
	StateNameCollected  State = "name_collected"
	StateNeedIdentified State = "need_identified"
	StatePhoneCollected State = "phone_collected"
	StateQualified      State = "qualified"
)

var stateRank = map[State]int{
	StateStart:          0,
	StateGreeting:       1,
	StateNameCollected:  2,
	StateNeedIdentified: 3,
	StatePhoneCollected: 4,
	StateQualified:      5,
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// Before reports whether s precedes other in the qualification flow.
func (s State) Before(other State) bool {
	return stateRank[s] < stateRank[other]
}

// Role identifies the author of a stored message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is a single utterance in the conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ExtractionAttempts counts how many times each extractor has run for
// the chat, so repeated failures can be capped.
type ExtractionAttempts struct {
	Name  int `json:"name"`
	Phone int `json:"phone"`
	Need  int `json:"need"`
}

// Metadata carries bookkeeping that is persisted alongside the context.
type Metadata struct {
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	MessageCount       int                `json:"message_count"`
	ExtractionAttempts ExtractionAttempts `json:"extraction_attempts"`
	LeadCreated        bool               `json:"lead_created"`
}

// Context is the full persisted state of one chat: the FSM state, the
// fields extracted so far and the message history.
type Context struct {
	ChatID          string    `json:"chat_id"`
	State           State     `json:"state"`
	UserName        string    `json:"user_name,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Email           string    `json:"email,omitempty"`
	PainPoint       string    `json:"pain_point,omitempty"`
	ProductInterest string    `json:"product_interest,omitempty"`
	Messages        []Message `json:"messages"`
	Metadata        Metadata  `json:"metadata"`
}

// NewContext returns a fresh context in the start state.
func NewContext(chatID string) *Context {
	now := time.Now().UTC()
	return &Context{
		ChatID: chatID,
		State:  StateStart,
		Metadata: Metadata{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// AddMessage appends an utterance to the history and updates counters.
func (c *Context) AddMessage(role Role, text string) {
	now := time.Now().UTC()
	c.Messages = append(c.Messages, Message{Role: role, Text: text, Timestamp: now})
	c.Metadata.MessageCount++
	c.Metadata.UpdatedAt = now
}

// SetUserName stores the name once. Populated fields are never
// overwritten by later extractions.
func (c *Context) SetUserName(name string) bool {
	if c.UserName != "" || name == "" {
		return false
	}
	c.UserName = name
	return true
}

// SetPhone stores the normalized phone once.
func (c *Context) SetPhone(phone string) bool {
	if c.Phone != "" || phone == "" {
		return false
	}
	c.Phone = phone
	return true
}

// SetNeed stores the pain point and, optionally, the product interest.
// The pain point is write-once; product interest may be filled in later
// if it arrived empty.
func (c *Context) SetNeed(painPoint, productInterest string) bool {
	set := false
	if c.PainPoint == "" && painPoint != "" {
		c.PainPoint = painPoint
		set = true
	}
	if c.ProductInterest == "" && productInterest != "" {
		c.ProductInterest = productInterest
		set = true
	}
	return set
}

// HasRequiredData reports whether everything needed to hand the chat
// to a manager is collected. The phone is the hard requirement; a name
// makes the handoff warmer but never blocks it.
func (c *Context) HasRequiredData() bool {
	return c.Phone != "" && c.PainPoint != ""
}

// Advance recomputes the state from the populated fields. It is called
// after each round of extraction and never moves backwards. The
// greeting state can jump straight to need_identified when the client
// leads with their problem before giving a name.
func (c *Context) Advance() {
	next := c.State
	switch c.State {
	case StateStart:
		next = StateGreeting
	case StateGreeting:
		if c.PainPoint != "" {
			next = StateNeedIdentified
		} else if c.UserName != "" {
			next = StateNameCollected
		}
	case StateNameCollected:
		if c.PainPoint != "" {
			next = StateNeedIdentified
		}
	case StateNeedIdentified:
		if c.Phone != "" {
			next = StatePhoneCollected
		}
	}
	if c.State.Before(next) {
		c.State = next
	}
}

// HistoryText renders the last n messages as dialogue lines for
// prompting. n <= 0 renders the whole history.
func (c *Context) HistoryText(n int) string {
	msgs := c.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		label := "Клиент"
		if m.Role == RoleBot {
			label = "Бот"
		}
		fmt.Fprintf(&b, "%s: %s", label, m.Text)
	}
	return b.String()
}
