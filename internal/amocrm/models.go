package amocrm

import "time"

// Tokens is the OAuth2 token pair cached in Redis.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token needs a refresh.
func (t Tokens) Expired() bool {
	return time.Now().After(t.ExpiresAt.Add(-time.Minute))
}

// Contact is the subset of an amoCRM contact the pipeline needs.
type Contact struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Lead is the subset of an amoCRM lead the pipeline needs.
type Lead struct {
	ID       int64 `json:"id"`
	StatusID int64 `json:"status_id"`
}

// CustomField mirrors amoCRM's custom_fields_values entries.
type CustomField struct {
	FieldID   int64              `json:"field_id,omitempty"`
	FieldCode string             `json:"field_code,omitempty"`
	Values    []CustomFieldValue `json:"values"`
}

type CustomFieldValue struct {
	Value string `json:"value"`
}

// CreateLeadRequest describes a new lead.
type CreateLeadRequest struct {
	Name       string
	StatusID   int64
	PipelineID int64
	Price      int64
	ContactID  int64
	Fields     []CustomField
}

// CreateContactRequest describes a new contact.
type CreateContactRequest struct {
	Name  string
	Phone string
	Email string
}
