package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// EmailType tags a send with its category. The category decides which
// recipient preference, if any, can suppress it.
type EmailType string

const (
	TypeVerification      EmailType = "verification"
	TypePasswordReset     EmailType = "password_reset"
	TypeWelcome           EmailType = "welcome"
	TypeNotification      EmailType = "notification"
	TypeApplicationUpdate EmailType = "application_update"
	TypeJobAlert          EmailType = "job_alert"
	TypeQuoteUpdate       EmailType = "quote_update"
	TypeMarketing         EmailType = "marketing"
	TypeNewsletter        EmailType = "newsletter"
)

// CategoryClass partitions email types into the three suppression classes.
type CategoryClass int

const (
	ClassTransactional CategoryClass = iota
	ClassNotification
	ClassMarketing
)

// Class returns the suppression class of the type. Empty and unknown types
// are transactional so that an untagged send is never silently dropped.
func (t EmailType) Class() CategoryClass {
	switch t {
	case TypeNotification, TypeApplicationUpdate, TypeJobAlert, TypeQuoteUpdate:
		return ClassNotification
	case TypeMarketing, TypeNewsletter:
		return ClassMarketing
	default:
		return ClassTransactional
	}
}

// IdentityKind distinguishes platform users from client accounts.
type IdentityKind string

const (
	IdentityUser   IdentityKind = "user"
	IdentityClient IdentityKind = "client"
)

// Identity references the recipient's owning account. The zero value means
// "no identity".
type Identity struct {
	Kind IdentityKind `json:"kind"`
	ID   string       `json:"id"`
}

// IsZero reports whether no identity is set.
func (i Identity) IsZero() bool { return i.ID == "" }

// Tag is a provider-side message tag.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers are extra MIME headers passed through to the provider.
type Headers map[string]string

// Recipients accepts either a single address or a list on the wire.
type Recipients []string

// UnmarshalJSON decodes `"a@b.c"` and `["a@b.c", ...]` alike.
func (r *Recipients) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = Recipients{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*r = Recipients(many)
	return nil
}

// Sentinel validation errors for SendRequest.
var (
	ErrNoRecipients   = errors.New("send request has no recipients")
	ErrNoSubject      = errors.New("send request has no subject")
	ErrBothIdentities = errors.New("send request cannot reference both a user and a client")
)

// SendRequest is the caller-facing description of one email. It doubles as
// the broker job payload.
type SendRequest struct {
	To          Recipients `json:"to"`
	Subject     string     `json:"subject"`
	HTML        string     `json:"html"`
	ReplyTo     string     `json:"replyTo,omitempty"`
	Tags        []Tag      `json:"tags,omitempty"`
	Headers     Headers    `json:"headers,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	EmailType   EmailType  `json:"emailType,omitempty"`
	UserID      string     `json:"userId,omitempty"`
	ClientID    string     `json:"clientId,omitempty"`
}

// Validate checks the structural invariants of the request.
func (r *SendRequest) Validate() error {
	if len(r.To) == 0 {
		return ErrNoRecipients
	}
	for _, to := range r.To {
		if strings.TrimSpace(to) == "" {
			return ErrNoRecipients
		}
	}
	if strings.TrimSpace(r.Subject) == "" {
		return ErrNoSubject
	}
	if r.UserID != "" && r.ClientID != "" {
		return ErrBothIdentities
	}
	return nil
}

// Identity returns the owning identity, or the zero Identity.
func (r *SendRequest) Identity() Identity {
	switch {
	case r.UserID != "":
		return Identity{Kind: IdentityUser, ID: r.UserID}
	case r.ClientID != "":
		return Identity{Kind: IdentityClient, ID: r.ClientID}
	default:
		return Identity{}
	}
}

// PrimaryRecipient is the address stored on tracking rows.
func (r *SendRequest) PrimaryRecipient() string {
	if len(r.To) == 0 {
		return ""
	}
	return r.To[0]
}

// Delay returns how long the request should wait before dispatch, clamped
// to zero.
func (r *SendRequest) Delay(now time.Time) time.Duration {
	if r.ScheduledAt == nil {
		return 0
	}
	d := r.ScheduledAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// SendResult is returned by a provider after it accepts a message.
type SendResult struct {
	MessageID string    `json:"message_id"`
	Provider  string    `json:"provider"`
	SentAt    time.Time `json:"sent_at"`
}
