package domain

import "time"

// EmailPreferences holds one recipient's opt-in toggles and the opaque token
// that authorises changes to them.
type EmailPreferences struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id,omitempty" db:"user_id"`
	ClientID         string    `json:"client_id,omitempty" db:"client_id"`
	Marketing        bool      `json:"marketing" db:"marketing"`
	Notifications    bool      `json:"notifications" db:"notifications"`
	JobAlerts        bool      `json:"job_alerts" db:"job_alerts"`
	QuoteUpdates     bool      `json:"quote_updates" db:"quote_updates"`
	UnsubscribeToken string    `json:"-" db:"unsubscribe_token"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Allows reports whether the toggles permit an email of type t.
func (p *EmailPreferences) Allows(t EmailType) bool {
	switch t.Class() {
	case ClassMarketing:
		return p.Marketing
	case ClassNotification:
		switch t {
		case TypeJobAlert:
			return p.JobAlerts
		case TypeQuoteUpdate:
			return p.QuoteUpdates
		default:
			return p.Notifications
		}
	default:
		return true
	}
}

// PreferenceUpdate is a partial change; nil fields are left as they are.
type PreferenceUpdate struct {
	Marketing     *bool `json:"marketing,omitempty"`
	Notifications *bool `json:"notifications,omitempty"`
	JobAlerts     *bool `json:"job_alerts,omitempty"`
	QuoteUpdates  *bool `json:"quote_updates,omitempty"`
}

// Apply copies the set fields onto p.
func (u PreferenceUpdate) Apply(p *EmailPreferences) {
	if u.Marketing != nil {
		p.Marketing = *u.Marketing
	}
	if u.Notifications != nil {
		p.Notifications = *u.Notifications
	}
	if u.JobAlerts != nil {
		p.JobAlerts = *u.JobAlerts
	}
	if u.QuoteUpdates != nil {
		p.QuoteUpdates = *u.QuoteUpdates
	}
}

// IsEmpty reports whether the update changes nothing.
func (u PreferenceUpdate) IsEmpty() bool {
	return u.Marketing == nil && u.Notifications == nil && u.JobAlerts == nil && u.QuoteUpdates == nil
}
