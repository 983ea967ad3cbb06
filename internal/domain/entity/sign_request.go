package entity

import (
	"fmt"
	"time"
)

// RequestState is the overall state of a sign request
type RequestState string

const (
	RequestStateShared   RequestState = "shared"
	RequestStateSent     RequestState = "sent"
	RequestStateSigned   RequestState = "signed"
	RequestStateRefused  RequestState = "refused"
	RequestStateCanceled RequestState = "canceled"
	RequestStateExpired  RequestState = "expired"
)

// DefaultValidityMonths is the link validity applied when a request has no explicit validity
const DefaultValidityMonths = 6

var requestTransitions = map[RequestState][]RequestState{
	RequestStateShared: {RequestStateSent, RequestStateCanceled},
	RequestStateSent:   {RequestStateSigned, RequestStateRefused, RequestStateCanceled, RequestStateExpired},
}

// Valid reports whether s is a known request state
func (s RequestState) Valid() bool {
	switch s {
	case RequestStateShared, RequestStateSent, RequestStateSigned,
		RequestStateRefused, RequestStateCanceled, RequestStateExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s
func (s RequestState) IsTerminal() bool {
	_, ok := requestTransitions[s]
	return !ok
}

func (s RequestState) CanTransitionTo(to RequestState) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SignRequest is a document sent to one or more signers
type SignRequest struct {
	ID                int64        `json:"id"`
	Reference         string       `json:"reference"`
	Subject           string       `json:"subject"`
	Message           string       `json:"message,omitempty"`
	AccessToken       AccessToken  `json:"-"`
	State             RequestState `json:"state"`
	Validity          *time.Time   `json:"validity,omitempty"`
	Reminder          int          `json:"reminder"` // days between reminders, 0 disables them
	LastReminder      time.Time    `json:"last_reminder"`
	CompletedDocument string       `json:"completed_document,omitempty"`
	CompletionDate    *time.Time   `json:"completion_date,omitempty"`
	EncryptionPending bool         `json:"encryption_pending"`
	CCEmails          []string     `json:"cc_emails,omitempty"`
	Active            bool         `json:"active"`
	CreatedBy         *int64       `json:"created_by,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// TransitionTo moves the request to the given state or returns a state conflict
func (r *SignRequest) TransitionTo(to RequestState) error {
	if !r.State.CanTransitionTo(to) {
		return NewStateConflictError("sign request %d cannot move from %s to %s", r.ID, r.State, to)
	}
	r.State = to
	return nil
}

// Cancel regenerates the access token and moves the request to canceled, so every
// link handed out before the cancellation stops working.
func (r *SignRequest) Cancel() error {
	if err := r.TransitionTo(RequestStateCanceled); err != nil {
		return err
	}
	r.AccessToken = NewAccessToken()
	return nil
}

// DefaultValidity is the validity applied to requests created without one
func (r *SignRequest) DefaultValidity() time.Time {
	return DateOf(r.CreatedAt).AddDate(0, DefaultValidityMonths, 0)
}

// LinkExpiry is the instant after which signed access links stop being accepted
func (r *SignRequest) LinkExpiry() time.Time {
	if r.Validity != nil {
		// links stay usable through the whole last valid day
		return DateOf(*r.Validity).AddDate(0, 0, 1)
	}
	return r.DefaultValidity()
}

// HasDefaultValidity reports whether the validity is the implicit six months, which
// access mails do not mention.
func (r *SignRequest) HasDefaultValidity() bool {
	return r.Validity == nil || DateOf(*r.Validity).Equal(r.DefaultValidity())
}

// IsExpiredAt reports whether the validity date lies strictly before now's date
func (r *SignRequest) IsExpiredAt(now time.Time) bool {
	if r.Validity == nil {
		return false
	}
	return DateOf(*r.Validity).Before(DateOf(now))
}

// ReminderDue reports whether the reminder interval has elapsed since the last reminder
func (r *SignRequest) ReminderDue(now time.Time) bool {
	if r.Reminder <= 0 {
		return false
	}
	next := DateOf(r.LastReminder).AddDate(0, 0, r.Reminder)
	return !DateOf(now).Before(next)
}

// RequestStats summarises item progress
type RequestStats struct {
	Wait      int    `json:"nb_wait"`
	Closed    int    `json:"nb_closed"`
	Total     int    `json:"nb_total"`
	Progress  string `json:"progress"`
	StartSign bool   `json:"start_sign"`
}

// ComputeStats counts items still waiting and already completed; canceled items
// are not part of the total.
func ComputeStats(items []*SignRequestItem) RequestStats {
	var stats RequestStats
	for _, item := range items {
		switch item.State {
		case ItemStateSent:
			stats.Wait++
			stats.Total++
		case ItemStateCompleted:
			stats.Closed++
			stats.Total++
		case ItemStateRefused:
			stats.Total++
		}
	}
	stats.Progress = fmt.Sprintf("%d/%d", stats.Closed, stats.Total)
	stats.StartSign = stats.Closed > 0
	return stats
}

// AllSigned reports whether every non-canceled item is completed and at least one is
func AllSigned(items []*SignRequestItem) bool {
	completed := 0
	for _, item := range items {
		switch item.State {
		case ItemStateCanceled:
			continue
		case ItemStateCompleted:
			completed++
		default:
			return false
		}
	}
	return completed > 0
}

// DateOf truncates t to its UTC calendar day
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
