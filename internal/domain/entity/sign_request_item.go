package entity

import "time"

// ItemState is the per-signer sub-state of a sign request
type ItemState string

const (
	ItemStateSent      ItemState = "sent"
	ItemStateCompleted ItemState = "completed"
	ItemStateRefused   ItemState = "refused"
	ItemStateCanceled  ItemState = "canceled"
)

var itemTransitions = map[ItemState][]ItemState{
	ItemStateSent: {ItemStateCompleted, ItemStateRefused, ItemStateCanceled},
}

func (s ItemState) IsTerminal() bool {
	_, ok := itemTransitions[s]
	return !ok
}

func (s ItemState) CanTransitionTo(to ItemState) bool {
	for _, allowed := range itemTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SignRequestItem is one signer's part of a sign request
type SignRequestItem struct {
	ID            int64       `json:"id"`
	RequestID     int64       `json:"sign_request_id"`
	PartnerID     int64       `json:"partner_id"`
	SignerName    string      `json:"signer_name"`
	SignerEmail   string      `json:"signer_email"`
	Role          string      `json:"role"`
	AccessToken   AccessToken `json:"-"`
	AccessViaLink bool        `json:"access_via_link"`
	State         ItemState   `json:"state"`
	SigningDate   *time.Time  `json:"signing_date,omitempty"`
	SignatureRef  string      `json:"signature_ref,omitempty"`
	RefusalReason string      `json:"refusal_reason,omitempty"`
	Latitude      float64     `json:"latitude"`
	Longitude     float64     `json:"longitude"`
	IsMailSent    bool        `json:"is_mail_sent"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (i *SignRequestItem) transitionTo(to ItemState) error {
	if !i.State.CanTransitionTo(to) {
		return NewStateConflictError("sign request item %d cannot move from %s to %s", i.ID, i.State, to)
	}
	i.State = to
	return nil
}

// Sign completes the item with the stored signature payload reference
func (i *SignRequestItem) Sign(signatureRef string, at time.Time) error {
	if signatureRef == "" {
		return NewValidationError("signature is required")
	}
	if err := i.transitionTo(ItemStateCompleted); err != nil {
		return err
	}
	i.SignatureRef = signatureRef
	i.SigningDate = &at
	return nil
}

func (i *SignRequestItem) Refuse(reason string, at time.Time) error {
	if err := i.transitionTo(ItemStateRefused); err != nil {
		return err
	}
	i.RefusalReason = reason
	i.SigningDate = &at
	return nil
}

// Cancel moves the item to canceled. With revokeAccess the token is replaced so
// previously issued links fail immediately.
func (i *SignRequestItem) Cancel(revokeAccess bool) error {
	if err := i.transitionTo(ItemStateCanceled); err != nil {
		return err
	}
	if revokeAccess {
		i.AccessToken = NewAccessToken()
	}
	return nil
}

// CheckAccess validates a presented token. The token is only honored while the item is sent.
func (i *SignRequestItem) CheckAccess(presented string) error {
	matched := i.AccessToken.Matches(presented)
	if !matched || i.State != ItemStateSent {
		return ErrAccessDenied
	}
	return nil
}

// PinLocation stores the signer's coordinates the first time they are known
func (i *SignRequestItem) PinLocation(geo GeoPoint) bool {
	if !geo.Known || i.Latitude != 0 || i.Longitude != 0 {
		return false
	}
	i.Latitude = geo.Latitude
	i.Longitude = geo.Longitude
	return true
}

// FindItemByToken returns the item whose token matches presented. Every item is
// compared so the lookup time does not depend on which one matched.
func FindItemByToken(items []*SignRequestItem, presented string) *SignRequestItem {
	var found *SignRequestItem
	for _, item := range items {
		if item.AccessToken.Matches(presented) && found == nil {
			found = item
		}
	}
	return found
}

// ItemEventKind names a terminal item transition reported to the parent request
type ItemEventKind string

const (
	ItemEventCompleted ItemEventKind = "completed"
	ItemEventRefused   ItemEventKind = "refused"
	ItemEventCanceled  ItemEventKind = "canceled"
)

// ItemEvent is passed from the item state machine to its request after a terminal transition
type ItemEvent struct {
	Kind      ItemEventKind
	RequestID int64
	ItemID    int64
	PartnerID int64
	Reason    string
	Actor     ActorContext
}
