package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSignature is returned when the webhook signature is missing or wrong
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload is returned when the webhook body cannot be parsed
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrMissingCustomData is returned when an event lacks the user it belongs to
	ErrMissingCustomData = errors.New("missing custom data")
	// ErrSubscriptionNotFound is returned when no subscription is known
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Event names sent by Lemon Squeezy
const (
	EventOrderCreated               = "order_created"
	EventOrderRefunded              = "order_refunded"
	EventSubscriptionCreated        = "subscription_created"
	EventSubscriptionUpdated        = "subscription_updated"
	EventSubscriptionCancelled      = "subscription_cancelled"
	EventSubscriptionResumed        = "subscription_resumed"
	EventSubscriptionExpired        = "subscription_expired"
	EventSubscriptionPaused         = "subscription_paused"
	EventSubscriptionUnpaused       = "subscription_unpaused"
	EventSubscriptionPaymentSuccess = "subscription_payment_success"
)

var subscriptionEvents = map[string]bool{
	EventSubscriptionCreated:   true,
	EventSubscriptionUpdated:   true,
	EventSubscriptionCancelled: true,
	EventSubscriptionResumed:   true,
	EventSubscriptionExpired:   true,
	EventSubscriptionPaused:    true,
	EventSubscriptionUnpaused:  true,
}

// Outcome is what processing an event did
type Outcome string

const (
	OutcomeProcessed      Outcome = "processed"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeUnknownVariant Outcome = "unknown_variant"
)

// Result describes a handled webhook event
type Result struct {
	EventKey  string  `json:"event_key"`
	EventName string  `json:"event_name"`
	Outcome   Outcome `json:"outcome"`
	Credits   int64   `json:"credits_granted"`
}

// Duplicate reports whether the event had already been processed
func (r *Result) Duplicate() bool {
	return r.Outcome == OutcomeDuplicate
}

// PurchaseStatus is the state of a one-time order
type PurchaseStatus string

const (
	PurchaseStatusPaid     PurchaseStatus = "paid"
	PurchaseStatusRefunded PurchaseStatus = "refunded"
)

// Purchase is a recorded order
type Purchase struct {
	ID          int64          `json:"id"`
	OrderID     string         `json:"order_id"`
	UserID      uuid.UUID      `json:"user_id"`
	WorkspaceID *uuid.UUID     `json:"workspace_id,omitempty"`
	VariantID   string         `json:"variant_id"`
	Credits     int64          `json:"credits"`
	Status      PurchaseStatus `json:"status"`
	TotalCents  int64          `json:"total_cents"`
	Currency    string         `json:"currency"`
	CreatedAt   time.Time      `json:"created_at"`
	RefundedAt  *time.Time     `json:"refunded_at,omitempty"`
}

// Subscription mirrors the provider's subscription state
type Subscription struct {
	ID             int64      `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	UserID         uuid.UUID  `json:"user_id"`
	WorkspaceID    *uuid.UUID `json:"workspace_id,omitempty"`
	VariantID      string     `json:"variant_id"`
	PlanName       string     `json:"plan_name,omitempty"`
	MonthlyCredits int64      `json:"monthly_credits"`
	Status         string     `json:"status"`
	RenewsAt       *time.Time `json:"renews_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// providerID accepts both JSON numbers and strings, as the provider mixes them
type providerID string

func (id *providerID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = providerID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = providerID(n.String())
	return nil
}

// webhookPayload is the subset of the Lemon Squeezy envelope the service reads
type webhookPayload struct {
	Meta struct {
		EventName  string            `json:"event_name"`
		CustomData map[string]string `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         providerID      `json:"id"`
		Type       string          `json:"type"`
		Attributes eventAttributes `json:"attributes"`
	} `json:"data"`

	digest string
}

type eventAttributes struct {
	Status         string     `json:"status"`
	Total          int64      `json:"total"`
	Currency       string     `json:"currency"`
	VariantID      providerID `json:"variant_id"`
	SubscriptionID providerID `json:"subscription_id"`
	RenewsAt       *time.Time `json:"renews_at"`
	EndsAt         *time.Time `json:"ends_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
	FirstOrderItem struct {
		VariantID providerID `json:"variant_id"`
	} `json:"first_order_item"`
}

func parsePayload(body []byte) (*webhookPayload, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.Meta.EventName = strings.TrimSpace(p.Meta.EventName)
	if p.Meta.EventName == "" {
		return nil, fmt.Errorf("%w: meta.event_name is required", ErrInvalidPayload)
	}
	if p.Data.ID == "" {
		return nil, fmt.Errorf("%w: data.id is required", ErrInvalidPayload)
	}
	sum := sha256.Sum256(body)
	p.digest = hex.EncodeToString(sum[:8])
	return &p, nil
}

// eventKey is the idempotency key of an event. Orders and invoices are keyed
// on their own id. Subscription lifecycle events reuse the subscription id,
// so they are keyed on the revision they carry: updated_at, or the body
// digest when it is absent.
func (p *webhookPayload) eventKey() string {
	key := p.Meta.EventName + ":" + string(p.Data.ID)
	if !subscriptionEvents[p.Meta.EventName] {
		return key
	}
	if at := p.Data.Attributes.UpdatedAt; at != nil {
		return key + ":" + at.UTC().Format(time.RFC3339Nano)
	}
	return key + ":" + p.digest
}

// owner reads user_id and the optional workspace_id from custom data
func (p *webhookPayload) owner() (uuid.UUID, *uuid.UUID, error) {
	raw := strings.TrimSpace(p.Meta.CustomData["user_id"])
	if raw == "" {
		return uuid.Nil, nil, fmt.Errorf("%w: user_id is required", ErrMissingCustomData)
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: user_id is not a uuid", ErrMissingCustomData)
	}

	raw = strings.TrimSpace(p.Meta.CustomData["workspace_id"])
	if raw == "" {
		return userID, nil, nil
	}
	wsID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: workspace_id is not a uuid", ErrMissingCustomData)
	}
	return userID, &wsID, nil
}

// metricEventLabel bounds the event label to known names
func metricEventLabel(name string) string {
	switch {
	case name == EventOrderCreated, name == EventOrderRefunded, name == EventSubscriptionPaymentSuccess:
		return name
	case subscriptionEvents[name]:
		return name
	}
	return "other"
}
