package model

import (
	"encoding/json"
	"time"
)

// EndpointStatus is the lifecycle state of a registered webhook endpoint.
type EndpointStatus string

const (
	EndpointActive   EndpointStatus = "active"
	EndpointInactive EndpointStatus = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s EndpointStatus) Valid() bool {
	return s == EndpointActive || s == EndpointInactive
}

// Endpoint is a tenant's registered webhook receiver.
type Endpoint struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"organizationId"`
	URL             string         `json:"url"`
	Events          []string       `json:"events"`
	Secret          string         `json:"secret,omitempty"`
	Filter          string         `json:"filter,omitempty"`
	Description     string         `json:"description,omitempty"`
	Status          EndpointStatus `json:"status"`
	LastDeliveredAt *time.Time     `json:"lastDeliveredAt"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Subscribes reports whether the endpoint's event set contains eventType.
func (e Endpoint) Subscribes(eventType string) bool {
	for _, ev := range e.Events {
		if ev == eventType {
			return true
		}
	}
	return false
}

// Redacted returns a copy with the secret cleared. Every read path except
// creation returns redacted endpoints.
func (e Endpoint) Redacted() Endpoint {
	e.Secret = ""
	e.Events = append([]string(nil), e.Events...)
	return e
}

// EndpointInput is the registration payload.
type EndpointInput struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Secret      string   `json:"secret,omitempty"`
	Filter      string   `json:"filter,omitempty"`
	Description string   `json:"description,omitempty"`
}

// EndpointPatch carries a partial update; nil fields are left untouched.
type EndpointPatch struct {
	URL         *string         `json:"url,omitempty"`
	Events      *[]string       `json:"events,omitempty"`
	Status      *EndpointStatus `json:"status,omitempty"`
	Filter      *string         `json:"filter,omitempty"`
	Description *string         `json:"description,omitempty"`
}

// EndpointQuery filters and pages a tenant's endpoints.
type EndpointQuery struct {
	Status EndpointStatus
	Limit  int
	Offset int
}

// Outcome classifies a delivery attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	// OutcomePending marks attempts queued but not yet executed. The
	// synchronous delivery path never writes it.
	OutcomePending Outcome = "pending"
)

// DeliveryAttempt is the persisted record of one executor invocation.
type DeliveryAttempt struct {
	ID             int64           `json:"id"`
	EndpointID     string          `json:"endpointId"`
	TenantID       string          `json:"organizationId"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Outcome        Outcome         `json:"outcome"`
	ResponseStatus *int            `json:"responseStatus"`
	ResponseBody   *string         `json:"responseBody"`
	AttemptCount   int             `json:"attemptCount"`
	LatencyMs      int             `json:"latencyMs"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Page is an offset page request.
type Page struct {
	Limit  int
	Offset int
}

// RetryTicket schedules redelivery of a failed attempt.
type RetryTicket struct {
	AttemptID  int64
	TenantID   string
	EndpointID string
	DueAt      time.Time
}

// DueRetry is a claimed ticket joined with the attempt it retries.
type DueRetry struct {
	RetryTicket
	EventType    string
	Payload      json.RawMessage
	AttemptCount int
}

// Envelope is the canonical event document that gets signed and sent.
// Field order here is the wire order.
type Envelope struct {
	Event          string `json:"event"`
	Data           any    `json:"data"`
	Timestamp      string `json:"timestamp"`
	OrganizationID string `json:"organizationId"`
}

// DeliverySummary aggregates one fan-out.
type DeliverySummary struct {
	Triggered  int `json:"triggered"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}
