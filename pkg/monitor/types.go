// Package monitor holds the core data model (Endpoint, Credential,
// CheckResult, Incident, Alert) and the State Store that persists them.
package monitor

import (
	"time"

	"github.com/google/uuid"
)

// Endpoint statuses.
const (
	StatusUp       = "UP"
	StatusDown     = "DOWN"
	StatusDegraded = "DEGRADED"
	StatusUnknown  = "UNKNOWN"
)

// HTTP methods an Endpoint may use.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
	MethodPatch  = "PATCH"
	MethodHead   = "HEAD"
)

// Credential types.
const (
	CredentialBearerToken = "BEARER_TOKEN"
	CredentialAPIKey      = "API_KEY"
	CredentialBasicAuth   = "BASIC_AUTH"
)

// Incident states.
const (
	IncidentOpen         = "OPEN"
	IncidentAcknowledged = "ACKNOWLEDGED"
	IncidentResolved     = "RESOLVED"
)

// Alert severities.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// Alert channels.
const (
	ChannelEmail   = "EMAIL"
	ChannelSlack   = "SLACK"
	ChannelWebhook = "WEBHOOK"
)

// Alert kinds. A raw classify.ResultKind failure collapses to one of
// AlertEndpointDown or AlertLatencyBreach depending on the endpoint status
// the Incident Engine wrote; AlertEndpointRecovered is synthesized on a
// resolve transition.
const (
	AlertEndpointDown      = "ENDPOINT_DOWN"
	AlertLatencyBreach     = "LATENCY_BREACH"
	AlertEndpointRecovered = "ENDPOINT_RECOVERED"
)

// Endpoint is a configured HTTP resource probed on a schedule.
type Endpoint struct {
	ID                  uuid.UUID
	ProjectID           uuid.UUID
	Name                string
	URL                 string
	Method              string
	Headers             []byte // opaque JSON blob
	Body                string
	ExpectedStatus      int
	IntervalSeconds     int
	TimeoutMS           int
	MaxLatencyMS        *int64
	CredentialID        *uuid.UUID
	Enabled             bool
	Status              string
	LastCheckAt         *time.Time
	NextCheckAt         *time.Time
	ConsecutiveFailures int
}

// Credential is an encrypted secret plus binding metadata. SealedValue and
// SealedUsername hold ciphertext produced by secretstore.Store.Seal; they
// must never be copied into an API response unmasked.
type Credential struct {
	ID             uuid.UUID
	ProjectID      uuid.UUID
	Name           string
	Type           string
	SealedValue    string
	SealedUsername string
	HeaderName     string
}

// CheckResult is an append-only probe record.
type CheckResult struct {
	ID           uuid.UUID
	EndpointID   uuid.UUID
	StatusCode   int
	LatencyMS    int64
	Success      bool
	Kind         string
	ErrorMessage string
	CreatedAt    time.Time
}

// Incident groups a contiguous run of failures for one endpoint.
type Incident struct {
	ID               uuid.UUID
	EndpointID       uuid.UUID
	State            string
	FailureKind      string
	StartedAt        time.Time
	ResolvedAt       *time.Time
	FailedCheckCount int
	LastErrorMessage string
}

// Alert is one externally delivered notification.
type Alert struct {
	ID             uuid.UUID
	EndpointID     uuid.UUID
	IncidentID     *uuid.UUID
	Kind           string
	Severity       string
	Channel        string
	Title          string
	Message        string
	Delivered      bool
	DeliveryError  string
	Acknowledged   bool
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
}

// FailureBreakdown is the per-kind failure count returned by
// Store.FailureBreakdown.
type FailureBreakdown map[string]int64
