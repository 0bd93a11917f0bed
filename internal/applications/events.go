package applications

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventApplicationCreated   = "APPLICATION_CREATED"
	EventStatusChanged        = "STATUS_CHANGED"
	EventApplicationWithdrawn = "APPLICATION_WITHDRAWN"
	EventJobStatsUpdate       = "JOB_STATS_UPDATE"
	EventApplicationSubmitted = "APPLICATION_SUBMITTED"
	EventNewApplication       = "NEW_APPLICATION"
)

// Job stats operations.
const (
	StatsIncrement = "INCREMENT"
	StatsDecrement = "DECREMENT"
)

// Envelope is shared by every event.
type Envelope struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
}

func newEnvelope(eventType string, now time.Time) Envelope {
	return Envelope{EventID: uuid.NewString(), EventType: eventType, Timestamp: now}
}

type ApplicationCreatedEvent struct {
	Envelope
	Data ApplicationCreatedData `json:"data"`
}

type ApplicationCreatedData struct {
	ApplicationID string    `json:"applicationId"`
	Username      string    `json:"username"`
	JobID         string    `json:"jobId"`
	CVFileURL     string    `json:"cvFileUrl"`
	Status        Status    `json:"status"`
	JobTitle      string    `json:"jobTitle"`
	CompanyName   string    `json:"companyName"`
	HRUsername    string    `json:"hrUsername,omitempty"`
	AppliedAt     time.Time `json:"appliedAt"`
}

type JobStatsUpdateEvent struct {
	EventID           string    `json:"eventId"`
	JobID             string    `json:"jobId"`
	TotalApplications int       `json:"totalApplications"`
	Operation         string    `json:"operation"`
	Timestamp         time.Time `json:"timestamp"`
}

// NotificationEvent asks the notification service to message one recipient.
type NotificationEvent struct {
	Envelope
	RecipientEmail    string            `json:"recipientEmail"`
	RecipientUsername string            `json:"recipientUsername,omitempty"`
	RecipientRole     string            `json:"recipientRole"`
	Subject           string            `json:"subject"`
	TemplateType      string            `json:"templateType"`
	ReferenceID       string            `json:"referenceId"`
	ReferenceType     string            `json:"referenceType"`
	Metadata          map[string]string `json:"metadata"`
}

type StatusChangedEvent struct {
	Envelope
	Data StatusChangedData `json:"data"`
}

type StatusChangedData struct {
	ApplicationID  string    `json:"applicationId"`
	Username       string    `json:"username"`
	JobID          string    `json:"jobId"`
	PreviousStatus Status    `json:"previousStatus"`
	NewStatus      Status    `json:"newStatus"`
	JobTitle       string    `json:"jobTitle"`
	CompanyName    string    `json:"companyName"`
	ChangedBy      string    `json:"changedBy"`
	ChangedAt      time.Time `json:"changedAt"`
}

type ApplicationWithdrawnEvent struct {
	Envelope
	Data ApplicationWithdrawnData `json:"data"`
}

type ApplicationWithdrawnData struct {
	ApplicationID string    `json:"applicationId"`
	Username      string    `json:"username"`
	JobID         string    `json:"jobId"`
	JobTitle      string    `json:"jobTitle"`
	CompanyName   string    `json:"companyName"`
	WithdrawnAt   time.Time `json:"withdrawnAt"`
}
