package events

import (
	"context"

	"go.uber.org/zap"

	"applyflow/internal/applications"
)

// LogPublisher writes events to the log instead of a broker. It is used when
// no Redis URL is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) PublishApplicationCreated(_ context.Context, e applications.ApplicationCreatedEvent) error {
	p.logger.Info("event", zap.String("stream", StreamApplicationEvents), zap.String("type", e.EventType),
		zap.String("application_id", e.Data.ApplicationID), zap.String("job_id", e.Data.JobID))
	return nil
}

func (p *LogPublisher) PublishJobStatsUpdate(_ context.Context, e applications.JobStatsUpdateEvent) error {
	p.logger.Info("event", zap.String("stream", StreamJobStats), zap.String("job_id", e.JobID),
		zap.String("operation", e.Operation), zap.Int("total", e.TotalApplications))
	return nil
}

func (p *LogPublisher) PublishCandidateNotification(_ context.Context, e applications.NotificationEvent) error {
	p.notification(e, "candidate")
	return nil
}

func (p *LogPublisher) PublishHRNotification(_ context.Context, e applications.NotificationEvent) error {
	p.notification(e, "hr")
	return nil
}

func (p *LogPublisher) PublishStatusChanged(_ context.Context, e applications.StatusChangedEvent) error {
	p.logger.Info("event", zap.String("stream", StreamApplicationStatus), zap.String("type", e.EventType),
		zap.String("application_id", e.Data.ApplicationID),
		zap.String("from", string(e.Data.PreviousStatus)), zap.String("to", string(e.Data.NewStatus)))
	return nil
}

func (p *LogPublisher) PublishApplicationWithdrawn(_ context.Context, e applications.ApplicationWithdrawnEvent) error {
	p.logger.Info("event", zap.String("stream", StreamApplicationEvents), zap.String("type", e.EventType),
		zap.String("application_id", e.Data.ApplicationID))
	return nil
}

func (p *LogPublisher) notification(e applications.NotificationEvent, role string) {
	p.logger.Info("event", zap.String("stream", StreamNotifications), zap.String("type", e.EventType),
		zap.String("key", e.ReferenceID+"-"+role), zap.String("template", e.TemplateType),
		zap.String("recipient", e.RecipientUsername))
}
