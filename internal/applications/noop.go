package applications

import "context"

// NoopEventPublisher drops every event.
type NoopEventPublisher struct{}

func (NoopEventPublisher) PublishApplicationCreated(context.Context, ApplicationCreatedEvent) error {
	return nil
}

func (NoopEventPublisher) PublishJobStatsUpdate(context.Context, JobStatsUpdateEvent) error {
	return nil
}

func (NoopEventPublisher) PublishCandidateNotification(context.Context, NotificationEvent) error {
	return nil
}

func (NoopEventPublisher) PublishHRNotification(context.Context, NotificationEvent) error {
	return nil
}

func (NoopEventPublisher) PublishStatusChanged(context.Context, StatusChangedEvent) error {
	return nil
}

func (NoopEventPublisher) PublishApplicationWithdrawn(context.Context, ApplicationWithdrawnEvent) error {
	return nil
}
