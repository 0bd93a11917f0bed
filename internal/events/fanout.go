package events

import (
	"context"
	"encoding/json"
	"time"

	"applyflow/internal/applications"
)

// Broadcaster pushes messages to connected clients.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// FeedItem is the realtime message sent to websocket clients.
type FeedItem struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// FanoutPublisher forwards events to a durable publisher, then broadcasts them
// to the realtime feed. An event that failed to publish is not broadcast.
type FanoutPublisher struct {
	next        applications.EventPublisher
	broadcaster Broadcaster
}

func NewFanoutPublisher(next applications.EventPublisher, broadcaster Broadcaster) *FanoutPublisher {
	return &FanoutPublisher{next: next, broadcaster: broadcaster}
}

func (p *FanoutPublisher) PublishApplicationCreated(ctx context.Context, e applications.ApplicationCreatedEvent) error {
	if err := p.next.PublishApplicationCreated(ctx, e); err != nil {
		return err
	}
	return p.broadcast(e.EventType, e.Data.ApplicationID, e.Timestamp, e)
}

func (p *FanoutPublisher) PublishJobStatsUpdate(ctx context.Context, e applications.JobStatsUpdateEvent) error {
	if err := p.next.PublishJobStatsUpdate(ctx, e); err != nil {
		return err
	}
	return p.broadcast(applications.EventJobStatsUpdate, e.JobID, e.Timestamp, e)
}

// PublishCandidateNotification is not mirrored to the HR feed.
func (p *FanoutPublisher) PublishCandidateNotification(ctx context.Context, e applications.NotificationEvent) error {
	return p.next.PublishCandidateNotification(ctx, e)
}

func (p *FanoutPublisher) PublishHRNotification(ctx context.Context, e applications.NotificationEvent) error {
	if err := p.next.PublishHRNotification(ctx, e); err != nil {
		return err
	}
	return p.broadcast(e.EventType, e.ReferenceID+"-hr", e.Timestamp, e)
}

func (p *FanoutPublisher) PublishStatusChanged(ctx context.Context, e applications.StatusChangedEvent) error {
	if err := p.next.PublishStatusChanged(ctx, e); err != nil {
		return err
	}
	return p.broadcast(e.EventType, e.Data.ApplicationID, e.Timestamp, e)
}

func (p *FanoutPublisher) PublishApplicationWithdrawn(ctx context.Context, e applications.ApplicationWithdrawnEvent) error {
	if err := p.next.PublishApplicationWithdrawn(ctx, e); err != nil {
		return err
	}
	return p.broadcast(e.EventType, e.Data.ApplicationID, e.Timestamp, e)
}

func (p *FanoutPublisher) broadcast(eventType, key string, ts time.Time, event any) error {
	if p.broadcaster == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(FeedItem{Type: eventType, Key: key, Timestamp: ts, Data: data})
	if err != nil {
		return err
	}
	p.broadcaster.Broadcast(msg)
	return nil
}
