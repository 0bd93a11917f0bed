// Package events publishes application events to Redis Streams and to the
// realtime websocket feed.
package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"applyflow/internal/applications"
)

// Stream names.
const (
	StreamApplicationEvents = "application-events"
	StreamApplicationStatus = "application-status"
	StreamJobStats          = "job-stats-update"
	StreamNotifications     = "application-notification-events"
)

// PipelineClient is the minimal client surface used by RedisPublisher.
type PipelineClient interface {
	Pipeline() Pipeliner
}

// Pipeliner is the subset of commands used within a pipeline.
type Pipeliner interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// Message is one event as written to a stream.
type Message struct {
	Stream  string
	Key     string
	Type    string
	Payload []byte
}

// RedisPublisher appends each event to its topic stream as {key, type, payload}.
type RedisPublisher struct {
	client PipelineClient
	maxLen int64
}

// NewRedisPublisher constructs a publisher. maxLen > 0 trims streams approximately.
func NewRedisPublisher(client PipelineClient, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, maxLen: maxLen}
}

// Send writes messages in one pipeline round trip.
func (p *RedisPublisher) Send(ctx context.Context, msgs ...Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	for _, m := range msgs {
		args := &redis.XAddArgs{
			Stream: m.Stream,
			Values: map[string]any{
				"key":     m.Key,
				"type":    m.Type,
				"payload": string(m.Payload),
			},
		}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "xadd")
	}
	return nil
}

func (p *RedisPublisher) PublishApplicationCreated(ctx context.Context, e applications.ApplicationCreatedEvent) error {
	return p.publish(ctx, StreamApplicationEvents, e.Data.ApplicationID, e.EventType, e)
}

func (p *RedisPublisher) PublishJobStatsUpdate(ctx context.Context, e applications.JobStatsUpdateEvent) error {
	return p.publish(ctx, StreamJobStats, e.JobID, applications.EventJobStatsUpdate, e)
}

func (p *RedisPublisher) PublishCandidateNotification(ctx context.Context, e applications.NotificationEvent) error {
	return p.publish(ctx, StreamNotifications, e.ReferenceID+"-candidate", e.EventType, e)
}

func (p *RedisPublisher) PublishHRNotification(ctx context.Context, e applications.NotificationEvent) error {
	return p.publish(ctx, StreamNotifications, e.ReferenceID+"-hr", e.EventType, e)
}

func (p *RedisPublisher) PublishStatusChanged(ctx context.Context, e applications.StatusChangedEvent) error {
	return p.publish(ctx, StreamApplicationStatus, e.Data.ApplicationID, e.EventType, e)
}

func (p *RedisPublisher) PublishApplicationWithdrawn(ctx context.Context, e applications.ApplicationWithdrawnEvent) error {
	return p.publish(ctx, StreamApplicationEvents, e.Data.ApplicationID, e.EventType, e)
}

func (p *RedisPublisher) publish(ctx context.Context, stream, key, eventType string, event any) error {
	msg, err := encode(stream, key, eventType, event)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.Send(ctx, msg), "publish %s to %s", eventType, stream)
}

func encode(stream, key, eventType string, event any) (Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, errors.Wrapf(err, "encode %s", eventType)
	}
	return Message{Stream: stream, Key: key, Type: eventType, Payload: payload}, nil
}

// ClientAdapter adapts *redis.Client to PipelineClient.
type ClientAdapter struct {
	Client *redis.Client
}

func (a ClientAdapter) Pipeline() Pipeliner {
	return a.Client.Pipeline()
}

// RedisOptions tunes the client built by NewRedisClient.
type RedisOptions struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	TLSConfig    *tls.Config
}

// NewRedisClient parses opts.URL and applies overrides.
func NewRedisClient(opts RedisOptions) (*redis.Client, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	if opts.DialTimeout > 0 {
		parsed.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		parsed.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		parsed.WriteTimeout = opts.WriteTimeout
	}
	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}
	if opts.MinIdleConns > 0 {
		parsed.MinIdleConns = opts.MinIdleConns
	}
	if opts.MaxRetries != 0 {
		parsed.MaxRetries = opts.MaxRetries
	}
	if opts.TLSConfig != nil {
		parsed.TLSConfig = opts.TLSConfig
	}
	return redis.NewClient(parsed), nil
}
