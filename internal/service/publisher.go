package service

import "context"

// Publisher sends domain events to the message broker. Failures are the
// publisher's to log; services never fail a request because an event
// could not be sent.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

// Invalidator drops cached HTTP responses under a path prefix.
type Invalidator interface {
	InvalidatePrefix(ctx context.Context, pathPrefix string)
}

type nopInvalidator struct{}

func (nopInvalidator) InvalidatePrefix(context.Context, string) {}
