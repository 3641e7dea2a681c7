// Package events carries the portal's connection lifecycle notifications.
// The audit subscriber in the connection manager turns these into
// connection log rows; anything else (future webhooks, metrics) can hang
// off the same bus.
package events

import (
	"fmt"
	"time"

	"github.com/gookit/event"

	"github.com/altivon/vpn-portal/internal/shared/logger"
)

// Bus wraps the gookit event manager for connection lifecycle events.
type Bus struct {
	bus    *event.Manager
	logger *logger.Logger
}

// NewBus creates a connection lifecycle event bus.
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewDevelopment("events")
	}
	return &Bus{
		bus:    event.NewManager("portal"),
		logger: log,
	}
}

// PublishConnectionOpened publishes a connection opened event.
func (b *Bus) PublishConnectionOpened(payload ConnectionOpenedEvent) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	b.logger.Debug("publishing connection opened event",
		"user_id", payload.UserID,
		"profile_id", payload.ProfileID,
		"connection_id", payload.ConnectionID)
	return b.fire(EventConnectionOpened, payload)
}

// PublishConnectionClosed publishes a connection closed event.
func (b *Bus) PublishConnectionClosed(payload ConnectionClosedEvent) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	b.logger.Debug("publishing connection closed event",
		"user_id", payload.UserID,
		"profile_id", payload.ProfileID,
		"connection_id", payload.ConnectionID)
	return b.fire(EventConnectionClosed, payload)
}

// PublishConnectionEvicted publishes a connection evicted event.
func (b *Bus) PublishConnectionEvicted(payload ConnectionEvictedEvent) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	b.logger.Info("publishing connection evicted event",
		"user_id", payload.UserID,
		"profile_id", payload.ProfileID,
		"connection_id", payload.ConnectionID)
	return b.fire(EventConnectionEvicted, payload)
}

// PublishConnectionExpired publishes a connection expired event.
func (b *Bus) PublishConnectionExpired(payload ConnectionExpiredEvent) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	b.logger.Info("publishing connection expired event",
		"user_id", payload.UserID,
		"connection_id", payload.ConnectionID)
	return b.fire(EventConnectionExpired, payload)
}

// PublishUserDisabled publishes a user disabled event.
func (b *Bus) PublishUserDisabled(payload UserDisabledEvent) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	b.logger.Info("publishing user disabled event", "user_id", payload.UserID)
	return b.fire(EventUserDisabled, payload)
}

// PublishAuthorizationReset publishes an authorization reset event.
func (b *Bus) PublishAuthorizationReset(payload AuthorizationResetEvent) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	b.logger.Info("publishing authorization reset event",
		"user_id", payload.UserID)
	return b.fire(EventAuthorizationReset, payload)
}

// Subscribe registers a listener for the given event type.
func (b *Bus) Subscribe(eventType string, listener event.Listener) {
	b.bus.On(eventType, listener, event.Normal)
	b.logger.Debug("subscribed to events", "event_type", eventType)
}

// SubscribeHigh registers a listener that runs before normal-priority
// listeners for the same event type.
func (b *Bus) SubscribeHigh(eventType string, listener event.Listener) {
	b.bus.On(eventType, listener, event.High)
	b.logger.Debug("subscribed to events", "event_type", eventType, "priority", "high")
}

// Close shuts the bus down and drops all listeners.
func (b *Bus) Close() error {
	b.logger.Debug("closing event bus")
	b.bus.Clear()
	return nil
}

func (b *Bus) fire(eventType string, payload any) error {
	err, _ := b.bus.Fire(eventType, event.M{"payload": payload})
	if err != nil {
		b.logger.Error("failed to publish event",
			"event_type", eventType,
			"error", err.Error())
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

// Payload extracts the typed payload from a fired event. The second
// return is false when the event carries a different payload type.
func Payload[T any](e event.Event) (T, bool) {
	v, ok := e.Get("payload").(T)
	return v, ok
}
