// internal/events/event_bus.go
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"adc-service/internal/model"
)

// Publisher accepts device events
type Publisher interface {
	Publish(event model.DeviceEvent)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(event model.DeviceEvent)

func (f PublisherFunc) Publish(event model.DeviceEvent) { f(event) }

// EventBus manages event distribution. Publish never blocks: when the bus
// or a subscriber is full the event is dropped for that receiver.
type EventBus struct {
	subscribers map[model.EventType][]chan model.DeviceEvent
	wildcard    []chan model.DeviceEvent
	events      chan model.DeviceEvent
	mutex       sync.RWMutex
	closeOnce   sync.Once
	done        chan struct{}
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[model.EventType][]chan model.DeviceEvent),
		events:      make(chan model.DeviceEvent, 1000),
		done:        make(chan struct{}),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Run distributes events until ctx is done, then closes every subscriber
// channel.
func (eb *EventBus) Run(ctx context.Context) {
	defer eb.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// Publish publishes an event
func (eb *EventBus) Publish(event model.DeviceEvent) {
	select {
	case <-eb.done:
		return
	default:
	}

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("device_id", event.DeviceID),
		)
	}
}

// Subscribe subscribes to the given event types, or to every event when
// none are given.
func (eb *EventBus) Subscribe(eventTypes ...model.EventType) <-chan model.DeviceEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.DeviceEvent, 100)
	select {
	case <-eb.done:
		close(subscriber)
		return subscriber
	default:
	}

	if len(eventTypes) == 0 {
		eb.wildcard = append(eb.wildcard, subscriber)
		return subscriber
	}
	for _, t := range eventTypes {
		eb.subscribers[t] = append(eb.subscribers[t], subscriber)
	}
	return subscriber
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event model.DeviceEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, subscriber := range eb.subscribers[event.EventType] {
		eb.deliver(subscriber, event)
	}
	for _, subscriber := range eb.wildcard {
		eb.deliver(subscriber, event)
	}
}

func (eb *EventBus) deliver(subscriber chan model.DeviceEvent, event model.DeviceEvent) {
	select {
	case subscriber <- event:
	default:
		// Subscriber is slow, skip
		eb.logger.Debug("Subscriber full, event skipped", zap.String("event_type", string(event.EventType)))
	}
}

func (eb *EventBus) shutdown() {
	eb.closeOnce.Do(func() {
		eb.mutex.Lock()
		defer eb.mutex.Unlock()
		close(eb.done)

		closed := make(map[chan model.DeviceEvent]bool)
		closeOnce := func(ch chan model.DeviceEvent) {
			if !closed[ch] {
				closed[ch] = true
				close(ch)
			}
		}
		for _, subs := range eb.subscribers {
			for _, ch := range subs {
				closeOnce(ch)
			}
		}
		for _, ch := range eb.wildcard {
			closeOnce(ch)
		}
	})
}
