package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"go.uber.org/zap"
)

// EventHandler represents a function that handles events
type EventHandler func(event *CallEvent)

// EventMiddleware represents middleware that can wrap event handlers
type EventMiddleware func(next EventHandler) EventHandler

// EventBus defines the interface for event bus operations
type EventBus interface {
	Publish(event *CallEvent) error
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeWithTimeout(eventType EventType, handler EventHandler, timeout time.Duration) error
	Use(middleware EventMiddleware)
	Close() error
	GetStats() BusStats
}

// BusStats contains statistics about the event bus
type BusStats struct {
	TotalEvents     int64            `json:"total_events"`
	EventsByType    map[string]int64 `json:"events_by_type"`
	ActiveHandlers  int              `json:"active_handlers"`
	SubscriberCount map[string]int   `json:"subscriber_count"`
}

// DefaultEventBus is the default implementation of EventBus
type DefaultEventBus struct {
	subscribers map[EventType][]EventHandler
	middleware  []EventMiddleware
	mutex       sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	stats       BusStats
	statsMutex  sync.RWMutex
	inflight    sync.WaitGroup
}

// NewEventBus creates a new event bus instance
func NewEventBus() *DefaultEventBus {
	ctx, cancel := context.WithCancel(context.Background())

	return &DefaultEventBus{
		subscribers: make(map[EventType][]EventHandler),
		middleware:  make([]EventMiddleware, 0),
		ctx:         ctx,
		cancel:      cancel,
		stats: BusStats{
			EventsByType:    make(map[string]int64),
			SubscriberCount: make(map[string]int),
		},
	}
}

// Publish delivers the event to every subscriber of its type. Handlers run asynchronously.
func (b *DefaultEventBus) Publish(event *CallEvent) error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("event bus is closed")
	default:
	}

	b.mutex.RLock()
	handlers := make([]EventHandler, len(b.subscribers[event.Type]))
	copy(handlers, b.subscribers[event.Type])
	middleware := make([]EventMiddleware, len(b.middleware))
	copy(middleware, b.middleware)
	b.mutex.RUnlock()

	b.updateStats(event.Type)

	if len(handlers) == 0 {
		logger.Base().Debug("No subscribers for event type", zap.String("type", string(event.Type)))
		return nil
	}

	for _, handler := range handlers {
		b.inflight.Add(1)
		go func(h EventHandler) {
			defer b.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Base().Error("Event handler panic", zap.String("type", string(event.Type)), zap.Any("panic", r))
				}
			}()

			finalHandler := h
			for i := len(middleware) - 1; i >= 0; i-- {
				finalHandler = middleware[i](finalHandler)
			}

			finalHandler(event)
		}(handler)
	}

	return nil
}

// Subscribe subscribes to events of a specific type
func (b *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	return b.SubscribeWithTimeout(eventType, handler, 0)
}

// SubscribeWithTimeout subscribes to events with a timeout
func (b *DefaultEventBus) SubscribeWithTimeout(eventType EventType, handler EventHandler, timeout time.Duration) error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("event bus is closed")
	default:
	}

	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	finalHandler := handler
	if timeout > 0 {
		finalHandler = b.withTimeout(handler, timeout)
	}

	b.subscribers[eventType] = append(b.subscribers[eventType], finalHandler)

	b.statsMutex.Lock()
	b.stats.SubscriberCount[string(eventType)]++
	b.stats.ActiveHandlers++
	b.statsMutex.Unlock()

	logger.Base().Debug("Subscribed to event type", zap.String("event_type", string(eventType)))
	return nil
}

// Use adds middleware to the event bus
func (b *DefaultEventBus) Use(middleware EventMiddleware) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.middleware = append(b.middleware, middleware)
}

// Close stops accepting events and waits for running handlers to return.
func (b *DefaultEventBus) Close() error {
	b.cancel()

	b.mutex.Lock()
	b.subscribers = make(map[EventType][]EventHandler)
	b.middleware = make([]EventMiddleware, 0)
	b.mutex.Unlock()

	b.inflight.Wait()
	logger.Base().Info("Event bus closed")
	return nil
}

// GetStats returns current bus statistics
func (b *DefaultEventBus) GetStats() BusStats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()

	stats := BusStats{
		TotalEvents:     b.stats.TotalEvents,
		EventsByType:    make(map[string]int64, len(b.stats.EventsByType)),
		ActiveHandlers:  b.stats.ActiveHandlers,
		SubscriberCount: make(map[string]int, len(b.stats.SubscriberCount)),
	}
	for k, v := range b.stats.EventsByType {
		stats.EventsByType[k] = v
	}
	for k, v := range b.stats.SubscriberCount {
		stats.SubscriberCount[k] = v
	}
	return stats
}

// withTimeout wraps a handler with timeout functionality
func (b *DefaultEventBus) withTimeout(handler EventHandler, timeout time.Duration) EventHandler {
	return func(event *CallEvent) {
		done := make(chan struct{})

		go func() {
			defer close(done)
			handler(event)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			logger.Base().Warn("Event handler timeout", zap.String("type", string(event.Type)), zap.Duration("timeout", timeout))
		case <-b.ctx.Done():
			logger.Base().Info("Event handler cancelled", zap.String("type", string(event.Type)))
		}
	}
}

func (b *DefaultEventBus) updateStats(eventType EventType) {
	b.statsMutex.Lock()
	defer b.statsMutex.Unlock()

	b.stats.TotalEvents++
	b.stats.EventsByType[string(eventType)]++
}
