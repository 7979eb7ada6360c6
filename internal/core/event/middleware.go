package event

import (
	"time"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"go.uber.org/zap"
)

// LoggingMiddleware logs each event delivery and its duration
func LoggingMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		start := time.Now()
		defer func() {
			fields := []zap.Field{
				zap.String("type", string(event.Type)),
				zap.String("room_name", event.RoomName),
				zap.Duration("duration", time.Since(start)),
			}
			if event.IsError() {
				logger.Base().Warn("Handled error event", append(fields, zap.Error(event.Error))...)
				return
			}
			logger.Base().Debug("Handled event", fields...)
		}()

		next(event)
	}
}

// RecoveryMiddleware keeps a panicking handler from taking the worker down
func RecoveryMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		defer func() {
			if r := recover(); r != nil {
				logger.Base().Error("Panic in event handler",
					zap.String("type", string(event.Type)),
					zap.String("room_name", event.RoomName),
					zap.Any("panic", r))
			}
		}()

		next(event)
	}
}

// ValidationMiddleware drops events without a type or room
func ValidationMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		if event == nil {
			logger.Base().Error("Received nil event")
			return
		}
		if event.Type == "" || event.RoomName == "" {
			logger.Base().Error("Dropping incomplete event", zap.String("type", string(event.Type)), zap.String("room_name", event.RoomName))
			return
		}
		next(event)
	}
}

// CreateDefaultMiddlewareChain creates the middleware chain used by the worker
func CreateDefaultMiddlewareChain() []EventMiddleware {
	return []EventMiddleware{
		RecoveryMiddleware,
		ValidationMiddleware,
		LoggingMiddleware,
	}
}
