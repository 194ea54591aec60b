package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/agentos/agentos/internal/common/logger"
)

// Emitter fans events out to registered handlers. Handlers are invoked
// synchronously in registration order; a failing or panicking handler is
// logged and does not affect the others.
type Emitter struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *logger.Logger
}

// NewEmitter creates an event emitter.
func NewEmitter(log *logger.Logger) *Emitter {
	return &Emitter{
		log: log.WithFields(zap.String("component", "events")),
	}
}

// OnEvent registers a handler for all events.
func (e *Emitter) OnEvent(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// Emit delivers the event to every registered handler.
func (e *Emitter) Emit(event *Event) {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	for _, h := range handlers {
		e.deliver(h, event)
	}
}

func (e *Emitter) deliver(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Event handler panicked",
				zap.String("event_type", event.Type),
				zap.Any("panic", r))
		}
	}()
	if err := h(event); err != nil {
		e.log.Warn("Event handler failed",
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}
