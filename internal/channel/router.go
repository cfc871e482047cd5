package channel

import (
	"context"
	"fmt"
	"log/slog"
)

// InboundProcessor persists an extracted message and runs follow-up work.
type InboundProcessor interface {
	Process(ctx context.Context, event InboundEvent, fields NormalizedFields, handler Handler) error
}

// Router dispatches raw inbound events through the registry.
type Router struct {
	registry  *Registry
	processor InboundProcessor
	logger    *slog.Logger
}

// NewRouter creates a Router bound to a registry and processor.
func NewRouter(log *slog.Logger, registry *Registry, processor InboundProcessor) *Router {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Router{
		registry:  registry,
		processor: processor,
		logger:    log.With(slog.String("component", "router")),
	}
}

// Registry returns the handler registry used by this router.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Dispatch extracts fields with the matching handler and hands them to the
// processor. Unsupported kinds are logged and dropped. A panicking handler is
// recovered and reported as an error for this event only.
func (r *Router) Dispatch(ctx context.Context, event InboundEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic",
				slog.String("platform", event.Platform.String()),
				slog.String("kind", event.Kind.String()),
				slog.Any("panic", rec))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	handler := r.registry.Lookup(event.Platform, event.Kind)
	fields, err := handler.ExtractFields(event.Raw)
	if err != nil {
		return fmt.Errorf("extract %s/%s: %w", event.Platform, event.Kind, err)
	}
	if handler.Kind() == KindUnsupported {
		r.logger.Info("unsupported message dropped",
			slog.String("platform", event.Platform.String()),
			slog.String("kind", event.Kind.String()),
			slog.String("external_message_id", fields.ExternalMessageID))
		return nil
	}
	if r.processor == nil {
		return fmt.Errorf("inbound processor not configured")
	}
	return r.processor.Process(ctx, event, fields, handler)
}
