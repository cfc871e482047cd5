package channel

import (
	"fmt"
	"sync"
)

type handlerKey struct {
	platform Platform
	kind     MessageKind
}

// Registry maps platform+kind keys to handlers and platforms to senders.
// It must be created via NewRegistry and passed explicitly to components
// that need it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler
	senders  map[Platform]Sender
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: map[handlerKey]Handler{},
		senders:  map[Platform]Sender{},
	}
}

// Register adds a handler for the platform and the handler's kind.
func (r *Registry) Register(platform Platform, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}
	p := normalizePlatform(platform.String())
	if p == "" {
		return fmt.Errorf("platform is required")
	}
	if handler.Kind() == "" {
		return fmt.Errorf("message kind is required")
	}
	key := handlerKey{platform: p, kind: handler.Kind()}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("handler already registered: %s/%s", p, handler.Kind())
	}
	r.handlers[key] = handler
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(platform Platform, handler Handler) {
	if err := r.Register(platform, handler); err != nil {
		panic(err)
	}
}

// RegisterSender installs the outbound sender for a platform.
func (r *Registry) RegisterSender(sender Sender) error {
	if sender == nil {
		return fmt.Errorf("sender is nil")
	}
	p := normalizePlatform(sender.Platform().String())
	if p == "" {
		return fmt.Errorf("platform is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.senders[p]; exists {
		return fmt.Errorf("sender already registered: %s", p)
	}
	r.senders[p] = sender
	return nil
}

// Lookup returns the handler for platform+kind. Unknown kinds fall back to the
// platform's registered unsupported handler, then to a built-in one that only
// logs. Lookup never returns nil.
func (r *Registry) Lookup(platform Platform, kind MessageKind) Handler {
	p := normalizePlatform(platform.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[handlerKey{platform: p, kind: kind}]; ok {
		return h
	}
	if h, ok := r.handlers[handlerKey{platform: p, kind: KindUnsupported}]; ok {
		return h
	}
	return unsupportedHandler{}
}

// Sender returns the outbound sender for the platform.
func (r *Registry) Sender(platform Platform) (Sender, bool) {
	p := normalizePlatform(platform.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[p]
	return s, ok
}

// Kinds returns the kinds registered for a platform.
func (r *Registry) Kinds(platform Platform) []MessageKind {
	p := normalizePlatform(platform.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]MessageKind, 0, len(r.handlers))
	for key := range r.handlers {
		if key.platform == p {
			items = append(items, key.kind)
		}
	}
	return items
}
