package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const defaultSubscriberBuffer = 64

// ErrClosed is returned by a broker that has been shut down.
var ErrClosed = errors.New("pubsub: broker closed")

type subscription struct {
	ch     chan Envelope
	closed bool
}

// Memory is an in-process Broker. Each subscriber has a buffered channel fed
// in publish order; a full subscriber misses the event instead of blocking
// the publisher.
type Memory struct {
	mu     sync.RWMutex
	groups map[string]map[*subscription]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

// NewMemory creates an in-process broker. buffer <= 0 selects the default.
func NewMemory(log *slog.Logger, buffer int) *Memory {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Memory{
		groups: map[string]map[*subscription]struct{}{},
		buffer: buffer,
		logger: log.With(slog.String("component", "pubsub_memory")),
	}
}

// Publish delivers env to every current subscriber of accountID.
func (m *Memory) Publish(ctx context.Context, accountID string, env Envelope) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if env.AccountID == "" {
		env.AccountID = accountID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for sub := range m.groups[accountID] {
		select {
		case sub.ch <- env:
		default:
			m.logger.Warn("subscriber buffer full, event dropped",
				slog.String("account_id", accountID),
				slog.String("type", string(env.Type)))
		}
	}
	return nil
}

// Subscribe joins accountID's group. The returned func leaves the group and
// closes the channel; it is safe to call more than once.
func (m *Memory) Subscribe(accountID string) (<-chan Envelope, func(), error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, nil, fmt.Errorf("account id is required")
	}
	sub := &subscription{ch: make(chan Envelope, m.buffer)}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, ErrClosed
	}
	group, ok := m.groups[accountID]
	if !ok {
		group = map[*subscription]struct{}{}
		m.groups[accountID] = group
	}
	group[sub] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if group, ok := m.groups[accountID]; ok {
				delete(group, sub)
				if len(group) == 0 {
					delete(m.groups, accountID)
				}
			}
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel, nil
}

// Close ends every subscription by closing its channel and rejects further
// use. Cancel funcs handed out earlier stay safe to call.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for accountID, group := range m.groups {
		for sub := range group {
			sub.closed = true
			close(sub.ch)
		}
		delete(m.groups, accountID)
	}
	return nil
}

// Subscribers returns the number of subscriptions for accountID.
func (m *Memory) Subscribers(accountID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groups[strings.TrimSpace(accountID)])
}
