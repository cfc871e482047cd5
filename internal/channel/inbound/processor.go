// Package inbound persists routed platform messages and schedules the
// automated replies that follow them.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/config"
	"github.com/memohai/socialdesk/internal/identity"
	"github.com/memohai/socialdesk/internal/message"
)

// IdentityResolver maps platform senders to contacts and conversations.
type IdentityResolver interface {
	ResolveContact(ctx context.Context, platform channel.Platform, externalID, displayName string) (identity.Contact, error)
	ResolveConversation(ctx context.Context, accountID string, contact identity.Contact) (identity.Conversation, error)
}

// MessageStore appends conversation messages.
type MessageStore interface {
	AppendInbound(ctx context.Context, conv identity.Conversation, fields channel.NormalizedFields) (message.Message, error)
	AppendOutbound(ctx context.Context, conv identity.Conversation, role message.Role, text, originConnID string) (message.Message, error)
}

// ReplyGenerator answers customer text.
type ReplyGenerator interface {
	GenerateAutoReply(ctx context.Context, conversationID, latestText string) (string, error)
}

// Options sizes the reply worker pool.
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// OptionsFromConfig maps the auto reply section onto Options.
func OptionsFromConfig(cfg config.AutoReplyConfig) Options {
	return Options{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

type replyTask struct {
	conv     identity.Conversation
	kind     channel.MessageKind
	latest   string
	canned   string
	generate bool
}

// Processor implements channel.InboundProcessor.
type Processor struct {
	identity  IdentityResolver
	store     MessageStore
	generator ReplyGenerator
	replies   *channel.Replies
	logger    *slog.Logger
	timeout   time.Duration
	workers   int

	queue     chan replyTask
	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewProcessor creates an inbound processor. Replies queued before Start are
// held until workers run.
func NewProcessor(log *slog.Logger, resolver IdentityResolver, store MessageStore, generator ReplyGenerator, replies *channel.Replies, opts Options) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if replies == nil {
		replies = channel.DefaultReplies()
	}
	return &Processor{
		identity:  resolver,
		store:     store,
		generator: generator,
		replies:   replies,
		logger:    log.With(slog.String("component", "inbound")),
		timeout:   opts.Timeout,
		workers:   opts.Workers,
		queue:     make(chan replyTask, opts.QueueSize),
	}
}

// Process resolves the sender, appends the message and queues any automated
// reply. Redelivered messages are acknowledged without further work.
func (p *Processor) Process(ctx context.Context, event channel.InboundEvent, fields channel.NormalizedFields, handler channel.Handler) error {
	if strings.TrimSpace(fields.SenderID) == "" {
		return fmt.Errorf("inbound %s/%s: sender id is required", event.Platform, event.Kind)
	}
	contact, err := p.identity.ResolveContact(ctx, event.Platform, fields.SenderID, fields.SenderName)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	conv, err := p.identity.ResolveConversation(ctx, event.AccountID, contact)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	msg, err := p.store.AppendInbound(ctx, conv, fields)
	if err != nil {
		return fmt.Errorf("append inbound: %w", err)
	}
	if msg.Duplicate {
		p.logger.Debug("duplicate delivery ignored",
			slog.String("conversation_id", conv.ID),
			slog.String("external_message_id", fields.ExternalMessageID))
		return nil
	}
	if fields.Kind == channel.KindTemplate {
		p.logger.Info("template message received",
			slog.String("conversation_id", conv.ID),
			slog.String("template", fields.TemplateName))
	}
	if task, ok := p.planReply(event, handler, conv, fields); ok {
		p.enqueue(task)
	}
	return nil
}

// planReply decides what, if anything, answers the message. Kinds that want
// a generated answer honour the conversation toggle; other kinds get their
// canned acknowledgement when the catalogue has one.
func (p *Processor) planReply(event channel.InboundEvent, handler channel.Handler, conv identity.Conversation, fields channel.NormalizedFields) (replyTask, bool) {
	if !event.AutoReplyEnabled {
		return replyTask{}, false
	}
	task := replyTask{conv: conv, kind: handler.Kind(), latest: fields.Body}
	if handler.ShouldAutoReply() {
		if !conv.AutoReply || p.generator == nil {
			return replyTask{}, false
		}
		task.generate = true
		return task, true
	}
	text, ok := p.replies.Reply(handler.Kind())
	if !ok {
		return replyTask{}, false
	}
	task.canned = text
	return task, true
}

func (p *Processor) enqueue(task replyTask) {
	select {
	case p.queue <- task:
	default:
		p.logger.Warn("auto reply queue full, dropping",
			slog.String("conversation_id", task.conv.ID),
			slog.String("kind", task.kind.String()))
	}
}

// Start launches the reply workers.
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.cancel = cancel
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				for {
					select {
					case <-workerCtx.Done():
						return
					case task := <-p.queue:
						p.reply(workerCtx, task)
					}
				}
			}()
		}
	})
}

// Shutdown stops the workers and waits for in-flight replies.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) reply(ctx context.Context, task replyTask) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text := task.canned
	if task.generate {
		generated, err := p.generator.GenerateAutoReply(ctx, task.conv.ID, task.latest)
		if err != nil {
			p.logger.Warn("generate auto reply failed",
				slog.String("conversation_id", task.conv.ID),
				slog.Any("error", err))
			return
		}
		text = generated
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := p.store.AppendOutbound(ctx, task.conv, message.RoleAutomatedReply, text, ""); err != nil {
		level := slog.LevelError
		if errors.Is(err, message.ErrNotDelivered) {
			level = slog.LevelWarn
		}
		p.logger.Log(ctx, level, "auto reply failed",
			slog.String("conversation_id", task.conv.ID),
			slog.String("kind", task.kind.String()),
			slog.Any("error", err))
	}
}
