package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/config"
	"github.com/memohai/socialdesk/internal/credentials"
	"github.com/memohai/socialdesk/internal/realtime/pubsub"
)

// Download states as stored on messages.
const (
	StatePending   = "pending"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

const (
	reasonTooLarge = "too large"
	reasonStale    = "stale"
)

// Options tunes the fetcher.
type Options struct {
	Workers         int
	QueueSize       int
	MaxBytes        int64
	SmallFileBytes  int64
	MaxAttempts     int
	RetryDelay      time.Duration
	StaleAfter      time.Duration
	ProbeTimeout    time.Duration
	DownloadTimeout time.Duration
}

// OptionsFromConfig maps the media config section onto Options.
func OptionsFromConfig(cfg config.MediaConfig) Options {
	return Options{
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		MaxBytes:        cfg.MaxBytes,
		SmallFileBytes:  cfg.SmallFileBytes,
		MaxAttempts:     cfg.MaxAttempts,
		RetryDelay:      time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		StaleAfter:      cfg.StaleAfter(),
		ProbeTimeout:    time.Duration(cfg.ProbeTimeoutSeconds) * time.Second,
		DownloadTimeout: time.Duration(cfg.DownloadTimeoutSeconds) * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.SmallFileBytes <= 0 || o.SmallFileBytes > o.MaxBytes {
		o.SmallFileBytes = min(DefaultSmallFileBytes, o.MaxBytes)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 30 * time.Second
	}
	return o
}

// Fetcher downloads message attachments on a fixed pool of workers fed by a
// bounded queue. Workers share no state beyond the Store's conditional
// updates. Every attempt stores under its own key, so when the same job runs
// twice the loser only removes its own file.
type Fetcher struct {
	store     Store
	provider  StorageProvider
	publisher Publisher
	creds     CredentialLookup
	client    *http.Client
	opts      Options
	logger    *slog.Logger

	resolverMu sync.RWMutex
	resolvers  map[channel.Platform]URLResolver

	jobs      chan Job
	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	now       func() time.Time
	attemptID func() string
}

// NewFetcher creates a fetcher. Call Start to run the workers.
func NewFetcher(log *slog.Logger, store Store, provider StorageProvider, publisher Publisher, creds CredentialLookup, opts Options) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	return &Fetcher{
		store:     store,
		provider:  provider,
		publisher: publisher,
		creds:     creds,
		client:    &http.Client{},
		opts:      opts,
		logger:    log.With(slog.String("service", "media_fetcher")),
		resolvers: map[channel.Platform]URLResolver{},
		jobs:      make(chan Job, opts.QueueSize),
		now:       time.Now,
		attemptID: newAttemptID,
	}
}

func newAttemptID() string {
	return uuid.NewString()[:8]
}

// RegisterResolver installs the media-reference resolver of a platform.
func (f *Fetcher) RegisterResolver(platform channel.Platform, resolver URLResolver) {
	f.resolverMu.Lock()
	defer f.resolverMu.Unlock()
	f.resolvers[platform] = resolver
}

// Submit enqueues a job without blocking.
func (f *Fetcher) Submit(job Job) error {
	select {
	case f.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker pool. Workers stop when ctx is cancelled or
// Shutdown is called.
func (f *Fetcher) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		workerCtx, cancel := context.WithCancel(ctx)
		f.cancel = cancel
		for i := 0; i < f.opts.Workers; i++ {
			f.wg.Add(1)
			go f.worker(workerCtx)
		}
		f.logger.Info("media fetcher started", slog.Int("workers", f.opts.Workers))
	})
}

// Shutdown stops the workers and waits for in-flight jobs up to ctx's deadline.
// Interrupted downloads stay pending and are picked up again on restart.
func (f *Fetcher) Shutdown(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) worker(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-f.jobs:
			f.process(ctx, job)
		}
	}
}

type stored struct {
	key       string
	mediaType string
}

func (f *Fetcher) process(ctx context.Context, job Job) {
	log := f.logger.With(slog.String("message_id", job.MessageID))
	rec, err := f.store.DownloadRecord(ctx, job.MessageID)
	if err != nil {
		log.Warn("load download record failed", slog.Any("error", err))
		return
	}
	if rec.State != StatePending {
		log.Debug("download already settled", slog.String("state", rec.State))
		return
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = job.CreatedAt
	}
	if f.opts.StaleAfter > 0 && !createdAt.IsZero() && f.now().Sub(createdAt) > f.opts.StaleAfter {
		f.fail(ctx, job, reasonStale)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		res, err := f.fetchOnce(ctx, job)
		if err == nil {
			f.complete(ctx, job, res)
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			log.Info("download interrupted", slog.Any("error", err))
			return
		}
		if isPermanent(err) {
			break
		}
		log.Warn("media download retry", slog.Int("attempt", attempt), slog.Any("error", err))
		if attempt < f.opts.MaxAttempts {
			if err := sleepContext(ctx, time.Duration(attempt)*f.opts.RetryDelay); err != nil {
				return
			}
		}
	}
	f.fail(ctx, job, failureReason(lastErr))
}

func (f *Fetcher) fetchOnce(ctx context.Context, job Job) (stored, error) {
	if f.provider == nil {
		return stored{}, permanent("storage unavailable", ErrProviderUnavailable)
	}
	target, token, err := f.resolveURL(ctx, job)
	if err != nil {
		return stored{}, err
	}
	client := f.client
	if token != "" {
		client = oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, f.client), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	size := f.probe(ctx, client, target)
	if size > f.opts.MaxBytes {
		return stored{}, permanent(reasonTooLarge, nil)
	}

	dctx, cancel := context.WithTimeout(ctx, f.opts.DownloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(dctx, http.MethodGet, target, nil)
	if err != nil {
		return stored{}, permanent("invalid media url", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return stored{}, fmt.Errorf("get media: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp.StatusCode); err != nil {
		return stored{}, err
	}
	if resp.ContentLength > f.opts.MaxBytes {
		return stored{}, permanent(reasonTooLarge, nil)
	}
	if size < 0 {
		size = resp.ContentLength
	}

	mediaType := DetectMediaType(resp.Header.Get("Content-Type"), job.MediaType, target)
	key := StorageKey(job, f.attemptID(), SanitizeFilename(target, mediaType, f.now()))

	if size >= 0 && size < f.opts.SmallFileBytes {
		data, err := ReadAllWithLimit(resp.Body, f.opts.MaxBytes)
		if err != nil {
			return stored{}, err
		}
		if len(data) == 0 {
			return stored{}, permanent("empty payload", nil)
		}
		if err := f.provider.Put(ctx, key, bytes.NewReader(data)); err != nil {
			return stored{}, fmt.Errorf("store media: %w", err)
		}
		return stored{key: key, mediaType: mediaType}, nil
	}

	tempPath, _, err := spoolWithLimit(resp.Body, f.opts.MaxBytes)
	if err != nil {
		return stored{}, err
	}
	defer func() {
		_ = os.Remove(tempPath)
	}()
	if err := f.adopt(ctx, key, tempPath); err != nil {
		return stored{}, fmt.Errorf("store media: %w", err)
	}
	return stored{key: key, mediaType: mediaType}, nil
}

// adopt moves the spooled file into storage, copying when a rename is not possible.
func (f *Fetcher) adopt(ctx context.Context, key, tempPath string) error {
	if mover, ok := f.provider.(Mover); ok {
		if err := mover.Move(ctx, key, tempPath); err == nil {
			return nil
		}
	}
	file, err := os.Open(tempPath)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer file.Close()
	return f.provider.Put(ctx, key, file)
}

func (f *Fetcher) resolveURL(ctx context.Context, job Job) (string, string, error) {
	if job.URL != "" {
		return job.URL, "", nil
	}
	if job.MediaRef == "" {
		return "", "", permanent("no media reference", nil)
	}
	f.resolverMu.RLock()
	resolver := f.resolvers[job.Platform]
	f.resolverMu.RUnlock()
	if resolver == nil {
		return "", "", permanent("no media resolver for "+job.Platform.String(), nil)
	}
	token := ""
	if f.creds != nil {
		cred, err := f.creds.LookupCredential(ctx, job.AccountID, job.Platform)
		if err != nil {
			if errors.Is(err, credentials.ErrNotFound) {
				return "", "", permanent("credential missing", err)
			}
			return "", "", err
		}
		token = cred.AccessToken
	}
	target, err := resolver.ResolveMediaURL(ctx, job.MediaRef, token)
	if err != nil {
		return "", "", fmt.Errorf("resolve media url: %w", err)
	}
	return target, token, nil
}

// probe returns the declared size, or -1 when the origin does not say.
func (f *Fetcher) probe(ctx context.Context, client *http.Client, target string) int64 {
	pctx, cancel := context.WithTimeout(ctx, f.opts.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodHead, target, nil)
	if err != nil {
		return -1
	}
	resp, err := client.Do(req)
	if err != nil {
		f.logger.Debug("media probe failed", slog.String("url", target), slog.Any("error", err))
		return -1
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return -1
	}
	return resp.ContentLength
}

func (f *Fetcher) complete(ctx context.Context, job Job, res stored) {
	if err := f.store.CompleteDownload(ctx, job.MessageID, res.key, res.mediaType); err != nil {
		f.logger.Warn("record download completion failed",
			slog.String("message_id", job.MessageID), slog.Any("error", err))
		if delErr := f.provider.Delete(ctx, res.key); delErr != nil {
			f.logger.Warn("remove orphan media failed", slog.String("key", res.key), slog.Any("error", delErr))
		}
		return
	}
	f.logger.Info("media downloaded", slog.String("message_id", job.MessageID), slog.String("key", res.key))
	if f.publisher == nil {
		return
	}
	env, err := pubsub.NewEnvelope(pubsub.TypeMediaReady, job.AccountID, "", ReadyEvent{
		MessageID:      job.MessageID,
		ConversationID: job.ConversationID,
		MediaURL:       f.provider.AccessPath(res.key),
		MediaType:      res.mediaType,
	})
	if err != nil {
		f.logger.Error("build media_ready failed", slog.Any("error", err))
		return
	}
	if err := f.publisher.Publish(ctx, job.AccountID, env); err != nil {
		f.logger.Warn("publish media_ready failed", slog.String("message_id", job.MessageID), slog.Any("error", err))
	}
}

func (f *Fetcher) fail(ctx context.Context, job Job, reason string) {
	f.logger.Warn("media download failed", slog.String("message_id", job.MessageID), slog.String("reason", reason))
	if err := f.store.FailDownload(ctx, job.MessageID, reason); err != nil {
		f.logger.Warn("record download failure failed", slog.String("message_id", job.MessageID), slog.Any("error", err))
	}
}

func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("http status %d", code)
	default:
		return permanent(fmt.Sprintf("http status %d", code), nil)
	}
}

func isPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm) || errors.Is(err, ErrAssetTooLarge)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
