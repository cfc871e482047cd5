package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/credentials"
)

type fakeCreds struct {
	mu           sync.Mutex
	cred         credentials.Credential
	err          error
	disconnected []string
}

func (f *fakeCreds) LookupCredential(context.Context, string, channel.Platform) (credentials.Credential, error) {
	if f.err != nil {
		return credentials.Credential{}, f.err
	}
	return f.cred, nil
}

func (f *fakeCreds) MarkDisconnected(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, id)
	return nil
}

type scriptedSender struct {
	errs  []error
	calls int
	last  channel.Recipient
}

func (s *scriptedSender) Platform() channel.Platform { return channel.PlatformMessenger }

func (s *scriptedSender) SendText(_ context.Context, to channel.Recipient, _ string) (channel.SendResult, error) {
	s.calls++
	s.last = to
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return channel.SendResult{}, s.errs[s.calls-1]
	}
	return channel.SendResult{Platform: channel.PlatformMessenger, ExternalMessageID: "mid.out", RecipientID: to.ExternalID}, nil
}

type senderMap map[channel.Platform]channel.Sender

func (m senderMap) Lookup(p channel.Platform, kind channel.MessageKind) channel.Handler {
	return channel.HandlerSpec{MessageKind: kind, Sender: m[p]}
}

func connectedCreds() *fakeCreds {
	return &fakeCreds{cred: credentials.Credential{
		ID:          "cred-1",
		AccountID:   "acct-1",
		Platform:    channel.PlatformMessenger,
		RoutingID:   "page-1",
		AccessToken: "token",
		Connected:   true,
	}}
}

func newTestDispatcher(creds *fakeCreds, sender channel.Sender) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(nil, creds, senderMap{channel.PlatformMessenger: sender}, Policy{RetryMax: 3, RetryBackoffMs: 10})
	var waits []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		waits = append(waits, dur)
		return nil
	}
	return d, &waits
}

func TestDispatcher_SendSuccess(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{}
	d, _ := newTestDispatcher(connectedCreds(), sender)
	res, err := d.Send(context.Background(), "acct-1", channel.PlatformMessenger, "psid-9", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExternalMessageID != "mid.out" || sender.last.RoutingID != "page-1" || sender.last.AccessToken != "token" {
		t.Fatalf("unexpected result %+v / recipient %+v", res, sender.last)
	}
}

func TestDispatcher_CredentialErrorsDoNotSend(t *testing.T) {
	t.Parallel()

	missing := &fakeCreds{err: credentials.ErrNotFound}
	disconnected := connectedCreds()
	disconnected.cred.Connected = false

	tests := []struct {
		name  string
		creds *fakeCreds
		want  error
	}{
		{name: "missing", creds: missing, want: ErrCredentialMissing},
		{name: "disconnected", creds: disconnected, want: ErrCredentialDisconnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sender := &scriptedSender{}
			d, _ := newTestDispatcher(tt.creds, sender)
			_, err := d.Send(context.Background(), "acct-1", channel.PlatformMessenger, "psid", "hi")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if sender.calls != 0 {
				t.Fatalf("sender must not be called, got %d calls", sender.calls)
			}
		})
	}
}

func TestDispatcher_ExpiredTokenFlagsCredential(t *testing.T) {
	t.Parallel()

	creds := connectedCreds()
	sender := &scriptedSender{errs: []error{&APIError{StatusCode: 400, Code: 190, Subcode: 463, Message: "Session has expired"}}}
	d, waits := newTestDispatcher(creds, sender)

	_, err := d.Send(context.Background(), "acct-1", channel.PlatformMessenger, "psid", "hi")
	if !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
	if sender.calls != 1 || len(*waits) != 0 {
		t.Fatalf("expired token must not be retried: calls=%d waits=%d", sender.calls, len(*waits))
	}
	if len(creds.disconnected) != 1 || creds.disconnected[0] != "cred-1" {
		t.Fatalf("credential not flagged: %v", creds.disconnected)
	}
}

func TestDispatcher_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{errs: []error{
		&APIError{StatusCode: 500, Code: 2, Message: "temporary"},
		&APIError{StatusCode: 400, Code: 4, Message: "rate limited"},
	}}
	d, waits := newTestDispatcher(connectedCreds(), sender)

	if _, err := d.Send(context.Background(), "acct-1", channel.PlatformMessenger, "psid", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sender.calls)
	}
	if len(*waits) != 2 || (*waits)[1] <= (*waits)[0] {
		t.Fatalf("expected growing backoff, got %v", *waits)
	}
}

func TestDispatcher_GivesUpAfterRetryMax(t *testing.T) {
	t.Parallel()

	outage := &APIError{StatusCode: 503, Message: "unavailable"}
	sender := &scriptedSender{errs: []error{outage, outage, outage, outage, outage}}
	d, _ := newTestDispatcher(connectedCreds(), sender)

	_, err := d.Send(context.Background(), "acct-1", channel.PlatformMessenger, "psid", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
	if sender.calls != 4 {
		t.Fatalf("expected initial attempt plus 3 retries, got %d", sender.calls)
	}
}

func TestDispatcher_PermanentFailsImmediately(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{errs: []error{&APIError{StatusCode: 400, Code: 100, Message: "Invalid parameter"}}}
	d, waits := newTestDispatcher(connectedCreds(), sender)

	_, err := d.Send(context.Background(), "acct-1", channel.PlatformMessenger, "psid", "hi")
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if sender.calls != 1 || len(*waits) != 0 {
		t.Fatalf("permanent error must not be retried: calls=%d", sender.calls)
	}
}

func TestDispatcher_RepliesThroughRegisteredTextHandler(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{}
	registry := channel.NewRegistry()
	registry.MustRegister(channel.PlatformMessenger, channel.HandlerSpec{MessageKind: channel.KindText, Sender: sender})
	d := NewDispatcher(nil, connectedCreds(), registry, Policy{})

	res, err := d.Send(context.Background(), "acct-1", channel.PlatformMessenger, "psid-1", "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sender.calls != 1 || res.ExternalMessageID != "mid.out" || sender.last.ExternalID != "psid-1" {
		t.Fatalf("unexpected delivery: calls=%d res=%+v to=%+v", sender.calls, res, sender.last)
	}

	_, err = d.Send(context.Background(), "acct-1", channel.PlatformTwitter, "x", "hi")
	if !errors.Is(err, channel.ErrNoSender) {
		t.Fatalf("expected no sender error, got %v", err)
	}
}

func TestDispatcher_UnknownPlatformSender(t *testing.T) {
	t.Parallel()

	creds := connectedCreds()
	d := NewDispatcher(nil, creds, senderMap{}, Policy{})
	_, err := d.Send(context.Background(), "acct-1", channel.PlatformTwitter, "x", "hi")
	if !errors.Is(err, channel.ErrNoSender) {
		t.Fatalf("expected no sender error, got %v", err)
	}
}
