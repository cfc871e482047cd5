package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/db/sqlc"
)

// memQueries mimics the upsert statements: every call is atomic under mu.
type memQueries struct {
	mu            sync.Mutex
	contacts      map[string]sqlc.SocialContact
	conversations map[string]sqlc.Conversation
	contactCalls  int
}

func newMemQueries() *memQueries {
	return &memQueries{
		contacts:      map[string]sqlc.SocialContact{},
		conversations: map[string]sqlc.Conversation{},
	}
}

func newUUID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}

func now() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now(), Valid: true}
}

func (m *memQueries) UpsertSocialContact(ctx context.Context, arg sqlc.UpsertSocialContactParams) (sqlc.SocialContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contactCalls++
	key := arg.Platform + "/" + arg.ExternalID
	row, ok := m.contacts[key]
	if !ok {
		row = sqlc.SocialContact{ID: newUUID(), Platform: arg.Platform, ExternalID: arg.ExternalID, DisplayName: arg.DisplayName, CreatedAt: now(), UpdatedAt: now()}
	} else if arg.DisplayName != "" && arg.DisplayName != row.DisplayName {
		row.DisplayName = arg.DisplayName
		row.UpdatedAt = now()
	}
	m.contacts[key] = row
	return row, nil
}

func (m *memQueries) GetSocialContact(ctx context.Context, id pgtype.UUID) (sqlc.SocialContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.contacts {
		if row.ID == id {
			return row, nil
		}
	}
	return sqlc.SocialContact{}, pgx.ErrNoRows
}

func (m *memQueries) UpsertConversation(ctx context.Context, arg sqlc.UpsertConversationParams) (sqlc.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uuid.UUID(arg.AccountID.Bytes).String() + "/" + uuid.UUID(arg.ContactID.Bytes).String()
	row, ok := m.conversations[key]
	if !ok {
		row = sqlc.Conversation{ID: newUUID(), AccountID: arg.AccountID, ContactID: arg.ContactID, AutoReply: true, CreatedAt: now(), UpdatedAt: now()}
		m.conversations[key] = row
	}
	return row, nil
}

func (m *memQueries) GetConversation(ctx context.Context, id pgtype.UUID) (sqlc.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.conversations {
		if row.ID == id {
			return row, nil
		}
	}
	return sqlc.Conversation{}, pgx.ErrNoRows
}

func (m *memQueries) ListConversations(ctx context.Context, arg sqlc.ListConversationsParams) ([]sqlc.ListConversationsRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sqlc.ListConversationsRow
	for _, conv := range m.conversations {
		if conv.AccountID != arg.AccountID {
			continue
		}
		if arg.ContactID.Valid && conv.ContactID != arg.ContactID {
			continue
		}
		for _, c := range m.contacts {
			if c.ID != conv.ContactID {
				continue
			}
			if arg.Platform.Valid && c.Platform != arg.Platform.String {
				continue
			}
			out = append(out, sqlc.ListConversationsRow{
				ID: conv.ID, AccountID: conv.AccountID, ContactID: conv.ContactID, AutoReply: conv.AutoReply,
				Platform: c.Platform, ExternalID: c.ExternalID, DisplayName: c.DisplayName,
			})
		}
	}
	return out, nil
}

func (m *memQueries) SetConversationAutoReply(ctx context.Context, arg sqlc.SetConversationAutoReplyParams) (sqlc.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, row := range m.conversations {
		if row.ID == arg.ID && row.AccountID == arg.AccountID {
			row.AutoReply = arg.AutoReply
			m.conversations[key] = row
			return row, nil
		}
	}
	return sqlc.Conversation{}, pgx.ErrNoRows
}

func TestResolveContact_CreatesThenUpdatesName(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, newMemQueries())
	ctx := context.Background()

	first, err := r.ResolveContact(ctx, channel.PlatformMessenger, "psid-1", "")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	second, err := r.ResolveContact(ctx, channel.PlatformMessenger, "psid-1", "Alice")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("contact duplicated: %s vs %s", first.ID, second.ID)
	}
	if second.DisplayName != "Alice" {
		t.Fatalf("display name = %q, want Alice", second.DisplayName)
	}
	third, _ := r.ResolveContact(ctx, channel.PlatformMessenger, "psid-1", "")
	if third.DisplayName != "Alice" {
		t.Fatalf("empty name must not clear stored name, got %q", third.DisplayName)
	}
}

func TestResolveContact_Validation(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, newMemQueries())
	if _, err := r.ResolveContact(context.Background(), channel.PlatformMessenger, "  ", "x"); err == nil {
		t.Fatal("expected error for empty external id")
	}
	if _, err := r.ResolveContact(context.Background(), "", "id", "x"); err == nil {
		t.Fatal("expected error for empty platform")
	}
}

func TestResolve_ConcurrentSameKeyYieldsOneRow(t *testing.T) {
	t.Parallel()
	q := newMemQueries()
	r := NewResolver(nil, q)
	account := uuid.NewString()

	const workers = 32
	var wg sync.WaitGroup
	contactIDs := make([]string, workers)
	convIDs := make([]string, workers)
	errs := make([]error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			contact, err := r.ResolveContact(context.Background(), channel.PlatformWhatsApp, "15550001111", "Bob")
			if err != nil {
				errs[i] = err
				return
			}
			conv, err := r.ResolveConversation(context.Background(), account, contact)
			if err != nil {
				errs[i] = err
				return
			}
			contactIDs[i] = contact.ID
			convIDs[i] = conv.ID
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if contactIDs[i] != contactIDs[0] || convIDs[i] != convIDs[0] {
			t.Fatalf("worker %d saw a different row", i)
		}
	}
	if len(q.contacts) != 1 || len(q.conversations) != 1 {
		t.Fatalf("rows: contacts=%d conversations=%d, want 1/1", len(q.contacts), len(q.conversations))
	}
	if q.contactCalls != workers {
		t.Fatalf("upsert calls = %d, want %d", q.contactCalls, workers)
	}
}

func TestResolveConversation_DefaultsAutoReply(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, newMemQueries())
	ctx := context.Background()
	contact, _ := r.ResolveContact(ctx, channel.PlatformMessenger, "psid-2", "Carol")
	conv, err := r.ResolveConversation(ctx, uuid.NewString(), contact)
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}
	if !conv.AutoReply {
		t.Fatal("new conversation must default to auto reply")
	}
	if conv.Contact.ExternalID != "psid-2" {
		t.Fatalf("contact not attached: %+v", conv.Contact)
	}
	if _, err := r.ResolveConversation(ctx, "bad", contact); err == nil {
		t.Fatal("expected invalid account error")
	}
}

func TestOwnedConversationAndAutoReplyToggle(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, newMemQueries())
	ctx := context.Background()
	owner := uuid.NewString()
	contact, _ := r.ResolveContact(ctx, channel.PlatformMessenger, "psid-3", "Dan")
	conv, _ := r.ResolveConversation(ctx, owner, contact)

	loaded, err := r.OwnedConversation(ctx, owner, conv.ID)
	if err != nil {
		t.Fatalf("OwnedConversation: %v", err)
	}
	if loaded.Contact.DisplayName != "Dan" {
		t.Fatalf("contact not loaded: %+v", loaded.Contact)
	}
	if _, err := r.OwnedConversation(ctx, uuid.NewString(), conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign account err = %v, want ErrNotFound", err)
	}

	updated, err := r.SetAutoReply(ctx, owner, conv.ID, false)
	if err != nil {
		t.Fatalf("SetAutoReply: %v", err)
	}
	if updated.AutoReply {
		t.Fatal("auto reply still enabled")
	}
	if _, err := r.SetAutoReply(ctx, uuid.NewString(), conv.ID, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign toggle err = %v, want ErrNotFound", err)
	}
}

func TestListConversations_Filters(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, newMemQueries())
	ctx := context.Background()
	owner := uuid.NewString()
	a, _ := r.ResolveContact(ctx, channel.PlatformMessenger, "psid-a", "A")
	b, _ := r.ResolveContact(ctx, channel.PlatformWhatsApp, "15550002222", "B")
	_, _ = r.ResolveConversation(ctx, owner, a)
	_, _ = r.ResolveConversation(ctx, owner, b)
	_, _ = r.ResolveConversation(ctx, uuid.NewString(), a)

	all, err := r.ListConversations(ctx, owner, ListFilter{})
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d conversations, want 2", len(all))
	}
	wa, _ := r.ListConversations(ctx, owner, ListFilter{Platform: channel.PlatformWhatsApp})
	if len(wa) != 1 || wa[0].Contact.ExternalID != "15550002222" {
		t.Fatalf("platform filter: %+v", wa)
	}
	byContact, _ := r.ListConversations(ctx, owner, ListFilter{ContactID: a.ID})
	if len(byContact) != 1 || byContact[0].ContactID != a.ID {
		t.Fatalf("contact filter: %+v", byContact)
	}
}
