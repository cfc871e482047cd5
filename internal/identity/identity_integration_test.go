package identity_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/socialdesk/internal/channel"
	"github.com/memohai/socialdesk/internal/db/dbtest"
	"github.com/memohai/socialdesk/internal/db/sqlc"
	"github.com/memohai/socialdesk/internal/identity"
)

func TestIntegration_ConcurrentFirstContact(t *testing.T) {
	pool := dbtest.Open(t)
	r := identity.NewResolver(nil, sqlc.New(pool))
	account := uuid.NewString()
	externalID := fmt.Sprintf("it-%d", time.Now().UnixNano())

	var wg sync.WaitGroup
	ids := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			contact, err := r.ResolveContact(context.Background(), channel.PlatformMessenger, externalID, "Concurrent")
			if err != nil {
				t.Errorf("ResolveContact: %v", err)
				return
			}
			conv, err := r.ResolveConversation(context.Background(), account, contact)
			if err != nil {
				t.Errorf("ResolveConversation: %v", err)
				return
			}
			ids <- contact.ID + "/" + conv.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	if len(seen) != 1 {
		t.Fatalf("distinct contact/conversation pairs = %d, want 1", len(seen))
	}

	var count int
	if err := pool.QueryRow(context.Background(),
		`SELECT count(*) FROM social_contacts WHERE platform = 'messenger' AND external_id = $1`, externalID,
	).Scan(&count); err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	if count != 1 {
		t.Fatalf("contact rows = %d, want 1", count)
	}
}
