package autoreply

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/socialdesk/internal/config"
)

func TestCatalogueGenerator(t *testing.T) {
	t.Parallel()

	reply, err := CatalogueGenerator{Text: "hi"}.GenerateAutoReply(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", reply)

	_, err = CatalogueGenerator{}.GenerateAutoReply(context.Background(), "c1", "hello")
	require.ErrorIs(t, err, ErrNoReply)
}

func TestHTTPGenerator_PostsConversationAndText(t *testing.T) {
	t.Parallel()

	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"reply":"  We open at 9.  "}`))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(nil, srv.URL, 0, CatalogueGenerator{Text: "fallback"})
	reply, err := g.GenerateAutoReply(context.Background(), "conv-1", "when do you open?")
	require.NoError(t, err)
	assert.Equal(t, "We open at 9.", reply)
	assert.Equal(t, generateRequest{ConversationID: "conv-1", Text: "when do you open?"}, got)
}

func TestHTTPGenerator_FallsBack(t *testing.T) {
	t.Parallel()

	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		"empty reply":  func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"reply":""}`)) },
		"bad json":     func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`nope`)) },
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(handler)
			defer srv.Close()

			g := NewHTTPGenerator(nil, srv.URL, 0, CatalogueGenerator{Text: "fallback"})
			reply, err := g.GenerateAutoReply(context.Background(), "c", "t")
			require.NoError(t, err)
			assert.Equal(t, "fallback", reply)
		})
	}
}

func TestHTTPGenerator_NoFallbackReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPGenerator(nil, srv.URL, 0, nil).GenerateAutoReply(context.Background(), "c", "t")
	require.Error(t, err)
}

func TestNew_PicksByConfig(t *testing.T) {
	t.Parallel()

	assert.IsType(t, CatalogueGenerator{}, New(nil, config.AutoReplyConfig{}))
	assert.IsType(t, &HTTPGenerator{}, New(nil, config.AutoReplyConfig{GeneratorURL: "http://ai.local/reply", TimeoutSeconds: 5}))
}
