package channel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultReplies(t *testing.T) {
	t.Parallel()
	r := DefaultReplies()
	text, ok := r.Reply(KindImage)
	require.True(t, ok)
	assert.Equal(t, "Thanks for the image! We'll process it soon.", text)

	text, ok = r.Reply(KindContacts)
	require.True(t, ok)
	assert.Equal(t, "Thanks for sharing the contacts", text)

	_, ok = r.Reply(KindText)
	assert.False(t, ok, "text replies come from the generator")
}

func TestLoadReplies_OverridesAndDisables(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "replies.yaml")
	content := "replies:\n  Image: \"Nice picture\"\n  contacts: \"\"\n  postback: \"Got it\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r, err := LoadReplies(path)
	require.NoError(t, err)

	text, ok := r.Reply(KindImage)
	require.True(t, ok)
	assert.Equal(t, "Nice picture", text)

	_, ok = r.Reply(KindContacts)
	assert.False(t, ok)

	text, ok = r.Reply(KindPostback)
	require.True(t, ok)
	assert.Equal(t, "Got it", text)

	_, ok = r.Reply(KindVideo)
	assert.True(t, ok, "untouched defaults are kept")
}

func TestLoadReplies_EmptyPath(t *testing.T) {
	t.Parallel()
	r, err := LoadReplies("")
	require.NoError(t, err)
	_, ok := r.Reply(KindAudio)
	assert.True(t, ok)
}

func TestLoadReplies_InvalidYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replies: [unclosed"), 0o600))
	_, err := LoadReplies(path)
	assert.Error(t, err)
}
