package channel

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Replies holds canned reply texts per message kind. A kind without an entry
// has no canned reply and is answered by the reply generator instead.
type Replies struct {
	mu    sync.RWMutex
	texts map[MessageKind]string
}

// DefaultReplies returns the built-in catalogue.
func DefaultReplies() *Replies {
	return &Replies{texts: map[MessageKind]string{
		KindImage:    "Thanks for the image! We'll process it soon.",
		KindAudio:    "Thanks for the audio! We'll process it soon.",
		KindVideo:    "Thanks for the video! We'll process it soon.",
		KindDocument: "Thanks for the document! We'll process it soon.",
		KindContacts: "Thanks for sharing the contacts",
	}}
}

type repliesFile struct {
	Replies map[string]string `yaml:"replies"`
}

// LoadReplies reads a YAML catalogue over the defaults. An empty path returns
// the defaults unchanged.
//
//	replies:
//	  image: "Got your picture!"
//	  contacts: ""   # disables the canned reply
func LoadReplies(path string) (*Replies, error) {
	r := DefaultReplies()
	if strings.TrimSpace(path) == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replies: %w", err)
	}
	var file repliesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse replies: %w", err)
	}
	for kind, text := range file.Replies {
		r.Set(MessageKind(strings.ToLower(strings.TrimSpace(kind))), text)
	}
	return r, nil
}

// Reply returns the canned text for kind.
func (r *Replies) Reply(kind MessageKind) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	text, ok := r.texts[kind]
	if !ok || strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// Set overrides the canned text for kind. An empty text removes it.
func (r *Replies) Set(kind MessageKind, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		delete(r.texts, kind)
		return
	}
	r.texts[kind] = text
}
