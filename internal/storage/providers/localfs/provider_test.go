package localfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/memohai/socialdesk/internal/media"
)

func TestProvider_HostPath(t *testing.T) {
	t.Parallel()
	p := &Provider{root: "/srv/media"}

	tests := []struct {
		key       string
		want      string
		wantErr   bool
		traversal bool
	}{
		{key: "acc-1/conv-1/photo.jpg", want: "/srv/media/acc-1/conv-1/photo.jpg"},
		{key: "acc-1/./conv-1/../conv-2/a.png", want: "/srv/media/acc-1/conv-2/a.png"},
		{key: "/etc/passwd", wantErr: true, traversal: true},
		{key: "../escape/x", wantErr: true, traversal: true},
		{key: "acc-1/../../escape", wantErr: true, traversal: true},
		{key: "nosubpath", wantErr: true},
		{key: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := p.hostPath(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Errorf("hostPath(%q) expected error", tt.key)
			}
			if tt.traversal && !errors.Is(err, media.ErrPathTraversal) {
				t.Errorf("hostPath(%q) err = %v, want ErrPathTraversal", tt.key, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("hostPath(%q) unexpected error: %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("hostPath(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestProvider_AccessPath(t *testing.T) {
	t.Parallel()
	p := &Provider{root: "/srv/media"}
	if got := p.AccessPath("acc-1/conv-1/photo.jpg"); got != "/media/acc-1/conv-1/photo.jpg" {
		t.Fatalf("AccessPath = %q", got)
	}
}

func TestProvider_PutOpenDelete(t *testing.T) {
	t.Parallel()
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	key := "acc-1/conv-1/doc.pdf"
	if err := p.Put(ctx, key, bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, err := p.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("content = %q", data)
	}
	if err := p.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := p.Delete(ctx, key); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if _, err := p.Open(ctx, key); !errors.Is(err, media.ErrAssetNotFound) {
		t.Fatalf("Open deleted err = %v, want ErrAssetNotFound", err)
	}
}

func TestProvider_Move(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	p, err := New(filepath.Join(root, "store"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := filepath.Join(root, "spool.bin")
	if err := os.WriteFile(src, []byte("video"), 0o600); err != nil {
		t.Fatalf("write spool: %v", err)
	}
	if err := p.Move(context.Background(), "acc-1/conv-1/clip.mp4", src); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("spool file still present: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "store", "acc-1", "conv-1", "clip.mp4"))
	if err != nil || string(data) != "video" {
		t.Fatalf("moved content = %q, %v", data, err)
	}
}
