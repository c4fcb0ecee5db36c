package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestVolumeSourceResolverLayout(t *testing.T) {
	root := t.TempDir()
	resolver := VolumeSourceResolver{Root: root}

	shared := seedSource(t, root, "", "face-1")
	owned := seedSource(t, root, "user-7", "face-1")

	got, err := resolver.Resolve(context.Background(), "", "face-1")
	if err != nil {
		t.Fatalf("resolve shared: %v", err)
	}
	if got != shared {
		t.Fatalf("expected %s, got %s", shared, got)
	}

	got, err = resolver.Resolve(context.Background(), "user-7", "face-1")
	if err != nil {
		t.Fatalf("resolve user scoped: %v", err)
	}
	if got != owned {
		t.Fatalf("expected %s, got %s", owned, got)
	}

	if _, err := resolver.Resolve(context.Background(), "user-8", "face-1"); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound for other user, got %v", err)
	}
}

func TestVolumeSourceResolverRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	resolver := VolumeSourceResolver{Root: filepath.Join(root, "sources")}
	seedSource(t, root, "", "secret")

	cases := []struct{ user, source string }{
		{"", "../secret"},
		{"..", "secret"},
		{"", "."},
		{"a/b", "face"},
		{"", `..\secret`},
		{"", ""},
	}
	for _, tc := range cases {
		if _, err := resolver.Resolve(context.Background(), tc.user, tc.source); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("user=%q source=%q: expected ErrInvalidID, got %v", tc.user, tc.source, err)
		}
	}
}

func TestVolumeSourceResolverDirectoryIsNotASource(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "face-1.jpeg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := VolumeSourceResolver{Root: root}.Resolve(context.Background(), "", "face-1")
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}
