package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchPersona(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 4)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := WatchPersona(ctx, path, logger, func(s string) { changes <- s }); err != nil {
		t.Fatalf("WatchPersona returned unexpected error: %v", err)
	}

	if err := os.WriteFile(path, []byte("updated persona"), 0o644); err != nil {
		t.Fatalf("rewrite persona: %v", err)
	}

	select {
	case got := <-changes:
		if got != "updated persona" {
			t.Errorf("onChange received %q, want %q", got, "updated persona")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onChange not invoked after file rewrite")
	}
}

func TestWatchPersonaIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 4)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := WatchPersona(ctx, path, logger, func(s string) { changes <- s }); err != nil {
		t.Fatalf("WatchPersona returned unexpected error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("noise"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	select {
	case got := <-changes:
		t.Errorf("onChange invoked for sibling write with %q", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchPersonaEmptyPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := WatchPersona(context.Background(), "", logger, func(string) {}); err != nil {
		t.Errorf("WatchPersona with empty path returned %v, want nil", err)
	}
}
