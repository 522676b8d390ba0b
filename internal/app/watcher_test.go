package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samvad-hq/fetchstate/internal/config"
	"github.com/samvad-hq/fetchstate/internal/storage"
	"github.com/samvad-hq/fetchstate/pkg/publishers"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		AppName:                "fetchstate-test",
		DefaultSchedule:        "@every 1h",
		RequestTimeout:         2 * time.Second,
		UserAgent:              "fetchstate-test",
		StorageType:            "bbolt",
		BBoltPath:              filepath.Join(dir, "history.db"),
		StorageTTL:             time.Hour,
		StorageCleanupInterval: time.Hour,
	}
}

func TestWatcherRecordsAndPublishesSettlements(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/items":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
		case "/page":
			_, _ = w.Write([]byte(`<html><head><title>Page</title><meta property="og:image" content="/img.png"></head></html>`))
		default:
			http.Error(w, "missing", http.StatusNotFound)
		}
	}))
	defer source.Close()

	events := make(chan publishers.Event, 8)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt publishers.Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			t.Errorf("decode event: %v", err)
		}
		events <- evt
		w.WriteHeader(http.StatusAccepted)
	}))
	defer sink.Close()

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.TargetsFile = writeFile(t, dir, "targets.yaml", fmt.Sprintf(`
targets:
  - id: items
    name: Items
    url: %[1]s/items
  - id: page
    url: %[1]s/page
    decoder: html
  - id: gone
    url: %[1]s/gone
  - id: off
    url: %[1]s/items
    enabled: false
`, source.URL))
	cfg.PublishersFile = writeFile(t, dir, "publishers.yaml", fmt.Sprintf(`
publishers:
  - id: sink
    type: http
    http:
      url: %s
`, sink.URL))

	w, err := NewWatcher(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	got := make(map[string]publishers.Event)
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case evt := <-events:
			got[evt.TargetID] = evt
		case <-timeout:
			cancel()
			t.Fatalf("timed out waiting for settlements, got %v", got)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	if _, ok := got["off"]; ok {
		t.Fatalf("disabled target should not be fetched")
	}
	items := got["items"]
	if items.TargetName != "Items" || items.Settlement.Status != "loaded" || string(items.Settlement.Payload) != `{"items":[1,2,3]}` {
		t.Fatalf("items event = %+v", items)
	}
	page := got["page"].Settlement
	if string(page.Payload) != fmt.Sprintf(`{"title":"Page","image_url":"%s/img.png"}`, source.URL) {
		t.Fatalf("page payload = %s", page.Payload)
	}
	gone := got["gone"].Settlement
	if gone.Status != "failed" || gone.Failure != "request failed with status code 404" || gone.Payload != nil {
		t.Fatalf("gone settlement = %+v", gone)
	}

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{RecordTTL: time.Hour, CleanupInterval: time.Hour})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	history, err := store.History("items", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Attempt != 1 || history[0].Method != "GET" {
		t.Fatalf("history = %+v", history)
	}
}

func TestNewWatcherRejectsMissingTargets(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.TargetsFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := NewWatcher(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for missing targets file")
	}
	if _, err := NewWatcher(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
