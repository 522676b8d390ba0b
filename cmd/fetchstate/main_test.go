package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samvad-hq/fetchstate/internal/config"
	"github.com/samvad-hq/fetchstate/internal/domain"
	"github.com/samvad-hq/fetchstate/internal/storage"
)

func TestRunFetchPrintsLoadedState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-Token") != "abc" {
			t.Errorf("unexpected request %s %v", r.Method, r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"q":"x"}` {
			t.Errorf("body = %s", body)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := runFetch(context.Background(), &out, srv.URL, fetchOptions{
		method:  "post",
		headers: []string{"X-Token: abc"},
		body:    `{"q":"x"}`,
		decoder: "json",
		timeout: 2 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("runFetch: %v", err)
	}

	var view map[string]any
	if err := json.Unmarshal(out.Bytes(), &view); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if view["status"] != "loaded" {
		t.Fatalf("status = %v", view["status"])
	}
	if payload, _ := view["payload"].(map[string]any); payload["ok"] != true {
		t.Fatalf("payload = %v", view["payload"])
	}
}

func TestRunFetchReturnsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var out bytes.Buffer
	log := &recordingLogger{}
	err := runFetch(context.Background(), &out, srv.URL, fetchOptions{method: "GET", decoder: "text", timeout: time.Second}, log)
	if err == nil || err.Error() != "request failed with status code 500" {
		t.Fatalf("expected status failure, got %v", err)
	}
	if !strings.Contains(out.String(), `"failed"`) {
		t.Fatalf("output should report failed state: %s", out.String())
	}
	if !log.warned("fetch attempt failed") {
		t.Fatalf("failure warning not logged, got %v", log.warnings())
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) InfoObj(string, string, interface{})  {}
func (l *recordingLogger) DebugObj(string, string, interface{}) {}
func (l *recordingLogger) ErrorObj(string, string, interface{}) {}
func (l *recordingLogger) WarnObj(msg, _ string, _ interface{}) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

// warned waits briefly since the warning is logged after subscribers are notified.
func (l *recordingLogger) warned(msg string) bool {
	deadline := time.Now().Add(2 * time.Second)
	for {
		for _, w := range l.warnings() {
			if w == msg {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseHeadersRejectsMalformed(t *testing.T) {
	if _, err := parseHeaders([]string{"no-colon"}); err == nil {
		t.Fatalf("expected error for header without colon")
	}
	h, err := parseHeaders([]string{" Accept : text/html "})
	if err != nil || h["Accept"] != "text/html" {
		t.Fatalf("headers = %v err=%v", h, err)
	}
}

func TestRunHistoryPrintsNewestFirst(t *testing.T) {
	cfg := &config.Config{
		StorageType:            "bbolt",
		BBoltPath:              filepath.Join(t.TempDir(), "history.db"),
		StorageTTL:             time.Hour,
		StorageCleanupInterval: time.Hour,
	}
	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{RecordTTL: time.Hour, CleanupInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	base := time.Now().UTC()
	for i := uint64(1); i <= 3; i++ {
		s := domain.NewSettlement("items", "https://example.com", "GET", i)
		s.SettledAt = base.Add(time.Duration(i) * time.Second)
		if err := store.Record(s); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var out bytes.Buffer
	if err := runHistory(&out, cfg, "items", 2); err != nil {
		t.Fatalf("runHistory: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), out.String())
	}
	var first domain.Settlement
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil || first.Attempt != 3 {
		t.Fatalf("first = %+v err=%v", first, err)
	}
}
