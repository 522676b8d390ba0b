package storage

import (
	"testing"
	"time"

	"github.com/samvad-hq/fetchstate/internal/domain"
)

func openTestStore(t *testing.T, opts Options) *boltStore {
	t.Helper()
	storeRaw, err := openBolt(t.TempDir()+"/history.db", normalizeOptions(opts))
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	store := storeRaw.(*boltStore)
	t.Cleanup(func() { store.Close() })
	return store
}

func settlementAt(target string, attempt uint64, at time.Time) domain.Settlement {
	s := domain.NewSettlement(target, "https://example.com/"+target, "GET", attempt)
	s.Status = "loaded"
	s.SettledAt = at
	return s
}

func TestBoltStoreHistoryNewestFirstPerTarget(t *testing.T) {
	store := openTestStore(t, Options{})
	base := time.Now().Add(-time.Minute)

	for i := 1; i <= 3; i++ {
		if err := store.Record(settlementAt("a", uint64(i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Record a: %v", err)
		}
	}
	if err := store.Record(settlementAt("b", 1, base)); err != nil {
		t.Fatalf("Record b: %v", err)
	}
	if err := store.Record(settlementAt("ab", 1, base)); err != nil {
		t.Fatalf("Record ab: %v", err)
	}

	got, err := store.History("a", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 settlements for a, got %d", len(got))
	}
	if got[0].Attempt != 3 || got[2].Attempt != 1 {
		t.Fatalf("expected newest first, got attempts %d..%d", got[0].Attempt, got[2].Attempt)
	}

	limited, err := store.History("a", 2)
	if err != nil || len(limited) != 2 || limited[0].Attempt != 3 {
		t.Fatalf("limited history = %+v err=%v", limited, err)
	}

	b, err := store.History("b", 10)
	if err != nil || len(b) != 1 || b[0].TargetID != "b" {
		t.Fatalf("history for b = %+v err=%v", b, err)
	}

	none, err := store.History("missing", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("history for missing = %+v err=%v", none, err)
	}
}

func TestBoltStoreExpiresRecords(t *testing.T) {
	store := openTestStore(t, Options{
		RecordTTL:       1 * time.Second,
		CleanupInterval: 1 * time.Second,
	})

	if err := store.Record(settlementAt("a", 1, time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got, _ := store.History("a", 0); len(got) != 1 {
		t.Fatalf("expected 1 record before expiry, got %d", len(got))
	}

	// Fast-forward cleanup cadence and trigger expiry.
	store.lastCleanup.Store(time.Now().Add(-2 * time.Second).Unix())
	time.Sleep(2100 * time.Millisecond)

	if got, _ := store.History("a", 0); len(got) != 0 {
		t.Fatalf("expected expired record to be hidden, got %d", len(got))
	}
	if err := store.Record(settlementAt("b", 1, time.Now())); err != nil {
		t.Fatalf("Record after expiry: %v", err)
	}
	if err := store.maybeCleanupExpired(time.Now()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if got, _ := store.History("b", 0); len(got) != 1 {
		t.Fatalf("fresh record should survive cleanup, got %d", len(got))
	}
}

func TestRecordRejectsEmptyTarget(t *testing.T) {
	store := openTestStore(t, Options{})
	if err := store.Record(domain.Settlement{}); err == nil {
		t.Fatalf("expected error for empty target id")
	}
}

func TestNewStoreSupportsNoop(t *testing.T) {
	store, err := NewStore("none", "", Options{})
	if err != nil {
		t.Fatalf("NewStore none: %v", err)
	}
	if err := store.Record(domain.Settlement{TargetID: "x"}); err != nil {
		t.Fatalf("noop store Record: %v", err)
	}
	if _, err := NewStore("bbolt", " ", Options{}); err == nil {
		t.Fatalf("expected error for bbolt without path")
	}
	if _, err := NewStore("redis", "x", Options{}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}
