package dedup

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestIsDuplicateWithoutRecord(t *testing.T) {
	tr := NewTracker(time.Hour)
	// Checking twice without recording must not create a record.
	if tr.IsDuplicate("m1") {
		t.Error("IsDuplicate on unseen id = true, want false")
	}
	if tr.IsDuplicate("m1") {
		t.Error("second IsDuplicate on unseen id = true, want false")
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after checks, want 0", tr.Len())
	}
}

func TestRecordThenDuplicate(t *testing.T) {
	tr := NewTracker(time.Hour)
	tr.Record("m1")
	if !tr.IsDuplicate("m1") {
		t.Error("IsDuplicate after Record = false, want true")
	}
}

func TestDuplicateExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(time.Hour)
	tr.now = func() time.Time { return now }

	tr.Record("m1")
	if !tr.IsDuplicate("m1") {
		t.Fatal("IsDuplicate within window = false, want true")
	}

	now = now.Add(time.Hour + time.Second)
	if tr.IsDuplicate("m1") {
		t.Error("IsDuplicate past window = true, want false")
	}
}

func TestEmptyIDNeverTracked(t *testing.T) {
	tr := NewTracker(time.Hour)
	tr.Record("")
	if tr.IsDuplicate("") {
		t.Error("empty id reported as duplicate")
	}
	if tr.CheckAndRecord("") {
		t.Error("CheckAndRecord(\"\") = true, want false")
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after empty-id operations, want 0", tr.Len())
	}
}

func TestCheckAndRecord(t *testing.T) {
	tr := NewTracker(time.Hour)
	if tr.CheckAndRecord("m1") {
		t.Error("first CheckAndRecord = true, want false")
	}
	if !tr.CheckAndRecord("m1") {
		t.Error("second CheckAndRecord = false, want true")
	}
}

func TestCheckAndRecordConcurrent(t *testing.T) {
	tr := NewTracker(time.Hour)
	const workers = 32

	var wg sync.WaitGroup
	firsts := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			firsts <- !tr.CheckAndRecord("contested")
		}()
	}
	wg.Wait()
	close(firsts)

	winners := 0
	for first := range firsts {
		if first {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("exactly one goroutine should win the record, got %d", winners)
	}
}

func TestRecordEvictsExpiredEntries(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(time.Hour)
	tr.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		tr.Record(fmt.Sprintf("old-%d", i))
	}
	now = now.Add(2 * time.Hour)
	tr.Record("fresh")

	if got := tr.Len(); got != 1 {
		t.Errorf("Len() = %d after eviction, want 1", got)
	}
}

func TestPathCachePutGet(t *testing.T) {
	pc := NewPathCache(time.Hour)
	pc.Put("m1", "statics/media/a.jpg")

	path, ok := pc.Get("m1")
	if !ok || path != "statics/media/a.jpg" {
		t.Errorf("Get() = (%q, %v), want cached path", path, ok)
	}
	if _, ok := pc.Get("missing"); ok {
		t.Error("Get(missing) = true, want false")
	}
}

func TestPathCacheExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	pc := NewPathCache(time.Hour)
	pc.now = func() time.Time { return now }

	pc.Put("m1", "statics/media/a.jpg")
	now = now.Add(time.Hour + time.Second)
	if _, ok := pc.Get("m1"); ok {
		t.Error("Get past window = true, want false")
	}
}

func TestPathCacheIgnoresEmptyValues(t *testing.T) {
	pc := NewPathCache(time.Hour)
	pc.Put("", "statics/media/a.jpg")
	pc.Put("m1", "")
	if _, ok := pc.Get(""); ok {
		t.Error("empty id should never resolve")
	}
	if _, ok := pc.Get("m1"); ok {
		t.Error("empty path should not be stored")
	}
}
