package msg

import "testing"

func TestInsertBumpsOnCollision(t *testing.T) {
	l := NewLog()
	l.byTime[100] = Record{Body: "seed"}
	l.order = []Timestamp{100}

	// force nowMillis()-equivalent collision by inserting directly at the
	// same logical point: Insert always uses real time, so simulate the
	// bump path by pre-seeding a timestamp far in the future.
	l.mu.Lock()
	future := Timestamp(1 << 40)
	l.byTime[future] = Record{Body: "far-future"}
	l.order = append(l.order, future)
	l.mu.Unlock()

	ts := l.Insert(Record{Body: "new"})
	if ts <= future {
		t.Fatalf("expected inserted timestamp to exceed prior max %d, got %d", future, ts)
	}
}

func TestRangeEmptyWhenFromAfterTo(t *testing.T) {
	l := NewLog()
	l.Insert(Record{Body: "a"})
	if got := l.Range(100, 0); len(got) != 0 {
		t.Fatalf("expected empty range, got %d entries", len(got))
	}
}

func TestRangeOrdered(t *testing.T) {
	l := NewLog()
	l.Insert(Record{Body: "a"})
	l.Insert(Record{Body: "b"})
	l.Insert(Record{Body: "c"})
	entries := l.Range(0, 1<<62)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp <= entries[i-1].Timestamp {
			t.Fatalf("expected strictly increasing timestamps, got %v", entries)
		}
	}
}

func TestPruneRemovesOlderThanCutoff(t *testing.T) {
	l := NewLog()
	l.byTime[10] = Record{Body: "old"}
	l.byTime[20] = Record{Body: "new"}
	l.order = []Timestamp{10, 20}

	l.Prune(15)
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", l.Len())
	}
	if _, ok := l.byTime[10]; ok {
		t.Fatal("expected old entry pruned")
	}
}
