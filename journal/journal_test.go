package journal

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAppendAndRead(t *testing.T) {
	w, err := Open(t.TempDir(), "room1", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(w.Path(), "room1-20240501-120000.jsonl.zst") {
		t.Fatalf("path = %s", w.Path())
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if err := w.Append("room1", "WORLD_CHANGES", "", map[string]any{"n": j}); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()
	if err := w.Append("room1", "RESET", "p1", nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Append("room1", "late", "", 1); err != nil {
		t.Fatalf("append after close: %v", err)
	}

	var entries []Entry
	if err := Read(w.Path(), func(e Entry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 101 {
		t.Fatalf("read %d entries", len(entries))
	}
	last := entries[100]
	if last.Type != "RESET" || last.To != "p1" || string(last.Payload) != "null" {
		t.Fatalf("last = %+v", last)
	}
}

func TestReadStopsOnCallbackError(t *testing.T) {
	w, err := Open(t.TempDir(), "r", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_ = w.Append("r", "T", "", i)
	}
	_ = w.Close()

	stop := errors.New("stop")
	n := 0
	err = Read(w.Path(), func(Entry) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}
