package store

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/quietriver/earshot/internal/transcribe"
)

func result(seq uint64, text string) transcribe.Result {
	return transcribe.Result{Seq: seq, Text: text, Engine: "fake", Timestamp: time.Now()}
}

func TestMemoryReturnsOldestFirst(t *testing.T) {
	m := NewMemory(10)
	for seq := uint64(1); seq <= 3; seq++ {
		m.Add(result(seq, "x"))
	}
	got := m.Recent(0)
	if len(got) != 3 {
		t.Fatalf("Recent returned %d results, want 3", len(got))
	}
	for i, r := range got {
		if want := uint64(i + 1); r.Seq != want {
			t.Fatalf("Recent[%d].Seq = %d, want %d", i, r.Seq, want)
		}
	}
}

func TestMemoryEvictsOldest(t *testing.T) {
	m := NewMemory(3)
	for seq := uint64(1); seq <= 5; seq++ {
		m.Add(result(seq, "x"))
	}
	got := m.Recent(0)
	if len(got) != 3 {
		t.Fatalf("Recent returned %d results, want 3", len(got))
	}
	for i, want := range []uint64{3, 4, 5} {
		if got[i].Seq != want {
			t.Fatalf("Recent = %v, want seqs 3..5", got)
		}
	}
}

func TestMemoryRecentLimit(t *testing.T) {
	m := NewMemory(10)
	for seq := uint64(1); seq <= 6; seq++ {
		m.Add(result(seq, "x"))
	}
	got := m.Recent(2)
	if len(got) != 2 || got[0].Seq != 5 || got[1].Seq != 6 {
		t.Fatalf("Recent(2) = %v, want the two newest", got)
	}
}

func TestMemoryStats(t *testing.T) {
	m := NewMemory(10)
	m.Add(result(1, "hello"))
	m.Add(result(2, "")) // empty but successful
	failed := result(3, "")
	failed.Error = "engine down"
	m.Add(failed)

	stats := m.Stats()
	if stats.Total != 3 || stats.Failed != 1 || stats.Empty != 1 {
		t.Fatalf("Stats = %+v", stats)
	}
}

func TestFilesAppendsToDailyFile(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("NewFiles: %v", err)
	}
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return day }

	for seq := uint64(1); seq <= 2; seq++ {
		if err := f.Append(result(seq, "hello")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	file, err := os.Open(f.Path(day))
	if err != nil {
		t.Fatalf("opening daily file: %v", err)
	}
	defer file.Close()

	var seqs []uint64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var res transcribe.Result
		if err := json.Unmarshal(scanner.Bytes(), &res); err != nil {
			t.Fatalf("corrupt line: %v", err)
		}
		seqs = append(seqs, res.Seq)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("daily file seqs = %v", seqs)
	}
}

func TestFilesRotatesOnDateChange(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("NewFiles: %v", err)
	}
	day1 := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)

	f.now = func() time.Time { return day1 }
	if err := f.Append(result(1, "before midnight")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f.now = func() time.Time { return day2 }
	if err := f.Append(result(2, "after midnight")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if f.Path(day1) == f.Path(day2) {
		t.Fatal("paths for different days must differ")
	}
	for _, day := range []time.Time{day1, day2} {
		if _, err := os.Stat(f.Path(day)); err != nil {
			t.Fatalf("missing daily file for %v: %v", day, err)
		}
	}
}
