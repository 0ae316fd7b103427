package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "eventreminder/pkg/logx"
)

func record(i int) FiringRecord {
	at := time.Date(2031, 1, 1, 0, 0, i, 0, time.UTC)
	return FiringRecord{
		FiringID:    fmt.Sprintf("f-%d", i),
		Job:         "event-1.5m",
		Trigger:     "trigger.event-1.5m",
		EventID:     1,
		ScheduledAt: at,
		StartedAt:   at.Add(time.Millisecond),
		FinishedAt:  at.Add(time.Second),
		Status:      "success",
		Delivered:   3,
		FireCount:   int64(i),
	}
}

func TestJournalDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		path := filepath.Join(t.TempDir(), "journal.db")
		j, err := Open(Config{Driver: driver, Path: path, Retain: 3}, logx.Nop())
		if err != nil {
			t.Fatalf("%s: open: %v", driver, err)
		}
		for i := 1; i <= 5; i++ {
			if err := j.AppendFiring(context.Background(), record(i)); err != nil {
				t.Fatalf("%s: append %d: %v", driver, i, err)
			}
		}
		got, err := j.RecentFirings(context.Background(), 2)
		if err != nil {
			t.Fatalf("%s: recent: %v", driver, err)
		}
		if len(got) != 2 || got[0].FiringID != "f-5" || got[1].FiringID != "f-4" {
			t.Fatalf("%s: recent=%+v", driver, got)
		}
		if !got[0].ScheduledAt.Equal(record(5).ScheduledAt) || got[0].Delivered != 3 || got[0].FireCount != 5 {
			t.Fatalf("%s: record=%+v", driver, got[0])
		}
		if err := j.Close(); err != nil {
			t.Fatalf("%s: close: %v", driver, err)
		}
	}
}

func TestFileJournalReplaysOnOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.json")
	j, err := Open(Config{Driver: "file", Path: path, Retain: 2}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 1; i <= 5; i++ {
		_ = j.AppendFiring(context.Background(), record(i))
	}
	_ = j.Close()

	j, err = Open(Config{Driver: "file", Path: path, Retain: 2}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	got, _ := j.RecentFirings(context.Background(), 0)
	if len(got) != 2 || got[0].FiringID != "f-5" || got[1].FiringID != "f-4" {
		t.Fatalf("recent after reopen=%+v", got)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	j, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || j != nil {
		t.Fatalf("disabled journal=%v err=%v", j, err)
	}
	if _, err := Open(Config{Driver: "tape"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
