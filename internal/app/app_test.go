package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"eventreminder/internal/config"
	"eventreminder/internal/domain"
	"eventreminder/internal/eventstore"
	"eventreminder/internal/storage"
)

const testFixtures = `
users:
  - name: alice
    email: alice@example.com
  - name: bob
    email: bob@example.com
events:
  - id: 1
    name: Retro
    organizer: alice
    start_at: 2020-01-01T10:00:00Z
    participants: [alice, bob]
  - id: 2
    name: Planning
    organizer: bob
    start_at: 2099-01-01T10:00:00Z
    participants: [bob]
`

func writeTestConfig(t *testing.T, reminders string) (cfgPath, journalPath string) {
	t.Helper()
	dir := t.TempDir()
	fx := filepath.Join(dir, "fixtures.yaml")
	if err := os.WriteFile(fx, []byte(testFixtures), 0o600); err != nil {
		t.Fatalf("write fixtures: %v", err)
	}
	journalPath = filepath.Join(dir, "journal")
	body := fmt.Sprintf(`{
  "logging": {"level": "error"},
  "event_store": {"driver": "memory", "fixtures": %q},
  "storage": {"driver": "file", "path": %q},
  "reminders": %s
}`, fx, journalPath, reminders)
	cfgPath = filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, journalPath
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAppFiresConfiguredReminders(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, `[{"event_id": 1, "lead": "5m"}, {"event_id": 2, "lead": "1w"}]`)

	ctx := context.Background()
	a, err := New(ctx, cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var recs []storage.FiringRecord
	waitFor(t, "journal record", func() bool {
		recs, err = a.journal.RecentFirings(ctx, 10)
		return err == nil && len(recs) == 1
	})
	rec := recs[0]
	if rec.EventID != 1 || rec.Status != "success" || rec.Delivered != 2 || rec.FireCount != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Job != "event-1.5m" || rec.Trigger != "trigger.event-1.5m" {
		t.Fatalf("record keys = %s / %s", rec.Job, rec.Trigger)
	}

	md := a.Reminders().Metadata()
	if md.NumberOfScheduledJobs != 1 || md.Jobs[0].Key != "event-2.1w" {
		t.Fatalf("metadata = %+v", md)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, err := RecentFirings(ctx, cfgPath, 5)
	if err != nil {
		t.Fatalf("RecentFirings: %v", err)
	}
	if len(got) != 1 || got[0].FiringID != rec.FiringID {
		t.Fatalf("persisted = %+v", got)
	}
}

func TestAppReconcilesRemindersOnReload(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, `[{"event_id": 2, "lead": "1w"}]`)

	ctx := context.Background()
	a, err := New(ctx, cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, StopSignal)
	}()

	next := []config.ReminderConfig{
		{EventID: 2, Lead: "1h"},
		{EventID: 2, Cron: "0 9 * * MON"},
	}
	added, removed, err := a.reconcileReminders(ctx, next)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if added != 2 || removed != 1 {
		t.Fatalf("added=%d removed=%d", added, removed)
	}

	keys := map[string]bool{}
	for _, j := range a.Reminders().Metadata().Jobs {
		keys[string(j.Key)] = true
	}
	if len(keys) != 2 || !keys["event-2.1h"] || !keys["event-2.cron"] {
		t.Fatalf("jobs = %v", keys)
	}
}

func TestReconcileReportsMissingEvent(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, `[]`)

	ctx := context.Background()
	a, err := New(ctx, cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Stop(ctx, StopSignal) }()

	added, _, err := a.reconcileReminders(ctx, []config.ReminderConfig{{EventID: 42, Lead: "5m"}})
	if err == nil || added != 0 {
		t.Fatalf("added=%d err=%v; want missing event error", added, err)
	}
	if !strings.Contains(err.Error(), "42") {
		t.Fatalf("err = %v", err)
	}
}

func TestReconcileRetriesFailedReminder(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, `[]`)

	ctx := context.Background()
	a, err := New(ctx, cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, StopSignal)
	}()

	reminders := []config.ReminderConfig{{EventID: 42, Lead: "1h"}}
	if added, _, err := a.reconcileReminders(ctx, reminders); err == nil || added != 0 {
		t.Fatalf("added=%d err=%v; want missing event error", added, err)
	}

	w, ok := a.store.(eventstore.Writer)
	if !ok {
		t.Fatalf("memory store should be writable")
	}
	ev := domain.Event{ID: 42, Name: "Demo", Organizer: "alice", StartAt: time.Now().Add(48 * time.Hour), Participants: []string{"alice"}}
	if err := w.PutEvent(ctx, ev); err != nil {
		t.Fatalf("put event: %v", err)
	}

	added, removed, err := a.reconcileReminders(ctx, reminders)
	if err != nil || added != 1 || removed != 0 {
		t.Fatalf("added=%d removed=%d err=%v; want the failed reminder registered", added, removed, err)
	}
	if n := a.Reminders().Metadata().NumberOfScheduledJobs; n != 1 {
		t.Fatalf("scheduled jobs=%d, want 1", n)
	}

	if added, _, err := a.reconcileReminders(ctx, reminders); err != nil || added != 0 {
		t.Fatalf("added=%d err=%v; an active reminder is not registered twice", added, err)
	}
}

func TestNewRejectsBadReminders(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown lead": `[{"event_id": 1, "lead": "2d"}]`,
		"bad cron":     `[{"event_id": 1, "cron": "every day"}]`,
	}
	for name, reminders := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfgPath, _ := writeTestConfig(t, reminders)
			if _, err := New(context.Background(), cfgPath); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestMapConfigs(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "Europe/Berlin", FiringTimeout: "30s"},
		EventStore: config.EventStoreConfig{
			Driver: "sqlite",
			Path:   " ./events.db ",
			Cache:  &config.EventCacheConfig{Enabled: true, URL: "redis://localhost:6379/0"},
		},
		Storage: &config.StorageConfig{Driver: "SQLite", Path: "./journal.db"},
	}

	eng, err := mapTaskEngineConfig(cfg)
	if err != nil || !eng.Enabled || eng.DefaultTimeout != 0 {
		t.Fatalf("engine = %+v, %v", eng, err)
	}
	sc, err := mapSchedulerConfig(cfg)
	if err != nil || sc.FiringTimeout != 30*time.Second || sc.Timezone != "Europe/Berlin" {
		t.Fatalf("scheduler = %+v, %v", sc, err)
	}
	es, err := mapEventStoreConfig(cfg)
	if err != nil || es.Path != "./events.db" || !es.Cache.Enabled || es.Cache.TTL != time.Minute {
		t.Fatalf("event store = %+v, %v", es, err)
	}
	st, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled || st.Driver != "sqlite" || st.BusyTimeout != time.Second {
		t.Fatalf("storage = %+v, %v, %v", st, enabled, err)
	}
	if loc := displayLocation(cfg); loc.String() != "Europe/Berlin" {
		t.Fatalf("display location = %s", loc)
	}
	if _, enabled, _ := mapStorageConfig(&config.Config{}); enabled {
		t.Fatalf("nil storage section enabled the journal")
	}
	if got := metricsAddr(&config.Config{}); got != defaultMetricsAddr {
		t.Fatalf("metrics addr = %s", got)
	}
	m, err := mapMailerConfig(&config.Config{})
	if err != nil || m.RetryBase != 500*time.Millisecond || m.SendTimeout != 30*time.Second {
		t.Fatalf("mailer = %+v, %v", m, err)
	}
}
