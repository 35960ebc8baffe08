package observability

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domdrive/bus"
	"github.com/hazyhaar/domdrive/dbopen"
	"github.com/hazyhaar/domdrive/vars"
)

func TestBusLogPersistsTraffic(t *testing.T) {
	sdb := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	b := bus.New()
	b.Start()
	defer b.Stop()

	log := NewBusLog(sdb, b, 16)

	m := vars.NewManager(b)
	if err := m.Set("feed", "scrollCount", 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Set("feed", "scrollCount", 2); err != nil {
		t.Fatal(err)
	}

	// Close drains the buffer, so everything recorded so far is queryable.
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	sets, err := log.Query(ctx, &EventFilter{Topic: bus.TopicRootVarSet})
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 2 {
		t.Fatalf("SET events: %d", len(sets))
	}
	changed, err := log.Query(ctx, &EventFilter{Topic: bus.TopicRootVarChanged})
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 2 {
		t.Fatalf("CHANGED events: %d", len(changed))
	}

	e := sets[0]
	if e.Topic != bus.TopicRootVarSet || e.MessageID == "" || e.Source != "vars" {
		t.Fatalf("event: %+v", e)
	}
	if e.Payload == "" {
		t.Fatal("payload not recorded")
	}
}

func TestBusLogDetachesOnClose(t *testing.T) {
	sdb := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	b := bus.New()
	b.Start()
	defer b.Stop()

	log := NewBusLog(sdb, b, 16)
	m := vars.NewManager(b)
	if err := m.Set("feed", "k", 1); err != nil {
		t.Fatal(err)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	// Traffic after Close must not be recorded.
	if err := m.Set("feed", "k", 2); err != nil {
		t.Fatal(err)
	}
	events, err := log.Query(context.Background(), &EventFilter{Topic: bus.TopicRootVarSet})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events after close: %d", len(events))
	}
}

func TestBusLogCleanup(t *testing.T) {
	sdb := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	b := bus.New()
	b.Start()
	defer b.Stop()

	log := NewBusLog(sdb, b, 16)
	defer log.Close()

	ctx := context.Background()
	old := &Event{
		EventID:     "evt_old",
		Topic:       bus.TopicRootLifecycle,
		MessageID:   "m1",
		Timestamp:   time.Now().AddDate(0, 0, -30),
		MetaVersion: 1,
	}
	if err := log.insert(ctx, old); err != nil {
		t.Fatal(err)
	}
	fresh := &Event{
		EventID:     "evt_new",
		Topic:       bus.TopicRootLifecycle,
		MessageID:   "m2",
		Timestamp:   time.Now(),
		MetaVersion: 1,
	}
	if err := log.insert(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	deleted, err := log.Cleanup(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted: %d", deleted)
	}
	events, err := log.Query(ctx, &EventFilter{Topic: bus.TopicRootLifecycle})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventID != "evt_new" {
		t.Fatalf("remaining: %+v", events)
	}
}

func TestRunLoggerRoundTrip(t *testing.T) {
	sdb := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	l := NewRunLogger(sdb)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	l.LogRun(ctx, RunRecord{
		ContainerID: "site.feed",
		State:       "exhausted",
		Iterations:  5,
		Discovered:  12,
		Operated:    12,
		StartedAt:   now.Add(-time.Minute),
		FinishedAt:  now,
	})
	l.LogRun(ctx, RunRecord{
		ContainerID: "site.comments",
		State:       "stopped",
		Iterations:  1,
		StartedAt:   now.Add(-time.Minute),
		FinishedAt:  now,
	})

	recs, err := l.Runs(ctx, "site.feed", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("runs: %d", len(recs))
	}
	r := recs[0]
	if r.State != "exhausted" || r.Iterations != 5 || r.Discovered != 12 {
		t.Fatalf("record: %+v", r)
	}
	if !r.FinishedAt.Equal(now) {
		t.Fatalf("finished_at: %v != %v", r.FinishedAt, now)
	}

	all, err := l.Runs(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all runs: %d", len(all))
	}
}
