package db

import (
	"context"
	"testing"
	"time"
)

func TestConnectRejectsEmptyDSN(t *testing.T) {
	if _, err := Connect(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestKV(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatal(err)
	}
	if v, err := GetKV(ctx, db, "missing"); err != nil || v != "" {
		t.Fatalf("GetKV(missing) = %q, %v", v, err)
	}
	for _, v := range []string{"a", "b"} {
		if err := SetKV(ctx, db, "k", v); err != nil {
			t.Fatal(err)
		}
		if got, err := GetKV(ctx, db, "k"); err != nil || got != v {
			t.Fatalf("GetKV = %q, %v; want %q", got, err, v)
		}
	}
}

func TestRecordSweep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2"} {
		rec := SweepRecord{
			ID:         id,
			Trigger:    "timer",
			StartedAt:  start.Add(time.Duration(i) * time.Hour),
			FinishedAt: start.Add(time.Duration(i)*time.Hour + time.Minute),
			Archived:   1,
			Failed:     1,
			Channels: []ChannelRecord{
				{ChannelID: "1", OK: true, Ref: "1_1.json", Messages: 4},
				{ChannelID: "2", Error: "collect channel 2: missing access"},
			},
		}
		if err := RecordSweep(ctx, db, rec); err != nil {
			t.Fatalf("RecordSweep(%s): %v", id, err)
		}
	}

	sweeps, err := RecentSweeps(ctx, db, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sweeps) != 2 || sweeps[0].ID != "s2" {
		t.Fatalf("sweeps = %+v", sweeps)
	}
	chs, err := SweepChannels(ctx, db, "s1")
	if err != nil || len(chs) != 2 || !chs[0].OK || chs[1].Error == "" {
		t.Fatalf("channels = %+v, %v", chs, err)
	}
	last, err := GetKV(ctx, db, KeySweepLast)
	if err != nil || last != "2024-01-01T01:01:00Z" {
		t.Fatalf("%s = %q, %v", KeySweepLast, last, err)
	}

	if err := RecordSweep(ctx, db, SweepRecord{ID: "s1", Trigger: "timer", StartedAt: start, FinishedAt: start}); err == nil {
		t.Fatal("duplicate sweep id accepted")
	}
}

func TestChatHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lines := []ChatMessage{
		{Channel: "foo", Username: "b", Message: "second", Timestamp: base.Add(time.Second)},
		{Channel: "foo", Username: "a", Message: "first", Timestamp: base},
		{Channel: "bar", Username: "c", Message: "other", Timestamp: base},
	}
	for _, m := range lines {
		if err := InsertChatMessage(ctx, db, m); err != nil {
			t.Fatal(err)
		}
	}
	got, err := ChatHistory(ctx, db, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Message != "first" || got[1].Message != "second" {
		t.Fatalf("history = %+v", got)
	}
}
