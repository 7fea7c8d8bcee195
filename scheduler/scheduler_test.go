package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chat-archiver/archive"
	"github.com/onnwee/chat-archiver/collector"
	"github.com/onnwee/chat-archiver/notify"
	"github.com/onnwee/chat-archiver/platform"
	"github.com/onnwee/chat-archiver/store"
	"github.com/onnwee/chat-archiver/testutil"
	"github.com/onnwee/chat-archiver/viewer"
)

var (
	guild = platform.Guild{ID: "g1", Name: "Guild"}
	chA   = platform.Channel{ID: "1", Name: "alpha"}
	chB   = platform.Channel{ID: "2", Name: "bravo"}
	chC   = platform.Channel{ID: "3", Name: "charlie"}
)

type fixture struct {
	fp    *testutil.FakePlatform
	store *store.FileStore
	sched *Scheduler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fp := testutil.NewFakePlatform()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, ch := range []platform.Channel{chA, chB, chC} {
		fp.AddChannel(guild, ch, testutil.Messages("u"+ch.ID, start, 3)...)
	}
	st, err := store.New(t.TempDir(), archive.PolicyVersioned)
	if err != nil {
		t.Fatal(err)
	}
	n := notify.New(fp, viewer.Links{BaseURL: "https://b.test"}, "", nil)
	opts = append([]Option{WithNotifier(n)}, opts...)
	return &fixture{fp: fp, store: st, sched: New(fp, collector.New(fp), st, nil, opts...)}
}

type waitRequest struct {
	d    time.Duration
	fire chan time.Time
}

// fakeTimer hands each requested wait to the test, which decides when it fires.
type fakeTimer struct {
	requests chan waitRequest
}

func newFakeTimer() *fakeTimer { return &fakeTimer{requests: make(chan waitRequest, 16)} }

func (f *fakeTimer) After(d time.Duration) (<-chan time.Time, func()) {
	c := make(chan time.Time, 1)
	f.requests <- waitRequest{d: d, fire: c}
	return c, func() {}
}

func (f *fakeTimer) next(t *testing.T) waitRequest {
	t.Helper()
	select {
	case r := <-f.requests:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never waited")
		return waitRequest{}
	}
}

func TestSweepArchivesEveryChannel(t *testing.T) {
	f := newFixture(t)
	sum, ran := f.sched.Tick(context.Background())
	if !ran {
		t.Fatal("tick dropped on idle scheduler")
	}
	if sum.Archived() != 3 || sum.Failed() != 0 || sum.Err != nil {
		t.Fatalf("summary = %+v", sum)
	}
	index, err := f.store.List(context.Background())
	if err != nil || len(index) != 3 {
		t.Fatalf("index = %v, %v", index, err)
	}
	sent := f.fp.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d notices, want one per guild", len(sent))
	}
	if sent[0].Notice.URL != "https://b.test/view" {
		t.Errorf("sweep notice URL = %q", sent[0].Notice.URL)
	}
	if f.sched.Sweeping() {
		t.Error("sweep flag left set")
	}
}

func TestSweepIsolatesCollectionFailure(t *testing.T) {
	f := newFixture(t)
	f.fp.FailHistory(chB.ID, errors.New("missing access"))

	sum, _ := f.sched.Tick(context.Background())
	if len(sum.Results) != 3 {
		t.Fatalf("results = %d", len(sum.Results))
	}
	ok := []bool{sum.Results[0].OK, sum.Results[1].OK, sum.Results[2].OK}
	if !ok[0] || ok[1] || !ok[2] {
		t.Fatalf("ok = %v, want [true false true]", ok)
	}
	if archive.Classify(sum.Results[1].Err) != archive.ClassCollection {
		t.Fatalf("second channel err = %v", sum.Results[1].Err)
	}
	index, _ := f.store.List(context.Background())
	if len(index[chA.ID]) != 1 || len(index[chC.ID]) != 1 || len(index[chB.ID]) != 0 {
		t.Fatalf("index = %+v", index)
	}
	if desc := f.fp.Sent()[0].Notice.Description; !strings.Contains(desc, "1 failed") {
		t.Errorf("notice = %q", desc)
	}
}

func TestSweepIsolatesPanic(t *testing.T) {
	f := newFixture(t)
	f.fp.HistoryHook = func(ch platform.Channel) {
		if ch.ID == chB.ID {
			panic("boom")
		}
	}
	sum, _ := f.sched.Tick(context.Background())
	if sum.Archived() != 2 || sum.Results[1].OK || sum.Results[1].Err == nil {
		t.Fatalf("summary = %+v", sum.Results)
	}
	if f.sched.Sweeping() {
		t.Fatal("sweep flag left set after panic")
	}
	if _, ran := f.sched.Tick(context.Background()); !ran {
		t.Fatal("scheduler stuck after panic")
	}
}

type failingStore struct {
	Store
	failID string
}

func (s failingStore) Write(ctx context.Context, a *archive.Archive) (archive.Ref, error) {
	if a.ChannelID == s.failID {
		return "", &archive.PersistenceError{Op: "write", Path: a.ChannelID, Err: errors.New("disk full")}
	}
	return s.Store.Write(ctx, a)
}

func TestSweepIsolatesPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	sched := New(f.fp, collector.New(f.fp), failingStore{Store: f.store, failID: chA.ID}, nil)
	sum, _ := sched.Tick(context.Background())
	if sum.Results[0].OK || archive.Classify(sum.Results[0].Err) != archive.ClassPersistence {
		t.Fatalf("first result = %+v", sum.Results[0])
	}
	if !sum.Results[1].OK || !sum.Results[2].OK {
		t.Fatalf("later channels affected: %+v", sum.Results)
	}
}

func TestSweepCountsUnlistableGuild(t *testing.T) {
	f := newFixture(t)
	broken := platform.Guild{ID: "g2", Name: "Broken"}
	f.fp.AddChannel(broken, platform.Channel{ID: "9", Name: "hidden"})
	f.fp.FailChannels(broken.ID, errors.New("missing access"))

	sum, _ := f.sched.Tick(context.Background())
	if sum.Archived() != 3 || sum.Failed() != 1 {
		t.Fatalf("archived %d failed %d, want 3 and 1", sum.Archived(), sum.Failed())
	}
	var failed ChannelResult
	for _, r := range sum.Results {
		if !r.OK {
			failed = r
		}
	}
	if failed.GuildID != broken.ID || archive.Classify(failed.Err) != archive.ClassCollection {
		t.Fatalf("failed result = %+v", failed)
	}
}

func TestBackupNowSameSecondKeepsBothArchives(t *testing.T) {
	f := newFixture(t)
	frozen := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	sched := New(f.fp, collector.New(f.fp, collector.WithClock(func() time.Time { return frozen })), f.store, nil)
	ch := platform.Channel{ID: chA.ID, GuildID: guild.ID}

	first, err := sched.BackupNow(context.Background(), ch)
	if err != nil {
		t.Fatal(err)
	}
	second, err := sched.BackupNow(context.Background(), ch)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("both backups stored as %s", first)
	}
	index, err := f.store.List(context.Background())
	if err != nil || len(index[chA.ID]) != 2 {
		t.Fatalf("index = %v, %v; want 2 archives for channel %s", index, err, chA.ID)
	}
}

func TestTickDroppedWhileSweeping(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fp.HistoryHook = func(platform.Channel) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan SweepSummary)
	go func() {
		sum, _ := f.sched.Tick(context.Background())
		done <- sum
	}()
	<-entered

	if _, ran := f.sched.Tick(context.Background()); ran {
		t.Fatal("overlapping tick ran")
	}
	if f.sched.SweepAsync(context.Background()) {
		t.Fatal("SweepAsync started during a sweep")
	}
	if got := f.fp.TotalHistoryCalls(); got != 1 {
		t.Fatalf("history calls during held sweep = %d, want 1", got)
	}
	if !f.sched.Status().Sweeping {
		t.Fatal("status does not report sweeping")
	}

	close(release)
	sum := <-done
	if sum.Archived() != 3 {
		t.Fatalf("held sweep archived %d", sum.Archived())
	}
	if f.sched.Sweeping() {
		t.Fatal("flag not cleared")
	}
}

func TestBackupNowDoesNotWaitForSweep(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fp.HistoryHook = func(ch platform.Channel) {
		if ch.ID == chA.ID {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}
	done := make(chan struct{})
	go func() {
		f.sched.Tick(context.Background())
		close(done)
	}()
	<-entered
	defer func() {
		close(release)
		<-done
	}()

	ref, err := f.sched.BackupNow(context.Background(), platform.Channel{ID: chC.ID, Name: chC.Name, GuildID: guild.ID})
	if err != nil {
		t.Fatalf("BackupNow: %v", err)
	}
	if _, err := f.store.Read(context.Background(), ref); err != nil {
		t.Fatalf("Read(%s): %v", ref, err)
	}
}

func TestBackupNowNotifiesWithDetailLink(t *testing.T) {
	f := newFixture(t)
	var got []Trigger
	f.sched.OnBackup(func(_ context.Context, tr Trigger, _ ChannelResult) { got = append(got, tr) })

	ref, err := f.sched.BackupChannel(context.Background(), chB.ID)
	if err != nil {
		t.Fatalf("BackupChannel: %v", err)
	}
	sent := f.fp.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d notices", len(sent))
	}
	if want := "https://b.test/logs/" + string(ref); sent[0].Notice.URL != want {
		t.Fatalf("URL = %q, want %q", sent[0].Notice.URL, want)
	}
	if len(got) != 1 || got[0] != TriggerManual {
		t.Fatalf("backup hooks = %v", got)
	}
}

func TestBackupChannelUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.sched.BackupChannel(context.Background(), "404")
	if !errors.Is(err, platform.ErrUnknownChannel) {
		t.Fatalf("err = %v", err)
	}
}

func TestBackupNowFailureSkipsNotice(t *testing.T) {
	f := newFixture(t)
	f.fp.FailHistory(chA.ID, errors.New("gone"))
	if _, err := f.sched.BackupNow(context.Background(), platform.Channel{ID: chA.ID, GuildID: guild.ID}); err == nil {
		t.Fatal("expected error")
	}
	if len(f.fp.Sent()) != 0 {
		t.Fatal("notice sent for failed backup")
	}
}

func TestSweepWithoutGuilds(t *testing.T) {
	f := newFixture(t)
	f.fp.GuildsErr = errors.New("gateway down")
	sum, ran := f.sched.Tick(context.Background())
	if !ran || sum.Err == nil || len(sum.Results) != 0 {
		t.Fatalf("summary = %+v ran=%v", sum, ran)
	}
}

func TestSetIntervalBounds(t *testing.T) {
	f := newFixture(t)
	for _, m := range []int{0, -5, 1441} {
		err := f.sched.SetIntervalMinutes(m)
		var cerr *archive.ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("SetIntervalMinutes(%d) err = %v, want ConfigError", m, err)
		}
		if got := f.sched.Config().Interval(); got != DefaultInterval {
			t.Fatalf("interval changed to %v after rejected %d", got, m)
		}
	}
	for _, m := range []int{1, 60, 1440} {
		if err := f.sched.SetIntervalMinutes(m); err != nil {
			t.Fatalf("SetIntervalMinutes(%d): %v", m, err)
		}
		if got := f.sched.Config().Interval(); got != time.Duration(m)*time.Minute {
			t.Fatalf("interval = %v, want %dm", got, m)
		}
	}
}

func TestNewConfigFallsBackToDefault(t *testing.T) {
	for _, d := range []time.Duration{0, 30 * time.Second, 25 * time.Hour} {
		if got := NewConfig(d).Interval(); got != DefaultInterval {
			t.Errorf("NewConfig(%v) = %v", d, got)
		}
	}
	if got := NewConfig(5 * time.Minute).Interval(); got != 5*time.Minute {
		t.Errorf("NewConfig(5m) = %v", got)
	}
}

func TestNextWaitUsesNewInterval(t *testing.T) {
	timer := newFakeTimer()
	f := newFixture(t, WithAfterFunc(timer.After))
	var mu sync.Mutex
	var sweeps []SweepSummary
	f.sched.OnSweep(func(_ context.Context, s SweepSummary) {
		mu.Lock()
		sweeps = append(sweeps, s)
		mu.Unlock()
	})
	f.sched.Start(context.Background())
	defer f.sched.Stop()

	first := timer.next(t)
	if first.d != DefaultInterval {
		t.Fatalf("first wait = %v", first.d)
	}
	if err := f.sched.SetIntervalMinutes(60); err != nil {
		t.Fatal(err)
	}
	first.fire <- time.Now()

	second := timer.next(t)
	if second.d != 60*time.Minute {
		t.Fatalf("wait after change = %v, want 1h", second.d)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sweeps) != 1 || sweeps[0].Trigger != TriggerTimer {
		t.Fatalf("sweeps = %+v", sweeps)
	}
}

func TestRescheduleRestartsWait(t *testing.T) {
	timer := newFakeTimer()
	f := newFixture(t, WithAfterFunc(timer.After))
	f.sched.Start(context.Background())
	defer f.sched.Stop()

	if r := timer.next(t); r.d != DefaultInterval {
		t.Fatalf("first wait = %v", r.d)
	}
	if err := f.sched.SetIntervalMinutes(5); err != nil {
		t.Fatal(err)
	}
	f.sched.Reschedule()
	if r := timer.next(t); r.d != 5*time.Minute {
		t.Fatalf("rescheduled wait = %v", r.d)
	}
	if f.fp.TotalHistoryCalls() != 0 {
		t.Fatal("reschedule triggered a sweep")
	}
}

func TestSweepOnStart(t *testing.T) {
	timer := newFakeTimer()
	f := newFixture(t, WithAfterFunc(timer.After), WithSweepOnStart(true))
	f.sched.Start(context.Background())
	timer.next(t)
	if got := f.fp.TotalHistoryCalls(); got != 3 {
		t.Fatalf("history calls before first wait = %d, want 3", got)
	}
	f.sched.Stop()
	if f.sched.Status().Running {
		t.Fatal("scheduler still running after Stop")
	}
	if last := f.sched.Status().LastSweep; last == nil || last.Archived() != 3 {
		t.Fatalf("last sweep = %+v", last)
	}
}
