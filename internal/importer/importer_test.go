package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/crates/internal/discogs"
	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/store/memory"
)

// fakeCatalog serves one master's versions and their releases.
type fakeCatalog struct {
	mu       sync.Mutex
	versions []discogs.Version
	// notFound releases always 404.
	notFound map[int64]bool
	// rateLimits is how many 429s a release returns before succeeding.
	rateLimits map[int64]int
	retryAfter time.Duration
	listErr    error

	listCalls    int
	releaseCalls map[int64]int
}

func newFakeCatalog(n int) *fakeCatalog {
	c := &fakeCatalog{
		notFound:     map[int64]bool{},
		rateLimits:   map[int64]int{},
		releaseCalls: map[int64]int{},
	}
	for i := 1; i <= n; i++ {
		c.versions = append(c.versions, discogs.Version{ID: int64(1000 + i), Title: fmt.Sprintf("Blue #%d", i)})
	}
	return c
}

func (c *fakeCatalog) ListMasterVersions(_ context.Context, _ int64, page, perPage int) (*discogs.VersionsPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	if c.listErr != nil {
		return nil, c.listErr
	}
	pages := (len(c.versions) + perPage - 1) / perPage
	start := (page - 1) * perPage
	end := min(start+perPage, len(c.versions))
	var vs []discogs.Version
	if start < len(c.versions) {
		vs = c.versions[start:end]
	}
	return &discogs.VersionsPage{
		Pagination: discogs.Pagination{Page: page, Pages: pages, PerPage: perPage, Items: len(c.versions)},
		Versions:   vs,
	}, nil
}

func (c *fakeCatalog) GetRelease(_ context.Context, id int64) (*discogs.Release, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseCalls[id]++
	if c.notFound[id] {
		return nil, &model.NotFoundError{Kind: "release", ID: fmt.Sprint(id)}
	}
	if c.rateLimits[id] > 0 {
		c.rateLimits[id]--
		return nil, &model.RateLimitedError{RetryAfter: c.retryAfter}
	}
	return &discogs.Release{
		ID:      id,
		Title:   "Blue",
		Year:    1971,
		Country: "US",
		Formats: []discogs.Format{{Name: "Vinyl", Descriptions: []string{"LP", "Album"}}},
		Labels:  []discogs.Label{{Name: "Reprise Records", CatalogNo: "MS 2038"}},
	}, nil
}

type fixture struct {
	store   *memory.Store
	catalog *fakeCatalog
	wf      *Workflow
	slept   []time.Duration
	album   *model.Album
}

func newFixture(t *testing.T, releases int, cfg Config) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), catalog: newFakeCatalog(releases)}
	f.album = &model.Album{ID: "alb-blue", Title: "Blue", Artist: "Joni Mitchell", ExternalMasterID: 5512}
	if err := f.store.CreateAlbum(context.Background(), f.album); err != nil {
		t.Fatalf("CreateAlbum: %v", err)
	}
	f.wf = New(f.store, f.catalog, cfg, nil)
	f.wf.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func (f *fixture) run(t *testing.T) Summary {
	t.Helper()
	sum, err := f.wf.Run(context.Background(), model.NewImportRequested(f.album.ID, f.album.ExternalMasterID))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return sum
}

func (f *fixture) pressings(t *testing.T) []*model.Pressing {
	t.Helper()
	ps, err := f.store.ListPressings(context.Background(), f.album.ID)
	if err != nil {
		t.Fatalf("ListPressings: %v", err)
	}
	return ps
}

func (f *fixture) outbox(t *testing.T, eventType string) []*model.OutboxEvent {
	t.Helper()
	rows, err := f.store.GetUnprocessedEvents(context.Background(), 1000)
	if err != nil {
		t.Fatalf("GetUnprocessedEvents: %v", err)
	}
	var out []*model.OutboxEvent
	for _, r := range rows {
		if r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out
}

func (f *fixture) imported(t *testing.T) bool {
	t.Helper()
	a, err := f.store.GetAlbum(context.Background(), f.album.ID)
	if err != nil {
		t.Fatalf("GetAlbum: %v", err)
	}
	return a.Imported()
}

func TestRun_ReleaseNotFoundIsSkipped(t *testing.T) {
	f := newFixture(t, 5, Config{})
	f.catalog.notFound[1003] = true

	sum := f.run(t)
	if sum.Created != 4 || sum.Failed != 1 || sum.Existing != 0 {
		t.Fatalf("summary = %+v, want 4 created 1 failed", sum)
	}
	if n := len(f.pressings(t)); n != 4 {
		t.Fatalf("pressings = %d, want 4", n)
	}

	activity := f.outbox(t, model.EventActivity)
	if len(activity) != 1 {
		t.Fatalf("activity events = %d, want 1", len(activity))
	}
	if activity[0].Destination != model.DestinationActivity {
		t.Errorf("activity destination = %q", activity[0].Destination)
	}
	var ev model.ActivityNotification
	if err := json.Unmarshal(activity[0].Payload, &ev); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	if ev.Counts["created"] != 4 || ev.Counts["failed"] != 1 {
		t.Errorf("activity counts = %v", ev.Counts)
	}

	if n := len(f.outbox(t, model.EventPressingCreated)); n != 4 {
		t.Errorf("pressing.created events = %d, want 4", n)
	}
	// A release that no longer exists upstream will never import, so the
	// album still counts as done.
	if !sum.Complete || !f.imported(t) {
		t.Error("album not marked imported")
	}
}

func TestRun_RerunCreatesNoDuplicates(t *testing.T) {
	f := newFixture(t, 5, Config{Backoff: time.Second})
	f.catalog.rateLimits[1002] = 2
	f.catalog.rateLimits[1004] = 2

	first := f.run(t)
	if first.Created != 3 || first.Failed != 2 {
		t.Fatalf("first run = %+v, want 3 created 2 failed", first)
	}
	if first.Complete || f.imported(t) {
		t.Fatal("album marked imported despite retryable failures")
	}

	second := f.run(t)
	if second.Created != 2 || second.Existing != 3 || second.Failed != 0 {
		t.Fatalf("second run = %+v, want 2 created 3 existing", second)
	}
	ps := f.pressings(t)
	if len(ps) != 5 {
		t.Fatalf("pressings = %d, want 5", len(ps))
	}
	seen := map[int64]bool{}
	for _, p := range ps {
		if seen[p.ExternalReleaseID] {
			t.Fatalf("duplicate pressing for release %d", p.ExternalReleaseID)
		}
		seen[p.ExternalReleaseID] = true
	}
	if !second.Complete || !f.imported(t) {
		t.Fatal("album not marked imported after a clean run")
	}
	if n := len(f.outbox(t, model.EventActivity)); n != 2 {
		t.Fatalf("activity events = %d, want one per run", n)
	}
}

func TestRun_AlreadyImportedHasNoSideEffects(t *testing.T) {
	f := newFixture(t, 3, Config{})
	if err := f.store.MarkAlbumImported(context.Background(), f.album.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	sum := f.run(t)
	if !sum.Skipped {
		t.Fatalf("summary = %+v, want skipped", sum)
	}
	if f.catalog.listCalls != 0 || len(f.catalog.releaseCalls) != 0 {
		t.Fatal("catalog API called for an imported album")
	}
	if n, _ := f.store.CountUnprocessedEvents(context.Background()); n != 0 {
		t.Fatalf("outbox rows = %d, want 0", n)
	}
}

func TestRun_RateLimitWaitsForLongerOfBackoffAndHint(t *testing.T) {
	tests := []struct {
		name    string
		backoff time.Duration
		hint    time.Duration
		want    time.Duration
	}{
		{"hint wins", time.Second, 3 * time.Second, 3 * time.Second},
		{"backoff wins", 5 * time.Second, 2 * time.Second, 5 * time.Second},
		{"no hint", 4 * time.Second, 0, 4 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 3, Config{Backoff: tt.backoff})
			f.catalog.rateLimits[1002] = 1
			f.catalog.retryAfter = tt.hint

			sum := f.run(t)
			if len(f.slept) != 1 || f.slept[0] != tt.want {
				t.Fatalf("slept %v, want [%v]", f.slept, tt.want)
			}
			if f.catalog.releaseCalls[1002] != 2 {
				t.Fatalf("release fetched %d times, want 2", f.catalog.releaseCalls[1002])
			}
			if sum.Created != 3 {
				t.Fatalf("summary = %+v, want all 3 created after the retry", sum)
			}
		})
	}
}

func TestRun_SecondRateLimitSkipsOnlyThatItem(t *testing.T) {
	f := newFixture(t, 4, Config{Backoff: time.Second})
	f.catalog.rateLimits[1002] = 5

	sum := f.run(t)
	if f.catalog.releaseCalls[1002] != 2 {
		t.Fatalf("release fetched %d times, want exactly one retry", f.catalog.releaseCalls[1002])
	}
	if sum.Created != 3 || sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 3 created 1 failed", sum)
	}
	for _, id := range []int64{1003, 1004} {
		if f.catalog.releaseCalls[id] != 1 {
			t.Errorf("release %d fetched %d times after the skipped item", id, f.catalog.releaseCalls[id])
		}
	}
}

func TestRun_Paginates(t *testing.T) {
	f := newFixture(t, 5, Config{PerPage: 2})
	sum := f.run(t)
	if f.catalog.listCalls != 3 {
		t.Fatalf("list calls = %d, want 3", f.catalog.listCalls)
	}
	if sum.Created != 5 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRun_ListingFailureStillSummarises(t *testing.T) {
	f := newFixture(t, 3, Config{})
	f.catalog.listErr = errors.New("connection refused")

	sum := f.run(t)
	if sum.Created != 0 || sum.Complete {
		t.Fatalf("summary = %+v", sum)
	}
	if f.imported(t) {
		t.Fatal("album marked imported after a listing failure")
	}
	if n := len(f.outbox(t, model.EventActivity)); n != 1 {
		t.Fatalf("activity events = %d, want 1", n)
	}
}

func TestRun_MissingAlbum(t *testing.T) {
	f := newFixture(t, 1, Config{})
	_, err := f.wf.Run(context.Background(), model.NewImportRequested("alb-missing", 1))
	if !model.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	if f.catalog.listCalls != 0 {
		t.Fatal("catalog API called for a missing album")
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	f := newFixture(t, 3, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.wf.Run(ctx, model.NewImportRequested(f.album.ID, 5512)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
