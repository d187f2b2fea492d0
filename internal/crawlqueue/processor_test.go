package crawlqueue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skuwata/outreachd/internal/crawlqueue"
	"github.com/skuwata/outreachd/internal/outreach"
	"github.com/skuwata/outreachd/internal/storage/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeFetcher struct {
	err   error
	html  string
	calls int
	urls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) (outreach.Page, error) {
	f.calls++
	f.urls = append(f.urls, pageURL)
	if f.err != nil {
		return outreach.Page{}, f.err
	}
	return outreach.Page{URL: pageURL, HTML: []byte(f.html), FetchedAt: time.Now()}, nil
}

type fakeBlob struct {
	paths []string
}

func (b *fakeBlob) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	b.paths = append(b.paths, path)
	return "mem://" + path, nil
}

type recorderFunc func(ctx context.Context, m outreach.ProcessingMetrics) error

func (f recorderFunc) Record(ctx context.Context, m outreach.ProcessingMetrics) error {
	return f(ctx, m)
}

const samplePage = `<!DOCTYPE html>
<html><head>
<title>テクノロジー株式会社｜公式サイト</title>
<meta property="og:site_name" content="テクノロジー株式会社">
<style>body { color: red; }</style>
</head><body>
<script>var tracker = init();</script>
<h1>テクノロジー株式会社</h1>
<p>クラウドサービスの開発・提供を行っています。</p>
</body></html>`

func newProcessor(store *memory.Store, fetcher outreach.Fetcher, blob outreach.BlobStore, clock *fakeClock, rec crawlqueue.Recorder) *crawlqueue.Processor {
	return crawlqueue.New(store, store, fetcher, blob, rec, clock,
		crawlqueue.Config{BatchSize: 10, MaxRetries: 3, SnapshotPrefix: "snapshots"}, nil)
}

func seed(store *memory.Store, url string) {
	store.PutCompany(outreach.Company{ID: "co-1", Name: "テクノロジー株式会社", URL: url})
	store.PutQueueItem(outreach.CrawlQueueItem{ID: "q-1", CompanyID: "co-1", Status: outreach.QueuePending})
}

func TestRunCycleCrawlsAndPersists(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(store, "https://tech.example.co.jp/company/about")
	clock := &fakeClock{t: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{html: samplePage}
	blob := &fakeBlob{}

	var recorded []outreach.ProcessingMetrics
	p := newProcessor(store, fetcher, blob, clock, recorderFunc(func(_ context.Context, m outreach.ProcessingMetrics) error {
		recorded = append(recorded, m)
		return nil
	}))

	m, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.BatchSize)
	assert.Equal(t, 1, m.SuccessCount)
	assert.Zero(t, m.FailureCount)
	require.Len(t, recorded, 1)

	// Deep links are reduced to the origin before fetching.
	require.Equal(t, []string{"https://tech.example.co.jp"}, fetcher.urls)
	require.Len(t, blob.paths, 1)

	company, err := store.GetCompany(context.Background(), "co-1")
	require.NoError(t, err)
	assert.Contains(t, company.Content, "クラウドサービスの開発・提供")
	assert.NotContains(t, company.Content, "tracker", "script bodies must be stripped")
	assert.Equal(t, "テクノロジー株式会社", company.DisplayName)
	require.NotNil(t, company.LastCrawledAt)

	item, ok := store.GetQueueItem("q-1")
	require.True(t, ok)
	assert.Equal(t, outreach.QueueCompleted, item.Status)
	assert.Empty(t, item.ErrorMessage)
	assert.Nil(t, item.NextRetryAt)
}

// A transiently failing site walks the 5/15/45 minute backoff ladder and
// ends failed with retry_count 3 and no scheduled retry.
func TestRunCycleBackoffUntilExhausted(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(store, "https://down.example.co.jp")
	clock := &fakeClock{t: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{err: outreach.E(outreach.KindTimeout, "fetch", errors.New("ETIMEDOUT"))}
	p := newProcessor(store, fetcher, nil, clock, nil)
	ctx := context.Background()

	wantDelays := []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute}
	for i, delay := range wantDelays {
		m, err := p.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, m.FailureCount, "cycle %d", i)

		item, ok := store.GetQueueItem("q-1")
		require.True(t, ok)
		assert.Equal(t, outreach.QueuePending, item.Status)
		assert.Equal(t, i+1, item.RetryCount)
		require.NotNil(t, item.NextRetryAt)
		assert.Equal(t, clock.Now().Add(delay), *item.NextRetryAt)

		clock.advance(delay)
	}

	// The exhausted item is expired on the next cycle without a fourth fetch.
	m, err := p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, m.BatchSize)
	assert.Equal(t, 3, fetcher.calls)

	item, ok := store.GetQueueItem("q-1")
	require.True(t, ok)
	assert.Equal(t, outreach.QueueFailed, item.Status)
	assert.Equal(t, 3, item.RetryCount)
	assert.Nil(t, item.NextRetryAt)
	assert.Contains(t, item.ErrorMessage, "ETIMEDOUT")
}

func TestRunCycleRespectsBackoffSchedule(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(store, "https://down.example.co.jp")
	clock := &fakeClock{t: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{err: outreach.E(outreach.KindConnReset, "fetch", errors.New("ECONNRESET"))}
	p := newProcessor(store, fetcher, nil, clock, nil)
	ctx := context.Background()

	_, err := p.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.calls)

	// Before the retry slot arrives the item must not be picked up again.
	clock.advance(time.Minute)
	m, err := p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, m.BatchSize)
	assert.Equal(t, 1, fetcher.calls)

	clock.advance(4 * time.Minute)
	_, err = p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestRunCycleFatalErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	store := memory.New()
	// No URL at all: a retry can never help.
	store.PutCompany(outreach.Company{ID: "co-1", Name: "テクノロジー株式会社"})
	store.PutQueueItem(outreach.CrawlQueueItem{ID: "q-1", CompanyID: "co-1", Status: outreach.QueuePending})
	clock := &fakeClock{t: time.Now()}
	fetcher := &fakeFetcher{html: samplePage}
	p := newProcessor(store, fetcher, nil, clock, nil)

	m, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.FailureCount)
	assert.Zero(t, fetcher.calls)

	item, ok := store.GetQueueItem("q-1")
	require.True(t, ok)
	assert.Equal(t, outreach.QueueFailed, item.Status)
	assert.Zero(t, item.RetryCount)
	assert.Nil(t, item.NextRetryAt)
}

func TestRunCycleHonorsBatchSize(t *testing.T) {
	t.Parallel()

	store := memory.New()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		store.PutCompany(outreach.Company{ID: "co-" + id, Name: id, URL: "https://" + id + ".example.co.jp"})
		store.PutQueueItem(outreach.CrawlQueueItem{
			ID: "q-" + id, CompanyID: "co-" + id,
			Status: outreach.QueuePending, CreatedAt: base,
		})
	}
	clock := &fakeClock{t: base}
	fetcher := &fakeFetcher{html: samplePage}
	p := crawlqueue.New(store, store, fetcher, nil, nil, clock,
		crawlqueue.Config{BatchSize: 2, MaxRetries: 3}, nil)

	m, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, m.BatchSize)
	assert.Equal(t, 2, fetcher.calls)
}

// lossyQueue reports a scripted set of items as already claimed elsewhere.
type lossyQueue struct {
	outreach.CrawlQueueStore
	lost map[string]bool
}

func (q *lossyQueue) Claim(ctx context.Context, itemID string, startedAt time.Time) (bool, error) {
	if q.lost[itemID] {
		return false, nil
	}
	return q.CrawlQueueStore.Claim(ctx, itemID, startedAt)
}

// errClaimQueue fails the claim itself for a scripted set of items.
type errClaimQueue struct {
	outreach.CrawlQueueStore
	failing map[string]error
}

func (q *errClaimQueue) Claim(ctx context.Context, itemID string, startedAt time.Time) (bool, error) {
	if err, ok := q.failing[itemID]; ok {
		return false, err
	}
	return q.CrawlQueueStore.Claim(ctx, itemID, startedAt)
}

// An item claimed by a competing processor belongs to that processor's
// cycle: it must not count into this cycle's batch size and dilute the
// error rate.
func TestRunCycleExcludesLostClaimsFromBatchSize(t *testing.T) {
	t.Parallel()

	store := memory.New()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b"} {
		store.PutCompany(outreach.Company{ID: "co-" + id, Name: id, URL: "https://" + id + ".example.co.jp"})
		store.PutQueueItem(outreach.CrawlQueueItem{
			ID: "q-" + id, CompanyID: "co-" + id,
			Status: outreach.QueuePending, CreatedAt: base,
		})
	}
	clock := &fakeClock{t: base}
	fetcher := &fakeFetcher{err: outreach.E(outreach.KindTimeout, "fetch", errors.New("ETIMEDOUT"))}
	queue := &lossyQueue{CrawlQueueStore: store, lost: map[string]bool{"q-a": true}}
	p := crawlqueue.New(queue, store, fetcher, nil, nil, clock,
		crawlqueue.Config{BatchSize: 10, MaxRetries: 3}, nil)

	m, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.BatchSize, "lost claims must stay out of the batch")
	assert.Equal(t, 1, m.FailureCount)
	assert.Zero(t, m.SuccessCount)
	assert.Equal(t, 1, fetcher.calls)
}

// A store error on the claim is one item's failure, not the whole cycle's:
// remaining items still process and the metrics sample is still recorded.
func TestRunCycleTreatsClaimErrorAsItemFailure(t *testing.T) {
	t.Parallel()

	store := memory.New()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b"} {
		store.PutCompany(outreach.Company{ID: "co-" + id, Name: id, URL: "https://" + id + ".example.co.jp"})
		store.PutQueueItem(outreach.CrawlQueueItem{
			ID: "q-" + id, CompanyID: "co-" + id,
			Status: outreach.QueuePending, CreatedAt: base,
		})
	}
	clock := &fakeClock{t: base}
	fetcher := &fakeFetcher{html: samplePage}
	queue := &errClaimQueue{CrawlQueueStore: store, failing: map[string]error{"q-a": errors.New("connection reset")}}

	var recorded []outreach.ProcessingMetrics
	p := crawlqueue.New(queue, store, fetcher, nil, recorderFunc(func(_ context.Context, m outreach.ProcessingMetrics) error {
		recorded = append(recorded, m)
		return nil
	}), clock, crawlqueue.Config{BatchSize: 10, MaxRetries: 3}, nil)

	m, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, m.BatchSize)
	assert.Equal(t, 1, m.FailureCount)
	assert.Equal(t, 1, m.SuccessCount)
	require.Len(t, m.Errors, 1)
	assert.Equal(t, "co-a", m.Errors[0].CompanyID)
	assert.Contains(t, m.Errors[0].Message, "claim item q-a")
	require.Len(t, recorded, 1)

	item, ok := store.GetQueueItem("q-b")
	require.True(t, ok)
	assert.Equal(t, outreach.QueueCompleted, item.Status)
}
