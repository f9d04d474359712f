package sync

import (
	"context"
	"net/http"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gock.v1"

	"github.com/offline-ssi/vc-verifier/pkg/storage"
)

const remoteEndpoint = "https://remote.example.com/api/sync/verifications"

type toggleConnectivity struct {
	mu     gosync.Mutex
	online bool
	ch     chan bool
}

func newToggleConnectivity(online bool) *toggleConnectivity {
	return &toggleConnectivity{online: online, ch: make(chan bool, 1)}
}

func (c *toggleConnectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *toggleConnectivity) Notify() <-chan bool {
	return c.ch
}

func (c *toggleConnectivity) set(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
	c.ch <- online
}

func setupSyncService(t *testing.T, conn Connectivity, clk clock.Clock) *Service {
	db, err := storage.NewStorage(storage.Bolt, storage.Option{
		ID:     storage.BoltFilePathOption,
		Option: filepath.Join(t.TempDir(), "sync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := &http.Client{Transport: &http.Transport{}}
	gock.InterceptClient(client)
	t.Cleanup(gock.Off)

	service, err := NewSyncService(db, client, conn, clk)
	require.NoError(t, err)
	require.True(t, service.Status().IsReady())
	return service
}

func TestEnqueueOfflineHoldsJob(t *testing.T) {
	ctx := context.Background()
	conn := newToggleConnectivity(false)
	service := setupSyncService(t, conn, clock.NewMock())

	jobID, err := service.Enqueue(ctx, remoteEndpoint, http.MethodPost, map[string]string{"hello": "world"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := service.storage.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Zero(t, job.Tries)
	assert.Equal(t, http.MethodPost, job.Method)

	// offline flush drains nothing and leaves the job untouched
	result, err := service.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.Equal(t, 1, result.Remaining)
	assert.Equal(t, StatusIdle, service.QueueStatus())
}

func TestRetriesWithBackoffThenSucceeds(t *testing.T) {
	ctx := context.Background()
	conn := newToggleConnectivity(false)
	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	service := setupSyncService(t, conn, mockClock)

	gock.New("https://remote.example.com").
		Post("/api/sync/verifications").
		Times(3).
		Reply(503)
	gock.New("https://remote.example.com").
		Post("/api/sync/verifications").
		Reply(200)

	jobID, err := service.Enqueue(ctx, remoteEndpoint, http.MethodPost, map[string]string{"vc": "payload"}, map[string]string{"Authorization": "Bearer token"})
	require.NoError(t, err)
	conn.set(true)

	var previousNextAt time.Time
	for attempt := 1; attempt <= 3; attempt++ {
		result, err := service.Flush(ctx)
		require.NoError(t, err)
		assert.Zero(t, result.Processed)
		assert.Equal(t, 1, result.Remaining)

		job, err := service.storage.GetJob(ctx, jobID)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, attempt, job.Tries)
		assert.True(t, job.NextAt.After(mockClock.Now()))
		// next-eligible time never moves backwards across failures
		assert.False(t, job.NextAt.Before(previousNextAt))
		previousNextAt = job.NextAt

		mockClock.Add(job.NextAt.Sub(mockClock.Now()) + time.Millisecond)
	}

	result, err := service.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Remaining)
	assert.Equal(t, StatusSuccess, service.QueueStatus())

	job, err := service.storage.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.True(t, gock.IsDone())
}

func TestClientErrorDropsJob(t *testing.T) {
	ctx := context.Background()
	conn := newToggleConnectivity(false)
	service := setupSyncService(t, conn, clock.NewMock())

	gock.New("https://remote.example.com").
		Post("/api/sync/verifications").
		Reply(400)

	jobID, err := service.Enqueue(ctx, remoteEndpoint, http.MethodPost, map[string]string{"bad": "payload"}, nil)
	require.NoError(t, err)
	conn.set(true)

	result, err := service.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Remaining)

	// permanently rejected, never retried
	job, err := service.storage.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.True(t, gock.IsDone())
}

func TestDeliveredHookCarriesResultAssociation(t *testing.T) {
	ctx := context.Background()
	conn := newToggleConnectivity(false)
	mockClock := clock.NewMock()
	service := setupSyncService(t, conn, mockClock)

	var mu gosync.Mutex
	var delivered []Job
	service.OnDelivered(func(job Job) {
		mu.Lock()
		delivered = append(delivered, job)
		mu.Unlock()
	})

	gock.New("https://remote.example.com").
		Post("/api/sync/verifications").
		Reply(200)
	gock.New("https://remote.example.com").
		Post("/api/sync/verifications").
		Reply(410)

	_, err := service.EnqueueJob(ctx, Job{
		URL:      remoteEndpoint,
		Method:   http.MethodPost,
		Body:     json.RawMessage(`{"result":{"id":"result-1"}}`),
		ResultID: "result-1",
	})
	require.NoError(t, err)

	mockClock.Add(time.Millisecond)
	_, err = service.EnqueueJob(ctx, Job{URL: remoteEndpoint, Method: http.MethodPost, ResultID: "result-2"})
	require.NoError(t, err)
	conn.set(true)

	result, err := service.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)

	// only the accepted job fires the hook; the rejected one is dropped
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	assert.Equal(t, "result-1", delivered[0].ResultID)
	assert.True(t, gock.IsDone())
}

func TestJobSurvivesStoreReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sync.db")

	db, err := storage.NewStorage(storage.Bolt, storage.Option{ID: storage.BoltFilePathOption, Option: dbPath})
	require.NoError(t, err)

	service, err := NewSyncService(db, &http.Client{}, newToggleConnectivity(false), clock.NewMock())
	require.NoError(t, err)

	jobID, err := service.Enqueue(ctx, remoteEndpoint, http.MethodPost, map[string]string{"vc": "payload"}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := storage.NewStorage(storage.Bolt, storage.Option{ID: storage.BoltFilePathOption, Option: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	client := &http.Client{Transport: &http.Transport{}}
	gock.InterceptClient(client)
	t.Cleanup(gock.Off)
	gock.New("https://remote.example.com").
		Post("/api/sync/verifications").
		Reply(200)

	restarted, err := NewSyncService(reopened, client, newToggleConnectivity(true), clock.NewMock())
	require.NoError(t, err)

	job, err := restarted.storage.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)

	// delivered exactly once after the restart
	result, err := restarted.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Remaining)
	assert.True(t, gock.IsDone())
}

func TestConcurrentFlushCoalesces(t *testing.T) {
	ctx := context.Background()
	conn := newToggleConnectivity(false)
	service := setupSyncService(t, conn, clock.NewMock())

	_, err := service.Enqueue(ctx, remoteEndpoint, http.MethodPost, map[string]string{"vc": "payload"}, nil)
	require.NoError(t, err)
	conn.set(true)

	// simulate a drain already in progress
	service.mu.Lock()
	service.flushing = true
	service.mu.Unlock()

	result, err := service.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.Equal(t, 1, result.Remaining)

	service.mu.Lock()
	service.flushing = false
	service.mu.Unlock()

	// the job is untouched, no request went out
	count, err := service.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStatusEmissions(t *testing.T) {
	ctx := context.Background()
	conn := newToggleConnectivity(true)
	service := setupSyncService(t, conn, clock.NewMock())

	var (
		mu   gosync.Mutex
		seen []Status
	)
	unsubscribe := service.OnStatus(func(status Status) {
		mu.Lock()
		seen = append(seen, status)
		mu.Unlock()
	})

	// current status arrives on subscribe
	mu.Lock()
	require.Equal(t, []Status{StatusIdle}, seen)
	mu.Unlock()

	// an empty queue drains straight to success
	_, err := service.Flush(ctx)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []Status{StatusIdle, StatusSyncing, StatusSuccess}, seen)
	mu.Unlock()

	unsubscribe()
	_, err = service.Flush(ctx)
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, seen, 3)
	mu.Unlock()
}

func TestDueJobsOrderingAndVisibility(t *testing.T) {
	ctx := context.Background()
	service := setupSyncService(t, newToggleConnectivity(false), clock.NewMock())

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	jobs := []Job{
		{ID: "job-late", URL: remoteEndpoint, Method: http.MethodPost, NextAt: now.Add(-time.Minute)},
		{ID: "job-early", URL: remoteEndpoint, Method: http.MethodPost, NextAt: now.Add(-time.Hour)},
		{ID: "job-future", URL: remoteEndpoint, Method: http.MethodPost, NextAt: now.Add(time.Hour)},
	}
	for _, job := range jobs {
		require.NoError(t, service.storage.PutJob(ctx, job))
	}

	due, err := service.storage.DueJobs(ctx, now, DefaultBatchSize)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "job-early", due[0].ID)
	assert.Equal(t, "job-late", due[1].ID)

	limited, err := service.storage.DueJobs(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "job-early", limited[0].ID)
}

func TestRetryDelayBounds(t *testing.T) {
	for tries := 1; tries <= 6; tries++ {
		raw := time.Duration(1<<(tries-1)) * time.Second
		delay := retryDelay(tries)
		assert.GreaterOrEqual(t, delay, time.Duration(float64(raw)*0.8))
		assert.LessOrEqual(t, delay, time.Duration(float64(raw)*1.2))
	}

	// the schedule saturates at the cap
	for i := 0; i < 10; i++ {
		delay := retryDelay(30)
		assert.GreaterOrEqual(t, delay, time.Duration(float64(backoffCap)*0.8))
		assert.LessOrEqual(t, delay, backoffCap)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	conn := newToggleConnectivity(false)
	service := setupSyncService(t, conn, clock.New())

	gock.New("https://remote.example.com").
		Post("/api/sync/verifications").
		Reply(200)

	_, err := service.Enqueue(ctx, remoteEndpoint, http.MethodPost, map[string]string{"vc": "payload"}, nil)
	require.NoError(t, err)

	// a long interval keeps the timer out of the picture; the flush must come
	// from the connectivity transition
	service.Start(time.Hour)
	service.Start(time.Hour)

	conn.set(true)
	require.Eventually(t, func() bool {
		count, err := service.PendingJobs(ctx)
		return err == nil && count == 0
	}, 5*time.Second, 10*time.Millisecond)

	service.Stop()
	service.Stop()
	assert.True(t, gock.IsDone())
}

func TestPeriodicTimerFlushes(t *testing.T) {
	ctx := context.Background()
	service := setupSyncService(t, newToggleConnectivity(false), clock.New())

	gock.New("https://remote.example.com").
		Post("/api/sync/verifications").
		Reply(200)

	_, err := service.Enqueue(ctx, remoteEndpoint, http.MethodPost, map[string]string{"vc": "payload"}, nil)
	require.NoError(t, err)

	// connectivity flips on silently; only the timer can notice
	connOnline := newToggleConnectivity(true)
	service.conn = connOnline

	service.Start(20 * time.Millisecond)
	defer service.Stop()

	require.Eventually(t, func() bool {
		count, err := service.PendingJobs(ctx)
		return err == nil && count == 0
	}, 5*time.Second, 10*time.Millisecond)
}
