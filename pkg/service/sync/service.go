package sync

import (
	"bytes"
	"context"
	"io"
	"net/http"
	gosync "sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/internal/util"
	"github.com/offline-ssi/vc-verifier/pkg/service/framework"
	"github.com/offline-ssi/vc-verifier/pkg/storage"
)

const (
	// DefaultBatchSize bounds how many due jobs one drain iteration claims.
	DefaultBatchSize = 10
	// DefaultFlushInterval is the periodic drain cadence when none is configured.
	DefaultFlushInterval = 30 * time.Second
	// DefaultRequestTimeout bounds each delivery attempt.
	DefaultRequestTimeout = 30 * time.Second
)

// Service is the durable background delivery queue. Enqueue records a job and
// returns immediately; the drain loop replays jobs against their endpoints
// whenever connectivity allows, retrying transient failures with exponential
// backoff and dropping permanently rejected payloads.
type Service struct {
	storage *Storage
	client  *http.Client
	conn    Connectivity
	clock   clock.Clock

	mu          gosync.Mutex
	flushing    bool
	status      Status
	listeners   map[string]func(Status)
	onDelivered func(Job)

	lifecycleMu gosync.Mutex
	running     bool
	stopCh      chan struct{}
	loopDone    chan struct{}
}

func (s *Service) Type() framework.Type {
	return framework.Sync
}

func (s *Service) Status() framework.Status {
	if s.storage == nil {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: "sync service is not ready: missing storage",
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewSyncService(db storage.ServiceStorage, client *http.Client, conn Connectivity, clk clock.Clock) (*Service, error) {
	syncStorage, err := NewSyncStorage(db)
	if err != nil {
		return nil, util.LoggingErrorMsg(err, "could not instantiate storage for the sync service")
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if conn == nil {
		conn = AlwaysOnline{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		storage:   syncStorage,
		client:    client,
		conn:      conn,
		clock:     clk,
		status:    StatusIdle,
		listeners: make(map[string]func(Status)),
	}, nil
}

// Enqueue durably records a delivery job and returns its id without touching
// the network. Safe to call while offline; a write failure surfaces
// immediately so the caller never silently loses data. When the connection is
// up a background flush is kicked off.
func (s *Service) Enqueue(ctx context.Context, url, method string, body any, headers map[string]string) (string, error) {
	var bodyBytes json.RawMessage
	if body != nil {
		marshalled, err := json.Marshal(body)
		if err != nil {
			return "", util.LoggingErrorMsg(err, "marshalling sync job body")
		}
		bodyBytes = marshalled
	}
	return s.EnqueueJob(ctx, Job{URL: url, Method: method, Body: bodyBytes, Headers: headers})
}

// EnqueueJob is the prepared-job form of Enqueue: the caller supplies the full
// job record, including any result association. Bookkeeping fields are
// assigned here.
func (s *Service) EnqueueJob(ctx context.Context, job Job) (string, error) {
	now := s.clock.Now().UTC()
	job.ID = uuid.NewString()
	job.CreatedAt = now
	job.NextAt = now
	job.Tries = 0
	if err := s.storage.PutJob(ctx, job); err != nil {
		return "", err
	}

	if s.conn.Online() {
		go func() {
			if _, err := s.Flush(context.Background()); err != nil {
				logrus.WithError(err).Error("background flush failed")
			}
		}()
	}
	return job.ID, nil
}

// Flush drains all currently due jobs. Concurrent calls coalesce: while a
// drain is in progress another Flush short-circuits to a queue-size read
// instead of running a second drain.
func (s *Service) Flush(ctx context.Context) (FlushResult, error) {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		remaining, err := s.storage.CountJobs(ctx)
		return FlushResult{Remaining: remaining}, err
	}
	s.flushing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.flushing = false
		s.mu.Unlock()
	}()

	s.setStatus(StatusSyncing)

	processed, drainErr := s.drain(ctx)
	remaining, countErr := s.storage.CountJobs(ctx)
	result := FlushResult{Processed: processed, Remaining: remaining}

	if drainErr != nil {
		s.setStatus(StatusError)
		return result, drainErr
	}
	if countErr != nil {
		s.setStatus(StatusError)
		return result, countErr
	}
	if remaining == 0 {
		s.setStatus(StatusSuccess)
	} else {
		s.setStatus(StatusIdle)
	}
	return result, nil
}

// drain processes due jobs in batches while the connection holds. Individual
// job failures are bookkeeping, not errors; only storage failures abort.
func (s *Service) drain(ctx context.Context) (int, error) {
	processed := 0
	for s.conn.Online() {
		batch, err := s.storage.DueJobs(ctx, s.clock.Now(), DefaultBatchSize)
		if err != nil {
			return processed, err
		}
		if len(batch) == 0 {
			return processed, nil
		}

		for _, job := range batch {
			if !s.conn.Online() {
				return processed, nil
			}
			switch s.deliver(ctx, job) {
			case outcomeDelivered:
				if err = s.storage.DeleteJob(ctx, job.ID); err != nil {
					return processed, err
				}
				processed++
				s.notifyDelivered(job)
			case outcomeDropped:
				if err = s.storage.DeleteJob(ctx, job.ID); err != nil {
					return processed, err
				}
				processed++
			case outcomeRetry:
				job.Tries++
				job.NextAt = s.clock.Now().Add(retryDelay(job.Tries))
				if err = s.storage.PutJob(ctx, job); err != nil {
					return processed, err
				}
			}
		}
	}
	return processed, nil
}

type outcome int

const (
	outcomeRetry outcome = iota
	outcomeDelivered
	outcomeDropped
)

func (s *Service) deliver(ctx context.Context, job Job) outcome {
	req, err := http.NewRequestWithContext(ctx, job.Method, job.URL, bytes.NewReader(job.Body))
	if err != nil {
		// a request that cannot even be built will never succeed
		logrus.WithError(err).Errorf("building request for job<%s>, dropping", job.ID)
		return outcomeDropped
	}
	if len(job.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		logrus.WithError(err).Debugf("delivering job<%s>", job.ID)
		return outcomeRetry
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case util.Is2xxResponse(resp.StatusCode):
		return outcomeDelivered
	case util.Is4xxResponse(resp.StatusCode):
		logrus.Warnf("job<%s> rejected with status %d, dropping", job.ID, resp.StatusCode)
		return outcomeDropped
	case resp.StatusCode >= 500:
		return outcomeRetry
	default:
		// 1xx and 3xx responses are treated as acceptance
		return outcomeDelivered
	}
}

// Start launches the periodic drain loop and the connectivity listener.
// Repeated calls while running are no-ops.
func (s *Service) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.run(interval, s.stopCh, s.loopDone)
}

// Stop cancels the periodic timer and detaches the connectivity listener. An
// in-flight flush is allowed to complete.
func (s *Service) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	<-s.loopDone
	s.running = false
}

func (s *Service) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	notify := s.conn.Notify()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.flushQuietly()
		case online, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			if online {
				s.flushQuietly()
			}
		}
	}
}

func (s *Service) flushQuietly() {
	if _, err := s.Flush(context.Background()); err != nil {
		logrus.WithError(err).Error("periodic flush failed")
	}
}

// OnDelivered registers a hook invoked after an endpoint accepts a job and
// the job leaves the queue. Dropped jobs never fire it. Intended to be set
// once during wiring, before traffic.
func (s *Service) OnDelivered(fn func(Job)) {
	s.mu.Lock()
	s.onDelivered = fn
	s.mu.Unlock()
}

func (s *Service) notifyDelivered(job Job) {
	s.mu.Lock()
	fn := s.onDelivered
	s.mu.Unlock()
	if fn != nil {
		fn(job)
	}
}

// OnStatus subscribes a listener to queue status transitions. The current
// status is delivered immediately, then every change. The returned function
// unsubscribes.
func (s *Service) OnStatus(listener func(Status)) func() {
	id := uuid.NewString()
	s.mu.Lock()
	s.listeners[id] = listener
	current := s.status
	s.mu.Unlock()

	listener(current)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// QueueStatus returns the queue's current observable state.
func (s *Service) QueueStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PendingJobs reports how many jobs are waiting in the queue, due or not.
func (s *Service) PendingJobs(ctx context.Context) (int, error) {
	return s.storage.CountJobs(ctx)
}

func (s *Service) setStatus(next Status) {
	s.mu.Lock()
	if s.status == next {
		s.mu.Unlock()
		return
	}
	s.status = next
	listeners := make([]func(Status), 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(next)
	}
}
