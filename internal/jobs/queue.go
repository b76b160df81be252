// Package jobs runs queued print payloads through a connected
// Bluetooth backend on a background worker.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
)

// Status is a job's lifecycle position.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPrinting  Status = "printing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one queued payload plus its delivery parameters.
type Job struct {
	ID        string
	Device    bluetooth.DeviceInfo
	Payload   []byte
	ChunkSize int
	Interval  time.Duration
	Retries   int
	Status    Status
	Error     string
	CreatedAt time.Time
}

// Sender is the backend surface the queue drives, narrowed for tests.
type Sender interface {
	Connect(device bluetooth.DeviceInfo, pairingHint bool) error
	Write(data []byte, chunkSize int, interval time.Duration) error
	Disconnect() error
}

// Event is broadcast on every job status change.
type Event struct {
	JobID  string
	Status Status
	Error  string
}

// Queue serializes print jobs onto one backend with retry. Status
// changes are published to a buffered event channel so UI surfaces can
// poll them without calling back into the queue.
type Queue struct {
	mu         sync.Mutex
	jobs       []*Job
	sender     Sender
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
	events     chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue and starts its worker.
func NewQueue(sender Sender, maxRetries int, log zerolog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		sender:     sender,
		maxRetries: maxRetries,
		retryDelay: time.Second,
		log:        log,
		events:     make(chan Event, 64),
		ctx:        ctx,
		cancel:     cancel,
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// Events exposes the status change stream. The channel is buffered;
// events are dropped when no one drains it.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Enqueue adds a payload for the given device and returns the job ID.
func (q *Queue) Enqueue(device bluetooth.DeviceInfo, payload []byte, chunkSize int, interval time.Duration) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		Device:    device,
		Payload:   payload,
		ChunkSize: chunkSize,
		Interval:  interval,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
	q.jobs = append(q.jobs, job)
	q.publish(Event{JobID: job.ID, Status: StatusQueued})

	return job.ID
}

func (q *Queue) worker() {
	defer q.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.processNextJob()
		}
	}
}

func (q *Queue) processNextJob() {
	q.mu.Lock()
	var job *Job
	for _, j := range q.jobs {
		if j.Status == StatusQueued {
			job = j
			job.Status = StatusPrinting
			break
		}
	}
	q.mu.Unlock()

	if job == nil {
		return
	}
	q.publish(Event{JobID: job.ID, Status: StatusPrinting})

	err := q.deliver(job)

	q.mu.Lock()

	if err != nil {
		job.Retries++
		job.Error = err.Error()

		if job.Retries >= q.maxRetries {
			job.Status = StatusFailed
			q.log.Error().Err(err).Str("job", job.ID).Int("retries", job.Retries).
				Msg("print job failed")
			q.publish(Event{JobID: job.ID, Status: StatusFailed, Error: job.Error})
			q.mu.Unlock()
			return
		}

		job.Status = StatusQueued
		delay := q.retryDelay
		q.log.Warn().Err(err).Str("job", job.ID).
			Int("attempt", job.Retries).Int("max", q.maxRetries).
			Msg("print job failed, retrying")
		q.publish(Event{JobID: job.ID, Status: StatusQueued, Error: job.Error})
		q.mu.Unlock()

		// The backoff must not hold the lock: Enqueue and the
		// accessors stay responsive while the worker waits.
		time.Sleep(delay)
		return
	}

	job.Status = StatusCompleted
	job.Error = ""
	q.log.Info().Str("job", job.ID).Msg("print job completed")
	q.publish(Event{JobID: job.ID, Status: StatusCompleted})
	q.mu.Unlock()
}

func (q *Queue) deliver(job *Job) error {
	if err := q.sender.Connect(job.Device, job.Device.Paired != bluetooth.PairedYes); err != nil {
		return err
	}
	defer func() { _ = q.sender.Disconnect() }()

	return q.sender.Write(job.Payload, job.ChunkSize, job.Interval)
}

func (q *Queue) publish(event Event) {
	select {
	case q.events <- event:
	default:
	}
}

// Get returns a copy of the job with the given ID.
func (q *Queue) Get(jobID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.ID == jobID {
			return *job, true
		}
	}
	return Job{}, false
}

// All returns copies of every job, newest last.
func (q *Queue) All() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]Job, len(q.jobs))
	for i, job := range q.jobs {
		jobs[i] = *job
	}
	return jobs
}

// ClearCompleted drops completed jobs from the queue.
func (q *Queue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	filtered := q.jobs[:0]
	for _, job := range q.jobs {
		if job.Status != StatusCompleted {
			filtered = append(filtered, job)
		}
	}
	q.jobs = filtered
}

// Stop halts the worker and waits for it to exit.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}
