package jobs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
)

type fakeSender struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	writes      [][]byte
	failWrites  int // fail this many writes before succeeding
}

func (s *fakeSender) Connect(device bluetooth.DeviceInfo, pairingHint bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return nil
}

func (s *fakeSender) Write(data []byte, chunkSize int, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return errors.New("send failed")
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	s.writes = append(s.writes, chunk)
	return nil
}

func (s *fakeSender) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	return nil
}

func (s *fakeSender) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.disconnects, len(s.writes)
}

func testDevice() bluetooth.DeviceInfo {
	return bluetooth.DeviceInfo{
		Name:      "GT01-777",
		Address:   "AA:BB:CC:DD:EE:FF",
		Paired:    bluetooth.PairedYes,
		Transport: bluetooth.TransportClassic,
	}
}

// waitForStatus polls until the job reaches the wanted status or the
// deadline passes.
func waitForStatus(t *testing.T, q *Queue, jobID string, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := q.Get(jobID); ok && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := q.Get(jobID)
	t.Fatalf("job %s never reached %q, stuck at %q (error: %s)", jobID, want, job.Status, job.Error)
	return Job{}
}

func TestQueueDeliversJob(t *testing.T) {
	sender := &fakeSender{}
	q := NewQueue(sender, 3, zerolog.Nop())
	defer q.Stop()

	jobID := q.Enqueue(testDevice(), []byte("payload"), 180, 0)
	job := waitForStatus(t, q, jobID, StatusCompleted)

	if job.Error != "" {
		t.Errorf("completed job carries error %q", job.Error)
	}
	connects, disconnects, writes := sender.counts()
	if connects != 1 || disconnects != 1 || writes != 1 {
		t.Errorf("expected 1 connect/disconnect/write, got %d/%d/%d", connects, disconnects, writes)
	}
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	sender := &fakeSender{failWrites: 2}
	q := NewQueue(sender, 5, zerolog.Nop())
	q.mu.Lock()
	q.retryDelay = time.Millisecond
	q.mu.Unlock()
	defer q.Stop()

	jobID := q.Enqueue(testDevice(), []byte("payload"), 180, 0)
	job := waitForStatus(t, q, jobID, StatusCompleted)

	if job.Retries != 2 {
		t.Errorf("expected 2 retries, got %d", job.Retries)
	}
	// Every failed attempt still disconnects.
	connects, disconnects, _ := sender.counts()
	if connects != 3 || disconnects != 3 {
		t.Errorf("expected 3 connects and disconnects, got %d/%d", connects, disconnects)
	}
}

func TestQueueFailsAfterMaxRetries(t *testing.T) {
	sender := &fakeSender{failWrites: 100}
	q := NewQueue(sender, 2, zerolog.Nop())
	q.mu.Lock()
	q.retryDelay = time.Millisecond
	q.mu.Unlock()
	defer q.Stop()

	jobID := q.Enqueue(testDevice(), []byte("payload"), 180, 0)
	job := waitForStatus(t, q, jobID, StatusFailed)

	if job.Retries != 2 {
		t.Errorf("expected 2 attempts, got %d", job.Retries)
	}
	if job.Error == "" {
		t.Error("failed job must carry its error")
	}
}

func TestRetryBackoffDoesNotBlockAccessors(t *testing.T) {
	sender := &fakeSender{failWrites: 1}
	q := NewQueue(sender, 5, zerolog.Nop())
	q.mu.Lock()
	q.retryDelay = 2 * time.Second
	q.mu.Unlock()
	defer q.Stop()

	jobID := q.Enqueue(testDevice(), []byte("payload"), 0, 0)

	// Wait for the retry announcement; the worker enters its backoff
	// right after publishing it.
	deadline := time.After(5 * time.Second)
	for waiting := true; waiting; {
		select {
		case event := <-q.Events():
			if event.JobID == jobID && event.Status == StatusQueued && event.Error != "" {
				waiting = false
			}
		case <-deadline:
			t.Fatal("never saw the retry event")
		}
	}

	done := make(chan struct{})
	go func() {
		q.All()
		_, _ = q.Get(jobID)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("queue accessors blocked during the retry backoff")
	}
}

func TestQueueProcessesInOrder(t *testing.T) {
	sender := &fakeSender{}
	q := NewQueue(sender, 1, zerolog.Nop())
	defer q.Stop()

	first := q.Enqueue(testDevice(), []byte("first"), 0, 0)
	second := q.Enqueue(testDevice(), []byte("second"), 0, 0)

	waitForStatus(t, q, first, StatusCompleted)
	waitForStatus(t, q, second, StatusCompleted)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if string(sender.writes[0]) != "first" || string(sender.writes[1]) != "second" {
		t.Errorf("jobs ran out of order: %q", sender.writes)
	}
}

func TestQueueEvents(t *testing.T) {
	sender := &fakeSender{}
	q := NewQueue(sender, 1, zerolog.Nop())
	defer q.Stop()

	jobID := q.Enqueue(testDevice(), []byte("payload"), 0, 0)
	waitForStatus(t, q, jobID, StatusCompleted)

	seen := map[Status]bool{}
	for {
		select {
		case event := <-q.Events():
			if event.JobID == jobID {
				seen[event.Status] = true
			}
			if seen[StatusCompleted] {
				for _, want := range []Status{StatusQueued, StatusPrinting, StatusCompleted} {
					if !seen[want] {
						t.Errorf("missing %q event", want)
					}
				}
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event stream incomplete, saw %v", seen)
		}
	}
}

func TestClearCompleted(t *testing.T) {
	sender := &fakeSender{failWrites: 100}
	q := NewQueue(sender, 1, zerolog.Nop())
	q.mu.Lock()
	q.retryDelay = time.Millisecond
	q.mu.Unlock()
	defer q.Stop()

	failed := q.Enqueue(testDevice(), []byte("a"), 0, 0)
	waitForStatus(t, q, failed, StatusFailed)

	sender.mu.Lock()
	sender.failWrites = 0
	sender.mu.Unlock()

	done := q.Enqueue(testDevice(), []byte("b"), 0, 0)
	waitForStatus(t, q, done, StatusCompleted)

	q.ClearCompleted()

	jobs := q.All()
	if len(jobs) != 1 || jobs[0].ID != failed {
		t.Errorf("expected only the failed job to remain, got %+v", jobs)
	}
}
