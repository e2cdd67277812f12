package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nao1215/politecrawl/internal/model"
)

// Retry delays.
const (
	BaseRetryDelay = 1 * time.Second
	MaxRetryDelay  = 30 * time.Second
)

// BackoffDelay returns the delay before retry number retryCount+1:
// BaseRetryDelay doubled retryCount times, capped at MaxRetryDelay.
func BackoffDelay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = BaseRetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = MaxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for range max(retryCount, 0) {
		d = b.NextBackOff()
	}
	return d
}

type retryTimer struct {
	item  model.WorkItem
	timer *time.Timer
}

// RetryHandle identifies one armed retry.
type RetryHandle struct {
	s *Scheduler
	t *retryTimer
}

// Cancel disarms the retry. It reports whether the retry was still pending.
func (h RetryHandle) Cancel() bool {
	if h.s == nil || h.t == nil {
		return false
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.disarmLocked(h.t)
}

// ScheduleRetry arms a one-shot timer that enqueues item after delay if
// the session is still active. A pending retry keeps the dispatch loop
// alive.
func (s *Scheduler) ScheduleRetry(item model.WorkItem, delay time.Duration) RetryHandle {
	rt := &retryTimer{item: item}

	s.mu.Lock()
	if !s.state.IsActive() {
		s.mu.Unlock()
		return RetryHandle{}
	}
	s.retries[rt] = struct{}{}
	s.retrying[item.URL] = struct{}{}
	rt.timer = time.AfterFunc(delay, func() { s.fire(rt) })
	s.mu.Unlock()

	s.logger.Debug("retry scheduled", "url", item.URL, "retry", item.RetryCount, "delay", delay)
	return RetryHandle{s: s, t: rt}
}

// ClearRetries disarms every pending retry.
func (s *Scheduler) ClearRetries() {
	s.mu.Lock()
	for rt := range s.retries {
		s.disarmLocked(rt)
	}
	s.mu.Unlock()
	s.signal()
}

// PendingRetries returns the number of armed retry timers.
func (s *Scheduler) PendingRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retries)
}

func (s *Scheduler) fire(rt *retryTimer) {
	s.mu.Lock()
	if _, ok := s.retries[rt]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.retries, rt)
	delete(s.retrying, rt.item.URL)
	s.enqueueLocked(rt.item, true)
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) disarmLocked(rt *retryTimer) bool {
	if _, ok := s.retries[rt]; !ok {
		return false
	}
	rt.timer.Stop()
	delete(s.retries, rt)
	delete(s.retrying, rt.item.URL)
	return true
}
