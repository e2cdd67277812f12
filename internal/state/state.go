// Package state holds the mutable state shared by one crawl session.
//
// A State is created by the session and handed by reference to the
// scheduler and the page pipeline. Neither of them ever replaces it.
// Every method is safe for concurrent use by pipeline goroutines.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/politecrawl/internal/model"
)

// State is the per-session crawl state.
//
// The visited set and the statistics counters only ever grow. The active
// flag moves from true to false exactly once.
type State struct {
	// mu guards visited, knownDomains, contentHashes and domainDelays.
	mu            sync.RWMutex
	visited       map[string]struct{}
	knownDomains  map[string]struct{}
	contentHashes map[string]struct{}
	domainDelays  map[string]time.Duration

	defaultDelay time.Duration
	maxPages     int64
	startedAt    time.Time

	active   atomic.Bool
	reserved atomic.Int64

	pagesScanned atomic.Int64
	linksFound   atomic.Int64
	mediaFiles   atomic.Int64
	successCount atomic.Int64
	failureCount atomic.Int64
	skippedCount atomic.Int64
	totalBytes   atomic.Int64
}

// New returns an active state. defaultDelay is the domain delay used for
// domains without an override, and maxPages is the page budget.
func New(defaultDelay time.Duration, maxPages int) *State {
	s := &State{
		visited:       make(map[string]struct{}),
		knownDomains:  make(map[string]struct{}),
		contentHashes: make(map[string]struct{}),
		domainDelays:  make(map[string]time.Duration),
		defaultDelay:  defaultDelay,
		maxPages:      int64(maxPages),
		startedAt:     time.Now(),
	}
	s.active.Store(true)
	return s
}

// StartedAt returns the time the state was created.
func (s *State) StartedAt() time.Time {
	return s.startedAt
}

// Elapsed returns the time since the state was created.
func (s *State) Elapsed() time.Duration {
	return time.Since(s.startedAt)
}

// IsActive reports whether the session still accepts new work.
func (s *State) IsActive() bool {
	return s.active.Load()
}

// Deactivate flips the active flag to false. It returns true only for the
// call that performed the transition.
func (s *State) Deactivate() bool {
	return s.active.CompareAndSwap(true, false)
}

// IsVisited reports whether url has been fetched successfully.
func (s *State) IsVisited(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.visited[url]
	return ok
}

// MarkVisited adds url to the visited set. It returns false when the URL
// was already present.
func (s *State) MarkVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[url]; ok {
		return false
	}
	s.visited[url] = struct{}{}
	return true
}

// VisitedCount returns the size of the visited set.
func (s *State) VisitedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.visited)
}

// SeenContent records a content hash and reports whether it was already
// recorded in this session.
func (s *State) SeenContent(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contentHashes[hash]; ok {
		return true
	}
	s.contentHashes[hash] = struct{}{}
	return false
}

// ObserveDomain records domain as known to this session and reports
// whether this call was the first to see it.
func (s *State) ObserveDomain(domain string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.knownDomains[domain]; ok {
		return false
	}
	s.knownDomains[domain] = struct{}{}
	return true
}

// ObserveDomainWithDelay records domain like ObserveDomain and, when this
// call was the first to see it, installs delay for it in the same critical
// section. A sibling caller never sees the domain known but without its
// delay.
func (s *State) ObserveDomainWithDelay(domain string, delay func() time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.knownDomains[domain]; ok {
		return false
	}
	s.knownDomains[domain] = struct{}{}
	if delay != nil {
		s.domainDelays[domain] = max(delay(), 0)
	}
	return true
}

// DomainDelay returns the minimum interval between two dispatches to domain.
func (s *State) DomainDelay(domain string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.domainDelays[domain]; ok {
		return d
	}
	return s.defaultDelay
}

// SetDomainDelay overrides the delay for domain.
func (s *State) SetDomainDelay(domain string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainDelays[domain] = d
}

// DefaultDelay returns the session-wide crawl delay.
func (s *State) DefaultDelay() time.Duration {
	return s.defaultDelay
}

// ReserveFetch claims one slot of the page budget. It returns false when
// scanned plus reserved pages already reach the budget. A successful
// reservation must be followed by CommitFetch or ReleaseFetch.
func (s *State) ReserveFetch() bool {
	for {
		r := s.reserved.Load()
		if s.pagesScanned.Load()+r >= s.maxPages {
			return false
		}
		if s.reserved.CompareAndSwap(r, r+1) {
			return true
		}
	}
}

// ReleaseFetch returns a reservation without counting a page.
func (s *State) ReleaseFetch() {
	s.reserved.Add(-1)
}

// CommitFetch turns a reservation into a scanned page of n bytes.
// The scanned counter is raised before the reservation is dropped so the
// budget check never sees a gap.
func (s *State) CommitFetch(n int64) {
	s.pagesScanned.Add(1)
	s.successCount.Add(1)
	s.totalBytes.Add(n)
	s.reserved.Add(-1)
}

// BudgetExhausted reports whether no more pages may be fetched.
func (s *State) BudgetExhausted() bool {
	return s.pagesScanned.Load()+s.reserved.Load() >= s.maxPages
}

// PageLimitReached reports whether the scanned pages alone reach the
// budget. Unlike BudgetExhausted it ignores reservations, which may still
// be released by a failing fetch.
func (s *State) PageLimitReached() bool {
	return s.pagesScanned.Load() >= s.maxPages
}

// AddLinks adds n to the links counter.
func (s *State) AddLinks(n int) {
	if n > 0 {
		s.linksFound.Add(int64(n))
	}
}

// AddMedia adds n to the media counter.
func (s *State) AddMedia(n int) {
	if n > 0 {
		s.mediaFiles.Add(int64(n))
	}
}

// IncFailure counts one failed fetch or pipeline run.
func (s *State) IncFailure() {
	s.failureCount.Add(1)
}

// IncSkipped counts one item skipped by policy.
func (s *State) IncSkipped() {
	s.skippedCount.Add(1)
}

// Counters returns a copy of the statistics counters.
func (s *State) Counters() model.Counters {
	return model.Counters{
		PagesScanned: s.pagesScanned.Load(),
		LinksFound:   s.linksFound.Load(),
		MediaFiles:   s.mediaFiles.Load(),
		SuccessCount: s.successCount.Load(),
		FailureCount: s.failureCount.Load(),
		SkippedCount: s.skippedCount.Load(),
		TotalBytes:   s.totalBytes.Load(),
	}
}

// FinalStats returns the end-of-session statistics as of now.
func (s *State) FinalStats() model.FinalStats {
	return model.NewFinalStats(s.Counters(), s.Elapsed())
}
