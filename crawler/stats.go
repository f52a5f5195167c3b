package crawler

import (
	"sync"
	"sync/atomic"

	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

// errorRingSize bounds the recent-error history kept per crawl.
const errorRingSize = 16

// Stats holds the atomic counters and the bounded ring of recent errors
// for one crawl.
type Stats struct {
	fetched   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64

	mu     sync.Mutex
	ring   [errorRingSize]models.ErrorRecord
	next   int
	filled int
}

// ReserveFetch claims one unit of the page budget. It returns false when
// the budget is exhausted, leaving the counter untouched.
func (s *Stats) ReserveFetch(maxPages int) bool {
	if n := s.fetched.Add(1); n > int64(maxPages) {
		s.fetched.Add(-1)
		return false
	}
	return true
}

// UnreserveFetch returns a claimed unit, used when a reserved fetch ended
// cancelled, whether or not navigation had started.
func (s *Stats) UnreserveFetch() {
	s.fetched.Add(-1)
}

func (s *Stats) Succeeded() { s.succeeded.Add(1) }
func (s *Stats) Skipped()   { s.skipped.Add(1) }

// Failed counts a page failure and records it in the error ring.
func (s *Stats) Failed(kind, host string) {
	s.failed.Add(1)
	s.mu.Lock()
	s.ring[s.next] = models.ErrorRecord{Kind: kind, Host: host}
	s.next = (s.next + 1) % errorRingSize
	if s.filled < errorRingSize {
		s.filled++
	}
	s.mu.Unlock()
}

// Fetched reports how many pages have been claimed against the budget.
func (s *Stats) Fetched() int { return int(s.fetched.Load()) }

// Snapshot returns the current counters plus the recent errors,
// oldest first.
func (s *Stats) Snapshot() models.Progress {
	s.mu.Lock()
	recent := make([]models.ErrorRecord, 0, s.filled)
	for i := 0; i < s.filled; i++ {
		idx := (s.next - s.filled + i + errorRingSize) % errorRingSize
		recent = append(recent, s.ring[idx])
	}
	s.mu.Unlock()

	return models.Progress{
		Fetched:      int(s.fetched.Load()),
		Succeeded:    int(s.succeeded.Load()),
		Failed:       int(s.failed.Load()),
		Skipped:      int(s.skipped.Load()),
		RecentErrors: recent,
	}
}
