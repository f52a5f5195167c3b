package crawler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cyrup-ai/kodegen-tools-citescrape/cleaner"
	"github.com/cyrup-ai/kodegen-tools-citescrape/driver"
	"github.com/cyrup-ai/kodegen-tools-citescrape/frontier"
	"github.com/cyrup-ai/kodegen-tools-citescrape/governor"
	"github.com/cyrup-ai/kodegen-tools-citescrape/index"
	"github.com/cyrup-ai/kodegen-tools-citescrape/markdown"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
	"github.com/cyrup-ai/kodegen-tools-citescrape/saver"
	"github.com/cyrup-ai/kodegen-tools-citescrape/simhash"
)

const (
	// retryBackoffBase seeds the exponential backoff between fetch attempts.
	retryBackoffBase = 500 * time.Millisecond

	// navRetries is the extra-attempt budget for Navigation/Timeout failures.
	navRetries = 2

	// dupThreshold is the simhash Hamming distance treated as a duplicate.
	dupThreshold = 3
)

// Supervisor orchestrates one crawl: it pulls URLs from the frontier
// under governor admission, dispatches them to the driver, pushes the
// HTML through the content pipeline, and feeds discovered links back in.
type Supervisor struct {
	id   string
	cfg  models.CrawlConfig
	fr   *frontier.Frontier
	gov  *governor.Governor
	drv  driver.Driver
	sink *saver.Saver
	idx  *index.Dual // nil when search is disabled
	conv *markdown.Converter
	dups *simhash.Set

	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	restartOnce sync.Once

	mu      sync.Mutex
	status  string
	results []models.PageResult
}

// newSupervisor wires the per-crawl components together. The caller
// starts it with go s.run().
func newSupervisor(id string, cfg models.CrawlConfig, fr *frontier.Frontier,
	drv driver.Driver, sink *saver.Saver, idx *index.Dual, conv *markdown.Converter) *Supervisor {

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		id:     id,
		cfg:    cfg,
		fr:     fr,
		gov:    governor.New(cfg.RateLimitDelay, cfg.MaxConcurrentPerHost, cfg.CircuitBreakerLimit),
		drv:    drv,
		sink:   sink,
		idx:    idx,
		conv:   conv,
		dups:   simhash.NewSet(dupThreshold),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		status: models.StatusPending,
	}
}

// ID returns the crawl identifier.
func (s *Supervisor) ID() string { return s.id }

// Status returns the lifecycle state.
func (s *Supervisor) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed when the crawl reaches a terminal state.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Progress snapshots the counters and recent errors.
func (s *Supervisor) Progress() models.Progress { return s.stats.Snapshot() }

// Results pages through the accumulated result feed.
func (s *Supervisor) Results(offset, limit int) (page []models.PageResult, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total = len(s.results)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page = make([]models.PageResult, end-offset)
	copy(page, s.results[offset:end])
	return page, total
}

// Search queries the crawl's dual index. Only committed documents are
// visible while the crawl is still running.
func (s *Supervisor) Search(query string, limit int, which index.Which) ([]models.SearchHit, uint64, error) {
	if s.idx == nil {
		return nil, 0, models.NewCrawlError(models.ErrCodeInvalidConfig,
			"search was not enabled for this crawl", nil)
	}
	return s.idx.Search(query, limit, which)
}

// Cancel aborts the crawl. In-flight fetches are abandoned without
// producing artifacts.
func (s *Supervisor) Cancel() {
	if s.setStatus(models.StatusCancelled) {
		s.cancel()
		s.fr.Close()
	}
}

// setStatus applies a monotonic transition; terminal states are sticky.
// Returns whether the transition happened.
func (s *Supervisor) setStatus(to string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if models.Terminal(s.status) {
		return false
	}
	s.status = to
	return true
}

// workerCount targets admission saturation, not CPU: enough workers to
// keep the per-host cap busy plus headroom for multi-host crawls.
func (s *Supervisor) workerCount() int {
	n := 2 * s.cfg.MaxConcurrentPerHost
	if n < 2 {
		n = 2
	}
	if n > 16 {
		n = 16
	}
	return n
}

// run executes the crawl to a terminal state.
func (s *Supervisor) run() {
	defer close(s.done)

	s.setStatus(models.StatusRunning)
	slog.Info("crawl started",
		"id", s.id,
		"startURL", s.cfg.StartURL,
		"maxDepth", s.cfg.MaxDepth,
		"maxPages", s.cfg.MaxPages,
	)

	var wg sync.WaitGroup
	for i := 0; i < s.workerCount(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker()
		}()
	}
	wg.Wait()

	if s.idx != nil {
		if err := s.idx.Flush(); err != nil {
			slog.Warn("final index flush failed", "id", s.id, "error", err)
		}
	}

	// Cancelled/Failed were set where they happened; anything else means
	// the frontier drained with the budget respected.
	s.setStatus(models.StatusCompleted)

	progress := s.stats.Snapshot()
	slog.Info("crawl finished",
		"id", s.id,
		"status", s.Status(),
		"fetched", progress.Fetched,
		"succeeded", progress.Succeeded,
		"failed", progress.Failed,
		"skipped", progress.Skipped,
	)
}

// worker drains the frontier until it is closed or the crawl ends.
func (s *Supervisor) worker() {
	for {
		entry, ok := s.fr.Next(s.ctx)
		if !ok {
			return
		}
		s.process(entry)
	}
}

// process handles one frontier entry end to end. Every path either calls
// TaskDone or requeues the entry, keeping the frontier's accounting exact.
func (s *Supervisor) process(entry frontier.Entry) {
	// Admission loop: wait out pacing delays, requeue on open circuits.
	for {
		adm := s.gov.TryAcquire(entry.Host)
		switch adm.Decision {
		case governor.Admit:
		case governor.DelayUntil:
			if !s.sleepUntil(adm.Until) {
				s.fr.TaskDone()
				return
			}
			continue
		case governor.CircuitOpen:
			s.fr.Requeue(entry, adm.Until)
			return
		}
		break
	}

	if s.ctx.Err() != nil {
		s.gov.Release(entry.Host, governor.OutcomeAbandoned)
		s.fr.TaskDone()
		return
	}

	// Page budget: the first reservation past the limit drains the crawl.
	if !s.stats.ReserveFetch(s.cfg.MaxPages) {
		s.gov.Release(entry.Host, governor.OutcomeAbandoned)
		s.fr.Close()
		s.fr.TaskDone()
		return
	}

	result, err := s.fetchWithRetry(entry)
	if err != nil {
		s.finishFailed(entry, err)
		return
	}
	s.gov.Release(entry.Host, governor.OutcomeOK)

	s.pipeline(entry, result)
	s.fr.TaskDone()
}

// sleepUntil blocks until t or cancellation; false means cancelled.
func (s *Supervisor) sleepUntil(t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// fetchWithRetry navigates with the per-kind recovery policy:
// Navigation/Timeout retry twice with exponential backoff,
// DriverProtocol retries once, DriverCrashed triggers one driver restart.
func (s *Supervisor) fetchWithRetry(entry frontier.Entry) (*driver.Result, error) {
	backoff := retryBackoffBase
	navAttempts := 0
	protocolSeen := false

	for {
		result, err := s.drv.Navigate(s.ctx, entry.URL, s.cfg.Timeout)
		if err == nil {
			return result, nil
		}
		if s.ctx.Err() != nil {
			return nil, models.NewCrawlError(models.ErrCodeCancelled, "crawl cancelled", s.ctx.Err())
		}

		switch models.CodeOf(err) {
		case models.ErrCodeNavigation, models.ErrCodeTimeout:
			if navAttempts >= navRetries {
				return nil, err
			}
			navAttempts++
			if !s.sleepUntil(time.Now().Add(backoff)) {
				return nil, models.NewCrawlError(models.ErrCodeCancelled, "crawl cancelled", s.ctx.Err())
			}
			backoff *= 2

		case models.ErrCodeDriverProtocol:
			if protocolSeen {
				return nil, err
			}
			protocolSeen = true

		case models.ErrCodeDriverCrashed:
			if !s.restartDriver() {
				return nil, err
			}

		default:
			return nil, err
		}
	}
}

// restartDriver attempts the one allowed driver restart for this crawl.
// Returns whether a retry is worthwhile.
func (s *Supervisor) restartDriver() bool {
	restarted := false
	s.restartOnce.Do(func() {
		slog.Warn("driver crashed, attempting restart", "id", s.id)
		_ = s.drv.Close()
		if err := s.drv.Prepare(s.ctx); err != nil {
			slog.Error("driver restart failed", "id", s.id, "error", err)
			return
		}
		restarted = true
	})
	return restarted
}

// finishFailed classifies a terminal fetch error, updates governor and
// stats, and escalates driver-level failures to the crawl state.
func (s *Supervisor) finishFailed(entry frontier.Entry, err error) {
	code := models.CodeOf(err)

	if code == models.ErrCodeCancelled {
		s.gov.Release(entry.Host, governor.OutcomeAbandoned)
		s.stats.UnreserveFetch()
		s.fr.TaskDone()
		return
	}

	s.gov.Release(entry.Host, governor.OutcomeErr)
	s.stats.Failed(code, entry.Host)
	slog.Warn("page failed", "id", s.id, "url", entry.URL, "kind", code, "error", err)

	// Driver-level faults that survived their retry budget end the crawl.
	if code == models.ErrCodeDriverProtocol || code == models.ErrCodeDriverCrashed {
		if s.setStatus(models.StatusFailed) {
			s.cancel()
			s.fr.Close()
		}
	}
	s.fr.TaskDone()
}

// pipeline runs clean → convert → dedupe → save → index for a fetched
// page, then feeds discovered links back into the frontier.
func (s *Supervisor) pipeline(entry frontier.Entry, res *driver.Result) {
	fetchedAt := time.Now().UTC()

	cleaned, err := cleaner.Clean(res.HTML, res.FinalURL)
	if err != nil {
		s.stats.Failed(models.ErrCodeParse, entry.Host)
		slog.Warn("cleaner failed", "id", s.id, "url", entry.URL, "error", err)
		return
	}

	md, err := s.conv.Convert(cleaned.HTML, res.FinalURL)
	if err != nil {
		s.stats.Failed(models.ErrCodeParse, entry.Host)
		slog.Warn("markdown conversion failed", "id", s.id, "url", entry.URL, "error", err)
		return
	}

	// Discovered links feed back in last, after save and index; they are
	// offered even for near-duplicate pages (a mirror links to the same
	// set, and the frontier dedups by URL anyway).
	defer func() {
		for _, link := range res.Links {
			s.fr.Offer(link, entry.Depth+1, entry.URL)
		}
	}()

	plain := markdown.Plaintext(md)
	if s.dups.Observe(plain) {
		s.stats.Skipped()
		slog.Debug("near-duplicate page skipped", "id", s.id, "url", entry.URL)
		return
	}

	artifact := models.PageArtifact{
		URL:         entry.URL,
		FinalURL:    res.FinalURL,
		StatusCode:  res.StatusCode,
		RawHTML:     res.HTML,
		CleanedHTML: cleaned.HTML,
		Markdown:    md,
		Title:       pickTitle(cleaned.Title, res.Title),
		Links:       res.Links,
		FetchedAt:   fetchedAt,
	}

	if _, err := s.sink.Save(artifact); err != nil {
		s.stats.Failed(models.ErrCodeSaverIO, entry.Host)
		slog.Warn("save failed", "id", s.id, "url", entry.URL, "error", err)
		return
	}

	if s.idx != nil {
		if err := s.idx.Add(artifact.URL, artifact.Title, artifact.Markdown, artifact.FetchedAt); err != nil {
			// Index faults are page-local: the artifact is on disk, the
			// crawl moves on.
			slog.Warn("index add failed", "id", s.id, "url", entry.URL, "error", err)
		}
	}

	s.stats.Succeeded()
	s.mu.Lock()
	s.results = append(s.results, models.PageResult{
		URL:       artifact.URL,
		Title:     artifact.Title,
		Markdown:  artifact.Markdown,
		FetchedAt: artifact.FetchedAt,
	})
	s.mu.Unlock()
}

func pickTitle(cleanerTitle, driverTitle string) string {
	if cleanerTitle != "" {
		return cleanerTitle
	}
	return driverTitle
}
