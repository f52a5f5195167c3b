// Package frontier owns URL scope and ordering: canonicalization, dedup,
// depth limits, and the per-host ready queues a crawl drains. It knows
// nothing about time or pacing; that is the governor's concern.
package frontier

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/net/publicsuffix"
)

// exactSetCap bounds the exact seen set. Past this point dedup relies on
// the Bloom filter alone; a false positive drops a URL, which the crawl
// tolerates.
const exactSetCap = 100_000

// Entry is one admitted URL awaiting dispatch.
type Entry struct {
	URL    string // canonical form
	Host   string
	Depth  int
	Source string // canonical URL of the page that linked here, "" for the seed

	// NotBefore delays re-dispatch of a requeued entry (circuit-open backoff).
	NotBefore time.Time
}

// Frontier is the deduplicating, scope-enforcing URL queue of one crawl.
// It is safe for concurrent use.
type Frontier struct {
	mu sync.Mutex

	maxDepth       int
	followExternal bool
	startHost      string
	startSite      string // registrable domain of the start host

	seen   map[string]struct{}
	filter *bloom.BloomFilter

	queues map[string][]Entry
	ring   []string // round-robin host rotation
	rr     int

	// outstanding counts admitted entries not yet finished (queued or
	// in-flight). The frontier is drained when it reaches zero.
	outstanding int
	closed      bool

	wake chan struct{}
}

// New creates a Frontier scoped to startURL.
func New(startURL string, maxDepth int, followExternal bool) (*Frontier, error) {
	_, host, err := Canonicalize(startURL)
	if err != nil {
		return nil, err
	}
	f := &Frontier{
		maxDepth:       maxDepth,
		followExternal: followExternal,
		startHost:      host,
		startSite:      registrable(host),
		seen:           make(map[string]struct{}),
		filter:         bloom.NewWithEstimates(1_000_000, 0.001),
		queues:         make(map[string][]Entry),
		wake:           make(chan struct{}, 1),
	}
	return f, nil
}

// Canonicalize normalizes a URL to its dedup key: scheme + lowercased
// host + path + sorted query, fragment stripped. Returns the canonical
// form and the host.
func Canonicalize(raw string) (canonical, host string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", err
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		u.RawQuery = sortQuery(u.RawQuery)
	}
	return u.String(), u.Hostname(), nil
}

func sortQuery(raw string) string {
	parts := strings.Split(raw, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// registrable returns the public-suffix-derived effective domain,
// falling back to the host itself when it has no registrable form
// (IPs, localhost, single labels).
func registrable(host string) string {
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}

// Offer submits a URL for crawling. It returns true when the URL was
// newly accepted; rejections (bad scheme, depth, scope, already seen)
// return false. Offer is idempotent under concurrent calls: a URL is
// enqueued at most once per crawl.
func (f *Frontier) Offer(raw string, depth int, source string) bool {
	canonical, host, err := Canonicalize(raw)
	if err != nil {
		return false
	}
	scheme, _, ok := strings.Cut(canonical, "://")
	if !ok || (scheme != "http" && scheme != "https") {
		return false
	}
	if depth > f.maxDepth {
		return false
	}
	if !f.followExternal && registrable(host) != f.startSite {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}

	// Bloom front: a definite "never seen" skips the exact set. Once the
	// exact set is full the filter alone decides, and its false positives
	// drop URLs rather than double-fetch them.
	if f.filter.TestString(canonical) {
		if _, dup := f.seen[canonical]; dup || len(f.seen) >= exactSetCap {
			return false
		}
	}
	f.filter.AddString(canonical)
	if len(f.seen) < exactSetCap {
		f.seen[canonical] = struct{}{}
	}

	f.enqueue(Entry{URL: canonical, Host: host, Depth: depth, Source: source})
	f.outstanding++
	f.notify()
	return true
}

// Requeue puts a dispatched entry back with a not-before hint, used when
// admission came back CircuitOpen. It does not re-run acceptance rules
// and does not change the outstanding count.
func (f *Frontier) Requeue(e Entry, notBefore time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	e.NotBefore = notBefore
	f.enqueue(e)
	f.notify()
}

// enqueue appends to the host queue, registering the host in the
// round-robin ring on first use. Caller holds the lock.
func (f *Frontier) enqueue(e Entry) {
	if _, ok := f.queues[e.Host]; !ok {
		f.ring = append(f.ring, e.Host)
	}
	f.queues[e.Host] = append(f.queues[e.Host], e)
}

// Next blocks until an entry is ready, the crawl is drained, or ctx is
// cancelled. The second return is false when no more entries will come.
// Hosts are served round-robin so one large host cannot starve the rest.
func (f *Frontier) Next(ctx context.Context) (Entry, bool) {
	for {
		f.mu.Lock()
		if e, ok := f.pick(); ok {
			f.mu.Unlock()
			return e, true
		}
		if f.closed || f.outstanding == 0 {
			f.mu.Unlock()
			return Entry{}, false
		}
		sleep := f.earliestWait()
		f.mu.Unlock()

		var timer *time.Timer
		var timerC <-chan time.Time
		if sleep > 0 {
			timer = time.NewTimer(sleep)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return Entry{}, false
		case <-f.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}

// pick pops the next ready entry, rotating across hosts. Caller holds the lock.
func (f *Frontier) pick() (Entry, bool) {
	now := time.Now()
	for i := 0; i < len(f.ring); i++ {
		idx := (f.rr + i) % len(f.ring)
		host := f.ring[idx]
		q := f.queues[host]
		if len(q) == 0 || q[0].NotBefore.After(now) {
			continue
		}
		e := q[0]
		f.queues[host] = q[1:]
		f.rr = (idx + 1) % len(f.ring)
		return e, true
	}
	return Entry{}, false
}

// earliestWait returns how long until the soonest NotBefore entry becomes
// ready, or 0 when there is nothing queued. Caller holds the lock.
func (f *Frontier) earliestWait() time.Duration {
	now := time.Now()
	var best time.Duration
	for _, q := range f.queues {
		if len(q) == 0 {
			continue
		}
		d := q[0].NotBefore.Sub(now)
		if d <= 0 {
			return time.Millisecond
		}
		if best == 0 || d < best {
			best = d
		}
	}
	return best
}

// TaskDone marks one dispatched entry fully handled (saved, failed, or
// dropped). When every admitted entry is done the frontier is drained and
// Next unblocks for all waiters.
func (f *Frontier) TaskDone() {
	f.mu.Lock()
	f.outstanding--
	drained := f.outstanding <= 0 && !f.closed
	if drained {
		f.closed = true
	} else if !f.closed {
		f.notify()
	}
	f.mu.Unlock()
	if drained {
		close(f.wake)
	}
}

// Close force-drains the frontier (page budget reached or crawl cancelled).
// Safe to call more than once.
func (f *Frontier) Close() {
	f.mu.Lock()
	already := f.closed
	f.closed = true
	f.mu.Unlock()
	if !already {
		close(f.wake)
	}
}

// StartHost is the lowercased host of the seed URL.
func (f *Frontier) StartHost() string { return f.startHost }

func (f *Frontier) notify() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}
