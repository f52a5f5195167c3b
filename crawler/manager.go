package crawler

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/cyrup-ai/kodegen-tools-citescrape/driver"
	"github.com/cyrup-ai/kodegen-tools-citescrape/frontier"
	"github.com/cyrup-ai/kodegen-tools-citescrape/index"
	"github.com/cyrup-ai/kodegen-tools-citescrape/markdown"
	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
	"github.com/cyrup-ai/kodegen-tools-citescrape/saver"
)

// Manager owns the crawl registry: it starts supervisors, routes result
// and search lookups by crawl id, and reclaims workspaces.
type Manager struct {
	drv  driver.Driver
	conv *markdown.Converter

	mu     sync.Mutex
	crawls map[string]*crawlHandle
}

type crawlHandle struct {
	sup *Supervisor
	idx *index.Dual
	dir string
}

// NewManager creates a Manager sharing one driver across crawls.
func NewManager(drv driver.Driver) *Manager {
	return &Manager{
		drv:    drv,
		conv:   markdown.New(),
		crawls: make(map[string]*crawlHandle),
	}
}

// Start validates the config, provisions the crawl workspace under
// cfg.StorageDir/<crawl_id>, and launches the supervisor. It returns the
// new crawl id and the workspace directory.
func (m *Manager) Start(cfg models.CrawlConfig) (id, dir string, err error) {
	if err := cfg.Validate(); err != nil {
		return "", "", err
	}

	id = uuid.NewString()
	dir = filepath.Join(cfg.StorageDir, id)

	fr, err := frontier.New(cfg.StartURL, cfg.MaxDepth, cfg.FollowExternalLinks)
	if err != nil {
		return "", "", models.NewCrawlError(models.ErrCodeInvalidConfig, "parse start URL", err)
	}

	sink, err := saver.New(dir, cfg.EnableCompression)
	if err != nil {
		return "", "", err
	}

	var idx *index.Dual
	if cfg.EnableSearch {
		idx, err = index.Open(dir)
		if err != nil {
			return "", "", err
		}
	}

	sup := newSupervisor(id, cfg, fr, m.drv, sink, idx, m.conv)

	// Seed the frontier before the workers start.
	if !fr.Offer(cfg.StartURL, 0, "") {
		if idx != nil {
			_ = idx.Close()
		}
		return "", "", models.NewCrawlError(models.ErrCodeInvalidConfig,
			"start URL rejected by frontier", nil)
	}

	m.mu.Lock()
	m.crawls[id] = &crawlHandle{sup: sup, idx: idx, dir: dir}
	m.mu.Unlock()

	go sup.run()
	return id, dir, nil
}

// Get looks up a crawl by id.
func (m *Manager) Get(id string) (*Supervisor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.crawls[id]
	if !ok {
		return nil, false
	}
	return h.sup, true
}

// Cancel aborts a running crawl.
func (m *Manager) Cancel(id string) bool {
	sup, ok := m.Get(id)
	if !ok {
		return false
	}
	sup.Cancel()
	return true
}

// Remove cancels the crawl, closes its index, and deletes the workspace
// directory. All crawl state lives under that directory, so removal
// reclaims everything.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	h, ok := m.crawls[id]
	delete(m.crawls, id)
	m.mu.Unlock()
	if !ok {
		return models.NewCrawlError(models.ErrCodeNotFound, "crawl not found", nil)
	}

	h.sup.Cancel()
	<-h.sup.Done()
	if h.idx != nil {
		_ = h.idx.Close()
	}
	if err := os.RemoveAll(h.dir); err != nil {
		return models.NewCrawlError(models.ErrCodeSaverIO, "remove crawl workspace", err)
	}
	return nil
}

// Shutdown cancels every crawl and waits for the supervisors to settle.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make([]*crawlHandle, 0, len(m.crawls))
	for _, h := range m.crawls {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.sup.Cancel()
	}
	for _, h := range handles {
		<-h.sup.Done()
		if h.idx != nil {
			_ = h.idx.Close()
		}
	}
}
