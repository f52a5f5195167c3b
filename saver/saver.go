// Package saver persists page artifacts as sister HTML/Markdown files
// under a crawl's storage directory.
package saver

import (
	"bytes"
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"lukechampine.com/blake3"

	"github.com/cyrup-ai/kodegen-tools-citescrape/models"
)

const maxSlugLen = 48

// Saver owns all on-disk paths within its directory. One Saver per crawl.
type Saver struct {
	dir      string
	compress bool
}

// New creates the storage directory and returns a Saver for it.
func New(dir string, compress bool) (*Saver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, models.NewCrawlError(models.ErrCodeSaverIO, "create storage dir", err)
	}
	return &Saver{dir: dir, compress: compress}, nil
}

// Stem derives the deterministic file stem for a canonical URL: the last
// path segment slugified, suffixed with a blake3 fragment of the full URL
// so distinct URLs never collide.
func Stem(canonicalURL string) string {
	sum := blake3.Sum256([]byte(canonicalURL))
	suffix := hex.EncodeToString(sum[:4])

	slug := "index"
	if u, err := url.Parse(canonicalURL); err == nil {
		for _, segment := range strings.Split(u.Path, "/") {
			if s := slugify(segment); s != "" {
				slug = s
			}
		}
	}
	return slug + "-" + suffix
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSuffix(s, filepath.Ext(s)))
	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// Save writes the artifact's HTML and Markdown as sister files and
// returns the stem used. Each file is written atomically; a failure on
// either counts as a saver error for the page.
func (s *Saver) Save(artifact models.PageArtifact) (string, error) {
	stem := Stem(artifact.URL)
	if err := s.writeFile(stem+".html", []byte(artifact.RawHTML)); err != nil {
		return stem, err
	}
	if err := s.writeFile(stem+".md", []byte(artifact.Markdown)); err != nil {
		return stem, err
	}
	return stem, nil
}

// writeFile performs an atomic write (temp file + rename), gzipping when
// compression is enabled.
func (s *Saver) writeFile(name string, data []byte) error {
	if s.compress {
		var err error
		if data, err = gzipBytes(data); err != nil {
			return models.NewCrawlError(models.ErrCodeSaverIO, "compress "+name, err)
		}
		name += ".gz"
	}

	final := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return models.NewCrawlError(models.ErrCodeSaverIO, "create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return models.NewCrawlError(models.ErrCodeSaverIO, "write "+name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return models.NewCrawlError(models.ErrCodeSaverIO, "close "+name, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return models.NewCrawlError(models.ErrCodeSaverIO, "rename "+name, err)
	}
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var b bytes.Buffer
	zw := gzip.NewWriter(&b)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Dir returns the storage directory the saver owns.
func (s *Saver) Dir() string { return s.dir }
