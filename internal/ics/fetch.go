package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "sessionbot/pkg/logx"
)

// Fetcher downloads ICS feeds with HTTP caching (ETag / Last-Modified) and a
// disk-backed body cache keyed by URL hash. On network failure it falls back
// to the last cached body, so a flaky feed degrades instead of disappearing.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	log      logx.Logger
}

type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewFetcher(cacheDir string, log logx.Logger) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
		log:      log.With(logx.String("comp", "ics")),
	}
}

// Fetch returns the ICS body for url, and whether it came from cache.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, bool, error) {
	if strings.TrimSpace(url) == "" {
		return nil, false, errors.New("feed url is empty")
	}

	cachePath := f.cachePathForURL(url)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return nil, false, err
	}

	meta, _ := f.loadMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			f.log.Warn("feed fetch failed; using cached body",
				logx.String("url", redactURL(url)), logx.Err(err))
			return cachedBody, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		newMeta := cacheEntry{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			f.log.Warn("feed cache save failed", logx.String("url", redactURL(url)), logx.Err(err))
		}
		return body, false, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, false, errors.New("304 Not Modified but no cached body")
		}
		return cachedBody, true, nil

	default:
		if len(cachedBody) > 0 {
			f.log.Warn("feed fetch non-OK; using cached body",
				logx.String("url", redactURL(url)), logx.Int("status", resp.StatusCode))
			return cachedBody, true, nil
		}
		return nil, false, errors.New(resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first, so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.Marshal(&meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides path and query for logging; feed URLs often embed tokens.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	j := strings.IndexByte(rest, '/')
	if j < 0 {
		return u
	}
	return u[:i+3+j] + "/...(redacted)"
}
