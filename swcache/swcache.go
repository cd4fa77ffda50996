// Package swcache is an http.RoundTripper that applies the web app's service
// worker caching rules to Go clients: named caches, per-route strategies and
// an offline fallback page for navigations.
package swcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
)

const (
	// StudyCache holds pages, static assets and cached API reads.
	StudyCache = "ib-study-v7"
	// FlashcardsCache holds flashcard reads for offline review.
	FlashcardsCache = "ib-flashcards-v1"
	// OfflinePath is the fallback page served when a navigation fails.
	OfflinePath = "/offline"
	// CacheHeader names the cache a response was served from.
	CacheHeader = "X-SW-Cache"
)

type Strategy int

const (
	NetworkOnly Strategy = iota
	CacheFirst
	NetworkFirst
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	}
	return "network-only"
}

// Route is the strategy and cache chosen for a request.
type Route struct {
	Strategy Strategy
	Cache    string
}

var networkOnlyPrefixes = []string{
	"/api/study/generate",
	"/api/study/grade",
	"/api/flashcards/review",
	"/api/tutor/",
	"/api/auth/",
}

var staticPrefixes = []string{"/static/", "/_next/static/", "/fonts/"}

var fontExts = map[string]bool{".woff": true, ".woff2": true, ".ttf": true, ".otf": true}

// DefaultCDNHosts are cached cache-first like local static files.
var DefaultCDNHosts = []string{
	"cdn.jsdelivr.net",
	"cdnjs.cloudflare.com",
	"fonts.googleapis.com",
	"fonts.gstatic.com",
	"unpkg.com",
}

// Entry is a stored response.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Caches is a set of named in-memory caches keyed by URL.
type Caches struct {
	mu sync.RWMutex
	m  map[string]map[string]Entry
}

func NewCaches() *Caches {
	return &Caches{m: make(map[string]map[string]Entry)}
}

func (c *Caches) Put(name, key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m[name] == nil {
		c.m[name] = make(map[string]Entry)
	}
	c.m[name][key] = e
}

func (c *Caches) Match(name, key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[name][key]
	return e, ok
}

// Names lists the caches that hold at least one entry.
func (c *Caches) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for n, entries := range c.m {
		if len(entries) > 0 {
			out = append(out, n)
		}
	}
	return out
}

// Delete drops a whole named cache, as an activating worker drops old versions.
func (c *Caches) Delete(name string) {
	c.mu.Lock()
	delete(c.m, name)
	c.mu.Unlock()
}

// Transport applies the caching strategies in front of Next.
type Transport struct {
	Next     http.RoundTripper
	Caches   *Caches
	CDNHosts []string

	revalidating conc.WaitGroup
}

// New wraps next. A nil next uses http.DefaultTransport.
func New(next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{Next: next, Caches: NewCaches(), CDNHosts: DefaultCDNHosts}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func isNavigation(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "navigate" || strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Classify picks the strategy for r. Only GET requests are ever cached.
func (t *Transport) Classify(r *http.Request) Route {
	if r.Method != http.MethodGet {
		return Route{Strategy: NetworkOnly}
	}
	for _, h := range t.CDNHosts {
		if r.URL.Hostname() == h {
			return Route{CacheFirst, StudyCache}
		}
	}
	p := r.URL.Path
	switch {
	case hasAnyPrefix(p, networkOnlyPrefixes):
		return Route{Strategy: NetworkOnly}
	case strings.HasPrefix(p, "/api/study/subjects"):
		return Route{StaleWhileRevalidate, StudyCache}
	case hasAnyPrefix(p, staticPrefixes), fontExts[strings.ToLower(path.Ext(p))]:
		return Route{CacheFirst, StudyCache}
	case strings.HasPrefix(p, "/api/flashcards/"):
		return Route{NetworkFirst, FlashcardsCache}
	case strings.HasPrefix(p, "/api/"):
		return Route{Strategy: NetworkOnly}
	case isNavigation(r):
		return Route{NetworkFirst, StudyCache}
	}
	return Route{Strategy: NetworkOnly}
}

func cacheKey(r *http.Request) string {
	return r.URL.String()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	route := t.Classify(req)
	key := cacheKey(req)

	switch route.Strategy {
	case CacheFirst:
		if e, ok := t.Caches.Match(route.Cache, key); ok {
			return e.response(req, route.Cache), nil
		}
		return t.fetchAndStore(req, route.Cache, key)

	case NetworkFirst:
		resp, err := t.fetchAndStore(req, route.Cache, key)
		if err == nil {
			return resp, nil
		}
		if e, ok := t.Caches.Match(route.Cache, key); ok {
			return e.response(req, route.Cache), nil
		}
		if isNavigation(req) {
			if e, ok := t.offlinePage(req); ok {
				return e.response(req, StudyCache), nil
			}
		}
		return nil, err

	case StaleWhileRevalidate:
		if e, ok := t.Caches.Match(route.Cache, key); ok {
			bg := req.Clone(context.WithoutCancel(req.Context()))
			t.revalidating.Go(func() {
				resp, err := t.fetchAndStore(bg, route.Cache, key)
				if err != nil {
					log.Printf("swcache: revalidating %s failed: %v", key, err)
					return
				}
				resp.Body.Close()
			})
			return e.response(req, route.Cache), nil
		}
		return t.fetchAndStore(req, route.Cache, key)
	}
	return t.Next.RoundTrip(req)
}

func (t *Transport) offlinePage(req *http.Request) (Entry, bool) {
	u := *req.URL
	u.Path, u.RawQuery, u.Fragment = OfflinePath, "", ""
	return t.Caches.Match(StudyCache, u.String())
}

// fetchAndStore goes to the network and caches a 200 response.
func (t *Transport) fetchAndStore(req *http.Request, cache, key string) (*http.Response, error) {
	resp, err := t.Next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || strings.Contains(resp.Header.Get("Cache-Control"), "no-store") {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("swcache: reading %s: %w", key, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	// cookies belong to the live response only
	h := resp.Header.Clone()
	h.Del("Set-Cookie")
	t.Caches.Put(cache, key, Entry{
		Status:   resp.StatusCode,
		Header:   h,
		Body:     body,
		StoredAt: time.Now(),
	})
	return resp, nil
}

func (e Entry) response(req *http.Request, cache string) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(CacheHeader, cache)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// Precache fetches urls into StudyCache, like a worker's install step. The
// offline page should be among them.
func (t *Transport) Precache(ctx context.Context, urls ...string) error {
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(4)
	for _, u := range urls {
		p.Go(func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return err
			}
			resp, err := t.fetchAndStore(req, StudyCache, cacheKey(req))
			if err != nil {
				return fmt.Errorf("precache %s: %w", u, err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("precache %s: status %d", u, resp.StatusCode)
			}
			return nil
		})
	}
	return p.Wait()
}

// Wait blocks until background revalidations finish.
func (t *Transport) Wait() {
	t.revalidating.Wait()
}
