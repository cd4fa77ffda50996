package swcache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
)

// backend is a fake network that counts round trips per path.
type backend struct {
	mu      sync.Mutex
	hits    map[string]int
	offline bool
	body    string
	status  int
	cookie  string
}

var errOffline = errors.New("network unreachable")

func newBackend() *backend {
	return &backend{hits: make(map[string]int), body: "v1", status: http.StatusOK}
}

func (b *backend) RoundTrip(r *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline {
		return nil, errOffline
	}
	b.hits[r.URL.Path]++
	body := b.body
	if r.URL.Path == OfflinePath {
		body = "<h1>You're offline</h1>"
	}
	h := http.Header{"Content-Type": {"text/plain"}}
	if b.cookie != "" {
		h.Set("Set-Cookie", b.cookie)
	}
	return &http.Response{
		StatusCode: b.status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}, nil
}

func (b *backend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func (b *backend) set(fn func(*backend)) {
	b.mu.Lock()
	fn(b)
	b.mu.Unlock()
}

func get(t *testing.T, tr *Transport, url string, header ...string) (*http.Response, string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestClassify(t *testing.T) {
	tr := New(newBackend())
	tests := []struct {
		method, url string
		accept      string
		want        Route
	}{
		{"GET", "https://ib.example/api/study/generate?topic=x", "", Route{Strategy: NetworkOnly}},
		{"GET", "https://ib.example/api/study/grade", "", Route{Strategy: NetworkOnly}},
		{"POST", "https://ib.example/static/css/app.css", "", Route{Strategy: NetworkOnly}},
		{"GET", "https://ib.example/api/tutor/conversation", "", Route{Strategy: NetworkOnly}},
		{"GET", "https://ib.example/api/study/subjects", "", Route{StaleWhileRevalidate, StudyCache}},
		{"GET", "https://ib.example/static/js/study.js", "", Route{CacheFirst, StudyCache}},
		{"GET", "https://ib.example/_next/static/chunk.js", "", Route{CacheFirst, StudyCache}},
		{"GET", "https://ib.example/assets/inter.woff2", "", Route{CacheFirst, StudyCache}},
		{"GET", "https://fonts.gstatic.com/s/inter.css", "", Route{CacheFirst, StudyCache}},
		{"GET", "https://ib.example/api/flashcards/due", "", Route{NetworkFirst, FlashcardsCache}},
		{"GET", "https://ib.example/api/dashboard", "", Route{Strategy: NetworkOnly}},
		{"GET", "https://ib.example/study", "text/html", Route{NetworkFirst, StudyCache}},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, tt.url, nil)
		if tt.accept != "" {
			req.Header.Set("Accept", tt.accept)
		}
		if got := tr.Classify(req); got != tt.want {
			t.Errorf("Classify(%s %s) = %+v, want %+v", tt.method, tt.url, got, tt.want)
		}
	}
}

func TestGenerateNeverServedFromCache(t *testing.T) {
	b := newBackend()
	tr := New(b)
	for range 2 {
		resp, _ := get(t, tr, "https://ib.example/api/study/generate?topic=cells")
		if resp.Header.Get(CacheHeader) != "" {
			t.Fatal("generate response came from a cache")
		}
	}
	if n := b.count("/api/study/generate"); n != 2 {
		t.Errorf("network hits = %d, want 2", n)
	}
	if len(tr.Caches.Names()) != 0 {
		t.Errorf("caches = %v, want none", tr.Caches.Names())
	}
}

func TestStaticServedFromCacheWithoutNetwork(t *testing.T) {
	b := newBackend()
	tr := New(b)
	get(t, tr, "https://ib.example/static/css/app.css")

	b.set(func(b *backend) { b.offline = true })
	resp, body := get(t, tr, "https://ib.example/static/css/app.css")
	if body != "v1" || resp.Header.Get(CacheHeader) != StudyCache {
		t.Errorf("second GET = %q from %q", body, resp.Header.Get(CacheHeader))
	}
	if n := b.count("/static/css/app.css"); n != 1 {
		t.Errorf("network hits = %d, want 1", n)
	}
}

func TestCachedResponsesDropCookies(t *testing.T) {
	b := newBackend()
	b.cookie = "session=abc; Path=/; HttpOnly"
	tr := New(b)
	const url = "https://ib.example/static/js/app.js"

	resp, _ := get(t, tr, url)
	if resp.Header.Get("Set-Cookie") == "" {
		t.Fatal("live response lost its cookie")
	}
	b.set(func(b *backend) { b.offline = true })
	resp, body := get(t, tr, url)
	if body != "v1" || resp.Header.Get(CacheHeader) != StudyCache {
		t.Fatalf("second GET = %q from %q", body, resp.Header.Get(CacheHeader))
	}
	if c := resp.Header.Get("Set-Cookie"); c != "" {
		t.Errorf("cache hit replayed Set-Cookie %q", c)
	}
	if resp.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("other headers dropped: %v", resp.Header)
	}
}

func TestOnlySuccessfulResponsesCached(t *testing.T) {
	b := newBackend()
	b.status = http.StatusNotFound
	tr := New(b)
	get(t, tr, "https://ib.example/static/missing.js")
	get(t, tr, "https://ib.example/static/missing.js")
	if n := b.count("/static/missing.js"); n != 2 {
		t.Errorf("network hits = %d, want 2", n)
	}
}

func TestStaleWhileRevalidate(t *testing.T) {
	b := newBackend()
	tr := New(b)
	const url = "https://ib.example/api/study/subjects"

	if _, body := get(t, tr, url); body != "v1" {
		t.Fatalf("first = %q", body)
	}
	b.set(func(b *backend) { b.body = "v2" })

	resp, body := get(t, tr, url)
	if body != "v1" || resp.Header.Get(CacheHeader) != StudyCache {
		t.Errorf("second = %q from %q, want stale v1", body, resp.Header.Get(CacheHeader))
	}
	tr.Wait()
	if n := b.count("/api/study/subjects"); n != 2 {
		t.Errorf("network hits = %d, want 2", n)
	}
	if _, body := get(t, tr, url); body != "v2" {
		t.Errorf("after revalidation = %q, want v2", body)
	}
	tr.Wait()
}

func TestNetworkFirstFallsBack(t *testing.T) {
	b := newBackend()
	tr := New(b)
	if err := tr.Precache(context.Background(), "https://ib.example"+OfflinePath); err != nil {
		t.Fatal(err)
	}
	get(t, tr, "https://ib.example/api/flashcards/due")
	b.set(func(b *backend) { b.offline = true })

	resp, body := get(t, tr, "https://ib.example/api/flashcards/due")
	if body != "v1" || resp.Header.Get(CacheHeader) != FlashcardsCache {
		t.Errorf("flashcards offline = %q from %q", body, resp.Header.Get(CacheHeader))
	}

	_, body = get(t, tr, "https://ib.example/exams/42", "Accept", "text/html")
	if !strings.Contains(body, "You're offline") {
		t.Errorf("navigation offline = %q, want offline page", body)
	}

	req, _ := http.NewRequest(http.MethodGet, "https://ib.example/api/flashcards/decks", nil)
	if _, err := tr.RoundTrip(req); !errors.Is(err, errOffline) {
		t.Errorf("uncached api error = %v, want offline", err)
	}
}

func TestDeleteDropsCache(t *testing.T) {
	tr := New(newBackend())
	get(t, tr, "https://ib.example/static/a.js")
	tr.Caches.Delete(StudyCache)
	if _, ok := tr.Caches.Match(StudyCache, "https://ib.example/static/a.js"); ok {
		t.Error("entry survived Delete")
	}
}
