package catalog

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/stockwatch/errs"
	"github.com/coachpo/stockwatch/internal/fetch"
)

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[int]string
	failed map[int]bool
	calls  []url.Values
}

func (f *fakeFetcher) GetWithRetry(_ context.Context, _ string, params url.Values, _ time.Duration) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	n, _ := strconv.Atoi(params.Get("currentPage"))
	if f.failed[n] {
		return nil, errs.New("fetch", errs.CodeForbidden, errs.WithHTTP(403))
	}
	body, ok := f.pages[n]
	if !ok {
		return nil, errs.New("fetch", errs.CodeUpstream, errs.WithHTTP(500))
	}
	return &fetch.Response{Status: 200, Body: []byte(body)}, nil
}

func page(total int, codes ...string) string {
	entries := make([]string, 0, len(codes))
	for _, c := range codes {
		entries = append(entries, fmt.Sprintf(`{"code":%q,"name":"item %s"}`, c, c))
	}
	return fmt.Sprintf(`{"pagination":{"totalPages":%d},"products":[%s]}`, total, strings.Join(entries, ","))
}

func newDiscovery(f Fetcher) *Discovery {
	return NewDiscovery(f, DiscoveryOptions{
		CategoryURL: "https://example.test/api/category/x",
		BaseURL:     base,
		PageSize:    40,
		Workers:     5,
		Logger:      log.New(&bytes.Buffer{}, "", 0),
	})
}

func TestPageParams(t *testing.T) {
	q := PageParams("Women", 3, 40)
	require.Equal(t, "SITE", q.Get("fields"))
	require.Equal(t, "3", q.Get("currentPage"))
	require.Equal(t, "40", q.Get("pageSize"))
	require.Equal(t, "json", q.Get("format"))
	require.Equal(t, ":relevance:genderfilter:Women", q.Get("query"))
	require.Equal(t, "genderfilter:Women", q.Get("facets"))
	require.Equal(t, "true", q.Get("advfilter"))
	require.Equal(t, "Desktop", q.Get("platform"))
	require.Equal(t, "true", q.Get("is_ads_enable_plp"))
}

func TestDiscoverMergesAllPagesLastWriteWins(t *testing.T) {
	f := &fakeFetcher{pages: map[int]string{
		1: page(3, "A", "B"),
		2: page(3, "C"),
		3: page(3, "D", "A"),
	}}
	got := newDiscovery(f).Discover(context.Background(), "Men")
	require.Len(t, got, 4)
	for _, code := range []string{"A", "B", "C", "D"} {
		require.Contains(t, got, code)
		require.Equal(t, "Men", got[code].Category)
	}
	require.Len(t, f.calls, 3)
}

func TestDiscoverSkipsFailedPages(t *testing.T) {
	f := &fakeFetcher{
		pages:  map[int]string{1: page(4, "A"), 3: page(4, "C"), 4: page(4, "D")},
		failed: map[int]bool{2: true},
	}
	got := newDiscovery(f).Discover(context.Background(), "Men")
	require.Len(t, got, 3)
	require.NotContains(t, got, "B")
}

func TestDiscoverPageOneFailureYieldsEmpty(t *testing.T) {
	f := &fakeFetcher{failed: map[int]bool{1: true}, pages: map[int]string{2: page(2, "B")}}
	got := newDiscovery(f).Discover(context.Background(), "Women")
	require.Empty(t, got)
	require.Len(t, f.calls, 1)
}

func TestDiscoverDefaultsToSinglePage(t *testing.T) {
	f := &fakeFetcher{pages: map[int]string{1: `{"products":[{"code":"A"},{"name":"no code"}]}`}}
	got := newDiscovery(f).Discover(context.Background(), "Men")
	require.Len(t, got, 1)
	require.Len(t, f.calls, 1)
}

func TestDiscoverUndecodablePageOne(t *testing.T) {
	f := &fakeFetcher{pages: map[int]string{1: `<html>blocked</html>`}}
	require.Empty(t, newDiscovery(f).Discover(context.Background(), "Men"))
}

func TestDiscoverOverHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			return
		}
		if r.URL.Query().Get("facets") != "genderfilter:Men" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Query().Get("currentPage") {
		case "1":
			_, _ = w.Write([]byte(page(2, "A")))
		case "2":
			_, _ = w.Write([]byte(page(2, "B")))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := fetch.NewClient(fetch.Options{
		BaseURL: srv.URL,
		Factory: fetch.StandardFactory(time.Second),
		Policy: fetch.Policy{
			WarmupAttempts: 1,
			RetryAttempts:  1,
		},
		Logger: log.New(&bytes.Buffer{}, "", 0),
	})
	require.NoError(t, err)
	require.NoError(t, client.Init(context.Background()))

	d := NewDiscovery(client, DiscoveryOptions{
		CategoryURL: srv.URL + "/api/category/sverse",
		BaseURL:     srv.URL,
		Logger:      log.New(&bytes.Buffer{}, "", 0),
	})
	got := d.Discover(context.Background(), "Men")
	require.Len(t, got, 2)
	require.Equal(t, srv.URL+"/p/B", got["B"].URL)
}
