package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/stockwatch/internal/monitor"
)

type stubSource struct {
	st atomic.Pointer[monitor.Status]
}

func (s *stubSource) Status() monitor.Status {
	if p := s.st.Load(); p != nil {
		return *p
	}
	return monitor.Status{}
}

func (s *stubSource) set(st monitor.Status) { s.st.Store(&st) }

func newTestServer(t *testing.T, st monitor.Status) (*httptest.Server, *stubSource) {
	t.Helper()
	source := &stubSource{}
	source.set(st)
	handler, err := NewHandler(source, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, source
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, monitor.Status{})
	resp, body := get(t, srv.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Monitor is running", body)
}

func TestStatusReflectsMonitor(t *testing.T) {
	srv, source := newTestServer(t, monitor.Status{Running: true, Filters: []string{"Men", "Women"}})

	resp, body := get(t, srv.URL+"/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	require.Equal(t, true, payload["running"])
	require.Equal(t, []any{"Men", "Women"}, payload["monitored_genders"])

	source.set(monitor.Status{Running: false})
	_, body = get(t, srv.URL+"/status")
	require.JSONEq(t, `{"running":false,"monitored_genders":[]}`, body)
}

func TestMetricsExposeStatusGauges(t *testing.T) {
	srv, _ := newTestServer(t, monitor.Status{Running: true, Cycles: 4, Notified: 2, Tracked: 9, InStock: 3, Discovered: 120})

	resp, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, line := range []string{
		"stockwatch_running 1",
		"stockwatch_cycles_completed_total 4",
		"stockwatch_alerts_delivered_total 2",
		"stockwatch_products_tracked 9",
		"stockwatch_products_in_stock 3",
		"stockwatch_products_discovered_last_cycle 120",
	} {
		require.Contains(t, body, line)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	srv, _ := newTestServer(t, monitor.Status{})

	resp, body := get(t, srv.URL+"/nope")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, body, "not found")

	post, err := http.Post(srv.URL+"/status", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer post.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	source := &stubSource{}
	_, err := NewHandler(source, registry)
	require.NoError(t, err)
	_, err = NewHandler(source, registry)
	require.Error(t, err)
}
