package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/dTable/rpc/common"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := &httpServerTransport{}
	srv.RegisterHandler(func(ctx context.Context, route common.Route, req []byte) []byte {
		return append([]byte(string(route)+":"), req...)
	})
	ts := httptest.NewServer(srv.mux())
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, endpoints ...string) *httpClientTransport {
	t.Helper()
	c := &httpClientTransport{}
	if err := c.Connect(common.ClientConfig{Endpoints: endpoints, TimeoutSecond: 5, RetryCount: 2}); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendRoutes(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)

	for _, route := range []common.Route{common.RouteCollections, common.RouteStorages} {
		resp, err := c.Send(context.Background(), route, []byte("ping"))
		if err != nil {
			t.Fatalf("Send to %s failed: %v", route, err)
		}
		if want := string(route) + ":ping"; string(resp) != want {
			t.Errorf("Expected %q, got %q", want, resp)
		}
	}

	if _, err := c.Send(context.Background(), "nope", []byte("ping")); err == nil {
		t.Errorf("Expected an error for an unknown route")
	}
}

func TestEndpointWithoutScheme(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, strings.TrimPrefix(ts.URL, "http://"))

	if _, err := c.Send(context.Background(), common.RouteCollections, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)
	if _, err := c.Send(context.Background(), common.RouteCollections, []byte("x")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `dtable_http_request_duration_seconds`) {
		t.Errorf("Expected request metrics in output")
	}
}

func TestClientNotConnected(t *testing.T) {
	c := NewHttpClientTransport()
	if _, err := c.Send(context.Background(), common.RouteCollections, nil); err == nil {
		t.Errorf("Expected an error from an unconnected transport")
	}
	if err := c.Connect(common.ClientConfig{}); err == nil {
		t.Errorf("Expected an error without endpoints")
	}
}

func TestShutdownWithoutListen(t *testing.T) {
	if err := NewHttpServerTransport().Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
