package testutil

import (
	"bytes"
	"io/ioutil"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/darasa/core"
)

// NewConfig builds a test configuration pointed at baseURL, bypassing env
// loading.
func NewConfig(t *testing.T, baseURL string) *core.Config {
	conf := &core.Config{
		Debug:    true,
		TestMode: true,
		Env:      "TEST",
		AppName:  "Darasa",
	}
	conf.API.BaseURL = baseURL
	conf.API.SessionPath = "/api/session/current/"
	conf.CSRF.CookieName = "csrftoken"
	conf.CSRF.HeaderName = "X-CSRFToken"
	conf.Heartbeat.Delay = 150 * time.Second
	conf.Heartbeat.ReconnectMinDelay = 5 * time.Second
	conf.Heartbeat.ReconnectMaxDelay = 600 * time.Second
	conf.DisconnectCodes = []int{0, 502, 503, 504}
	conf.LocalStorePath = filepath.Join(t.TempDir(), "store.json")
	return conf
}

type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Backend is a fake REST backend for tests: an echo app served by httptest,
// recording every call it receives.
type Backend struct {
	Echo   *echo.Echo
	Server *httptest.Server

	mu    sync.Mutex
	calls []Call
}

func NewBackend(t *testing.T) *Backend {
	e := echo.New()
	b := &Backend{Echo: e}
	e.Use(b.record)
	b.Server = httptest.NewServer(e)
	t.Cleanup(b.Server.Close)
	return b
}

func (b *Backend) URL() string { return b.Server.URL }

func (b *Backend) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		var body []byte
		if req.Body != nil {
			body, _ = ioutil.ReadAll(req.Body)
			req.Body = ioutil.NopCloser(bytes.NewReader(body))
		}
		b.mu.Lock()
		b.calls = append(b.calls, Call{
			Method: req.Method,
			Path:   req.URL.Path,
			Query:  req.URL.Query(),
			Body:   body,
		})
		b.mu.Unlock()
		return next(c)
	}
}

// Calls returns the recorded calls matching method and path ("" matches any).
func (b *Backend) Calls(method, path string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Call
	for _, call := range b.calls {
		if (method == "" || call.Method == method) && (path == "" || call.Path == path) {
			out = append(out, call)
		}
	}
	return out
}

func (b *Backend) CallCount(method, path string) int {
	return len(b.Calls(method, path))
}
