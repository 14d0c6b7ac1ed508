package suite

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/darunbjork/InsightAPI/internal/app"
	"github.com/darunbjork/InsightAPI/internal/config"
)

// Suite runs the wired application behind an httptest server and talks to
// it the way a browser would, with a cookie jar.
type Suite struct {
	*testing.T
	Cfg    *config.Config
	Server *httptest.Server
	Client *http.Client
}

func New(t *testing.T) (context.Context, *Suite) {
	t.Helper()
	t.Parallel()

	cfg := config.LoadConfig("../config/test.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	application := app.New(logger, cfg)

	server := httptest.NewServer(application.HTTPSrv.Router())

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}

	t.Cleanup(func() {
		t.Helper()
		cancel()
		server.Close()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		application.Stop(stopCtx)
	})

	return ctx, &Suite{
		T:      t,
		Cfg:    cfg,
		Server: server,
		Client: &http.Client{Jar: jar},
	}
}

// PostJSON sends a JSON body to the given path. A nil payload sends an
// empty body.
func (s *Suite) PostJSON(ctx context.Context, path string, payload any) *http.Response {
	s.T.Helper()

	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			s.T.Fatalf("failed to marshal payload: %v", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Server.URL+path, reader)
	if err != nil {
		s.T.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		s.T.Fatalf("request failed: %v", err)
	}

	return resp
}

// PostJSONNoCookies sends the request through a client with no jar, the
// way a captured token would be replayed from another machine. The cookie
// transport always outranks the body, so tests that need to present an old
// token must sidestep the jar.
func (s *Suite) PostJSONNoCookies(ctx context.Context, path string, payload any) *http.Response {
	s.T.Helper()

	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			s.T.Fatalf("failed to marshal payload: %v", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Server.URL+path, reader)
	if err != nil {
		s.T.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		s.T.Fatalf("request failed: %v", err)
	}

	return resp
}

// Get sends a GET request, optionally with a bearer token.
func (s *Suite) Get(ctx context.Context, path, bearer string) *http.Response {
	s.T.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Server.URL+path, nil)
	if err != nil {
		s.T.Fatalf("failed to build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		s.T.Fatalf("request failed: %v", err)
	}

	return resp
}

// Decode reads and closes the response body into out.
func (s *Suite) Decode(resp *http.Response, out any) {
	s.T.Helper()
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		s.T.Fatalf("failed to decode response: %v", err)
	}
}

// Cookie returns the jar's current cookie with the given name, or nil once
// the server has cleared it.
func (s *Suite) Cookie(name string) *http.Cookie {
	s.T.Helper()

	u, err := url.Parse(s.Server.URL + "/api/v1/auth")
	if err != nil {
		s.T.Fatalf("failed to parse server url: %v", err)
	}

	for _, cookie := range s.Client.Jar.Cookies(u) {
		if cookie.Name == name {
			return cookie
		}
	}

	return nil
}
