package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
	"github.com/covaulthq/covault/internal/protocol"
	"github.com/covaulthq/covault/internal/services/auth"
	"github.com/covaulthq/covault/internal/services/vault/state"
)

type channelMailer struct {
	codes chan string
}

func newChannelMailer() *channelMailer {
	return &channelMailer{codes: make(chan string, 8)}
}

func (m *channelMailer) Send(_ context.Context, _ string, code string) error {
	m.codes <- code
	return nil
}

func (m *channelMailer) wait(t *testing.T) string {
	t.Helper()
	select {
	case code := <-m.codes:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mailed code")
		return ""
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	server  *Server
	store   *state.Store
	gateway *auth.Gateway
	mailer  *channelMailer
	clock   *fakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, Config{QueueSize: 16})
}

func newTestServerWithConfig(t *testing.T, cfg Config) *testServer {
	t.Helper()
	store, err := state.New(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	mailer := newChannelMailer()
	clock := &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	gateway := auth.NewGateway(auth.Config{TokenSecret: "test-secret"}, mailer, Directory{Store: store}, clock.Now)
	return &testServer{
		server:  New(cfg, gateway, store),
		store:   store,
		gateway: gateway,
		mailer:  mailer,
		clock:   clock,
	}
}

func (ts *testServer) login(t *testing.T, email string) auth.Session {
	t.Helper()
	if err := ts.gateway.RequestCode(context.Background(), email); err != nil {
		t.Fatalf("request code: %v", err)
	}
	code := ts.mailer.wait(t)
	session, err := ts.gateway.VerifyCode(context.Background(), email, code)
	if err != nil {
		t.Fatalf("verify code: %v", err)
	}
	return session
}

func postJSON(t *testing.T, url string, payload any, token string) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, h := range []http.Handler{ts.server.AuthHandler(), ts.server.WSHandler()} {
		srv := httptest.NewServer(h)
		resp, err := http.Get(srv.URL + "/up")
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		srv.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	}
}

func TestAuthFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.server.AuthHandler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/auth/request-code", protocol.RequestCodeRequest{Email: "owner@acme.test"}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request-code: expected 200, got %d", resp.StatusCode)
	}
	code := ts.mailer.wait(t)

	resp = postJSON(t, srv.URL+"/auth/verify-code", protocol.VerifyCodeRequest{Email: "owner@acme.test", Code: "000000"}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad code: expected 401, got %d", resp.StatusCode)
	}
	var errPayload protocol.ErrorPayload
	if err := json.NewDecoder(resp.Body).Decode(&errPayload); err != nil {
		t.Fatal(err)
	}
	if errPayload.Code != string(apperrors.CodeAuthInvalidCode) {
		t.Fatalf("expected AUTH_INVALID_CODE, got %s", errPayload.Code)
	}

	// A failed attempt does not consume the code.
	resp = postJSON(t, srv.URL+"/auth/verify-code", protocol.VerifyCodeRequest{Email: "owner@acme.test", Code: code}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-code: expected 200, got %d", resp.StatusCode)
	}
	var verified protocol.VerifyCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&verified); err != nil {
		t.Fatal(err)
	}
	if verified.Token == "" || verified.UserID == "" || verified.OrgID == "" {
		t.Fatalf("incomplete verify response: %+v", verified)
	}

	if _, err := ts.gateway.Validate(context.Background(), verified.Token); err != nil {
		t.Fatalf("validate issued token: %v", err)
	}

	resp = postJSON(t, srv.URL+"/auth/logout", nil, verified.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}
	if _, err := ts.gateway.Validate(context.Background(), verified.Token); !apperrors.IsCode(err, apperrors.CodeAuthSessionUnknown) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestAuthEndpointsRejectGet(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.server.AuthHandler())
	defer srv.Close()

	for _, path := range []string{"/auth/request-code", "/auth/verify-code", "/auth/logout"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", path, resp.StatusCode)
		}
	}
}

func TestLogoutRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.server.AuthHandler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/auth/logout", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
