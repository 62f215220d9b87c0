package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Excalium-OG/DeckForge/app"
	"github.com/Excalium-OG/DeckForge/config"
	"github.com/Excalium-OG/DeckForge/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminKey = "integration-admin"

// TestServer is a fully wired DeckForge server on a loopback listener.
type TestServer struct {
	App    *app.App
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
}

// NewTestServer builds the server the same way main.go does, on an
// in-memory database and the local cache.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)

	cfg := config.Default()
	cfg.Server.AdminKey = adminKey
	cfg.Security = config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}

	a := app.New(cfg, db, c, ps, zap.NewNop())
	a.Start()
	server := httptest.NewServer(a.Router())

	ts := &TestServer{App: a, Server: server, URL: server.URL}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the listener and the background tasks.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.App.Close()
}

// --- HTTP helpers ---

func (ts *TestServer) send(t *testing.T, method, path string, body interface{}, header http.Header) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func bearer(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.send(t, http.MethodPost, path, body, bearer(token))
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.send(t, http.MethodGet, path, nil, bearer(token))
}

// Delete sends a DELETE request with a JSON body.
func (ts *TestServer) Delete(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.send(t, http.MethodDelete, path, body, bearer(token))
}

// Admin sends an admin request carrying the configured admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	h := http.Header{}
	h.Set("X-Admin-Key", adminKey)
	return ts.send(t, method, path, body, h)
}

// ReadJSON decodes the response body into target and closes it.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// RequireStatus fails the test with the body attached when the status differs.
func RequireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode == want {
		return
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Failf(t, "unexpected status", "want %d, got %d: %s", want, resp.StatusCode, string(data))
}

// Login logs in, registering the player on first use.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, playerID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	RequireStatus(t, resp, http.StatusOK)
	var result struct {
		Token    string `json:"token"`
		PlayerID int64  `json:"player_id"`
	}
	ReadJSON(t, resp, &result)
	return result.Token, result.PlayerID
}

// Grant mints n fresh instances of card for player through the admin API.
func (ts *TestServer) Grant(t *testing.T, playerID, cardID int64, n int) []string {
	t.Helper()
	resp := ts.Admin(t, http.MethodPost, "/api/admin/grant", map[string]interface{}{
		"player_id": playerID, "card_id": cardID, "amount": n,
	})
	RequireStatus(t, resp, http.StatusOK)
	var result struct {
		Instances []string `json:"instances"`
	}
	ReadJSON(t, resp, &result)
	require.Len(t, result.Instances, n)
	return result.Instances
}

// --- SSE helpers ---

// EventStream reads named events off a trade event stream.
type EventStream struct {
	resp *http.Response
	sc   *bufio.Scanner
}

// Events opens the trade event stream as the given player.
func (ts *TestServer) Events(t *testing.T, ctx context.Context, tradeID, token string) *EventStream {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/sse/trades/%s?token=%s", ts.URL, tradeID, token), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	RequireStatus(t, resp, http.StatusOK)
	t.Cleanup(func() { resp.Body.Close() })
	return &EventStream{resp: resp, sc: bufio.NewScanner(resp.Body)}
}

// Next returns the next event name, or "" once the server has closed the
// stream. Keepalive comments are skipped.
func (es *EventStream) Next() string {
	for es.sc.Scan() {
		if name, ok := strings.CutPrefix(es.sc.Text(), "event: "); ok {
			return name
		}
	}
	return ""
}

var uniqueCounter atomic.Int64

// UniqueID returns a process-unique name with the given prefix.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%1_000_000, uniqueCounter.Add(1))
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
