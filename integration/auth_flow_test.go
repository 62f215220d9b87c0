package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullAuthLifecycle(t *testing.T) {
	ts := NewTestServer(t)

	username := UniqueID("auth")
	password := "testpass1234"

	// First login registers the player.
	token1, playerID := ts.Login(t, username, password)
	require.NotEmpty(t, token1)
	require.Greater(t, playerID, int64(0))

	assert.True(t, balanceOf(t, ts, token1).IsZero())

	// JWT timestamps have second granularity.
	time.Sleep(1100 * time.Millisecond)
	token2, playerID2 := ts.Login(t, username, password)
	assert.Equal(t, playerID, playerID2)
	assert.NotEqual(t, token1, token2)

	resp := ts.Get(t, "/api/players/me/cards", token2)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.PostJSON(t, "/api/auth/logout", nil, token2)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.Get(t, "/api/players/me/cards", token2)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginWrongPassword(t *testing.T) {
	ts := NewTestServer(t)

	username := UniqueID("wrongpw")
	ts.Login(t, username, "correctpass")

	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": "wrongpassword",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestTokenRefresh(t *testing.T) {
	ts := NewTestServer(t)

	token, _ := ts.Login(t, UniqueID("refresh"), "pass1234")
	time.Sleep(1100 * time.Millisecond)

	resp := ts.PostJSON(t, "/api/auth/refresh", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	newToken := result["token"].(string)
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, token, newToken)

	resp = ts.Get(t, "/api/players/me/balance", token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = ts.Get(t, "/api/players/me/balance", newToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestBannedPlayerCannotLogin(t *testing.T) {
	ts := NewTestServer(t)

	username := UniqueID("banned")
	_, id := ts.Login(t, username, "pass1234")

	resp := ts.Admin(t, http.MethodPost, "/api/admin/players/"+itoa(id)+"/ban", map[string]bool{"ban": true})
	RequireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": "pass1234",
	}, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestAdminRoutesRequireKey(t *testing.T) {
	ts := NewTestServer(t)

	resp := ts.PostJSON(t, "/api/admin/trades/sweep", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = ts.Admin(t, http.MethodGet, "/api/admin/scheduler", nil)
	RequireStatus(t, resp, http.StatusOK)
	var body struct {
		Tasks []struct {
			Name string `json:"name"`
		} `json:"tasks"`
	}
	ReadJSON(t, resp, &body)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "trade_expiry_sweep", body.Tasks[0].Name)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := NewTestServer(t)

	resp := ts.Get(t, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	assert.Equal(t, "ok", result["status"])

	resp = ts.Get(t, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
