// ABOUTME: Tests for the WAHA HTTP client
// ABOUTME: Verifies paths, headers, bodies and error classification against httptest

package waha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "secret-key")
}

func TestCreateSession_SendsConfig(t *testing.T) {
	var got CreateSessionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sessions", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"name":"default","status":"STARTING"}`))
	})

	sess, err := client.CreateSession(context.Background(), CreateSessionRequest{
		Name:  "default",
		Start: true,
		Config: SessionConfig{
			Client:   ClientConfig{DeviceName: "WAHABot"},
			Ignore:   IgnoreConfig{Groups: true},
			Webhooks: []Webhook{{URL: "http://localhost:3001/webhook", Events: []string{EventMessage, EventSessionStatus}}},
			Proxy:    &ProxyConfig{Server: "proxy:8080"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, sess.Status)

	assert.Equal(t, "default", got.Name)
	assert.True(t, got.Start)
	assert.Equal(t, "WAHABot", got.Config.Client.DeviceName)
	assert.True(t, got.Config.Ignore.Groups)
	require.Len(t, got.Config.Webhooks, 1)
	assert.Equal(t, []string{"message", "session.status"}, got.Config.Webhooks[0].Events)
	require.NotNil(t, got.Config.Proxy)
	assert.Equal(t, "proxy:8080", got.Config.Proxy.Server)
}

func TestSessionActions_Paths(t *testing.T) {
	type call struct{ method, path string }
	var calls []call
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.RequestURI()})
		w.WriteHeader(http.StatusCreated)
	})
	ctx := context.Background()

	require.NoError(t, client.StartSession(ctx, "default"))
	require.NoError(t, client.StopSession(ctx, "default"))
	require.NoError(t, client.RestartSession(ctx, "default"))
	require.NoError(t, client.LogoutSession(ctx, "default"))
	require.NoError(t, client.DeleteSession(ctx, "default"))
	require.NoError(t, client.SendText(ctx, SendTextRequest{Session: "default", ChatID: "1@c.us", Text: "hi"}))

	assert.Equal(t, []call{
		{http.MethodPost, "/api/sessions/default/start"},
		{http.MethodPost, "/api/sessions/default/stop"},
		{http.MethodPost, "/api/sessions/default/restart"},
		{http.MethodPost, "/api/sessions/default/logout"},
		{http.MethodDelete, "/api/sessions/default"},
		{http.MethodPost, "/api/sendText"},
	}, calls)
}

func TestListSessions_AllFlag(t *testing.T) {
	var queries []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		_, _ = w.Write([]byte(`[{"name":"default","status":"WORKING","me":{"id":"1@c.us","pushName":"Bot"}}]`))
	})

	sessions, err := client.ListSessions(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Bot", sessions[0].Me.PushName)

	_, err = client.ListSessions(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "all=true"}, queries)
}

func TestGetQR_RawFormat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/default/auth/qr", r.URL.Path)
		assert.Equal(t, "raw", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(`{"value":"2@abc"}`))
	})

	qr, err := client.GetQR(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "2@abc", qr.Value)
}

func TestRequestPairingCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/default/auth/request-code", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "628123", body["phoneNumber"])
		_, _ = w.Write([]byte(`{"code":"ABCD-EFGH"}`))
	})

	code, err := client.RequestPairingCode(context.Background(), "default", "628123")
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH", code.Code)
}

func TestErrors_MessageExtraction(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"nested error message", 500, `{"error":{"message":"boom"}}`, "boom"},
		{"top level message", 404, `{"statusCode":404,"message":"Session not found","error":"Not Found"}`, "Session not found"},
		{"message array", 400, `{"message":["name must be a string","config invalid"]}`, "name must be a string; config invalid"},
		{"non json body", 502, `bad gateway`, "HTTP 502"},
		{"empty body", 503, ``, "HTTP 503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.GetSession(context.Background(), "default")
			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.message, te.Message)
		})
	}
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(&TransportError{StatusCode: 409, Message: "x"}))
	assert.True(t, IsConflict(&TransportError{StatusCode: 422, Message: "Session 'default' already exists"}))
	assert.False(t, IsConflict(&TransportError{StatusCode: 422, Message: "invalid config"}))
	assert.False(t, IsConflict(errors.New("plain")))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&TransportError{StatusCode: 404}))
	assert.False(t, IsNotFound(&TransportError{StatusCode: 500}))
	assert.False(t, IsNotFound(nil))
}

func TestConnectionRefused_Unwraps(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, "")
	_, err := client.GetSession(context.Background(), "default")

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.StatusCode)
	assert.True(t, errors.Is(err, syscall.ECONNREFUSED))
}

func TestWithTimeout_DoesNotModifySharedClient(t *testing.T) {
	shared := &http.Client{}

	c := NewClient("http://waha", "", WithHTTPClient(shared), WithTimeout(3*time.Second))
	assert.Equal(t, 3*time.Second, c.client.Timeout)
	assert.Zero(t, shared.Timeout)
	assert.NotSame(t, shared, c.client)

	// Option order does not matter.
	c = NewClient("http://waha", "", WithTimeout(3*time.Second), WithHTTPClient(shared))
	assert.Equal(t, 3*time.Second, c.client.Timeout)
	assert.Zero(t, shared.Timeout)

	c = NewClient("http://waha", "", WithHTTPClient(shared))
	assert.Same(t, shared, c.client)
	assert.Equal(t, DefaultTimeout, NewClient("http://waha", "").client.Timeout)
}
