// ABOUTME: Tests for webhook ingress, status reporting, and server lifecycle
// ABOUTME: Verifies ack-before-processing, dedupe, panic recovery and draining

package webhook

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tailscale.com/ipn/ipnstate"

	"github.com/2389/fold-whatsapp/internal/completion"
	"github.com/2389/fold-whatsapp/internal/conversation"
	"github.com/2389/fold-whatsapp/internal/dedupe"
	"github.com/2389/fold-whatsapp/internal/router"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	events  []router.Event
	block   chan struct{}
	panics  bool
	ctxErrs []error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, evt router.Event) bool {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	f.events = append(f.events, evt)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	panics := f.panics
	f.mu.Unlock()
	if panics {
		panic("dispatcher exploded")
	}
	return true
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type panickingStats struct{}

func (panickingStats) Stats() conversation.Stats { panic("stats unavailable") }

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func drain(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

const messageBody = `{"event":"message","session":"default","payload":{"id":"m1","fromMe":false,"from":"X","body":"Hello"}}`

func TestWebhook_AcksBeforeProcessing(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	s := NewServer(Config{}, Deps{Dispatcher: d}, nil)

	rec := post(t, s.Handler(), messageBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, 0, d.count(), "processing must not have finished before the ack")

	close(d.block)
	drain(t, s)

	require.Equal(t, 1, d.count())
	evt := d.events[0]
	assert.Equal(t, router.EventMessage, evt.Type)
	assert.Equal(t, "X", evt.Payload.ChatID)
}

func TestWebhook_MalformedBodiesAreAcknowledgedAndIgnored(t *testing.T) {
	d := &fakeDispatcher{}
	s := NewServer(Config{}, Deps{Dispatcher: d}, nil)

	for _, body := range []string{`[1,2]`, `"text"`, `not json`, ``, `42`} {
		rec := post(t, s.Handler(), body)
		assert.Equal(t, http.StatusOK, rec.Code, body)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String(), body)
	}
	drain(t, s)

	assert.Equal(t, 0, d.count())
}

func TestWebhook_DropsRedeliveries(t *testing.T) {
	d := &fakeDispatcher{}
	cache := dedupe.New(time.Minute, 100)
	defer cache.Close()
	s := NewServer(Config{}, Deps{Dispatcher: d, Dedupe: cache}, nil)

	post(t, s.Handler(), messageBody)
	drain(t, s)
	post(t, s.Handler(), messageBody)
	drain(t, s)

	assert.Equal(t, 1, d.count())
}

func TestWebhook_EventsWithoutIDAreNotDeduplicated(t *testing.T) {
	d := &fakeDispatcher{}
	cache := dedupe.New(time.Minute, 100)
	defer cache.Close()
	s := NewServer(Config{}, Deps{Dispatcher: d, Dedupe: cache}, nil)

	body := `{"event":"session.status","payload":{"status":"WORKING"}}`
	post(t, s.Handler(), body)
	post(t, s.Handler(), body)
	drain(t, s)

	assert.Equal(t, 2, d.count())
}

func TestWebhook_RecoversFromDispatchPanic(t *testing.T) {
	d := &fakeDispatcher{panics: true}
	s := NewServer(Config{}, Deps{Dispatcher: d}, nil)

	rec := post(t, s.Handler(), messageBody)
	drain(t, s)
	assert.Equal(t, http.StatusOK, rec.Code)

	d.mu.Lock()
	d.panics = false
	d.mu.Unlock()

	post(t, s.Handler(), strings.Replace(messageBody, `"m1"`, `"m2"`, 1))
	drain(t, s)
	assert.Equal(t, 2, d.count())
}

func TestWebhook_RejectsOtherMethods(t *testing.T) {
	s := NewServer(Config{}, Deps{Dispatcher: &fakeDispatcher{}}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type nopSender struct {
	mu    sync.Mutex
	calls int
}

func (n *nopSender) SendMessage(context.Context, string, string) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return nil
}

type nopCompleter struct {
	mu    sync.Mutex
	calls int
}

func (n *nopCompleter) Complete(context.Context, completion.Request) (string, error) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return "reply", nil
}

type fixedPrompt struct{}

func (fixedPrompt) Get() string { return "prompt" }

func TestWebhook_OtherChatAcknowledgedWithoutSideEffects(t *testing.T) {
	store := conversation.NewStore(0)
	sender := &nopSender{}
	completer := &nopCompleter{}
	r := router.New(router.DefaultConfig("X"), router.Deps{
		Sender:    sender,
		Store:     store,
		Completer: completer,
		Prompt:    fixedPrompt{},
	}, nil)
	s := NewServer(Config{}, Deps{Dispatcher: r, Stats: store}, nil)

	rec := post(t, s.Handler(), `{"event":"message","payload":{"fromMe":false,"chatId":"Y","body":"Hello"}}`)
	drain(t, s)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, sender.calls)
	assert.Zero(t, completer.calls)
	assert.Equal(t, 0, store.Stats().ActiveConversations)
}

func TestStatus_ReportsConversations(t *testing.T) {
	store := conversation.NewStore(0)
	store.AppendAndTrim("b@c.us", conversation.RoleUser, "hi")
	store.AppendAndTrim("a@c.us", conversation.RoleUser, "hi")
	store.AppendAndTrim("a@c.us", conversation.RoleAssistant, "hello")
	s := NewServer(Config{}, Deps{Stats: store}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"status": "running",
		"activeConversations": 2,
		"chats": [{"chatId":"a@c.us","messages":2},{"chatId":"b@c.us","messages":1}]
	}`, rec.Body.String())
}

func TestStatus_EmptyStoreHasEmptyChats(t *testing.T) {
	s := NewServer(Config{}, Deps{Stats: conversation.NewStore(0)}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	assert.NotNil(t, resp.Chats)
	assert.Contains(t, rec.Body.String(), `"chats":[]`)
}

func TestStatus_ProviderFailure(t *testing.T) {
	s := NewServer(Config{}, Deps{Stats: panickingStats{}}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"Could not retrieve stats."}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := NewServer(Config{}, Deps{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestListen_WebhookURL(t *testing.T) {
	s := NewServer(Config{Addr: "127.0.0.1:0"}, Deps{}, nil)
	require.NoError(t, s.Listen(context.Background()))
	defer func() { _ = s.Shutdown(context.Background()) }()

	_, port, err := net.SplitHostPort(s.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:"+port+"/webhook", s.WebhookURL())
}

func TestWebhookURL_PublicOverride(t *testing.T) {
	s := NewServer(Config{PublicURL: "https://bot.example.com/hook"}, Deps{}, nil)
	assert.Equal(t, "https://bot.example.com/hook", s.WebhookURL())
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	s := NewServer(Config{Addr: "127.0.0.1:0"}, Deps{}, nil)
	require.NoError(t, s.Listen(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWait_CancelsStalledDeliveries(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	s := NewServer(Config{}, Deps{Dispatcher: d}, nil)

	post(t, s.Handler(), messageBody)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	drain(t, s)
	require.Equal(t, 1, d.count())
	assert.ErrorIs(t, d.ctxErrs[0], context.Canceled)
}

func TestTailnetURLs(t *testing.T) {
	status := &ipnstate.Status{Self: &ipnstate.PeerStatus{DNSName: "bot.tail1234.ts.net."}}

	assert.Equal(t, "bot.tail1234.ts.net", tailnetHost("bot", status))
	assert.Equal(t, "bot", tailnetHost("bot", &ipnstate.Status{}))
	assert.Equal(t, "https://h", tailnetBaseURL("h", TailscaleConfig{Funnel: true}))
	assert.Equal(t, "https://h", tailnetBaseURL("h", TailscaleConfig{HTTPS: true}))
	assert.Equal(t, "http://h", tailnetBaseURL("h", TailscaleConfig{}))
}

func TestTailscaleNode_AuthKeySources(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	dir := t.TempDir()

	_, err := TailscaleConfig{StateDir: dir}.node()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `register "fold-whatsapp"`)

	node, err := TailscaleConfig{StateDir: dir, AuthKey: "tskey-config"}.node()
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", node.AuthKey)
	assert.Equal(t, DefaultTailscaleHostname, node.Hostname)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	node, err = TailscaleConfig{StateDir: dir}.node()
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", node.AuthKey)
}

func TestTailscaleNode_SavedStateNeedsNoKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFile), []byte("{}"), 0o600))

	node, err := TailscaleConfig{StateDir: dir, Hostname: "wa-bot"}.node()
	require.NoError(t, err)
	assert.Empty(t, node.AuthKey)
	assert.Equal(t, dir, node.Dir)

	_, err = TailscaleConfig{StateDir: dir, Hostname: "wa-bot", Ephemeral: true}.node()
	assert.Error(t, err)
}

func TestTailscaleNode_StateDirPerHostname(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TS_AUTHKEY", "tskey-env")

	a, err := TailscaleConfig{Hostname: "bot-a"}.node()
	require.NoError(t, err)
	b, err := TailscaleConfig{Hostname: "bot-b"}.node()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".local", "share", "fold-whatsapp", "tailscale", "bot-a"), a.Dir)
	assert.NotEqual(t, a.Dir, b.Dir)
	assert.DirExists(t, a.Dir)
}
