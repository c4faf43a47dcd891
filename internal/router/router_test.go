// ABOUTME: Tests for event filtering, reset and reply flows, and per-chat serialization
// ABOUTME: Uses the real conversation store with fake sender and completer

package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fold-whatsapp/internal/completion"
	"github.com/2389/fold-whatsapp/internal/conversation"
)

const allowed = "15551234567@c.us"

type sent struct {
	chatID string
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID, text})
	return f.err
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fakeCompleter struct {
	mu       sync.Mutex
	requests []completion.Request
	reply    string
	err      error
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeCompleter) Complete(_ context.Context, req completion.Request) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type staticPrompt string

func (p staticPrompt) Get() string { return string(p) }

type upperFormatter struct{}

func (upperFormatter) Format(s string) string { return strings.ToUpper(s) }

type blankFormatter struct{}

func (blankFormatter) Format(string) string { return " \n" }

type fixture struct {
	router    *Router
	store     *conversation.Store
	sender    *fakeSender
	completer *fakeCompleter
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:     conversation.NewStore(conversation.DefaultHistoryCap),
		sender:    &fakeSender{},
		completer: &fakeCompleter{reply: "Hi! How are you?"},
	}
	f.router = New(cfg, Deps{
		Sender:    f.sender,
		Store:     f.store,
		Completer: f.completer,
		Prompt:    staticPrompt("be friendly"),
	}, nil)
	return f
}

func messageEvent(chatID string, fromMe bool, body any) Event {
	raw, _ := json.Marshal(body)
	return Event{
		Type:    EventMessage,
		Payload: Payload{ID: "msg-1", FromMe: fromMe, ChatID: chatID, Body: raw},
	}
}

func TestShouldHandle(t *testing.T) {
	group := "120363000000000000@g.us"

	tests := []struct {
		name        string
		allowed     string
		privateOnly bool
		evt         Event
		want        bool
	}{
		{"private text message", allowed, true, messageEvent(allowed, false, "Hello"), true},
		{"non message event", allowed, true, Event{Type: "session.status", Payload: messageEvent(allowed, false, "Hello").Payload}, false},
		{"ack event", allowed, true, Event{Type: "message.ack", Payload: messageEvent(allowed, false, "Hello").Payload}, false},
		{"from me", allowed, true, messageEvent(allowed, true, "Hello"), false},
		{"other chat", allowed, true, messageEvent("15559999999@c.us", false, "Hello"), false},
		{"empty chat id", "", true, messageEvent("", false, "Hello"), false},
		{"group while private only", group, true, messageEvent(group, false, "Hello"), false},
		{"group allowed when not private only", group, false, messageEvent(group, false, "Hello"), true},
		{"empty body", allowed, true, messageEvent(allowed, false, ""), false},
		{"numeric body", allowed, true, messageEvent(allowed, false, 42), false},
		{"object body", allowed, true, messageEvent(allowed, false, map[string]string{"a": "b"}), false},
		{"null body", allowed, true, messageEvent(allowed, false, nil), false},
		{"missing body", allowed, true, Event{Type: EventMessage, Payload: Payload{ChatID: allowed}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(tt.allowed)
			cfg.PrivateOnly = tt.privateOnly
			r := New(cfg, Deps{}, nil)
			assert.Equal(t, tt.want, r.ShouldHandle(tt.evt))
		})
	}
}

func TestShouldHandle_FromMeAlwaysRejected(t *testing.T) {
	r := New(Config{AllowedChatID: allowed}, Deps{}, nil)
	for _, body := range []any{"hi", "/reset", "x"} {
		assert.False(t, r.ShouldHandle(messageEvent(allowed, true, body)))
	}
}

func TestDispatch_ReplyFlow(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))

	handled := f.router.Dispatch(context.Background(), messageEvent(allowed, false, "Hello"))
	require.True(t, handled)

	require.Equal(t, 1, f.completer.calls())
	req := f.completer.requests[0]
	assert.Equal(t, "be friendly", req.SystemPrompt)
	assert.Equal(t, []conversation.Message{{Role: conversation.RoleUser, Content: "Hello"}}, req.History)

	assert.Equal(t, []sent{{allowed, "Hi! How are you?"}}, f.sender.all())
	assert.Equal(t, []conversation.Message{
		{Role: conversation.RoleUser, Content: "Hello"},
		{Role: conversation.RoleAssistant, Content: "Hi! How are you?"},
	}, f.store.GetOrCreateHistory(allowed))
}

func TestDispatch_TrimsBody(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))

	f.router.Dispatch(context.Background(), messageEvent(allowed, false, "  Hello  \n"))

	require.Equal(t, 1, f.completer.calls())
	assert.Equal(t, "Hello", f.completer.requests[0].History[0].Content)
}

func TestDispatch_BlankBodyIgnored(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))

	assert.False(t, f.router.Dispatch(context.Background(), messageEvent(allowed, false, "   ")))
	assert.Zero(t, f.completer.calls())
	assert.Empty(t, f.sender.all())
}

func TestDispatch_ResetCommand(t *testing.T) {
	for _, body := range []string{"/reset", "/RESET", "  /Reset  "} {
		t.Run(body, func(t *testing.T) {
			f := newFixture(t, DefaultConfig(allowed))
			f.store.AppendAndTrim(allowed, conversation.RoleUser, "earlier")
			f.store.AppendAndTrim(allowed, conversation.RoleAssistant, "reply")

			require.True(t, f.router.Dispatch(context.Background(), messageEvent(allowed, false, body)))

			assert.Zero(t, f.completer.calls(), "reset must not call completion")
			assert.Equal(t, []sent{{allowed, DefaultResetReply}}, f.sender.all())
			assert.Equal(t, 0, f.store.Stats().ActiveConversations)
			assert.Empty(t, f.store.GetOrCreateHistory(allowed))
		})
	}
}

func TestDispatch_ResetNeedsExactMatch(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))

	f.router.Dispatch(context.Background(), messageEvent(allowed, false, "/reset please"))

	assert.Equal(t, 1, f.completer.calls())
}

func TestDispatch_RejectedEventHasNoSideEffects(t *testing.T) {
	f := newFixture(t, DefaultConfig("X"))

	assert.False(t, f.router.Dispatch(context.Background(), messageEvent("Y", false, "Hello")))

	assert.Zero(t, f.completer.calls())
	assert.Empty(t, f.sender.all())
	assert.Equal(t, 0, f.store.Stats().ActiveConversations)
}

func TestHandleReset_SendFailureIsLogged(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))
	f.sender.err = errors.New("gateway down")
	f.store.AppendAndTrim(allowed, conversation.RoleUser, "hi")

	f.router.HandleReset(context.Background(), allowed)

	assert.Empty(t, f.store.GetOrCreateHistory(allowed))
}

func TestHandleMessage_CompletionFailureSendsNothing(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))
	f.completer.err = &completion.Error{StatusCode: 500, Message: "boom"}

	f.router.HandleMessage(context.Background(), allowed, "Hello")

	assert.Empty(t, f.sender.all())
	assert.Equal(t, []conversation.Message{
		{Role: conversation.RoleUser, Content: "Hello"},
	}, f.store.GetOrCreateHistory(allowed))
}

func TestHandleMessage_SendFailureKeepsReplyByDefault(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))
	f.sender.err = errors.New("send failed")

	f.router.HandleMessage(context.Background(), allowed, "Hello")

	assert.Len(t, f.store.GetOrCreateHistory(allowed), 2)
}

func TestHandleMessage_SendFailureDropsReplyWhenNotRecording(t *testing.T) {
	cfg := DefaultConfig(allowed)
	cfg.RecordUndeliveredReplies = false
	f := newFixture(t, cfg)
	f.sender.err = errors.New("send failed")

	f.router.HandleMessage(context.Background(), allowed, "Hello")

	assert.Equal(t, []conversation.Message{
		{Role: conversation.RoleUser, Content: "Hello"},
	}, f.store.GetOrCreateHistory(allowed))
}

func TestHandleMessage_NotRecordingStillRecordsDelivered(t *testing.T) {
	cfg := DefaultConfig(allowed)
	cfg.RecordUndeliveredReplies = false
	f := newFixture(t, cfg)

	f.router.HandleMessage(context.Background(), allowed, "Hello")

	assert.Len(t, f.store.GetOrCreateHistory(allowed), 2)
}

func TestHandleMessage_FormatsSentTextOnly(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))
	f.router.deps.Formatter = upperFormatter{}

	f.router.HandleMessage(context.Background(), allowed, "Hello")

	assert.Equal(t, "HI! HOW ARE YOU?", f.sender.all()[0].text)
	history := f.store.GetOrCreateHistory(allowed)
	assert.Equal(t, "Hi! How are you?", history[1].Content)
}

func TestHandleMessage_BlankFormatSendsRawReply(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))
	f.completer.reply = "***"
	f.router.deps.Formatter = blankFormatter{}

	f.router.HandleMessage(context.Background(), allowed, "Hello")

	sent := f.sender.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "***", sent[0].text)
	assert.Equal(t, "***", f.store.GetOrCreateHistory(allowed)[1].Content)
}

func TestHandleMessage_HistoryStaysBounded(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))
	f.store = conversation.NewStore(4)
	f.router.deps.Store = f.store

	for i := 0; i < 5; i++ {
		f.router.HandleMessage(context.Background(), allowed, fmt.Sprintf("msg %d", i))
	}

	history := f.store.GetOrCreateHistory(allowed)
	require.Len(t, history, 4)
	assert.Equal(t, "msg 3", history[0].Content)
	assert.Equal(t, conversation.RoleAssistant, history[3].Role)
}

func TestDispatch_SerializesSameChat(t *testing.T) {
	f := newFixture(t, DefaultConfig(allowed))
	f.completer.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.router.Dispatch(context.Background(), messageEvent(allowed, false, fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.completer.maxInFlight.Load())
	history := f.store.GetOrCreateHistory(allowed)
	require.Len(t, history, 10)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, conversation.RoleUser, history[i].Role)
		assert.Equal(t, conversation.RoleAssistant, history[i+1].Role)
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	r := New(Config{AllowedChatID: allowed}, Deps{}, nil)

	assert.Equal(t, DefaultGroupSuffix, r.cfg.GroupSuffix)
	assert.Equal(t, DefaultResetCommand, r.cfg.ResetCommand)
	assert.Equal(t, DefaultResetReply, r.cfg.ResetReply)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll...", truncate("héllo world", 4))
}
