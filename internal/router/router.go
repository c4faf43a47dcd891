// ABOUTME: Message router filtering inbound events and running reset or reply flows
// ABOUTME: Serializes work per chat and logs every failure instead of surfacing it

package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/fold-whatsapp/internal/completion"
	"github.com/2389/fold-whatsapp/internal/conversation"
)

// Defaults for Config.
const (
	DefaultGroupSuffix  = "@g.us"
	DefaultResetCommand = "/reset"
	DefaultResetReply   = "Conversation reset. How can I help you?"
)

// Config controls which events are handled and how.
type Config struct {
	// AllowedChatID is the single chat the assistant answers.
	AllowedChatID string
	// PrivateOnly rejects chats whose id ends with GroupSuffix.
	PrivateOnly bool
	GroupSuffix string

	ResetCommand string
	ResetReply   string

	// RecordUndeliveredReplies keeps a generated reply in history even
	// when sending it fails. When false the reply is recorded only after
	// a successful send.
	RecordUndeliveredReplies bool
}

// DefaultConfig returns a Config for allowedChatID with the stock
// command, reply, and group suffix, private-only mode on.
func DefaultConfig(allowedChatID string) Config {
	return Config{
		AllowedChatID:            allowedChatID,
		PrivateOnly:              true,
		GroupSuffix:              DefaultGroupSuffix,
		ResetCommand:             DefaultResetCommand,
		ResetReply:               DefaultResetReply,
		RecordUndeliveredReplies: true,
	}
}

// Sender delivers a text message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Store is the conversation history the router reads and mutates.
type Store interface {
	GetOrCreateHistory(chatID string) []conversation.Message
	AppendAndTrim(chatID string, role conversation.Role, content string)
	Clear(chatID string)
	Lock(chatID string) (unlock func())
}

// PromptSource yields the current system prompt.
type PromptSource interface {
	Get() string
}

// Formatter rewrites a reply before it is sent.
type Formatter interface {
	Format(text string) string
}

// Deps are the router's collaborators. Formatter is optional.
type Deps struct {
	Sender    Sender
	Store     Store
	Completer completion.Completer
	Prompt    PromptSource
	Formatter Formatter
}

// Router filters and dispatches inbound events.
type Router struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// New creates a Router. Empty GroupSuffix, ResetCommand and ResetReply
// take their defaults.
func New(cfg Config, deps Deps, logger *slog.Logger) *Router {
	if cfg.GroupSuffix == "" {
		cfg.GroupSuffix = DefaultGroupSuffix
	}
	if cfg.ResetCommand == "" {
		cfg.ResetCommand = DefaultResetCommand
	}
	if cfg.ResetReply == "" {
		cfg.ResetReply = DefaultResetReply
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "router"),
	}
}

// ShouldHandle reports whether evt is a text message from someone else in
// the allow-listed chat (and not a group when private-only is on).
func (r *Router) ShouldHandle(evt Event) bool {
	if evt.Type != EventMessage {
		return false
	}
	p := evt.Payload
	if p.FromMe {
		return false
	}
	if p.ChatID == "" || p.ChatID != r.cfg.AllowedChatID {
		return false
	}
	if r.cfg.PrivateOnly && strings.HasSuffix(p.ChatID, r.cfg.GroupSuffix) {
		return false
	}
	_, ok := p.Text()
	return ok
}

// Dispatch handles evt if ShouldHandle admits it, holding the chat's lock
// for the whole exchange. It reports whether the event was acted on.
func (r *Router) Dispatch(ctx context.Context, evt Event) bool {
	if !r.ShouldHandle(evt) {
		r.logger.Debug("ignoring event",
			"event", evt.Type,
			"chat", evt.Payload.ChatID,
			"from_me", evt.Payload.FromMe,
		)
		return false
	}

	chatID := evt.Payload.ChatID
	body, _ := evt.Payload.Text()
	text := strings.TrimSpace(body)
	if text == "" {
		r.logger.Debug("ignoring blank message", "chat", chatID)
		return false
	}

	unlock := r.deps.Store.Lock(chatID)
	defer unlock()

	r.logger.Info("received message", "chat", chatID, "content", truncate(text, 50))

	if strings.EqualFold(text, r.cfg.ResetCommand) {
		r.HandleReset(ctx, chatID)
	} else {
		r.HandleMessage(ctx, chatID, text)
	}
	return true
}

// HandleReset clears the chat's history and confirms it. Callers other
// than Dispatch must hold the chat lock.
func (r *Router) HandleReset(ctx context.Context, chatID string) {
	r.deps.Store.Clear(chatID)
	r.logger.Info("conversation reset", "chat", chatID)

	if err := r.deps.Sender.SendMessage(ctx, chatID, r.cfg.ResetReply); err != nil {
		r.logger.Error("failed to send reset confirmation", "chat", chatID, "error", err)
	}
}

// HandleMessage records the user's turn, asks for a completion, and sends
// the reply. A failed completion sends nothing. Callers other than
// Dispatch must hold the chat lock.
func (r *Router) HandleMessage(ctx context.Context, chatID, text string) {
	r.deps.Store.AppendAndTrim(chatID, conversation.RoleUser, text)

	req := completion.Request{
		SystemPrompt: r.deps.Prompt.Get(),
		History:      r.deps.Store.GetOrCreateHistory(chatID),
	}
	reply, err := r.deps.Completer.Complete(ctx, req)
	if err != nil {
		r.logger.Error("completion failed", "chat", chatID, "error", err)
		return
	}

	if r.cfg.RecordUndeliveredReplies {
		r.deps.Store.AppendAndTrim(chatID, conversation.RoleAssistant, reply)
	}

	out := reply
	if r.deps.Formatter != nil {
		if formatted := r.deps.Formatter.Format(reply); strings.TrimSpace(formatted) != "" {
			out = formatted
		}
	}

	r.logger.Info("sending reply", "chat", chatID, "length", len(out))
	if err := r.deps.Sender.SendMessage(ctx, chatID, out); err != nil {
		r.logger.Error("failed to send reply", "chat", chatID, "error", err)
		return
	}

	if !r.cfg.RecordUndeliveredReplies {
		r.deps.Store.AppendAndTrim(chatID, conversation.RoleAssistant, reply)
	}
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
