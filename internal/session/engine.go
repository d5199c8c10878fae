// Package session holds the active conversation and drives submit, edit and
// retry against a completion client, writing results through the
// conversation store.
//
// At most one operation that mutates conversation state runs at a time. An
// operation arriving while another is in flight is rejected with ErrorBusy,
// never queued. Completion and persistence failures are recorded or logged,
// never returned: a failed completion becomes a retryable error turn.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aviara-chat/internal/completion"
	"aviara-chat/internal/domain"
	"aviara-chat/internal/export"
)

// ApologyText is the fixed user-facing text of a failed assistant turn.
const ApologyText = "Sorry, something went wrong. Please try again."

// ChatStore is the conversation persistence the engine writes through.
type ChatStore interface {
	List(ctx context.Context) []domain.Chat
	Get(ctx context.Context, id string) (domain.Chat, bool)
	Create(ctx context.Context, firstTurn domain.Message) (domain.Chat, error)
	Save(ctx context.Context, chat domain.Chat) error
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
	ActiveID(ctx context.Context) (string, bool)
	SetActiveID(ctx context.Context, id string) error
}

type Engine struct {
	chats  ChatStore
	llm    completion.Client
	logger *slog.Logger
	now    func() time.Time

	pending atomic.Bool

	mu     sync.RWMutex
	active *domain.Chat // nil until the first submit materializes a conversation
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(chats ChatStore, llm completion.Client, opts ...Option) (*Engine, error) {
	if chats == nil {
		return nil, errors.New("session: chat store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("session: completion client must not be nil")
	}
	e := &Engine{
		chats:  chats,
		llm:    llm,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Load restores the conversation referenced by the stored Active Pointer. A
// pointer to a conversation that does not exist leaves the engine
// unmaterialized.
func (e *Engine) Load(ctx context.Context) error {
	if !e.acquire() {
		return newError(ErrorBusy, "request_in_flight", nil)
	}
	defer e.release()

	var active *domain.Chat
	if id, ok := e.chats.ActiveID(ctx); ok {
		if chat, found := e.chats.Get(ctx, id); found {
			active = &chat
		} else {
			e.logger.Debug("session: active chat id has no stored conversation", "chat_id", id)
		}
	}
	e.mu.Lock()
	e.active = active
	e.mu.Unlock()
	return nil
}

// Active returns a copy of the active conversation.
func (e *Engine) Active() (domain.Chat, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == nil {
		return domain.Chat{}, false
	}
	return e.active.Clone(), true
}

// Pending reports whether a completion is in flight.
func (e *Engine) Pending() bool {
	return e.pending.Load()
}

// Chats lists stored conversations, newest first.
func (e *Engine) Chats(ctx context.Context) []domain.Chat {
	return e.chats.List(ctx)
}

// Submit appends a user turn for prompt and completes it. The first submit of
// a fresh session materializes the conversation and sets the Active Pointer.
func (e *Engine) Submit(ctx context.Context, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return newError(ErrorBlankPrompt, "empty_prompt", nil)
	}
	if !e.acquire() {
		return newError(ErrorBusy, "request_in_flight", nil)
	}
	defer e.release()

	turn := e.message(domain.RoleUser, prompt, false)

	e.mu.Lock()
	materialized := e.active != nil
	var history []domain.Message
	if materialized {
		e.active.Messages = append(domain.CloneMessages(e.active.Messages), turn)
		history = domain.CloneMessages(e.active.Messages)
	}
	e.mu.Unlock()

	if !materialized {
		history = []domain.Message{turn}
		e.materialize(ctx, turn)
	}

	e.complete(ctx, prompt, history)
	return nil
}

// Resubmit discards every turn after the edit point and completes editedText
// against truncated. The truncated history is persisted before the
// completion runs, so the abandoned branch cannot reappear after a crash.
func (e *Engine) Resubmit(ctx context.Context, editedText string, truncated []domain.Message) error {
	if strings.TrimSpace(editedText) == "" {
		return newError(ErrorBlankPrompt, "empty_prompt", nil)
	}
	if !e.acquire() {
		return newError(ErrorBusy, "request_in_flight", nil)
	}
	defer e.release()

	if !e.hasActive() {
		return newError(ErrorNoActiveChat, "resubmit_without_chat", nil)
	}
	if len(truncated) == 0 || truncated[0].Role != domain.RoleUser {
		return newError(ErrorInvalidHistory, "history_must_start_with_user_turn", nil)
	}

	e.branch(ctx, editedText, truncated, true)
	return nil
}

// Edit replaces the user turn at index with text and resubmits. Turns after
// index are discarded.
func (e *Engine) Edit(ctx context.Context, index int, text string) error {
	e.mu.RLock()
	if e.active == nil {
		e.mu.RUnlock()
		return newError(ErrorNoActiveChat, "edit_without_chat", nil)
	}
	msgs := domain.CloneMessages(e.active.Messages)
	e.mu.RUnlock()

	if index < 0 || index >= len(msgs) || msgs[index].Role != domain.RoleUser {
		return newError(ErrorNotEditable, "not_a_user_turn", nil)
	}
	truncated := append(msgs[:index:index], e.message(domain.RoleUser, text, false))
	return e.Resubmit(ctx, text, truncated)
}

// Retry regenerates the failed assistant turn at index from the most recent
// user turn before it. The failed turn and everything after it is discarded.
func (e *Engine) Retry(ctx context.Context, index int) error {
	if !e.acquire() {
		return newError(ErrorBusy, "request_in_flight", nil)
	}
	defer e.release()

	e.mu.RLock()
	if e.active == nil {
		e.mu.RUnlock()
		return newError(ErrorNoActiveChat, "retry_without_chat", nil)
	}
	chatID := e.active.ID
	msgs := domain.CloneMessages(e.active.Messages)
	e.mu.RUnlock()

	if index < 0 || index >= len(msgs) || !msgs[index].Retryable() {
		return newError(ErrorNotRetryable, "not_a_failed_assistant_turn", nil)
	}
	history := msgs[:index]
	last, ok := domain.LastUserMessage(history)
	if !ok {
		e.logger.Error("session: no user turn precedes failed turn", "chat_id", chatID, "index", index)
		return newError(ErrorCorruptHistory, "no_preceding_user_turn", nil)
	}

	e.branch(ctx, last.Text, history, false)
	return nil
}

// NewChat returns the engine to a fresh, unmaterialized session. Stored
// conversations are untouched.
func (e *Engine) NewChat(ctx context.Context) error {
	if !e.acquire() {
		return newError(ErrorBusy, "request_in_flight", nil)
	}
	defer e.release()

	e.resetActive(ctx)
	return nil
}

// SelectChat makes the stored conversation id active.
func (e *Engine) SelectChat(ctx context.Context, id string) error {
	if !e.acquire() {
		return newError(ErrorBusy, "request_in_flight", nil)
	}
	defer e.release()

	chat, ok := e.chats.Get(ctx, id)
	if !ok {
		return newError(ErrorNotFound, "chat_not_found", nil)
	}
	e.mu.Lock()
	e.active = &chat
	e.mu.Unlock()
	if err := e.chats.SetActiveID(ctx, id); err != nil {
		e.logger.Error("session: failed to persist active chat id", "chat_id", id, "err", err)
	}
	return nil
}

// DeleteChat removes a stored conversation. Deleting the active conversation
// also starts a new session.
func (e *Engine) DeleteChat(ctx context.Context, id string) error {
	if !e.acquire() {
		return newError(ErrorBusy, "request_in_flight", nil)
	}
	defer e.release()

	if err := e.chats.Delete(ctx, id); err != nil {
		e.logger.Error("session: failed to delete conversation", "chat_id", id, "err", err)
	}
	if e.activeID() == id {
		e.resetActive(ctx)
	}
	return nil
}

// RenameChat sets a conversation's title. Renaming an unknown id is a no-op.
func (e *Engine) RenameChat(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return newError(ErrorBlankTitle, "empty_title", nil)
	}
	if !e.acquire() {
		return newError(ErrorBusy, "request_in_flight", nil)
	}
	defer e.release()

	if err := e.chats.Rename(ctx, id, title); err != nil {
		e.logger.Error("session: failed to rename conversation", "chat_id", id, "err", err)
	}
	e.mu.Lock()
	if e.active != nil && e.active.ID == id {
		e.active.Title = title
	}
	e.mu.Unlock()
	return nil
}

// ExportChat renders the full conversation record as pretty-printed JSON.
func (e *Engine) ExportChat(ctx context.Context, id string) (export.File, error) {
	return e.ExportChatAs(ctx, id, "json")
}

// ExportChatAs renders the conversation in format (json, yaml or md). It has
// no persistence side effects.
func (e *Engine) ExportChatAs(ctx context.Context, id, format string) (export.File, error) {
	chat, ok := e.chats.Get(ctx, id)
	if !ok {
		return export.File{}, newError(ErrorNotFound, "chat_not_found", nil)
	}
	f, err := export.Render(chat, format)
	if err != nil {
		return export.File{}, newError(ErrorExport, "render_failed", err)
	}
	return f, nil
}

// materialize creates the stored conversation for the first turn of a fresh
// session and points the Active Pointer at it. It runs at most once per
// session because the active chat is non-nil afterwards.
func (e *Engine) materialize(ctx context.Context, first domain.Message) {
	chat, err := e.chats.Create(ctx, first)
	if err != nil {
		e.logger.Error("session: failed to persist new conversation", "chat_id", chat.ID, "err", err)
	}
	e.mu.Lock()
	e.active = &chat
	e.mu.Unlock()
	if err := e.chats.SetActiveID(ctx, chat.ID); err != nil {
		e.logger.Error("session: failed to persist active chat id", "chat_id", chat.ID, "err", err)
	}
}

// branch discards the active history beyond history, persists the truncated
// state and then completes prompt. The discarded turns are unrecoverable.
func (e *Engine) branch(ctx context.Context, prompt string, history []domain.Message, retitle bool) {
	history = domain.CloneMessages(history)

	e.mu.Lock()
	e.active.Messages = history
	if retitle {
		if first, ok := domain.FirstUserMessage(history); ok {
			e.active.Title = domain.DeriveTitle(first.Text)
		}
	}
	snapshot := e.active.Clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	e.complete(ctx, prompt, history)
}

// complete runs the completion call and commits history plus exactly one
// assistant turn: the answer, or an apology marked as an error.
func (e *Engine) complete(ctx context.Context, prompt string, history []domain.Message) {
	text, err := e.llm.Complete(ctx, prompt, domain.CloneMessages(history))

	var reply domain.Message
	if err != nil {
		f := completion.Classify(err)
		e.logger.Warn("session: completion failed",
			"kind", f.Kind,
			"status", f.Status,
			"body", f.Body,
			"err", err,
		)
		reply = e.message(domain.RoleAssistant, ApologyText, true)
	} else {
		reply = e.message(domain.RoleAssistant, text, false)
	}

	final := append(domain.CloneMessages(history), reply)
	e.mu.Lock()
	e.active.Messages = final
	snapshot := e.active.Clone()
	e.mu.Unlock()

	// The turn is already final; persist it even if the caller gave up.
	e.persist(context.WithoutCancel(ctx), snapshot)
}

func (e *Engine) persist(ctx context.Context, chat domain.Chat) {
	if err := e.chats.Save(ctx, chat); err != nil {
		e.logger.Error("session: failed to persist conversation", "chat_id", chat.ID, "err", err)
	}
}

func (e *Engine) resetActive(ctx context.Context) {
	e.mu.Lock()
	e.active = nil
	e.mu.Unlock()
	if err := e.chats.SetActiveID(ctx, ""); err != nil {
		e.logger.Error("session: failed to clear active chat id", "err", err)
	}
}

func (e *Engine) hasActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active != nil
}

func (e *Engine) activeID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == nil {
		return ""
	}
	return e.active.ID
}

func (e *Engine) message(role domain.Role, text string, isError bool) domain.Message {
	return domain.Message{
		Role:      role,
		Text:      text,
		Timestamp: e.now().UnixMilli(),
		IsError:   isError,
	}
}

func (e *Engine) acquire() bool {
	return e.pending.CompareAndSwap(false, true)
}

func (e *Engine) release() {
	e.pending.Store(false)
}
