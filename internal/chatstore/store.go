package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"aviara-chat/internal/domain"
	"aviara-chat/internal/repository"
)

// Durable store keys.
const (
	ChatsKey      = "aviara-chats"
	ActiveChatKey = "aviara-active-chat-id"
)

// Store is CRUD over the conversation collection. Every call reads and
// rewrites the whole collection, so it assumes a single writer.
type Store struct {
	kv     repository.Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(kv repository.Store, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("chatstore: durable store must not be nil")
	}
	s := &Store{kv: kv, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List returns all conversations, newest first. Unreadable or malformed data
// is logged and reported as an empty collection.
func (s *Store) List(ctx context.Context) []domain.Chat {
	chats, err := s.load(ctx)
	if err != nil {
		s.logger.Error("chatstore: failed to read conversations", "err", err)
		return []domain.Chat{}
	}
	sortNewestFirst(chats)
	return chats
}

// Get returns the conversation with the given id.
func (s *Store) Get(ctx context.Context, id string) (domain.Chat, bool) {
	for _, c := range s.List(ctx) {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Chat{}, false
}

// Create materializes a new conversation holding firstTurn and persists it.
// The returned chat is valid even when err is non-nil; err only reports
// that it could not be written.
func (s *Store) Create(ctx context.Context, firstTurn domain.Message) (domain.Chat, error) {
	chats, loadErr := s.load(ctx)
	now := s.now().UnixMilli()
	chat := domain.Chat{
		ID:        nextID(chats, now),
		Title:     domain.DeriveTitle(firstTurn.Text),
		Messages:  []domain.Message{firstTurn},
		CreatedAt: now,
	}
	if loadErr != nil {
		return chat, fmt.Errorf("chatstore: create: %w", loadErr)
	}
	if err := s.persist(ctx, append(chats, chat)); err != nil {
		return chat, fmt.Errorf("chatstore: create: %w", err)
	}
	return chat, nil
}

// Save replaces the stored record with the same id, or appends chat if none
// exists. The whole record is overwritten.
func (s *Store) Save(ctx context.Context, chat domain.Chat) error {
	chats, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("chatstore: save %q: %w", chat.ID, err)
	}
	chat = chat.Clone()
	if chat.Messages == nil {
		chat.Messages = []domain.Message{}
	}
	replaced := false
	for i := range chats {
		if chats[i].ID == chat.ID {
			chats[i] = chat
			replaced = true
			break
		}
	}
	if !replaced {
		chats = append(chats, chat)
	}
	if err := s.persist(ctx, chats); err != nil {
		return fmt.Errorf("chatstore: save %q: %w", chat.ID, err)
	}
	return nil
}

// Rename sets the title of the conversation with the given id. An unknown id
// is a no-op.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	chats, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("chatstore: rename %q: %w", id, err)
	}
	for i := range chats {
		if chats[i].ID != id {
			continue
		}
		chats[i].Title = title
		if err := s.persist(ctx, chats); err != nil {
			return fmt.Errorf("chatstore: rename %q: %w", id, err)
		}
		return nil
	}
	return nil
}

// Delete removes the conversation with the given id. An unknown id is a
// no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	chats, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("chatstore: delete %q: %w", id, err)
	}
	kept := chats[:0]
	for _, c := range chats {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(chats) {
		return nil
	}
	if err := s.persist(ctx, kept); err != nil {
		return fmt.Errorf("chatstore: delete %q: %w", id, err)
	}
	return nil
}

// ActiveID returns the Active Pointer. Read failures are logged and reported
// as an absent pointer.
func (s *Store) ActiveID(ctx context.Context) (string, bool) {
	id, ok, err := s.kv.Get(ctx, ActiveChatKey)
	if err != nil {
		s.logger.Error("chatstore: failed to read active chat id", "err", err)
		return "", false
	}
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// SetActiveID stores the Active Pointer; an empty id clears it.
func (s *Store) SetActiveID(ctx context.Context, id string) error {
	if id == "" {
		if err := s.kv.Remove(ctx, ActiveChatKey); err != nil {
			return fmt.Errorf("chatstore: clear active chat id: %w", err)
		}
		return nil
	}
	if err := s.kv.Set(ctx, ActiveChatKey, id); err != nil {
		return fmt.Errorf("chatstore: set active chat id: %w", err)
	}
	return nil
}

// load returns the stored collection in stored order. Malformed JSON is
// treated as an empty collection; only a failing durable store is an error.
func (s *Store) load(ctx context.Context) ([]domain.Chat, error) {
	raw, ok, err := s.kv.Get(ctx, ChatsKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []domain.Chat{}, nil
	}
	var chats []domain.Chat
	if err := json.Unmarshal([]byte(raw), &chats); err != nil {
		s.logger.Warn("chatstore: stored conversations are malformed, treating as empty", "err", err)
		return []domain.Chat{}, nil
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	return chats, nil
}

func (s *Store) persist(ctx context.Context, chats []domain.Chat) error {
	buf, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("marshal conversations: %w", err)
	}
	return s.kv.Set(ctx, ChatsKey, string(buf))
}

func sortNewestFirst(chats []domain.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].CreatedAt > chats[j].CreatedAt
	})
}

// nextID derives an id from the creation timestamp, bumping it until it is
// unique within chats.
func nextID(chats []domain.Chat, nowMillis int64) string {
	taken := make(map[string]struct{}, len(chats))
	for _, c := range chats {
		taken[c.ID] = struct{}{}
	}
	for n := nowMillis; ; n++ {
		id := strconv.FormatInt(n, 10)
		if _, ok := taken[id]; !ok {
			return id
		}
	}
}
