package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/rickgao/charchat/internal/connection"
	"github.com/rickgao/charchat/internal/conversation"
	"github.com/rickgao/charchat/internal/model"
)

// Commands on the DM channel.
const (
	CommandCreateAndGenerateTurn = "create_and_generate_turn"
	ReturnAddTurn                = "add_turn"
	OriginID                     = "web-next"
)

// ErrEmptyMessage is returned when SendMessage is given no text.
var ErrEmptyMessage = errors.New("message is empty")

// Session is what a conversation needs from the owning session.
type Session interface {
	SendDMCommand(ctx context.Context, cmd connection.Command, conv conversation.Conversation) (connection.Response, error)
	FetchTurns(ctx context.Context, chatID, nextToken string) ([]model.Turn, string, error)
	Profile() model.Profile
}

// Recorder receives every turn a conversation sees.
type Recorder interface {
	Record(turn model.Turn)
}

// Option configures a DMConversation.
type Option func(*DMConversation)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DMConversation) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecorder sets where turns are recorded. A nil recorder disables it.
func WithRecorder(r Recorder) Option {
	return func(d *DMConversation) {
		d.recorder = r
	}
}

// DMConversation is a direct-message chat with one character.
type DMConversation struct {
	session  Session
	chat     model.Chat
	logger   *slog.Logger
	recorder Recorder

	mu       sync.RWMutex
	messages []model.Turn // oldest first
	index    map[string]int
}

// NewDMConversation wraps an existing chat.
func NewDMConversation(session Session, c model.Chat, opts ...Option) *DMConversation {
	d := &DMConversation{
		session: session,
		chat:    c,
		logger:  slog.Default(),
		index:   make(map[string]int),
	}

	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("chat_id", c.ChatID)

	return d
}

// ChatID returns the chat's ID.
func (d *DMConversation) ChatID() string {
	return d.chat.ChatID
}

// CharacterID returns the character on the other side of the chat.
func (d *DMConversation) CharacterID() string {
	return d.chat.CharacterID
}

// Chat returns the chat metadata.
func (d *DMConversation) Chat() model.Chat {
	return d.chat
}

// RefreshMessages replaces the cached history with the latest page of
// turns from the service.
func (d *DMConversation) RefreshMessages(ctx context.Context) error {
	turns, _, err := d.session.FetchTurns(ctx, d.ChatID(), "")
	if err != nil {
		return fmt.Errorf("refresh messages: %w", err)
	}

	// The service returns newest first.
	slices.Reverse(turns)

	d.mu.Lock()
	d.messages = d.messages[:0]
	d.index = make(map[string]int, len(turns))
	for _, t := range turns {
		d.upsertLocked(t)
	}
	d.mu.Unlock()

	for _, t := range turns {
		d.record(t)
	}

	d.logger.Debug("messages refreshed", "count", len(turns))
	return nil
}

// Messages returns a copy of the cached history, oldest first.
func (d *DMConversation) Messages() []model.Turn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.messages)
}

// LastMessage returns the newest cached turn.
func (d *DMConversation) LastMessage() (model.Turn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.messages) == 0 {
		return model.Turn{}, false
	}
	return d.messages[len(d.messages)-1], true
}

// SendMessage sends text and waits for the character's final reply.
// Partial turns, including the echo of the user's own turn, are passed to
// onPartial as they arrive when it is non-nil.
func (d *DMConversation) SendMessage(ctx context.Context, text string, onPartial func(model.Turn)) (model.Turn, error) {
	if text == "" {
		return model.Turn{}, ErrEmptyMessage
	}

	profile := d.session.Profile()
	human := model.NewHumanTurn(d.ChatID(), profile, text)

	cmd := connection.Command{
		Command:  CommandCreateAndGenerateTurn,
		OriginID: OriginID,
		Payload: map[string]any{
			"character_id":      d.CharacterID(),
			"num_candidates":    1,
			"tts_enabled":       false,
			"selected_language": "",
			"user_name":         profile.Username,
			"turn":              human,
		},
		ExpectedReturn: ReturnAddTurn,
		Streaming:      true,
		WaitForFinal:   true,
		Sink: func(resp connection.Response) {
			turn, err := decodeTurn(resp)
			if err != nil {
				d.logger.Debug("skipping frame without turn", "command", resp.Command, "error", err)
				return
			}
			d.upsert(turn)
			d.record(turn)
			if onPartial != nil {
				onPartial(turn)
			}
		},
	}

	resp, err := d.session.SendDMCommand(ctx, cmd, d)
	if err != nil {
		return model.Turn{}, fmt.Errorf("send message: %w", err)
	}

	reply, err := decodeTurn(resp)
	if err != nil {
		return model.Turn{}, fmt.Errorf("send message: %w", err)
	}

	d.upsert(reply)
	d.record(reply)
	return reply, nil
}

// upsert adds or updates a turn by ID.
func (d *DMConversation) upsert(t model.Turn) {
	d.mu.Lock()
	d.upsertLocked(t)
	d.mu.Unlock()
}

func (d *DMConversation) upsertLocked(t model.Turn) {
	if i, ok := d.index[t.Key.TurnID]; ok {
		d.messages[i] = t
		return
	}
	d.index[t.Key.TurnID] = len(d.messages)
	d.messages = append(d.messages, t)
}

func (d *DMConversation) record(t model.Turn) {
	if d.recorder != nil && t.IsFinal() {
		d.recorder.Record(t)
	}
}

func decodeTurn(resp connection.Response) (model.Turn, error) {
	if len(resp.Turn) == 0 {
		return model.Turn{}, errors.New("frame carries no turn")
	}
	var t model.Turn
	if err := json.Unmarshal(resp.Turn, &t); err != nil {
		return model.Turn{}, fmt.Errorf("decode turn: %w", err)
	}
	return t, nil
}
