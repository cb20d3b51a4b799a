package session

import (
	"context"

	"github.com/rickgao/charchat/internal/chat"
	"github.com/rickgao/charchat/internal/connection"
	"github.com/rickgao/charchat/internal/conversation"
	"github.com/rickgao/charchat/internal/model"
)

// channel returns the live correlator for kind.
func (s *Session) channel(kind connection.Kind) (*connection.Correlator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.authenticated {
		return nil, ErrNotAuthenticated
	}

	var corr *connection.Correlator
	switch kind {
	case connection.KindDM:
		corr = s.dm
	case connection.KindGroupChat:
		corr = s.group
	}
	if corr == nil {
		return nil, connection.ErrNotConnected
	}
	return corr, nil
}

// SendDMCommand sends cmd on the DM channel. A non-nil conv is marked
// active first so it is refreshed after a reconnect.
func (s *Session) SendDMCommand(ctx context.Context, cmd connection.Command, conv conversation.Conversation) (connection.Response, error) {
	corr, err := s.channel(connection.KindDM)
	if err != nil {
		return connection.Response{}, err
	}

	s.registry.Mark(conv)
	return corr.Send(ctx, cmd)
}

// SendGroupChatCommand sends cmd on the group chat channel. Group commands
// always wait for the final reply.
func (s *Session) SendGroupChatCommand(ctx context.Context, cmd connection.Command, conv conversation.Conversation) (connection.Response, error) {
	corr, err := s.channel(connection.KindGroupChat)
	if err != nil {
		return connection.Response{}, err
	}

	cmd.WaitForFinal = true
	s.registry.Mark(conv)
	return corr.Send(ctx, cmd)
}

// MarkChatAsActive registers conv for refresh after reconnects.
func (s *Session) MarkChatAsActive(conv conversation.Conversation) {
	s.registry.Mark(conv)
}

// FetchCharacter fetches a character by external ID.
func (s *Session) FetchCharacter(ctx context.Context, characterID string) (model.Character, error) {
	if err := s.requireAuth(); err != nil {
		return model.Character{}, err
	}
	return s.api.FetchCharacter(ctx, characterID)
}

// FetchTurns fetches one page of a chat's turns, newest first.
func (s *Session) FetchTurns(ctx context.Context, chatID, nextToken string) ([]model.Turn, string, error) {
	if err := s.requireAuth(); err != nil {
		return nil, "", err
	}
	return s.api.FetchTurns(ctx, chatID, nextToken)
}

// FetchLatestDMConversationWith opens the most recent DM chat with a
// character and loads its messages.
func (s *Session) FetchLatestDMConversationWith(ctx context.Context, characterID string) (*chat.DMConversation, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}

	c, err := s.api.FetchLatestChat(ctx, characterID)
	if err != nil {
		return nil, err
	}

	conv := chat.NewDMConversation(s, c,
		chat.WithLogger(s.logger),
		chat.WithRecorder(s.recorder),
	)
	if err := conv.RefreshMessages(ctx); err != nil {
		return nil, err
	}
	return conv, nil
}
