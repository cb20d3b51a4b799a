package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rickgao/charchat/internal/model"
)

// ErrNoChats is returned when a character has no DM chat with the user.
var ErrNoChats = errors.New("no chats with character")

// FetchCharacter fetches a character by external ID.
func (c *Client) FetchCharacter(ctx context.Context, characterID string) (model.Character, error) {
	var resp CharacterResponse
	req := CharacterRequest{ExternalID: characterID, Lang: "en"}
	if err := c.do(ctx, http.MethodPost, c.endpoints.Neo+"/character/v1/get_character_info", req, &resp); err != nil {
		return model.Character{}, fmt.Errorf("fetch character %s: %w", characterID, err)
	}
	return resp.Character, nil
}

// FetchRecentChats lists the user's DM chats with a character, newest first.
func (c *Client) FetchRecentChats(ctx context.Context, characterID string) ([]model.Chat, error) {
	var resp RecentChatsResponse
	if err := c.do(ctx, http.MethodGet, c.endpoints.Neo+"/chats/recent/"+url.PathEscape(characterID), nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch recent chats %s: %w", characterID, err)
	}
	return resp.Chats, nil
}

// FetchLatestChat returns the most recent DM chat with a character.
func (c *Client) FetchLatestChat(ctx context.Context, characterID string) (model.Chat, error) {
	chats, err := c.FetchRecentChats(ctx, characterID)
	if err != nil {
		return model.Chat{}, err
	}
	if len(chats) == 0 {
		return model.Chat{}, fmt.Errorf("%w %s", ErrNoChats, characterID)
	}
	return chats[0], nil
}

// FetchTurns fetches one page of turns for a chat, newest first. An empty
// nextToken fetches the first page; the returned token is empty on the
// last page.
func (c *Client) FetchTurns(ctx context.Context, chatID, nextToken string) ([]model.Turn, string, error) {
	u := c.endpoints.Neo + "/turns/" + url.PathEscape(chatID) + "/"
	if nextToken != "" {
		u += "?" + url.Values{"next_token": {nextToken}}.Encode()
	}

	var resp TurnsResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, "", fmt.Errorf("fetch turns %s: %w", chatID, err)
	}
	return resp.Turns, resp.Meta.NextToken, nil
}
