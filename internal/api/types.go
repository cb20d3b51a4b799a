package api

import "github.com/rickgao/charchat/internal/model"

// DefaultEdgeRollout is used when the web host answers successfully but
// sets no edge_rollout cookie.
const DefaultEdgeRollout = "60"

// edgeRolloutCookie routes WebSocket connections to a backend cohort.
const edgeRolloutCookie = "edge_rollout"

// ProfileResponse from GET /chat/user/
type ProfileResponse struct {
	User struct {
		User struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
		Name string `json:"name"`
		Bio  string `json:"bio"`
	} `json:"user"`
}

// Profile flattens the nested account payload.
func (r ProfileResponse) Profile() model.Profile {
	return model.Profile{
		UserID:   r.User.User.ID,
		Username: r.User.User.Username,
		Name:     r.User.Name,
		Bio:      r.User.Bio,
	}
}

// CharacterRequest for POST /character/v1/get_character_info
type CharacterRequest struct {
	ExternalID string `json:"external_id"`
	Lang       string `json:"lang"`
}

// CharacterResponse from POST /character/v1/get_character_info
type CharacterResponse struct {
	Character model.Character `json:"character"`
}

// RecentChatsResponse from GET /chats/recent/{character_id}
type RecentChatsResponse struct {
	Chats []model.Chat `json:"chats"`
}

// TurnsResponse from GET /turns/{chat_id}/
type TurnsResponse struct {
	Turns []model.Turn `json:"turns"`
	Meta  struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}
