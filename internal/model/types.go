package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Accounts and Characters
// -----------------------------------------------------------------------------

// Profile is the authenticated user's own profile.
type Profile struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Bio      string `json:"bio"`
}

// AuthorID returns the user ID in the string form used inside turns.
func (p Profile) AuthorID() string {
	return strconv.FormatInt(p.UserID, 10)
}

// CharacterVisibility controls who can find and chat with a character.
type CharacterVisibility string

const (
	VisibilityPrivate  CharacterVisibility = "PRIVATE"
	VisibilityUnlisted CharacterVisibility = "UNLISTED"
	VisibilityPublic   CharacterVisibility = "PUBLIC"
)

// Character is a chat persona.
type Character struct {
	ExternalID   string              `json:"external_id"`
	Name         string              `json:"name"`
	Title        string              `json:"title"`
	Greeting     string              `json:"greeting"`
	Description  string              `json:"description"`
	Visibility   CharacterVisibility `json:"visibility"`
	Creator      string              `json:"user__username"`
	Interactions int64               `json:"participant__num_interactions"`
}

// -----------------------------------------------------------------------------
// Chats and Turns
// -----------------------------------------------------------------------------

// Chat is a direct-message thread between the user and one character.
type Chat struct {
	ChatID       string    `json:"chat_id"`
	CharacterID  string    `json:"character_id"`
	CreatorID    string    `json:"creator_id"`
	Type         string    `json:"type"`
	State        string    `json:"state"`
	CreateTime   time.Time `json:"create_time"`
	PreviewTurns []Turn    `json:"preview_turns"` // Present on recent-chat listings
}

// TurnKey identifies a turn within a chat.
type TurnKey struct {
	ChatID string `json:"chat_id"`
	TurnID string `json:"turn_id"`
}

// Author is who wrote a turn.
type Author struct {
	AuthorID string `json:"author_id"`
	Name     string `json:"name"`
	IsHuman  bool   `json:"is_human"`
}

// Candidate is one generated (or typed) version of a turn.
type Candidate struct {
	CandidateID string    `json:"candidate_id"`
	RawContent  string    `json:"raw_content"`
	IsFinal     bool      `json:"is_final"`
	CreateTime  time.Time `json:"create_time"`
}

// Turn is a single message in a chat.
type Turn struct {
	Key                TurnKey     `json:"turn_key"`
	Author             Author      `json:"author"`
	Candidates         []Candidate `json:"candidates"`
	PrimaryCandidateID string      `json:"primary_candidate_id"`
	CreateTime         time.Time   `json:"create_time"`
	LastUpdateTime     time.Time   `json:"last_update_time"`
}

// Primary returns the candidate the service currently shows for the turn.
func (t Turn) Primary() (Candidate, bool) {
	for _, c := range t.Candidates {
		if c.CandidateID == t.PrimaryCandidateID {
			return c, true
		}
	}
	if len(t.Candidates) > 0 {
		return t.Candidates[0], true
	}
	return Candidate{}, false
}

// Content returns the primary candidate's text.
func (t Turn) Content() string {
	c, _ := t.Primary()
	return c.RawContent
}

// IsFinal reports whether generation of the primary candidate has finished.
func (t Turn) IsFinal() bool {
	c, ok := t.Primary()
	return ok && c.IsFinal
}

// NewHumanTurn builds an outgoing turn authored by the user.
func NewHumanTurn(chatID string, author Profile, text string) Turn {
	turnID := uuid.NewString()
	return Turn{
		Key: TurnKey{ChatID: chatID, TurnID: turnID},
		Author: Author{
			AuthorID: author.AuthorID(),
			Name:     author.Username,
			IsHuman:  true,
		},
		Candidates: []Candidate{{
			CandidateID: turnID,
			RawContent:  text,
		}},
		PrimaryCandidateID: turnID,
	}
}
