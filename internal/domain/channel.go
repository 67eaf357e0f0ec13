package domain

import (
	"context"
	"time"
)

// Directory is the read side of the event source: member profiles and channel
// history. Both lookups may need a network round trip.
type Directory interface {
	// Member returns the guild member record for userID.
	Member(ctx context.Context, guildID, userID string) (*Member, error)

	// History returns up to limit messages posted in channelID before beforeID.
	// Order is unspecified.
	History(ctx context.Context, channelID, beforeID string, limit int) ([]HistoryMessage, error)
}

// Member is a guild-scoped profile of a user.
type Member struct {
	Nick       string
	GlobalName string
	Username   string
	Roles      []Role
}

// HistoryMessage is a raw message returned by Directory.History.
type HistoryMessage struct {
	ID          string
	AuthorID    string
	AuthorName  string
	AuthorIsBot bool
	Content     string
	CreatedAt   time.Time
	IsReply     bool
}
