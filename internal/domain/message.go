package domain

import "time"

// InboundEvent is a validated snapshot of one platform message. It is built
// once by the gateway channel and consumed once by the relay pipeline.
type InboundEvent struct {
	MessageID string
	ChannelID string
	GuildID   *string // nil for direct messages

	AuthorID            string
	AuthorUsername      string
	AuthorGlobalName    string
	AuthorDiscriminator string
	AuthorIsBot         bool

	Content   string
	CreatedAt time.Time

	ReplyToMessageID *string
	ReplyToAuthorID  *string // nil when the referenced message is unknown

	Attachments []Attachment
	MentionIDs  []string
}

// IsDM reports whether the event arrived outside a guild.
func (e InboundEvent) IsDM() bool { return e.GuildID == nil }

// Mentions reports whether userID is in the platform mention list.
func (e InboundEvent) Mentions(userID string) bool {
	for _, id := range e.MentionIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// SelfIdentity is the relay's own account, discovered once after the
// gateway handshake and read-only afterwards.
type SelfIdentity struct {
	ID       string
	Username string
}

// Identity describes the author of an event. DisplayName and Roles are only
// set when guild-scoped enrichment succeeded; otherwise they are null and [].
type Identity struct {
	UserID        string  `json:"user_id"`
	Username      string  `json:"username"`
	GlobalName    string  `json:"global_name"`
	Discriminator string  `json:"discriminator"`
	IsBot         bool    `json:"is_bot"`
	DisplayName   *string `json:"display_name"`
	Roles         []Role  `json:"roles"`
}

// Role is a guild role held by a member.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ContextMessage is a prior channel message reduced for the context window.
type ContextMessage struct {
	ID        string        `json:"id"`
	Author    AuthorSummary `json:"author"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	IsReply   bool          `json:"is_reply"`
}

// AuthorSummary is the minimal author record carried in the context window.
type AuthorSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsBot    bool   `json:"is_bot"`
}
