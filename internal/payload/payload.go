// Package payload builds the JSON documents delivered to the downstream
// webhook.
package payload

import (
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/trigger"
)

// EventType distinguishes the two payload variants.
type EventType string

const (
	TypeCommand EventType = "command"
	TypeChat    EventType = "chat"
)

// dmSegment replaces the guild ID in keys for direct messages.
const dmSegment = "dm"

// Payload is a fully built outbound document.
type Payload interface {
	Type() EventType
	Meta() *Envelope
}

// Envelope holds the fields shared by both variants.
type Envelope struct {
	EventType        EventType           `json:"event_type"`
	MessageID        string              `json:"message_id"`
	ChannelID        string              `json:"channel_id"`
	GuildID          *string             `json:"guild_id"`
	UserKey          string              `json:"user_key"`
	ConvoKey         string              `json:"convo_key"`
	Identity         domain.Identity     `json:"identity"`
	Timestamp        time.Time           `json:"timestamp"`
	ReplyToMessageID *string             `json:"reply_to_message_id"`
	Attachments      []domain.Attachment `json:"attachments"`
}

func (e *Envelope) Type() EventType { return e.EventType }
func (e *Envelope) Meta() *Envelope { return e }

// CommandPayload is sent for prefixed messages.
type CommandPayload struct {
	Envelope
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// ChatPayload is sent for messages that passed a chat trigger.
type ChatPayload struct {
	Envelope
	Content        string                  `json:"content"`
	CleanedContent string                  `json:"cleaned_content"`
	MentionedBot   bool                    `json:"mentioned_bot"`
	IsDM           bool                    `json:"is_dm"`
	Context        []domain.ContextMessage `json:"context"`
}

// Keys are the conversation identifiers used downstream for memory.
type Keys struct {
	User  string // guild:author, long-term
	Convo string // guild:channel:author, short-term
}

// KeysFor derives the conversation keys. A nil guild maps to "dm".
func KeysFor(guildID *string, channelID, authorID string) Keys {
	scope := dmSegment
	if guildID != nil {
		scope = *guildID
	}
	return Keys{
		User:  scope + ":" + authorID,
		Convo: scope + ":" + channelID + ":" + authorID,
	}
}

// mentionSpace is the whitespace dropped after a leading mention.
const mentionSpace = " \t\n\f\r"

// CleanContent strips a single leading mention of selfID, plus the
// whitespace that follows it. Mentions elsewhere are kept.
func CleanContent(content, selfID string) string {
	if selfID == "" {
		return content
	}
	for _, form := range []string{"<@" + selfID + ">", "<@!" + selfID + ">"} {
		if rest, ok := strings.CutPrefix(content, form); ok {
			return strings.TrimLeft(rest, mentionSpace)
		}
	}
	return content
}

// Build assembles the payload for a Command or Chat classification. The
// identity and context come from the assembler already in their fallback
// form; Build never fetches or substitutes anything itself. It returns nil
// for Ignore.
func Build(res trigger.Result, ident domain.Identity, window []domain.ContextMessage, ev domain.InboundEvent, self domain.SelfIdentity) Payload {
	env := envelope(ident, ev)

	switch res.Kind {
	case trigger.Command:
		env.EventType = TypeCommand
		args := res.Args
		if args == nil {
			args = []string{}
		}
		return &CommandPayload{Envelope: env, Command: res.Command, Args: args}

	case trigger.Chat:
		env.EventType = TypeChat
		if window == nil {
			window = []domain.ContextMessage{}
		}
		return &ChatPayload{
			Envelope:       env,
			Content:        ev.Content,
			CleanedContent: CleanContent(ev.Content, self.ID),
			MentionedBot:   self.ID != "" && ev.Mentions(self.ID),
			IsDM:           ev.IsDM(),
			Context:        window,
		}
	}
	return nil
}

func envelope(ident domain.Identity, ev domain.InboundEvent) Envelope {
	keys := KeysFor(ev.GuildID, ev.ChannelID, ev.AuthorID)

	if ident.Roles == nil {
		ident.Roles = []domain.Role{}
	}
	attachments := ev.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}

	return Envelope{
		MessageID:        ev.MessageID,
		ChannelID:        ev.ChannelID,
		GuildID:          ev.GuildID,
		UserKey:          keys.User,
		ConvoKey:         keys.Convo,
		Identity:         ident,
		Timestamp:        ev.CreatedAt,
		ReplyToMessageID: ev.ReplyToMessageID,
		Attachments:      attachments,
	}
}
