package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"relaybot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

// historyPageMax is the largest page the channel messages endpoint returns.
const historyPageMax = 100

// Discord is the event source: a gateway session that turns message
// notifications into domain.InboundEvent values and answers member and
// history lookups.
type Discord struct {
	token   string
	session *discordgo.Session
	self    domain.SelfIdentity
	logger  *slog.Logger

	mu      sync.Mutex
	removes []func()
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token  string
	Logger *slog.Logger
}

// NewDiscord creates a Discord channel. Nothing connects until Open.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:  cfg.Token,
		logger: cfg.Logger,
	}
}

// Open connects to the gateway and returns the relay's own identity, read
// from the session state after the READY handshake.
func (d *Discord) Open(ctx context.Context) (domain.SelfIdentity, error) {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return domain.SelfIdentity{}, fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	session.AddHandler(func(s *discordgo.Session, r *discordgo.Resumed) {
		d.logger.Info("discord session resumed")
	})
	session.AddHandler(func(s *discordgo.Session, e *discordgo.Disconnect) {
		d.logger.Warn("discord gateway disconnected, reconnecting")
	})

	if err := session.Open(); err != nil {
		return domain.SelfIdentity{}, fmt.Errorf("discord connect: %w", err)
	}
	if session.State == nil || session.State.User == nil {
		session.Close()
		return domain.SelfIdentity{}, errors.New("discord connect: no user in session state")
	}

	d.session = session
	d.self = domain.SelfIdentity{
		ID:       session.State.User.ID,
		Username: session.State.User.Username,
	}
	d.logger.Info("discord bot connected", "user", d.self.Username, "user_id", d.self.ID)
	return d.self, nil
}

// Listen registers fn for every new message. Messages that cannot be
// converted are logged and dropped.
func (d *Discord) Listen(fn func(domain.InboundEvent)) {
	remove := d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		ev, err := FromMessage(m.Message)
		if err != nil {
			d.logger.Warn("discord message dropped", "err", err)
			return
		}
		fn(ev)
	})

	d.mu.Lock()
	d.removes = append(d.removes, remove)
	d.mu.Unlock()
}

// Close stops event delivery and closes the gateway connection.
func (d *Discord) Close() error {
	d.mu.Lock()
	for _, remove := range d.removes {
		remove()
	}
	d.removes = nil
	d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	d.logger.Info("discord bot disconnecting")
	return d.session.Close()
}

// Member returns the guild member profile, from the state cache when
// possible. Role names come from the cache, then a single guild roles fetch.
func (d *Discord) Member(ctx context.Context, guildID, userID string) (*domain.Member, error) {
	if d.session == nil {
		return nil, errors.New("discord session not open")
	}

	member, err := d.session.State.Member(guildID, userID)
	if err != nil {
		member, err = d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("fetch member %s: %w", userID, err)
		}
	}

	names := d.roleResolver(ctx, guildID)
	return memberProfile(member, names), nil
}

// History returns up to limit messages before beforeID, newest first.
func (d *Discord) History(ctx context.Context, channelID, beforeID string, limit int) ([]domain.HistoryMessage, error) {
	if d.session == nil {
		return nil, errors.New("discord session not open")
	}
	if limit > historyPageMax {
		limit = historyPageMax
	}

	msgs, err := d.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", channelID, err)
	}

	out := make([]domain.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, historyMessage(m))
	}
	return out, nil
}

func (d *Discord) roleResolver(ctx context.Context, guildID string) func(string) string {
	var fetched map[string]string
	return func(roleID string) string {
		if role, err := d.session.State.Role(guildID, roleID); err == nil && role != nil {
			return role.Name
		}
		if fetched == nil {
			fetched = map[string]string{}
			roles, err := d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
			if err != nil {
				d.logger.Debug("guild roles fetch failed", "guild_id", guildID, "err", err)
			}
			for _, r := range roles {
				fetched[r.ID] = r.Name
			}
		}
		return fetched[roleID]
	}
}

// FromMessage converts a gateway message into an InboundEvent. Empty guild
// IDs become nil; a reply records the referenced author when the gateway
// included the referenced message.
func FromMessage(m *discordgo.Message) (domain.InboundEvent, error) {
	if m == nil {
		return domain.InboundEvent{}, errors.New("nil message")
	}
	if m.Author == nil {
		return domain.InboundEvent{}, fmt.Errorf("message %s has no author", m.ID)
	}
	if m.ID == "" || m.ChannelID == "" {
		return domain.InboundEvent{}, errors.New("message without id or channel")
	}

	ev := domain.InboundEvent{
		MessageID:           m.ID,
		ChannelID:           m.ChannelID,
		GuildID:             optional(m.GuildID),
		AuthorID:            m.Author.ID,
		AuthorUsername:      m.Author.Username,
		AuthorGlobalName:    m.Author.GlobalName,
		AuthorDiscriminator: m.Author.Discriminator,
		AuthorIsBot:         m.Author.Bot,
		Content:             m.Content,
		CreatedAt:           m.Timestamp,
		Attachments:         make([]domain.Attachment, 0, len(m.Attachments)),
		MentionIDs:          make([]string, 0, len(m.Mentions)),
	}

	if m.MessageReference != nil {
		ev.ReplyToMessageID = optional(m.MessageReference.MessageID)
	}
	if m.ReferencedMessage != nil {
		if ev.ReplyToMessageID == nil {
			ev.ReplyToMessageID = optional(m.ReferencedMessage.ID)
		}
		if m.ReferencedMessage.Author != nil {
			ev.ReplyToAuthorID = optional(m.ReferencedMessage.Author.ID)
		}
	}

	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		ev.Attachments = append(ev.Attachments, domain.Attachment{
			ID:          a.ID,
			Name:        a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	for _, u := range m.Mentions {
		if u != nil {
			ev.MentionIDs = append(ev.MentionIDs, u.ID)
		}
	}
	return ev, nil
}

func memberProfile(m *discordgo.Member, roleName func(string) string) *domain.Member {
	profile := &domain.Member{
		Nick:  m.Nick,
		Roles: make([]domain.Role, 0, len(m.Roles)),
	}
	if m.User != nil {
		profile.GlobalName = m.User.GlobalName
		profile.Username = m.User.Username
	}
	for _, id := range m.Roles {
		profile.Roles = append(profile.Roles, domain.Role{ID: id, Name: roleName(id)})
	}
	return profile
}

func historyMessage(m *discordgo.Message) domain.HistoryMessage {
	h := domain.HistoryMessage{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
		IsReply:   m.MessageReference != nil || m.Type == discordgo.MessageTypeReply,
	}
	if m.Author != nil {
		h.AuthorID = m.Author.ID
		h.AuthorName = m.Author.Username
		h.AuthorIsBot = m.Author.Bot
	}
	return h
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
