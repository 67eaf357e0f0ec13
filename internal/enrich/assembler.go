// Package enrich gathers the auxiliary data attached to forwarded events:
// the author identity and a bounded window of recent channel messages.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"relaybot/internal/domain"

	"golang.org/x/sync/errgroup"
)

// MaxContextMessages is the hard cap on the context window.
const MaxContextMessages = 20

const defaultLookupTimeout = 5 * time.Second

// Config configures an Assembler.
type Config struct {
	Directory       domain.Directory
	ContextMessages int  // 0 disables the context window
	EnrichMembers   bool // resolve guild member profiles
	LookupTimeout   time.Duration
	Logger          *slog.Logger
}

// Assembler resolves identities and context windows. It never returns an
// error: any lookup failure degrades to the fallback values.
type Assembler struct {
	dir     domain.Directory
	window  int
	members bool
	timeout time.Duration
	logger  *slog.Logger
}

// NewAssembler creates an Assembler. The context bound is clamped to
// [0, MaxContextMessages].
func NewAssembler(cfg Config) *Assembler {
	window := cfg.ContextMessages
	if window < 0 {
		window = 0
	}
	if window > MaxContextMessages {
		window = MaxContextMessages
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assembler{
		dir:     cfg.Directory,
		window:  window,
		members: cfg.EnrichMembers,
		timeout: cfg.LookupTimeout,
		logger:  cfg.Logger,
	}
}

// Assemble resolves the identity and context window of a chat event. The two
// lookups run concurrently. Identity and Context recover their own panics.
func (a *Assembler) Assemble(ctx context.Context, ev domain.InboundEvent) (domain.Identity, []domain.ContextMessage) {
	var (
		ident  domain.Identity
		window []domain.ContextMessage
	)

	var g errgroup.Group
	g.Go(func() error {
		ident = a.Identity(ctx, ev)
		return nil
	})
	g.Go(func() error {
		window = a.Context(ctx, ev)
		return nil
	})
	_ = g.Wait()

	return ident, window
}

// Identity returns the base identity of the author, enriched with the guild
// member profile when enabled and available.
func (a *Assembler) Identity(ctx context.Context, ev domain.InboundEvent) (ident domain.Identity) {
	ident = BaseIdentity(ev)
	defer func() {
		if p := recover(); p != nil {
			a.logger.Debug("member enrichment panicked",
				"user_id", ev.AuthorID,
				"panic", fmt.Sprint(p),
			)
			ident = BaseIdentity(ev)
		}
	}()
	if !a.members || ev.GuildID == nil || a.dir == nil {
		return ident
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	member, err := a.dir.Member(lookupCtx, *ev.GuildID, ev.AuthorID)
	if err != nil || member == nil {
		a.logger.Debug("member enrichment skipped",
			"guild_id", *ev.GuildID,
			"user_id", ev.AuthorID,
			"err", err,
		)
		return ident
	}

	name := displayName(member, ev)
	ident.DisplayName = &name
	if len(member.Roles) > 0 {
		ident.Roles = append([]domain.Role{}, member.Roles...)
	}
	return ident
}

// Context returns up to the configured number of messages that precede the
// event in its channel, oldest first. It returns an empty slice when the
// window is disabled or the fetch fails.
func (a *Assembler) Context(ctx context.Context, ev domain.InboundEvent) (out []domain.ContextMessage) {
	out = []domain.ContextMessage{}
	defer func() {
		if p := recover(); p != nil {
			a.logger.Debug("context fetch panicked",
				"channel_id", ev.ChannelID,
				"panic", fmt.Sprint(p),
			)
			out = []domain.ContextMessage{}
		}
	}()
	if a.window == 0 || a.dir == nil {
		return out
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	history, err := a.dir.History(lookupCtx, ev.ChannelID, ev.MessageID, a.window)
	if err != nil {
		a.logger.Debug("context fetch failed",
			"channel_id", ev.ChannelID,
			"err", err,
		)
		return out
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	if len(history) > a.window {
		history = history[len(history)-a.window:]
	}

	for _, m := range history {
		out = append(out, domain.ContextMessage{
			ID: m.ID,
			Author: domain.AuthorSummary{
				ID:       m.AuthorID,
				Username: m.AuthorName,
				IsBot:    m.AuthorIsBot,
			},
			Content:   m.Content,
			Timestamp: m.CreatedAt,
			IsReply:   m.IsReply,
		})
	}
	return out
}

// BaseIdentity builds the identity from the author record embedded in the
// event. Enrichment fields are null and empty.
func BaseIdentity(ev domain.InboundEvent) domain.Identity {
	return domain.Identity{
		UserID:        ev.AuthorID,
		Username:      ev.AuthorUsername,
		GlobalName:    ev.AuthorGlobalName,
		Discriminator: ev.AuthorDiscriminator,
		IsBot:         ev.AuthorIsBot,
		DisplayName:   nil,
		Roles:         []domain.Role{},
	}
}

// displayName prefers the guild nickname, then the global name, then the
// username.
func displayName(m *domain.Member, ev domain.InboundEvent) string {
	switch {
	case m.Nick != "":
		return m.Nick
	case m.GlobalName != "":
		return m.GlobalName
	case ev.AuthorGlobalName != "":
		return ev.AuthorGlobalName
	case m.Username != "":
		return m.Username
	default:
		return ev.AuthorUsername
	}
}
